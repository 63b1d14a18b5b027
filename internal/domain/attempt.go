package domain

import "time"

// DeliveryAttempt records a single channel send attempt for a job.
type DeliveryAttempt struct {
	ID            string
	JobID         string
	AttemptNumber int
	StatusCode    *int
	ResponseBody  *string
	Error         *string
	CreatedAt     time.Time
}
