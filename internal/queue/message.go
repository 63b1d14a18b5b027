package queue

import (
	"fmt"
	"strings"
)

// JobMessage is the broker payload for notification delivery. It carries only
// the job id; the durable row in Postgres is the source of truth for the
// payload and the retry bookkeeping.
type JobMessage struct {
	JobID         string `json:"jobId"`
	Source        string `json:"source"`
	CorrelationID string `json:"correlationId,omitempty"`
}

func (m JobMessage) Validate() error {
	if strings.TrimSpace(m.JobID) == "" {
		return fmt.Errorf("jobId is required")
	}
	if strings.TrimSpace(m.Source) == "" {
		return fmt.Errorf("source is required")
	}
	return nil
}
