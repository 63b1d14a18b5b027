package domain

import (
	"fmt"
	"strings"
	"time"
)

// LinkState represents the lifecycle state of a pending link request.
// EXPIRED, LOCKED, and USED are terminal: a new link request always creates a
// fresh row, it never resurrects an old one.
type LinkState string

const (
	LinkStatePending LinkState = "PENDING"
	LinkStateExpired LinkState = "EXPIRED"
	LinkStateLocked  LinkState = "LOCKED"
	LinkStateUsed    LinkState = "USED"
)

func (s LinkState) String() string { return string(s) }

func (s LinkState) IsValid() bool {
	switch s {
	case LinkStatePending, LinkStateExpired, LinkStateLocked, LinkStateUsed:
		return true
	}
	return false
}

func (s LinkState) IsTerminal() bool {
	return s.IsValid() && s != LinkStatePending
}

const (
	// DefaultLinkTTL bounds how long an issued code stays verifiable.
	DefaultLinkTTL = 10 * time.Minute
	// DefaultLinkMaxAttempts bounds examined code mismatches before lockout.
	DefaultLinkMaxAttempts = 5
)

// PendingLink is one OTP issuance for an (email, chat) pair. Rows are never
// deleted, only state-transitioned; the newest PENDING row is authoritative
// and older rows are inert history.
type PendingLink struct {
	ID          string
	Email       string
	ChatID      int64
	OTPHash     string
	Salt        string
	ExpiresAt   time.Time
	Attempts    int
	MaxAttempts int
	State       LinkState
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

func (p *PendingLink) Validate() error {
	if strings.TrimSpace(p.Email) == "" {
		return fmt.Errorf("%w: email is required", ErrValidation)
	}
	if p.ChatID <= 0 {
		return fmt.Errorf("%w: chat id is required", ErrValidation)
	}
	if strings.TrimSpace(p.OTPHash) == "" || strings.TrimSpace(p.Salt) == "" {
		return fmt.Errorf("%w: otp hash and salt are required", ErrValidation)
	}
	if !p.State.IsValid() {
		return fmt.Errorf("%w: invalid link state %q", ErrValidation, p.State)
	}
	return nil
}

// Expired reports whether the code window has closed at the given instant.
func (p *PendingLink) Expired(now time.Time) bool {
	return now.After(p.ExpiresAt)
}

// Exhausted reports whether the attempt budget is already spent.
func (p *PendingLink) Exhausted() bool {
	max := p.MaxAttempts
	if max <= 0 {
		max = DefaultLinkMaxAttempts
	}
	return p.Attempts >= max
}

// LinkedIdentity maps a verified email to its delivery chat. At most one row
// per email; written only by the verification transaction.
type LinkedIdentity struct {
	Email     string
	ChatID    int64
	Verified  bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// NormalizeEmail case-folds an email for storage and lookups.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
