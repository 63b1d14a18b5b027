package service

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/google/uuid"
	"github.com/like-teriyaki37/tg-notifier-monorepo/internal/domain"
	"github.com/like-teriyaki37/tg-notifier-monorepo/internal/mailer"
	"github.com/like-teriyaki37/tg-notifier-monorepo/internal/normalize"
	"github.com/like-teriyaki37/tg-notifier-monorepo/internal/observability"
	"github.com/like-teriyaki37/tg-notifier-monorepo/internal/repository"
	"go.uber.org/zap"
)

// Verification failure reasons, surfaced verbatim as machine-checkable
// strings on the verify endpoint.
var (
	ErrNoPendingRequest = errors.New("no pending request")
	ErrLinkExpired      = errors.New("expired")
	ErrLinkLocked       = errors.New("locked")
	ErrInvalidCode      = errors.New("invalid code")
)

const (
	otpCodeLength = 6
	otpSaltBytes  = 8

	verifyResultSuccess      = "success"
	verifyResultNoPending    = "no_pending"
	verifyResultExpired      = "expired"
	verifyResultLocked       = "locked"
	verifyResultInvalidCode  = "invalid_code"
	verifyResultInvalidInput = "invalid_input"
)

// LinkService owns the email-to-chat linking lifecycle: code issuance over
// mail and code verification against the pending link row. All state lives in
// the repository; concurrent verifies are resolved by its conditional
// transitions, never by in-process locks.
type LinkService struct {
	links        repository.LinkRepository
	mail         mailer.Mailer
	logger       *zap.Logger
	metrics      *observability.Metrics
	devMode      bool
	now          func() time.Time
	generateCode func() (string, error)
	generateSalt func() (string, error)
}

func NewLinkService(
	links repository.LinkRepository,
	mail mailer.Mailer,
	devMode bool,
	logger *zap.Logger,
) (*LinkService, error) {
	if links == nil {
		return nil, fmt.Errorf("link repository is required")
	}
	if mail == nil {
		return nil, fmt.Errorf("mailer is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &LinkService{
		links:        links,
		mail:         mail,
		logger:       logger,
		devMode:      devMode,
		now:          time.Now,
		generateCode: generateOTPCode,
		generateSalt: generateOTPSalt,
	}, nil
}

func (s *LinkService) SetMetrics(metrics *observability.Metrics) {
	if s == nil {
		return
	}
	s.metrics = metrics
}

// RequestLink issues a fresh code for the (email, chat) pair and sends it
// over mail. The raw code never reaches storage or the response body; a new
// request always creates a new row.
func (s *LinkService) RequestLink(ctx context.Context, email string, chatID int64) error {
	if ctx == nil {
		ctx = context.Background()
	}

	if !normalize.IsEmail(email) {
		return fmt.Errorf("%w: invalid email", domain.ErrValidation)
	}
	if chatID <= 0 {
		return fmt.Errorf("%w: chat id is required", domain.ErrValidation)
	}

	code, err := s.generateCode()
	if err != nil {
		return fmt.Errorf("failed to generate code: %w", err)
	}
	salt, err := s.generateSalt()
	if err != nil {
		return fmt.Errorf("failed to generate salt: %w", err)
	}

	now := s.now().UTC()
	link := &domain.PendingLink{
		ID:          uuid.NewString(),
		Email:       domain.NormalizeEmail(email),
		ChatID:      chatID,
		OTPHash:     hashOTPCode(code, salt),
		Salt:        salt,
		ExpiresAt:   now.Add(domain.DefaultLinkTTL),
		Attempts:    0,
		MaxAttempts: domain.DefaultLinkMaxAttempts,
		State:       domain.LinkStatePending,
	}
	if err := link.Validate(); err != nil {
		return err
	}

	if err := s.links.CreatePendingLink(ctx, link); err != nil {
		return fmt.Errorf("failed to persist pending link: %w", err)
	}

	if s.devMode {
		s.logger.Debug("issued verification code",
			zap.String("email", link.Email),
			zap.Int64("chatId", chatID),
			zap.String("code", code),
		)
	}

	body := fmt.Sprintf("Your verification code is %s. It expires in %d minutes.",
		code, int(domain.DefaultLinkTTL.Minutes()))
	if err := s.mail.SendEmail(link.Email, "Your verification code", body); err != nil {
		return fmt.Errorf("failed to send verification mail: %w", err)
	}

	if s.metrics != nil {
		s.metrics.IncOTPIssued()
	}

	return nil
}

// VerifyLink checks a submitted code against the active pending link and, on
// match, commits the verified identity. Attempts are counted only for codes
// that were actually examined: malformed input fails before any row is
// touched, and a failed commit leaves the row PENDING with attempts
// unchanged so the same code may be retried.
func (s *LinkService) VerifyLink(ctx context.Context, email string, chatID int64, code string) error {
	if ctx == nil {
		ctx = context.Background()
	}

	if !normalize.IsEmail(email) || chatID <= 0 || !isOTPCodeShape(code) {
		s.countVerify(verifyResultInvalidInput)
		return fmt.Errorf("%w: invalid input", domain.ErrValidation)
	}

	link, err := s.links.GetLatestLink(ctx, email, chatID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			s.countVerify(verifyResultNoPending)
			return ErrNoPendingRequest
		}
		return fmt.Errorf("failed to load pending link: %w", err)
	}

	// A locked row stays locked for every further attempt, correct code or
	// not. Other terminal states need a fresh link request.
	switch link.State {
	case domain.LinkStateLocked:
		s.countVerify(verifyResultLocked)
		return ErrLinkLocked
	case domain.LinkStateExpired, domain.LinkStateUsed:
		s.countVerify(verifyResultNoPending)
		return ErrNoPendingRequest
	}

	if link.Expired(s.now()) {
		if err := s.transition(ctx, link.ID, domain.LinkStateExpired, 0); err != nil {
			return err
		}
		s.countVerify(verifyResultExpired)
		return ErrLinkExpired
	}

	if link.Exhausted() {
		if err := s.transition(ctx, link.ID, domain.LinkStateLocked, 0); err != nil {
			return err
		}
		s.countVerify(verifyResultLocked)
		return ErrLinkLocked
	}

	if hashOTPCode(code, link.Salt) != link.OTPHash {
		nextState := domain.LinkStatePending
		if link.Attempts+1 >= link.MaxAttempts {
			nextState = domain.LinkStateLocked
		}
		if err := s.transition(ctx, link.ID, nextState, 1); err != nil {
			return err
		}
		s.countVerify(verifyResultInvalidCode)
		return ErrInvalidCode
	}

	if err := s.links.CommitVerification(ctx, link.ID, email, chatID); err != nil {
		return fmt.Errorf("failed to commit verification: %w", err)
	}

	s.countVerify(verifyResultSuccess)
	return nil
}

// transition applies a conditional PENDING→state move. A conflict means a
// concurrent verify already moved the row, which is not an error for the
// caller's verdict.
func (s *LinkService) transition(ctx context.Context, id string, to domain.LinkState, attemptsDelta int) error {
	err := s.links.TransitionState(ctx, id, domain.LinkStatePending, to, attemptsDelta)
	if err != nil && !errors.Is(err, domain.ErrConflict) {
		return fmt.Errorf("failed to transition pending link: %w", err)
	}
	return nil
}

func (s *LinkService) countVerify(result string) {
	if s.metrics != nil {
		s.metrics.IncOTPVerify(result)
	}
}

func isOTPCodeShape(code string) bool {
	if len(code) != otpCodeLength {
		return false
	}
	for _, r := range code {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

func hashOTPCode(code, salt string) string {
	sum := sha256.Sum256([]byte(code + salt))
	return hex.EncodeToString(sum[:])
}

func generateOTPCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1000000))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%06d", n.Int64()), nil
}

func generateOTPSalt() (string, error) {
	buf := make([]byte, otpSaltBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
