package repository

import (
	"context"
	"errors"

	"github.com/like-teriyaki37/tg-notifier-monorepo/internal/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// LinkRepository owns PendingLink and LinkedIdentity rows. The conditional
// state transition is the sole concurrency guard: callers never take
// application-level locks around these operations.
type LinkRepository interface {
	CreatePendingLink(ctx context.Context, p *domain.PendingLink) error
	GetLatestLink(ctx context.Context, email string, chatID int64) (*domain.PendingLink, error)
	TransitionState(ctx context.Context, id string, from, to domain.LinkState, attemptsDelta int) error
	CommitVerification(ctx context.Context, pendingID string, email string, chatID int64) error
	GetVerifiedIdentity(ctx context.Context, email string) (*domain.LinkedIdentity, error)
}

type GormLinkRepo struct {
	db *gorm.DB
}

func NewGormLinkRepo(db *gorm.DB) *GormLinkRepo {
	return &GormLinkRepo{db: db}
}

func (r *GormLinkRepo) CreatePendingLink(ctx context.Context, p *domain.PendingLink) error {
	model := pendingLinkModelFromDomain(p)
	if model != nil {
		model.Email = domain.NormalizeEmail(model.Email)
	}
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		return err
	}
	if p != nil {
		*p = *pendingLinkModelToDomain(model)
	}
	return nil
}

// GetLatestLink returns the most recent link row for the pair in any state.
// Callers inspect the state themselves: a LOCKED row must stay visible so a
// verify attempt against it answers "locked" rather than "no pending
// request". Older rows for the same pair are inert history.
func (r *GormLinkRepo) GetLatestLink(ctx context.Context, email string, chatID int64) (*domain.PendingLink, error) {
	var model PendingLinkModel
	err := r.db.WithContext(ctx).
		Where("email = ? AND chat_id = ?", domain.NormalizeEmail(email), chatID).
		Order("created_at DESC").
		First(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return pendingLinkModelToDomain(&model), nil
}

// TransitionState conditionally moves a row from one state to another,
// optionally adjusting the attempt counter in the same statement. Returns
// ErrConflict when the row is no longer in the expected state, which is how
// two concurrent verification attempts racing on the same code resolve.
func (r *GormLinkRepo) TransitionState(ctx context.Context, id string, from, to domain.LinkState, attemptsDelta int) error {
	updates := map[string]any{"state": to}
	if attemptsDelta != 0 {
		updates["attempts"] = gorm.Expr("attempts + ?", attemptsDelta)
	}

	result := r.db.WithContext(ctx).
		Model(&PendingLinkModel{}).
		Where("id = ? AND state = ?", id, from).
		Updates(updates)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrConflict
	}
	return nil
}

// CommitVerification upserts the verified identity and marks the pending
// link USED in a single transaction: either both effects land or neither
// does. A pending row that already left PENDING aborts the whole commit.
func (r *GormLinkRepo) CommitVerification(ctx context.Context, pendingID string, email string, chatID int64) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		identity := LinkedIdentityModel{
			Email:    domain.NormalizeEmail(email),
			ChatID:   chatID,
			Verified: true,
		}

		if err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "email"}},
			DoUpdates: clause.AssignmentColumns([]string{"chat_id", "verified", "updated_at"}),
		}).Create(&identity).Error; err != nil {
			return err
		}

		result := tx.
			Model(&PendingLinkModel{}).
			Where("id = ? AND state = ?", pendingID, domain.LinkStatePending).
			Update("state", domain.LinkStateUsed)
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return domain.ErrConflict
		}

		return nil
	})
}

func (r *GormLinkRepo) GetVerifiedIdentity(ctx context.Context, email string) (*domain.LinkedIdentity, error) {
	var model LinkedIdentityModel
	err := r.db.WithContext(ctx).
		Where("email = ? AND verified = ?", domain.NormalizeEmail(email), true).
		First(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return identityModelToDomain(&model), nil
}
