package persistence

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/refnet/backend/internal/domain/ledger"
	"github.com/refnet/backend/internal/domain/shared"
	"gorm.io/gorm"
)

// pqUniqueViolation is the PostgreSQL error code for unique constraint violations
const pqUniqueViolation = "23505"

// GormAwardRepository implements AwardRepository using GORM. The unique
// index on award_id is the authoritative duplicate-award guard.
type GormAwardRepository struct {
	db *gorm.DB
}

// NewGormAwardRepository creates a new GormAwardRepository
func NewGormAwardRepository(db *gorm.DB) *GormAwardRepository {
	return &GormAwardRepository{db: db}
}

// Create inserts the anchor row for an applied award
func (r *GormAwardRepository) Create(ctx context.Context, award *ledger.PointAward) error {
	if err := r.db.WithContext(ctx).Create(award).Error; err != nil {
		if isUniqueViolation(err) {
			return shared.ErrDuplicateAward
		}
		return err
	}
	return nil
}

// FindByAwardID returns the anchor for an award identifier
func (r *GormAwardRepository) FindByAwardID(ctx context.Context, awardID uuid.UUID) (*ledger.PointAward, error) {
	var award ledger.PointAward
	if err := r.db.WithContext(ctx).
		Where("award_id = ?", awardID).
		First(&award).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}
	return &award, nil
}

// Exists reports whether the award was already applied
func (r *GormAwardRepository) Exists(ctx context.Context, awardID uuid.UUID) (bool, error) {
	var count int64
	if err := r.db.WithContext(ctx).
		Model(&ledger.PointAward{}).
		Where("award_id = ?", awardID).
		Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

// isUniqueViolation reports whether the error is a unique constraint
// violation from the driver or from GORM's error translation
func isUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == pqUniqueViolation
	}
	return false
}

// Ensure GormAwardRepository implements AwardRepository
var _ ledger.AwardRepository = (*GormAwardRepository)(nil)
