package persistence

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/refnet/backend/internal/domain/referral"
	"github.com/refnet/backend/internal/domain/shared"
	"gorm.io/gorm"
)

// GormUserRepository implements UserRepository using GORM
type GormUserRepository struct {
	db *gorm.DB
}

// NewGormUserRepository creates a new GormUserRepository
func NewGormUserRepository(db *gorm.DB) *GormUserRepository {
	return &GormUserRepository{db: db}
}

// FindByID finds a user by ID
func (r *GormUserRepository) FindByID(ctx context.Context, id uuid.UUID) (*referral.User, error) {
	var user referral.User
	if err := r.db.WithContext(ctx).First(&user, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}
	return &user, nil
}

// FindByEmail finds a user by email
func (r *GormUserRepository) FindByEmail(ctx context.Context, email string) (*referral.User, error) {
	var user referral.User
	if err := r.db.WithContext(ctx).
		Where("email = ?", strings.ToLower(strings.TrimSpace(email))).
		First(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}
	return &user, nil
}

// FindByReferralCode finds a user by referral code
func (r *GormUserRepository) FindByReferralCode(ctx context.Context, code string) (*referral.User, error) {
	var user referral.User
	if err := r.db.WithContext(ctx).
		Where("referral_code = ?", strings.ToUpper(strings.TrimSpace(code))).
		First(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}
	return &user, nil
}

// FindAll finds all users matching the filter
func (r *GormUserRepository) FindAll(ctx context.Context, filter shared.Filter) ([]referral.User, error) {
	var users []referral.User
	query := r.applyFilter(r.db.WithContext(ctx).Model(&referral.User{}), filter)

	sortField := ValidateSortField(filter.OrderBy, UserSortFields, "created_at")
	sortOrder := ValidateSortOrder(filter.OrderDir)
	query = query.Order(fmt.Sprintf("%s %s", sortField, sortOrder))

	if filter.PageSize > 0 {
		offset := (filter.Page - 1) * filter.PageSize
		query = query.Offset(offset).Limit(filter.PageSize)
	}

	if err := query.Find(&users).Error; err != nil {
		return nil, err
	}
	return users, nil
}

// Count counts users matching the filter
func (r *GormUserRepository) Count(ctx context.Context, filter shared.Filter) (int64, error) {
	var count int64
	query := r.applyFilter(r.db.WithContext(ctx).Model(&referral.User{}), filter)
	if err := query.Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}

// FindDirectDownline returns the users directly referred by the given user
func (r *GormUserRepository) FindDirectDownline(ctx context.Context, userID uuid.UUID) ([]referral.User, error) {
	var users []referral.User
	if err := r.db.WithContext(ctx).
		Where("referrer_id = ?", userID).
		Order("created_at DESC").
		Find(&users).Error; err != nil {
		return nil, err
	}
	return users, nil
}

// CountDownlineWithMinRank counts direct downline members at or above a rank
func (r *GormUserRepository) CountDownlineWithMinRank(ctx context.Context, userID uuid.UUID, minRank referral.Rank) (int64, error) {
	var count int64
	if err := r.db.WithContext(ctx).
		Model(&referral.User{}).
		Where("referrer_id = ? AND rank >= ?", userID, int(minRank)).
		Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}

// Save creates or updates a user
func (r *GormUserRepository) Save(ctx context.Context, user *referral.User) error {
	return r.db.WithContext(ctx).Save(user).Error
}

// SaveWithLock saves with optimistic locking (checks version)
func (r *GormUserRepository) SaveWithLock(ctx context.Context, user *referral.User) error {
	result := r.db.WithContext(ctx).
		Model(user).
		Where("id = ? AND version = ?", user.ID, user.Version-1).
		Updates(map[string]interface{}{
			"points_balance": user.PointsBalance,
			"rank":           int(user.Rank),
			"referrer_id":    user.ReferrerID,
			"is_admin":       user.IsAdmin,
			"version":        user.Version,
			"updated_at":     user.UpdatedAt,
		})

	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return shared.ErrConcurrencyConflict
	}
	return nil
}

// applyFilter applies search and rank filtering to a query
func (r *GormUserRepository) applyFilter(query *gorm.DB, filter shared.Filter) *gorm.DB {
	if filter.Search != "" {
		pattern := "%" + strings.TrimSpace(filter.Search) + "%"
		query = query.Where("name LIKE ? OR email LIKE ?", pattern, pattern)
	}
	if rank, ok := filter.Filters["rank"]; ok {
		query = query.Where("rank = ?", rank)
	}
	if minRank, ok := filter.Filters["min_rank"]; ok {
		query = query.Where("rank >= ?", minRank)
	}
	return query
}

// Ensure GormUserRepository implements UserRepository
var _ referral.UserRepository = (*GormUserRepository)(nil)
