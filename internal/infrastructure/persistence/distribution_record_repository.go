package persistence

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/refnet/backend/internal/domain/ledger"
	"github.com/refnet/backend/internal/domain/shared"
	"gorm.io/gorm"
)

// GormDistributionRecordRepository implements DistributionRecordRepository
// using GORM. Records are append-only; no update or delete is exposed.
type GormDistributionRecordRepository struct {
	db *gorm.DB
}

// NewGormDistributionRecordRepository creates a new GormDistributionRecordRepository
func NewGormDistributionRecordRepository(db *gorm.DB) *GormDistributionRecordRepository {
	return &GormDistributionRecordRepository{db: db}
}

// Append persists a batch of records
func (r *GormDistributionRecordRepository) Append(ctx context.Context, records []*ledger.DistributionRecord) error {
	if len(records) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).Create(records).Error
}

// FindByAward returns every record produced by one award
func (r *GormDistributionRecordRepository) FindByAward(ctx context.Context, awardID uuid.UUID) ([]*ledger.DistributionRecord, error) {
	var records []*ledger.DistributionRecord
	if err := r.db.WithContext(ctx).
		Where("award_id = ?", awardID).
		Order("level ASC").
		Find(&records).Error; err != nil {
		return nil, err
	}
	return records, nil
}

// FindByTarget returns records crediting a user, newest first
func (r *GormDistributionRecordRepository) FindByTarget(ctx context.Context, targetUserID uuid.UUID, filter shared.Filter) (*shared.Paginated[*ledger.DistributionRecord], error) {
	query := r.db.WithContext(ctx).
		Model(&ledger.DistributionRecord{}).
		Where("target_user_id = ?", targetUserID)
	return r.paginate(query, filter)
}

// FindBySource returns records triggered by awards to a user, newest first
func (r *GormDistributionRecordRepository) FindBySource(ctx context.Context, sourceUserID uuid.UUID, filter shared.Filter) (*shared.Paginated[*ledger.DistributionRecord], error) {
	query := r.db.WithContext(ctx).
		Model(&ledger.DistributionRecord{}).
		Where("source_user_id = ?", sourceUserID)
	return r.paginate(query, filter)
}

// FindAll returns the full ledger, newest first. Filters narrow by
// distribution level, source or target user.
func (r *GormDistributionRecordRepository) FindAll(ctx context.Context, filter shared.Filter) (*shared.Paginated[*ledger.DistributionRecord], error) {
	query := r.db.WithContext(ctx).Model(&ledger.DistributionRecord{})
	if level, ok := filter.Filters["level"]; ok {
		query = query.Where("level = ?", level)
	}
	if source, ok := filter.Filters["source_user_id"]; ok {
		query = query.Where("source_user_id = ?", source)
	}
	if target, ok := filter.Filters["target_user_id"]; ok {
		query = query.Where("target_user_id = ?", target)
	}
	return r.paginate(query, filter)
}

// FindSince returns records written at or after the cutoff, newest first
func (r *GormDistributionRecordRepository) FindSince(ctx context.Context, cutoff time.Time, filter shared.Filter) (*shared.Paginated[*ledger.DistributionRecord], error) {
	query := r.db.WithContext(ctx).
		Model(&ledger.DistributionRecord{}).
		Where("timestamp >= ?", cutoff)
	return r.paginate(query, filter)
}

// SumPointsByTarget totals all points ever credited to a user
func (r *GormDistributionRecordRepository) SumPointsByTarget(ctx context.Context, targetUserID uuid.UUID) (int64, error) {
	var sum int64
	if err := r.db.WithContext(ctx).
		Model(&ledger.DistributionRecord{}).
		Where("target_user_id = ?", targetUserID).
		Select("COALESCE(SUM(points), 0)").
		Scan(&sum).Error; err != nil {
		return 0, err
	}
	return sum, nil
}

// CountDistinctSourcesByTarget counts distinct members whose awards
// produced records crediting the target user
func (r *GormDistributionRecordRepository) CountDistinctSourcesByTarget(ctx context.Context, targetUserID uuid.UUID) (int64, error) {
	var count int64
	if err := r.db.WithContext(ctx).
		Model(&ledger.DistributionRecord{}).
		Where("target_user_id = ?", targetUserID).
		Distinct("source_user_id").
		Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}

// CountAll returns the total number of ledger records
func (r *GormDistributionRecordRepository) CountAll(ctx context.Context) (int64, error) {
	var count int64
	if err := r.db.WithContext(ctx).
		Model(&ledger.DistributionRecord{}).
		Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}

// SumPointsAll totals every point ever moved through the ledger
func (r *GormDistributionRecordRepository) SumPointsAll(ctx context.Context) (int64, error) {
	var sum int64
	if err := r.db.WithContext(ctx).
		Model(&ledger.DistributionRecord{}).
		Select("COALESCE(SUM(points), 0)").
		Scan(&sum).Error; err != nil {
		return 0, err
	}
	return sum, nil
}

// CountByLevel counts records per distribution level
func (r *GormDistributionRecordRepository) CountByLevel(ctx context.Context) (map[int]int64, error) {
	var rows []struct {
		Level int
		Count int64
	}
	if err := r.db.WithContext(ctx).
		Model(&ledger.DistributionRecord{}).
		Select("level, COUNT(*) AS count").
		Group("level").
		Scan(&rows).Error; err != nil {
		return nil, err
	}

	counts := make(map[int]int64, len(rows))
	for _, row := range rows {
		counts[row.Level] = row.Count
	}
	return counts, nil
}

// paginate runs the count and the page query against the same conditions
func (r *GormDistributionRecordRepository) paginate(query *gorm.DB, filter shared.Filter) (*shared.Paginated[*ledger.DistributionRecord], error) {
	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, err
	}

	sortField := ValidateSortField(filter.OrderBy, DistributionRecordSortFields, "timestamp")
	sortOrder := ValidateSortOrder(filter.OrderDir)
	query = query.Order(fmt.Sprintf("%s %s", sortField, sortOrder))

	page := filter.Page
	if page < 1 {
		page = 1
	}
	pageSize := filter.PageSize
	if pageSize < 1 {
		pageSize = 20
	}

	var records []*ledger.DistributionRecord
	if err := query.
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&records).Error; err != nil {
		return nil, err
	}

	result := shared.NewPaginated(records, total, page, pageSize)
	return &result, nil
}

// Ensure GormDistributionRecordRepository implements DistributionRecordRepository
var _ ledger.DistributionRecordRepository = (*GormDistributionRecordRepository)(nil)
