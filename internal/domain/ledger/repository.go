package ledger

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/refnet/backend/internal/domain/shared"
)

// DistributionRecordRepository is the append-only ledger contract.
// There is deliberately no update or delete operation.
type DistributionRecordRepository interface {
	// Append persists a batch of records. All succeed or none do when
	// called inside a transaction scope.
	Append(ctx context.Context, records []*DistributionRecord) error

	// FindByAward returns every record produced by one award.
	FindByAward(ctx context.Context, awardID uuid.UUID) ([]*DistributionRecord, error)

	// FindByTarget returns records crediting a user, newest first.
	FindByTarget(ctx context.Context, targetUserID uuid.UUID, filter shared.Filter) (*shared.Paginated[*DistributionRecord], error)

	// FindBySource returns records triggered by awards to a user, newest first.
	FindBySource(ctx context.Context, sourceUserID uuid.UUID, filter shared.Filter) (*shared.Paginated[*DistributionRecord], error)

	// FindAll returns the full ledger, newest first.
	FindAll(ctx context.Context, filter shared.Filter) (*shared.Paginated[*DistributionRecord], error)

	// SumPointsByTarget totals all points ever credited to a user.
	SumPointsByTarget(ctx context.Context, targetUserID uuid.UUID) (int64, error)

	// CountDistinctSourcesByTarget counts members whose awards ever
	// produced a record crediting the target user.
	CountDistinctSourcesByTarget(ctx context.Context, targetUserID uuid.UUID) (int64, error)

	// FindSince returns records written at or after the cutoff, newest first.
	FindSince(ctx context.Context, cutoff time.Time, filter shared.Filter) (*shared.Paginated[*DistributionRecord], error)

	// CountAll returns the total number of ledger records.
	CountAll(ctx context.Context) (int64, error)

	// SumPointsAll totals every point ever moved through the ledger.
	SumPointsAll(ctx context.Context) (int64, error)

	// CountByLevel counts records per distribution level.
	CountByLevel(ctx context.Context) (map[int]int64, error)
}

// AwardRepository persists idempotency anchors.
type AwardRepository interface {
	// Create inserts the anchor row. A unique-constraint violation on
	// the award identifier is reported as shared.ErrDuplicateAward.
	Create(ctx context.Context, award *PointAward) error

	// FindByAwardID returns the anchor, or shared.ErrNotFound.
	FindByAwardID(ctx context.Context, awardID uuid.UUID) (*PointAward, error)

	// Exists reports whether the award was already applied.
	Exists(ctx context.Context, awardID uuid.UUID) (bool, error)
}
