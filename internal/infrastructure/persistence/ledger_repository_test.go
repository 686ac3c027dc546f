package persistence

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/refnet/backend/internal/domain/ledger"
	"github.com/refnet/backend/internal/domain/shared"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

// setupLedgerTestDB creates an in-memory SQLite database for testing
func setupLedgerTestDB(t *testing.T) *gorm.DB {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{TranslateError: true})
	require.NoError(t, err)

	err = db.Exec(`
		CREATE TABLE distribution_records (
			id TEXT PRIMARY KEY,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL,
			award_id TEXT NOT NULL,
			source_user_id TEXT NOT NULL,
			target_user_id TEXT NOT NULL,
			points INTEGER NOT NULL,
			level INTEGER NOT NULL,
			percentage INTEGER NOT NULL,
			distributed_by_id TEXT NOT NULL,
			timestamp DATETIME NOT NULL
		)
	`).Error
	require.NoError(t, err)

	err = db.Exec(`
		CREATE TABLE point_awards (
			id TEXT PRIMARY KEY,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL,
			award_id TEXT NOT NULL UNIQUE,
			source_user_id TEXT NOT NULL,
			total_points INTEGER NOT NULL,
			distributed_by_id TEXT NOT NULL,
			applied_at DATETIME NOT NULL,
			record_count INTEGER NOT NULL,
			distributed_sum INTEGER NOT NULL
		)
	`).Error
	require.NoError(t, err)

	return db
}

func mustRecord(t *testing.T, awardID, source, target, admin uuid.UUID, points int64, level, pct int) *ledger.DistributionRecord {
	t.Helper()
	rec, err := ledger.NewDistributionRecord(awardID, source, target, admin, points, level, pct)
	require.NoError(t, err)
	return rec
}

func TestGormDistributionRecordRepository(t *testing.T) {
	db := setupLedgerTestDB(t)
	repo := NewGormDistributionRecordRepository(db)
	ctx := context.Background()

	admin := uuid.New()
	source := uuid.New()
	parent := uuid.New()
	grandparent := uuid.New()
	awardA := uuid.New()
	awardB := uuid.New()

	batchA := []*ledger.DistributionRecord{
		mustRecord(t, awardA, source, source, admin, 100, 0, 100),
		mustRecord(t, awardA, source, parent, admin, 10, 1, 10),
		mustRecord(t, awardA, source, grandparent, admin, 5, 2, 5),
	}
	require.NoError(t, repo.Append(ctx, batchA))

	batchB := []*ledger.DistributionRecord{
		mustRecord(t, awardB, source, source, admin, 40, 0, 100),
		mustRecord(t, awardB, source, parent, admin, 4, 1, 10),
	}
	require.NoError(t, repo.Append(ctx, batchB))

	t.Run("appending nothing is a no-op", func(t *testing.T) {
		assert.NoError(t, repo.Append(ctx, nil))
	})

	t.Run("finds records by award ordered by level", func(t *testing.T) {
		records, err := repo.FindByAward(ctx, awardA)
		require.NoError(t, err)
		require.Len(t, records, 3)
		assert.Equal(t, 0, records[0].Level)
		assert.Equal(t, 1, records[1].Level)
		assert.Equal(t, 2, records[2].Level)
	})

	t.Run("finds records by target", func(t *testing.T) {
		page, err := repo.FindByTarget(ctx, parent, shared.DefaultFilter())
		require.NoError(t, err)
		assert.Equal(t, int64(2), page.Total)
		assert.Len(t, page.Items, 2)
	})

	t.Run("finds records by source", func(t *testing.T) {
		page, err := repo.FindBySource(ctx, source, shared.DefaultFilter())
		require.NoError(t, err)
		assert.Equal(t, int64(5), page.Total)
	})

	t.Run("paginates the full ledger", func(t *testing.T) {
		filter := shared.DefaultFilter()
		filter.PageSize = 2
		page, err := repo.FindAll(ctx, filter)
		require.NoError(t, err)
		assert.Equal(t, int64(5), page.Total)
		assert.Len(t, page.Items, 2)
		assert.Equal(t, 3, page.TotalPages)
	})

	t.Run("filters the ledger by level", func(t *testing.T) {
		filter := shared.DefaultFilter()
		filter.Filters["level"] = 1
		page, err := repo.FindAll(ctx, filter)
		require.NoError(t, err)
		assert.Equal(t, int64(2), page.Total)
		for _, rec := range page.Items {
			assert.Equal(t, 1, rec.Level)
		}
	})

	t.Run("filters the ledger by target user", func(t *testing.T) {
		filter := shared.DefaultFilter()
		filter.Filters["target_user_id"] = grandparent.String()
		page, err := repo.FindAll(ctx, filter)
		require.NoError(t, err)
		assert.Equal(t, int64(1), page.Total)
	})

	t.Run("sums points by target", func(t *testing.T) {
		sum, err := repo.SumPointsByTarget(ctx, parent)
		require.NoError(t, err)
		assert.Equal(t, int64(14), sum)
	})

	t.Run("sum is zero for user with no records", func(t *testing.T) {
		sum, err := repo.SumPointsByTarget(ctx, uuid.New())
		require.NoError(t, err)
		assert.Zero(t, sum)
	})

	t.Run("counts distinct members whose awards credited a user", func(t *testing.T) {
		count, err := repo.CountDistinctSourcesByTarget(ctx, parent)
		require.NoError(t, err)
		assert.Equal(t, int64(1), count)
	})

	t.Run("no benefitting members without records", func(t *testing.T) {
		count, err := repo.CountDistinctSourcesByTarget(ctx, uuid.New())
		require.NoError(t, err)
		assert.Zero(t, count)
	})

	t.Run("finds records since a cutoff", func(t *testing.T) {
		page, err := repo.FindSince(ctx, time.Now().Add(-time.Hour), shared.DefaultFilter())
		require.NoError(t, err)
		assert.Equal(t, int64(5), page.Total)

		page, err = repo.FindSince(ctx, time.Now().Add(time.Hour), shared.DefaultFilter())
		require.NoError(t, err)
		assert.Zero(t, page.Total)
	})

	t.Run("counts and sums the whole ledger", func(t *testing.T) {
		count, err := repo.CountAll(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(5), count)

		sum, err := repo.SumPointsAll(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(159), sum)
	})

	t.Run("counts records per level", func(t *testing.T) {
		byLevel, err := repo.CountByLevel(ctx)
		require.NoError(t, err)
		assert.Equal(t, map[int]int64{0: 2, 1: 2, 2: 1}, byLevel)
	})
}

func TestGormAwardRepository(t *testing.T) {
	db := setupLedgerTestDB(t)
	repo := NewGormAwardRepository(db)
	ctx := context.Background()

	awardID := uuid.New()
	source := uuid.New()
	admin := uuid.New()

	award, err := ledger.NewPointAward(awardID, source, admin, 100, 3, 115)
	require.NoError(t, err)

	t.Run("creates the anchor row", func(t *testing.T) {
		require.NoError(t, repo.Create(ctx, award))
	})

	t.Run("rejects a duplicate award ID", func(t *testing.T) {
		dup, err := ledger.NewPointAward(awardID, source, admin, 100, 3, 115)
		require.NoError(t, err)
		err = repo.Create(ctx, dup)
		assert.ErrorIs(t, err, shared.ErrDuplicateAward)
	})

	t.Run("finds the anchor by award ID", func(t *testing.T) {
		found, err := repo.FindByAwardID(ctx, awardID)
		require.NoError(t, err)
		assert.Equal(t, awardID, found.AwardID)
		assert.Equal(t, int64(100), found.TotalPoints)
		assert.Equal(t, 3, found.RecordCount)
	})

	t.Run("missing anchor yields ErrNotFound", func(t *testing.T) {
		_, err := repo.FindByAwardID(ctx, uuid.New())
		assert.ErrorIs(t, err, shared.ErrNotFound)
	})

	t.Run("reports existence", func(t *testing.T) {
		exists, err := repo.Exists(ctx, awardID)
		require.NoError(t, err)
		assert.True(t, exists)

		exists, err = repo.Exists(ctx, uuid.New())
		require.NoError(t, err)
		assert.False(t, exists)
	})
}
