package distribution

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/refnet/backend/internal/domain/ledger"
	"github.com/refnet/backend/internal/domain/referral"
	"github.com/refnet/backend/internal/domain/shared"
)

// =============================================================================
// In-memory test harness: a transaction scope with snapshot rollback and a
// user store that enforces optimistic locking, so atomicity and retry
// behavior can be exercised without a database.
// =============================================================================

type memState struct {
	mu       sync.Mutex
	users    map[uuid.UUID]referral.User
	records  []*ledger.DistributionRecord
	awards   map[uuid.UUID]*ledger.PointAward
	conflict int // pending SaveWithLock failures to inject
}

func newMemState(users ...*referral.User) *memState {
	s := &memState{
		users:  make(map[uuid.UUID]referral.User),
		awards: make(map[uuid.UUID]*ledger.PointAward),
	}
	for _, u := range users {
		s.users[u.ID] = *u
	}
	return s
}

func (s *memState) snapshot() *memState {
	users := make(map[uuid.UUID]referral.User, len(s.users))
	for k, v := range s.users {
		users[k] = v
	}
	awards := make(map[uuid.UUID]*ledger.PointAward, len(s.awards))
	for k, v := range s.awards {
		awards[k] = v
	}
	return &memState{
		users:   users,
		records: append([]*ledger.DistributionRecord(nil), s.records...),
		awards:  awards,
	}
}

func (s *memState) restore(snap *memState) {
	s.users = snap.users
	s.records = snap.records
	s.awards = snap.awards
}

func (s *memState) balance(id uuid.UUID) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.users[id].PointsBalance
}

type memUserRepo struct{ state *memState }

func (r *memUserRepo) FindByID(_ context.Context, id uuid.UUID) (*referral.User, error) {
	if u, ok := r.state.users[id]; ok {
		clone := u
		return &clone, nil
	}
	return nil, shared.ErrNotFound
}

func (r *memUserRepo) FindByEmail(context.Context, string) (*referral.User, error) {
	return nil, shared.ErrNotFound
}

func (r *memUserRepo) FindByReferralCode(context.Context, string) (*referral.User, error) {
	return nil, shared.ErrNotFound
}

func (r *memUserRepo) FindAll(context.Context, shared.Filter) ([]referral.User, error) {
	return nil, nil
}

func (r *memUserRepo) Count(context.Context, shared.Filter) (int64, error) { return 0, nil }

func (r *memUserRepo) FindDirectDownline(_ context.Context, userID uuid.UUID) ([]referral.User, error) {
	var out []referral.User
	for _, u := range r.state.users {
		if u.ReferrerID != nil && *u.ReferrerID == userID {
			out = append(out, u)
		}
	}
	return out, nil
}

func (r *memUserRepo) CountDownlineWithMinRank(ctx context.Context, userID uuid.UUID, minRank referral.Rank) (int64, error) {
	downline, _ := r.FindDirectDownline(ctx, userID)
	var n int64
	for _, u := range downline {
		if u.Rank >= minRank {
			n++
		}
	}
	return n, nil
}

func (r *memUserRepo) Save(_ context.Context, user *referral.User) error {
	r.state.users[user.ID] = *user
	return nil
}

func (r *memUserRepo) SaveWithLock(_ context.Context, user *referral.User) error {
	if r.state.conflict > 0 {
		r.state.conflict--
		return shared.ErrConcurrencyConflict
	}
	stored, ok := r.state.users[user.ID]
	if !ok {
		return shared.ErrNotFound
	}
	if stored.Version != user.Version-1 {
		return shared.ErrConcurrencyConflict
	}
	r.state.users[user.ID] = *user
	return nil
}

type memRecordRepo struct{ state *memState }

func (r *memRecordRepo) Append(_ context.Context, records []*ledger.DistributionRecord) error {
	r.state.records = append(r.state.records, records...)
	return nil
}

func (r *memRecordRepo) FindByAward(_ context.Context, awardID uuid.UUID) ([]*ledger.DistributionRecord, error) {
	var out []*ledger.DistributionRecord
	for _, rec := range r.state.records {
		if rec.AwardID == awardID {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (r *memRecordRepo) FindByTarget(context.Context, uuid.UUID, shared.Filter) (*shared.Paginated[*ledger.DistributionRecord], error) {
	return nil, nil
}

func (r *memRecordRepo) FindBySource(context.Context, uuid.UUID, shared.Filter) (*shared.Paginated[*ledger.DistributionRecord], error) {
	return nil, nil
}

func (r *memRecordRepo) FindAll(context.Context, shared.Filter) (*shared.Paginated[*ledger.DistributionRecord], error) {
	return nil, nil
}

func (r *memRecordRepo) SumPointsByTarget(context.Context, uuid.UUID) (int64, error) { return 0, nil }

func (r *memRecordRepo) CountDistinctSourcesByTarget(context.Context, uuid.UUID) (int64, error) {
	return 0, nil
}

func (r *memRecordRepo) FindSince(context.Context, time.Time, shared.Filter) (*shared.Paginated[*ledger.DistributionRecord], error) {
	return nil, nil
}

func (r *memRecordRepo) CountAll(context.Context) (int64, error) {
	return int64(len(r.state.records)), nil
}

func (r *memRecordRepo) SumPointsAll(context.Context) (int64, error) {
	var sum int64
	for _, rec := range r.state.records {
		sum += rec.Points
	}
	return sum, nil
}

func (r *memRecordRepo) CountByLevel(context.Context) (map[int]int64, error) {
	counts := make(map[int]int64)
	for _, rec := range r.state.records {
		counts[rec.Level]++
	}
	return counts, nil
}

type memAwardRepo struct{ state *memState }

func (r *memAwardRepo) Create(_ context.Context, award *ledger.PointAward) error {
	if _, ok := r.state.awards[award.AwardID]; ok {
		return shared.ErrDuplicateAward
	}
	r.state.awards[award.AwardID] = award
	return nil
}

func (r *memAwardRepo) FindByAwardID(_ context.Context, awardID uuid.UUID) (*ledger.PointAward, error) {
	if a, ok := r.state.awards[awardID]; ok {
		return a, nil
	}
	return nil, shared.ErrNotFound
}

func (r *memAwardRepo) Exists(_ context.Context, awardID uuid.UUID) (bool, error) {
	_, ok := r.state.awards[awardID]
	return ok, nil
}

type memScope struct{ state *memState }

func (s *memScope) Execute(_ context.Context, fn func(repos TransactionalRepositories) error) error {
	s.state.mu.Lock()
	defer s.state.mu.Unlock()
	snap := s.state.snapshot()
	if err := fn(&memRepos{state: s.state}); err != nil {
		s.state.restore(snap)
		return err
	}
	return nil
}

type memRepos struct{ state *memState }

func (r *memRepos) Users() referral.UserRepository { return &memUserRepo{state: r.state} }

func (r *memRepos) Records() ledger.DistributionRecordRepository {
	return &memRecordRepo{state: r.state}
}

func (r *memRepos) Awards() ledger.AwardRepository { return &memAwardRepo{state: r.state} }

type memIdemStore struct {
	mu      sync.Mutex
	applied map[string]struct{}
}

func newMemIdemStore() *memIdemStore {
	return &memIdemStore{applied: make(map[string]struct{})}
}

func (s *memIdemStore) MarkApplied(_ context.Context, awardID string, _ time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.applied[awardID]; ok {
		return false, nil
	}
	s.applied[awardID] = struct{}{}
	return true, nil
}

func (s *memIdemStore) IsApplied(_ context.Context, awardID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.applied[awardID]
	return ok, nil
}

func (s *memIdemStore) Close() error { return nil }

type capturingBus struct {
	mu     sync.Mutex
	events []shared.DomainEvent
}

func (b *capturingBus) Publish(_ context.Context, events ...shared.DomainEvent) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, events...)
	return nil
}

type capturingSettler struct {
	mu      sync.Mutex
	settled [][]uuid.UUID
}

func (s *capturingSettler) Settle(_ context.Context, userIDs []uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.settled = append(s.settled, userIDs)
	return nil
}

// =============================================================================
// Fixtures
// =============================================================================

type fixture struct {
	state   *memState
	idem    *memIdemStore
	bus     *capturingBus
	settler *capturingSettler
	service *Service
}

func newFixture(t *testing.T, users ...*referral.User) *fixture {
	t.Helper()
	state := newMemState(users...)
	idem := newMemIdemStore()
	bus := &capturingBus{}
	settler := &capturingSettler{}

	retry := shared.RetryConfig{
		MaxAttempts:     3,
		InitialInterval: time.Millisecond,
		MaxInterval:     2 * time.Millisecond,
	}
	service, err := NewService(
		&memScope{state: state},
		idem,
		shared.DefaultIdempotencyConfig(),
		bus,
		settler,
		DefaultPercentageSchedule(),
		retry,
		zap.NewNop(),
	)
	require.NoError(t, err)

	return &fixture{state: state, idem: idem, bus: bus, settler: settler, service: service}
}

func buildChain(t *testing.T, depth int) []*referral.User {
	t.Helper()
	users := make([]*referral.User, depth)
	for i := range users {
		u, err := referral.NewUser("User", "user@example.com", uuid.NewString())
		require.NoError(t, err)
		users[i] = u
		if i > 0 {
			require.NoError(t, users[i-1].AttachReferrer(u.ID))
		}
	}
	return users
}

// =============================================================================
// Tests
// =============================================================================

func TestDistribute(t *testing.T) {
	ctx := context.Background()
	admin := uuid.New()

	t.Run("credits source fully and ancestors by schedule", func(t *testing.T) {
		users := buildChain(t, 3) // leaf, parent, grandparent
		f := newFixture(t, users...)

		result, err := f.service.Distribute(ctx, DistributeRequest{
			AwardID:         uuid.New(),
			SourceUserID:    users[0].ID,
			Points:          100,
			DistributedByID: admin,
		})

		require.NoError(t, err)
		assert.Equal(t, int64(100), result.TotalPoints)
		assert.Equal(t, int64(115), result.DistributedSum)
		require.Len(t, result.Shares, 3)

		assert.Equal(t, int64(100), f.state.balance(users[0].ID))
		assert.Equal(t, int64(10), f.state.balance(users[1].ID))
		assert.Equal(t, int64(5), f.state.balance(users[2].ID))

		assert.Equal(t, 0, result.Shares[0].Level)
		assert.Equal(t, 100, result.Shares[0].Percentage)
		assert.Equal(t, 1, result.Shares[1].Level)
		assert.Equal(t, 10, result.Shares[1].Percentage)
		assert.Equal(t, 2, result.Shares[2].Level)
		assert.Equal(t, 5, result.Shares[2].Percentage)

		assert.Len(t, f.state.records, 3)
		assert.Len(t, f.state.awards, 1)
	})

	t.Run("root user gets a single level-zero record", func(t *testing.T) {
		root, _ := referral.NewUser("Root", "root@example.com", "REF-ROOT")
		f := newFixture(t, root)

		result, err := f.service.Distribute(ctx, DistributeRequest{
			AwardID:         uuid.New(),
			SourceUserID:    root.ID,
			Points:          40,
			DistributedByID: admin,
		})

		require.NoError(t, err)
		require.Len(t, result.Shares, 1)
		assert.Equal(t, int64(40), result.DistributedSum)
		assert.Len(t, f.state.records, 1)
	})

	t.Run("floor shares that round to zero are skipped", func(t *testing.T) {
		users := buildChain(t, 3)
		f := newFixture(t, users...)

		// 10% of 5 floors to 0, so only the level-0 credit lands.
		result, err := f.service.Distribute(ctx, DistributeRequest{
			AwardID:         uuid.New(),
			SourceUserID:    users[0].ID,
			Points:          5,
			DistributedByID: admin,
		})

		require.NoError(t, err)
		require.Len(t, result.Shares, 1)
		assert.Equal(t, int64(5), f.state.balance(users[0].ID))
		assert.Equal(t, int64(0), f.state.balance(users[1].ID))
	})

	t.Run("fractions are dropped, never rounded up", func(t *testing.T) {
		users := buildChain(t, 2)
		f := newFixture(t, users...)

		// 10% of 99 is 9.9; the parent gets 9.
		_, err := f.service.Distribute(ctx, DistributeRequest{
			AwardID:         uuid.New(),
			SourceUserID:    users[0].ID,
			Points:          99,
			DistributedByID: admin,
		})

		require.NoError(t, err)
		assert.Equal(t, int64(9), f.state.balance(users[1].ID))
	})

	t.Run("rejects non-positive amounts", func(t *testing.T) {
		users := buildChain(t, 2)
		f := newFixture(t, users...)

		_, err := f.service.Distribute(ctx, DistributeRequest{
			AwardID:         uuid.New(),
			SourceUserID:    users[0].ID,
			Points:          0,
			DistributedByID: admin,
		})

		assert.ErrorIs(t, err, shared.ErrInvalidAmount)
		assert.Empty(t, f.state.records)
	})

	t.Run("unknown source user leaves no partial state", func(t *testing.T) {
		f := newFixture(t)

		_, err := f.service.Distribute(ctx, DistributeRequest{
			AwardID:         uuid.New(),
			SourceUserID:    uuid.New(),
			Points:          100,
			DistributedByID: admin,
		})

		assert.ErrorIs(t, err, shared.ErrUnknownUser)
		assert.Empty(t, f.state.records)
		assert.Empty(t, f.state.awards)
	})

	t.Run("same award applied twice is a no-op", func(t *testing.T) {
		users := buildChain(t, 2)
		f := newFixture(t, users...)
		awardID := uuid.New()
		req := DistributeRequest{
			AwardID:         awardID,
			SourceUserID:    users[0].ID,
			Points:          100,
			DistributedByID: admin,
		}

		_, err := f.service.Distribute(ctx, req)
		require.NoError(t, err)

		_, err = f.service.Distribute(ctx, req)
		assert.ErrorIs(t, err, shared.ErrDuplicateAward)

		assert.Equal(t, int64(100), f.state.balance(users[0].ID))
		assert.Len(t, f.state.records, 2)
	})

	t.Run("duplicate is caught by the database even with a cold cache", func(t *testing.T) {
		users := buildChain(t, 2)
		f := newFixture(t, users...)
		awardID := uuid.New()
		req := DistributeRequest{
			AwardID:         awardID,
			SourceUserID:    users[0].ID,
			Points:          100,
			DistributedByID: admin,
		}

		_, err := f.service.Distribute(ctx, req)
		require.NoError(t, err)

		// Simulate an expired fast-path entry.
		f.idem.applied = make(map[string]struct{})

		_, err = f.service.Distribute(ctx, req)
		assert.ErrorIs(t, err, shared.ErrDuplicateAward)
		assert.Equal(t, int64(100), f.state.balance(users[0].ID))
	})

	t.Run("cycle aborts with no writes", func(t *testing.T) {
		a, _ := referral.NewUser("A", "a@example.com", "REF-A")
		b, _ := referral.NewUser("B", "b@example.com", "REF-B")
		require.NoError(t, a.AttachReferrer(b.ID))
		require.NoError(t, b.AttachReferrer(a.ID)) // corrupt on purpose
		f := newFixture(t, a, b)

		_, err := f.service.Distribute(ctx, DistributeRequest{
			AwardID:         uuid.New(),
			SourceUserID:    a.ID,
			Points:          100,
			DistributedByID: admin,
		})

		assert.ErrorIs(t, err, shared.ErrGraphCycle)
		assert.Equal(t, int64(0), f.state.balance(a.ID))
		assert.Equal(t, int64(0), f.state.balance(b.ID))
		assert.Empty(t, f.state.records)
	})

	t.Run("write conflict is retried to success", func(t *testing.T) {
		users := buildChain(t, 2)
		f := newFixture(t, users...)
		f.state.conflict = 1

		result, err := f.service.Distribute(ctx, DistributeRequest{
			AwardID:         uuid.New(),
			SourceUserID:    users[0].ID,
			Points:          100,
			DistributedByID: admin,
		})

		require.NoError(t, err)
		assert.Len(t, result.Shares, 2)
		assert.Equal(t, int64(100), f.state.balance(users[0].ID))
		assert.Len(t, f.state.awards, 1)
	})

	t.Run("exhausted retries surface contention", func(t *testing.T) {
		users := buildChain(t, 2)
		f := newFixture(t, users...)
		f.state.conflict = 100

		_, err := f.service.Distribute(ctx, DistributeRequest{
			AwardID:         uuid.New(),
			SourceUserID:    users[0].ID,
			Points:          100,
			DistributedByID: admin,
		})

		assert.ErrorIs(t, err, shared.ErrContention)
		assert.Equal(t, int64(0), f.state.balance(users[0].ID))
		assert.Empty(t, f.state.records)
		assert.Empty(t, f.state.awards)
	})

	t.Run("concurrent awards to one user land with the exact sum", func(t *testing.T) {
		users := buildChain(t, 2)
		f := newFixture(t, users...)

		const workers = 8
		var wg sync.WaitGroup
		errs := make([]error, workers)
		for i := 0; i < workers; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				_, errs[i] = f.service.Distribute(ctx, DistributeRequest{
					AwardID:         uuid.New(),
					SourceUserID:    users[0].ID,
					Points:          10,
					DistributedByID: admin,
				})
			}(i)
		}
		wg.Wait()

		for _, err := range errs {
			require.NoError(t, err)
		}
		assert.Equal(t, int64(80), f.state.balance(users[0].ID))
		assert.Equal(t, int64(8), f.state.balance(users[1].ID))
		assert.Len(t, f.state.awards, workers)
		assert.Len(t, f.state.records, workers*2)
	})

	t.Run("publishes one credit event per share and settles ranks", func(t *testing.T) {
		users := buildChain(t, 3)
		f := newFixture(t, users...)

		_, err := f.service.Distribute(ctx, DistributeRequest{
			AwardID:         uuid.New(),
			SourceUserID:    users[0].ID,
			Points:          100,
			DistributedByID: admin,
		})

		require.NoError(t, err)
		assert.Len(t, f.bus.events, 3)
		require.Len(t, f.settler.settled, 1)
		assert.Len(t, f.settler.settled[0], 3)
	})
}

func TestPercentageSchedule(t *testing.T) {
	t.Run("default reaches two levels", func(t *testing.T) {
		s := DefaultPercentageSchedule()
		assert.Equal(t, 2, s.Depth())
		assert.Equal(t, 10, s.PercentageAt(1))
		assert.Equal(t, 5, s.PercentageAt(2))
		assert.Equal(t, 0, s.PercentageAt(3))
		require.NoError(t, s.Validate())
	})

	t.Run("shares floor toward zero", func(t *testing.T) {
		s := DefaultPercentageSchedule()
		assert.Equal(t, int64(9), s.ShareAt(99, 1))
		assert.Equal(t, int64(4), s.ShareAt(99, 2))
		assert.Equal(t, int64(0), s.ShareAt(9, 1))
	})

	t.Run("validation rejects bad schedules", func(t *testing.T) {
		assert.Error(t, PercentageSchedule{}.Validate())
		assert.Error(t, PercentageSchedule{101}.Validate())
		assert.Error(t, PercentageSchedule{-1}.Validate())

		tooDeep := make(PercentageSchedule, ledger.MaxLevel+1)
		assert.Error(t, tooDeep.Validate())
	})
}
