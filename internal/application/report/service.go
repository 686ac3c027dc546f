package report

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/refnet/backend/internal/domain/ledger"
	"github.com/refnet/backend/internal/domain/referral"
	"github.com/refnet/backend/internal/domain/shared"
	"github.com/refnet/backend/internal/infrastructure/telemetry"
)

// Service builds the dashboard and admin read models from the user
// directory and the ledger. Everything here is derived; nothing writes.
type Service struct {
	users   referral.UserRepository
	records ledger.DistributionRecordRepository
	policy  referral.RankPolicy
	logger  *zap.Logger
}

// NewService creates the reporting service.
func NewService(
	users referral.UserRepository,
	records ledger.DistributionRecordRepository,
	policy referral.RankPolicy,
	logger *zap.Logger,
) *Service {
	return &Service{
		users:   users,
		records: records,
		policy:  policy,
		logger:  logger,
	}
}

// RecordView is one ledger line as shown on dashboards.
type RecordView struct {
	ID            uuid.UUID `json:"id"`
	AwardID       uuid.UUID `json:"award_id"`
	SourceUserID  uuid.UUID `json:"source_user_id"`
	TargetUserID  uuid.UUID `json:"target_user_id"`
	Points        int64     `json:"points"`
	Level         int       `json:"level"`
	Percentage    int       `json:"percentage"`
	DistributedBy uuid.UUID `json:"distributed_by"`
	Timestamp     time.Time `json:"timestamp"`
}

// Dashboard is the per-member rank card and earnings summary.
type Dashboard struct {
	UserID           uuid.UUID    `json:"user_id"`
	PointsBalance    int64        `json:"points_balance"`
	Rank             int          `json:"rank"`
	RankTitle        string       `json:"rank_title"`
	NextRequirement  string       `json:"next_requirement"`
	EarnedPoints     int64        `json:"earned_points"`
	BenefitedMembers int64        `json:"benefited_members"`
	DirectDownline   int          `json:"direct_downline"`
	Recent           []RecordView `json:"recent"`
}

// Dashboard assembles the member dashboard: current standing, lifetime
// earnings from the ledger, and how many members' awards have credited
// the user.
func (s *Service) Dashboard(ctx context.Context, userID uuid.UUID) (*Dashboard, error) {
	ctx, span := telemetry.StartServiceSpan(ctx, "report", "dashboard")
	defer span.End()

	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			telemetry.RecordError(span, shared.ErrUnknownUser)
			return nil, shared.ErrUnknownUser
		}
		telemetry.RecordError(span, err)
		return nil, fmt.Errorf("%w: %v", shared.ErrPersistence, err)
	}

	earned, err := s.records.SumPointsByTarget(ctx, userID)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, fmt.Errorf("%w: %v", shared.ErrPersistence, err)
	}

	benefited, err := s.records.CountDistinctSourcesByTarget(ctx, userID)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, fmt.Errorf("%w: %v", shared.ErrPersistence, err)
	}

	downline, err := s.users.FindDirectDownline(ctx, userID)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, fmt.Errorf("%w: %v", shared.ErrPersistence, err)
	}

	filter := shared.DefaultFilter()
	filter.PageSize = 10
	recent, err := s.records.FindByTarget(ctx, userID, filter)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, fmt.Errorf("%w: %v", shared.ErrPersistence, err)
	}

	return &Dashboard{
		UserID:           user.ID,
		PointsBalance:    user.PointsBalance,
		Rank:             user.Rank.Int(),
		RankTitle:        user.Rank.Title(),
		NextRequirement:  s.policy.NextRequirement(user.Rank),
		EarnedPoints:     earned,
		BenefitedMembers: benefited,
		DirectDownline:   len(downline),
		Recent:           toRecordViews(recent.Items),
	}, nil
}

// Ledger returns a page of the full ledger, newest first.
func (s *Service) Ledger(ctx context.Context, filter shared.Filter) (*shared.Paginated[RecordView], error) {
	page, err := s.records.FindAll(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", shared.ErrPersistence, err)
	}
	return repage(page, filter), nil
}

// LedgerForUser returns the records crediting one user, newest first.
func (s *Service) LedgerForUser(ctx context.Context, userID uuid.UUID, filter shared.Filter) (*shared.Paginated[RecordView], error) {
	page, err := s.records.FindByTarget(ctx, userID, filter)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", shared.ErrPersistence, err)
	}
	return repage(page, filter), nil
}

// LedgerOriginatedBy returns the records that a user's awards produced
// for others and for the user themselves, newest first.
func (s *Service) LedgerOriginatedBy(ctx context.Context, userID uuid.UUID, filter shared.Filter) (*shared.Paginated[RecordView], error) {
	page, err := s.records.FindBySource(ctx, userID, filter)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", shared.ErrPersistence, err)
	}
	return repage(page, filter), nil
}

// LedgerForAward returns every record produced by one award.
func (s *Service) LedgerForAward(ctx context.Context, awardID uuid.UUID) ([]RecordView, error) {
	records, err := s.records.FindByAward(ctx, awardID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", shared.ErrPersistence, err)
	}
	return toRecordViews(records), nil
}

// Summary is the admin-facing system overview.
type Summary struct {
	TotalUsers       int64         `json:"total_users"`
	TotalRecords     int64         `json:"total_records"`
	TotalPointsMoved int64         `json:"total_points_moved"`
	RecordsByLevel   map[int]int64 `json:"records_by_level"`
	RecordsLast24h   int64         `json:"records_last_24h"`
}

// Summary aggregates system-wide totals for the admin overview.
func (s *Service) Summary(ctx context.Context) (*Summary, error) {
	ctx, span := telemetry.StartServiceSpan(ctx, "report", "summary")
	defer span.End()

	totalUsers, err := s.users.Count(ctx, shared.DefaultFilter())
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, fmt.Errorf("%w: %v", shared.ErrPersistence, err)
	}
	totalRecords, err := s.records.CountAll(ctx)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, fmt.Errorf("%w: %v", shared.ErrPersistence, err)
	}
	totalPoints, err := s.records.SumPointsAll(ctx)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, fmt.Errorf("%w: %v", shared.ErrPersistence, err)
	}
	byLevel, err := s.records.CountByLevel(ctx)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, fmt.Errorf("%w: %v", shared.ErrPersistence, err)
	}

	filter := shared.DefaultFilter()
	filter.PageSize = 1
	last24h, err := s.records.FindSince(ctx, time.Now().Add(-24*time.Hour), filter)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, fmt.Errorf("%w: %v", shared.ErrPersistence, err)
	}

	return &Summary{
		TotalUsers:       totalUsers,
		TotalRecords:     totalRecords,
		TotalPointsMoved: totalPoints,
		RecordsByLevel:   byLevel,
		RecordsLast24h:   last24h.Total,
	}, nil
}

func toRecordViews(records []*ledger.DistributionRecord) []RecordView {
	views := make([]RecordView, 0, len(records))
	for _, r := range records {
		views = append(views, RecordView{
			ID:            r.ID,
			AwardID:       r.AwardID,
			SourceUserID:  r.SourceUserID,
			TargetUserID:  r.TargetUserID,
			Points:        r.Points,
			Level:         r.Level,
			Percentage:    r.Percentage,
			DistributedBy: r.DistributedByID,
			Timestamp:     r.Timestamp,
		})
	}
	return views
}

func repage(page *shared.Paginated[*ledger.DistributionRecord], filter shared.Filter) *shared.Paginated[RecordView] {
	views := shared.NewPaginated(toRecordViews(page.Items), page.Total, filter.Page, filter.PageSize)
	return &views
}
