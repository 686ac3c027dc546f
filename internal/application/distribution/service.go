package distribution

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/refnet/backend/internal/domain/ledger"
	"github.com/refnet/backend/internal/domain/referral"
	"github.com/refnet/backend/internal/domain/shared"
	"github.com/refnet/backend/internal/infrastructure/telemetry"
)

// TransactionalRepositories provides repository access scoped to one
// database transaction.
type TransactionalRepositories interface {
	Users() referral.UserRepository
	Records() ledger.DistributionRecordRepository
	Awards() ledger.AwardRepository
}

// TransactionScope executes a function atomically: every repository write
// inside fn commits together or not at all.
type TransactionScope interface {
	Execute(ctx context.Context, fn func(repos TransactionalRepositories) error) error
}

// RankSettler re-checks promotion eligibility after balances change.
type RankSettler interface {
	Settle(ctx context.Context, userIDs []uuid.UUID) error
}

// Service is the distribution engine. An award enters as a single
// operation and leaves as one level-0 credit to the awarded user plus one
// share per eligible ancestor, all applied atomically alongside their
// ledger records and the idempotency anchor.
type Service struct {
	scope       TransactionScope
	idempotency shared.IdempotencyStore
	idemCfg     shared.IdempotencyConfig
	eventBus    shared.EventPublisher
	settler     RankSettler
	schedule    PercentageSchedule
	retry       shared.RetryConfig
	logger      *zap.Logger
}

// NewService creates the distribution engine.
func NewService(
	scope TransactionScope,
	idempotency shared.IdempotencyStore,
	idemCfg shared.IdempotencyConfig,
	eventBus shared.EventPublisher,
	settler RankSettler,
	schedule PercentageSchedule,
	retry shared.RetryConfig,
	logger *zap.Logger,
) (*Service, error) {
	if err := schedule.Validate(); err != nil {
		return nil, err
	}
	if retry.MaxAttempts <= 0 {
		retry = shared.DefaultRetryConfig()
	}
	return &Service{
		scope:       scope,
		idempotency: idempotency,
		idemCfg:     idemCfg,
		eventBus:    eventBus,
		settler:     settler,
		schedule:    schedule,
		retry:       retry,
		logger:      logger,
	}, nil
}

// DistributeRequest carries one point award.
type DistributeRequest struct {
	AwardID         uuid.UUID
	SourceUserID    uuid.UUID
	Points          int64
	DistributedByID uuid.UUID
}

// Share is one credited slice of an award.
type Share struct {
	TargetUserID uuid.UUID `json:"target_user_id"`
	Points       int64     `json:"points"`
	Level        int       `json:"level"`
	Percentage   int       `json:"percentage"`
}

// DistributeResult summarizes an applied award.
type DistributeResult struct {
	AwardID        uuid.UUID `json:"award_id"`
	SourceUserID   uuid.UUID `json:"source_user_id"`
	TotalPoints    int64     `json:"total_points"`
	Shares         []Share   `json:"shares"`
	DistributedSum int64     `json:"distributed_sum"`
}

// Distribute applies one award: the awarded user is credited the full
// amount at level 0, and each ancestor within the percentage schedule is
// credited its floor share. The whole operation is atomic and idempotent
// per award identifier. Version conflicts are retried with exponential
// backoff; exhaustion surfaces shared.ErrContention.
func (s *Service) Distribute(ctx context.Context, req DistributeRequest) (*DistributeResult, error) {
	ctx, span := telemetry.StartServiceSpan(ctx, "distribution", "distribute")
	defer span.End()

	telemetry.SetAttributes(span,
		telemetry.SpanAttrAwardID, req.AwardID.String(),
		telemetry.SpanAttrUserID, req.SourceUserID.String(),
		telemetry.SpanAttrPoints, req.Points,
	)

	if req.Points <= 0 {
		telemetry.RecordError(span, shared.ErrInvalidAmount)
		return nil, shared.ErrInvalidAmount
	}
	if req.AwardID == uuid.Nil || req.SourceUserID == uuid.Nil || req.DistributedByID == uuid.Nil {
		telemetry.RecordError(span, shared.ErrInvalidInput)
		return nil, shared.ErrInvalidInput
	}

	// Fast-path duplicate check. The database unique constraint on the
	// award ID is the authoritative guard; a store failure here only
	// costs us the shortcut.
	if s.idemCfg.Enabled && s.idempotency != nil {
		applied, err := s.idempotency.IsApplied(ctx, req.AwardID.String())
		if err != nil {
			s.logger.Warn("Idempotency fast-path check failed, falling through to database",
				zap.String("award_id", req.AwardID.String()),
				zap.Error(err),
			)
		} else if applied {
			telemetry.RecordError(span, shared.ErrDuplicateAward)
			return nil, shared.ErrDuplicateAward
		}
	}

	var (
		result  *DistributeResult
		events  []shared.DomainEvent
		attempt int
	)

	operation := func() error {
		attempt++
		telemetry.SetAttribute(span, telemetry.SpanAttrAttempt, attempt)

		result = nil
		events = nil

		err := s.scope.Execute(ctx, func(repos TransactionalRepositories) error {
			res, evts, txErr := s.distributeInTx(ctx, repos, req)
			if txErr != nil {
				return txErr
			}
			result = res
			events = evts
			return nil
		})
		if err != nil {
			if isRetryableConflict(err) {
				s.logger.Debug("Distribution hit a write conflict, retrying",
					zap.String("award_id", req.AwardID.String()),
					zap.Int("attempt", attempt),
				)
				return err
			}
			return backoff.Permanent(err)
		}
		return nil
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = s.retry.InitialInterval
	bo.MaxInterval = s.retry.MaxInterval

	err := backoff.Retry(operation, backoff.WithContext(
		backoff.WithMaxRetries(bo, uint64(s.retry.MaxAttempts-1)), ctx))
	if err != nil {
		if isRetryableConflict(err) {
			s.logger.Warn("Distribution retries exhausted",
				zap.String("award_id", req.AwardID.String()),
				zap.Int("attempts", attempt),
			)
			telemetry.RecordError(span, shared.ErrContention)
			return nil, shared.ErrContention
		}
		telemetry.RecordError(span, err)
		return nil, err
	}

	s.afterCommit(ctx, req, result, events)

	telemetry.SetAttribute(span, telemetry.SpanAttrRecordCnt, len(result.Shares))
	telemetry.SetOK(span)
	return result, nil
}

// AwardView is the read model for one applied award.
type AwardView struct {
	AwardID         uuid.UUID `json:"award_id"`
	SourceUserID    uuid.UUID `json:"source_user_id"`
	TotalPoints     int64     `json:"total_points"`
	DistributedByID uuid.UUID `json:"distributed_by_id"`
	AppliedAt       time.Time `json:"applied_at"`
	RecordCount     int       `json:"record_count"`
	DistributedSum  int64     `json:"distributed_sum"`
}

// Award returns the anchor of an applied award, or shared.ErrNotFound
// when the award was never applied. Lets callers re-check the outcome of
// a distribution they may have lost the response to.
func (s *Service) Award(ctx context.Context, awardID uuid.UUID) (*AwardView, error) {
	ctx, span := telemetry.StartServiceSpan(ctx, "distribution", "award")
	defer span.End()

	telemetry.SetAttribute(span, telemetry.SpanAttrAwardID, awardID.String())

	var view *AwardView
	err := s.scope.Execute(ctx, func(repos TransactionalRepositories) error {
		anchor, err := repos.Awards().FindByAwardID(ctx, awardID)
		if err != nil {
			return err
		}
		view = &AwardView{
			AwardID:         anchor.AwardID,
			SourceUserID:    anchor.SourceUserID,
			TotalPoints:     anchor.TotalPoints,
			DistributedByID: anchor.DistributedByID,
			AppliedAt:       anchor.AppliedAt,
			RecordCount:     anchor.RecordCount,
			DistributedSum:  anchor.DistributedSum,
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			return nil, shared.ErrNotFound
		}
		telemetry.RecordError(span, err)
		return nil, fmt.Errorf("%w: %v", shared.ErrPersistence, err)
	}
	return view, nil
}

// distributeInTx performs the award inside one transaction and returns
// the result plus the domain events to publish after commit.
func (s *Service) distributeInTx(
	ctx context.Context,
	repos TransactionalRepositories,
	req DistributeRequest,
) (*DistributeResult, []shared.DomainEvent, error) {
	users := repos.Users()
	ledgerRepo := repos.Records()
	awards := repos.Awards()

	exists, err := awards.Exists(ctx, req.AwardID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to check award: %w", err)
	}
	if exists {
		return nil, nil, shared.ErrDuplicateAward
	}

	source, err := users.FindByID(ctx, req.SourceUserID)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			return nil, nil, shared.ErrUnknownUser
		}
		return nil, nil, fmt.Errorf("failed to load awarded user: %w", err)
	}

	// Resolve the upward chain before any write so a cycle aborts the
	// whole operation cleanly.
	walker := referral.NewGraphWalker(users)
	ancestors, err := walker.AncestorsOf(ctx, source.ID, s.schedule.Depth())
	if err != nil {
		return nil, nil, err
	}

	var (
		records []*ledger.DistributionRecord
		shares  []Share
		events  []shared.DomainEvent
		sum     int64
	)

	credit := func(user *referral.User, points int64, level, percentage int) error {
		if err := user.CreditPoints(points); err != nil {
			return err
		}
		if err := users.SaveWithLock(ctx, user); err != nil {
			return err
		}
		record, err := ledger.NewDistributionRecord(
			req.AwardID, source.ID, user.ID, req.DistributedByID,
			points, level, percentage,
		)
		if err != nil {
			return err
		}
		records = append(records, record)
		shares = append(shares, Share{
			TargetUserID: user.ID,
			Points:       points,
			Level:        level,
			Percentage:   percentage,
		})
		events = append(events, referral.NewUserPointsCreditedEvent(user.ID, req.AwardID, points, level))
		sum += points
		return nil
	}

	// Level 0: the awarded user receives the full amount.
	if err := credit(source, req.Points, 0, 100); err != nil {
		return nil, nil, err
	}

	for _, ancestor := range ancestors {
		share := s.schedule.ShareAt(req.Points, ancestor.Depth)
		if share <= 0 {
			continue
		}
		parent, err := users.FindByID(ctx, ancestor.UserID)
		if err != nil {
			if errors.Is(err, shared.ErrNotFound) {
				return nil, nil, shared.ErrUnknownUser
			}
			return nil, nil, fmt.Errorf("failed to load ancestor: %w", err)
		}
		if err := credit(parent, share, ancestor.Depth, s.schedule.PercentageAt(ancestor.Depth)); err != nil {
			return nil, nil, err
		}
	}

	if err := ledgerRepo.Append(ctx, records); err != nil {
		return nil, nil, fmt.Errorf("%w: %v", shared.ErrLedgerWrite, err)
	}

	anchor, err := ledger.NewPointAward(
		req.AwardID, source.ID, req.DistributedByID,
		req.Points, len(records), sum,
	)
	if err != nil {
		return nil, nil, err
	}
	if err := awards.Create(ctx, anchor); err != nil {
		return nil, nil, err
	}

	return &DistributeResult{
		AwardID:        req.AwardID,
		SourceUserID:   source.ID,
		TotalPoints:    req.Points,
		Shares:         shares,
		DistributedSum: sum,
	}, events, nil
}

// afterCommit runs the non-transactional tail of a distribution: marking
// the idempotency fast path, publishing events, and settling ranks.
// Failures here are logged, never surfaced; the award itself is durable.
func (s *Service) afterCommit(ctx context.Context, req DistributeRequest, result *DistributeResult, events []shared.DomainEvent) {
	if s.idemCfg.Enabled && s.idempotency != nil {
		if _, err := s.idempotency.MarkApplied(ctx, req.AwardID.String(), s.idemCfg.TTL); err != nil {
			s.logger.Warn("Failed to mark award in idempotency store",
				zap.String("award_id", req.AwardID.String()),
				zap.Error(err),
			)
		}
	}

	if s.eventBus != nil && len(events) > 0 {
		if err := s.eventBus.Publish(ctx, events...); err != nil {
			s.logger.Warn("Failed to publish distribution events",
				zap.String("award_id", req.AwardID.String()),
				zap.Error(err),
			)
		}
	}

	if s.settler != nil {
		credited := make([]uuid.UUID, 0, len(result.Shares))
		for _, share := range result.Shares {
			credited = append(credited, share.TargetUserID)
		}
		if err := s.settler.Settle(ctx, credited); err != nil {
			s.logger.Warn("Rank settlement after distribution failed",
				zap.String("award_id", req.AwardID.String()),
				zap.Error(err),
			)
		}
	}
}

// isRetryableConflict reports whether the error is a version conflict
// worth retrying. Duplicate awards and unknown users never are.
func isRetryableConflict(err error) bool {
	return errors.Is(err, shared.ErrConcurrencyConflict)
}
