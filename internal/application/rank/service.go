package rank

import (
	"context"
	"errors"
	"fmt"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/refnet/backend/internal/domain/referral"
	"github.com/refnet/backend/internal/domain/shared"
	"github.com/refnet/backend/internal/infrastructure/telemetry"
)

// Service is the rank engine. It owns the promotion state machine: rank
// 0 is left by accumulating points, ranks 1 through 9 are left by growing
// a qualified direct downline, rank 10 is terminal. Ranks never move
// down.
type Service struct {
	users    referral.UserRepository
	policy   referral.RankPolicy
	eventBus shared.EventPublisher
	retry    shared.RetryConfig
	logger   *zap.Logger
}

// NewService creates the rank engine.
func NewService(
	users referral.UserRepository,
	policy referral.RankPolicy,
	eventBus shared.EventPublisher,
	retry shared.RetryConfig,
	logger *zap.Logger,
) (*Service, error) {
	if err := policy.Validate(); err != nil {
		return nil, err
	}
	if retry.MaxAttempts <= 0 {
		retry = shared.DefaultRetryConfig()
	}
	return &Service{
		users:    users,
		policy:   policy,
		eventBus: eventBus,
		retry:    retry,
		logger:   logger,
	}, nil
}

// Reevaluate checks the user against the promotion rules and advances
// them by at most one rank. It returns whether a promotion happened. A
// user who qualifies for several tiers climbs them across successive
// calls, one at a time. Write conflicts are retried with bounded
// backoff; exhaustion surfaces shared.ErrContention.
func (s *Service) Reevaluate(ctx context.Context, userID uuid.UUID) (bool, error) {
	ctx, span := telemetry.StartServiceSpan(ctx, "rank", "reevaluate")
	defer span.End()

	telemetry.SetAttribute(span, telemetry.SpanAttrUserID, userID.String())

	var (
		promoted bool
		attempt  int
	)

	operation := func() error {
		attempt++
		telemetry.SetAttribute(span, telemetry.SpanAttrAttempt, attempt)

		p, err := s.reevaluateOnce(ctx, span, userID)
		if err != nil {
			if errors.Is(err, shared.ErrConcurrencyConflict) {
				s.logger.Debug("Promotion hit a write conflict, retrying",
					zap.String("user_id", userID.String()),
					zap.Int("attempt", attempt),
				)
				return err
			}
			return backoff.Permanent(err)
		}
		promoted = p
		return nil
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = s.retry.InitialInterval
	bo.MaxInterval = s.retry.MaxInterval

	err := backoff.Retry(operation, backoff.WithContext(
		backoff.WithMaxRetries(bo, uint64(s.retry.MaxAttempts-1)), ctx))
	if err != nil {
		if errors.Is(err, shared.ErrConcurrencyConflict) {
			s.logger.Warn("Promotion retries exhausted",
				zap.String("user_id", userID.String()),
				zap.Int("attempts", attempt),
			)
			telemetry.RecordError(span, shared.ErrContention)
			return false, shared.ErrContention
		}
		telemetry.RecordError(span, err)
		return false, err
	}
	return promoted, nil
}

// reevaluateOnce runs one promotion attempt against a fresh read of the
// user. A concurrent write between the read and the save comes back as
// shared.ErrConcurrencyConflict for the caller to retry.
func (s *Service) reevaluateOnce(ctx context.Context, span trace.Span, userID uuid.UUID) (bool, error) {
	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			return false, shared.ErrUnknownUser
		}
		return false, fmt.Errorf("%w: %v", shared.ErrPersistence, err)
	}

	qualified, err := s.qualifies(ctx, user)
	if err != nil {
		return false, err
	}
	if !qualified {
		return false, nil
	}

	from := user.Rank
	if err := user.PromoteRank(); err != nil {
		return false, err
	}
	if err := s.users.SaveWithLock(ctx, user); err != nil {
		return false, err
	}

	telemetry.SetAttribute(span, telemetry.SpanAttrRank, user.Rank.Int())
	s.logger.Info("User promoted",
		zap.String("user_id", user.ID.String()),
		zap.Int("from_rank", from.Int()),
		zap.Int("to_rank", user.Rank.Int()),
	)

	s.publishEvents(ctx, user)
	return true, nil
}

// Settle drives every pending promotion to completion. Starting from the
// given users it reevaluates each one until it no longer qualifies, then
// walks conditions upward: a promotion can qualify the user's referrer,
// so the referrer joins the worklist. The loop terminates because every
// promotion strictly increases a rank and ranks are capped.
func (s *Service) Settle(ctx context.Context, userIDs []uuid.UUID) error {
	ctx, span := telemetry.StartServiceSpan(ctx, "rank", "settle")
	defer span.End()

	queue := make([]uuid.UUID, 0, len(userIDs))
	queued := make(map[uuid.UUID]struct{}, len(userIDs))
	enqueue := func(id uuid.UUID) {
		if _, ok := queued[id]; ok {
			return
		}
		queued[id] = struct{}{}
		queue = append(queue, id)
	}
	for _, id := range userIDs {
		enqueue(id)
	}

	var promotions int
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		delete(queued, id)

		promoted, err := s.Reevaluate(ctx, id)
		if err != nil {
			if errors.Is(err, shared.ErrUnknownUser) {
				// The user vanished between enqueue and evaluation;
				// nothing upward can depend on them anymore.
				continue
			}
			telemetry.RecordError(span, err)
			return err
		}
		if !promoted {
			continue
		}
		promotions++

		// The user may qualify for the next tier already, and the
		// promotion may have qualified their referrer.
		enqueue(id)
		user, err := s.users.FindByID(ctx, id)
		if err == nil && user.HasReferrer() {
			enqueue(*user.ReferrerID)
		}
	}

	telemetry.SetAttribute(span, "promotions", promotions)
	return nil
}

// qualifies applies the transition rule for the user's current rank.
func (s *Service) qualifies(ctx context.Context, user *referral.User) (bool, error) {
	switch {
	case user.Rank.IsTerminal():
		return false, nil
	case user.Rank == referral.MinRank:
		return user.QualifiesForPointsPromotion(s.policy), nil
	default:
		count, err := s.users.CountDownlineWithMinRank(ctx, user.ID, user.Rank)
		if err != nil {
			return false, fmt.Errorf("%w: %v", shared.ErrPersistence, err)
		}
		return count >= int64(s.policy.DownlineThreshold), nil
	}
}

func (s *Service) publishEvents(ctx context.Context, user *referral.User) {
	if s.eventBus == nil {
		return
	}
	events := user.GetDomainEvents()
	if len(events) == 0 {
		return
	}
	if err := s.eventBus.Publish(ctx, events...); err != nil {
		s.logger.Warn("Failed to publish rank events",
			zap.String("user_id", user.ID.String()),
			zap.Error(err),
		)
	}
	user.ClearDomainEvents()
}
