package directory

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/refnet/backend/internal/domain/referral"
	"github.com/refnet/backend/internal/domain/shared"
	"github.com/refnet/backend/internal/infrastructure/telemetry"
)

// Service is the user directory: registration, lookup, and the admin
// listing. Points and ranks are read here but only ever written by the
// distribution and rank engines.
type Service struct {
	users    referral.UserRepository
	policy   referral.RankPolicy
	eventBus shared.EventPublisher
	logger   *zap.Logger
}

// NewService creates the user directory service.
func NewService(
	users referral.UserRepository,
	policy referral.RankPolicy,
	eventBus shared.EventPublisher,
	logger *zap.Logger,
) *Service {
	return &Service{
		users:    users,
		policy:   policy,
		eventBus: eventBus,
		logger:   logger,
	}
}

// RegisterRequest carries a new member.
type RegisterRequest struct {
	Name  string
	Email string
	// ReferrerCode is the referral code of the inviting member, empty
	// for a root user.
	ReferrerCode string
}

// UserView is the read model returned for a single user.
type UserView struct {
	ID              uuid.UUID  `json:"id"`
	Name            string     `json:"name"`
	Email           string     `json:"email"`
	PointsBalance   int64      `json:"points_balance"`
	Rank            int        `json:"rank"`
	RankTitle       string     `json:"rank_title"`
	NextRequirement string     `json:"next_requirement"`
	ReferralCode    string     `json:"referral_code"`
	ReferrerID      *uuid.UUID `json:"referrer_id,omitempty"`
	IsAdmin         bool       `json:"is_admin"`
	JoinedAt        string     `json:"joined_at"`
	Version         int        `json:"version"`
}

// Register creates a user and, when a referrer code is given, links them
// under the referrer. A user keeps that referrer for life.
func (s *Service) Register(ctx context.Context, req RegisterRequest) (*UserView, error) {
	ctx, span := telemetry.StartServiceSpan(ctx, "directory", "register")
	defer span.End()

	email := strings.ToLower(strings.TrimSpace(req.Email))
	if existing, err := s.users.FindByEmail(ctx, email); err == nil && existing != nil {
		err := shared.NewDomainError("EMAIL_TAKEN", "Email address is already registered")
		telemetry.RecordError(span, err)
		return nil, err
	} else if err != nil && !errors.Is(err, shared.ErrNotFound) {
		telemetry.RecordError(span, err)
		return nil, fmt.Errorf("%w: %v", shared.ErrPersistence, err)
	}

	user, err := referral.NewUser(req.Name, req.Email, s.newReferralCode())
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}

	if code := strings.TrimSpace(req.ReferrerCode); code != "" {
		referrer, err := s.users.FindByReferralCode(ctx, code)
		if err != nil {
			if errors.Is(err, shared.ErrNotFound) {
				telemetry.RecordError(span, shared.ErrUnknownUser)
				return nil, shared.ErrUnknownUser
			}
			telemetry.RecordError(span, err)
			return nil, fmt.Errorf("%w: %v", shared.ErrPersistence, err)
		}
		if err := user.AttachReferrer(referrer.ID); err != nil {
			telemetry.RecordError(span, err)
			return nil, err
		}
	}

	if err := s.users.Save(ctx, user); err != nil {
		telemetry.RecordError(span, err)
		return nil, fmt.Errorf("%w: %v", shared.ErrPersistence, err)
	}

	s.logger.Info("User registered",
		zap.String("user_id", user.ID.String()),
		zap.Bool("has_referrer", user.HasReferrer()),
	)

	if s.eventBus != nil {
		event := referral.NewUserRegisteredEvent(user.ID, user.ReferrerID)
		if err := s.eventBus.Publish(ctx, event); err != nil {
			s.logger.Warn("Failed to publish registration event",
				zap.String("user_id", user.ID.String()),
				zap.Error(err),
			)
		}
	}

	telemetry.SetAttribute(span, telemetry.SpanAttrUserID, user.ID.String())
	return s.toView(user), nil
}

// Get returns a single user by ID.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*UserView, error) {
	user, err := s.findUser(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.toView(user), nil
}

// GetByReferralCode resolves a user from their referral code.
func (s *Service) GetByReferralCode(ctx context.Context, code string) (*UserView, error) {
	user, err := s.users.FindByReferralCode(ctx, strings.TrimSpace(code))
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			return nil, shared.ErrUnknownUser
		}
		return nil, fmt.Errorf("%w: %v", shared.ErrPersistence, err)
	}
	return s.toView(user), nil
}

// List returns a page of users for the admin table, filterable by rank
// and searchable by name or email.
func (s *Service) List(ctx context.Context, filter shared.Filter) (*shared.Paginated[*UserView], error) {
	users, err := s.users.FindAll(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", shared.ErrPersistence, err)
	}
	total, err := s.users.Count(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", shared.ErrPersistence, err)
	}

	views := make([]*UserView, 0, len(users))
	for i := range users {
		views = append(views, s.toView(&users[i]))
	}
	page := shared.NewPaginated(views, total, filter.Page, filter.PageSize)
	return &page, nil
}

// DirectDownline lists the users directly referred by the given user.
func (s *Service) DirectDownline(ctx context.Context, id uuid.UUID) ([]*UserView, error) {
	if _, err := s.findUser(ctx, id); err != nil {
		return nil, err
	}
	downline, err := s.users.FindDirectDownline(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", shared.ErrPersistence, err)
	}
	views := make([]*UserView, 0, len(downline))
	for i := range downline {
		views = append(views, s.toView(&downline[i]))
	}
	return views, nil
}

// GrantAdmin flags a user as an administrator.
func (s *Service) GrantAdmin(ctx context.Context, id uuid.UUID) (*UserView, error) {
	user, err := s.findUser(ctx, id)
	if err != nil {
		return nil, err
	}
	user.GrantAdmin()
	if err := s.users.SaveWithLock(ctx, user); err != nil {
		return nil, err
	}
	s.logger.Info("Admin granted", zap.String("user_id", user.ID.String()))
	return s.toView(user), nil
}

// IsAdmin reports whether the user exists and holds the admin flag.
func (s *Service) IsAdmin(ctx context.Context, id uuid.UUID) (bool, error) {
	user, err := s.findUser(ctx, id)
	if err != nil {
		return false, err
	}
	return user.IsAdmin, nil
}

func (s *Service) findUser(ctx context.Context, id uuid.UUID) (*referral.User, error) {
	user, err := s.users.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			return nil, shared.ErrUnknownUser
		}
		return nil, fmt.Errorf("%w: %v", shared.ErrPersistence, err)
	}
	return user, nil
}

// newReferralCode mints a short shareable code. Uniqueness is enforced
// by the database index; a collision of the 8-hex-char prefix is rare
// enough that registration simply fails and the client retries.
func (s *Service) newReferralCode() string {
	raw := strings.ReplaceAll(uuid.NewString(), "-", "")
	return strings.ToUpper(raw[:8])
}

func (s *Service) toView(user *referral.User) *UserView {
	return &UserView{
		ID:              user.ID,
		Name:            user.Name,
		Email:           user.Email,
		PointsBalance:   user.PointsBalance,
		Rank:            user.Rank.Int(),
		RankTitle:       user.Rank.Title(),
		NextRequirement: s.policy.NextRequirement(user.Rank),
		ReferralCode:    user.ReferralCode,
		ReferrerID:      user.ReferrerID,
		IsAdmin:         user.IsAdmin,
		JoinedAt:        user.JoinedAt.Format("2006-01-02T15:04:05Z07:00"),
		Version:         user.GetVersion(),
	}
}
