package referral

import (
	"context"

	"github.com/google/uuid"
	"github.com/refnet/backend/internal/domain/shared"
)

// UserRepository is the persistence contract for the user directory and,
// through the parent-pointer column, for the referral graph. Children are
// always discovered via FindDirectDownline (the reverse index); nothing
// stores child pointers.
type UserRepository interface {
	FindByID(ctx context.Context, id uuid.UUID) (*User, error)
	FindByEmail(ctx context.Context, email string) (*User, error)
	FindByReferralCode(ctx context.Context, code string) (*User, error)

	// FindAll lists users with optional rank filtering and name/email
	// search, the way the admin table consumes them.
	FindAll(ctx context.Context, filter shared.Filter) ([]User, error)
	Count(ctx context.Context, filter shared.Filter) (int64, error)

	// FindDirectDownline returns the users whose referrer is the given
	// user, most recent first.
	FindDirectDownline(ctx context.Context, userID uuid.UUID) ([]User, error)

	// CountDownlineWithMinRank counts direct downline members holding at
	// least the given rank. Backs the rank r -> r+1 transition check.
	CountDownlineWithMinRank(ctx context.Context, userID uuid.UUID, minRank Rank) (int64, error)

	Save(ctx context.Context, user *User) error

	// SaveWithLock persists the user only if the stored version matches
	// the version the aggregate was loaded at, returning
	// shared.ErrConcurrencyConflict otherwise.
	SaveWithLock(ctx context.Context, user *User) error
}

// Ancestor is one step of an upward walk through the referral graph.
type Ancestor struct {
	UserID uuid.UUID
	// Depth is the distance in referrer hops from the starting user;
	// the direct referrer sits at depth 1.
	Depth int
}
