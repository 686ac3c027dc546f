package referral

import (
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/refnet/backend/internal/domain/shared"
)

var emailPattern = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)

// User is the aggregate root of the user directory. A user holds a points
// balance, a rank, and at most one referrer; children are discovered via
// the reverse index, never stored on the struct.
//
// The points balance and the rank are mutated exclusively by the
// distribution engine and the rank engine through CreditPoints and
// PromoteRank. Both only move upward.
type User struct {
	shared.BaseAggregateRoot
	Name          string     `gorm:"type:varchar(200);not null"`
	Email         string     `gorm:"type:varchar(200);not null;uniqueIndex"`
	PointsBalance int64      `gorm:"not null;default:0"`
	Rank          Rank       `gorm:"not null;default:0"`
	ReferralCode  string     `gorm:"type:varchar(32);not null;uniqueIndex"`
	ReferrerID    *uuid.UUID `gorm:"type:uuid;index"`
	IsAdmin       bool       `gorm:"not null;default:false"`
	JoinedAt      time.Time  `gorm:"not null"`
}

// NewUser creates a user at rank 0 with an empty balance.
func NewUser(name, email, referralCode string) (*User, error) {
	name = strings.TrimSpace(name)
	email = strings.ToLower(strings.TrimSpace(email))

	if name == "" {
		return nil, shared.NewDomainError("INVALID_NAME", "User name cannot be empty")
	}
	if !emailPattern.MatchString(email) {
		return nil, shared.NewDomainError("INVALID_EMAIL", "Email address is malformed")
	}
	if referralCode == "" {
		return nil, shared.NewDomainError("INVALID_REFERRAL_CODE", "Referral code cannot be empty")
	}

	return &User{
		BaseAggregateRoot: shared.NewBaseAggregateRoot(),
		Name:              name,
		Email:             email,
		PointsBalance:     0,
		Rank:              MinRank,
		ReferralCode:      referralCode,
		JoinedAt:          time.Now(),
	}, nil
}

// AttachReferrer links the user under a parent. A user has at most one
// referrer for life; re-attachment is rejected so the forest shape holds.
func (u *User) AttachReferrer(parentID uuid.UUID) error {
	if u.ReferrerID != nil {
		return shared.NewDomainError("REFERRER_ALREADY_SET", "User already has a referrer")
	}
	if parentID == uuid.Nil {
		return shared.NewDomainError("INVALID_REFERRER", "Referrer ID cannot be empty")
	}
	if parentID == u.ID {
		return shared.ErrGraphCycle
	}
	u.ReferrerID = &parentID
	u.UpdatedAt = time.Now()
	u.IncrementVersion()
	return nil
}

// CreditPoints increases the balance. Balances never decrease: there is no
// corresponding debit operation, and negative amounts are rejected.
func (u *User) CreditPoints(amount int64) error {
	if amount <= 0 {
		return shared.ErrInvalidAmount
	}
	u.PointsBalance += amount
	u.UpdatedAt = time.Now()
	u.IncrementVersion()
	return nil
}

// PromoteRank advances the user by exactly one rank. Promotion past the
// terminal rank is rejected, as is any attempt to move downward (the rank
// field is monotonically non-decreasing by contract).
func (u *User) PromoteRank() error {
	if u.Rank.IsTerminal() {
		return shared.NewDomainError("RANK_TERMINAL", "User already holds the highest rank")
	}
	previous := u.Rank
	u.Rank = u.Rank.Next()
	u.UpdatedAt = time.Now()
	u.IncrementVersion()
	u.AddDomainEvent(NewUserRankPromotedEvent(u.ID, previous, u.Rank))
	return nil
}

// GrantAdmin flags the user as an administrator.
func (u *User) GrantAdmin() {
	u.IsAdmin = true
	u.UpdatedAt = time.Now()
	u.IncrementVersion()
}

// HasReferrer reports whether the user sits below a parent in the graph.
func (u *User) HasReferrer() bool {
	return u.ReferrerID != nil
}

// QualifiesForPointsPromotion reports whether the 0 -> 1 transition rule is
// met. Only meaningful at rank 0; every later transition is decided by the
// downline count, which lives in the repository.
func (u *User) QualifiesForPointsPromotion(policy RankPolicy) bool {
	return u.Rank == MinRank && u.PointsBalance >= policy.PointsThreshold
}

// TableName sets the table name for GORM.
func (User) TableName() string {
	return "users"
}
