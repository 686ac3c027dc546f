package referral

import (
	"github.com/google/uuid"
	"github.com/refnet/backend/internal/domain/shared"
)

// Event types emitted by the user directory and the engines.
const (
	EventTypeUserRegistered   = "referral.user.registered"
	EventTypeUserPointsCredit = "referral.user.points_credited"
	EventTypeUserRankPromoted = "referral.user.rank_promoted"
	EventTypeGraphCycle       = "referral.graph.cycle_detected"
)

// UserRegisteredEvent is published when a user joins the directory.
type UserRegisteredEvent struct {
	shared.BaseDomainEvent
	ReferrerID *uuid.UUID `json:"referrer_id,omitempty"`
}

// NewUserRegisteredEvent creates a UserRegisteredEvent.
func NewUserRegisteredEvent(userID uuid.UUID, referrerID *uuid.UUID) *UserRegisteredEvent {
	return &UserRegisteredEvent{
		BaseDomainEvent: shared.NewBaseDomainEvent(EventTypeUserRegistered, "User", userID),
		ReferrerID:      referrerID,
	}
}

// UserPointsCreditedEvent is published for every balance credit applied by
// the distribution engine.
type UserPointsCreditedEvent struct {
	shared.BaseDomainEvent
	AwardID uuid.UUID `json:"award_id"`
	Points  int64     `json:"points"`
	Level   int       `json:"level"`
}

// NewUserPointsCreditedEvent creates a UserPointsCreditedEvent.
func NewUserPointsCreditedEvent(userID, awardID uuid.UUID, points int64, level int) *UserPointsCreditedEvent {
	return &UserPointsCreditedEvent{
		BaseDomainEvent: shared.NewBaseDomainEvent(EventTypeUserPointsCredit, "User", userID),
		AwardID:         awardID,
		Points:          points,
		Level:           level,
	}
}

// UserRankPromotedEvent is published when the rank engine advances a user
// by one tier.
type UserRankPromotedEvent struct {
	shared.BaseDomainEvent
	FromRank Rank `json:"from_rank"`
	ToRank   Rank `json:"to_rank"`
}

// NewUserRankPromotedEvent creates a UserRankPromotedEvent.
func NewUserRankPromotedEvent(userID uuid.UUID, from, to Rank) *UserRankPromotedEvent {
	return &UserRankPromotedEvent{
		BaseDomainEvent: shared.NewBaseDomainEvent(EventTypeUserRankPromoted, "User", userID),
		FromRank:        from,
		ToRank:          to,
	}
}

// GraphCycleDetectedEvent is published when an ancestor walk runs into a
// cycle. This indicates corrupted referral data and is meant to reach an
// operator, not just a log line.
type GraphCycleDetectedEvent struct {
	shared.BaseDomainEvent
	Depth int `json:"depth"`
}

// NewGraphCycleDetectedEvent creates a GraphCycleDetectedEvent.
func NewGraphCycleDetectedEvent(userID uuid.UUID, depth int) *GraphCycleDetectedEvent {
	return &GraphCycleDetectedEvent{
		BaseDomainEvent: shared.NewBaseDomainEvent(EventTypeGraphCycle, "User", userID),
		Depth:           depth,
	}
}
