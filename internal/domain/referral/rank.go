package referral

import (
	"fmt"

	"github.com/refnet/backend/internal/domain/shared"
)

// Rank is a promotion tier between 0 and 10. Ranks only ever increase over
// a user's lifetime; rank 10 is terminal.
type Rank int

const (
	// MinRank is the rank every user starts at.
	MinRank Rank = 0
	// MaxRank is the terminal rank; no transition leaves it.
	MaxRank Rank = 10
)

var rankTitles = [MaxRank + 1]string{
	"Novice",
	"Member",
	"Distinguished Member",
	"Active Member",
	"Effective Member",
	"Bronze Member",
	"Silver Member",
	"Gold Member",
	"Platinum Member",
	"Diamond Member",
	"Leader",
}

// IsValid reports whether the rank lies inside the 0..10 tier range.
func (r Rank) IsValid() bool {
	return r >= MinRank && r <= MaxRank
}

// IsTerminal reports whether the rank admits no further promotion.
func (r Rank) IsTerminal() bool {
	return r >= MaxRank
}

// Next returns the rank one tier above. Calling Next on the terminal rank
// returns the terminal rank unchanged.
func (r Rank) Next() Rank {
	if r.IsTerminal() {
		return MaxRank
	}
	return r + 1
}

// Title returns the member-facing name of the rank.
func (r Rank) Title() string {
	if !r.IsValid() {
		return "Unknown"
	}
	return rankTitles[r]
}

// Int returns the rank as a plain int.
func (r Rank) Int() int {
	return int(r)
}

// RankPolicy holds the static promotion thresholds. Rank 0 is left by
// accumulating points; every later rank is left by growing a qualified
// direct downline. The figures are configuration, loaded at startup and
// never mutated at runtime.
type RankPolicy struct {
	// PointsThreshold is the points balance required for rank 0 -> 1.
	PointsThreshold int64
	// DownlineThreshold is, for rank r -> r+1 with r >= 1, the number of
	// direct downline members that must themselves hold rank >= r.
	DownlineThreshold int
}

// DefaultRankPolicy returns the thresholds observed in production copy:
// 100 points to become a Member, then three qualified direct referrals
// per tier.
func DefaultRankPolicy() RankPolicy {
	return RankPolicy{
		PointsThreshold:   100,
		DownlineThreshold: 3,
	}
}

// Validate checks the policy for usable threshold values.
func (p RankPolicy) Validate() error {
	if p.PointsThreshold <= 0 {
		return shared.NewDomainError("INVALID_RANK_POLICY", "points threshold must be positive")
	}
	if p.DownlineThreshold <= 0 {
		return shared.NewDomainError("INVALID_RANK_POLICY", "downline threshold must be positive")
	}
	return nil
}

// NextRequirement describes what a user at the given rank must do to be
// promoted. Shown on the dashboard rank card.
func (p RankPolicy) NextRequirement(r Rank) string {
	switch {
	case r.IsTerminal():
		return "You hold the highest rank"
	case r == MinRank:
		return fmt.Sprintf("Collect %d points to reach %s", p.PointsThreshold, (r + 1).Title())
	default:
		return fmt.Sprintf("%d direct referrals must reach %s", p.DownlineThreshold, r.Title())
	}
}
