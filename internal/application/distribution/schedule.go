package distribution

import (
	"github.com/refnet/backend/internal/domain/ledger"
	"github.com/refnet/backend/internal/domain/shared"
)

// PercentageSchedule maps upward levels to the share of an award each
// ancestor receives. Index 0 is the direct referrer (level 1), index 1
// the grandreferrer (level 2), and so on. Levels past the end of the
// schedule receive nothing.
type PercentageSchedule []int

// DefaultPercentageSchedule returns the production schedule: the direct
// referrer gets 10%, the grandreferrer 5%.
func DefaultPercentageSchedule() PercentageSchedule {
	return PercentageSchedule{10, 5}
}

// Validate checks the schedule shape.
func (s PercentageSchedule) Validate() error {
	if len(s) == 0 {
		return shared.NewDomainError("INVALID_SCHEDULE", "Percentage schedule cannot be empty")
	}
	if len(s) > ledger.MaxLevel {
		return shared.NewDomainError("INVALID_SCHEDULE", "Percentage schedule exceeds the maximum level depth")
	}
	for _, p := range s {
		if p < 0 || p > 100 {
			return shared.NewDomainError("INVALID_SCHEDULE", "Schedule percentages must lie in [0,100]")
		}
	}
	return nil
}

// Depth returns how many ancestor levels the schedule reaches.
func (s PercentageSchedule) Depth() int {
	return len(s)
}

// PercentageAt returns the percentage for the given level (1-based).
// Levels outside the schedule yield zero.
func (s PercentageSchedule) PercentageAt(level int) int {
	if level < 1 || level > len(s) {
		return 0
	}
	return s[level-1]
}

// ShareAt computes the integer share of totalPoints at the given level.
// Fractions are dropped: floor(totalPoints * percentage / 100).
func (s PercentageSchedule) ShareAt(totalPoints int64, level int) int64 {
	return totalPoints * int64(s.PercentageAt(level)) / 100
}
