package ledger

import (
	"time"

	"github.com/google/uuid"
	"github.com/refnet/backend/internal/domain/shared"
)

// PointAward anchors idempotency for a distribution. Exactly one row
// exists per award identifier; the unique index makes the database the
// authoritative duplicate guard regardless of any cache state.
type PointAward struct {
	shared.BaseEntity
	AwardID         uuid.UUID `gorm:"type:uuid;not null;uniqueIndex"`
	SourceUserID    uuid.UUID `gorm:"type:uuid;not null;index"`
	TotalPoints     int64     `gorm:"not null"`
	DistributedByID uuid.UUID `gorm:"type:uuid;not null"`
	AppliedAt       time.Time `gorm:"not null"`
	RecordCount     int       `gorm:"not null"`
	DistributedSum  int64     `gorm:"not null"`
}

// NewPointAward creates the idempotency anchor for an applied award.
func NewPointAward(awardID, sourceUserID, distributedByID uuid.UUID, totalPoints int64, recordCount int, distributedSum int64) (*PointAward, error) {
	if awardID == uuid.Nil {
		return nil, shared.ErrInvalidInput
	}
	if sourceUserID == uuid.Nil || distributedByID == uuid.Nil {
		return nil, shared.ErrInvalidInput
	}
	if totalPoints <= 0 {
		return nil, shared.ErrInvalidAmount
	}
	if distributedSum > totalPoints*int64(MaxLevel+1) {
		return nil, shared.ErrLedgerWrite
	}
	return &PointAward{
		BaseEntity:      shared.NewBaseEntity(),
		AwardID:         awardID,
		SourceUserID:    sourceUserID,
		TotalPoints:     totalPoints,
		DistributedByID: distributedByID,
		AppliedAt:       time.Now(),
		RecordCount:     recordCount,
		DistributedSum:  distributedSum,
	}, nil
}

// TableName sets the table name for GORM.
func (PointAward) TableName() string {
	return "point_awards"
}
