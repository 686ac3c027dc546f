package ledger

import (
	"time"

	"github.com/google/uuid"
	"github.com/refnet/backend/internal/domain/shared"
)

// MaxLevel caps how far up the referral chain a single award can reach.
// Level 0 is the direct award; levels 1..MaxLevel are ancestor shares.
const MaxLevel = 10

// DistributionRecord is one immutable line of the audit trail: a point
// transfer to a single user produced by a single award. Once written a
// record is never updated or deleted; corrections happen through new
// awards.
type DistributionRecord struct {
	shared.BaseEntity
	AwardID         uuid.UUID `gorm:"type:uuid;not null;index"`
	SourceUserID    uuid.UUID `gorm:"type:uuid;not null;index"`
	TargetUserID    uuid.UUID `gorm:"type:uuid;not null;index"`
	Points          int64     `gorm:"not null"`
	Level           int       `gorm:"not null"`
	Percentage      int       `gorm:"not null"`
	DistributedByID uuid.UUID `gorm:"type:uuid;not null"`
	Timestamp       time.Time `gorm:"not null;index"`
}

// NewDistributionRecord validates and creates a ledger record.
func NewDistributionRecord(
	awardID, sourceUserID, targetUserID, distributedByID uuid.UUID,
	points int64,
	level, percentage int,
) (*DistributionRecord, error) {
	if awardID == uuid.Nil {
		return nil, shared.NewDomainError("LEDGER_WRITE_FAILED", "Award ID cannot be empty")
	}
	if sourceUserID == uuid.Nil || targetUserID == uuid.Nil {
		return nil, shared.NewDomainError("LEDGER_WRITE_FAILED", "Record is missing a user reference")
	}
	if distributedByID == uuid.Nil {
		return nil, shared.NewDomainError("LEDGER_WRITE_FAILED", "Record is missing the distributing admin")
	}
	if points <= 0 {
		return nil, shared.NewDomainError("LEDGER_WRITE_FAILED", "Record points must be positive")
	}
	if level < 0 || level > MaxLevel {
		return nil, shared.NewDomainError("LEDGER_WRITE_FAILED", "Record level is out of range")
	}
	if percentage < 0 || percentage > 100 {
		return nil, shared.NewDomainError("LEDGER_WRITE_FAILED", "Record percentage must lie in [0,100]")
	}
	if level == 0 && sourceUserID != targetUserID {
		return nil, shared.NewDomainError("LEDGER_WRITE_FAILED", "Level-0 record must target the source user")
	}
	if level > 0 && sourceUserID == targetUserID {
		return nil, shared.NewDomainError("LEDGER_WRITE_FAILED", "Ancestor record cannot target the source user")
	}

	return &DistributionRecord{
		BaseEntity:      shared.NewBaseEntity(),
		AwardID:         awardID,
		SourceUserID:    sourceUserID,
		TargetUserID:    targetUserID,
		Points:          points,
		Level:           level,
		Percentage:      percentage,
		DistributedByID: distributedByID,
		Timestamp:       time.Now(),
	}, nil
}

// IsDirectAward reports whether the record is the level-0 credit to the
// awarded user itself.
func (r *DistributionRecord) IsDirectAward() bool {
	return r.Level == 0
}

// TableName sets the table name for GORM.
func (DistributionRecord) TableName() string {
	return "distribution_records"
}
