package types

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

const (
	ReviewStatusPending  = "pending"
	ReviewStatusApplying = "applying"
	ReviewStatusApplied  = "applied"
)

// NormalizationReview stages a batch of merge proposals for one course between
// run completion and apply. Decisions may only change while status is pending;
// the applier transitions the row to applying so a second apply of the same id
// conflicts, and the row (and its proposals) are deleted once applied.
type NormalizationReview struct {
	ID        uuid.UUID `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	CourseID  uuid.UUID `gorm:"type:uuid;not null;index:idx_normalization_review_course" json:"course_id"`
	Course    *Course   `gorm:"constraint:OnDelete:CASCADE;foreignKey:CourseID;references:ID" json:"course,omitempty"`
	Status    string    `gorm:"column:status;not null;default:pending" json:"status"`
	CreatedBy uuid.UUID `gorm:"type:uuid;not null" json:"created_by"`

	// Concept name -> evidence snippets captured at run time, so the reviewer
	// sees what the agent saw even if extraction runs again meanwhile.
	Definitions datatypes.JSON `gorm:"column:definitions;type:jsonb" json:"definitions"`

	Proposals []*MergeProposal `gorm:"foreignKey:ReviewID;references:ID" json:"proposals,omitempty"`

	CreatedAt time.Time `gorm:"not null;default:now()" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null;default:now()" json:"updated_at"`
}

func (NormalizationReview) TableName() string { return "normalization_review" }
