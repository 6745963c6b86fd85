package types

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

const (
	DecisionPending  = "pending"
	DecisionApproved = "approved"
	DecisionRejected = "rejected"
)

// MergeProposal is one candidate consolidation of two near-duplicate concepts.
// Applied can only become true after the decision is approved and the graph
// consolidation for this proposal succeeded.
type MergeProposal struct {
	ID       uuid.UUID            `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	ReviewID uuid.UUID            `gorm:"type:uuid;not null;index:idx_merge_proposal_review" json:"review_id"`
	Review   *NormalizationReview `gorm:"constraint:OnDelete:CASCADE;foreignKey:ReviewID;references:ID" json:"review,omitempty"`

	ConceptA      string         `gorm:"column:concept_a;not null" json:"concept_a"`
	ConceptB      string         `gorm:"column:concept_b;not null" json:"concept_b"`
	CanonicalName string         `gorm:"column:canonical_name;not null" json:"canonical_name"`
	Variants      datatypes.JSON `gorm:"column:variants;type:jsonb" json:"variants"` // []string
	Rationale     string         `gorm:"column:rationale" json:"rationale"`

	Decision string `gorm:"column:decision;not null;default:pending" json:"decision"`
	Comment  string `gorm:"column:comment" json:"comment"`
	Applied  bool   `gorm:"column:applied;not null;default:false" json:"applied"`

	CreatedAt time.Time `gorm:"not null;default:now()" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null;default:now()" json:"updated_at"`
}

func (MergeProposal) TableName() string { return "merge_proposal" }

func ValidDecision(d string) bool {
	switch d {
	case DecisionPending, DecisionApproved, DecisionRejected:
		return true
	default:
		return false
	}
}
