package types

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Concept rows are produced by the extraction collaborator; the normalization
// core only reads and merges them. Name is unique among a course's live rows;
// merged-away rows are soft-deleted and keep their name, so the uniqueness
// index is a raw partial index on deleted_at (see db.AutoMigrateAll) rather
// than a gorm uniqueIndex tag. A later extraction pass may re-ingest a name
// that was merged away.
type Concept struct {
	ID       uuid.UUID `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	CourseID uuid.UUID `gorm:"type:uuid;not null;index:idx_concept_course" json:"course_id"`
	Course   *Course   `gorm:"constraint:OnDelete:CASCADE;foreignKey:CourseID;references:ID" json:"course,omitempty"`
	Name     string    `gorm:"column:name;not null" json:"name"`

	Evidence []*ConceptEvidence `gorm:"foreignKey:ConceptID;references:ID" json:"evidence,omitempty"`

	CreatedAt time.Time      `gorm:"not null;default:now()" json:"created_at"`
	UpdatedAt time.Time      `gorm:"not null;default:now()" json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`
}

func (Concept) TableName() string { return "concept" }

// ConceptEvidence is a definition or snippet supporting a concept, gathered
// from a source document during extraction.
type ConceptEvidence struct {
	ID         uuid.UUID  `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	ConceptID  uuid.UUID  `gorm:"type:uuid;not null;index:idx_concept_evidence_concept" json:"concept_id"`
	Concept    *Concept   `gorm:"constraint:OnDelete:CASCADE;foreignKey:ConceptID;references:ID" json:"concept,omitempty"`
	DocumentID *uuid.UUID `gorm:"type:uuid;index:idx_concept_evidence_document" json:"document_id,omitempty"`
	Document   *Document  `gorm:"constraint:OnDelete:SET NULL;foreignKey:DocumentID;references:ID" json:"document,omitempty"`
	Snippet    string     `gorm:"column:snippet;not null" json:"snippet"`

	CreatedAt time.Time `gorm:"not null;default:now()" json:"created_at"`
}

func (ConceptEvidence) TableName() string { return "concept_evidence" }
