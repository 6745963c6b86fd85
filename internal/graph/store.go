package graph

import (
	"context"

	"github.com/google/uuid"

	"github.com/knograph/knograph-backend/internal/types"
)

// Store is the mirrored graph projection of courses, documents and concepts.
// The relational store is authoritative for existence; this projection is
// written only by the dual-store writer and the merge applier.
type Store interface {
	UpsertCourse(ctx context.Context, course *types.Course) error
	DeleteCourse(ctx context.Context, courseID uuid.UUID) error

	UpsertDocument(ctx context.Context, document *types.Document) error
	DeleteDocument(ctx context.Context, documentID uuid.UUID) error

	// UpsertConceptMentions mirrors a concept node and its MENTIONS edges
	// from the documents that evidence it.
	UpsertConceptMentions(ctx context.Context, courseID uuid.UUID, conceptName string, documentIDs []uuid.UUID) error

	// ConsolidateConcepts merges the named variant nodes of a course into a
	// single node carrying canonicalName. All MENTIONS relationships pointing
	// at a variant are redirected to the surviving node with deduplication,
	// then the variant nodes are removed. Atomic per call.
	ConsolidateConcepts(ctx context.Context, courseID uuid.UUID, canonicalName string, variantNames []string) error
}
