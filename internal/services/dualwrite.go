package services

import (
	"context"

	"github.com/google/uuid"

	"github.com/knograph/knograph-backend/internal/graph"
	"github.com/knograph/knograph-backend/internal/platform/apierr"
	"github.com/knograph/knograph-backend/internal/platform/logger"
	"github.com/knograph/knograph-backend/internal/repos"
	"github.com/knograph/knograph-backend/internal/types"
)

// ConceptEvidenceInput is one supporting snippet for an ingested concept fact.
type ConceptEvidenceInput struct {
	DocumentID *uuid.UUID `json:"document_id,omitempty"`
	Snippet    string     `json:"snippet"`
}

// ConceptFactInput is what the external extraction collaborator hands over:
// a concept name plus the evidence gathered for it.
type ConceptFactInput struct {
	Name     string                 `json:"name"`
	Evidence []ConceptEvidenceInput `json:"evidence,omitempty"`
}

// DualWriteService performs single logical mutations against Postgres and the
// mirrored graph projection. Ordering rule: Postgres (the system of record)
// is written first; only on relational success is the graph touched. A graph
// failure rolls the relational write back and surfaces UpstreamError, leaving
// both stores in their pre-operation state. Batch ingestion applies the same
// rule per fact. No retries.
type DualWriteService interface {
	CreateCourse(ctx context.Context, userID uuid.UUID, title, description string) (*types.Course, error)
	UpdateCourse(ctx context.Context, courseID, userID uuid.UUID, title, description string) (*types.Course, error)
	DeleteCourse(ctx context.Context, courseID, userID uuid.UUID) error

	CreateDocument(ctx context.Context, courseID, userID uuid.UUID, title, contentType string, sizeBytes int64) (*types.Document, error)
	DeleteDocument(ctx context.Context, courseID, userID, documentID uuid.UUID) error

	// IngestConceptFacts is the extraction collaborator's door: it upserts
	// concept rows plus evidence and mirrors the mentions into the graph.
	// Each fact is its own dual write; on a graph failure the failing fact's
	// relational rows are compensated away and the already-ingested count is
	// returned alongside the error, so both stores agree fact by fact.
	IngestConceptFacts(ctx context.Context, courseID, userID uuid.UUID, facts []ConceptFactInput) (int, error)
}

type dualWriteService struct {
	log          *logger.Logger
	courseRepo   repos.CourseRepo
	documentRepo repos.DocumentRepo
	conceptRepo  repos.ConceptRepo
	graphStore   graph.Store
}

func NewDualWriteService(
	baseLog *logger.Logger,
	courseRepo repos.CourseRepo,
	documentRepo repos.DocumentRepo,
	conceptRepo repos.ConceptRepo,
	graphStore graph.Store,
) DualWriteService {
	return &dualWriteService{
		log:          baseLog.With("service", "DualWriteService"),
		courseRepo:   courseRepo,
		documentRepo: documentRepo,
		conceptRepo:  conceptRepo,
		graphStore:   graphStore,
	}
}

func (dw *dualWriteService) CreateCourse(ctx context.Context, userID uuid.UUID, title, description string) (*types.Course, error) {
	if title == "" {
		return nil, apierr.Validationf("missing_title", "a course needs a title")
	}
	course := &types.Course{
		ID:          uuid.New(),
		UserID:      userID,
		Title:       title,
		Description: description,
	}
	if _, err := dw.courseRepo.Create(ctx, nil, []*types.Course{course}); err != nil {
		return nil, err
	}
	if err := dw.graphStore.UpsertCourse(ctx, course); err != nil {
		dw.log.Error("Graph projection failed for course create; rolling back", "course_id", course.ID, "error", err)
		if rbErr := dw.courseRepo.HardDelete(ctx, nil, course.ID); rbErr != nil {
			dw.log.Error("Rollback of course create failed", "course_id", course.ID, "error", rbErr)
		}
		return nil, apierr.Upstream("graph_write_failed", err)
	}
	return course, nil
}

func (dw *dualWriteService) UpdateCourse(ctx context.Context, courseID, userID uuid.UUID, title, description string) (*types.Course, error) {
	course, err := dw.ownedCourse(ctx, courseID, userID)
	if err != nil {
		return nil, err
	}

	prevTitle, prevDescription := course.Title, course.Description
	if title != "" {
		course.Title = title
	}
	course.Description = description

	if err := dw.courseRepo.Update(ctx, nil, course); err != nil {
		return nil, err
	}
	if err := dw.graphStore.UpsertCourse(ctx, course); err != nil {
		dw.log.Error("Graph projection failed for course update; rolling back", "course_id", courseID, "error", err)
		course.Title, course.Description = prevTitle, prevDescription
		if rbErr := dw.courseRepo.Update(ctx, nil, course); rbErr != nil {
			dw.log.Error("Rollback of course update failed", "course_id", courseID, "error", rbErr)
		}
		return nil, apierr.Upstream("graph_write_failed", err)
	}
	return course, nil
}

func (dw *dualWriteService) DeleteCourse(ctx context.Context, courseID, userID uuid.UUID) error {
	if _, err := dw.ownedCourse(ctx, courseID, userID); err != nil {
		return err
	}
	if err := dw.courseRepo.Delete(ctx, nil, courseID); err != nil {
		return err
	}
	if err := dw.graphStore.DeleteCourse(ctx, courseID); err != nil {
		dw.log.Error("Graph projection failed for course delete; rolling back", "course_id", courseID, "error", err)
		if rbErr := dw.courseRepo.Restore(ctx, nil, courseID); rbErr != nil {
			dw.log.Error("Rollback of course delete failed", "course_id", courseID, "error", rbErr)
		}
		return apierr.Upstream("graph_write_failed", err)
	}
	return nil
}

func (dw *dualWriteService) CreateDocument(ctx context.Context, courseID, userID uuid.UUID, title, contentType string, sizeBytes int64) (*types.Document, error) {
	if title == "" {
		return nil, apierr.Validationf("missing_title", "a document needs a title")
	}
	if _, err := dw.ownedCourse(ctx, courseID, userID); err != nil {
		return nil, err
	}
	document := &types.Document{
		ID:          uuid.New(),
		CourseID:    courseID,
		Title:       title,
		ContentType: contentType,
		SizeBytes:   sizeBytes,
	}
	if _, err := dw.documentRepo.Create(ctx, nil, []*types.Document{document}); err != nil {
		return nil, err
	}
	if err := dw.graphStore.UpsertDocument(ctx, document); err != nil {
		dw.log.Error("Graph projection failed for document create; rolling back", "document_id", document.ID, "error", err)
		if rbErr := dw.documentRepo.HardDelete(ctx, nil, document.ID); rbErr != nil {
			dw.log.Error("Rollback of document create failed", "document_id", document.ID, "error", rbErr)
		}
		return nil, apierr.Upstream("graph_write_failed", err)
	}
	return document, nil
}

func (dw *dualWriteService) DeleteDocument(ctx context.Context, courseID, userID, documentID uuid.UUID) error {
	if _, err := dw.ownedCourse(ctx, courseID, userID); err != nil {
		return err
	}
	docs, err := dw.documentRepo.GetByIDs(ctx, nil, []uuid.UUID{documentID})
	if err != nil {
		return err
	}
	if len(docs) == 0 || docs[0] == nil || docs[0].CourseID != courseID {
		return apierr.NotFoundf("document_not_found", "document %s not found", documentID)
	}
	if err := dw.documentRepo.Delete(ctx, nil, documentID); err != nil {
		return err
	}
	if err := dw.graphStore.DeleteDocument(ctx, documentID); err != nil {
		dw.log.Error("Graph projection failed for document delete; rolling back", "document_id", documentID, "error", err)
		if rbErr := dw.documentRepo.Restore(ctx, nil, documentID); rbErr != nil {
			dw.log.Error("Rollback of document delete failed", "document_id", documentID, "error", rbErr)
		}
		return apierr.Upstream("graph_write_failed", err)
	}
	return nil
}

func (dw *dualWriteService) IngestConceptFacts(ctx context.Context, courseID, userID uuid.UUID, facts []ConceptFactInput) (int, error) {
	if len(facts) == 0 {
		return 0, apierr.Validationf("empty_facts", "no concept facts submitted")
	}
	if _, err := dw.ownedCourse(ctx, courseID, userID); err != nil {
		return 0, err
	}

	ingested := 0
	for _, fact := range facts {
		if fact.Name == "" {
			continue
		}
		concept, created, err := dw.conceptRepo.Upsert(ctx, nil, courseID, fact.Name)
		if err != nil {
			return ingested, err
		}

		evidence := make([]*types.ConceptEvidence, 0, len(fact.Evidence))
		docIDs := make([]uuid.UUID, 0, len(fact.Evidence))
		for _, ev := range fact.Evidence {
			if ev.Snippet == "" {
				continue
			}
			evidence = append(evidence, &types.ConceptEvidence{
				ID:         uuid.New(),
				ConceptID:  concept.ID,
				DocumentID: ev.DocumentID,
				Snippet:    ev.Snippet,
			})
			if ev.DocumentID != nil {
				docIDs = append(docIDs, *ev.DocumentID)
			}
		}
		if err := dw.conceptRepo.AddEvidence(ctx, nil, evidence); err != nil {
			if created {
				if rbErr := dw.conceptRepo.HardDelete(ctx, nil, concept.ID); rbErr != nil {
					dw.log.Error("Rollback of concept ingest failed", "concept_id", concept.ID, "error", rbErr)
				}
			}
			return ingested, err
		}

		if err := dw.graphStore.UpsertConceptMentions(ctx, courseID, concept.Name, docIDs); err != nil {
			dw.log.Error("Graph projection failed for concept ingest; rolling back the fact", "course_id", courseID, "concept", concept.Name, "error", err)
			evidenceIDs := make([]uuid.UUID, 0, len(evidence))
			for _, ev := range evidence {
				evidenceIDs = append(evidenceIDs, ev.ID)
			}
			if rbErr := dw.conceptRepo.DeleteEvidence(ctx, nil, evidenceIDs); rbErr != nil {
				dw.log.Error("Rollback of concept evidence failed", "concept_id", concept.ID, "error", rbErr)
			}
			if created {
				if rbErr := dw.conceptRepo.HardDelete(ctx, nil, concept.ID); rbErr != nil {
					dw.log.Error("Rollback of concept ingest failed", "concept_id", concept.ID, "error", rbErr)
				}
			}
			return ingested, apierr.Upstream("graph_write_failed", err)
		}
		ingested++
	}
	return ingested, nil
}

func (dw *dualWriteService) ownedCourse(ctx context.Context, courseID, userID uuid.UUID) (*types.Course, error) {
	courses, err := dw.courseRepo.GetByIDs(ctx, nil, []uuid.UUID{courseID})
	if err != nil {
		return nil, err
	}
	// Cross-user access reads as not-found, same rule as cross-course reviews.
	if len(courses) == 0 || courses[0] == nil || courses[0].UserID != userID {
		return nil, apierr.NotFoundf("course_not_found", "course %s not found", courseID)
	}
	return courses[0], nil
}
