package services

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"

	"github.com/knograph/knograph-backend/internal/platform/apierr"
	"github.com/knograph/knograph-backend/internal/types"
)

type dualWriteHarness struct {
	svc          DualWriteService
	courseRepo   *fakeCourseRepo
	documentRepo *fakeDocumentRepo
	conceptRepo  *fakeConceptRepo
	graphStore   *fakeGraphStore
}

func newDualWriteHarness(t *testing.T, courses ...*types.Course) *dualWriteHarness {
	t.Helper()
	courseRepo := newFakeCourseRepo(courses...)
	documentRepo := newFakeDocumentRepo()
	conceptRepo := newFakeConceptRepo()
	graphStore := newFakeGraphStore()
	return &dualWriteHarness{
		svc:          NewDualWriteService(testLogger(t), courseRepo, documentRepo, conceptRepo, graphStore),
		courseRepo:   courseRepo,
		documentRepo: documentRepo,
		conceptRepo:  conceptRepo,
		graphStore:   graphStore,
	}
}

func TestCreateCourseWritesBothStores(t *testing.T) {
	h := newDualWriteHarness(t)
	userID := uuid.New()

	course, err := h.svc.CreateCourse(context.Background(), userID, "Linear Algebra", "matrices and maps")
	if err != nil {
		t.Fatalf("CreateCourse: %v", err)
	}
	if h.courseRepo.courses[course.ID] == nil {
		t.Fatalf("course missing from relational store")
	}
	if len(h.graphStore.upsertedCourses) != 1 || h.graphStore.upsertedCourses[0] != course.ID {
		t.Fatalf("course not mirrored to graph: %v", h.graphStore.upsertedCourses)
	}
}

func TestCreateCourseRollsBackWhenGraphFails(t *testing.T) {
	h := newDualWriteHarness(t)
	h.graphStore.upsertCourseErr = errors.New("neo4j down")

	_, err := h.svc.CreateCourse(context.Background(), uuid.New(), "Linear Algebra", "")
	if !apierr.IsUpstream(err) {
		t.Fatalf("graph failure: want upstream error, got %v", err)
	}

	// Compensation removed the orphaned relational row.
	if len(h.courseRepo.courses) != 0 {
		t.Fatalf("relational rows after rollback: want=0 got=%d", len(h.courseRepo.courses))
	}
	if len(h.courseRepo.hardDeletes) != 1 {
		t.Fatalf("hard deletes: want=1 got=%d", len(h.courseRepo.hardDeletes))
	}
}

func TestCreateCourseRequiresTitle(t *testing.T) {
	h := newDualWriteHarness(t)
	_, err := h.svc.CreateCourse(context.Background(), uuid.New(), "", "")
	if !apierr.IsValidation(err) {
		t.Fatalf("missing title: want validation error, got %v", err)
	}
	if len(h.graphStore.upsertedCourses) != 0 {
		t.Fatalf("validation failure touched the graph")
	}
}

func TestUpdateCourseRestoresValuesWhenGraphFails(t *testing.T) {
	userID := uuid.New()
	course := &types.Course{ID: uuid.New(), UserID: userID, Title: "Before", Description: "old"}
	h := newDualWriteHarness(t, course)
	h.graphStore.upsertCourseErr = errors.New("neo4j down")

	_, err := h.svc.UpdateCourse(context.Background(), course.ID, userID, "After", "new")
	if !apierr.IsUpstream(err) {
		t.Fatalf("graph failure: want upstream error, got %v", err)
	}

	stored := h.courseRepo.courses[course.ID]
	if stored.Title != "Before" || stored.Description != "old" {
		t.Fatalf("course values after rollback: want Before/old got %q/%q", stored.Title, stored.Description)
	}
}

func TestDeleteCourseRestoresWhenGraphFails(t *testing.T) {
	userID := uuid.New()
	course := &types.Course{ID: uuid.New(), UserID: userID, Title: "Linear Algebra"}
	h := newDualWriteHarness(t, course)
	h.graphStore.deleteCourseErr = errors.New("neo4j down")

	err := h.svc.DeleteCourse(context.Background(), course.ID, userID)
	if !apierr.IsUpstream(err) {
		t.Fatalf("graph failure: want upstream error, got %v", err)
	}
	if h.courseRepo.deleted[course.ID] {
		t.Fatalf("course still soft-deleted after rollback")
	}
	if len(h.courseRepo.restores) != 1 {
		t.Fatalf("restores: want=1 got=%d", len(h.courseRepo.restores))
	}
}

func TestRelationalFailureLeavesGraphUntouched(t *testing.T) {
	h := newDualWriteHarness(t)
	h.courseRepo.createErr = errors.New("postgres down")

	_, err := h.svc.CreateCourse(context.Background(), uuid.New(), "Linear Algebra", "")
	if err == nil {
		t.Fatalf("CreateCourse: want error when relational write fails")
	}
	if apierr.IsUpstream(err) {
		t.Fatalf("relational failure must not read as graph upstream error: %v", err)
	}
	if len(h.graphStore.upsertedCourses) != 0 {
		t.Fatalf("graph written after relational failure")
	}
}

func TestCrossUserCourseAccessReadsNotFound(t *testing.T) {
	owner := uuid.New()
	course := &types.Course{ID: uuid.New(), UserID: owner, Title: "Linear Algebra"}
	h := newDualWriteHarness(t, course)

	_, err := h.svc.UpdateCourse(context.Background(), course.ID, uuid.New(), "Hijack", "")
	if !apierr.IsNotFound(err) {
		t.Fatalf("cross-user update: want not-found, got %v", err)
	}
	if err := h.svc.DeleteCourse(context.Background(), course.ID, uuid.New()); !apierr.IsNotFound(err) {
		t.Fatalf("cross-user delete: want not-found, got %v", err)
	}
	if h.courseRepo.courses[course.ID].Title != "Linear Algebra" {
		t.Fatalf("cross-user access mutated the course")
	}
}

func TestCreateDocumentRollsBackWhenGraphFails(t *testing.T) {
	userID := uuid.New()
	course := &types.Course{ID: uuid.New(), UserID: userID, Title: "Linear Algebra"}
	h := newDualWriteHarness(t, course)
	h.graphStore.upsertDocErr = errors.New("neo4j down")

	_, err := h.svc.CreateDocument(context.Background(), course.ID, userID, "Lecture 1", "application/pdf", 1024)
	if !apierr.IsUpstream(err) {
		t.Fatalf("graph failure: want upstream error, got %v", err)
	}
	if len(h.documentRepo.documents) != 0 {
		t.Fatalf("document rows after rollback: want=0 got=%d", len(h.documentRepo.documents))
	}
	if len(h.documentRepo.hardDeletes) != 1 {
		t.Fatalf("hard deletes: want=1 got=%d", len(h.documentRepo.hardDeletes))
	}
}

func TestDeleteDocumentChecksCourseMembership(t *testing.T) {
	userID := uuid.New()
	courseA := &types.Course{ID: uuid.New(), UserID: userID, Title: "A"}
	courseB := &types.Course{ID: uuid.New(), UserID: userID, Title: "B"}
	h := newDualWriteHarness(t, courseA, courseB)

	document, err := h.svc.CreateDocument(context.Background(), courseA.ID, userID, "Lecture 1", "application/pdf", 10)
	if err != nil {
		t.Fatalf("CreateDocument: %v", err)
	}

	// Right id, wrong course: reads as not-found.
	if err := h.svc.DeleteDocument(context.Background(), courseB.ID, userID, document.ID); !apierr.IsNotFound(err) {
		t.Fatalf("cross-course document delete: want not-found, got %v", err)
	}
	if err := h.svc.DeleteDocument(context.Background(), courseA.ID, userID, document.ID); err != nil {
		t.Fatalf("DeleteDocument: %v", err)
	}
	if len(h.graphStore.deletedDocs) != 1 {
		t.Fatalf("graph document deletes: want=1 got=%d", len(h.graphStore.deletedDocs))
	}
}

func TestIngestConceptFactsMirrorsMentions(t *testing.T) {
	userID := uuid.New()
	course := &types.Course{ID: uuid.New(), UserID: userID, Title: "Linear Algebra"}
	h := newDualWriteHarness(t, course)
	docID := uuid.New()

	facts := []ConceptFactInput{
		{Name: "Eigenvalue", Evidence: []ConceptEvidenceInput{
			{DocumentID: &docID, Snippet: "An eigenvalue scales its eigenvector."},
		}},
		{Name: "Determinant"},
		{Name: ""}, // dropped silently
	}
	ingested, err := h.svc.IngestConceptFacts(context.Background(), course.ID, userID, facts)
	if err != nil {
		t.Fatalf("IngestConceptFacts: %v", err)
	}
	if ingested != 2 {
		t.Fatalf("ingested: want=2 got=%d", ingested)
	}
	if len(h.conceptRepo.evidence) != 1 {
		t.Fatalf("evidence rows: want=1 got=%d", len(h.conceptRepo.evidence))
	}
	if len(h.graphStore.mentions) != 2 {
		t.Fatalf("mention mirror calls: want=2 got=%d", len(h.graphStore.mentions))
	}
	first := h.graphStore.mentions[0]
	if first.conceptName != "Eigenvalue" || len(first.documentIDs) != 1 || first.documentIDs[0] != docID {
		t.Fatalf("mention mirror: want Eigenvalue -> [%s], got %+v", docID, first)
	}
}

func TestIngestConceptFactsCompensatesFailedFact(t *testing.T) {
	userID := uuid.New()
	course := &types.Course{ID: uuid.New(), UserID: userID, Title: "Linear Algebra"}
	h := newDualWriteHarness(t, course)
	h.graphStore.mentionsErr = errors.New("neo4j down")
	docID := uuid.New()

	ingested, err := h.svc.IngestConceptFacts(context.Background(), course.ID, userID, []ConceptFactInput{
		{Name: "Eigenvalue", Evidence: []ConceptEvidenceInput{
			{DocumentID: &docID, Snippet: "An eigenvalue scales its eigenvector."},
		}},
		{Name: "Determinant"},
	})
	if !apierr.IsUpstream(err) {
		t.Fatalf("graph failure: want upstream error, got %v", err)
	}
	if ingested != 0 {
		t.Fatalf("ingested before failure: want=0 got=%d", ingested)
	}

	// The failing fact's rows were compensated away, so Postgres matches the
	// untouched graph.
	if len(h.conceptRepo.concepts) != 0 {
		t.Fatalf("concept rows after rollback: want=0 got=%d", len(h.conceptRepo.concepts))
	}
	if len(h.conceptRepo.evidence) != 0 {
		t.Fatalf("evidence rows after rollback: want=0 got=%d", len(h.conceptRepo.evidence))
	}
	if len(h.conceptRepo.hardDeletes) != 1 || len(h.conceptRepo.evidenceDeletes) != 1 {
		t.Fatalf("compensation calls: want one concept and one evidence delete, got %d/%d",
			len(h.conceptRepo.hardDeletes), len(h.conceptRepo.evidenceDeletes))
	}
}

func TestIngestConceptFactsKeepsPreexistingConceptOnGraphFailure(t *testing.T) {
	userID := uuid.New()
	course := &types.Course{ID: uuid.New(), UserID: userID, Title: "Linear Algebra"}
	h := newDualWriteHarness(t, course)
	h.conceptRepo.concepts = []*types.Concept{
		{ID: uuid.New(), CourseID: course.ID, Name: "Eigenvalue"},
	}
	h.graphStore.mentionsErr = errors.New("neo4j down")

	_, err := h.svc.IngestConceptFacts(context.Background(), course.ID, userID, []ConceptFactInput{
		{Name: "Eigenvalue", Evidence: []ConceptEvidenceInput{{Snippet: "scales its eigenvector"}}},
	})
	if !apierr.IsUpstream(err) {
		t.Fatalf("graph failure: want upstream error, got %v", err)
	}

	// Only the new evidence is compensated; the concept row predates the call.
	if len(h.conceptRepo.concepts) != 1 {
		t.Fatalf("pre-existing concept removed by rollback")
	}
	if len(h.conceptRepo.hardDeletes) != 0 {
		t.Fatalf("hard deletes: want=0 got=%d", len(h.conceptRepo.hardDeletes))
	}
	if len(h.conceptRepo.evidence) != 0 {
		t.Fatalf("evidence rows after rollback: want=0 got=%d", len(h.conceptRepo.evidence))
	}
}
