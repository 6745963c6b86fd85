package services

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/knograph/knograph-backend/internal/platform/logger"
	"github.com/knograph/knograph-backend/internal/repos"
	"github.com/knograph/knograph-backend/internal/types"
)

func testLogger(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.New("development")
	if err != nil {
		t.Fatalf("init test logger: %v", err)
	}
	return log
}

// passTx satisfies repos.TxRunner without a database: callbacks run directly
// against the fakes, which do not care about the nil tx. Callbacks are
// serialized, standing in for the row locks a real transaction would take.
type passTx struct {
	mu sync.Mutex
}

func (p *passTx) Transaction(fc func(tx *gorm.DB) error, _ ...*sql.TxOptions) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return fc(nil)
}

// ---- review repo ----

type fakeReviewRepo struct {
	mu      sync.Mutex
	reviews map[uuid.UUID]*types.NormalizationReview

	appliedProposals []uuid.UUID
}

func newFakeReviewRepo() *fakeReviewRepo {
	return &fakeReviewRepo{reviews: make(map[uuid.UUID]*types.NormalizationReview)}
}

func (fr *fakeReviewRepo) Create(_ context.Context, _ *gorm.DB, review *types.NormalizationReview) error {
	fr.mu.Lock()
	defer fr.mu.Unlock()
	fr.reviews[review.ID] = review
	return nil
}

func (fr *fakeReviewRepo) GetByID(_ context.Context, _ *gorm.DB, reviewID uuid.UUID) (*types.NormalizationReview, error) {
	fr.mu.Lock()
	defer fr.mu.Unlock()
	return fr.reviews[reviewID], nil
}

func (fr *fakeReviewRepo) GetByIDForUpdate(_ context.Context, _ *gorm.DB, reviewID uuid.UUID) (*types.NormalizationReview, error) {
	fr.mu.Lock()
	defer fr.mu.Unlock()
	return fr.reviews[reviewID], nil
}

func (fr *fakeReviewRepo) HasPendingForCourse(_ context.Context, _ *gorm.DB, courseID uuid.UUID) (bool, error) {
	fr.mu.Lock()
	defer fr.mu.Unlock()
	for _, r := range fr.reviews {
		if r.CourseID == courseID && (r.Status == types.ReviewStatusPending || r.Status == types.ReviewStatusApplying) {
			return true, nil
		}
	}
	return false, nil
}

func (fr *fakeReviewRepo) MarkApplying(_ context.Context, _ *gorm.DB, reviewID uuid.UUID) error {
	fr.mu.Lock()
	defer fr.mu.Unlock()
	if r, ok := fr.reviews[reviewID]; ok {
		r.Status = types.ReviewStatusApplying
	}
	return nil
}

func (fr *fakeReviewRepo) SetDecisions(_ context.Context, _ *gorm.DB, reviewID uuid.UUID, updates []repos.DecisionUpdate) (int64, error) {
	fr.mu.Lock()
	defer fr.mu.Unlock()
	review, ok := fr.reviews[reviewID]
	if !ok {
		return 0, nil
	}
	var updated int64
	for _, u := range updates {
		for _, p := range review.Proposals {
			if p.ID == u.ProposalID {
				p.Decision = u.Decision
				p.Comment = u.Comment
				updated++
			}
		}
	}
	return updated, nil
}

func (fr *fakeReviewRepo) SetProposalApplied(_ context.Context, _ *gorm.DB, proposalID uuid.UUID) error {
	fr.mu.Lock()
	defer fr.mu.Unlock()
	fr.appliedProposals = append(fr.appliedProposals, proposalID)
	for _, r := range fr.reviews {
		for _, p := range r.Proposals {
			if p.ID == proposalID {
				p.Applied = true
			}
		}
	}
	return nil
}

func (fr *fakeReviewRepo) MarkApplied(_ context.Context, _ *gorm.DB, reviewID uuid.UUID) error {
	fr.mu.Lock()
	defer fr.mu.Unlock()
	if r, ok := fr.reviews[reviewID]; ok {
		r.Status = types.ReviewStatusApplied
	}
	return nil
}

func (fr *fakeReviewRepo) DeleteStaged(_ context.Context, _ *gorm.DB, reviewID uuid.UUID) error {
	fr.mu.Lock()
	defer fr.mu.Unlock()
	delete(fr.reviews, reviewID)
	return nil
}

// ---- concept repo ----

type mergeCall struct {
	courseID      uuid.UUID
	canonicalName string
	variants      []string
}

type fakeConceptRepo struct {
	mu       sync.Mutex
	concepts []*types.Concept
	evidence []*types.ConceptEvidence

	upsertErr   error
	evidenceErr error
	mergeErr    map[string]error // canonical name -> failure
	merges      []mergeCall

	hardDeletes     []uuid.UUID
	evidenceDeletes []uuid.UUID
}

func newFakeConceptRepo(concepts ...*types.Concept) *fakeConceptRepo {
	return &fakeConceptRepo{concepts: concepts, mergeErr: make(map[string]error)}
}

func (fc *fakeConceptRepo) Upsert(_ context.Context, _ *gorm.DB, courseID uuid.UUID, name string) (*types.Concept, bool, error) {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	if fc.upsertErr != nil {
		return nil, false, fc.upsertErr
	}
	for _, c := range fc.concepts {
		if c.CourseID == courseID && c.Name == name {
			return c, false, nil
		}
	}
	concept := &types.Concept{ID: uuid.New(), CourseID: courseID, Name: name}
	fc.concepts = append(fc.concepts, concept)
	return concept, true, nil
}

func (fc *fakeConceptRepo) AddEvidence(_ context.Context, _ *gorm.DB, evidence []*types.ConceptEvidence) error {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	if fc.evidenceErr != nil {
		return fc.evidenceErr
	}
	fc.evidence = append(fc.evidence, evidence...)
	return nil
}

func (fc *fakeConceptRepo) DeleteEvidence(_ context.Context, _ *gorm.DB, evidenceIDs []uuid.UUID) error {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	drop := make(map[uuid.UUID]bool, len(evidenceIDs))
	for _, id := range evidenceIDs {
		drop[id] = true
		fc.evidenceDeletes = append(fc.evidenceDeletes, id)
	}
	kept := fc.evidence[:0]
	for _, ev := range fc.evidence {
		if !drop[ev.ID] {
			kept = append(kept, ev)
		}
	}
	fc.evidence = kept
	return nil
}

func (fc *fakeConceptRepo) HardDelete(_ context.Context, _ *gorm.DB, conceptID uuid.UUID) error {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	fc.hardDeletes = append(fc.hardDeletes, conceptID)
	kept := fc.concepts[:0]
	for _, c := range fc.concepts {
		if c.ID != conceptID {
			kept = append(kept, c)
		}
	}
	fc.concepts = kept
	return nil
}

func (fc *fakeConceptRepo) GetByCourseID(_ context.Context, _ *gorm.DB, courseID uuid.UUID, _ bool) ([]*types.Concept, error) {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	var out []*types.Concept
	for _, c := range fc.concepts {
		if c.CourseID == courseID {
			out = append(out, c)
		}
	}
	return out, nil
}

func (fc *fakeConceptRepo) GetByNames(_ context.Context, _ *gorm.DB, courseID uuid.UUID, names []string) ([]*types.Concept, error) {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	want := make(map[string]bool, len(names))
	for _, n := range names {
		want[n] = true
	}
	var out []*types.Concept
	for _, c := range fc.concepts {
		if c.CourseID == courseID && want[c.Name] {
			out = append(out, c)
		}
	}
	return out, nil
}

func (fc *fakeConceptRepo) MergeInto(_ context.Context, _ *gorm.DB, courseID uuid.UUID, canonicalName string, variantNames []string) error {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	if err := fc.mergeErr[canonicalName]; err != nil {
		return err
	}
	fc.merges = append(fc.merges, mergeCall{courseID: courseID, canonicalName: canonicalName, variants: variantNames})
	return nil
}

// ---- course / document repos ----

type fakeCourseRepo struct {
	mu      sync.Mutex
	courses map[uuid.UUID]*types.Course
	deleted map[uuid.UUID]bool

	createErr   error
	hardDeletes []uuid.UUID
	restores    []uuid.UUID
}

func newFakeCourseRepo(courses ...*types.Course) *fakeCourseRepo {
	fr := &fakeCourseRepo{
		courses: make(map[uuid.UUID]*types.Course),
		deleted: make(map[uuid.UUID]bool),
	}
	for _, c := range courses {
		fr.courses[c.ID] = c
	}
	return fr
}

func (fr *fakeCourseRepo) Create(_ context.Context, _ *gorm.DB, courses []*types.Course) ([]*types.Course, error) {
	fr.mu.Lock()
	defer fr.mu.Unlock()
	if fr.createErr != nil {
		return nil, fr.createErr
	}
	for _, c := range courses {
		fr.courses[c.ID] = c
	}
	return courses, nil
}

func (fr *fakeCourseRepo) GetByIDs(_ context.Context, _ *gorm.DB, courseIDs []uuid.UUID) ([]*types.Course, error) {
	fr.mu.Lock()
	defer fr.mu.Unlock()
	var out []*types.Course
	for _, id := range courseIDs {
		if c, ok := fr.courses[id]; ok && !fr.deleted[id] {
			out = append(out, c)
		}
	}
	return out, nil
}

func (fr *fakeCourseRepo) GetByUserIDs(_ context.Context, _ *gorm.DB, userIDs []uuid.UUID) ([]*types.Course, error) {
	fr.mu.Lock()
	defer fr.mu.Unlock()
	want := make(map[uuid.UUID]bool, len(userIDs))
	for _, id := range userIDs {
		want[id] = true
	}
	var out []*types.Course
	for id, c := range fr.courses {
		if want[c.UserID] && !fr.deleted[id] {
			out = append(out, c)
		}
	}
	return out, nil
}

func (fr *fakeCourseRepo) Update(_ context.Context, _ *gorm.DB, course *types.Course) error {
	fr.mu.Lock()
	defer fr.mu.Unlock()
	fr.courses[course.ID] = course
	return nil
}

func (fr *fakeCourseRepo) Delete(_ context.Context, _ *gorm.DB, courseID uuid.UUID) error {
	fr.mu.Lock()
	defer fr.mu.Unlock()
	fr.deleted[courseID] = true
	return nil
}

func (fr *fakeCourseRepo) Restore(_ context.Context, _ *gorm.DB, courseID uuid.UUID) error {
	fr.mu.Lock()
	defer fr.mu.Unlock()
	delete(fr.deleted, courseID)
	fr.restores = append(fr.restores, courseID)
	return nil
}

func (fr *fakeCourseRepo) HardDelete(_ context.Context, _ *gorm.DB, courseID uuid.UUID) error {
	fr.mu.Lock()
	defer fr.mu.Unlock()
	delete(fr.courses, courseID)
	delete(fr.deleted, courseID)
	fr.hardDeletes = append(fr.hardDeletes, courseID)
	return nil
}

type fakeDocumentRepo struct {
	mu        sync.Mutex
	documents map[uuid.UUID]*types.Document
	deleted   map[uuid.UUID]bool

	createErr   error
	hardDeletes []uuid.UUID
	restores    []uuid.UUID
}

func newFakeDocumentRepo(documents ...*types.Document) *fakeDocumentRepo {
	fr := &fakeDocumentRepo{
		documents: make(map[uuid.UUID]*types.Document),
		deleted:   make(map[uuid.UUID]bool),
	}
	for _, d := range documents {
		fr.documents[d.ID] = d
	}
	return fr
}

func (fr *fakeDocumentRepo) Create(_ context.Context, _ *gorm.DB, documents []*types.Document) ([]*types.Document, error) {
	fr.mu.Lock()
	defer fr.mu.Unlock()
	if fr.createErr != nil {
		return nil, fr.createErr
	}
	for _, d := range documents {
		fr.documents[d.ID] = d
	}
	return documents, nil
}

func (fr *fakeDocumentRepo) GetByIDs(_ context.Context, _ *gorm.DB, documentIDs []uuid.UUID) ([]*types.Document, error) {
	fr.mu.Lock()
	defer fr.mu.Unlock()
	var out []*types.Document
	for _, id := range documentIDs {
		if d, ok := fr.documents[id]; ok && !fr.deleted[id] {
			out = append(out, d)
		}
	}
	return out, nil
}

func (fr *fakeDocumentRepo) GetByCourseIDs(_ context.Context, _ *gorm.DB, courseIDs []uuid.UUID) ([]*types.Document, error) {
	fr.mu.Lock()
	defer fr.mu.Unlock()
	want := make(map[uuid.UUID]bool, len(courseIDs))
	for _, id := range courseIDs {
		want[id] = true
	}
	var out []*types.Document
	for id, d := range fr.documents {
		if want[d.CourseID] && !fr.deleted[id] {
			out = append(out, d)
		}
	}
	return out, nil
}

func (fr *fakeDocumentRepo) Delete(_ context.Context, _ *gorm.DB, documentID uuid.UUID) error {
	fr.mu.Lock()
	defer fr.mu.Unlock()
	fr.deleted[documentID] = true
	return nil
}

func (fr *fakeDocumentRepo) Restore(_ context.Context, _ *gorm.DB, documentID uuid.UUID) error {
	fr.mu.Lock()
	defer fr.mu.Unlock()
	delete(fr.deleted, documentID)
	fr.restores = append(fr.restores, documentID)
	return nil
}

func (fr *fakeDocumentRepo) HardDelete(_ context.Context, _ *gorm.DB, documentID uuid.UUID) error {
	fr.mu.Lock()
	defer fr.mu.Unlock()
	delete(fr.documents, documentID)
	delete(fr.deleted, documentID)
	fr.hardDeletes = append(fr.hardDeletes, documentID)
	return nil
}

// ---- graph store ----

type mentionCall struct {
	courseID    uuid.UUID
	conceptName string
	documentIDs []uuid.UUID
}

type consolidateCall struct {
	courseID      uuid.UUID
	canonicalName string
	variantNames  []string
}

type fakeGraphStore struct {
	mu sync.Mutex

	upsertCourseErr  error
	deleteCourseErr  error
	upsertDocErr     error
	deleteDocErr     error
	mentionsErr      error
	consolidateErr   map[string]error // canonical name -> failure
	consolidateDelay time.Duration

	upsertedCourses []uuid.UUID
	deletedCourses  []uuid.UUID
	upsertedDocs    []uuid.UUID
	deletedDocs     []uuid.UUID
	mentions        []mentionCall
	consolidations  []consolidateCall
}

func newFakeGraphStore() *fakeGraphStore {
	return &fakeGraphStore{consolidateErr: make(map[string]error)}
}

func (fg *fakeGraphStore) UpsertCourse(_ context.Context, course *types.Course) error {
	fg.mu.Lock()
	defer fg.mu.Unlock()
	if fg.upsertCourseErr != nil {
		return fg.upsertCourseErr
	}
	fg.upsertedCourses = append(fg.upsertedCourses, course.ID)
	return nil
}

func (fg *fakeGraphStore) DeleteCourse(_ context.Context, courseID uuid.UUID) error {
	fg.mu.Lock()
	defer fg.mu.Unlock()
	if fg.deleteCourseErr != nil {
		return fg.deleteCourseErr
	}
	fg.deletedCourses = append(fg.deletedCourses, courseID)
	return nil
}

func (fg *fakeGraphStore) UpsertDocument(_ context.Context, document *types.Document) error {
	fg.mu.Lock()
	defer fg.mu.Unlock()
	if fg.upsertDocErr != nil {
		return fg.upsertDocErr
	}
	fg.upsertedDocs = append(fg.upsertedDocs, document.ID)
	return nil
}

func (fg *fakeGraphStore) DeleteDocument(_ context.Context, documentID uuid.UUID) error {
	fg.mu.Lock()
	defer fg.mu.Unlock()
	if fg.deleteDocErr != nil {
		return fg.deleteDocErr
	}
	fg.deletedDocs = append(fg.deletedDocs, documentID)
	return nil
}

func (fg *fakeGraphStore) UpsertConceptMentions(_ context.Context, courseID uuid.UUID, conceptName string, documentIDs []uuid.UUID) error {
	fg.mu.Lock()
	defer fg.mu.Unlock()
	if fg.mentionsErr != nil {
		return fg.mentionsErr
	}
	fg.mentions = append(fg.mentions, mentionCall{courseID: courseID, conceptName: conceptName, documentIDs: documentIDs})
	return nil
}

func (fg *fakeGraphStore) ConsolidateConcepts(_ context.Context, courseID uuid.UUID, canonicalName string, variantNames []string) error {
	if fg.consolidateDelay > 0 {
		time.Sleep(fg.consolidateDelay)
	}
	fg.mu.Lock()
	defer fg.mu.Unlock()
	if err := fg.consolidateErr[canonicalName]; err != nil {
		return err
	}
	fg.consolidations = append(fg.consolidations, consolidateCall{courseID: courseID, canonicalName: canonicalName, variantNames: variantNames})
	return nil
}

// ---- run lock ----

type fakeRunLock struct {
	mu       sync.Mutex
	held     map[uuid.UUID]bool
	releases int
}

func newFakeRunLock() *fakeRunLock {
	return &fakeRunLock{held: make(map[uuid.UUID]bool)}
}

func (fl *fakeRunLock) Acquire(_ context.Context, courseID uuid.UUID) (func(), error) {
	fl.mu.Lock()
	defer fl.mu.Unlock()
	if fl.held[courseID] {
		return nil, fmt.Errorf("run already held for %s", courseID)
	}
	fl.held[courseID] = true
	release := func() {
		fl.mu.Lock()
		defer fl.mu.Unlock()
		delete(fl.held, courseID)
		fl.releases++
	}
	return release, nil
}

func (fl *fakeRunLock) releaseCount() int {
	fl.mu.Lock()
	defer fl.mu.Unlock()
	return fl.releases
}

// ---- AI client ----

type aiCall struct {
	schemaName string
	user       string
}

type fakeAIClient struct {
	mu    sync.Mutex
	calls []aiCall
	fn    func(ctx context.Context, schemaName, user string) (map[string]any, error)
}

func (fa *fakeAIClient) GenerateJSON(ctx context.Context, _ string, user string, schemaName string, _ map[string]any) (map[string]any, error) {
	fa.mu.Lock()
	fa.calls = append(fa.calls, aiCall{schemaName: schemaName, user: user})
	fa.mu.Unlock()
	return fa.fn(ctx, schemaName, user)
}

func (fa *fakeAIClient) callCount(schemaName string) int {
	fa.mu.Lock()
	defer fa.mu.Unlock()
	n := 0
	for _, c := range fa.calls {
		if c.schemaName == schemaName {
			n++
		}
	}
	return n
}
