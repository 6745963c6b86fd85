package services

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/knograph/knograph-backend/internal/graph"
	"github.com/knograph/knograph-backend/internal/normalization"
	"github.com/knograph/knograph-backend/internal/platform/envutil"
	"github.com/knograph/knograph-backend/internal/platform/logger"
	"github.com/knograph/knograph-backend/internal/repos"
	"github.com/knograph/knograph-backend/internal/types"
)

// ApplyResult reports the outcome of one apply call. Partial failure is a
// first-class result shape here, never an error: approved proposals split
// into applied/failed, everything else counts as skipped.
type ApplyResult struct {
	ReviewID      uuid.UUID `json:"review_id"`
	TotalApproved int       `json:"total_approved"`
	Applied       int       `json:"applied"`
	Skipped       int       `json:"skipped"`
	Failed        int       `json:"failed"`
	Errors        []string  `json:"errors"`
}

// ApplyService executes an approved review against the graph store. Each
// proposal is applied independently; one failed merge never aborts the rest.
// After all approved proposals have been attempted the review is finalized
// and its staged rows deleted, so a second apply of the same review id reads
// as not-found ("best-effort once").
type ApplyService interface {
	Apply(ctx context.Context, reviewID, courseID uuid.UUID) (*ApplyResult, error)
}

type applyService struct {
	log           *logger.Logger
	reviewService ReviewService
	conceptRepo   repos.ConceptRepo
	graphStore    graph.Store
	workers       int
}

func NewApplyService(
	baseLog *logger.Logger,
	reviewService ReviewService,
	conceptRepo repos.ConceptRepo,
	graphStore graph.Store,
) ApplyService {
	workers := envutil.GetEnvAsInt("APPLY_WORKERS", 4, baseLog)
	if workers < 1 {
		workers = 1
	}
	return &applyService{
		log:           baseLog.With("service", "ApplyService"),
		reviewService: reviewService,
		conceptRepo:   conceptRepo,
		graphStore:    graphStore,
		workers:       workers,
	}
}

func (as *applyService) Apply(ctx context.Context, reviewID, courseID uuid.UUID) (*ApplyResult, error) {
	review, approved, err := as.reviewService.MarkApplying(ctx, reviewID, courseID)
	if err != nil {
		return nil, err
	}

	result := &ApplyResult{
		ReviewID:      reviewID,
		TotalApproved: len(approved),
		Skipped:       len(review.Proposals) - len(approved),
		Errors:        []string{},
	}

	locks := newKeyedLocks()
	var mu sync.Mutex

	// Plain errgroup without a shared context: a failed proposal is recorded
	// and must not cancel its siblings.
	var g errgroup.Group
	g.SetLimit(as.workers)

	for _, proposal := range approved {
		g.Go(func() error {
			keys := proposalConceptKeys(proposal)
			for _, key := range keys {
				locks.get(key).Lock()
			}
			defer func() {
				for i := len(keys) - 1; i >= 0; i-- {
					locks.get(keys[i]).Unlock()
				}
			}()

			if err := as.applyOne(ctx, courseID, proposal); err != nil {
				as.log.Warn("Merge proposal failed to apply",
					"review_id", reviewID,
					"proposal_id", proposal.ID,
					"concept_a", proposal.ConceptA,
					"concept_b", proposal.ConceptB,
					"error", err,
				)
				mu.Lock()
				result.Failed++
				result.Errors = append(result.Errors, fmt.Sprintf(
					"proposal %s (%q + %q -> %q): %v",
					proposal.ID, proposal.ConceptA, proposal.ConceptB, proposal.CanonicalName, err,
				))
				mu.Unlock()
				return nil
			}

			mu.Lock()
			result.Applied++
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	// The review is consumed regardless of individual outcomes; failed merges
	// are reported back for out-of-band retry, not re-staged.
	if err := as.reviewService.FinalizeApplied(ctx, reviewID); err != nil {
		return nil, fmt.Errorf("finalize applied review %s: %w", reviewID, err)
	}

	as.log.Info("Review applied",
		"review_id", reviewID,
		"course_id", courseID,
		"total_approved", result.TotalApproved,
		"applied", result.Applied,
		"skipped", result.Skipped,
		"failed", result.Failed,
	)
	return result, nil
}

func (as *applyService) applyOne(ctx context.Context, courseID uuid.UUID, proposal *types.MergeProposal) error {
	variants := proposalVariants(proposal)

	if err := as.graphStore.ConsolidateConcepts(ctx, courseID, proposal.CanonicalName, variants); err != nil {
		return fmt.Errorf("graph consolidation: %w", err)
	}
	if err := as.conceptRepo.MergeInto(ctx, nil, courseID, proposal.CanonicalName, variants); err != nil {
		return fmt.Errorf("relational merge: %w", err)
	}
	if err := as.reviewService.MarkProposalApplied(ctx, proposal.ID); err != nil {
		return fmt.Errorf("mark proposal applied: %w", err)
	}
	return nil
}

func proposalVariants(p *types.MergeProposal) []string {
	var variants []string
	if len(p.Variants) > 0 {
		_ = json.Unmarshal(p.Variants, &variants)
	}
	if len(variants) == 0 {
		variants = []string{p.ConceptA, p.ConceptB}
	}
	return variants
}

// proposalConceptKeys returns the sorted, deduplicated lock keys for every
// concept a proposal touches. Sorted acquisition keeps two proposals that
// share a concept from deadlocking while serializing them.
func proposalConceptKeys(p *types.MergeProposal) []string {
	set := map[string]bool{
		normalization.NameKey(p.CanonicalName): true,
	}
	for _, v := range proposalVariants(p) {
		set[normalization.NameKey(v)] = true
	}
	keys := make([]string, 0, len(set))
	for k := range set {
		if k != "" {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys
}

type keyedLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newKeyedLocks() *keyedLocks {
	return &keyedLocks{locks: make(map[string]*sync.Mutex)}
}

func (k *keyedLocks) get(key string) *sync.Mutex {
	k.mu.Lock()
	defer k.mu.Unlock()
	if l, ok := k.locks[key]; ok {
		return l
	}
	l := &sync.Mutex{}
	k.locks[key] = l
	return l
}
