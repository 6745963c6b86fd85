package services

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/knograph/knograph-backend/internal/platform/apierr"
	"github.com/knograph/knograph-backend/internal/platform/logger"
	"github.com/knograph/knograph-backend/internal/repos"
	"github.com/knograph/knograph-backend/internal/types"
)

// ProposalInput is a confirmed merge candidate handed over by a completed
// normalization run.
type ProposalInput struct {
	ConceptA      string
	ConceptB      string
	CanonicalName string
	Variants      []string
	Rationale     string
}

// ReviewService is the merge proposal store: it stages normalization reviews
// in Postgres and enforces the review/decision state machine. Reviews are
// scoped to their course; cross-course access reads as not-found so review
// ids do not leak existence across courses.
type ReviewService interface {
	CreateReview(ctx context.Context, courseID uuid.UUID, proposals []ProposalInput, definitions map[string][]string, createdBy uuid.UUID) (uuid.UUID, error)
	GetReview(ctx context.Context, reviewID, courseID uuid.UUID) (*types.NormalizationReview, error)
	UpdateDecisions(ctx context.Context, reviewID, courseID uuid.UUID, updates []repos.DecisionUpdate) (int, error)
	// MarkApplying is the applier's entry transition: under the same row
	// lock that guards UpdateDecisions it moves the review from pending to
	// applying and returns its approved proposals in stable order. A second
	// concurrent applier observes the applying status and conflicts.
	MarkApplying(ctx context.Context, reviewID, courseID uuid.UUID) (*types.NormalizationReview, []*types.MergeProposal, error)
	MarkProposalApplied(ctx context.Context, proposalID uuid.UUID) error
	// FinalizeApplied transitions the review to applied and deletes its
	// staged rows; afterwards the review exists only through its effects on
	// the graph.
	FinalizeApplied(ctx context.Context, reviewID uuid.UUID) error
	HasPendingForCourse(ctx context.Context, courseID uuid.UUID) (bool, error)
}

type reviewService struct {
	db         repos.TxRunner
	log        *logger.Logger
	reviewRepo repos.ReviewRepo
}

func NewReviewService(db repos.TxRunner, baseLog *logger.Logger, reviewRepo repos.ReviewRepo) ReviewService {
	return &reviewService{
		db:         db,
		log:        baseLog.With("service", "ReviewService"),
		reviewRepo: reviewRepo,
	}
}

func (rs *reviewService) CreateReview(ctx context.Context, courseID uuid.UUID, proposals []ProposalInput, definitions map[string][]string, createdBy uuid.UUID) (uuid.UUID, error) {
	if len(proposals) == 0 {
		return uuid.Nil, apierr.Validationf("empty_proposals", "a review requires at least one proposal")
	}

	defsJSON, err := json.Marshal(definitions)
	if err != nil {
		return uuid.Nil, fmt.Errorf("marshal definitions: %w", err)
	}

	review := &types.NormalizationReview{
		ID:          uuid.New(),
		CourseID:    courseID,
		Status:      types.ReviewStatusPending,
		CreatedBy:   createdBy,
		Definitions: defsJSON,
	}
	for _, p := range proposals {
		variants := p.Variants
		if len(variants) == 0 {
			variants = []string{p.ConceptA, p.ConceptB}
		}
		variantsJSON, err := json.Marshal(variants)
		if err != nil {
			return uuid.Nil, fmt.Errorf("marshal variants: %w", err)
		}
		review.Proposals = append(review.Proposals, &types.MergeProposal{
			ID:            uuid.New(),
			ReviewID:      review.ID,
			ConceptA:      p.ConceptA,
			ConceptB:      p.ConceptB,
			CanonicalName: p.CanonicalName,
			Variants:      variantsJSON,
			Rationale:     p.Rationale,
			Decision:      types.DecisionPending,
		})
	}

	err = rs.db.Transaction(func(tx *gorm.DB) error {
		pending, err := rs.reviewRepo.HasPendingForCourse(ctx, tx, courseID)
		if err != nil {
			return err
		}
		// One unresolved review per course; the partial unique index backs
		// this check up across instances.
		if pending {
			return apierr.Conflictf("active_review_exists", "course %s already has an unresolved review", courseID)
		}
		return rs.reviewRepo.Create(ctx, tx, review)
	})
	if err != nil {
		return uuid.Nil, err
	}
	rs.log.Info("Normalization review created", "review_id", review.ID, "course_id", courseID, "proposals", len(review.Proposals))
	return review.ID, nil
}

func (rs *reviewService) GetReview(ctx context.Context, reviewID, courseID uuid.UUID) (*types.NormalizationReview, error) {
	review, err := rs.reviewRepo.GetByID(ctx, nil, reviewID)
	if err != nil {
		return nil, err
	}
	if review == nil || review.CourseID != courseID {
		return nil, apierr.NotFoundf("review_not_found", "review %s not found", reviewID)
	}
	return review, nil
}

func (rs *reviewService) UpdateDecisions(ctx context.Context, reviewID, courseID uuid.UUID, updates []repos.DecisionUpdate) (int, error) {
	if len(updates) == 0 {
		return 0, apierr.Validationf("empty_decisions", "no decisions submitted")
	}
	for _, u := range updates {
		if u.ProposalID == uuid.Nil {
			return 0, apierr.Validationf("missing_proposal_id", "every decision needs a proposal_id")
		}
		if !types.ValidDecision(u.Decision) {
			return 0, apierr.Validationf("invalid_decision", "decision %q is not one of pending/approved/rejected", u.Decision)
		}
	}

	var updated int64
	err := rs.db.Transaction(func(tx *gorm.DB) error {
		review, err := rs.reviewRepo.GetByIDForUpdate(ctx, tx, reviewID)
		if err != nil {
			return err
		}
		if review == nil || review.CourseID != courseID {
			return apierr.NotFoundf("review_not_found", "review %s not found", reviewID)
		}
		if review.Status != types.ReviewStatusPending {
			return apierr.Validationf("review_not_pending", "decisions may only change while the review is pending")
		}

		known := make(map[uuid.UUID]bool, len(review.Proposals))
		for _, p := range review.Proposals {
			known[p.ID] = true
		}
		// All-or-nothing: one unknown id rejects the whole batch.
		for _, u := range updates {
			if !known[u.ProposalID] {
				return apierr.Validationf("unknown_proposal_id", "proposal %s does not belong to review %s", u.ProposalID, reviewID)
			}
		}

		updated, err = rs.reviewRepo.SetDecisions(ctx, tx, reviewID, updates)
		return err
	})
	if err != nil {
		return 0, err
	}
	return int(updated), nil
}

func (rs *reviewService) MarkApplying(ctx context.Context, reviewID, courseID uuid.UUID) (*types.NormalizationReview, []*types.MergeProposal, error) {
	var review *types.NormalizationReview
	var approved []*types.MergeProposal
	err := rs.db.Transaction(func(tx *gorm.DB) error {
		var err error
		review, err = rs.reviewRepo.GetByIDForUpdate(ctx, tx, reviewID)
		if err != nil {
			return err
		}
		// Applied reviews are deleted from staging, so a double apply reads
		// as not-found rather than conflict.
		if review == nil || review.CourseID != courseID {
			return apierr.NotFoundf("review_not_found", "review %s not found", reviewID)
		}
		if review.Status == types.ReviewStatusApplying {
			return apierr.Conflictf("apply_in_progress", "review %s is already being applied", reviewID)
		}
		if review.Status != types.ReviewStatusPending {
			return apierr.Conflictf("review_already_applied", "review %s was already applied", reviewID)
		}
		for _, p := range review.Proposals {
			if p.Decision == types.DecisionApproved {
				approved = append(approved, p)
			}
		}
		// Claim the review before the lock is released; losing the claim
		// later would mean two appliers consolidating the same proposals.
		return rs.reviewRepo.MarkApplying(ctx, tx, reviewID)
	})
	if err != nil {
		return nil, nil, err
	}
	return review, approved, nil
}

func (rs *reviewService) MarkProposalApplied(ctx context.Context, proposalID uuid.UUID) error {
	return rs.reviewRepo.SetProposalApplied(ctx, nil, proposalID)
}

func (rs *reviewService) FinalizeApplied(ctx context.Context, reviewID uuid.UUID) error {
	return rs.db.Transaction(func(tx *gorm.DB) error {
		if err := rs.reviewRepo.MarkApplied(ctx, tx, reviewID); err != nil {
			return err
		}
		return rs.reviewRepo.DeleteStaged(ctx, tx, reviewID)
	})
}

func (rs *reviewService) HasPendingForCourse(ctx context.Context, courseID uuid.UUID) (bool, error) {
	return rs.reviewRepo.HasPendingForCourse(ctx, nil, courseID)
}
