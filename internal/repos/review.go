package repos

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/knograph/knograph-backend/internal/platform/logger"
	"github.com/knograph/knograph-backend/internal/types"
)

// DecisionUpdate is one reviewer verdict on a proposal.
type DecisionUpdate struct {
	ProposalID uuid.UUID `json:"proposal_id"`
	Decision   string    `json:"decision"`
	Comment    string    `json:"comment,omitempty"`
}

type ReviewRepo interface {
	Create(ctx context.Context, tx *gorm.DB, review *types.NormalizationReview) error
	// GetByID returns (nil, nil) when the review does not exist.
	GetByID(ctx context.Context, tx *gorm.DB, reviewID uuid.UUID) (*types.NormalizationReview, error)
	// GetByIDForUpdate locks the review row for the duration of tx so that
	// decision updates and apply transitions are mutually exclusive.
	GetByIDForUpdate(ctx context.Context, tx *gorm.DB, reviewID uuid.UUID) (*types.NormalizationReview, error)
	// HasPendingForCourse reports whether the course has an unresolved
	// review, pending or mid-apply.
	HasPendingForCourse(ctx context.Context, tx *gorm.DB, courseID uuid.UUID) (bool, error)
	SetDecisions(ctx context.Context, tx *gorm.DB, reviewID uuid.UUID, updates []DecisionUpdate) (int64, error)
	SetProposalApplied(ctx context.Context, tx *gorm.DB, proposalID uuid.UUID) error
	// MarkApplying transitions the review out of pending; callers run it
	// under the GetByIDForUpdate row lock so only one applier wins.
	MarkApplying(ctx context.Context, tx *gorm.DB, reviewID uuid.UUID) error
	MarkApplied(ctx context.Context, tx *gorm.DB, reviewID uuid.UUID) error
	// DeleteStaged removes the review and its proposals from staged storage.
	DeleteStaged(ctx context.Context, tx *gorm.DB, reviewID uuid.UUID) error
}

type reviewRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewReviewRepo(db *gorm.DB, baseLog *logger.Logger) ReviewRepo {
	return &reviewRepo{db: db, log: baseLog.With("repo", "ReviewRepo")}
}

func (rr *reviewRepo) resolve(tx *gorm.DB) *gorm.DB {
	if tx != nil {
		return tx
	}
	return rr.db
}

func (rr *reviewRepo) Create(ctx context.Context, tx *gorm.DB, review *types.NormalizationReview) error {
	return rr.resolve(tx).WithContext(ctx).Create(review).Error
}

func (rr *reviewRepo) GetByID(ctx context.Context, tx *gorm.DB, reviewID uuid.UUID) (*types.NormalizationReview, error) {
	var review types.NormalizationReview
	err := rr.resolve(tx).WithContext(ctx).
		Preload("Proposals", func(db *gorm.DB) *gorm.DB {
			return db.Order("created_at ASC")
		}).
		Where("id = ?", reviewID).
		First(&review).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &review, nil
}

func (rr *reviewRepo) GetByIDForUpdate(ctx context.Context, tx *gorm.DB, reviewID uuid.UUID) (*types.NormalizationReview, error) {
	var review types.NormalizationReview
	err := rr.resolve(tx).WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", reviewID).
		First(&review).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var proposals []*types.MergeProposal
	if err := rr.resolve(tx).WithContext(ctx).
		Where("review_id = ?", reviewID).
		Order("created_at ASC").
		Find(&proposals).Error; err != nil {
		return nil, err
	}
	review.Proposals = proposals
	return &review, nil
}

func (rr *reviewRepo) HasPendingForCourse(ctx context.Context, tx *gorm.DB, courseID uuid.UUID) (bool, error) {
	var count int64
	if err := rr.resolve(tx).WithContext(ctx).
		Model(&types.NormalizationReview{}).
		Where("course_id = ? AND status IN ?", courseID, []string{types.ReviewStatusPending, types.ReviewStatusApplying}).
		Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

func (rr *reviewRepo) SetDecisions(ctx context.Context, tx *gorm.DB, reviewID uuid.UUID, updates []DecisionUpdate) (int64, error) {
	transaction := rr.resolve(tx).WithContext(ctx)
	var updated int64
	for _, u := range updates {
		res := transaction.
			Model(&types.MergeProposal{}).
			Where("id = ? AND review_id = ?", u.ProposalID, reviewID).
			Updates(map[string]any{
				"decision": u.Decision,
				"comment":  u.Comment,
			})
		if res.Error != nil {
			return updated, res.Error
		}
		updated += res.RowsAffected
	}
	return updated, nil
}

func (rr *reviewRepo) SetProposalApplied(ctx context.Context, tx *gorm.DB, proposalID uuid.UUID) error {
	return rr.resolve(tx).WithContext(ctx).
		Model(&types.MergeProposal{}).
		Where("id = ?", proposalID).
		Update("applied", true).Error
}

func (rr *reviewRepo) MarkApplying(ctx context.Context, tx *gorm.DB, reviewID uuid.UUID) error {
	return rr.resolve(tx).WithContext(ctx).
		Model(&types.NormalizationReview{}).
		Where("id = ?", reviewID).
		Update("status", types.ReviewStatusApplying).Error
}

func (rr *reviewRepo) MarkApplied(ctx context.Context, tx *gorm.DB, reviewID uuid.UUID) error {
	return rr.resolve(tx).WithContext(ctx).
		Model(&types.NormalizationReview{}).
		Where("id = ?", reviewID).
		Update("status", types.ReviewStatusApplied).Error
}

func (rr *reviewRepo) DeleteStaged(ctx context.Context, tx *gorm.DB, reviewID uuid.UUID) error {
	transaction := rr.resolve(tx).WithContext(ctx)
	if err := transaction.
		Delete(&types.MergeProposal{}, "review_id = ?", reviewID).Error; err != nil {
		return err
	}
	return transaction.
		Delete(&types.NormalizationReview{}, "id = ?", reviewID).Error
}
