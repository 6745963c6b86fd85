package repos

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/knograph/knograph-backend/internal/platform/logger"
	"github.com/knograph/knograph-backend/internal/types"
)

type ConceptRepo interface {
	// Upsert returns the live row for the name, creating it when absent; the
	// bool reports creation so callers can compensate a failed dual write.
	Upsert(ctx context.Context, tx *gorm.DB, courseID uuid.UUID, name string) (*types.Concept, bool, error)
	AddEvidence(ctx context.Context, tx *gorm.DB, evidence []*types.ConceptEvidence) error
	// DeleteEvidence removes evidence rows by id; compensation only.
	DeleteEvidence(ctx context.Context, tx *gorm.DB, evidenceIDs []uuid.UUID) error
	// HardDelete removes a concept row outright, bypassing soft delete;
	// compensation only.
	HardDelete(ctx context.Context, tx *gorm.DB, conceptID uuid.UUID) error
	GetByCourseID(ctx context.Context, tx *gorm.DB, courseID uuid.UUID, withEvidence bool) ([]*types.Concept, error)
	// GetByNames returns the named live rows with their evidence loaded.
	GetByNames(ctx context.Context, tx *gorm.DB, courseID uuid.UUID, names []string) ([]*types.Concept, error)
	// MergeInto consolidates the variant concept rows into a single row named
	// canonicalName: evidence is re-pointed to the survivor and the other
	// rows are soft-deleted. The survivor is the row already named
	// canonicalName when one exists, otherwise the first variant renamed.
	MergeInto(ctx context.Context, tx *gorm.DB, courseID uuid.UUID, canonicalName string, variantNames []string) error
}

type conceptRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewConceptRepo(db *gorm.DB, baseLog *logger.Logger) ConceptRepo {
	return &conceptRepo{db: db, log: baseLog.With("repo", "ConceptRepo")}
}

func (cr *conceptRepo) resolve(tx *gorm.DB) *gorm.DB {
	if tx != nil {
		return tx
	}
	return cr.db
}

func (cr *conceptRepo) Upsert(ctx context.Context, tx *gorm.DB, courseID uuid.UUID, name string) (*types.Concept, bool, error) {
	transaction := cr.resolve(tx).WithContext(ctx)

	var existing types.Concept
	err := transaction.
		Where("course_id = ? AND name = ?", courseID, name).
		First(&existing).Error
	if err == nil {
		return &existing, false, nil
	}
	if err != gorm.ErrRecordNotFound {
		return nil, false, err
	}

	concept := &types.Concept{
		ID:       uuid.New(),
		CourseID: courseID,
		Name:     name,
	}
	if err := transaction.Create(concept).Error; err != nil {
		return nil, false, err
	}
	return concept, true, nil
}

func (cr *conceptRepo) AddEvidence(ctx context.Context, tx *gorm.DB, evidence []*types.ConceptEvidence) error {
	if len(evidence) == 0 {
		return nil
	}
	return cr.resolve(tx).WithContext(ctx).Create(&evidence).Error
}

func (cr *conceptRepo) DeleteEvidence(ctx context.Context, tx *gorm.DB, evidenceIDs []uuid.UUID) error {
	if len(evidenceIDs) == 0 {
		return nil
	}
	return cr.resolve(tx).WithContext(ctx).
		Delete(&types.ConceptEvidence{}, "id IN ?", evidenceIDs).Error
}

func (cr *conceptRepo) HardDelete(ctx context.Context, tx *gorm.DB, conceptID uuid.UUID) error {
	return cr.resolve(tx).WithContext(ctx).
		Unscoped().
		Delete(&types.Concept{}, "id = ?", conceptID).Error
}

func (cr *conceptRepo) GetByCourseID(ctx context.Context, tx *gorm.DB, courseID uuid.UUID, withEvidence bool) ([]*types.Concept, error) {
	var results []*types.Concept
	query := cr.resolve(tx).WithContext(ctx).
		Where("course_id = ?", courseID).
		Order("name ASC")
	if withEvidence {
		query = query.Preload("Evidence")
	}
	if err := query.Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}

func (cr *conceptRepo) GetByNames(ctx context.Context, tx *gorm.DB, courseID uuid.UUID, names []string) ([]*types.Concept, error) {
	var results []*types.Concept
	if len(names) == 0 {
		return results, nil
	}
	if err := cr.resolve(tx).WithContext(ctx).
		Preload("Evidence").
		Where("course_id = ? AND name IN ?", courseID, names).
		Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}

func (cr *conceptRepo) MergeInto(ctx context.Context, tx *gorm.DB, courseID uuid.UUID, canonicalName string, variantNames []string) error {
	run := func(transaction *gorm.DB) error {
		transaction = transaction.WithContext(ctx)

		lookup := append([]string{canonicalName}, variantNames...)
		var rows []*types.Concept
		if err := transaction.
			Where("course_id = ? AND name IN ?", courseID, lookup).
			Find(&rows).Error; err != nil {
			return err
		}
		if len(rows) == 0 {
			return fmt.Errorf("merge concepts: no concept rows found for %v", lookup)
		}

		var survivor *types.Concept
		for _, row := range rows {
			if row.Name == canonicalName {
				survivor = row
				break
			}
		}
		if survivor == nil {
			survivor = rows[0]
		}

		losers := make([]uuid.UUID, 0, len(rows))
		for _, row := range rows {
			if row.ID != survivor.ID {
				losers = append(losers, row.ID)
			}
		}

		if len(losers) > 0 {
			if err := transaction.
				Model(&types.ConceptEvidence{}).
				Where("concept_id IN ?", losers).
				Update("concept_id", survivor.ID).Error; err != nil {
				return err
			}
			if err := transaction.
				Delete(&types.Concept{}, "id IN ?", losers).Error; err != nil {
				return err
			}
		}

		if survivor.Name != canonicalName {
			if err := transaction.
				Model(&types.Concept{}).
				Where("id = ?", survivor.ID).
				Update("name", canonicalName).Error; err != nil {
				return err
			}
		}
		return nil
	}

	if tx != nil {
		return run(tx)
	}
	return cr.db.Transaction(run)
}
