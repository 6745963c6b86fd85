package repos

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/knograph/knograph-backend/internal/platform/logger"
	"github.com/knograph/knograph-backend/internal/types"
)

type DocumentRepo interface {
	Create(ctx context.Context, tx *gorm.DB, documents []*types.Document) ([]*types.Document, error)
	GetByIDs(ctx context.Context, tx *gorm.DB, documentIDs []uuid.UUID) ([]*types.Document, error)
	GetByCourseIDs(ctx context.Context, tx *gorm.DB, courseIDs []uuid.UUID) ([]*types.Document, error)
	Delete(ctx context.Context, tx *gorm.DB, documentID uuid.UUID) error
	Restore(ctx context.Context, tx *gorm.DB, documentID uuid.UUID) error
	HardDelete(ctx context.Context, tx *gorm.DB, documentID uuid.UUID) error
}

type documentRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewDocumentRepo(db *gorm.DB, baseLog *logger.Logger) DocumentRepo {
	return &documentRepo{db: db, log: baseLog.With("repo", "DocumentRepo")}
}

func (dr *documentRepo) resolve(tx *gorm.DB) *gorm.DB {
	if tx != nil {
		return tx
	}
	return dr.db
}

func (dr *documentRepo) Create(ctx context.Context, tx *gorm.DB, documents []*types.Document) ([]*types.Document, error) {
	if len(documents) == 0 {
		return []*types.Document{}, nil
	}
	if err := dr.resolve(tx).WithContext(ctx).Create(&documents).Error; err != nil {
		return nil, err
	}
	return documents, nil
}

func (dr *documentRepo) GetByIDs(ctx context.Context, tx *gorm.DB, documentIDs []uuid.UUID) ([]*types.Document, error) {
	var results []*types.Document
	if len(documentIDs) == 0 {
		return results, nil
	}
	if err := dr.resolve(tx).WithContext(ctx).
		Where("id IN ?", documentIDs).
		Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}

func (dr *documentRepo) GetByCourseIDs(ctx context.Context, tx *gorm.DB, courseIDs []uuid.UUID) ([]*types.Document, error) {
	var results []*types.Document
	if len(courseIDs) == 0 {
		return results, nil
	}
	if err := dr.resolve(tx).WithContext(ctx).
		Where("course_id IN ?", courseIDs).
		Order("created_at ASC").
		Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}

func (dr *documentRepo) Delete(ctx context.Context, tx *gorm.DB, documentID uuid.UUID) error {
	return dr.resolve(tx).WithContext(ctx).
		Delete(&types.Document{}, "id = ?", documentID).Error
}

func (dr *documentRepo) Restore(ctx context.Context, tx *gorm.DB, documentID uuid.UUID) error {
	return dr.resolve(tx).WithContext(ctx).
		Unscoped().
		Model(&types.Document{}).
		Where("id = ?", documentID).
		Update("deleted_at", nil).Error
}

func (dr *documentRepo) HardDelete(ctx context.Context, tx *gorm.DB, documentID uuid.UUID) error {
	return dr.resolve(tx).WithContext(ctx).
		Unscoped().
		Delete(&types.Document{}, "id = ?", documentID).Error
}
