package repos

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/knograph/knograph-backend/internal/platform/logger"
	"github.com/knograph/knograph-backend/internal/types"
)

type CourseRepo interface {
	Create(ctx context.Context, tx *gorm.DB, courses []*types.Course) ([]*types.Course, error)
	GetByIDs(ctx context.Context, tx *gorm.DB, courseIDs []uuid.UUID) ([]*types.Course, error)
	GetByUserIDs(ctx context.Context, tx *gorm.DB, userIDs []uuid.UUID) ([]*types.Course, error)
	Update(ctx context.Context, tx *gorm.DB, course *types.Course) error
	Delete(ctx context.Context, tx *gorm.DB, courseID uuid.UUID) error
	// Restore clears a soft delete; used as the compensation path when the
	// graph projection could not be updated after a delete.
	Restore(ctx context.Context, tx *gorm.DB, courseID uuid.UUID) error
	// HardDelete removes the row entirely; used as the compensation path
	// when the graph projection could not be updated after a create.
	HardDelete(ctx context.Context, tx *gorm.DB, courseID uuid.UUID) error
}

type courseRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewCourseRepo(db *gorm.DB, baseLog *logger.Logger) CourseRepo {
	return &courseRepo{db: db, log: baseLog.With("repo", "CourseRepo")}
}

func (cr *courseRepo) resolve(tx *gorm.DB) *gorm.DB {
	if tx != nil {
		return tx
	}
	return cr.db
}

func (cr *courseRepo) Create(ctx context.Context, tx *gorm.DB, courses []*types.Course) ([]*types.Course, error) {
	if len(courses) == 0 {
		return []*types.Course{}, nil
	}
	if err := cr.resolve(tx).WithContext(ctx).Create(&courses).Error; err != nil {
		return nil, err
	}
	return courses, nil
}

func (cr *courseRepo) GetByIDs(ctx context.Context, tx *gorm.DB, courseIDs []uuid.UUID) ([]*types.Course, error) {
	var results []*types.Course
	if len(courseIDs) == 0 {
		return results, nil
	}
	if err := cr.resolve(tx).WithContext(ctx).
		Where("id IN ?", courseIDs).
		Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}

func (cr *courseRepo) GetByUserIDs(ctx context.Context, tx *gorm.DB, userIDs []uuid.UUID) ([]*types.Course, error) {
	var results []*types.Course
	if len(userIDs) == 0 {
		return results, nil
	}
	if err := cr.resolve(tx).WithContext(ctx).
		Where("user_id IN ?", userIDs).
		Order("created_at DESC").
		Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}

func (cr *courseRepo) Update(ctx context.Context, tx *gorm.DB, course *types.Course) error {
	return cr.resolve(tx).WithContext(ctx).Save(course).Error
}

func (cr *courseRepo) Delete(ctx context.Context, tx *gorm.DB, courseID uuid.UUID) error {
	return cr.resolve(tx).WithContext(ctx).
		Delete(&types.Course{}, "id = ?", courseID).Error
}

func (cr *courseRepo) Restore(ctx context.Context, tx *gorm.DB, courseID uuid.UUID) error {
	return cr.resolve(tx).WithContext(ctx).
		Unscoped().
		Model(&types.Course{}).
		Where("id = ?", courseID).
		Update("deleted_at", nil).Error
}

func (cr *courseRepo) HardDelete(ctx context.Context, tx *gorm.DB, courseID uuid.UUID) error {
	return cr.resolve(tx).WithContext(ctx).
		Unscoped().
		Delete(&types.Course{}, "id = ?", courseID).Error
}
