package services

import (
	"context"

	"github.com/google/uuid"

	"github.com/knograph/knograph-backend/internal/platform/logger"
	"github.com/knograph/knograph-backend/internal/repos"
	"github.com/knograph/knograph-backend/internal/types"
)

// CourseService covers the read side; mutations go through DualWriteService.
type CourseService interface {
	GetUserCourses(ctx context.Context, userID uuid.UUID) ([]*types.Course, error)
	GetCourseDocuments(ctx context.Context, courseID, userID uuid.UUID) ([]*types.Document, error)
}

type courseService struct {
	log          *logger.Logger
	courseRepo   repos.CourseRepo
	documentRepo repos.DocumentRepo
}

func NewCourseService(baseLog *logger.Logger, courseRepo repos.CourseRepo, documentRepo repos.DocumentRepo) CourseService {
	return &courseService{
		log:          baseLog.With("service", "CourseService"),
		courseRepo:   courseRepo,
		documentRepo: documentRepo,
	}
}

func (cs *courseService) GetUserCourses(ctx context.Context, userID uuid.UUID) ([]*types.Course, error) {
	return cs.courseRepo.GetByUserIDs(ctx, nil, []uuid.UUID{userID})
}

func (cs *courseService) GetCourseDocuments(ctx context.Context, courseID, userID uuid.UUID) ([]*types.Document, error) {
	if err := requireOwnedCourse(ctx, cs.courseRepo, courseID, userID); err != nil {
		return nil, err
	}
	return cs.documentRepo.GetByCourseIDs(ctx, nil, []uuid.UUID{courseID})
}
