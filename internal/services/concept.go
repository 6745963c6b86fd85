package services

import (
	"context"

	"github.com/google/uuid"

	"github.com/knograph/knograph-backend/internal/platform/apierr"
	"github.com/knograph/knograph-backend/internal/platform/logger"
	"github.com/knograph/knograph-backend/internal/repos"
)

type ConceptService interface {
	// ListConceptNames returns a course's concept names in stable name order.
	ListConceptNames(ctx context.Context, courseID, userID uuid.UUID) ([]string, error)
}

type conceptService struct {
	log         *logger.Logger
	courseRepo  repos.CourseRepo
	conceptRepo repos.ConceptRepo
}

func NewConceptService(baseLog *logger.Logger, courseRepo repos.CourseRepo, conceptRepo repos.ConceptRepo) ConceptService {
	return &conceptService{
		log:         baseLog.With("service", "ConceptService"),
		courseRepo:  courseRepo,
		conceptRepo: conceptRepo,
	}
}

func (cs *conceptService) ListConceptNames(ctx context.Context, courseID, userID uuid.UUID) ([]string, error) {
	if err := requireOwnedCourse(ctx, cs.courseRepo, courseID, userID); err != nil {
		return nil, err
	}
	concepts, err := cs.conceptRepo.GetByCourseID(ctx, nil, courseID, false)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(concepts))
	for _, c := range concepts {
		if c != nil {
			names = append(names, c.Name)
		}
	}
	return names, nil
}

func requireOwnedCourse(ctx context.Context, courseRepo repos.CourseRepo, courseID, userID uuid.UUID) error {
	courses, err := courseRepo.GetByIDs(ctx, nil, []uuid.UUID{courseID})
	if err != nil {
		return err
	}
	if len(courses) == 0 || courses[0] == nil || courses[0].UserID != userID {
		return apierr.NotFoundf("course_not_found", "course %s not found", courseID)
	}
	return nil
}
