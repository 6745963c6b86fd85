package db

import (
	"fmt"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/knograph/knograph-backend/internal/platform/envutil"
	"github.com/knograph/knograph-backend/internal/platform/logger"
	"github.com/knograph/knograph-backend/internal/types"
)

type PostgresService struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewPostgresService(log *logger.Logger) (*PostgresService, error) {
	serviceLog := log.With("service", "PostgresService")

	postgresHost := envutil.GetEnv("POSTGRES_HOST", "localhost", log)
	postgresPort := envutil.GetEnv("POSTGRES_PORT", "5432", log)
	postgresUser := envutil.GetEnv("POSTGRES_USER", "postgres", log)
	postgresPassword := envutil.GetEnv("POSTGRES_PASSWORD", "", log)
	postgresName := envutil.GetEnv("POSTGRES_NAME", "knograph", log)

	dsn := fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable", postgresUser, postgresPassword, postgresHost, postgresPort, postgresName)

	log.Info("Connecting to Postgres...")
	gdb, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		DisableForeignKeyConstraintWhenMigrating: true,
	})
	if err != nil {
		serviceLog.Error("Failed to connect to Postgres", "error", err)
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}

	if err := gdb.Exec(`CREATE EXTENSION IF NOT EXISTS "uuid-ossp";`).Error; err != nil {
		serviceLog.Error("Failed to enable uuid-ossp extension", "error", err)
		return nil, fmt.Errorf("enable uuid-ossp extension: %w", err)
	}

	return &PostgresService{db: gdb, log: serviceLog}, nil
}

func (s *PostgresService) AutoMigrateAll() error {
	s.log.Info("Auto migrating postgres tables...")
	err := s.db.AutoMigrate(
		&types.Course{},
		&types.Document{},
		&types.Concept{},
		&types.ConceptEvidence{},
		&types.NormalizationReview{},
		&types.MergeProposal{},
	)
	if err != nil {
		s.log.Error("Auto migration failed for postgres tables", "error", err)
		return err
	}

	for _, stmt := range partialUniqueIndexes {
		if err := s.db.Exec(stmt).Error; err != nil {
			return fmt.Errorf("create partial unique index: %w", err)
		}
	}
	return nil
}

// partialUniqueIndexes are uniqueness rules AutoMigrate cannot express
// because they only bind live rows:
//   - one unresolved review per course, enforced in the store so the rule
//     holds across server instances
//   - concept names unique per course among live rows only; merge soft-deletes
//     the losers, and without the deleted_at predicate the dead row would keep
//     holding the name slot and block a later extraction pass from
//     re-ingesting it
var partialUniqueIndexes = []string{
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_normalization_review_one_pending_per_course
		ON "normalization_review" ("course_id")
		WHERE status IN ('pending', 'applying')`,
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_concept_course_name
		ON "concept" ("course_id", "name")
		WHERE deleted_at IS NULL`,
}

func (s *PostgresService) DB() *gorm.DB {
	return s.db
}
