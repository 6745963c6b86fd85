package graph

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/knograph/knograph-backend/internal/platform/logger"
	"github.com/knograph/knograph-backend/internal/platform/neo4jdb"
	"github.com/knograph/knograph-backend/internal/types"
)

type neo4jStore struct {
	client *neo4jdb.Client
	log    *logger.Logger
}

func NewNeo4jStore(client *neo4jdb.Client, baseLog *logger.Logger) Store {
	store := &neo4jStore{
		client: client,
		log:    baseLog.With("store", "Neo4jGraphStore"),
	}
	store.initSchema(context.Background())
	return store
}

func (s *neo4jStore) session(ctx context.Context) neo4j.SessionWithContext {
	return s.client.Driver.NewSession(ctx, neo4j.SessionConfig{
		AccessMode:   neo4j.AccessModeWrite,
		DatabaseName: s.client.Database,
	})
}

// Best-effort; may fail for restricted users.
func (s *neo4jStore) initSchema(ctx context.Context) {
	session := s.session(ctx)
	defer session.Close(ctx)

	statements := []string{
		`CREATE CONSTRAINT course_id_unique IF NOT EXISTS FOR (c:Course) REQUIRE c.id IS UNIQUE`,
		`CREATE CONSTRAINT document_id_unique IF NOT EXISTS FOR (d:Document) REQUIRE d.id IS UNIQUE`,
		`CREATE INDEX concept_course_name_idx IF NOT EXISTS FOR (c:Concept) ON (c.course_id, c.name)`,
	}
	for _, stmt := range statements {
		res, err := session.Run(ctx, stmt, nil)
		if err != nil {
			s.log.Warn("neo4j schema init failed (continuing)", "error", err)
			continue
		}
		_, _ = res.Consume(ctx)
	}
}

func (s *neo4jStore) write(ctx context.Context, work func(tx neo4j.ManagedTransaction) (any, error)) error {
	session := s.session(ctx)
	defer session.Close(ctx)
	_, err := session.ExecuteWrite(ctx, work)
	return err
}

func runConsume(ctx context.Context, tx neo4j.ManagedTransaction, cypher string, params map[string]any) error {
	res, err := tx.Run(ctx, cypher, params)
	if err != nil {
		return err
	}
	_, err = res.Consume(ctx)
	return err
}

func (s *neo4jStore) UpsertCourse(ctx context.Context, course *types.Course) error {
	if course == nil || course.ID == uuid.Nil {
		return fmt.Errorf("graph upsert course: missing course")
	}
	return s.write(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		return nil, runConsume(ctx, tx, `
MERGE (c:Course {id: $id})
SET c.title = $title, c.user_id = $user_id, c.synced_at = $synced_at
`, map[string]any{
			"id":        course.ID.String(),
			"title":     course.Title,
			"user_id":   course.UserID.String(),
			"synced_at": time.Now().UTC().Format(time.RFC3339Nano),
		})
	})
}

func (s *neo4jStore) DeleteCourse(ctx context.Context, courseID uuid.UUID) error {
	return s.write(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		if err := runConsume(ctx, tx, `
MATCH (n:Concept {course_id: $course_id})
DETACH DELETE n
`, map[string]any{"course_id": courseID.String()}); err != nil {
			return nil, err
		}
		if err := runConsume(ctx, tx, `
MATCH (d:Document)-[:BELONGS_TO]->(c:Course {id: $course_id})
DETACH DELETE d
`, map[string]any{"course_id": courseID.String()}); err != nil {
			return nil, err
		}
		return nil, runConsume(ctx, tx, `
MATCH (c:Course {id: $course_id})
DETACH DELETE c
`, map[string]any{"course_id": courseID.String()})
	})
}

func (s *neo4jStore) UpsertDocument(ctx context.Context, document *types.Document) error {
	if document == nil || document.ID == uuid.Nil {
		return fmt.Errorf("graph upsert document: missing document")
	}
	return s.write(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		return nil, runConsume(ctx, tx, `
MERGE (d:Document {id: $id})
SET d.title = $title, d.course_id = $course_id, d.synced_at = $synced_at
WITH d
MATCH (c:Course {id: $course_id})
MERGE (d)-[:BELONGS_TO]->(c)
`, map[string]any{
			"id":        document.ID.String(),
			"title":     document.Title,
			"course_id": document.CourseID.String(),
			"synced_at": time.Now().UTC().Format(time.RFC3339Nano),
		})
	})
}

func (s *neo4jStore) DeleteDocument(ctx context.Context, documentID uuid.UUID) error {
	return s.write(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		return nil, runConsume(ctx, tx, `
MATCH (d:Document {id: $id})
DETACH DELETE d
`, map[string]any{"id": documentID.String()})
	})
}

func (s *neo4jStore) UpsertConceptMentions(ctx context.Context, courseID uuid.UUID, conceptName string, documentIDs []uuid.UUID) error {
	if conceptName == "" {
		return fmt.Errorf("graph upsert concept: missing name")
	}
	docs := make([]string, 0, len(documentIDs))
	for _, id := range documentIDs {
		if id != uuid.Nil {
			docs = append(docs, id.String())
		}
	}
	return s.write(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		if err := runConsume(ctx, tx, `
MERGE (n:Concept {course_id: $course_id, name: $name})
SET n.synced_at = $synced_at
`, map[string]any{
			"course_id": courseID.String(),
			"name":      conceptName,
			"synced_at": time.Now().UTC().Format(time.RFC3339Nano),
		}); err != nil {
			return nil, err
		}
		if len(docs) == 0 {
			return nil, nil
		}
		return nil, runConsume(ctx, tx, `
UNWIND $doc_ids AS doc_id
MATCH (d:Document {id: doc_id})
MATCH (n:Concept {course_id: $course_id, name: $name})
MERGE (d)-[:MENTIONS]->(n)
`, map[string]any{
			"doc_ids":   docs,
			"course_id": courseID.String(),
			"name":      conceptName,
		})
	})
}

func (s *neo4jStore) ConsolidateConcepts(ctx context.Context, courseID uuid.UUID, canonicalName string, variantNames []string) error {
	if canonicalName == "" || len(variantNames) == 0 {
		return fmt.Errorf("graph consolidate: canonical name and variants required")
	}

	return s.write(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		// Every variant must still resolve to a node; a missing node means a
		// prior operation already consumed it and this proposal must fail.
		// The canonical name is included in the lookup so an existing node
		// already carrying it becomes the survivor instead of a collision.
		lookup := append([]string{canonicalName}, variantNames...)
		res, err := tx.Run(ctx, `
MATCH (n:Concept {course_id: $course_id})
WHERE n.name IN $names
RETURN n.name AS name
`, map[string]any{
			"course_id": courseID.String(),
			"names":     lookup,
		})
		if err != nil {
			return nil, err
		}
		found := map[string]bool{}
		for res.Next(ctx) {
			if name, ok := res.Record().Get("name"); ok {
				if str, ok := name.(string); ok {
					found[str] = true
				}
			}
		}
		if err := res.Err(); err != nil {
			return nil, err
		}
		for _, v := range variantNames {
			if !found[v] {
				return nil, fmt.Errorf("concept node %q not found in graph", v)
			}
		}

		// Survivor is the canonical-named node when present, else the first
		// variant (renamed at the end).
		survivor := canonicalName
		if !found[canonicalName] {
			survivor = variantNames[0]
		}

		for _, variant := range variantNames {
			if variant == survivor {
				continue
			}
			// Redirect with dedupe: MERGE keeps a single MENTIONS edge per
			// document/concept pair regardless of how many variants pointed
			// at the same document.
			if err := runConsume(ctx, tx, `
MATCH (d:Document)-[m:MENTIONS]->(v:Concept {course_id: $course_id, name: $variant})
MATCH (k:Concept {course_id: $course_id, name: $survivor})
MERGE (d)-[:MENTIONS]->(k)
DELETE m
`, map[string]any{
				"course_id": courseID.String(),
				"variant":   variant,
				"survivor":  survivor,
			}); err != nil {
				return nil, err
			}
			if err := runConsume(ctx, tx, `
MATCH (v:Concept {course_id: $course_id, name: $variant})
DETACH DELETE v
`, map[string]any{
				"course_id": courseID.String(),
				"variant":   variant,
			}); err != nil {
				return nil, err
			}
		}

		return nil, runConsume(ctx, tx, `
MATCH (k:Concept {course_id: $course_id, name: $survivor})
SET k.name = $canonical, k.synced_at = $synced_at
`, map[string]any{
			"course_id": courseID.String(),
			"survivor":  survivor,
			"canonical": canonicalName,
			"synced_at": time.Now().UTC().Format(time.RFC3339Nano),
		})
	})
}
