package services

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/knograph/knograph-backend/internal/normalization"
	"github.com/knograph/knograph-backend/internal/platform/apierr"
	"github.com/knograph/knograph-backend/internal/platform/envutil"
	"github.com/knograph/knograph-backend/internal/platform/logger"
	"github.com/knograph/knograph-backend/internal/repos"
	"github.com/knograph/knograph-backend/internal/sse"
	"github.com/knograph/knograph-backend/internal/types"
)

const (
	phaseGeneration = "generation"
	phaseValidation = "validation"

	verdictConfirm = "confirm"
	verdictReject  = "reject"
	verdictRefine  = "refine"
)

// NormalizationService drives the two-phase agent pipeline over a course's
// concept set. A run is one goroutine that talks to the caller only through
// its event channel; the caller's context is the cancellation signal and is
// checked before every phase and every reasoning call. A cancelled run emits
// nothing further and persists nothing.
type NormalizationService interface {
	StartRun(ctx context.Context, courseID, userID uuid.UUID) (<-chan sse.Event, error)
}

type mergeCandidate struct {
	ConceptA      string
	ConceptB      string
	CanonicalName string
	Rationale     string
}

func (c mergeCandidate) pairKey() string {
	a := normalization.NameKey(c.ConceptA)
	b := normalization.NameKey(c.ConceptB)
	if a > b {
		a, b = b, a
	}
	return a + "|" + b
}

type normalizationService struct {
	log           *logger.Logger
	conceptRepo   repos.ConceptRepo
	reviewService ReviewService
	ai            AIClient
	runLock       RunLock

	maxIterations   int
	validateWorkers int
}

func NewNormalizationService(
	baseLog *logger.Logger,
	conceptRepo repos.ConceptRepo,
	reviewService ReviewService,
	ai AIClient,
	runLock RunLock,
) NormalizationService {
	return &normalizationService{
		log:             baseLog.With("service", "NormalizationService"),
		conceptRepo:     conceptRepo,
		reviewService:   reviewService,
		ai:              ai,
		runLock:         runLock,
		maxIterations:   envutil.GetEnvAsInt("NORMALIZE_MAX_ITERATIONS", 3, baseLog),
		validateWorkers: envutil.GetEnvAsInt("NORMALIZE_VALIDATE_WORKERS", 4, baseLog),
	}
}

func (ns *normalizationService) StartRun(ctx context.Context, courseID, userID uuid.UUID) (<-chan sse.Event, error) {
	release, err := ns.runLock.Acquire(ctx, courseID)
	if err != nil {
		return nil, err
	}

	pending, err := ns.reviewService.HasPendingForCourse(ctx, courseID)
	if err != nil {
		release()
		return nil, err
	}
	if pending {
		release()
		return nil, apierr.Conflictf("active_review_exists", "course %s already has an unresolved review", courseID)
	}

	concepts, err := ns.conceptRepo.GetByCourseID(ctx, nil, courseID, true)
	if err != nil {
		release()
		return nil, err
	}

	events := make(chan sse.Event, 16)
	go ns.run(ctx, courseID, userID, concepts, events, release)
	return events, nil
}

func (ns *normalizationService) run(
	ctx context.Context,
	courseID, userID uuid.UUID,
	concepts []*types.Concept,
	events chan<- sse.Event,
	release func(),
) {
	defer release()
	defer close(events)

	log := ns.log.With("course_id", courseID)

	// emit returns false once cancellation has been observed; after that the
	// run must stay silent.
	emit := func(ev sse.Event) bool {
		if ctx.Err() != nil {
			return false
		}
		select {
		case events <- ev:
			return true
		case <-ctx.Done():
			return false
		}
	}

	if len(concepts) < 2 {
		emit(sse.Complete(false, ""))
		return
	}

	confirmed := make([]mergeCandidate, 0)
	seen := make(map[string]bool)
	var refinements []mergeCandidate

	for iter := 1; iter <= ns.maxIterations; iter++ {
		if ctx.Err() != nil {
			log.Debug("Run cancelled at phase boundary", "iteration", iter)
			return
		}
		if !emit(sse.Phase(phaseGeneration)) {
			return
		}
		if !emit(sse.Activity(fmt.Sprintf("Scanning %d concepts for near-duplicates (pass %d)", len(concepts), iter))) {
			return
		}

		candidates, err := ns.generate(ctx, concepts, refinements)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Error("Generation phase failed", "iteration", iter, "error", err)
			emit(sse.Error("concept normalization failed during generation"))
			return
		}

		fresh := make([]mergeCandidate, 0, len(candidates))
		for _, c := range candidates {
			if !seen[c.pairKey()] {
				fresh = append(fresh, c)
			}
		}
		if len(fresh) == 0 {
			break
		}

		if ctx.Err() != nil {
			return
		}
		if !emit(sse.Phase(phaseValidation)) {
			return
		}
		if !emit(sse.Activity(fmt.Sprintf("Re-examining %d candidate merges against the evidence", len(fresh)))) {
			return
		}

		ok, refine, err := ns.validate(ctx, concepts, fresh)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Error("Validation phase failed", "iteration", iter, "error", err)
			emit(sse.Error("concept normalization failed during validation"))
			return
		}

		for _, c := range ok {
			key := c.pairKey()
			if !seen[key] {
				seen[key] = true
				confirmed = append(confirmed, c)
			}
		}
		if !emit(sse.Activity(fmt.Sprintf("Confirmed %d merges so far, %d candidates need refinement", len(confirmed), len(refine)))) {
			return
		}

		// Convergence: validation asked for nothing further.
		if len(refine) == 0 {
			break
		}
		refinements = refine
	}

	if ctx.Err() != nil {
		return
	}

	if len(confirmed) == 0 {
		emit(sse.Complete(false, ""))
		return
	}

	proposals := make([]ProposalInput, 0, len(confirmed))
	involved := make(map[string]bool)
	for _, c := range confirmed {
		proposals = append(proposals, ProposalInput{
			ConceptA:      c.ConceptA,
			ConceptB:      c.ConceptB,
			CanonicalName: c.CanonicalName,
			Variants:      []string{c.ConceptA, c.ConceptB},
			Rationale:     c.Rationale,
		})
		involved[c.ConceptA] = true
		involved[c.ConceptB] = true
	}

	names := make([]string, 0, len(involved))
	for name := range involved {
		names = append(names, name)
	}
	sort.Strings(names)

	// Re-read the involved concepts so the snapshot reflects the store at
	// staging time, not the state the run started from.
	snapshot, err := ns.conceptRepo.GetByNames(ctx, nil, courseID, names)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		log.Error("Failed to snapshot concept definitions", "error", err)
		emit(sse.Error("failed to stage merge proposals for review"))
		return
	}
	definitions := make(map[string][]string)
	for _, concept := range snapshot {
		if concept == nil {
			continue
		}
		for _, ev := range concept.Evidence {
			if ev != nil && ev.Snippet != "" {
				definitions[concept.Name] = append(definitions[concept.Name], ev.Snippet)
			}
		}
	}

	reviewID, err := ns.reviewService.CreateReview(ctx, courseID, proposals, definitions, userID)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		log.Error("Failed to persist normalization review", "error", err)
		emit(sse.Error("failed to stage merge proposals for review"))
		return
	}

	log.Info("Normalization run complete", "review_id", reviewID, "proposals", len(proposals))
	emit(sse.Complete(true, reviewID.String()))
}

// ---- generation phase ----

var generationSchema = map[string]any{
	"type":                 "object",
	"additionalProperties": false,
	"required":             []string{"candidates"},
	"properties": map[string]any{
		"candidates": map[string]any{
			"type": "array",
			"items": map[string]any{
				"type":                 "object",
				"additionalProperties": false,
				"required":             []string{"concept_a", "concept_b", "canonical_name", "rationale"},
				"properties": map[string]any{
					"concept_a":      map[string]any{"type": "string"},
					"concept_b":      map[string]any{"type": "string"},
					"canonical_name": map[string]any{"type": "string"},
					"rationale":      map[string]any{"type": "string"},
				},
			},
		},
	},
}

const generationSystemPrompt = `You are consolidating a course's extracted concept list. ` +
	`Propose pairs of concepts that are near-duplicates of each other: spelling variants, ` +
	`synonyms, abbreviations, or the same idea phrased twice. Use the evidence snippets to ` +
	`judge meaning, not just surface form. Only propose a pair when merging would not lose ` +
	`a real distinction. For each pair pick the best canonical name, which may be one of ` +
	`the two names or a cleaner form of them.`

func (ns *normalizationService) generate(ctx context.Context, concepts []*types.Concept, refinements []mergeCandidate) ([]mergeCandidate, error) {
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	var b strings.Builder
	b.WriteString("Concepts in this course:\n")
	byName := make(map[string]*types.Concept, len(concepts))
	for _, c := range concepts {
		if c == nil {
			continue
		}
		byName[c.Name] = c
		b.WriteString("- ")
		b.WriteString(c.Name)
		for i, ev := range c.Evidence {
			if i >= 3 {
				break
			}
			if ev != nil && ev.Snippet != "" {
				b.WriteString("\n    evidence: ")
				b.WriteString(ev.Snippet)
			}
		}
		b.WriteString("\n")
	}

	if hints := lexicalHints(concepts); len(hints) > 0 {
		b.WriteString("\nPairs with near-identical surface form (verify before proposing):\n")
		for _, h := range hints {
			b.WriteString("- " + h + "\n")
		}
	}

	if len(refinements) > 0 {
		b.WriteString("\nThese earlier candidates need refinement; re-propose them with a better canonical name or a tighter pairing, or drop them:\n")
		for _, r := range refinements {
			fmt.Fprintf(&b, "- %q + %q (was: %q) — %s\n", r.ConceptA, r.ConceptB, r.CanonicalName, r.Rationale)
		}
	}

	out, err := ns.ai.GenerateJSON(ctx, generationSystemPrompt, b.String(), "merge_candidates", generationSchema)
	if err != nil {
		return nil, err
	}

	raw, _ := out["candidates"].([]any)
	candidates := make([]mergeCandidate, 0, len(raw))
	for _, item := range raw {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		c := mergeCandidate{
			ConceptA:      asString(m["concept_a"]),
			ConceptB:      asString(m["concept_b"]),
			CanonicalName: asString(m["canonical_name"]),
			Rationale:     asString(m["rationale"]),
		}
		// Drop hallucinated names and self-merges before they reach
		// validation.
		if c.ConceptA == "" || c.ConceptB == "" || c.CanonicalName == "" {
			continue
		}
		if c.ConceptA == c.ConceptB {
			continue
		}
		if byName[c.ConceptA] == nil || byName[c.ConceptB] == nil {
			continue
		}
		candidates = append(candidates, c)
	}
	return dedupeCandidates(candidates), nil
}

// lexicalHints surfaces concept pairs whose normalized names collide, a cheap
// signal the agent should double-check.
func lexicalHints(concepts []*types.Concept) []string {
	byKey := make(map[string][]string)
	for _, c := range concepts {
		if c == nil {
			continue
		}
		key := normalization.NameKey(c.Name)
		if key == "" {
			continue
		}
		byKey[key] = append(byKey[key], c.Name)
	}
	var hints []string
	for _, names := range byKey {
		if len(names) > 1 {
			hints = append(hints, strings.Join(names, " / "))
		}
	}
	sort.Strings(hints)
	return hints
}

func dedupeCandidates(in []mergeCandidate) []mergeCandidate {
	seen := make(map[string]bool, len(in))
	out := make([]mergeCandidate, 0, len(in))
	for _, c := range in {
		key := c.pairKey()
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, c)
	}
	return out
}

// ---- validation phase ----

var validationSchema = map[string]any{
	"type":                 "object",
	"additionalProperties": false,
	"required":             []string{"verdict", "canonical_name", "rationale"},
	"properties": map[string]any{
		"verdict":        map[string]any{"type": "string", "enum": []string{verdictConfirm, verdictReject, verdictRefine}},
		"canonical_name": map[string]any{"type": "string"},
		"rationale":      map[string]any{"type": "string"},
	},
}

const validationSystemPrompt = `You are double-checking a proposed merge of two course concepts. ` +
	`Given both concepts and their evidence, answer with confirm when they are truly the same ` +
	`concept, reject when they are distinct, and refine when they probably belong together but ` +
	`the pairing or canonical name needs another pass.`

func (ns *normalizationService) validate(ctx context.Context, concepts []*types.Concept, candidates []mergeCandidate) (confirmed, refine []mergeCandidate, err error) {
	byName := make(map[string]*types.Concept, len(concepts))
	for _, c := range concepts {
		if c != nil {
			byName[c.Name] = c
		}
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(ns.validateWorkers)

	for _, cand := range candidates {
		g.Go(func() error {
			if gctx.Err() != nil {
				return gctx.Err()
			}

			var b strings.Builder
			fmt.Fprintf(&b, "Proposed merge: %q + %q -> %q\nRationale from the first pass: %s\n",
				cand.ConceptA, cand.ConceptB, cand.CanonicalName, cand.Rationale)
			for _, name := range []string{cand.ConceptA, cand.ConceptB} {
				fmt.Fprintf(&b, "\nEvidence for %q:\n", name)
				concept := byName[name]
				if concept == nil || len(concept.Evidence) == 0 {
					b.WriteString("  (none recorded)\n")
					continue
				}
				for i, ev := range concept.Evidence {
					if i >= 5 {
						break
					}
					if ev != nil && ev.Snippet != "" {
						b.WriteString("  - " + ev.Snippet + "\n")
					}
				}
			}

			out, err := ns.ai.GenerateJSON(gctx, validationSystemPrompt, b.String(), "merge_verdict", validationSchema)
			if err != nil {
				return err
			}

			verdict := strings.ToLower(asString(out["verdict"]))
			result := cand
			if name := asString(out["canonical_name"]); name != "" {
				result.CanonicalName = name
			}
			if rationale := asString(out["rationale"]); rationale != "" {
				result.Rationale = rationale
			}

			mu.Lock()
			defer mu.Unlock()
			switch verdict {
			case verdictConfirm:
				confirmed = append(confirmed, result)
			case verdictRefine:
				refine = append(refine, result)
			}
			// reject: dropped before reaching review
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, nil, err
	}
	return confirmed, refine, nil
}

func asString(v any) string {
	s, _ := v.(string)
	return strings.TrimSpace(s)
}
