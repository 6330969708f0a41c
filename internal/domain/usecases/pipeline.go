// Package usecases - pipeline.go sequences one query through the
// resolve -> classify -> dispatch -> merge stages.
package usecases

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/safebites/menuquery/internal/domain/entities"
	"github.com/safebites/menuquery/internal/domain/ports"
)

// stage is the pipeline's position in its lifecycle. Transitions only
// move forward; a failure short-circuits straight to stageDone with a
// partial or error result.
type stage int

const (
	stageReceived stage = iota
	stageContextResolved
	stageClassified
	stageDispatched
	stageMerged
	stageDone
)

func (s stage) String() string {
	switch s {
	case stageReceived:
		return "received"
	case stageContextResolved:
		return "context_resolved"
	case stageClassified:
		return "classified"
	case stageDispatched:
		return "dispatched"
	case stageMerged:
		return "merged"
	default:
		return "done"
	}
}

// resolvedQuery is the typed output of the resolve stage.
type resolvedQuery struct {
	query    entities.Query
	resolved string
	summary  string
	turns    []entities.Turn
	facts    entities.SessionFacts
}

// classifiedQuery is the typed output of the classify stage.
type classifiedQuery struct {
	resolvedQuery
	parts entities.QueryParts
}

// PipelineConfig carries orchestrator tunables.
type PipelineConfig struct {
	ContextWindow int // turns of history fed to the resolver
}

// DefaultPipelineConfig returns the defaults.
func DefaultPipelineConfig() PipelineConfig {
	return PipelineConfig{ContextWindow: 5}
}

// Pipeline orchestrates one query end to end. Each stage takes the
// previous stage's typed output and returns a new one; nothing is
// mutated in place and nothing is shared between category handlers.
type Pipeline struct {
	resolver   ports.ContextResolver
	classifier ports.Classifier
	retrieval  *RetrievalEngine
	llm        ports.LanguageModel
	sessions   ports.SessionStore
	cfg        PipelineConfig
	logger     *zap.Logger
}

// NewPipeline creates a Pipeline with injected dependencies.
func NewPipeline(
	resolver ports.ContextResolver,
	classifier ports.Classifier,
	retrieval *RetrievalEngine,
	llm ports.LanguageModel,
	sessions ports.SessionStore,
	cfg PipelineConfig,
	logger *zap.Logger,
) *Pipeline {
	if cfg.ContextWindow <= 0 {
		cfg.ContextWindow = 5
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{
		resolver:   resolver,
		classifier: classifier,
		retrieval:  retrieval,
		llm:        llm,
		sessions:   sessions,
		cfg:        cfg,
		logger:     logger,
	}
}

// Run executes the pipeline for one query. The returned ChatResult is
// always populated; Status distinguishes success, partial, and error.
func (p *Pipeline) Run(ctx context.Context, q entities.Query) (entities.ChatResult, error) {
	if strings.TrimSpace(q.Raw) == "" || q.SessionID == "" {
		return entities.ChatResult{Status: entities.StatusError},
			fmt.Errorf("%w: query and session_id are required", entities.ErrInvalidRequest)
	}

	cur := stageReceived
	log := p.logger.With(zap.String("session_id", q.SessionID), zap.String("scope_id", q.ScopeID))

	res := p.resolve(ctx, q)
	cur = stageContextResolved
	log.Debug("stage complete", zap.Stringer("stage", cur), zap.String("resolved", res.resolved))

	cls := p.classify(ctx, res)
	cur = stageClassified
	log.Debug("stage complete", zap.Stringer("stage", cur), zap.Int("buckets", len(cls.parts)))

	cur = stageDispatched
	log.Debug("stage complete", zap.Stringer("stage", cur))

	results := p.dispatch(ctx, cls)
	cur = stageMerged
	log.Debug("stage complete", zap.Stringer("stage", cur), zap.Int("results", len(results)))

	status := statusOf(ctx, results)
	if ctx.Err() != nil {
		// A cancelled request returns nothing: handlers that finished
		// before the deadline are discarded with the rest.
		results = nil
	}

	out := entities.ChatResult{
		SessionID:     q.SessionID,
		ScopeID:       q.ScopeID,
		OriginalQuery: q.Raw,
		Results:       results,
		Status:        status,
	}

	if out.Status != entities.StatusError {
		out.Answer = p.synthesize(ctx, res.resolved, results)
		p.recordTurn(ctx, q, results)
	}

	cur = stageDone
	log.Info("pipeline finished", zap.Stringer("stage", cur), zap.String("status", out.Status))
	return out, nil
}

// resolve rewrites the query against session history. A resolver
// failure degrades to the raw query rather than failing the request.
func (p *Pipeline) resolve(ctx context.Context, q entities.Query) resolvedQuery {
	turns, facts, err := p.sessions.History(ctx, q.SessionID, p.cfg.ContextWindow)
	if err != nil {
		p.logger.Warn("history unavailable, resolving without context", zap.Error(err))
	}

	out := resolvedQuery{query: q, resolved: q.Raw, turns: turns, facts: facts}

	resolved, summary, err := p.resolver.Resolve(ctx, q.Raw, turns, facts)
	if err != nil {
		p.logger.Warn("context resolution failed, using raw query", zap.Error(err))
		return out
	}
	out.resolved = resolved
	out.summary = summary
	return out
}

// classify buckets the resolved query's clauses. The classifier port
// already absorbs malformed output; an outright failure routes the
// whole query to the irrelevant bucket.
func (p *Pipeline) classify(ctx context.Context, res resolvedQuery) classifiedQuery {
	parts, err := p.classifier.Classify(ctx, res.resolved, res.turns)
	if err != nil || len(parts) == 0 {
		if err != nil {
			p.logger.Warn("classification failed, routing to irrelevant", zap.Error(err))
		}
		parts = entities.QueryParts{entities.CategoryIrrelevant: {res.resolved}}
	}
	return classifiedQuery{resolvedQuery: res, parts: parts}
}

// dispatch fans out one handler per non-empty category bucket and joins
// them. Handlers share nothing: each writes only its own slot. A failed
// handler degrades its own clauses; it never blocks or nulls the others.
func (p *Pipeline) dispatch(ctx context.Context, cls classifiedQuery) []entities.ClauseResult {
	categories := make([]entities.Category, 0, len(cls.parts))
	for cat := range cls.parts {
		categories = append(categories, cat)
	}
	sort.Slice(categories, func(i, j int) bool { return categories[i] < categories[j] })

	slots := make([][]entities.ClauseResult, len(categories))
	g, gctx := errgroup.WithContext(ctx)
	for i, cat := range categories {
		clauses := cls.parts[cat]
		g.Go(func() error {
			slots[i] = p.handle(gctx, cat, clauses, cls)
			return nil
		})
	}
	// Handlers report failures per clause, so Wait only returns a
	// context error.
	_ = g.Wait()

	var merged []entities.ClauseResult
	for _, slot := range slots {
		merged = append(merged, slot...)
	}
	return merged
}

// handle routes one category bucket to its handler.
func (p *Pipeline) handle(ctx context.Context, cat entities.Category, clauses []string, cls classifiedQuery) []entities.ClauseResult {
	switch cat {
	case entities.CategoryItemSearch:
		return p.handleItemSearch(ctx, clauses, cls)
	case entities.CategoryItemDetail:
		return p.handleItemDetail(ctx, clauses, cls)
	case entities.CategorySelfPreference:
		return p.handleSelfPreference(ctx, clauses, cls)
	default:
		return p.handleIrrelevant(clauses)
	}
}

// statusOf derives the response status from per-clause outcomes.
// Cancellation and a missing index are pipeline-wide; anything else is
// isolated to its clause.
func statusOf(ctx context.Context, results []entities.ClauseResult) string {
	if ctx.Err() != nil {
		return entities.StatusError
	}
	failed := 0
	for _, r := range results {
		if r.Err != nil {
			if errors.Is(r.Err, entities.ErrIndexUnavailable) {
				return entities.StatusError
			}
			failed++
		}
	}
	switch {
	case failed == 0:
		return entities.StatusSuccess
	case failed == len(results):
		return entities.StatusError
	default:
		return entities.StatusPartial
	}
}

// recordTurn appends the completed exchange to the session. Append
// order within a session is guaranteed by the store's per-session
// serialization.
func (p *Pipeline) recordTurn(ctx context.Context, q entities.Query, results []entities.ClauseResult) {
	cat := entities.CategoryIrrelevant
	var parts []string
	for _, r := range results {
		if r.Category != entities.CategoryIrrelevant {
			cat = r.Category
		}
		parts = append(parts, summarizeClause(r))
	}
	turn := entities.Turn{
		Query:     q.Raw,
		Category:  cat,
		Summary:   strings.Join(parts, "; "),
		Timestamp: time.Now().UTC(),
	}
	if err := p.sessions.Append(ctx, q.SessionID, turn); err != nil {
		p.logger.Warn("failed to record turn", zap.Error(err))
	}
}

func summarizeClause(r entities.ClauseResult) string {
	if len(r.Items) == 0 {
		if r.Answer != "" {
			return fmt.Sprintf("%s: answered", r.Clause)
		}
		return fmt.Sprintf("%s: no results", r.Clause)
	}
	names := make([]string, 0, len(r.Items))
	for _, it := range r.Items {
		names = append(names, it.Item.Name)
	}
	return fmt.Sprintf("%s: %s", r.Clause, strings.Join(names, ", "))
}
