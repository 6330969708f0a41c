package usecases

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/safebites/menuquery/internal/domain/entities"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type stubResolver struct {
	resolved string
	summary  string
	err      error
	gotQuery string
}

func (s *stubResolver) Resolve(_ context.Context, query string, _ []entities.Turn, _ entities.SessionFacts) (string, string, error) {
	s.gotQuery = query
	if s.err != nil {
		return "", "", s.err
	}
	if s.resolved == "" {
		return query, s.summary, nil
	}
	return s.resolved, s.summary, nil
}

type stubClassifier struct {
	parts    entities.QueryParts
	err      error
	gotQuery string
}

func (s *stubClassifier) Classify(_ context.Context, query string, _ []entities.Turn) (entities.QueryParts, error) {
	s.gotQuery = query
	return s.parts, s.err
}

// stubLLM answers prompts through fn. Handlers run concurrently, so the
// prompt log is guarded.
type stubLLM struct {
	fn      func(prompt string) (string, error)
	mu      sync.Mutex
	prompts []string
}

func (s *stubLLM) Complete(_ context.Context, prompt string) (string, error) {
	s.mu.Lock()
	s.prompts = append(s.prompts, prompt)
	s.mu.Unlock()
	if s.fn == nil {
		return "ok", nil
	}
	return s.fn(prompt)
}

type stubSessions struct {
	turns    []entities.Turn
	facts    entities.SessionFacts
	appended []entities.Turn
}

func (s *stubSessions) GetOrCreate(context.Context, string, string) (string, error) { return "s", nil }
func (s *stubSessions) Ensure(context.Context, string) error                        { return nil }
func (s *stubSessions) History(context.Context, string, int) ([]entities.Turn, entities.SessionFacts, error) {
	return s.turns, s.facts, nil
}
func (s *stubSessions) Append(_ context.Context, _ string, turn entities.Turn) error {
	s.appended = append(s.appended, turn)
	return nil
}
func (s *stubSessions) SetFacts(_ context.Context, _ string, facts entities.SessionFacts) error {
	s.facts = facts
	return nil
}

// searchEngine wires a real retrieval engine over the given index, with
// every clause expanding to a single positive term.
func searchEngine(idx *stubIndex, clauses ...string) *RetrievalEngine {
	vec := []float32{1, 0}
	intents := make(map[string]entities.IntentSet)
	vecs := map[string][]float32{"term": vec}
	for _, c := range clauses {
		intents[c] = entities.IntentSet{Positive: []string{"term"}}
	}
	return NewRetrievalEngine(
		&stubExtractor{intents: intents},
		&stubEmbedder{vecs: vecs},
		idx,
		DefaultRetrievalConfig(),
		nil,
	)
}

func TestPipelineRejectsEmptyQuery(t *testing.T) {
	p := NewPipeline(&stubResolver{}, &stubClassifier{}, searchEngine(&stubIndex{}), &stubLLM{}, &stubSessions{}, DefaultPipelineConfig(), nil)

	_, err := p.Run(context.Background(), entities.Query{Raw: "  ", SessionID: "s1"})
	assert.ErrorIs(t, err, entities.ErrInvalidRequest)

	_, err = p.Run(context.Background(), entities.Query{Raw: "pasta"})
	assert.ErrorIs(t, err, entities.ErrInvalidRequest)
}

func TestPipelineMergesCategories(t *testing.T) {
	idx := &stubIndex{hits: map[string][]entities.Hit{
		vecKey([]float32{1, 0}): {hit("penne", 0.9, []float32{1, 0})},
	}}
	cls := &stubClassifier{parts: entities.QueryParts{
		entities.CategoryItemSearch:     {"show me pasta"},
		entities.CategorySelfPreference: {"what am i allergic to"},
	}}
	sessions := &stubSessions{facts: entities.SessionFacts{UserAllergens: []string{"peanuts"}}}
	p := NewPipeline(&stubResolver{}, cls, searchEngine(idx, "show me pasta"), &stubLLM{}, sessions, DefaultPipelineConfig(), nil)

	out, err := p.Run(context.Background(), entities.Query{Raw: "show me pasta, and what am i allergic to", SessionID: "s1", ScopeID: "r1"})
	require.NoError(t, err)
	assert.Equal(t, entities.StatusSuccess, out.Status)
	require.Len(t, out.Results, 2)

	byCat := map[entities.Category]entities.ClauseResult{}
	for _, r := range out.Results {
		byCat[r.Category] = r
	}
	require.Contains(t, byCat, entities.CategoryItemSearch)
	require.Contains(t, byCat, entities.CategorySelfPreference)
	assert.Len(t, byCat[entities.CategoryItemSearch].Items, 1)
	assert.NotEmpty(t, byCat[entities.CategorySelfPreference].Answer)

	require.Len(t, sessions.appended, 1)
	assert.Equal(t, "show me pasta, and what am i allergic to", sessions.appended[0].Query)
}

func TestPipelinePartialWhenOneBucketFails(t *testing.T) {
	idx := &stubIndex{err: errors.New("timeout")}
	cls := &stubClassifier{parts: entities.QueryParts{
		entities.CategoryItemSearch:     {"show me pasta"},
		entities.CategorySelfPreference: {"my allergens"},
	}}
	p := NewPipeline(&stubResolver{}, cls, searchEngine(idx, "show me pasta"), &stubLLM{}, &stubSessions{}, DefaultPipelineConfig(), nil)

	out, err := p.Run(context.Background(), entities.Query{Raw: "q", SessionID: "s1"})
	require.NoError(t, err)
	assert.Equal(t, entities.StatusPartial, out.Status)

	var failed, ok int
	for _, r := range out.Results {
		if r.Err != nil {
			failed++
		} else {
			ok++
		}
	}
	assert.Equal(t, 1, failed)
	assert.Equal(t, 1, ok)
}

func TestPipelineIndexUnavailableIsFatal(t *testing.T) {
	idx := &stubIndex{err: entities.ErrIndexUnavailable}
	cls := &stubClassifier{parts: entities.QueryParts{
		entities.CategoryItemSearch:     {"show me pasta"},
		entities.CategorySelfPreference: {"my allergens"},
	}}
	sessions := &stubSessions{}
	p := NewPipeline(&stubResolver{}, cls, searchEngine(idx, "show me pasta"), &stubLLM{}, sessions, DefaultPipelineConfig(), nil)

	out, err := p.Run(context.Background(), entities.Query{Raw: "q", SessionID: "s1"})
	require.NoError(t, err)
	assert.Equal(t, entities.StatusError, out.Status)
	assert.Empty(t, out.Answer)
	assert.Empty(t, sessions.appended, "failed exchanges must not pollute history")
}

// blockingIndex parks every search until the request context expires.
type blockingIndex struct {
	stubIndex
}

func (b *blockingIndex) Search(ctx context.Context, _ []float32, _ string, _ int, _ float64) ([]entities.Hit, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestPipelineCancellationDiscardsFinishedHandlers(t *testing.T) {
	// The irrelevant handler completes instantly; item_search blocks past
	// the deadline. Neither result may reach the caller.
	idx := &blockingIndex{}
	eng := NewRetrievalEngine(
		&stubExtractor{intents: map[string]entities.IntentSet{
			"show me pasta": {Positive: []string{"term"}},
		}},
		&stubEmbedder{vecs: map[string][]float32{"term": {1, 0}}},
		idx,
		DefaultRetrievalConfig(),
		nil,
	)
	cls := &stubClassifier{parts: entities.QueryParts{
		entities.CategoryItemSearch: {"show me pasta"},
		entities.CategoryIrrelevant: {"tell me a joke"},
	}}
	sessions := &stubSessions{}
	p := NewPipeline(&stubResolver{}, cls, eng, &stubLLM{}, sessions, DefaultPipelineConfig(), nil)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	out, err := p.Run(ctx, entities.Query{Raw: "show me pasta, tell me a joke", SessionID: "s1"})
	require.NoError(t, err)
	assert.Equal(t, entities.StatusError, out.Status)
	assert.Empty(t, out.Results, "results computed before the deadline must be discarded")
	assert.Empty(t, out.Answer)
	assert.Empty(t, sessions.appended)
}

func TestPipelineClassifierFailureRoutesIrrelevant(t *testing.T) {
	cls := &stubClassifier{err: errors.New("model returned prose")}
	p := NewPipeline(&stubResolver{}, cls, searchEngine(&stubIndex{}), &stubLLM{}, &stubSessions{}, DefaultPipelineConfig(), nil)

	out, err := p.Run(context.Background(), entities.Query{Raw: "tell me a joke", SessionID: "s1"})
	require.NoError(t, err)
	require.Len(t, out.Results, 1)
	assert.Equal(t, entities.CategoryIrrelevant, out.Results[0].Category)
	assert.Equal(t, irrelevantReply, out.Results[0].Answer)
	assert.Equal(t, entities.StatusSuccess, out.Status)
}

func TestPipelineResolverFailureDegradesToRaw(t *testing.T) {
	res := &stubResolver{err: errors.New("llm down")}
	cls := &stubClassifier{parts: entities.QueryParts{entities.CategoryIrrelevant: {"hi"}}}
	p := NewPipeline(res, cls, searchEngine(&stubIndex{}), &stubLLM{}, &stubSessions{}, DefaultPipelineConfig(), nil)

	_, err := p.Run(context.Background(), entities.Query{Raw: "what about the second one?", SessionID: "s1"})
	require.NoError(t, err)
	assert.Equal(t, "what about the second one?", cls.gotQuery)
}

func TestPipelineSelfPreferenceFallback(t *testing.T) {
	llm := &stubLLM{fn: func(prompt string) (string, error) {
		if strings.Contains(prompt, "preferences and account information") {
			return "", errors.New("llm down")
		}
		return "ok", nil
	}}
	cls := &stubClassifier{parts: entities.QueryParts{entities.CategorySelfPreference: {"what am i allergic to"}}}
	sessions := &stubSessions{facts: entities.SessionFacts{UserAllergens: []string{"peanuts", "shellfish"}}}
	p := NewPipeline(&stubResolver{}, cls, searchEngine(&stubIndex{}), llm, sessions, DefaultPipelineConfig(), nil)

	out, err := p.Run(context.Background(), entities.Query{Raw: "what am i allergic to", SessionID: "s1"})
	require.NoError(t, err)
	require.Len(t, out.Results, 1)
	assert.Equal(t, "You are allergic to: peanuts, shellfish.", out.Results[0].Answer)
}

func TestPipelineDetailAnswersFromGeneralKnowledge(t *testing.T) {
	idx := &stubIndex{}
	llm := &stubLLM{fn: func(prompt string) (string, error) {
		switch {
		case strings.Contains(prompt, "intent analyzer"):
			return "general_knowledge", nil
		case strings.Contains(prompt, "general food knowledge"):
			return "Plain chocolate is naturally gluten free.", nil
		default:
			return "ok", nil
		}
	}}
	cls := &stubClassifier{parts: entities.QueryParts{entities.CategoryItemDetail: {"does chocolate contain gluten?"}}}
	p := NewPipeline(&stubResolver{}, cls, searchEngine(idx), llm, &stubSessions{}, DefaultPipelineConfig(), nil)

	out, err := p.Run(context.Background(), entities.Query{Raw: "does chocolate contain gluten?", SessionID: "s1"})
	require.NoError(t, err)
	require.Len(t, out.Results, 1)
	assert.Equal(t, "Plain chocolate is naturally gluten free.", out.Results[0].Answer)
	assert.Empty(t, out.Results[0].Items)
	assert.Zero(t, idx.searches.Load(), "general knowledge answers bypass retrieval")
}

func TestPipelineDetailConsultsMenuData(t *testing.T) {
	idx := &stubIndex{hits: map[string][]entities.Hit{
		vecKey([]float32{1, 0}): {hit("lava-cake", 0.92, []float32{1, 0})},
	}}
	llm := &stubLLM{fn: func(prompt string) (string, error) {
		switch {
		case strings.Contains(prompt, "intent analyzer"):
			return "requires_menu_data", nil
		case strings.Contains(prompt, "Dish Data"):
			return "The lava cake has 540 calories.", nil
		default:
			return "ok", nil
		}
	}}
	clause := "how many calories in the lava cake"
	cls := &stubClassifier{parts: entities.QueryParts{entities.CategoryItemDetail: {clause}}}
	p := NewPipeline(&stubResolver{}, cls, searchEngine(idx, clause), llm, &stubSessions{}, DefaultPipelineConfig(), nil)

	out, err := p.Run(context.Background(), entities.Query{Raw: clause, SessionID: "s1"})
	require.NoError(t, err)
	require.Len(t, out.Results, 1)
	assert.Equal(t, "The lava cake has 540 calories.", out.Results[0].Answer)
	require.Len(t, out.Results[0].Items, 1)
	assert.Equal(t, "lava-cake", out.Results[0].Items[0].Item.ID)
}

func TestPipelineSearchClauseCarriesContextSummary(t *testing.T) {
	seen := make(map[string]entities.IntentSet)
	ext := &stubExtractor{intents: seen}
	withContext := "cheap ones\n\nAdditional context:\nUser was browsing pasta dishes"
	seen[withContext] = entities.IntentSet{Positive: []string{"term"}}

	idx := &stubIndex{hits: map[string][]entities.Hit{
		vecKey([]float32{1, 0}): {hit("penne", 0.9, []float32{1, 0})},
	}}
	eng := NewRetrievalEngine(ext, &stubEmbedder{vecs: map[string][]float32{"term": {1, 0}}}, idx, DefaultRetrievalConfig(), nil)

	res := &stubResolver{summary: "User was browsing pasta dishes"}
	cls := &stubClassifier{parts: entities.QueryParts{entities.CategoryItemSearch: {"cheap ones"}}}
	p := NewPipeline(res, cls, eng, &stubLLM{}, &stubSessions{}, DefaultPipelineConfig(), nil)

	out, err := p.Run(context.Background(), entities.Query{Raw: "cheap ones", SessionID: "s1"})
	require.NoError(t, err)
	require.Len(t, out.Results, 1)
	// Retrieval saw the augmented clause; the result keeps the original.
	assert.Equal(t, "cheap ones", out.Results[0].Clause)
	assert.Len(t, out.Results[0].Items, 1)
}
