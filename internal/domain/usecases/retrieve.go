// Package usecases - retrieve.go implements semantic retrieval with negation.
package usecases

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/safebites/menuquery/internal/domain/entities"
	"github.com/safebites/menuquery/internal/domain/ports"
)

// RetrievalConfig carries the tunables of the retrieval algorithm. The
// thresholds were found empirically; they are configuration so they can
// change without a code change.
type RetrievalConfig struct {
	TopK              int     // per-term search cap
	SearchThreshold   float64 // minimum raw similarity for a hit (inclusive)
	CentroidThreshold float64 // minimum centroid similarity to survive refinement (exclusive)
}

// DefaultRetrievalConfig returns the tuned defaults.
func DefaultRetrievalConfig() RetrievalConfig {
	return RetrievalConfig{
		TopK:              20,
		SearchThreshold:   0.8,
		CentroidThreshold: 0.30,
	}
}

// RetrievalEngine answers one clause against the vector index while
// honoring the clause's exclusion terms.
//
// The algorithm: expand the clause into positive and negative term
// sets, search the index once per term, veto every item that matched
// any negative term, then re-rank the survivors by similarity to the
// centroid of the positive terms. Per-term searches maximize recall;
// the centroid pass removes items pulled in by a single loosely
// related synonym.
type RetrievalEngine struct {
	extractor ports.IntentExtractor
	embedder  ports.EmbeddingService
	index     ports.VectorIndex
	cfg       RetrievalConfig
	logger    *zap.Logger
}

// NewRetrievalEngine creates a RetrievalEngine with injected dependencies.
func NewRetrievalEngine(
	extractor ports.IntentExtractor,
	embedder ports.EmbeddingService,
	index ports.VectorIndex,
	cfg RetrievalConfig,
	logger *zap.Logger,
) *RetrievalEngine {
	if cfg.TopK <= 0 {
		cfg.TopK = 20
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RetrievalEngine{
		extractor: extractor,
		embedder:  embedder,
		index:     index,
		cfg:       cfg,
		logger:    logger,
	}
}

// Retrieve runs the full clause -> ranked hits algorithm. An empty
// clause or an empty positive intent set returns no hits without
// touching the index.
func (e *RetrievalEngine) Retrieve(ctx context.Context, clause, scopeID string) ([]entities.RankedHit, error) {
	if strings.TrimSpace(clause) == "" {
		return nil, nil
	}

	intents, err := e.extractor.Extract(ctx, clause)
	if err != nil {
		return nil, fmt.Errorf("extracting intents: %w", err)
	}
	if len(intents.Positive) == 0 {
		// Nothing to rank against.
		return nil, nil
	}

	posVecs, err := e.embedder.EmbedBatch(ctx, intents.Positive)
	if err != nil {
		return nil, fmt.Errorf("embedding positive terms: %w", err)
	}
	var negVecs [][]float32
	if len(intents.Negative) > 0 {
		negVecs, err = e.embedder.EmbedBatch(ctx, intents.Negative)
		if err != nil {
			return nil, fmt.Errorf("embedding negative terms: %w", err)
		}
	}

	// Per-term searches are independent reads of one snapshot, so they
	// run concurrently. Results land in per-term slots and are unioned
	// in term order afterwards, keeping the final ranking deterministic.
	posHitsByTerm := make([][]entities.Hit, len(posVecs))
	negHitsByTerm := make([][]entities.Hit, len(negVecs))

	g, gctx := errgroup.WithContext(ctx)
	for i, vec := range posVecs {
		g.Go(func() error {
			hits, err := e.index.Search(gctx, vec, scopeID, e.cfg.TopK, e.cfg.SearchThreshold)
			if err != nil {
				return fmt.Errorf("positive search %q: %w", intents.Positive[i], err)
			}
			posHitsByTerm[i] = hits
			return nil
		})
	}
	for i, vec := range negVecs {
		g.Go(func() error {
			hits, err := e.index.Search(gctx, vec, scopeID, e.cfg.TopK, e.cfg.SearchThreshold)
			if err != nil {
				return fmt.Errorf("negative search %q: %w", intents.Negative[i], err)
			}
			negHitsByTerm[i] = hits
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var posHits []entities.Hit
	for _, hits := range posHitsByTerm {
		posHits = append(posHits, hits...)
	}

	// Hard veto: an item matching any negative term is dropped entirely,
	// even if it also scored highly on a positive term.
	negIDs := make(map[string]struct{})
	for _, hits := range negHitsByTerm {
		for _, h := range hits {
			negIDs[h.Item.ID] = struct{}{}
		}
	}

	seen := make(map[string]struct{})
	var unique []entities.Hit
	for _, h := range posHits {
		if _, vetoed := negIDs[h.Item.ID]; vetoed {
			continue
		}
		if _, dup := seen[h.Item.ID]; dup {
			continue
		}
		seen[h.Item.ID] = struct{}{}
		unique = append(unique, h)
	}

	refined := e.refineWithCentroid(unique, posVecs)

	e.logger.Debug("semantic retrieval",
		zap.String("clause", clause),
		zap.String("scope_id", scopeID),
		zap.Strings("positive", intents.Positive),
		zap.Strings("negative", intents.Negative),
		zap.Int("positive_hits", len(posHits)),
		zap.Int("vetoed", len(negIDs)),
		zap.Int("filtered", len(unique)),
		zap.Int("refined", len(refined)),
	)

	return refined, nil
}

// refineWithCentroid re-scores hits against the mean of the positive
// term embeddings and drops everything at or below the centroid
// threshold. The raw per-term score is discarded here: centroid
// similarity is the final ordering key.
func (e *RetrievalEngine) refineWithCentroid(hits []entities.Hit, posVecs [][]float32) []entities.RankedHit {
	if len(hits) == 0 || len(posVecs) == 0 {
		return nil
	}

	centroid := meanVector(posVecs)

	var refined []entities.RankedHit
	for _, h := range hits {
		if len(h.Embedding) == 0 {
			continue
		}
		sim := cosineSimilarity(centroid, h.Embedding)
		if sim > e.cfg.CentroidThreshold {
			refined = append(refined, entities.RankedHit{Hit: h, CentroidSimilarity: sim})
		}
	}

	// Stable so equal scores keep first-occurrence order.
	sort.SliceStable(refined, func(i, j int) bool {
		return refined[i].CentroidSimilarity > refined[j].CentroidSimilarity
	})
	return refined
}

// meanVector averages vectors in slice order. The fixed reduction order
// keeps floating-point results reproducible across runs.
func meanVector(vecs [][]float32) []float32 {
	dim := len(vecs[0])
	sum := make([]float64, dim)
	for _, v := range vecs {
		for i := 0; i < dim && i < len(v); i++ {
			sum[i] += float64(v[i])
		}
	}
	mean := make([]float32, dim)
	n := float64(len(vecs))
	for i := range sum {
		mean[i] = float32(sum[i] / n)
	}
	return mean
}

// cosineSimilarity calculates cosine similarity between two vectors.
func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}

	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}

	if normA == 0 || normB == 0 {
		return 0
	}

	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
