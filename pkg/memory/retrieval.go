package memory

import (
	"context"
	"sort"
	"strings"

	"github.com/lexlapax/aimemory/pkg/errors"
	"github.com/lexlapax/aimemory/pkg/log"
	"github.com/lexlapax/aimemory/pkg/mem/ltm"
)

// SearchOptions configures the behavior of memory retrieval.
type SearchOptions struct {
	// Limit caps the number of results; values <= 0 use the store default
	Limit int

	// MinScore is the similarity a result must strictly exceed
	MinScore float64
}

// Result is a single search hit.
type Result struct {
	ID       string                 `json:"id"`
	Content  string                 `json:"content"`
	Score    float64                `json:"score"`
	Metadata map[string]interface{} `json:"metadata"`
}

// Search runs SearchWithOptions with the store's configured limit and threshold.
func (m *Manager) Search(ctx context.Context, query, owner string) ([]Result, error) {
	return m.SearchWithOptions(ctx, query, owner, SearchOptions{
		Limit:    m.cfg.SearchLimit,
		MinScore: m.cfg.MinScore,
	})
}

// SearchWithOptions returns the facts visible to owner whose similarity to
// query exceeds opts.MinScore, best first. Embedding and read failures are
// logged and produce an empty result; only a backend that cannot be
// initialized at all is reported as an error.
func (m *Manager) SearchWithOptions(ctx context.Context, query, owner string, opts SearchOptions) ([]Result, error) {
	logger := log.WithOwner(log.FromContext(ctx), m.cfg.ID, owner)

	query = strings.TrimSpace(query)
	if query == "" {
		return []Result{}, nil
	}
	if opts.Limit <= 0 {
		opts.Limit = m.cfg.SearchLimit
	}

	candidates := m.scan(ctx, owner)
	if len(candidates) == 0 {
		return []Result{}, nil
	}

	queryVec, err := m.embedder.Embed(ctx, query)
	if err != nil {
		if errors.Is(err, errors.ErrBackendInitialization) {
			return nil, err
		}
		logger.Warn("Failed to embed query, returning no results", "error", err)
		return []Result{}, nil
	}

	results := make([]Result, 0, len(candidates))
	for _, rec := range candidates {
		if len(rec.Embedding) == 0 {
			continue
		}
		score := CosineSimilarity(queryVec, rec.Embedding)
		if score <= opts.MinScore {
			continue
		}
		result := toResult(rec, score)
		if !m.filterResult(ctx, result, query, owner) {
			continue
		}
		results = append(results, result)
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})
	if len(results) > opts.Limit {
		results = results[:opts.Limit]
	}

	logger.Debug("Search completed",
		"candidates", len(candidates),
		"results", len(results),
		"min_score", opts.MinScore)
	return results, nil
}

func toResult(rec ltm.MemoryRecord, score float64) Result {
	return Result{
		ID:       rec.ID,
		Content:  rec.Content,
		Score:    score,
		Metadata: ltm.NewMetadata(rec.Scope, rec.Owner, rec.CreatedAt),
	}
}
