package es

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"access-verifier/internal/client"
	"access-verifier/internal/model"
)

// SimilaritySearcher finds enrolled employees whose reference embedding
// is close to a probe vector. Used for candidate suggestions when an
// attempt arrives with a face but no resolvable badge.
type SimilaritySearcher interface {
	FindSimilar(ctx context.Context, vector []float32, minSimilarity float64, limit int) ([]model.CandidateMatch, error)
}

// EmbeddingIndexer writes reference embeddings at enrollment time.
type EmbeddingIndexer interface {
	IndexEmployeeEmbedding(ctx context.Context, emp *model.EmployeeRecord) error
}

// EmbeddingIndex backs both contracts with an Elasticsearch dense_vector
// index queried via kNN.
type EmbeddingIndex struct {
	client *client.ESClient
	index  string
	logger *zap.Logger
}

var (
	_ SimilaritySearcher = (*EmbeddingIndex)(nil)
	_ EmbeddingIndexer   = (*EmbeddingIndex)(nil)
)

func NewEmbeddingIndex(es *client.ESClient, index string, logger *zap.Logger) *EmbeddingIndex {
	if index == "" {
		index = "employee-embeddings"
	}
	return &EmbeddingIndex{
		client: es,
		index:  index,
		logger: logger,
	}
}

type embeddingDocument struct {
	EmployeeID string    `json:"employee_id"`
	Name       string    `json:"name"`
	Embedding  []float32 `json:"embedding"`
	IndexedAt  time.Time `json:"indexed_at"`
}

type knnResponse struct {
	Hits struct {
		Hits []struct {
			Score  float64           `json:"_score"`
			Source embeddingDocument `json:"_source"`
		} `json:"hits"`
	} `json:"hits"`
}

// FindSimilar runs a kNN query over the reference embeddings and returns
// candidates at or above minSimilarity, best first. Elasticsearch scores
// cosine kNN as (1 + cosine) / 2, so scores are mapped back to plain
// cosine similarity before filtering.
func (idx *EmbeddingIndex) FindSimilar(ctx context.Context, vector []float32, minSimilarity float64, limit int) ([]model.CandidateMatch, error) {
	if limit <= 0 {
		limit = 3
	}

	query := map[string]interface{}{
		"knn": map[string]interface{}{
			"field":          "embedding",
			"query_vector":   vector,
			"k":              limit,
			"num_candidates": limit * 10,
		},
		"_source": []string{"employee_id", "name"},
		"size":    limit,
	}

	res, err := idx.client.Search(ctx, idx.index, query)
	if err != nil {
		return nil, fmt.Errorf("knn search failed: %w", err)
	}

	var parsed knnResponse
	if err := idx.client.ParseResponse(res, &parsed); err != nil {
		return nil, fmt.Errorf("failed to parse knn response: %w", err)
	}

	candidates := make([]model.CandidateMatch, 0, len(parsed.Hits.Hits))
	for _, hit := range parsed.Hits.Hits {
		similarity := 2*hit.Score - 1
		if similarity < minSimilarity {
			continue
		}
		candidates = append(candidates, model.CandidateMatch{
			EmployeeID: hit.Source.EmployeeID,
			Name:       hit.Source.Name,
			Distance:   1 - similarity,
			Confidence: similarity,
		})
	}

	idx.logger.Debug("Similarity search completed",
		zap.Int("hits", len(parsed.Hits.Hits)),
		zap.Int("candidates", len(candidates)),
	)
	return candidates, nil
}

// IndexEmployeeEmbedding stores (or replaces) the reference vector for
// an employee. Documents are keyed by employee id so re-enrollment
// overwrites rather than duplicates.
func (idx *EmbeddingIndex) IndexEmployeeEmbedding(ctx context.Context, emp *model.EmployeeRecord) error {
	if !emp.HasReferenceEmbedding() {
		return fmt.Errorf("employee %s has no reference embedding", emp.ID)
	}

	doc := embeddingDocument{
		EmployeeID: emp.ID,
		Name:       emp.Name,
		Embedding:  emp.FaceEmbedding,
		IndexedAt:  time.Now().UTC(),
	}

	res, err := idx.client.IndexDocument(ctx, idx.index, emp.ID, doc)
	if err != nil {
		return fmt.Errorf("failed to index embedding for %s: %w", emp.ID, err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return fmt.Errorf("elasticsearch rejected embedding for %s: %s", emp.ID, res.String())
	}

	idx.logger.Info("Reference embedding indexed",
		zap.String("employee_id", emp.ID),
		zap.Int("dimensions", len(emp.FaceEmbedding)),
	)
	return nil
}
