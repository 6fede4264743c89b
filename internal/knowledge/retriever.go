// Package knowledge provides the retriever that supplies answer sources
// from the indexed knowledge base.
package knowledge

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/elastic/go-elasticsearch/v8"

	"github.com/supportiq/assist/internal/model"
)

// Retriever looks up knowledge chunks relevant to a query.
type Retriever interface {
	Retrieve(ctx context.Context, userID, query string, topK int) ([]model.Source, error)
}

// chunkDoc is the indexed shape produced by the ingestion pipeline.
type chunkDoc struct {
	Title   string `json:"title"`
	Content string `json:"content"`
	UserID  string `json:"user_id"`
}

// ElasticRetriever runs a plain match query over the knowledge index.
// Ranking beyond Elasticsearch's own scoring is out of scope here.
type ElasticRetriever struct {
	client *elasticsearch.Client
	index  string
}

// NewElasticRetriever creates a retriever over the given index.
func NewElasticRetriever(client *elasticsearch.Client, index string) *ElasticRetriever {
	return &ElasticRetriever{client: client, index: index}
}

// Retrieve implements Retriever.
func (r *ElasticRetriever) Retrieve(ctx context.Context, userID, query string, topK int) ([]model.Source, error) {
	if topK <= 0 {
		topK = 5
	}

	body := map[string]any{
		"size": topK,
		"query": map[string]any{
			"bool": map[string]any{
				"must": []map[string]any{
					{"term": map[string]any{"user_id": userID}},
					{"match": map[string]any{"content": query}},
				},
			},
		},
	}

	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(body); err != nil {
		return nil, fmt.Errorf("failed to encode knowledge query: %w", err)
	}

	res, err := r.client.Search(
		r.client.Search.WithContext(ctx),
		r.client.Search.WithIndex(r.index),
		r.client.Search.WithBody(&buf),
	)
	if err != nil {
		return nil, fmt.Errorf("knowledge search failed: %w", err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return nil, fmt.Errorf("knowledge search returned %s", res.Status())
	}

	var envelope struct {
		Hits struct {
			Hits []struct {
				Source chunkDoc `json:"_source"`
			} `json:"hits"`
		} `json:"hits"`
	}
	if err := json.NewDecoder(res.Body).Decode(&envelope); err != nil {
		return nil, fmt.Errorf("failed to decode knowledge response: %w", err)
	}

	sources := make([]model.Source, 0, len(envelope.Hits.Hits))
	for _, hit := range envelope.Hits.Hits {
		chunk := hit.Source.Content
		if len(chunk) > 200 {
			chunk = chunk[:200] + "..."
		}
		sources = append(sources, model.Source{
			Title: hit.Source.Title,
			Chunk: chunk,
		})
	}
	return sources, nil
}
