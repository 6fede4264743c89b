package ticket

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"
	"github.com/google/uuid"

	"github.com/supportiq/assist/internal/model"
)

// maxSearchLimit caps a single search page.
const maxSearchLimit = 20

// ElasticIndex is the Elasticsearch-backed ticket index.
type ElasticIndex struct {
	client *elasticsearch.Client
	index  string
}

// NewElasticIndex creates the index client and ensures the index exists.
func NewElasticIndex(ctx context.Context, client *elasticsearch.Client, index string) (*ElasticIndex, error) {
	idx := &ElasticIndex{client: client, index: index}
	if err := idx.ensureIndex(ctx); err != nil {
		return nil, err
	}
	return idx, nil
}

func (e *ElasticIndex) ensureIndex(ctx context.Context) error {
	res, err := e.client.Indices.Exists([]string{e.index}, e.client.Indices.Exists.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("failed to check ticket index: %w", err)
	}
	defer res.Body.Close()
	if res.StatusCode == http.StatusOK {
		return nil
	}
	if res.StatusCode != http.StatusNotFound {
		return fmt.Errorf("unexpected status checking ticket index: %d", res.StatusCode)
	}

	mapping := `{
		"mappings": {
			"properties": {
				"ticket_number": { "type": "integer" },
				"title":         { "type": "text" },
				"description":   { "type": "text" },
				"status":        { "type": "keyword" },
				"priority":      { "type": "keyword" },
				"category":      { "type": "keyword" },
				"user_id":       { "type": "keyword" },
				"created_at":    { "type": "date" },
				"updated_at":    { "type": "date" }
			}
		}
	}`

	create, err := e.client.Indices.Create(
		e.index,
		e.client.Indices.Create.WithContext(ctx),
		e.client.Indices.Create.WithBody(strings.NewReader(mapping)),
	)
	if err != nil {
		return fmt.Errorf("failed to create ticket index: %w", err)
	}
	defer create.Body.Close()
	if create.IsError() {
		return fmt.Errorf("ticket index creation returned %s", create.Status())
	}
	return nil
}

// searchEnvelope is the slice of the ES response we care about.
type searchEnvelope struct {
	Hits struct {
		Total struct {
			Value int `json:"value"`
		} `json:"total"`
		Hits []struct {
			ID     string `json:"_id"`
			Source Ticket `json:"_source"`
		} `json:"hits"`
	} `json:"hits"`
}

// Search implements Index.
func (e *ElasticIndex) Search(ctx context.Context, userID, query string, status model.Status, limit int) (SearchResult, error) {
	must := []map[string]any{
		{"term": map[string]any{"user_id": userID}},
		{"multi_match": map[string]any{
			"query":  query,
			"fields": []string{"title^2", "description"},
		}},
	}
	return e.run(ctx, e.withStatus(must, status), nil, limit)
}

// Recent implements Index.
func (e *ElasticIndex) Recent(ctx context.Context, userID string, status model.Status, limit int) (SearchResult, error) {
	must := []map[string]any{
		{"term": map[string]any{"user_id": userID}},
	}
	sort := []map[string]any{{"updated_at": map[string]any{"order": "desc"}}}
	return e.run(ctx, e.withStatus(must, status), sort, limit)
}

func (e *ElasticIndex) withStatus(must []map[string]any, status model.Status) []map[string]any {
	if status != "" && status != StatusAll {
		must = append(must, map[string]any{"term": map[string]any{"status": string(status)}})
	}
	return must
}

func (e *ElasticIndex) run(ctx context.Context, must []map[string]any, sort []map[string]any, limit int) (SearchResult, error) {
	if limit <= 0 || limit > maxSearchLimit {
		limit = maxSearchLimit
	}

	body := map[string]any{
		"size":  limit,
		"query": map[string]any{"bool": map[string]any{"must": must}},
	}
	if sort != nil {
		body["sort"] = sort
	}

	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(body); err != nil {
		return SearchResult{}, fmt.Errorf("failed to encode search query: %w", err)
	}

	res, err := e.client.Search(
		e.client.Search.WithContext(ctx),
		e.client.Search.WithIndex(e.index),
		e.client.Search.WithBody(&buf),
	)
	if err != nil {
		return SearchResult{}, fmt.Errorf("ticket search failed: %w", err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return SearchResult{}, fmt.Errorf("ticket search returned %s", res.Status())
	}

	var envelope searchEnvelope
	if err := json.NewDecoder(res.Body).Decode(&envelope); err != nil {
		return SearchResult{}, fmt.Errorf("failed to decode search response: %w", err)
	}

	result := SearchResult{Count: envelope.Hits.Total.Value}
	for _, hit := range envelope.Hits.Hits {
		t := hit.Source
		t.ID = hit.ID
		result.Tickets = append(result.Tickets, t.Ref())
	}
	return result, nil
}

// Get implements Index.
func (e *ElasticIndex) Get(ctx context.Context, id string) (*Ticket, error) {
	req := esapi.GetRequest{Index: e.index, DocumentID: id}
	res, err := req.Do(ctx, e.client)
	if err != nil {
		return nil, fmt.Errorf("ticket get failed: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode == http.StatusNotFound {
		return nil, ErrNotFound
	}
	if res.IsError() {
		return nil, fmt.Errorf("ticket get returned %s", res.Status())
	}

	var doc struct {
		ID     string `json:"_id"`
		Source Ticket `json:"_source"`
	}
	if err := json.NewDecoder(res.Body).Decode(&doc); err != nil {
		return nil, fmt.Errorf("failed to decode ticket: %w", err)
	}
	t := doc.Source
	t.ID = doc.ID
	return &t, nil
}

// GetByNumber implements Index.
func (e *ElasticIndex) GetByNumber(ctx context.Context, userID string, number int) (*Ticket, error) {
	must := []map[string]any{
		{"term": map[string]any{"user_id": userID}},
		{"term": map[string]any{"ticket_number": number}},
	}
	body := map[string]any{
		"size":  1,
		"query": map[string]any{"bool": map[string]any{"must": must}},
	}

	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(body); err != nil {
		return nil, fmt.Errorf("failed to encode lookup query: %w", err)
	}

	res, err := e.client.Search(
		e.client.Search.WithContext(ctx),
		e.client.Search.WithIndex(e.index),
		e.client.Search.WithBody(&buf),
	)
	if err != nil {
		return nil, fmt.Errorf("ticket lookup failed: %w", err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return nil, fmt.Errorf("ticket lookup returned %s", res.Status())
	}

	var envelope searchEnvelope
	if err := json.NewDecoder(res.Body).Decode(&envelope); err != nil {
		return nil, fmt.Errorf("failed to decode lookup response: %w", err)
	}
	if len(envelope.Hits.Hits) == 0 {
		return nil, ErrNotFound
	}
	t := envelope.Hits.Hits[0].Source
	t.ID = envelope.Hits.Hits[0].ID
	return &t, nil
}

// Create implements Index.
func (e *ElasticIndex) Create(ctx context.Context, params CreateParams) (*Ticket, error) {
	number, err := e.nextTicketNumber(ctx, params.UserID)
	if err != nil {
		return nil, err
	}

	priority := params.Priority
	if !priority.Valid() {
		priority = model.PriorityMedium
	}

	now := time.Now().UTC()
	t := &Ticket{
		ID:           uuid.Must(uuid.NewV7()).String(),
		TicketNumber: number,
		Title:        params.Title,
		Description:  params.Description,
		Status:       model.StatusOpen,
		Priority:     priority,
		Category:     params.Category,
		UserID:       params.UserID,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if err := e.indexDoc(ctx, t); err != nil {
		return nil, err
	}
	return t, nil
}

// Update implements Index.
func (e *ElasticIndex) Update(ctx context.Context, id string, params UpdateParams) (*Ticket, error) {
	t, err := e.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	if params.Status != nil && params.Status.Valid() {
		t.Status = *params.Status
	}
	if params.Priority != nil && params.Priority.Valid() {
		t.Priority = *params.Priority
	}
	if params.Note != nil {
		t.Notes = append(t.Notes, *params.Note)
	}
	t.UpdatedAt = time.Now().UTC()

	if err := e.indexDoc(ctx, t); err != nil {
		return nil, err
	}
	return t, nil
}

func (e *ElasticIndex) indexDoc(ctx context.Context, t *Ticket) error {
	data, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("failed to marshal ticket: %w", err)
	}

	req := esapi.IndexRequest{
		Index:      e.index,
		DocumentID: t.ID,
		Body:       bytes.NewReader(data),
		Refresh:    "true",
	}
	res, err := req.Do(ctx, e.client)
	if err != nil {
		return fmt.Errorf("failed to index ticket: %w", err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return fmt.Errorf("ticket indexing returned %s", res.Status())
	}
	return nil
}

// nextTicketNumber finds the highest assigned number for a user and adds one.
func (e *ElasticIndex) nextTicketNumber(ctx context.Context, userID string) (int, error) {
	body := map[string]any{
		"size":  1,
		"query": map[string]any{"term": map[string]any{"user_id": userID}},
		"sort":  []map[string]any{{"ticket_number": map[string]any{"order": "desc"}}},
	}

	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(body); err != nil {
		return 0, fmt.Errorf("failed to encode number query: %w", err)
	}

	res, err := e.client.Search(
		e.client.Search.WithContext(ctx),
		e.client.Search.WithIndex(e.index),
		e.client.Search.WithBody(&buf),
	)
	if err != nil {
		return 0, fmt.Errorf("ticket number lookup failed: %w", err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return 0, fmt.Errorf("ticket number lookup returned %s", res.Status())
	}

	var envelope searchEnvelope
	if err := json.NewDecoder(res.Body).Decode(&envelope); err != nil {
		return 0, fmt.Errorf("failed to decode number response: %w", err)
	}
	if len(envelope.Hits.Hits) == 0 {
		return 1, nil
	}
	return envelope.Hits.Hits[0].Source.TicketNumber + 1, nil
}
