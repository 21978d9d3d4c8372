package search

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/Skotchmaster/tasks_app/internal/models"
	"github.com/elastic/go-elasticsearch/v9"
	"github.com/elastic/go-elasticsearch/v9/esapi"
	"github.com/google/uuid"
)

// Index mirrors tasks into a full-text index. The database stays the source
// of truth: search hits are only ids, re-read under the owner constraint.
type Index interface {
	IndexTask(ctx context.Context, t *models.Task) error
	DeleteTask(ctx context.Context, id uuid.UUID) error
	DeleteUserTasks(ctx context.Context, userID uuid.UUID) error
	Search(ctx context.Context, userID uuid.UUID, query string, from, size int) ([]uuid.UUID, error)
}

type ESIndex struct {
	ES      *elasticsearch.Client
	Index   string
	Refresh string
}

func NewESIndex(es *elasticsearch.Client, index string) *ESIndex {
	return &ESIndex{ES: es, Index: index, Refresh: "false"}
}

type document struct {
	ID          string    `json:"id"`
	UserID      string    `json:"user_id"`
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	Completed   bool      `json:"completed"`
	CreatedAt   time.Time `json:"created_at"`
}

var indexMapping = map[string]any{
	"mappings": map[string]any{
		"properties": map[string]any{
			"id":          map[string]any{"type": "keyword"},
			"user_id":     map[string]any{"type": "keyword"},
			"title":       map[string]any{"type": "text"},
			"description": map[string]any{"type": "text"},
			"completed":   map[string]any{"type": "boolean"},
			"created_at":  map[string]any{"type": "date"},
		},
	},
}

func (s *ESIndex) EnsureIndex(ctx context.Context) error {
	res, err := s.ES.Indices.Exists([]string{s.Index}, s.ES.Indices.Exists.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("index exists: %w", err)
	}
	res.Body.Close()
	if res.StatusCode == http.StatusOK {
		return nil
	}

	body, err := encode(indexMapping)
	if err != nil {
		return err
	}
	res, err = s.ES.Indices.Create(s.Index,
		s.ES.Indices.Create.WithContext(ctx),
		s.ES.Indices.Create.WithBody(body),
	)
	if err != nil {
		return fmt.Errorf("index create: %w", err)
	}
	return checkResponse(res, "index create")
}

func (s *ESIndex) IndexTask(ctx context.Context, t *models.Task) error {
	doc := document{
		ID:        t.ID.String(),
		UserID:    t.UserID.String(),
		Title:     t.Title,
		Completed: t.Completed,
		CreatedAt: t.CreatedAt,
	}
	if t.Description != nil {
		doc.Description = *t.Description
	}

	body, err := encode(doc)
	if err != nil {
		return err
	}
	res, err := s.ES.Index(s.Index, body,
		s.ES.Index.WithContext(ctx),
		s.ES.Index.WithDocumentID(doc.ID),
		s.ES.Index.WithRefresh(s.Refresh),
	)
	if err != nil {
		return fmt.Errorf("index task: %w", err)
	}
	return checkResponse(res, "index task")
}

func (s *ESIndex) DeleteTask(ctx context.Context, id uuid.UUID) error {
	res, err := s.ES.Delete(s.Index, id.String(),
		s.ES.Delete.WithContext(ctx),
		s.ES.Delete.WithRefresh(s.Refresh),
	)
	if err != nil {
		return fmt.Errorf("delete task: %w", err)
	}
	if res.StatusCode == http.StatusNotFound {
		res.Body.Close()
		return nil
	}
	return checkResponse(res, "delete task")
}

func (s *ESIndex) DeleteUserTasks(ctx context.Context, userID uuid.UUID) error {
	body, err := encode(map[string]any{
		"query": map[string]any{
			"term": map[string]any{"user_id": userID.String()},
		},
	})
	if err != nil {
		return err
	}
	res, err := s.ES.DeleteByQuery([]string{s.Index}, body,
		s.ES.DeleteByQuery.WithContext(ctx),
	)
	if err != nil {
		return fmt.Errorf("delete user tasks: %w", err)
	}
	return checkResponse(res, "delete user tasks")
}

func (s *ESIndex) Search(ctx context.Context, userID uuid.UUID, query string, from, size int) ([]uuid.UUID, error) {
	body, err := encode(map[string]any{
		"query": map[string]any{
			"bool": map[string]any{
				"must": map[string]any{
					"multi_match": map[string]any{
						"query":     query,
						"fields":    []string{"title^2", "description"},
						"fuzziness": "AUTO",
					},
				},
				"filter": []any{
					map[string]any{"term": map[string]any{"user_id": userID.String()}},
				},
			},
		},
		"from":    from,
		"size":    size,
		"_source": false,
	})
	if err != nil {
		return nil, err
	}

	res, err := s.ES.Search(
		s.ES.Search.WithContext(ctx),
		s.ES.Search.WithIndex(s.Index),
		s.ES.Search.WithBody(body),
	)
	if err != nil {
		return nil, fmt.Errorf("search: %w", err)
	}
	defer res.Body.Close()
	if res.IsError() {
		msg, _ := io.ReadAll(res.Body)
		return nil, fmt.Errorf("search: %s: %s", res.Status(), msg)
	}

	var r struct {
		Hits struct {
			Hits []struct {
				ID string `json:"_id"`
			} `json:"hits"`
		} `json:"hits"`
	}
	if err := json.NewDecoder(res.Body).Decode(&r); err != nil {
		return nil, fmt.Errorf("search decode: %w", err)
	}

	ids := make([]uuid.UUID, 0, len(r.Hits.Hits))
	for _, hit := range r.Hits.Hits {
		id, err := uuid.Parse(hit.ID)
		if err != nil {
			continue
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func encode(v any) (*bytes.Buffer, error) {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(v); err != nil {
		return nil, fmt.Errorf("encode body: %w", err)
	}
	return &buf, nil
}

func checkResponse(res *esapi.Response, op string) error {
	defer res.Body.Close()
	if res.IsError() {
		msg, _ := io.ReadAll(res.Body)
		return fmt.Errorf("%s: %s: %s", op, res.Status(), msg)
	}
	return nil
}
