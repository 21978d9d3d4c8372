package search

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Skotchmaster/tasks_app/internal/models"
	"github.com/elastic/go-elasticsearch/v9"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordedRequest struct {
	Method string
	Path   string
	Body   string
}

type fakeES struct {
	mu       sync.Mutex
	requests []recordedRequest
	respond  func(w http.ResponseWriter, r *http.Request)
}

func (f *fakeES) handler(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	f.mu.Lock()
	f.requests = append(f.requests, recordedRequest{Method: r.Method, Path: r.URL.Path, Body: string(body)})
	f.mu.Unlock()

	w.Header().Set("X-Elastic-Product", "Elasticsearch")
	w.Header().Set("Content-Type", "application/json")
	if f.respond != nil {
		f.respond(w, r)
		return
	}
	_, _ = w.Write([]byte(`{"result":"ok"}`))
}

func (f *fakeES) last() recordedRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.requests[len(f.requests)-1]
}

func newTestIndex(t *testing.T, f *fakeES) *ESIndex {
	t.Helper()

	srv := httptest.NewServer(http.HandlerFunc(f.handler))
	t.Cleanup(srv.Close)

	client, err := elasticsearch.NewClient(elasticsearch.Config{Addresses: []string{srv.URL}})
	require.NoError(t, err)
	return NewESIndex(client, "tasks")
}

func TestESIndex_Search_FiltersByOwner(t *testing.T) {
	owner := uuid.New()
	hit := uuid.New()

	f := &fakeES{respond: func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"hits":{"total":{"value":2},"hits":[{"_id":"` + hit.String() + `"},{"_id":"not-a-uuid"}]}}`))
	}}
	idx := newTestIndex(t, f)

	ids, err := idx.Search(context.Background(), owner, "milk", 0, 20)
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{hit}, ids)

	req := f.last()
	assert.Equal(t, "/tasks/_search", req.Path)

	var body map[string]any
	require.NoError(t, json.Unmarshal([]byte(req.Body), &body))
	filter := body["query"].(map[string]any)["bool"].(map[string]any)["filter"].([]any)
	term := filter[0].(map[string]any)["term"].(map[string]any)
	assert.Equal(t, owner.String(), term["user_id"])
}

func TestESIndex_IndexTask_UsesTaskIDAsDocumentID(t *testing.T) {
	f := &fakeES{}
	idx := newTestIndex(t, f)

	desc := "two litres"
	task := &models.Task{
		ID:          uuid.New(),
		UserID:      uuid.New(),
		Title:       "Buy milk",
		Description: &desc,
		CreatedAt:   time.Now().UTC(),
	}
	require.NoError(t, idx.IndexTask(context.Background(), task))

	req := f.last()
	assert.Equal(t, http.MethodPut, req.Method)
	assert.Equal(t, "/tasks/_doc/"+task.ID.String(), req.Path)
	assert.Contains(t, req.Body, `"title":"Buy milk"`)
	assert.Contains(t, req.Body, `"description":"two litres"`)
	assert.Contains(t, req.Body, `"user_id":"`+task.UserID.String()+`"`)
}

func TestESIndex_DeleteTask_MissingDocumentIsNotAnError(t *testing.T) {
	f := &fakeES{respond: func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"result":"not_found"}`))
	}}
	idx := newTestIndex(t, f)

	require.NoError(t, idx.DeleteTask(context.Background(), uuid.New()))
}

func TestESIndex_DeleteUserTasks(t *testing.T) {
	f := &fakeES{}
	idx := newTestIndex(t, f)
	owner := uuid.New()

	require.NoError(t, idx.DeleteUserTasks(context.Background(), owner))

	req := f.last()
	assert.True(t, strings.HasSuffix(req.Path, "/_delete_by_query"))
	assert.Contains(t, req.Body, owner.String())
}

func TestESIndex_ErrorStatusIsReturned(t *testing.T) {
	f := &fakeES{respond: func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":"boom"}`))
	}}
	idx := newTestIndex(t, f)

	_, err := idx.Search(context.Background(), uuid.New(), "milk", 0, 20)
	require.Error(t, err)
}
