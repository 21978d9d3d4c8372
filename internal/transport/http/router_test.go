package httpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/Skotchmaster/tasks_app/internal/events"
	"github.com/Skotchmaster/tasks_app/internal/handlers"
	"github.com/Skotchmaster/tasks_app/internal/middleware"
	"github.com/Skotchmaster/tasks_app/internal/observability"
	"github.com/Skotchmaster/tasks_app/internal/repo"
	"github.com/Skotchmaster/tasks_app/internal/service"
	"github.com/Skotchmaster/tasks_app/pkg/db"
	"github.com/Skotchmaster/tasks_app/pkg/logging"
	"github.com/Skotchmaster/tasks_app/pkg/tokens"
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	adminEmail    = "root@x.com"
	adminPassword = "adminpass"
)

type testServer struct {
	e      *echo.Echo
	issuer *tokens.Issuer
	repo   *repo.GormRepo
	events *events.Memory
}

func newTestServer(t *testing.T, rl *middleware.RateLimitConfig) *testServer {
	t.Helper()
	return newTestServerWithOptions(t, Options{RateLimit: rl})
}

func newTestServerWithOptions(t *testing.T, opts Options) *testServer {
	t.Helper()
	ctx := context.Background()

	gdb, err := db.Open(ctx, db.DriverSQLite, ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close(gdb) })

	store := repo.New(gdb)
	require.NoError(t, store.Migrate(ctx))

	issuer := tokens.NewIssuer([]byte("router-test-secret"), time.Hour)
	pub := &events.Memory{}
	metrics := observability.NewMetrics(prometheus.NewRegistry())

	authSvc := &service.AuthService{Repo: store, Tokens: issuer, Events: pub}
	taskSvc := &service.TaskService{Repo: store, Events: pub}
	userSvc := &service.UserService{Repo: store, Events: pub}

	_, err = authSvc.EnsureAdmin(ctx, "Admin", adminEmail, adminPassword)
	require.NoError(t, err)

	e := New(&Deps{
		Auth:          middleware.NewAuthenticator(issuer, store, metrics),
		Metrics:       metrics,
		HealthHandler: &handlers.HealthHandler{DB: gdb},
		AuthHandler:   handlers.NewAuthHandler(authSvc),
		TaskHandler:   handlers.NewTaskHandler(taskSvc),
		SearchHandler: handlers.NewSearchHandler(taskSvc),
		UserHandler:   handlers.NewUserHandler(userSvc),
	}, Options{
		Logger:         logging.NewWithWriter(io.Discard, "error"),
		RateLimit:      opts.RateLimit,
		TrustedProxies: opts.TrustedProxies,
	})

	return &testServer{e: e, issuer: issuer, repo: store, events: pub}
}

func (s *testServer) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != nil {
		switch b := body.(type) {
		case string:
			r = bytes.NewBufferString(b)
		default:
			raw, err := json.Marshal(b)
			require.NoError(t, err)
			r = bytes.NewReader(raw)
		}
	}
	req := httptest.NewRequest(method, path, r)
	if body != nil {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	if token != "" {
		req.Header.Set(echo.HeaderAuthorization, "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	s.e.ServeHTTP(rec, req)
	return rec
}

func (s *testServer) getFrom(t *testing.T, path string, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	s.e.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

type authBody struct {
	Token string `json:"token"`
	User  struct {
		ID       string `json:"id"`
		Name     string `json:"name"`
		Email    string `json:"email"`
		Role     string `json:"role"`
		Password string `json:"passwordHash"`
	} `json:"user"`
}

type taskBody struct {
	ID          string  `json:"id"`
	User        string  `json:"user"`
	Title       string  `json:"title"`
	Description *string `json:"description"`
	Completed   bool    `json:"completed"`
}

type messageBody struct {
	Message string `json:"message"`
}

func (s *testServer) register(t *testing.T, name, email, password string) authBody {
	t.Helper()
	rec := s.do(t, http.MethodPost, "/api/v1/auth/register", "", map[string]string{
		"name": name, "email": email, "password": password, "confirmPassword": password,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return decode[authBody](t, rec)
}

func (s *testServer) login(t *testing.T, email, password string) authBody {
	t.Helper()
	rec := s.do(t, http.MethodPost, "/api/v1/auth/login", "", map[string]string{"email": email, "password": password})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	return decode[authBody](t, rec)
}

func TestUserJourney(t *testing.T) {
	s := newTestServer(t, nil)

	ann := s.register(t, "Ann", "a@x.com", "secret1")
	assert.NotEmpty(t, ann.Token)
	assert.Equal(t, "user", ann.User.Role)
	assert.Equal(t, "Ann", ann.User.Name)
	assert.Empty(t, ann.User.Password)

	claims, err := s.issuer.Verify(ann.Token)
	require.NoError(t, err)
	assert.Equal(t, ann.User.ID, claims.Subject)

	again := s.login(t, "a@x.com", "secret1")
	assert.Equal(t, ann.User.ID, again.User.ID)

	rec := s.do(t, http.MethodPost, "/api/v1/tasks", ann.Token, map[string]string{"title": "Buy milk"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	task := decode[taskBody](t, rec)
	assert.Equal(t, ann.User.ID, task.User)
	assert.Equal(t, "Buy milk", task.Title)
	assert.False(t, task.Completed)

	rec = s.do(t, http.MethodGet, "/api/v1/users", ann.Token, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "Forbidden — insufficient privileges", decode[messageBody](t, rec).Message)
}

func TestRegisterValidation(t *testing.T) {
	s := newTestServer(t, nil)

	cases := []struct {
		name string
		body any
		code int
		msg  string
	}{
		{"mismatch", map[string]string{"name": "Ann", "email": "a@x.com", "password": "secret1", "confirmPassword": "secret2"}, 400, "Passwords do not match"},
		{"short name", map[string]string{"name": "A", "email": "a@x.com", "password": "secret1", "confirmPassword": "secret1"}, 400, `"name" length must be at least 2 characters long`},
		{"short name after trim", map[string]string{"name": "  a ", "email": "a@x.com", "password": "secret1", "confirmPassword": "secret1"}, 400, `"name" length must be at least 2 characters long`},
		{"blank name", map[string]string{"name": "    ", "email": "a@x.com", "password": "secret1", "confirmPassword": "secret1"}, 400, `"name" is required`},
		{"bad email", map[string]string{"name": "Ann", "email": "nope", "password": "secret1", "confirmPassword": "secret1"}, 400, `"email" must be a valid email`},
		{"short password", map[string]string{"name": "Ann", "email": "a@x.com", "password": "123", "confirmPassword": "123"}, 400, `"password" length must be at least 6 characters long`},
		{"missing email", map[string]string{"name": "Ann", "password": "secret1", "confirmPassword": "secret1"}, 400, `"email" is required`},
		{"broken json", `{"name":`, 400, "Invalid request body"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := s.do(t, http.MethodPost, "/api/v1/auth/register", "", tc.body)
			assert.Equal(t, tc.code, rec.Code)
			assert.Equal(t, tc.msg, decode[messageBody](t, rec).Message)
		})
	}

	padded := s.register(t, "  Ann  ", " a@x.com ", "secret1")
	assert.Equal(t, "Ann", padded.User.Name)
	assert.Equal(t, "a@x.com", padded.User.Email)

	rec := s.do(t, http.MethodPost, "/api/v1/auth/register", "", map[string]string{
		"name": "Ann", "email": "A@X.com", "password": "secret1", "confirmPassword": "secret1",
	})
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "Email already registered", decode[messageBody](t, rec).Message)
}

func TestLoginSameMessageForUnknownAndWrong(t *testing.T) {
	s := newTestServer(t, nil)
	s.register(t, "Ann", "a@x.com", "secret1")

	wrong := s.do(t, http.MethodPost, "/api/v1/auth/login", "", map[string]string{"email": "a@x.com", "password": "bad-pass"})
	unknown := s.do(t, http.MethodPost, "/api/v1/auth/login", "", map[string]string{"email": "z@x.com", "password": "secret1"})

	assert.Equal(t, http.StatusUnauthorized, wrong.Code)
	assert.Equal(t, http.StatusUnauthorized, unknown.Code)
	assert.Equal(t, wrong.Body.String(), unknown.Body.String())
	assert.Equal(t, "Invalid credentials", decode[messageBody](t, wrong).Message)
}

func TestAuthenticationGate(t *testing.T) {
	s := newTestServer(t, nil)

	rec := s.do(t, http.MethodGet, "/api/v1/tasks", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "No token provided", decode[messageBody](t, rec).Message)

	rec = s.do(t, http.MethodGet, "/api/v1/tasks", "garbage", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "Invalid token", decode[messageBody](t, rec).Message)

	// a token for an account removed by an admin keeps verifying, but the
	// gate no longer finds its user
	ann := s.register(t, "Ann", "a@x.com", "secret1")
	admin := s.login(t, adminEmail, adminPassword)
	rec = s.do(t, http.MethodDelete, "/api/v1/users/"+ann.User.ID, admin.Token, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = s.do(t, http.MethodGet, "/api/v1/tasks", ann.Token, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "User not found", decode[messageBody](t, rec).Message)
}

func TestTaskOwnership(t *testing.T) {
	s := newTestServer(t, nil)
	ann := s.register(t, "Ann", "a@x.com", "secret1")
	bob := s.register(t, "Bob", "b@x.com", "secret1")

	// a client-supplied owner is ignored
	rec := s.do(t, http.MethodPost, "/api/v1/tasks", ann.Token, map[string]any{"title": "Buy milk", "user": bob.User.ID})
	require.Equal(t, http.StatusCreated, rec.Code)
	task := decode[taskBody](t, rec)
	assert.Equal(t, ann.User.ID, task.User)

	path := "/api/v1/tasks/" + task.ID
	for _, tc := range []struct {
		method string
		body   any
	}{
		{http.MethodGet, nil},
		{http.MethodPut, map[string]any{"title": "stolen"}},
		{http.MethodDelete, nil},
	} {
		rec := s.do(t, tc.method, path, bob.Token, tc.body)
		assert.Equal(t, http.StatusNotFound, rec.Code, tc.method)
		assert.Equal(t, "Task not found", decode[messageBody](t, rec).Message, tc.method)
	}

	rec = s.do(t, http.MethodGet, "/api/v1/tasks", bob.Token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decode[[]taskBody](t, rec))

	rec = s.do(t, http.MethodGet, path, ann.Token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Buy milk", decode[taskBody](t, rec).Title)

	rec = s.do(t, http.MethodGet, "/api/v1/tasks/not-a-uuid", ann.Token, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestTaskCRUD(t *testing.T) {
	s := newTestServer(t, nil)
	ann := s.register(t, "Ann", "a@x.com", "secret1")

	rec := s.do(t, http.MethodPost, "/api/v1/tasks", ann.Token, map[string]any{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, `"title" is required`, decode[messageBody](t, rec).Message)

	rec = s.do(t, http.MethodPost, "/api/v1/tasks", ann.Token, map[string]any{"title": "Buy milk", "description": "2 litres"})
	require.Equal(t, http.StatusCreated, rec.Code)
	task := decode[taskBody](t, rec)
	require.NotNil(t, task.Description)
	path := "/api/v1/tasks/" + task.ID

	rec = s.do(t, http.MethodPut, path, ann.Token, map[string]any{"completed": true})
	require.Equal(t, http.StatusOK, rec.Code)
	updated := decode[taskBody](t, rec)
	assert.True(t, updated.Completed)
	assert.Equal(t, "Buy milk", updated.Title)
	require.NotNil(t, updated.Description)

	rec = s.do(t, http.MethodPut, path, ann.Token, `{"description": null}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Nil(t, decode[taskBody](t, rec).Description)

	rec = s.do(t, http.MethodPut, path, ann.Token, map[string]any{"title": ""})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(t, http.MethodGet, "/api/v1/tasks/search?q=MILK", ann.Token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]taskBody](t, rec), 1)

	rec = s.do(t, http.MethodGet, "/api/v1/tasks/search", ann.Token, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(t, http.MethodDelete, path, ann.Token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Task deleted", decode[messageBody](t, rec).Message)

	rec = s.do(t, http.MethodGet, path, ann.Token, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAdminPromotion(t *testing.T) {
	s := newTestServer(t, nil)
	admin := s.login(t, adminEmail, adminPassword)
	ann := s.register(t, "Ann", "a@x.com", "secret1")

	self := "/api/v1/users/" + admin.User.ID + "/promote"
	rec := s.do(t, http.MethodPut, self, admin.Token, map[string]string{"password": adminPassword})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Admins cannot promote themselves", decode[messageBody](t, rec).Message)
	stored, err := s.repo.GetUserByEmail(context.Background(), adminEmail)
	require.NoError(t, err)
	assert.EqualValues(t, "admin", stored.Role)

	target := "/api/v1/users/" + ann.User.ID + "/promote"
	rec = s.do(t, http.MethodPut, target, admin.Token, map[string]string{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Password is required", decode[messageBody](t, rec).Message)

	rec = s.do(t, http.MethodPut, target, admin.Token, map[string]string{"password": "wrong"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "Wrong password", decode[messageBody](t, rec).Message)

	rec = s.do(t, http.MethodPut, target, ann.Token, map[string]string{"password": "secret1"})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = s.do(t, http.MethodPut, target, admin.Token, map[string]string{"password": adminPassword})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	promoted := decode[struct {
		Message string `json:"message"`
		User    struct {
			Role string `json:"role"`
		} `json:"user"`
	}](t, rec)
	assert.Equal(t, "User promoted successfully", promoted.Message)
	assert.Equal(t, "admin", promoted.User.Role)

	rec = s.do(t, http.MethodPut, target, admin.Token, map[string]string{"password": adminPassword})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "User is already admin", decode[messageBody](t, rec).Message)

	// the stored role is what counts, so Ann's old token now opens admin routes
	rec = s.do(t, http.MethodGet, "/api/v1/users", ann.Token, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAdminDeleteCascades(t *testing.T) {
	s := newTestServer(t, nil)
	admin := s.login(t, adminEmail, adminPassword)
	ann := s.register(t, "Ann", "a@x.com", "secret1")

	for _, title := range []string{"one", "two"} {
		rec := s.do(t, http.MethodPost, "/api/v1/tasks", ann.Token, map[string]string{"title": title})
		require.Equal(t, http.StatusCreated, rec.Code)
	}

	tasksPath := "/api/v1/users/" + ann.User.ID + "/tasks"
	rec := s.do(t, http.MethodGet, tasksPath, admin.Token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]taskBody](t, rec), 2)

	rec = s.do(t, http.MethodGet, "/api/v1/users", admin.Token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotContains(t, rec.Body.String(), "passwordHash")
	assert.Len(t, decode[[]map[string]any](t, rec), 2)

	rec = s.do(t, http.MethodDelete, "/api/v1/users/"+admin.User.ID, admin.Token, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Admins cannot delete themselves", decode[messageBody](t, rec).Message)

	rec = s.do(t, http.MethodDelete, "/api/v1/users/"+ann.User.ID, admin.Token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "User deleted", decode[messageBody](t, rec).Message)

	rec = s.do(t, http.MethodGet, tasksPath, admin.Token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decode[[]taskBody](t, rec))

	rec = s.do(t, http.MethodDelete, "/api/v1/users/"+ann.User.ID, admin.Token, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "User not found", decode[messageBody](t, rec).Message)

	assert.Contains(t, s.events.Types(), events.UserDeleted)
}

func TestRateLimit(t *testing.T) {
	s := newTestServer(t, &middleware.RateLimitConfig{Max: 2, Window: time.Minute})

	for i := 0; i < 2; i++ {
		rec := s.do(t, http.MethodGet, "/api/health", "", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.NotEmpty(t, rec.Header().Get("X-RateLimit-Remaining"))
	}

	rec := s.do(t, http.MethodGet, "/api/health", "", nil)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "Too many requests", decode[messageBody](t, rec).Message)

	// probes are not limited
	rec = s.do(t, http.MethodGet, "/health/live", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestHealthAndMetrics(t *testing.T) {
	s := newTestServer(t, nil)

	rec := s.do(t, http.MethodGet, "/api/health", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", decode[map[string]string](t, rec)["status"])

	rec = s.do(t, http.MethodGet, "/health/ready", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = s.do(t, http.MethodGet, "/metrics", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "tasks_http_requests_total")

	rec = s.do(t, http.MethodGet, "/api/v1/nowhere", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "Not Found", decode[messageBody](t, rec).Message)
}

func TestRateLimitIgnoresSpoofedForwardingHeaders(t *testing.T) {
	s := newTestServer(t, &middleware.RateLimitConfig{Max: 2, Window: time.Minute})

	codes := make([]int, 0, 6)
	for i := 0; i < 6; i++ {
		rec := s.getFrom(t, "/api/health", map[string]string{
			echo.HeaderXForwardedFor: fmt.Sprintf("10.0.0.%d", i),
			echo.HeaderXRealIP:       fmt.Sprintf("10.0.1.%d", i),
		})
		codes = append(codes, rec.Code)
	}
	assert.Equal(t, []int{200, 200, 429, 429, 429, 429}, codes)
}

func TestRateLimitTrustedProxy(t *testing.T) {
	// httptest requests come from 192.0.2.1
	trusted, err := ParseTrustedProxies([]string{"192.0.2.0/24"})
	require.NoError(t, err)
	s := newTestServerWithOptions(t, Options{
		RateLimit:      &middleware.RateLimitConfig{Max: 2, Window: time.Minute},
		TrustedProxies: trusted,
	})

	for i := 0; i < 4; i++ {
		rec := s.getFrom(t, "/api/health", map[string]string{echo.HeaderXForwardedFor: fmt.Sprintf("203.0.113.%d", i)})
		assert.Equal(t, http.StatusOK, rec.Code, i)
	}

	same := map[string]string{echo.HeaderXForwardedFor: "203.0.113.50"}
	assert.Equal(t, http.StatusOK, s.getFrom(t, "/api/health", same).Code)
	assert.Equal(t, http.StatusOK, s.getFrom(t, "/api/health", same).Code)
	assert.Equal(t, http.StatusTooManyRequests, s.getFrom(t, "/api/health", same).Code)
}

func TestParseTrustedProxies(t *testing.T) {
	nets, err := ParseTrustedProxies([]string{"10.0.0.0/8", "127.0.0.1", "::1"})
	require.NoError(t, err)
	require.Len(t, nets, 3)
	assert.Equal(t, "10.0.0.0/8", nets[0].String())
	assert.Equal(t, "127.0.0.1/32", nets[1].String())
	assert.Equal(t, "::1/128", nets[2].String())

	_, err = ParseTrustedProxies([]string{"not-an-ip"})
	assert.Error(t, err)
	_, err = ParseTrustedProxies([]string{"10.0.0.0/99"})
	assert.Error(t, err)
}
