package service

import (
	"context"
	"testing"
	"time"

	"github.com/Skotchmaster/tasks_app/internal/events"
	"github.com/Skotchmaster/tasks_app/internal/models"
	"github.com/Skotchmaster/tasks_app/internal/repo"
	"github.com/Skotchmaster/tasks_app/internal/transport"
	"github.com/Skotchmaster/tasks_app/pkg/db"
	"github.com/Skotchmaster/tasks_app/pkg/tokens"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	repo   *repo.GormRepo
	issuer *tokens.Issuer
	events *events.Memory
	auth   *AuthService
	tasks  *TaskService
	users  *UserService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	gdb, err := db.Open(context.Background(), db.DriverSQLite, ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close(gdb) })

	r := repo.New(gdb)
	require.NoError(t, r.Migrate(context.Background()))

	f := &fixture{
		repo:   r,
		issuer: tokens.NewIssuer([]byte("service-test-secret"), time.Hour),
		events: &events.Memory{},
	}
	f.auth = &AuthService{Repo: r, Tokens: f.issuer, Events: f.events}
	f.tasks = &TaskService{Repo: r, Events: f.events}
	f.users = &UserService{Repo: r, Events: f.events}
	return f
}

func (f *fixture) register(t *testing.T, name, email, password string) *models.User {
	t.Helper()
	res, err := f.auth.Register(context.Background(), transport.RegisterRequest{
		Name: name, Email: email, Password: password, ConfirmPassword: password,
	})
	require.NoError(t, err)
	return res.User
}

func (f *fixture) admin(t *testing.T, email, password string) *models.User {
	t.Helper()
	created, err := f.auth.EnsureAdmin(context.Background(), "Admin", email, password)
	require.NoError(t, err)
	require.True(t, created)
	u, err := f.repo.GetUserByEmail(context.Background(), email)
	require.NoError(t, err)
	return u
}
