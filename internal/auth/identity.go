package auth

import (
	"context"

	"github.com/Skotchmaster/tasks_app/internal/models"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

// Identity is what the authentication gate resolved for the current request.
type Identity struct {
	ID    uuid.UUID
	Name  string
	Email string
	Role  models.Role
}

func FromUser(u *models.User) *Identity {
	return &Identity{
		ID:    u.ID,
		Name:  u.Name,
		Email: u.Email,
		Role:  u.Role,
	}
}

func (i *Identity) IsAdmin() bool {
	return i != nil && i.Role == models.RoleAdmin
}

type ctxKey struct{}

const echoKey = "identity"

func IntoContext(ctx context.Context, id *Identity) context.Context {
	return context.WithValue(ctx, ctxKey{}, id)
}

func FromContext(ctx context.Context) (*Identity, bool) {
	id, ok := ctx.Value(ctxKey{}).(*Identity)
	return id, ok && id != nil
}

// Set stores the identity on both the echo context and the request context
// so services reached through either one see the same value.
func Set(c echo.Context, id *Identity) {
	c.Set(echoKey, id)
	c.SetRequest(c.Request().WithContext(IntoContext(c.Request().Context(), id)))
}

func Get(c echo.Context) (*Identity, bool) {
	if id, ok := c.Get(echoKey).(*Identity); ok && id != nil {
		return id, true
	}
	return FromContext(c.Request().Context())
}
