package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/Skotchmaster/tasks_app/internal/auth"
	"github.com/Skotchmaster/tasks_app/internal/models"
	"github.com/Skotchmaster/tasks_app/internal/observability"
	"github.com/Skotchmaster/tasks_app/pkg/logging"
	"github.com/Skotchmaster/tasks_app/pkg/tokens"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"gorm.io/gorm"
)

type UserFinder interface {
	GetUserByID(ctx context.Context, id uuid.UUID) (*models.User, error)
}

type Authenticator struct {
	Tokens  *tokens.Issuer
	Users   UserFinder
	Metrics *observability.Metrics
}

func NewAuthenticator(issuer *tokens.Issuer, users UserFinder, metrics *observability.Metrics) *Authenticator {
	return &Authenticator{Tokens: issuer, Users: users, Metrics: metrics}
}

func bearerToken(header string) (string, bool) {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

// RequireAuth resolves the bearer token to a stored user. The role that
// reaches handlers is the stored one, not the one inside the token.
func (a *Authenticator) RequireAuth(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()
		l := logging.FromContext(ctx).With("mw", "auth")

		raw, ok := bearerToken(c.Request().Header.Get(echo.HeaderAuthorization))
		if !ok {
			a.Metrics.AuthFailure("missing_token")
			l.Warn("auth_failed", "status", 401, "reason", "no token provided")
			return echo.NewHTTPError(http.StatusUnauthorized, "No token provided")
		}

		claims, err := a.Tokens.Verify(raw)
		if err != nil {
			if errors.Is(err, tokens.ErrExpired) {
				a.Metrics.AuthFailure("expired")
				l.Warn("auth_failed", "status", 401, "reason", "token expired")
				return echo.NewHTTPError(http.StatusUnauthorized, "Token expired")
			}
			a.Metrics.AuthFailure("invalid_token")
			l.Warn("auth_failed", "status", 401, "reason", "invalid token", "error", err)
			return echo.NewHTTPError(http.StatusUnauthorized, "Invalid token")
		}

		userID, err := uuid.Parse(claims.Subject)
		if err != nil {
			a.Metrics.AuthFailure("invalid_token")
			l.Warn("auth_failed", "status", 401, "reason", "subject is not a uuid")
			return echo.NewHTTPError(http.StatusUnauthorized, "Invalid token")
		}

		user, err := a.Users.GetUserByID(ctx, userID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				a.Metrics.AuthFailure("user_not_found")
				l.Warn("auth_failed", "status", 401, "reason", "user not found", "user_id", userID)
				return echo.NewHTTPError(http.StatusUnauthorized, "User not found")
			}
			return err
		}

		id := auth.FromUser(user)
		auth.Set(c, id)
		req := c.Request()
		c.SetRequest(req.WithContext(logging.IntoContext(req.Context(), logging.FromContext(req.Context()).With("user_id", id.ID))))

		return next(c)
	}
}

// RequireRole must be chained after RequireAuth. With no roles it admits
// any authenticated caller.
func RequireRole(metrics *observability.Metrics, roles ...models.Role) echo.MiddlewareFunc {
	allowed := make(map[models.Role]struct{}, len(roles))
	for _, r := range roles {
		allowed[r] = struct{}{}
	}

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			id, ok := auth.Get(c)
			if !ok {
				metrics.AuthFailure("no_identity")
				return echo.NewHTTPError(http.StatusUnauthorized, "Unauthorized")
			}
			if !id.Role.Valid() {
				metrics.AuthFailure("forbidden")
				return echo.NewHTTPError(http.StatusForbidden, "Forbidden — insufficient privileges")
			}
			if len(allowed) == 0 {
				return next(c)
			}
			if _, ok := allowed[id.Role]; !ok {
				metrics.AuthFailure("forbidden")
				logging.FromContext(c.Request().Context()).Warn("authorize_failed", "status", 403, "role", id.Role)
				return echo.NewHTTPError(http.StatusForbidden, "Forbidden — insufficient privileges")
			}
			return next(c)
		}
	}
}
