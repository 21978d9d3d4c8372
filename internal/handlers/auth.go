package handlers

import (
	"net/http"

	"github.com/Skotchmaster/tasks_app/internal/service"
	"github.com/Skotchmaster/tasks_app/internal/transport"
	"github.com/Skotchmaster/tasks_app/pkg/logging"
	"github.com/labstack/echo/v4"
)

type AuthHandler struct {
	Svc *service.AuthService
}

func NewAuthHandler(svc *service.AuthService) *AuthHandler {
	return &AuthHandler{Svc: svc}
}

func (h *AuthHandler) Register(c echo.Context) error {
	ctx := c.Request().Context()
	l := logging.FromContext(ctx).With("handler", "auth_register")

	var req transport.RegisterRequest
	if err := bindAndValidate(c, &req); err != nil {
		l.Warn("register_error", "status", 400, "error", err)
		return err
	}

	res, err := h.Svc.Register(ctx, req)
	if err != nil {
		return domainError(err)
	}

	return c.JSON(http.StatusCreated, transport.AuthResponse{
		Token: res.Token,
		User:  res.User.Public(),
	})
}

func (h *AuthHandler) Login(c echo.Context) error {
	ctx := c.Request().Context()
	l := logging.FromContext(ctx).With("handler", "auth_login")

	var req transport.LoginRequest
	if err := bindAndValidate(c, &req); err != nil {
		l.Warn("login_error", "status", 400, "error", err)
		return err
	}

	res, err := h.Svc.Login(ctx, req.Email, req.Password)
	if err != nil {
		return domainError(err)
	}

	return c.JSON(http.StatusOK, transport.AuthResponse{
		Token: res.Token,
		User:  res.User.Public(),
	})
}
