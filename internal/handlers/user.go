package handlers

import (
	"net/http"

	"github.com/Skotchmaster/tasks_app/internal/auth"
	"github.com/Skotchmaster/tasks_app/internal/service"
	"github.com/Skotchmaster/tasks_app/internal/transport"
	"github.com/labstack/echo/v4"
)

// UserHandler is mounted behind RequireRole(admin).
type UserHandler struct {
	Svc *service.UserService
}

func NewUserHandler(svc *service.UserService) *UserHandler {
	return &UserHandler{Svc: svc}
}

func (h *UserHandler) ListUsers(c echo.Context) error {
	users, err := h.Svc.ListUsers(c.Request().Context())
	if err != nil {
		return domainError(err)
	}
	return c.JSON(http.StatusOK, users)
}

func (h *UserHandler) Promote(c echo.Context) error {
	actor, ok := auth.Get(c)
	if !ok {
		return echo.NewHTTPError(http.StatusUnauthorized, "No token provided")
	}

	var req transport.PromoteRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid request body").SetInternal(err)
	}

	user, err := h.Svc.Promote(c.Request().Context(), actor.ID, c.Param("id"), req.Password)
	if err != nil {
		return domainError(err)
	}
	return c.JSON(http.StatusOK, transport.PromoteResponse{
		Message: "User promoted successfully",
		User:    user.Public(),
	})
}

func (h *UserHandler) DeleteUser(c echo.Context) error {
	actor, ok := auth.Get(c)
	if !ok {
		return echo.NewHTTPError(http.StatusUnauthorized, "No token provided")
	}
	if err := h.Svc.DeleteUser(c.Request().Context(), actor.ID, c.Param("id")); err != nil {
		return domainError(err)
	}
	return c.JSON(http.StatusOK, transport.MessageResponse{Message: "User deleted"})
}

func (h *UserHandler) UserTasks(c echo.Context) error {
	tasks, err := h.Svc.UserTasks(c.Request().Context(), c.Param("id"))
	if err != nil {
		return domainError(err)
	}
	return c.JSON(http.StatusOK, tasks)
}
