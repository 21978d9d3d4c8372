package handlers

import (
	"net/http"

	"github.com/Skotchmaster/tasks_app/internal/auth"
	"github.com/Skotchmaster/tasks_app/internal/service"
	"github.com/Skotchmaster/tasks_app/internal/transport"
	"github.com/Skotchmaster/tasks_app/pkg/logging"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

// TaskHandler serves the caller's own tasks. The owner id always comes from
// the authenticated identity, never from the request.
type TaskHandler struct {
	Svc *service.TaskService
}

func NewTaskHandler(svc *service.TaskService) *TaskHandler {
	return &TaskHandler{Svc: svc}
}

func owner(c echo.Context) (uuid.UUID, error) {
	id, ok := auth.Get(c)
	if !ok {
		return uuid.Nil, echo.NewHTTPError(http.StatusUnauthorized, "No token provided")
	}
	return id.ID, nil
}

func (h *TaskHandler) ListTasks(c echo.Context) error {
	ownerID, err := owner(c)
	if err != nil {
		return err
	}
	tasks, err := h.Svc.ListTasks(c.Request().Context(), ownerID)
	if err != nil {
		return domainError(err)
	}
	return c.JSON(http.StatusOK, tasks)
}

func (h *TaskHandler) CreateTask(c echo.Context) error {
	ctx := c.Request().Context()
	l := logging.FromContext(ctx).With("handler", "create_task")

	ownerID, err := owner(c)
	if err != nil {
		return err
	}

	var req transport.CreateTaskRequest
	if err := bindAndValidate(c, &req); err != nil {
		l.Warn("create_task_error", "status", 400, "error", err)
		return err
	}

	task, err := h.Svc.CreateTask(ctx, ownerID, req)
	if err != nil {
		return domainError(err)
	}
	l.Info("create_task_success", "task_id", task.ID)
	return c.JSON(http.StatusCreated, task)
}

func (h *TaskHandler) GetTask(c echo.Context) error {
	ownerID, err := owner(c)
	if err != nil {
		return err
	}
	task, err := h.Svc.GetTask(c.Request().Context(), ownerID, c.Param("id"))
	if err != nil {
		return domainError(err)
	}
	return c.JSON(http.StatusOK, task)
}

func (h *TaskHandler) UpdateTask(c echo.Context) error {
	ctx := c.Request().Context()
	l := logging.FromContext(ctx).With("handler", "update_task")

	ownerID, err := owner(c)
	if err != nil {
		return err
	}

	var req transport.UpdateTaskRequest
	if err := bindAndValidate(c, &req); err != nil {
		l.Warn("update_task_error", "status", 400, "error", err)
		return err
	}

	task, err := h.Svc.UpdateTask(ctx, ownerID, c.Param("id"), req)
	if err != nil {
		return domainError(err)
	}
	return c.JSON(http.StatusOK, task)
}

func (h *TaskHandler) DeleteTask(c echo.Context) error {
	ownerID, err := owner(c)
	if err != nil {
		return err
	}
	if err := h.Svc.DeleteTask(c.Request().Context(), ownerID, c.Param("id")); err != nil {
		return domainError(err)
	}
	return c.JSON(http.StatusOK, transport.MessageResponse{Message: "Task deleted"})
}
