package handlers

import (
	"net/http"
	"strconv"

	"github.com/Skotchmaster/tasks_app/internal/service"
	"github.com/labstack/echo/v4"
)

type SearchHandler struct {
	Svc *service.TaskService
}

func NewSearchHandler(svc *service.TaskService) *SearchHandler {
	return &SearchHandler{Svc: svc}
}

// Search looks through the caller's tasks only.
func (h *SearchHandler) Search(c echo.Context) error {
	ownerID, err := owner(c)
	if err != nil {
		return err
	}

	q := c.QueryParam("q")
	page, _ := strconv.Atoi(c.QueryParam("page"))
	size, _ := strconv.Atoi(c.QueryParam("size"))

	tasks, err := h.Svc.SearchTasks(c.Request().Context(), ownerID, q, page, size)
	if err != nil {
		return domainError(err)
	}
	return c.JSON(http.StatusOK, tasks)
}
