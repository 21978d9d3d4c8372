package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/Skotchmaster/tasks_app/pkg/db"
	"github.com/Skotchmaster/tasks_app/pkg/logging"
	"github.com/labstack/echo/v4"
	"gorm.io/gorm"
)

type HealthHandler struct {
	DB *gorm.DB
}

func (h *HealthHandler) Status(c echo.Context) error {
	return c.JSON(http.StatusOK, echo.Map{"status": "ok"})
}

func (h *HealthHandler) Live(c echo.Context) error {
	return c.NoContent(http.StatusOK)
}

// Ready reports 503 while the database does not answer a ping.
func (h *HealthHandler) Ready(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 2*time.Second)
	defer cancel()
	if err := db.Ping(ctx, h.DB); err != nil {
		logging.FromContext(ctx).Warn("readiness_failed", "error", err)
		return echo.NewHTTPError(http.StatusServiceUnavailable, "Database unavailable")
	}
	return c.NoContent(http.StatusOK)
}
