package httpserver

import (
	"github.com/Skotchmaster/tasks_app/internal/handlers"
	"github.com/Skotchmaster/tasks_app/internal/middleware"
	"github.com/Skotchmaster/tasks_app/internal/models"
	"github.com/Skotchmaster/tasks_app/internal/observability"
	"github.com/labstack/echo/v4"
)

type Deps struct {
	Auth          *middleware.Authenticator
	Metrics       *observability.Metrics
	HealthHandler *handlers.HealthHandler
	AuthHandler   *handlers.AuthHandler
	TaskHandler   *handlers.TaskHandler
	SearchHandler *handlers.SearchHandler
	UserHandler   *handlers.UserHandler
}

func Register(e *echo.Echo, d *Deps) {
	e.GET("/health/live", d.HealthHandler.Live)
	e.GET("/health/ready", d.HealthHandler.Ready)
	e.GET("/api/health", d.HealthHandler.Status)
	if d.Metrics != nil {
		e.GET("/metrics", d.Metrics.Handler())
	}

	v1 := e.Group("/api/v1")

	v1.POST("/auth/register", d.AuthHandler.Register)
	v1.POST("/auth/login", d.AuthHandler.Login)

	tasks := v1.Group("/tasks", d.Auth.RequireAuth, middleware.RequireRole(d.Metrics))

	tasks.GET("", d.TaskHandler.ListTasks)
	tasks.POST("", d.TaskHandler.CreateTask)
	tasks.GET("/search", d.SearchHandler.Search)
	tasks.GET("/:id", d.TaskHandler.GetTask)
	tasks.PUT("/:id", d.TaskHandler.UpdateTask)
	tasks.DELETE("/:id", d.TaskHandler.DeleteTask)

	users := v1.Group("/users", d.Auth.RequireAuth, middleware.RequireRole(d.Metrics, models.RoleAdmin))

	users.GET("", d.UserHandler.ListUsers)
	users.PUT("/:id/promote", d.UserHandler.Promote)
	users.DELETE("/:id", d.UserHandler.DeleteUser)
	users.GET("/:id/tasks", d.UserHandler.UserTasks)
}
