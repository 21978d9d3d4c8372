package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/Skotchmaster/tasks_app/internal/events"
	"github.com/Skotchmaster/tasks_app/internal/models"
	"github.com/Skotchmaster/tasks_app/internal/repo"
	"github.com/Skotchmaster/tasks_app/internal/search"
	"github.com/Skotchmaster/tasks_app/internal/transport"
	"github.com/Skotchmaster/tasks_app/internal/util"
	"github.com/Skotchmaster/tasks_app/pkg/logging"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

const msgTaskNotFound = "Task not found"

// TaskService scopes every lookup by (task id, owner id). A task owned by
// somebody else is reported exactly like a missing one.
type TaskService struct {
	Repo   *repo.GormRepo
	Index  search.Index
	Events events.Publisher
}

func (s *TaskService) CreateTask(ctx context.Context, ownerID uuid.UUID, req transport.CreateTaskRequest) (*models.Task, error) {
	l := logging.FromContext(ctx).With("svc", "task.create", "user_id", ownerID)

	if req.Title == "" {
		return nil, newErr(ErrValidation, `"title" is required`)
	}

	task := models.Task{
		UserID:      ownerID,
		Title:       req.Title,
		Description: req.Description,
	}
	if req.Completed != nil {
		task.Completed = *req.Completed
	}

	created, err := s.Repo.CreateTask(ctx, &task)
	if err != nil {
		l.Error("create_task_error", "status", 500, "error", err)
		return nil, fmt.Errorf("create task: %w", err)
	}

	s.index(ctx, created)
	publish(ctx, s.Events, events.Event{Type: events.TaskCreated, UserID: ownerID.String(), TaskID: created.ID.String()})
	return created, nil
}

func (s *TaskService) ListTasks(ctx context.Context, ownerID uuid.UUID) ([]models.Task, error) {
	tasks, err := s.Repo.ListTasks(ctx, ownerID)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	return tasks, nil
}

func (s *TaskService) GetTask(ctx context.Context, ownerID uuid.UUID, rawID string) (*models.Task, error) {
	id, err := parseTaskID(rawID)
	if err != nil {
		return nil, err
	}
	task, err := s.Repo.GetTask(ctx, id, ownerID)
	if err != nil {
		return nil, mapTaskErr(err)
	}
	return task, nil
}

func (s *TaskService) UpdateTask(ctx context.Context, ownerID uuid.UUID, rawID string, req transport.UpdateTaskRequest) (*models.Task, error) {
	id, err := parseTaskID(rawID)
	if err != nil {
		return nil, err
	}
	if req.Title != nil && *req.Title == "" {
		return nil, newErr(ErrValidation, `"title" is not allowed to be empty`)
	}

	task, err := s.Repo.UpdateTask(ctx, id, ownerID, req)
	if err != nil {
		return nil, mapTaskErr(err)
	}

	s.index(ctx, task)
	publish(ctx, s.Events, events.Event{Type: events.TaskUpdated, UserID: ownerID.String(), TaskID: task.ID.String()})
	return task, nil
}

func (s *TaskService) DeleteTask(ctx context.Context, ownerID uuid.UUID, rawID string) error {
	id, err := parseTaskID(rawID)
	if err != nil {
		return err
	}

	task, err := s.Repo.DeleteTask(ctx, id, ownerID)
	if err != nil {
		return mapTaskErr(err)
	}

	if s.Index != nil {
		if err := s.Index.DeleteTask(ctx, task.ID); err != nil {
			logging.FromContext(ctx).Warn("search_unindex_failed", "task_id", task.ID, "error", err)
		}
	}
	publish(ctx, s.Events, events.Event{Type: events.TaskDeleted, UserID: ownerID.String(), TaskID: task.ID.String()})
	return nil
}

// SearchTasks uses the full-text index when one is configured and falls
// back to a LIKE query otherwise, or when the index is unavailable.
func (s *TaskService) SearchTasks(ctx context.Context, ownerID uuid.UUID, query string, page, size int) ([]models.Task, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, newErr(ErrValidation, `"q" is required`)
	}
	from, size := util.Calculate(page, size)

	if s.Index != nil {
		ids, err := s.Index.Search(ctx, ownerID, query, from, size)
		if err == nil {
			return s.tasksInOrder(ctx, ownerID, ids)
		}
		logging.FromContext(ctx).Warn("search_index_failed", "error", err)
	}

	tasks, err := s.Repo.SearchTasks(ctx, ownerID, query, from, size)
	if err != nil {
		return nil, fmt.Errorf("search tasks: %w", err)
	}
	return tasks, nil
}

func (s *TaskService) tasksInOrder(ctx context.Context, ownerID uuid.UUID, ids []uuid.UUID) ([]models.Task, error) {
	found, err := s.Repo.GetTasksByIDs(ctx, ownerID, ids)
	if err != nil {
		return nil, fmt.Errorf("load search hits: %w", err)
	}
	byID := make(map[uuid.UUID]models.Task, len(found))
	for _, t := range found {
		byID[t.ID] = t
	}
	out := make([]models.Task, 0, len(found))
	for _, id := range ids {
		if t, ok := byID[id]; ok {
			out = append(out, t)
		}
	}
	return out, nil
}

func (s *TaskService) index(ctx context.Context, t *models.Task) {
	if s.Index == nil {
		return
	}
	if err := s.Index.IndexTask(ctx, t); err != nil {
		logging.FromContext(ctx).Warn("search_index_failed", "task_id", t.ID, "error", err)
	}
}

// A malformed id cannot name any task, so it is a 404 like any other miss.
func parseTaskID(raw string) (uuid.UUID, error) {
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, newErr(ErrNotFound, msgTaskNotFound)
	}
	return id, nil
}

func mapTaskErr(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return newErr(ErrNotFound, msgTaskNotFound)
	}
	return err
}
