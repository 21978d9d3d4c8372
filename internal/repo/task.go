package repo

import (
	"context"
	"strings"

	"github.com/Skotchmaster/tasks_app/internal/models"
	"github.com/Skotchmaster/tasks_app/internal/transport"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

func (r *GormRepo) CreateTask(ctx context.Context, task *models.Task) (*models.Task, error) {
	if err := r.DB.WithContext(ctx).Create(task).Error; err != nil {
		return nil, err
	}
	return task, nil
}

func (r *GormRepo) ListTasks(ctx context.Context, userID uuid.UUID) ([]models.Task, error) {
	tasks := make([]models.Task, 0)
	if err := r.DB.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Find(&tasks).Error; err != nil {
		return nil, err
	}
	return tasks, nil
}

// GetTask only matches when both the id and the owner match.
func (r *GormRepo) GetTask(ctx context.Context, id, userID uuid.UUID) (*models.Task, error) {
	var task models.Task
	if err := r.DB.WithContext(ctx).Where("id = ? AND user_id = ?", id, userID).First(&task).Error; err != nil {
		return nil, err
	}
	return &task, nil
}

func (r *GormRepo) UpdateTask(ctx context.Context, id, userID uuid.UUID, req transport.UpdateTaskRequest) (*models.Task, error) {
	var task models.Task
	err := r.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("id = ? AND user_id = ?", id, userID).First(&task).Error; err != nil {
			return err
		}

		if req.Title != nil {
			task.Title = *req.Title
		}
		if req.Description.Set {
			task.Description = req.Description.Value
		}
		if req.Completed != nil {
			task.Completed = *req.Completed
		}

		return tx.Save(&task).Error
	})
	if err != nil {
		return nil, err
	}
	return &task, nil
}

func (r *GormRepo) DeleteTask(ctx context.Context, id, userID uuid.UUID) (*models.Task, error) {
	var task models.Task
	err := r.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("id = ? AND user_id = ?", id, userID).First(&task).Error; err != nil {
			return err
		}
		return tx.Delete(&task).Error
	})
	if err != nil {
		return nil, err
	}
	return &task, nil
}

// SearchTasks is the database fallback used when no search index is configured.
func (r *GormRepo) SearchTasks(ctx context.Context, userID uuid.UUID, q string, offset, limit int) ([]models.Task, error) {
	pattern := "%" + escapeLike(strings.ToLower(q)) + "%"
	tasks := make([]models.Task, 0)
	if err := r.DB.WithContext(ctx).
		Where("user_id = ?", userID).
		Where("(LOWER(title) LIKE ? ESCAPE '\\' OR LOWER(COALESCE(description, '')) LIKE ? ESCAPE '\\')", pattern, pattern).
		Order("created_at DESC").
		Offset(offset).
		Limit(limit).
		Find(&tasks).Error; err != nil {
		return nil, err
	}
	return tasks, nil
}

// GetTasksByIDs keeps the owner constraint even for ids handed back by the index.
func (r *GormRepo) GetTasksByIDs(ctx context.Context, userID uuid.UUID, ids []uuid.UUID) ([]models.Task, error) {
	tasks := make([]models.Task, 0, len(ids))
	if len(ids) == 0 {
		return tasks, nil
	}
	if err := r.DB.WithContext(ctx).
		Where("user_id = ? AND id IN ?", userID, ids).
		Find(&tasks).Error; err != nil {
		return nil, err
	}
	return tasks, nil
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}
