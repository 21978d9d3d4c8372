package repo

import (
	"context"
	"fmt"

	"github.com/Skotchmaster/tasks_app/internal/models"
	"gorm.io/gorm"
)

// GormRepo is both the credential store and the task storage. It holds the
// handle it was built with and never opens a connection of its own.
type GormRepo struct {
	DB *gorm.DB
}

func New(db *gorm.DB) *GormRepo {
	return &GormRepo{DB: db}
}

func (r *GormRepo) Migrate(ctx context.Context) error {
	if err := r.DB.WithContext(ctx).AutoMigrate(models.All()...); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}
