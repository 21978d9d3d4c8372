package repo

import (
	"context"
	"errors"

	"github.com/Skotchmaster/tasks_app/internal/models"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

var ErrUserAlreadyExist = errors.New("user already exist")

// CreateUserIfNotExists relies on the unique email index for the race
// between two concurrent registrations of the same address.
func (r *GormRepo) CreateUserIfNotExists(ctx context.Context, u *models.User) error {
	u.Email = models.NormalizeEmail(u.Email)
	tx := r.DB.WithContext(ctx).Where("email = ?", u.Email).FirstOrCreate(u)
	if tx.Error != nil {
		if errors.Is(tx.Error, gorm.ErrDuplicatedKey) {
			return ErrUserAlreadyExist
		}
		return tx.Error
	}
	if tx.RowsAffected == 0 {
		return ErrUserAlreadyExist
	}
	return nil
}

func (r *GormRepo) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	var user models.User
	if err := r.DB.WithContext(ctx).Where("email = ?", models.NormalizeEmail(email)).First(&user).Error; err != nil {
		return nil, err
	}
	return &user, nil
}

func (r *GormRepo) GetUserByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	var user models.User
	if err := r.DB.WithContext(ctx).Where("id = ?", id).First(&user).Error; err != nil {
		return nil, err
	}
	return &user, nil
}

func (r *GormRepo) ListUsers(ctx context.Context) ([]models.User, error) {
	var users []models.User
	if err := r.DB.WithContext(ctx).Order("created_at DESC").Find(&users).Error; err != nil {
		return nil, err
	}
	return users, nil
}

// PromoteUser flips role user->admin in one statement. RowsAffected == 0
// means the target vanished or was promoted concurrently; the caller
// re-reads to tell which.
func (r *GormRepo) PromoteUser(ctx context.Context, id uuid.UUID) (bool, error) {
	res := r.DB.WithContext(ctx).Model(&models.User{}).
		Where("id = ? AND role = ?", id, models.RoleUser).
		Update("role", models.RoleAdmin)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// DeleteUserCascade removes the user and every task it owns atomically.
func (r *GormRepo) DeleteUserCascade(ctx context.Context, id uuid.UUID) (int64, error) {
	var removedTasks int64
	err := r.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Where("user_id = ?", id).Delete(&models.Task{})
		if res.Error != nil {
			return res.Error
		}
		removedTasks = res.RowsAffected

		res = tx.Where("id = ?", id).Delete(&models.User{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return gorm.ErrRecordNotFound
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return removedTasks, nil
}
