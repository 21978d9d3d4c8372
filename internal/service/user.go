package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/Skotchmaster/tasks_app/internal/events"
	"github.com/Skotchmaster/tasks_app/internal/models"
	"github.com/Skotchmaster/tasks_app/internal/repo"
	"github.com/Skotchmaster/tasks_app/internal/search"
	pkg_hash "github.com/Skotchmaster/tasks_app/pkg/hash"
	"github.com/Skotchmaster/tasks_app/pkg/logging"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

const msgUserNotFound = "User not found"

// UserService is the administrative surface. Route gating to admins is the
// router's job; the rules here are the ones a role check cannot express.
type UserService struct {
	Repo   *repo.GormRepo
	Index  search.Index
	Events events.Publisher
}

func (s *UserService) ListUsers(ctx context.Context) ([]models.PublicUser, error) {
	users, err := s.Repo.ListUsers(ctx)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	out := make([]models.PublicUser, len(users))
	for i := range users {
		out[i] = users[i].Public()
	}
	return out, nil
}

// Promote moves target from user to admin. The acting admin must not be the
// target and must re-enter their own password.
func (s *UserService) Promote(ctx context.Context, actorID uuid.UUID, rawTargetID, password string) (*models.User, error) {
	l := logging.FromContext(ctx).With("svc", "user.promote", "admin_id", actorID, "target_id", rawTargetID)

	targetID, parseErr := uuid.Parse(rawTargetID)
	if parseErr == nil && targetID == actorID {
		l.Warn("promote_failed", "status", 400, "reason", "self promotion")
		return nil, newErr(ErrInvalidRequest, "Admins cannot promote themselves")
	}

	if password == "" {
		l.Warn("promote_failed", "status", 400, "reason", "password missing")
		return nil, newErr(ErrInvalidRequest, "Password is required")
	}

	actor, err := s.Repo.GetUserByID(ctx, actorID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			l.Warn("promote_failed", "status", 401, "reason", "admin not found")
			return nil, newErr(ErrUnauthorized, "Admin not found")
		}
		return nil, fmt.Errorf("load admin: %w", err)
	}
	if !pkg_hash.CheckPassword(actor.PasswordHash, password) {
		l.Warn("promote_failed", "status", 401, "reason", "wrong password")
		return nil, newErr(ErrUnauthorized, "Wrong password")
	}

	if parseErr != nil {
		l.Warn("promote_failed", "status", 404, "reason", "target id malformed")
		return nil, newErr(ErrNotFound, msgUserNotFound)
	}

	target, err := s.Repo.GetUserByID(ctx, targetID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			l.Warn("promote_failed", "status", 404, "reason", "target not found")
			return nil, newErr(ErrNotFound, msgUserNotFound)
		}
		return nil, fmt.Errorf("load target: %w", err)
	}
	if target.Role == models.RoleAdmin {
		l.Warn("promote_failed", "status", 400, "reason", "already admin")
		return nil, newErr(ErrInvalidRequest, "User is already admin")
	}

	promoted, err := s.Repo.PromoteUser(ctx, targetID)
	if err != nil {
		return nil, fmt.Errorf("promote user: %w", err)
	}
	if !promoted {
		// lost a race with another promotion or a delete
		current, err := s.Repo.GetUserByID(ctx, targetID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil, newErr(ErrNotFound, msgUserNotFound)
			}
			return nil, fmt.Errorf("reload target: %w", err)
		}
		if current.Role == models.RoleAdmin {
			return nil, newErr(ErrInvalidRequest, "User is already admin")
		}
		return nil, fmt.Errorf("promote user %s: no rows updated", targetID)
	}

	target.Role = models.RoleAdmin
	publish(ctx, s.Events, events.Event{Type: events.UserPromoted, UserID: targetID.String(), ActorID: actorID.String()})
	l.Info("promote_success")
	return target, nil
}

// DeleteUser removes the account and cascades to its tasks. An admin
// cannot delete their own account.
func (s *UserService) DeleteUser(ctx context.Context, actorID uuid.UUID, rawTargetID string) error {
	l := logging.FromContext(ctx).With("svc", "user.delete", "admin_id", actorID, "target_id", rawTargetID)

	targetID, err := uuid.Parse(rawTargetID)
	if err != nil {
		return newErr(ErrNotFound, msgUserNotFound)
	}
	if targetID == actorID {
		l.Warn("delete_user_failed", "status", 400, "reason", "self delete")
		return newErr(ErrInvalidRequest, "Admins cannot delete themselves")
	}

	removed, err := s.Repo.DeleteUserCascade(ctx, targetID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			l.Warn("delete_user_failed", "status", 404, "reason", "target not found")
			return newErr(ErrNotFound, msgUserNotFound)
		}
		return fmt.Errorf("delete user: %w", err)
	}

	if s.Index != nil {
		if err := s.Index.DeleteUserTasks(ctx, targetID); err != nil {
			l.Warn("search_unindex_failed", "error", err)
		}
	}
	publish(ctx, s.Events, events.Event{Type: events.UserDeleted, UserID: targetID.String(), ActorID: actorID.String()})
	l.Info("delete_user_success", "tasks_removed", removed)
	return nil
}

// UserTasks is the admin inspection view: scoped by the path id, not by the
// caller. An unknown id simply has no tasks.
func (s *UserService) UserTasks(ctx context.Context, rawTargetID string) ([]models.Task, error) {
	targetID, err := uuid.Parse(rawTargetID)
	if err != nil {
		return []models.Task{}, nil
	}
	tasks, err := s.Repo.ListTasks(ctx, targetID)
	if err != nil {
		return nil, fmt.Errorf("list user tasks: %w", err)
	}
	return tasks, nil
}
