package models

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type Role string

const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleAdmin:
		return true
	default:
		return false
	}
}

func ParseRole(s string) (Role, bool) {
	r := Role(s)
	return r, r.Valid()
}

type User struct {
	ID           uuid.UUID `gorm:"type:uuid;primaryKey"                  json:"id"`
	Name         string    `gorm:"not null"                              json:"name"`
	Email        string    `gorm:"uniqueIndex;not null"                  json:"email"`
	PasswordHash string    `gorm:"not null"                              json:"-"`
	Role         Role      `gorm:"type:varchar(16);not null;default:'user'" json:"role"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

func (u *User) BeforeCreate(tx *gorm.DB) error {
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	u.Email = NormalizeEmail(u.Email)
	if u.Role == "" {
		u.Role = RoleUser
	}
	return nil
}

func (User) TableName() string {
	return "users"
}

// PublicUser is the only shape of a user that leaves the server.
type PublicUser struct {
	ID        uuid.UUID `json:"id"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	Role      Role      `json:"role"`
	CreatedAt time.Time `json:"createdAt,omitempty"`
}

func (u *User) Public() PublicUser {
	return PublicUser{
		ID:        u.ID,
		Name:      u.Name,
		Email:     u.Email,
		Role:      u.Role,
		CreatedAt: u.CreatedAt,
	}
}

func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

type Task struct {
	ID          uuid.UUID `gorm:"type:uuid;primaryKey"       json:"id"`
	UserID      uuid.UUID `gorm:"type:uuid;index;not null"   json:"user"`
	Title       string    `gorm:"not null"                   json:"title"`
	Description *string   `json:"description"`
	Completed   bool      `gorm:"not null;default:false"     json:"completed"`
	CreatedAt   time.Time `gorm:"index"                      json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

func (t *Task) BeforeCreate(tx *gorm.DB) error {
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	return nil
}

func (Task) TableName() string {
	return "tasks"
}

func All() []any {
	return []any{&User{}, &Task{}}
}
