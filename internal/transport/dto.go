package transport

import (
	"bytes"
	"encoding/json"
	"strings"

	"github.com/Skotchmaster/tasks_app/internal/models"
)

type RegisterRequest struct {
	Name            string `json:"name"            validate:"required,min=2"`
	Email           string `json:"email"           validate:"required,email"`
	Password        string `json:"password"        validate:"required,min=6,max=72"`
	ConfirmPassword string `json:"confirmPassword" validate:"required,eqfield=Password"`
}

// Normalize trims the fields whose length and format rules apply to the
// stored value.
func (r *RegisterRequest) Normalize() {
	r.Name = strings.TrimSpace(r.Name)
	r.Email = strings.TrimSpace(r.Email)
}

type LoginRequest struct {
	Email    string `json:"email"    validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

func (r *LoginRequest) Normalize() {
	r.Email = strings.TrimSpace(r.Email)
}

type AuthResponse struct {
	Token string            `json:"token"`
	User  models.PublicUser `json:"user"`
}

// CreateTaskRequest has no owner field on purpose: the owner always comes
// from the authenticated identity.
type CreateTaskRequest struct {
	Title       string  `json:"title"       validate:"required,min=1"`
	Description *string `json:"description"`
	Completed   *bool   `json:"completed"`
}

type UpdateTaskRequest struct {
	Title       *string        `json:"title"       validate:"omitempty,min=1"`
	Description NullableString `json:"description"`
	Completed   *bool          `json:"completed"`
}

type PromoteRequest struct {
	Password string `json:"password"`
}

type PromoteResponse struct {
	Message string            `json:"message"`
	User    models.PublicUser `json:"user"`
}

type MessageResponse struct {
	Message string `json:"message"`
}

// NullableString tells an absent field apart from an explicit null.
type NullableString struct {
	Set   bool
	Value *string
}

func (n *NullableString) UnmarshalJSON(data []byte) error {
	n.Set = true
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		n.Value = nil
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	n.Value = &s
	return nil
}
