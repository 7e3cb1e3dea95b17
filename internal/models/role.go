package models

import "github.com/google/uuid"

type Role string

const (
	RoleAdmin Role = "admin"
	RoleUser  Role = "user"
)

type UserRole struct {
	UserID uuid.UUID `json:"user_id"`
	Role   Role      `json:"role"`
}
