package model

import (
	"strings"
	"time"
)

type Role string

const (
	RoleAdmin   Role = "ADMIN"
	RoleTutor   Role = "TUTOR"
	RoleStudent Role = "STUDENT"
)

// ParseRole maps a request value onto a known role. Comparison is
// case-insensitive; stored roles are always upper case.
func ParseRole(value string) (Role, bool) {
	switch Role(strings.ToUpper(strings.TrimSpace(value))) {
	case RoleAdmin:
		return RoleAdmin, true
	case RoleTutor:
		return RoleTutor, true
	case RoleStudent:
		return RoleStudent, true
	default:
		return "", false
	}
}

// User carries the stored identity. FirstLogin marks a system-issued
// temporary password that must be replaced before the account is trusted.
type User struct {
	ID           string
	Name         string
	Email        string
	PasswordHash string
	Role         Role
	FirstLogin   bool
	CreatedAt    time.Time
}

type Course struct {
	ID          string
	Title       string
	Description string
	CreatedByID string
	CreatedAt   time.Time
}

type Module struct {
	ID       string
	CourseID string
	Title    string
	Order    int32
}

type Lesson struct {
	ID       string
	ModuleID string
	Title    string
	Content  string
	Order    int32
}
