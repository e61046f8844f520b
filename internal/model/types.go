package model

import (
	"strings"
	"time"
)

// Role is the authorization role of a user
type Role string

const (
	RoleAdmin    Role = "admin"
	RoleOrdinary Role = "ordinary"
)

// ParseRole accepts "admin"/"ordinary" in any letter case
func ParseRole(s string) (Role, bool) {
	switch Role(strings.ToLower(strings.TrimSpace(s))) {
	case RoleAdmin:
		return RoleAdmin, true
	case RoleOrdinary:
		return RoleOrdinary, true
	}
	return "", false
}

// User represents a registered user in the system
type User struct {
	ID             string    `json:"id"`
	FirstName      string    `json:"first_name"`
	LastName       string    `json:"last_name"`
	PhoneNumber    string    `json:"phone_number"`
	HashedPassword string    `json:"-"`
	Role           Role      `json:"role"`
	IsActive       bool      `json:"is_active"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// IsAdmin reports whether the user holds the admin role
func (u *User) IsAdmin() bool {
	return u.Role == RoleAdmin
}

// UserStats is the aggregate shown on the admin dashboard
type UserStats struct {
	TotalUsers         int `json:"total_users"`
	TotalAdmins        int `json:"total_admins"`
	TotalOrdinaryUsers int `json:"total_ordinary_users"`
	ActiveUsers        int `json:"active_users"`
	InactiveUsers      int `json:"inactive_users"`
}
