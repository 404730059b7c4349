package models

import (
	"strings"
	"time"

	"gorm.io/gorm"
)

type Role string

const (
	RoleAdmin      Role = "ADMIN"
	RoleSuperAdmin Role = "SUPERADMIN"
)

type User struct {
	gorm.Model
	Email               string     `json:"email" gorm:"size:100;uniqueIndex;not null"`
	PasswordHash        string     `json:"-" gorm:"not null"`
	FirstName           string     `json:"first_name" gorm:"size:50"`
	LastName            string     `json:"last_name" gorm:"size:50"`
	Role                Role       `json:"role" gorm:"size:20;not null;default:'ADMIN'"`
	MustChangePassword  bool       `json:"must_change_password" gorm:"not null;default:false"`
	Locked              bool       `json:"locked" gorm:"not null;default:false"`
	FailedLoginAttempts int        `json:"-" gorm:"not null;default:0"`
	LastLogin           *time.Time `json:"last_login,omitempty"`
}

func (u User) FullName() string {
	name := strings.TrimSpace(u.FirstName + " " + u.LastName)
	if name == "" {
		return u.Email
	}
	return name
}

// NormalizeEmail is the canonical form emails are stored and looked up in.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
