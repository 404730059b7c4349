package models

import (
	"time"
)

// Session is an authenticated login. It references its user one way only.
type Session struct {
	ID           uint      `gorm:"primaryKey"`
	PublicID     string    `gorm:"size:36;uniqueIndex;not null"`
	UserID       uint      `gorm:"index;not null"`
	User         User      `gorm:"constraint:OnDelete:CASCADE"`
	Token        string    `gorm:"size:255;uniqueIndex;not null"`
	CreatedAt    time.Time
	ExpiresAt    time.Time `gorm:"index;not null"`
	LastActivity time.Time `gorm:"not null"`
	IPAddress    string    `gorm:"size:45"`
	UserAgent    string    `gorm:"size:500"`
}

// UsableAt reports whether the session may authenticate a request at now.
// The owning user must be loaded for the lock check.
func (s *Session) UsableAt(now time.Time) bool {
	return now.Before(s.ExpiresAt) && !s.User.Locked
}
