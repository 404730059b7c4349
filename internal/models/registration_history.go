package models

import (
	"time"
)

type RegistrationHistory struct {
	ID             uint               `json:"id" gorm:"primaryKey"`
	RegistrationID uint               `json:"registration_id" gorm:"index"`
	EventID        uint               `json:"event_id" gorm:"index"`
	FromStatus     RegistrationStatus `json:"from_status" gorm:"type:varchar(20)"`
	ToStatus       RegistrationStatus `json:"to_status" gorm:"type:varchar(20);not null"`
	Reason         string             `json:"reason"`
	CreatedAt      time.Time          `json:"created_at"`
}
