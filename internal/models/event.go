package models

import (
	"math"
	"time"

	"gorm.io/gorm"
)

type Event struct {
	gorm.Model
	Name      string    `json:"name" gorm:"size:200;not null"`
	Slug      string    `json:"slug" gorm:"size:200;uniqueIndex"`
	StartDate time.Time `json:"start_date"`
	EndDate   time.Time `json:"end_date"`
	// Capacity is the number of CONFIRMED registrations accepted. Zero means unlimited.
	Capacity int  `json:"capacity" gorm:"not null;default:0"`
	Active   bool `json:"active" gorm:"not null;default:true"`
}

func (e *Event) Unlimited() bool {
	return e.Capacity <= 0
}

// RemainingSpots returns math.MaxInt for unlimited events.
func (e *Event) RemainingSpots(confirmed int64) int {
	if e.Unlimited() {
		return math.MaxInt
	}
	remaining := e.Capacity - int(confirmed)
	if remaining < 0 {
		return 0
	}
	return remaining
}

func (e *Event) HasAvailableCapacity(confirmed int64) bool {
	return e.Unlimited() || confirmed < int64(e.Capacity)
}

type Participant struct {
	gorm.Model
	FirstName        string `json:"first_name" gorm:"size:50"`
	LastName         string `json:"last_name" gorm:"size:50"`
	Email            string `json:"email" gorm:"size:100"`
	FoodRestrictions string `json:"food_restrictions"`
}

func (p Participant) FullName() string {
	switch {
	case p.FirstName != "" && p.LastName != "":
		return p.FirstName + " " + p.LastName
	case p.FirstName != "":
		return p.FirstName
	}
	return p.LastName
}
