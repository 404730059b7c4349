package models

import (
	"errors"
	"time"
)

type RegistrationStatus string

const (
	StatusPending   RegistrationStatus = "PENDING"
	StatusConfirmed RegistrationStatus = "CONFIRMED"
	StatusWaitlist  RegistrationStatus = "WAITLIST"
	StatusCancelled RegistrationStatus = "CANCELLED"
)

// IsActive reports whether a registration still holds or is waiting for a
// seat decision. Waitlisted registrations are not active.
func (s RegistrationStatus) IsActive() bool {
	return s == StatusPending || s == StatusConfirmed
}

type RegistrationAction string

const (
	ActionConfirm  RegistrationAction = "confirm"
	ActionWaitlist RegistrationAction = "waitlist"
	ActionCancel   RegistrationAction = "cancel"
)

var ErrInvalidTransition = errors.New("invalid registration status transition")

// Next returns the status a registration moves to when action is applied.
// A result equal to from means the action is a no-op for that status.
func Next(from RegistrationStatus, action RegistrationAction) (RegistrationStatus, error) {
	switch action {
	case ActionConfirm:
		if from == StatusPending || from == StatusWaitlist {
			return StatusConfirmed, nil
		}
		return from, ErrInvalidTransition
	case ActionWaitlist:
		if from == StatusPending {
			return StatusWaitlist, nil
		}
		return from, nil
	case ActionCancel:
		return StatusCancelled, nil
	}
	return from, ErrInvalidTransition
}

type Registration struct {
	ID               uint               `json:"id" gorm:"primaryKey"`
	EventID          uint               `json:"event_id" gorm:"not null;uniqueIndex:idx_event_participant;index:idx_event_status"`
	ParticipantID    uint               `json:"participant_id" gorm:"not null;uniqueIndex:idx_event_participant"`
	Status           RegistrationStatus `json:"status" gorm:"type:varchar(20);not null;default:'PENDING';index:idx_event_status"`
	RegistrationDate time.Time          `json:"registration_date" gorm:"not null"`
	ConfirmationDate *time.Time         `json:"confirmation_date,omitempty"`
	CancellationDate *time.Time         `json:"cancellation_date,omitempty"`
	Notes            string             `json:"notes,omitempty" gorm:"size:1000"`
	UpdatedAt        time.Time          `json:"updated_at"`
}

// Apply moves the registration through action and stamps the matching date.
// It reports whether anything changed.
func (r *Registration) Apply(action RegistrationAction, at time.Time) (bool, error) {
	next, err := Next(r.Status, action)
	if err != nil {
		return false, err
	}
	if next == r.Status {
		return false, nil
	}
	r.Status = next
	switch next {
	case StatusConfirmed:
		r.ConfirmationDate = &at
	case StatusCancelled:
		r.CancellationDate = &at
	}
	return true, nil
}
