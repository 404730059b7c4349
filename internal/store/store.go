// Package store persists users, sessions, events and registrations.
//
// Each concern has its own interface so the managers depend only on what
// they use. DB implements all of them on top of gorm.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/gdg-garage/camp-registration-api/internal/models"
)

var (
	// ErrNotFound indicates a requested record is missing.
	ErrNotFound = errors.New("record not found")
	// ErrDuplicate indicates a unique constraint rejected a write.
	ErrDuplicate = errors.New("record already exists")
)

// CredentialStore persists user accounts and their lockout state.
type CredentialStore interface {
	CreateUser(ctx context.Context, u *models.User) error
	UserByEmail(ctx context.Context, email string) (*models.User, error)
	UserByID(ctx context.Context, id uint) (*models.User, error)
	ListUsers(ctx context.Context) ([]models.User, error)
	// IncrementFailedAttempts atomically bumps the failed-login counter and
	// locks the account once the counter reaches lockAt. It returns the
	// updated user.
	IncrementFailedAttempts(ctx context.Context, userID uint, lockAt int) (*models.User, error)
	// RecordLogin resets the failed-login counter and stamps the last login,
	// but only while the account is unlocked. It reports whether the login
	// was recorded.
	RecordLogin(ctx context.Context, userID uint, at time.Time) (bool, error)
	UpdatePassword(ctx context.Context, userID uint, hash string, mustChange bool) error
	// SetLocked locks or unlocks an account. Unlocking resets the counter.
	SetLocked(ctx context.Context, userID uint, locked bool) error
}

// SessionStore persists login sessions.
type SessionStore interface {
	CreateSession(ctx context.Context, s *models.Session) error
	// SessionByToken returns the session with its owning user loaded.
	SessionByToken(ctx context.Context, token string) (*models.Session, error)
	// RenewSession is the renew-on-access write: it moves LastActivity to now
	// and ExpiresAt to expiresAt, but only while the session is unexpired at
	// now. It reports whether a session was renewed.
	RenewSession(ctx context.Context, id uint, now, expiresAt time.Time) (bool, error)
	DeleteSessionByToken(ctx context.Context, token string) error
	DeleteSessionsByUser(ctx context.Context, userID uint) (int64, error)
	ListSessionsByUser(ctx context.Context, userID uint) ([]models.Session, error)
	DeleteExpiredSessions(ctx context.Context, now time.Time) (int64, error)
}

// RegistrationStore persists events, participants and registrations.
type RegistrationStore interface {
	CreateEvent(ctx context.Context, e *models.Event) error
	EventByID(ctx context.Context, id uint) (*models.Event, error)
	// DeleteEvent removes the event together with its registrations.
	DeleteEvent(ctx context.Context, id uint) error
	CreateParticipant(ctx context.Context, p *models.Participant) error
	ParticipantByID(ctx context.Context, id uint) (*models.Participant, error)
	RegistrationByID(ctx context.Context, id uint) (*models.Registration, error)
	ListRegistrations(ctx context.Context, eventID uint) ([]models.Registration, error)
	History(ctx context.Context, registrationID uint) ([]models.RegistrationHistory, error)
	CountConfirmed(ctx context.Context, eventID uint) (int64, error)
	// DeleteRegistration is the administrative removal path. It bypasses the
	// status state machine.
	DeleteRegistration(ctx context.Context, id uint) error
	// InEventTx runs fn in one transaction holding the event's lock. Every
	// capacity read and the writes it justifies must happen inside fn.
	InEventTx(ctx context.Context, eventID uint, fn func(tx RegistrationTx) error) error
}

// RegistrationTx is the transactional view handed to InEventTx callbacks.
type RegistrationTx interface {
	Event() *models.Event
	Participant(id uint) (*models.Participant, error)
	Registration(id uint) (*models.Registration, error)
	RegistrationByPair(eventID, participantID uint) (*models.Registration, error)
	CountConfirmed() (int64, error)
	// EarliestWaitlisted returns the WAITLIST registration with the oldest
	// registration date, ties broken by ascending id.
	EarliestWaitlisted() (*models.Registration, error)
	CreateRegistration(r *models.Registration) error
	SaveRegistration(r *models.Registration) error
	AppendHistory(h *models.RegistrationHistory) error
}
