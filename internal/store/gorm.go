package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gdg-garage/camp-registration-api/internal/models"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// DB implements CredentialStore, SessionStore and RegistrationStore.
type DB struct {
	db     *gorm.DB
	tracer trace.Tracer
}

var (
	_ CredentialStore   = (*DB)(nil)
	_ SessionStore      = (*DB)(nil)
	_ RegistrationStore = (*DB)(nil)
)

func New(db *gorm.DB) *DB {
	return &DB{
		db:     db,
		tracer: otel.Tracer("camp-registration-api/store"),
	}
}

// translate maps gorm errors onto the package sentinels.
func translate(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		return ErrNotFound
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return fmt.Errorf("%w: %v", ErrDuplicate, err)
	}
	return err
}

// Users

func (s *DB) CreateUser(ctx context.Context, u *models.User) error {
	u.Email = models.NormalizeEmail(u.Email)
	return translate(s.db.WithContext(ctx).Create(u).Error)
}

func (s *DB) UserByEmail(ctx context.Context, email string) (*models.User, error) {
	var u models.User
	err := s.db.WithContext(ctx).Where("email = ?", models.NormalizeEmail(email)).First(&u).Error
	if err != nil {
		return nil, translate(err)
	}
	return &u, nil
}

func (s *DB) UserByID(ctx context.Context, id uint) (*models.User, error) {
	var u models.User
	if err := s.db.WithContext(ctx).First(&u, id).Error; err != nil {
		return nil, translate(err)
	}
	return &u, nil
}

func (s *DB) ListUsers(ctx context.Context) ([]models.User, error) {
	var users []models.User
	err := s.db.WithContext(ctx).Order("last_name asc, first_name asc").Find(&users).Error
	return users, translate(err)
}

func (s *DB) IncrementFailedAttempts(ctx context.Context, userID uint, lockAt int) (*models.User, error) {
	ctx, span := s.tracer.Start(ctx, "store.increment_failed_attempts",
		trace.WithAttributes(attribute.Int("user.id", int(userID))))
	defer span.End()

	var u models.User
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// Both SET expressions read the pre-update counter.
		res := tx.Model(&models.User{}).Where("id = ?", userID).Updates(map[string]any{
			"failed_login_attempts": gorm.Expr("failed_login_attempts + 1"),
			"locked":                gorm.Expr("CASE WHEN failed_login_attempts + 1 >= ? THEN ? ELSE locked END", lockAt, true),
		})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return gorm.ErrRecordNotFound
		}
		return tx.First(&u, userID).Error
	})
	if err != nil {
		return nil, translate(err)
	}
	span.SetAttributes(attribute.Bool("user.locked", u.Locked))
	return &u, nil
}

func (s *DB) RecordLogin(ctx context.Context, userID uint, at time.Time) (bool, error) {
	res := s.db.WithContext(ctx).Model(&models.User{}).
		Where("id = ? AND locked = ?", userID, false).
		Updates(map[string]any{
			"failed_login_attempts": 0,
			"last_login":            at,
		})
	if res.Error != nil {
		return false, translate(res.Error)
	}
	return res.RowsAffected == 1, nil
}

func (s *DB) UpdatePassword(ctx context.Context, userID uint, hash string, mustChange bool) error {
	return s.updateUser(ctx, userID, map[string]any{
		"password_hash":        hash,
		"must_change_password": mustChange,
	})
}

func (s *DB) SetLocked(ctx context.Context, userID uint, locked bool) error {
	fields := map[string]any{"locked": locked}
	if !locked {
		fields["failed_login_attempts"] = 0
	}
	return s.updateUser(ctx, userID, fields)
}

func (s *DB) updateUser(ctx context.Context, userID uint, fields map[string]any) error {
	res := s.db.WithContext(ctx).Model(&models.User{}).Where("id = ?", userID).Updates(fields)
	if res.Error != nil {
		return translate(res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// Sessions

func (s *DB) CreateSession(ctx context.Context, sess *models.Session) error {
	return translate(s.db.WithContext(ctx).Omit(clause.Associations).Create(sess).Error)
}

func (s *DB) SessionByToken(ctx context.Context, token string) (*models.Session, error) {
	var sess models.Session
	err := s.db.WithContext(ctx).Preload("User").Where("token = ?", token).First(&sess).Error
	if err != nil {
		return nil, translate(err)
	}
	return &sess, nil
}

func (s *DB) RenewSession(ctx context.Context, id uint, now, expiresAt time.Time) (bool, error) {
	res := s.db.WithContext(ctx).Model(&models.Session{}).
		Where("id = ? AND expires_at > ?", id, now).
		Updates(map[string]any{
			"last_activity": now,
			"expires_at":    expiresAt,
		})
	if res.Error != nil {
		return false, translate(res.Error)
	}
	return res.RowsAffected == 1, nil
}

func (s *DB) DeleteSessionByToken(ctx context.Context, token string) error {
	return translate(s.db.WithContext(ctx).Where("token = ?", token).Delete(&models.Session{}).Error)
}

func (s *DB) DeleteSessionsByUser(ctx context.Context, userID uint) (int64, error) {
	res := s.db.WithContext(ctx).Where("user_id = ?", userID).Delete(&models.Session{})
	return res.RowsAffected, translate(res.Error)
}

func (s *DB) ListSessionsByUser(ctx context.Context, userID uint) ([]models.Session, error) {
	var sessions []models.Session
	err := s.db.WithContext(ctx).Where("user_id = ?", userID).Order("created_at desc").Find(&sessions).Error
	return sessions, translate(err)
}

func (s *DB) DeleteExpiredSessions(ctx context.Context, now time.Time) (int64, error) {
	res := s.db.WithContext(ctx).Where("expires_at < ?", now).Delete(&models.Session{})
	return res.RowsAffected, translate(res.Error)
}

// Events and participants

func (s *DB) CreateEvent(ctx context.Context, e *models.Event) error {
	return translate(s.db.WithContext(ctx).Create(e).Error)
}

func (s *DB) EventByID(ctx context.Context, id uint) (*models.Event, error) {
	var e models.Event
	if err := s.db.WithContext(ctx).First(&e, id).Error; err != nil {
		return nil, translate(err)
	}
	return &e, nil
}

func (s *DB) DeleteEvent(ctx context.Context, id uint) error {
	return translate(s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		regIDs := tx.Model(&models.Registration{}).Select("id").Where("event_id = ?", id)
		if err := tx.Where("registration_id IN (?)", regIDs).Delete(&models.RegistrationHistory{}).Error; err != nil {
			return err
		}
		if err := tx.Where("event_id = ?", id).Delete(&models.Registration{}).Error; err != nil {
			return err
		}
		res := tx.Unscoped().Delete(&models.Event{}, id)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return gorm.ErrRecordNotFound
		}
		return nil
	}))
}

func (s *DB) CreateParticipant(ctx context.Context, p *models.Participant) error {
	return translate(s.db.WithContext(ctx).Create(p).Error)
}

func (s *DB) ParticipantByID(ctx context.Context, id uint) (*models.Participant, error) {
	var p models.Participant
	if err := s.db.WithContext(ctx).First(&p, id).Error; err != nil {
		return nil, translate(err)
	}
	return &p, nil
}

// Registrations

func (s *DB) RegistrationByID(ctx context.Context, id uint) (*models.Registration, error) {
	var r models.Registration
	if err := s.db.WithContext(ctx).First(&r, id).Error; err != nil {
		return nil, translate(err)
	}
	return &r, nil
}

func (s *DB) ListRegistrations(ctx context.Context, eventID uint) ([]models.Registration, error) {
	var regs []models.Registration
	err := s.db.WithContext(ctx).Where("event_id = ?", eventID).
		Order("registration_date asc, id asc").Find(&regs).Error
	return regs, translate(err)
}

func (s *DB) History(ctx context.Context, registrationID uint) ([]models.RegistrationHistory, error) {
	var history []models.RegistrationHistory
	err := s.db.WithContext(ctx).Where("registration_id = ?", registrationID).
		Order("id asc").Find(&history).Error
	return history, translate(err)
}

func (s *DB) CountConfirmed(ctx context.Context, eventID uint) (int64, error) {
	return countConfirmed(s.db.WithContext(ctx), eventID)
}

func (s *DB) DeleteRegistration(ctx context.Context, id uint) error {
	return translate(s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("registration_id = ?", id).Delete(&models.RegistrationHistory{}).Error; err != nil {
			return err
		}
		res := tx.Delete(&models.Registration{}, id)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return gorm.ErrRecordNotFound
		}
		return nil
	}))
}

func (s *DB) InEventTx(ctx context.Context, eventID uint, fn func(tx RegistrationTx) error) error {
	ctx, span := s.tracer.Start(ctx, "store.event_tx",
		trace.WithAttributes(attribute.Int("event.id", int(eventID))))
	defer span.End()

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var event models.Event
		// FOR UPDATE serialises writers on postgres; the sqlite dialect drops
		// the clause and relies on its single immediate-mode writer instead.
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&event, eventID).Error
		if err != nil {
			return err
		}
		return fn(&eventTx{db: tx, event: &event})
	})
	if err != nil {
		span.RecordError(err)
	}
	return translate(err)
}

type eventTx struct {
	db    *gorm.DB
	event *models.Event
}

func (t *eventTx) Event() *models.Event {
	return t.event
}

func (t *eventTx) Participant(id uint) (*models.Participant, error) {
	var p models.Participant
	if err := t.db.First(&p, id).Error; err != nil {
		return nil, translate(err)
	}
	return &p, nil
}

func (t *eventTx) Registration(id uint) (*models.Registration, error) {
	var r models.Registration
	if err := t.db.Where("event_id = ?", t.event.ID).First(&r, id).Error; err != nil {
		return nil, translate(err)
	}
	return &r, nil
}

func (t *eventTx) RegistrationByPair(eventID, participantID uint) (*models.Registration, error) {
	var r models.Registration
	err := t.db.Where("event_id = ? AND participant_id = ?", eventID, participantID).First(&r).Error
	if err != nil {
		return nil, translate(err)
	}
	return &r, nil
}

func (t *eventTx) CountConfirmed() (int64, error) {
	return countConfirmed(t.db, t.event.ID)
}

func (t *eventTx) EarliestWaitlisted() (*models.Registration, error) {
	var r models.Registration
	err := t.db.Where("event_id = ? AND status = ?", t.event.ID, models.StatusWaitlist).
		Order("registration_date asc, id asc").First(&r).Error
	if err != nil {
		return nil, translate(err)
	}
	return &r, nil
}

func (t *eventTx) CreateRegistration(r *models.Registration) error {
	return translate(t.db.Create(r).Error)
}

func (t *eventTx) SaveRegistration(r *models.Registration) error {
	return translate(t.db.Save(r).Error)
}

func (t *eventTx) AppendHistory(h *models.RegistrationHistory) error {
	return translate(t.db.Create(h).Error)
}

func countConfirmed(db *gorm.DB, eventID uint) (int64, error) {
	var n int64
	err := db.Model(&models.Registration{}).
		Where("event_id = ? AND status = ?", eventID, models.StatusConfirmed).
		Count(&n).Error
	return n, translate(err)
}
