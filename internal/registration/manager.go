// Package registration runs the registration lifecycle against events with
// bounded capacity: creation, confirmation, waitlisting, cancellation and
// automatic promotion from the waitlist.
package registration

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/gdg-garage/camp-registration-api/internal/models"
	"github.com/gdg-garage/camp-registration-api/internal/notifier"
	"github.com/gdg-garage/camp-registration-api/internal/store"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

var (
	// ErrNotFound is returned when the event, participant or registration is missing.
	ErrNotFound = store.ErrNotFound
	// ErrDuplicateRegistration is returned when the participant already has a
	// registration for the event.
	ErrDuplicateRegistration = errors.New("participant is already registered for this event")
	// ErrRegistrationFull is returned when the event has no confirmed seat left.
	ErrRegistrationFull = errors.New("event is full")
)

// History reasons.
const (
	ReasonCreated    = "created"
	ReasonConfirmed  = "confirmed"
	ReasonWaitlisted = "waitlisted"
	ReasonCancelled  = "cancelled"
	ReasonPromoted   = "promoted"
)

type Manager struct {
	store       store.RegistrationStore
	notifier    notifier.Notifier
	now         func() time.Time
	tracer      trace.Tracer
	meters      metric.MeterProvider
	transitions metric.Int64Counter
}

type Option func(*Manager)

// WithClock replaces time.Now for registration, confirmation and
// cancellation dates.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

func WithNotifier(n notifier.Notifier) Option {
	return func(m *Manager) {
		m.notifier = n
	}
}

// WithMeterProvider replaces the global meter provider for the manager's
// counters.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(m *Manager) {
		if mp != nil {
			m.meters = mp
		}
	}
}

func NewManager(s store.RegistrationStore, opts ...Option) *Manager {
	m := &Manager{
		store:  s,
		now:    func() time.Time { return time.Now().UTC() },
		tracer: otel.Tracer("camp-registration-api/registration"),
		meters: otel.GetMeterProvider(),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.transitions, _ = m.meters.Meter("camp-registration-api/registration").Int64Counter(
		"registration.transitions",
		metric.WithDescription("Registration status transitions by target status"),
	)
	return m
}

// Create registers a participant for an event in PENDING status.
//
// When the event is already at capacity the PENDING registration is still
// persisted and returned together with ErrRegistrationFull, so the caller can
// move it to the waitlist with PutOnWaitlist instead of confirming it. A
// duplicate returns the existing registration, when it could be read, with
// ErrDuplicateRegistration.
func (m *Manager) Create(ctx context.Context, eventID, participantID uint) (*models.Registration, error) {
	ctx, span := m.tracer.Start(ctx, "registration.create", trace.WithAttributes(
		attribute.Int("event.id", int(eventID)),
		attribute.Int("participant.id", int(participantID)),
	))
	defer span.End()

	var (
		reg     *models.Registration
		event   models.Event
		full    bool
		entered bool
	)
	err := m.store.InEventTx(ctx, eventID, func(tx store.RegistrationTx) error {
		entered = true
		event = *tx.Event()

		if _, err := tx.Participant(participantID); err != nil {
			return fmt.Errorf("participant %d: %w", participantID, err)
		}

		existing, err := tx.RegistrationByPair(eventID, participantID)
		switch {
		case err == nil:
			reg = existing
			return ErrDuplicateRegistration
		case !errors.Is(err, store.ErrNotFound):
			return err
		}

		confirmed, err := tx.CountConfirmed()
		if err != nil {
			return err
		}
		full = !event.HasAvailableCapacity(confirmed)

		reg = &models.Registration{
			EventID:          eventID,
			ParticipantID:    participantID,
			Status:           models.StatusPending,
			RegistrationDate: m.now(),
		}
		if err := tx.CreateRegistration(reg); err != nil {
			if errors.Is(err, store.ErrDuplicate) {
				return ErrDuplicateRegistration
			}
			return err
		}
		return tx.AppendHistory(&models.RegistrationHistory{
			RegistrationID: reg.ID,
			EventID:        eventID,
			ToStatus:       models.StatusPending,
			Reason:         ReasonCreated,
		})
	})
	if errors.Is(err, ErrDuplicateRegistration) {
		return reg, fail(span, err)
	}
	if err != nil {
		if !entered && errors.Is(err, store.ErrNotFound) {
			err = fmt.Errorf("event %d: %w", eventID, err)
		}
		return nil, fail(span, err)
	}

	m.record(ctx, reg.Status)
	m.notify(ctx, event, *reg, ReasonCreated)

	if full {
		span.SetAttributes(attribute.Bool("event.full", true))
		return reg, fmt.Errorf("event %d: %w", eventID, ErrRegistrationFull)
	}
	return reg, nil
}

// Confirm moves a PENDING or WAITLIST registration to CONFIRMED. It refuses
// with ErrRegistrationFull rather than exceed the event's capacity.
func (m *Manager) Confirm(ctx context.Context, id uint) (*models.Registration, error) {
	ctx, span := m.tracer.Start(ctx, "registration.confirm", trace.WithAttributes(attribute.Int("registration.id", int(id))))
	defer span.End()

	var (
		reg   *models.Registration
		event models.Event
	)
	err := m.inRegistrationTx(ctx, id, func(tx store.RegistrationTx, r *models.Registration) error {
		event = *tx.Event()
		if _, err := models.Next(r.Status, models.ActionConfirm); err != nil {
			return fmt.Errorf("confirm registration %d from %s: %w", id, r.Status, err)
		}

		confirmed, err := tx.CountConfirmed()
		if err != nil {
			return err
		}
		if !event.HasAvailableCapacity(confirmed) {
			return fmt.Errorf("event %d: %w", event.ID, ErrRegistrationFull)
		}

		if _, err := m.transition(tx, r, models.ActionConfirm, ReasonConfirmed); err != nil {
			return err
		}
		reg = r
		return nil
	})
	if err != nil {
		return nil, fail(span, err)
	}

	m.record(ctx, reg.Status)
	m.notify(ctx, event, *reg, ReasonConfirmed)
	return reg, nil
}

// Cancellation is the outcome of Cancel.
type Cancellation struct {
	Registration *models.Registration
	// Promoted is the waitlisted registration confirmed into the freed seat,
	// or nil.
	Promoted *models.Registration
}

// Cancel moves a registration to CANCELLED. Cancelling an already cancelled
// registration changes nothing. When a CONFIRMED registration is cancelled
// the earliest waitlisted registration of the event is promoted into the
// freed seat; at most one registration is promoted per cancellation.
func (m *Manager) Cancel(ctx context.Context, id uint) (*Cancellation, error) {
	ctx, span := m.tracer.Start(ctx, "registration.cancel", trace.WithAttributes(attribute.Int("registration.id", int(id))))
	defer span.End()

	var (
		result  Cancellation
		event   models.Event
		changed bool
	)
	err := m.inRegistrationTx(ctx, id, func(tx store.RegistrationTx, r *models.Registration) error {
		event = *tx.Event()
		result.Registration = r
		wasConfirmed := r.Status == models.StatusConfirmed

		var err error
		changed, err = m.transition(tx, r, models.ActionCancel, ReasonCancelled)
		if err != nil || !changed || !wasConfirmed {
			return err
		}

		confirmed, err := tx.CountConfirmed()
		if err != nil {
			return err
		}
		if !event.HasAvailableCapacity(confirmed) {
			return nil
		}

		next, err := tx.EarliestWaitlisted()
		if errors.Is(err, store.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		// Fills the seat this cancellation freed.
		if _, err := m.transition(tx, next, models.ActionConfirm, ReasonPromoted); err != nil {
			return fmt.Errorf("promote registration %d: %w", next.ID, err)
		}
		result.Promoted = next
		return nil
	})
	if err != nil {
		return nil, fail(span, err)
	}

	if changed {
		m.record(ctx, models.StatusCancelled)
		m.notify(ctx, event, *result.Registration, ReasonCancelled)
	}
	if result.Promoted != nil {
		log.Printf("Promoted registration %d from the waitlist of event %d after cancellation of %d",
			result.Promoted.ID, event.ID, id)
		span.SetAttributes(attribute.Int("registration.promoted_id", int(result.Promoted.ID)))
		m.record(ctx, models.StatusConfirmed)
		m.notify(ctx, event, *result.Promoted, ReasonPromoted)
	}
	return &result, nil
}

// PutOnWaitlist moves a PENDING registration to WAITLIST. Registrations in
// any other status are returned unchanged.
func (m *Manager) PutOnWaitlist(ctx context.Context, id uint) (*models.Registration, error) {
	ctx, span := m.tracer.Start(ctx, "registration.waitlist", trace.WithAttributes(attribute.Int("registration.id", int(id))))
	defer span.End()

	var (
		reg     *models.Registration
		event   models.Event
		changed bool
	)
	err := m.inRegistrationTx(ctx, id, func(tx store.RegistrationTx, r *models.Registration) error {
		event = *tx.Event()
		reg = r
		var err error
		changed, err = m.transition(tx, r, models.ActionWaitlist, ReasonWaitlisted)
		return err
	})
	if err != nil {
		return nil, fail(span, err)
	}

	if changed {
		m.record(ctx, reg.Status)
		m.notify(ctx, event, *reg, ReasonWaitlisted)
	}
	return reg, nil
}

// Availability summarises an event's capacity.
type Availability struct {
	EventID   uint  `json:"event_id"`
	Capacity  int   `json:"capacity"`
	Unlimited bool  `json:"unlimited"`
	Confirmed int64 `json:"confirmed"`
	// RemainingSpots is math.MaxInt for unlimited events.
	RemainingSpots int  `json:"remaining_spots"`
	HasCapacity    bool `json:"has_capacity"`
}

func (m *Manager) Availability(ctx context.Context, eventID uint) (*Availability, error) {
	event, err := m.store.EventByID(ctx, eventID)
	if err != nil {
		return nil, fmt.Errorf("event %d: %w", eventID, err)
	}
	confirmed, err := m.store.CountConfirmed(ctx, eventID)
	if err != nil {
		return nil, fmt.Errorf("count confirmed: %w", err)
	}
	return &Availability{
		EventID:        eventID,
		Capacity:       event.Capacity,
		Unlimited:      event.Unlimited(),
		Confirmed:      confirmed,
		RemainingSpots: event.RemainingSpots(confirmed),
		HasCapacity:    event.HasAvailableCapacity(confirmed),
	}, nil
}

func (m *Manager) Get(ctx context.Context, id uint) (*models.Registration, error) {
	reg, err := m.store.RegistrationByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("registration %d: %w", id, err)
	}
	return reg, nil
}

// List returns an event's registrations ordered by registration date.
func (m *Manager) List(ctx context.Context, eventID uint) ([]models.Registration, error) {
	if _, err := m.store.EventByID(ctx, eventID); err != nil {
		return nil, fmt.Errorf("event %d: %w", eventID, err)
	}
	return m.store.ListRegistrations(ctx, eventID)
}

func (m *Manager) History(ctx context.Context, id uint) ([]models.RegistrationHistory, error) {
	if _, err := m.Get(ctx, id); err != nil {
		return nil, err
	}
	return m.store.History(ctx, id)
}

// Remove deletes a registration outright. It is an administrative escape
// hatch: no status transition happens and nobody is promoted.
func (m *Manager) Remove(ctx context.Context, id uint) error {
	if err := m.store.DeleteRegistration(ctx, id); err != nil {
		return fmt.Errorf("registration %d: %w", id, err)
	}
	log.Printf("Registration %d removed administratively", id)
	return nil
}

// inRegistrationTx locks the registration's event, reloads the registration
// under that lock and hands both to fn.
func (m *Manager) inRegistrationTx(ctx context.Context, id uint, fn func(tx store.RegistrationTx, r *models.Registration) error) error {
	current, err := m.store.RegistrationByID(ctx, id)
	if err != nil {
		return fmt.Errorf("registration %d: %w", id, err)
	}
	return m.store.InEventTx(ctx, current.EventID, func(tx store.RegistrationTx) error {
		r, err := tx.Registration(id)
		if err != nil {
			return fmt.Errorf("registration %d: %w", id, err)
		}
		return fn(tx, r)
	})
}

// transition applies action to r and persists the change with a history
// row. It reports whether the status changed.
func (m *Manager) transition(tx store.RegistrationTx, r *models.Registration, action models.RegistrationAction, reason string) (bool, error) {
	from := r.Status
	changed, err := r.Apply(action, m.now())
	if err != nil || !changed {
		return false, err
	}
	if err := tx.SaveRegistration(r); err != nil {
		return false, err
	}
	err = tx.AppendHistory(&models.RegistrationHistory{
		RegistrationID: r.ID,
		EventID:        r.EventID,
		FromStatus:     from,
		ToStatus:       r.Status,
		Reason:         reason,
	})
	return err == nil, err
}

func (m *Manager) record(ctx context.Context, status models.RegistrationStatus) {
	if m.transitions == nil {
		return
	}
	m.transitions.Add(ctx, 1, metric.WithAttributes(attribute.String("status", string(status))))
}

// notify is best-effort: failures are logged and never reach the caller.
func (m *Manager) notify(ctx context.Context, event models.Event, reg models.Registration, reason string) {
	if m.notifier == nil {
		return
	}
	participant, err := m.store.ParticipantByID(ctx, reg.ParticipantID)
	if err != nil {
		log.Printf("Failed to load participant %d for notification: %v", reg.ParticipantID, err)
		return
	}
	if err := m.notifier.NotifyRegistration(event, *participant, reg, reason); err != nil {
		log.Printf("Failed to send registration notification: %v", err)
	}
}

func fail(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}
