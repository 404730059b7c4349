package registration

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/gdg-garage/camp-registration-api/internal/database"
	"github.com/gdg-garage/camp-registration-api/internal/models"
	"github.com/gdg-garage/camp-registration-api/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

type notification struct {
	registrationID uint
	status         models.RegistrationStatus
	reason         string
}

type recordingNotifier struct {
	mu   sync.Mutex
	sent []notification
	err  error
}

func (n *recordingNotifier) NotifyRegistration(event models.Event, participant models.Participant, registration models.Registration, reason string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, notification{registration.ID, registration.Status, reason})
	return n.err
}

func (n *recordingNotifier) NotifyAccount(models.User, string) error { return nil }

type steppingClock struct {
	mu  sync.Mutex
	now time.Time
}

// Now returns a strictly increasing time on every call.
func (c *steppingClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Second)
	return c.now
}

type tb interface {
	require.TestingT
	Helper()
}

type fixture struct {
	manager  *Manager
	db       *store.DB
	notifier *recordingNotifier
	event    *models.Event
}

func newFixture(t tb, capacity int) *fixture {
	t.Helper()
	gdb, err := database.Open("sqlite", ":memory:")
	require.NoError(t, err)
	require.NoError(t, database.Migrate(gdb))

	db := store.New(gdb)
	n := &recordingNotifier{}
	clock := &steppingClock{now: time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC)}
	m := NewManager(db, WithNotifier(n), WithClock(clock.Now))

	event := &models.Event{Name: "Summer Camp", Slug: "summer-camp", Capacity: capacity, Active: true}
	require.NoError(t, db.CreateEvent(context.Background(), event))

	return &fixture{manager: m, db: db, notifier: n, event: event}
}

func (f *fixture) participant(t tb, name string) uint {
	t.Helper()
	p := &models.Participant{FirstName: name, LastName: "Scout"}
	require.NoError(t, f.db.CreateParticipant(context.Background(), p))
	return p.ID
}

func (f *fixture) register(t tb, name string) *models.Registration {
	t.Helper()
	reg, err := f.manager.Create(context.Background(), f.event.ID, f.participant(t, name))
	require.NoError(t, err)
	return reg
}

func (f *fixture) confirmed(t tb) int64 {
	t.Helper()
	n, err := f.db.CountConfirmed(context.Background(), f.event.ID)
	require.NoError(t, err)
	return n
}

func TestCreate(t *testing.T) {
	f := newFixture(t, 10)
	ctx := context.Background()

	reg := f.register(t, "Alice")
	assert.Equal(t, models.StatusPending, reg.Status)
	assert.False(t, reg.RegistrationDate.IsZero())
	assert.Nil(t, reg.ConfirmationDate)

	history, err := f.manager.History(ctx, reg.ID)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, models.StatusPending, history[0].ToStatus)
	assert.Equal(t, ReasonCreated, history[0].Reason)

	existing, err := f.manager.Create(ctx, f.event.ID, reg.ParticipantID)
	require.ErrorIs(t, err, ErrDuplicateRegistration)
	require.NotNil(t, existing)
	assert.Equal(t, reg.ID, existing.ID)

	_, err = f.manager.Create(ctx, 9999, reg.ParticipantID)
	require.ErrorIs(t, err, ErrNotFound)
	assert.Contains(t, err.Error(), "event")

	_, err = f.manager.Create(ctx, f.event.ID, 9999)
	require.ErrorIs(t, err, ErrNotFound)
	assert.Contains(t, err.Error(), "participant")
}

func TestCreate_DuplicateEvenAfterCancel(t *testing.T) {
	f := newFixture(t, 10)
	ctx := context.Background()

	reg := f.register(t, "Alice")
	_, err := f.manager.Cancel(ctx, reg.ID)
	require.NoError(t, err)

	_, err = f.manager.Create(ctx, f.event.ID, reg.ParticipantID)
	require.ErrorIs(t, err, ErrDuplicateRegistration)
}

func TestConfirm(t *testing.T) {
	f := newFixture(t, 10)
	ctx := context.Background()

	reg := f.register(t, "Alice")
	confirmed, err := f.manager.Confirm(ctx, reg.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusConfirmed, confirmed.Status)
	require.NotNil(t, confirmed.ConfirmationDate)
	assert.EqualValues(t, 1, f.confirmed(t))

	_, err = f.manager.Confirm(ctx, reg.ID)
	require.ErrorIs(t, err, models.ErrInvalidTransition)

	_, err = f.manager.Confirm(ctx, 9999)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestWaitlistPromotionScenario(t *testing.T) {
	f := newFixture(t, 2)
	ctx := context.Background()

	a := f.register(t, "A")
	b := f.register(t, "B")
	_, err := f.manager.Confirm(ctx, a.ID)
	require.NoError(t, err)
	_, err = f.manager.Confirm(ctx, b.ID)
	require.NoError(t, err)

	c, err := f.manager.Create(ctx, f.event.ID, f.participant(t, "C"))
	require.ErrorIs(t, err, ErrRegistrationFull)
	require.NotNil(t, c, "the pending registration is kept so it can be waitlisted")
	assert.Equal(t, models.StatusPending, c.Status)

	_, err = f.manager.Confirm(ctx, c.ID)
	require.ErrorIs(t, err, ErrRegistrationFull)

	c, err = f.manager.PutOnWaitlist(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusWaitlist, c.Status)

	res, err := f.manager.Cancel(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCancelled, res.Registration.Status)
	require.NotNil(t, res.Registration.CancellationDate)
	require.NotNil(t, res.Promoted)
	assert.Equal(t, c.ID, res.Promoted.ID)
	assert.Equal(t, models.StatusConfirmed, res.Promoted.Status)

	got, err := f.manager.Get(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusConfirmed, got.Status)
	assert.EqualValues(t, 2, f.confirmed(t))

	history, err := f.manager.History(ctx, c.ID)
	require.NoError(t, err)
	require.Len(t, history, 3)
	assert.Equal(t, ReasonPromoted, history[2].Reason)
	assert.Equal(t, models.StatusWaitlist, history[2].FromStatus)

	var reasons []string
	for _, n := range f.notifier.sent {
		reasons = append(reasons, n.reason)
	}
	assert.Equal(t, []string{
		ReasonCreated, ReasonCreated, ReasonConfirmed, ReasonConfirmed,
		ReasonCreated, ReasonWaitlisted, ReasonCancelled, ReasonPromoted,
	}, reasons)
}

func TestCancel_PromotesEarliestWaitlisted(t *testing.T) {
	f := newFixture(t, 1)
	ctx := context.Background()

	a := f.register(t, "A")
	_, err := f.manager.Confirm(ctx, a.ID)
	require.NoError(t, err)

	var waitlisted []uint
	for _, name := range []string{"B", "C", "D"} {
		reg, err := f.manager.Create(ctx, f.event.ID, f.participant(t, name))
		require.ErrorIs(t, err, ErrRegistrationFull)
		_, err = f.manager.PutOnWaitlist(ctx, reg.ID)
		require.NoError(t, err)
		waitlisted = append(waitlisted, reg.ID)
	}

	res, err := f.manager.Cancel(ctx, a.ID)
	require.NoError(t, err)
	require.NotNil(t, res.Promoted)
	assert.Equal(t, waitlisted[0], res.Promoted.ID)

	regs, err := f.manager.List(ctx, f.event.ID)
	require.NoError(t, err)
	statuses := map[uint]models.RegistrationStatus{}
	for _, r := range regs {
		statuses[r.ID] = r.Status
	}
	assert.Equal(t, models.StatusWaitlist, statuses[waitlisted[1]], "only one promotion per cancellation")
	assert.Equal(t, models.StatusWaitlist, statuses[waitlisted[2]])
}

func TestCancel_TieBreakByID(t *testing.T) {
	f := newFixture(t, 1)
	ctx := context.Background()

	a := f.register(t, "A")
	_, err := f.manager.Confirm(ctx, a.ID)
	require.NoError(t, err)

	// Two waitlisted registrations with the same registration date.
	same := time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC)
	pids := []uint{f.participant(t, "Twin1"), f.participant(t, "Twin2")}
	var ids []uint
	require.NoError(t, f.db.InEventTx(ctx, f.event.ID, func(tx store.RegistrationTx) error {
		for _, pid := range pids {
			r := &models.Registration{EventID: f.event.ID, ParticipantID: pid, Status: models.StatusWaitlist, RegistrationDate: same}
			if err := tx.CreateRegistration(r); err != nil {
				return err
			}
			ids = append(ids, r.ID)
		}
		return nil
	}))
	require.Less(t, ids[0], ids[1])

	res, err := f.manager.Cancel(ctx, a.ID)
	require.NoError(t, err)
	require.NotNil(t, res.Promoted)
	assert.Equal(t, ids[0], res.Promoted.ID)
}

func TestCancel_Idempotent(t *testing.T) {
	f := newFixture(t, 1)
	ctx := context.Background()

	a := f.register(t, "A")
	_, err := f.manager.Confirm(ctx, a.ID)
	require.NoError(t, err)

	first, err := f.manager.Cancel(ctx, a.ID)
	require.NoError(t, err)
	sentAfterFirst := len(f.notifier.sent)

	second, err := f.manager.Cancel(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCancelled, second.Registration.Status)
	assert.Nil(t, second.Promoted)
	assert.True(t, first.Registration.CancellationDate.Equal(*second.Registration.CancellationDate))
	assert.Len(t, f.notifier.sent, sentAfterFirst)

	history, err := f.manager.History(ctx, a.ID)
	require.NoError(t, err)
	assert.Len(t, history, 3)

	_, err = f.manager.Confirm(ctx, a.ID)
	require.ErrorIs(t, err, models.ErrInvalidTransition)
}

func TestCancel_PendingDoesNotPromote(t *testing.T) {
	f := newFixture(t, 1)
	ctx := context.Background()

	a := f.register(t, "A")
	_, err := f.manager.Confirm(ctx, a.ID)
	require.NoError(t, err)
	b, err := f.manager.Create(ctx, f.event.ID, f.participant(t, "B"))
	require.ErrorIs(t, err, ErrRegistrationFull)
	c, err := f.manager.Create(ctx, f.event.ID, f.participant(t, "C"))
	require.ErrorIs(t, err, ErrRegistrationFull)
	_, err = f.manager.PutOnWaitlist(ctx, c.ID)
	require.NoError(t, err)

	res, err := f.manager.Cancel(ctx, b.ID)
	require.NoError(t, err)
	assert.Nil(t, res.Promoted)
	assert.EqualValues(t, 1, f.confirmed(t))
}

func TestPutOnWaitlist_NoOpOutsidePending(t *testing.T) {
	f := newFixture(t, 5)
	ctx := context.Background()

	a := f.register(t, "A")
	_, err := f.manager.Confirm(ctx, a.ID)
	require.NoError(t, err)

	got, err := f.manager.PutOnWaitlist(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusConfirmed, got.Status)

	b := f.register(t, "B")
	_, err = f.manager.PutOnWaitlist(ctx, b.ID)
	require.NoError(t, err)
	got, err = f.manager.PutOnWaitlist(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusWaitlist, got.Status)

	history, err := f.manager.History(ctx, b.ID)
	require.NoError(t, err)
	assert.Len(t, history, 2)

	_, err = f.manager.PutOnWaitlist(ctx, 9999)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestUnlimitedCapacity(t *testing.T) {
	f := newFixture(t, 0)
	ctx := context.Background()

	for i := 0; i < 25; i++ {
		reg := f.register(t, fmt.Sprintf("P%d", i))
		_, err := f.manager.Confirm(ctx, reg.ID)
		require.NoError(t, err)
	}

	avail, err := f.manager.Availability(ctx, f.event.ID)
	require.NoError(t, err)
	assert.True(t, avail.Unlimited)
	assert.True(t, avail.HasCapacity)
	assert.EqualValues(t, 25, avail.Confirmed)
	assert.Greater(t, avail.RemainingSpots, 1_000_000)
}

func TestAvailability(t *testing.T) {
	f := newFixture(t, 3)
	ctx := context.Background()

	for _, name := range []string{"A", "B"} {
		reg := f.register(t, name)
		_, err := f.manager.Confirm(ctx, reg.ID)
		require.NoError(t, err)
	}
	f.register(t, "Pending")

	avail, err := f.manager.Availability(ctx, f.event.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, avail.Capacity)
	assert.EqualValues(t, 2, avail.Confirmed)
	assert.Equal(t, 1, avail.RemainingSpots)
	assert.True(t, avail.HasCapacity)

	_, err = f.manager.Availability(ctx, 9999)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestConcurrentConfirmsNeverExceedCapacity(t *testing.T) {
	const capacity = 3
	f := newFixture(t, capacity)
	ctx := context.Background()

	var ids []uint
	for i := 0; i < 12; i++ {
		ids = append(ids, f.register(t, fmt.Sprintf("P%d", i)).ID)
	}

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
		full      int
	)
	for _, id := range ids {
		wg.Add(1)
		go func(id uint) {
			defer wg.Done()
			_, err := f.manager.Confirm(ctx, id)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				succeeded++
			case errors.Is(err, ErrRegistrationFull):
				full++
			default:
				t.Errorf("confirm %d: %v", id, err)
			}
		}(id)
	}
	wg.Wait()

	assert.Equal(t, capacity, succeeded)
	assert.Equal(t, len(ids)-capacity, full)
	assert.EqualValues(t, capacity, f.confirmed(t))
}

func TestNotificationFailureDoesNotFailOperation(t *testing.T) {
	f := newFixture(t, 1)
	f.notifier.err = errors.New("discord is down")

	reg := f.register(t, "A")
	_, err := f.manager.Confirm(context.Background(), reg.ID)
	require.NoError(t, err)
}

func TestRemove(t *testing.T) {
	f := newFixture(t, 1)
	ctx := context.Background()

	reg := f.register(t, "A")
	require.NoError(t, f.manager.Remove(ctx, reg.ID))

	_, err := f.manager.Get(ctx, reg.ID)
	require.ErrorIs(t, err, ErrNotFound)
	require.ErrorIs(t, f.manager.Remove(ctx, reg.ID), ErrNotFound)

	// The participant may register again once removed.
	_, err = f.manager.Create(ctx, f.event.ID, reg.ParticipantID)
	require.NoError(t, err)
}

func TestTransitionsCounted(t *testing.T) {
	f := newFixture(t, 1)
	ctx := context.Background()

	reader := sdkmetric.NewManualReader()
	m := NewManager(f.db, WithMeterProvider(sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))))

	first := f.participant(t, "Ada")
	second := f.participant(t, "Grace")

	reg, err := m.Create(ctx, f.event.ID, first)
	require.NoError(t, err)
	_, err = m.Confirm(ctx, reg.ID)
	require.NoError(t, err)
	waiting, err := m.Create(ctx, f.event.ID, second)
	require.ErrorIs(t, err, ErrRegistrationFull)
	_, err = m.PutOnWaitlist(ctx, waiting.ID)
	require.NoError(t, err)
	_, err = m.Cancel(ctx, reg.ID)
	require.NoError(t, err)

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(ctx, &rm))

	got := map[string]int64{}
	for _, sm := range rm.ScopeMetrics {
		for _, mt := range sm.Metrics {
			if mt.Name != "registration.transitions" {
				continue
			}
			sum, ok := mt.Data.(metricdata.Sum[int64])
			require.True(t, ok, "unexpected data type %T", mt.Data)
			for _, dp := range sum.DataPoints {
				status, _ := dp.Attributes.Value(attribute.Key("status"))
				got[status.AsString()] = dp.Value
			}
		}
	}
	assert.Equal(t, map[string]int64{
		string(models.StatusPending):   2,
		string(models.StatusConfirmed): 2,
		string(models.StatusWaitlist):  1,
		string(models.StatusCancelled): 1,
	}, got)
}
