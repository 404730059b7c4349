package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestNext(t *testing.T) {
	tests := []struct {
		from    RegistrationStatus
		action  RegistrationAction
		want    RegistrationStatus
		wantErr bool
	}{
		{StatusPending, ActionConfirm, StatusConfirmed, false},
		{StatusWaitlist, ActionConfirm, StatusConfirmed, false},
		{StatusConfirmed, ActionConfirm, StatusConfirmed, true},
		{StatusCancelled, ActionConfirm, StatusCancelled, true},
		{StatusPending, ActionWaitlist, StatusWaitlist, false},
		{StatusWaitlist, ActionWaitlist, StatusWaitlist, false},
		{StatusConfirmed, ActionWaitlist, StatusConfirmed, false},
		{StatusCancelled, ActionWaitlist, StatusCancelled, false},
		{StatusPending, ActionCancel, StatusCancelled, false},
		{StatusConfirmed, ActionCancel, StatusCancelled, false},
		{StatusWaitlist, ActionCancel, StatusCancelled, false},
		{StatusCancelled, ActionCancel, StatusCancelled, false},
		{StatusPending, RegistrationAction("bogus"), StatusPending, true},
	}
	for _, tt := range tests {
		t.Run(string(tt.from)+"/"+string(tt.action), func(t *testing.T) {
			got, err := Next(tt.from, tt.action)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidTransition)
			} else {
				assert.NoError(t, err)
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNext_CancelledIsTerminal(t *testing.T) {
	statuses := []RegistrationStatus{StatusPending, StatusConfirmed, StatusWaitlist, StatusCancelled}
	actions := []RegistrationAction{ActionConfirm, ActionWaitlist, ActionCancel}

	rapid.Check(t, func(t *rapid.T) {
		status := rapid.SampledFrom(statuses).Draw(t, "start")
		seenCancelled := false
		for _, action := range rapid.SliceOf(rapid.SampledFrom(actions)).Draw(t, "actions") {
			next, err := Next(status, action)
			if err == nil {
				status = next
			}
			if status == StatusCancelled {
				seenCancelled = true
			}
			if seenCancelled && status != StatusCancelled {
				t.Fatalf("left CANCELLED via %s", action)
			}
		}
	})
}

func TestRegistrationApply(t *testing.T) {
	at := time.Date(2026, 6, 1, 10, 0, 0, 0, time.UTC)
	r := &Registration{Status: StatusPending}

	changed, err := r.Apply(ActionConfirm, at)
	require.NoError(t, err)
	assert.True(t, changed)
	require.NotNil(t, r.ConfirmationDate)
	assert.Equal(t, at, *r.ConfirmationDate)

	changed, err = r.Apply(ActionWaitlist, at)
	require.NoError(t, err)
	assert.False(t, changed)

	later := at.Add(time.Hour)
	changed, err = r.Apply(ActionCancel, later)
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, later, *r.CancellationDate)

	changed, err = r.Apply(ActionCancel, later.Add(time.Hour))
	require.NoError(t, err)
	assert.False(t, changed)
	assert.Equal(t, later, *r.CancellationDate)
}

func TestEventCapacity(t *testing.T) {
	limited := Event{Capacity: 2}
	assert.True(t, limited.HasAvailableCapacity(1))
	assert.False(t, limited.HasAvailableCapacity(2))
	assert.Equal(t, 1, limited.RemainingSpots(1))
	assert.Equal(t, 0, limited.RemainingSpots(5))

	unlimited := Event{}
	assert.True(t, unlimited.Unlimited())
	assert.True(t, unlimited.HasAvailableCapacity(1_000_000))
}

func TestSessionUsableAt(t *testing.T) {
	now := time.Date(2026, 6, 1, 10, 0, 0, 0, time.UTC)
	s := &Session{ExpiresAt: now.Add(time.Minute)}
	assert.True(t, s.UsableAt(now))
	assert.False(t, s.UsableAt(now.Add(time.Minute)))

	s.User.Locked = true
	assert.False(t, s.UsableAt(now))
}
