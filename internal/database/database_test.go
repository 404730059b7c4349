package database

import (
	"testing"

	"github.com/gdg-garage/camp-registration-api/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpen_SQLiteMigrates(t *testing.T) {
	db, err := Open("sqlite", ":memory:")
	require.NoError(t, err)
	require.NoError(t, Migrate(db))

	for _, model := range []any{&models.User{}, &models.Session{}, &models.Event{}, &models.Participant{}, &models.Registration{}, &models.RegistrationHistory{}} {
		assert.True(t, db.Migrator().HasTable(model), "%T", model)
	}
	assert.True(t, db.Migrator().HasIndex(&models.Registration{}, "idx_event_participant"))
}

func TestOpen_UnsupportedDriver(t *testing.T) {
	_, err := Open("mysql", "")
	assert.Error(t, err)
}

func TestSQLiteDSN(t *testing.T) {
	assert.Equal(t, ":memory:", sqliteDSN(":memory:"))
	assert.Equal(t, "camp.db?_txlock=immediate&_busy_timeout=5000&_foreign_keys=on", sqliteDSN("camp.db"))
	assert.Equal(t, "camp.db?cache=shared&_txlock=immediate&_busy_timeout=5000&_foreign_keys=on", sqliteDSN("camp.db?cache=shared"))
}
