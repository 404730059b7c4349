package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoadConfig_Defaults(t *testing.T) {
	t.Setenv("JWT_SECRET", "s3cret")
	cfg := LoadConfig()

	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, "sqlite", cfg.DatabaseDriver)
	assert.Equal(t, 30*time.Minute, cfg.SessionTimeout)
	assert.Equal(t, 5*time.Minute, cfg.SessionCleanupInterval)
	assert.Equal(t, 5, cfg.MaxFailedLogins)
	assert.Equal(t, 10, cfg.LoginRatePerMinute)
	assert.Equal(t, 12, cfg.BcryptCost)
	assert.Equal(t, 8, cfg.MinPasswordLength)
	assert.Equal(t, "camp-registration-api", cfg.ServiceName)
	assert.False(t, cfg.DevMode)
}

func TestLoadConfig_Env(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("DATABASE_DRIVER", "postgres")
	t.Setenv("DATABASE_URL", "postgres://camp@localhost/camp")
	t.Setenv("SESSION_TIMEOUT", "45m")
	t.Setenv("MAX_FAILED_LOGINS", "3")
	t.Setenv("SECURE_COOKIES", "true")
	t.Setenv("JWT_SECRET", "s3cret")

	cfg := LoadConfig()

	assert.Equal(t, "9090", cfg.Port)
	assert.Equal(t, "postgres", cfg.DatabaseDriver)
	assert.Equal(t, "postgres://camp@localhost/camp", cfg.DatabaseURL)
	assert.Equal(t, 45*time.Minute, cfg.SessionTimeout)
	assert.Equal(t, 3, cfg.MaxFailedLogins)
	assert.True(t, cfg.SecureCookies)
	assert.Equal(t, "s3cret", cfg.JWTSecret)
}

func TestLoadConfig_DevModeAllowsEmptySecret(t *testing.T) {
	t.Setenv("JWT_SECRET", "")
	t.Setenv("DEV_MODE", "true")

	cfg := LoadConfig()

	assert.True(t, cfg.DevMode)
	assert.Empty(t, cfg.JWTSecret)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr error
	}{
		{name: "secret set", cfg: Config{JWTSecret: "s3cret"}},
		{name: "missing secret", cfg: Config{}, wantErr: ErrMissingJWTSecret},
		{name: "missing secret in dev mode", cfg: Config{DevMode: true}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}
