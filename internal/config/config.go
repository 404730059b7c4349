package config

import (
	"errors"
	"log"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Port                          string        `mapstructure:"PORT"`
	DatabaseDriver                string        `mapstructure:"DATABASE_DRIVER"`
	DatabasePath                  string        `mapstructure:"DATABASE_PATH"`
	DatabaseURL                   string        `mapstructure:"DATABASE_URL"`
	JWTSecret                     string        `mapstructure:"JWT_SECRET"`
	SecureCookies                 bool          `mapstructure:"SECURE_COOKIES"`
	SessionTimeout                time.Duration `mapstructure:"SESSION_TIMEOUT"`
	SessionCleanupInterval        time.Duration `mapstructure:"SESSION_CLEANUP_INTERVAL"`
	MaxFailedLogins               int           `mapstructure:"MAX_FAILED_LOGINS"`
	LoginRatePerMinute            int           `mapstructure:"LOGIN_RATE_PER_MINUTE"`
	BcryptCost                    int           `mapstructure:"BCRYPT_COST"`
	MinPasswordLength             int           `mapstructure:"MIN_PASSWORD_LENGTH"`
	DiscordClientID               string        `mapstructure:"DISCORD_CLIENT_ID"`
	DiscordClientSecret           string        `mapstructure:"DISCORD_CLIENT_SECRET"`
	DiscordRedirectURL            string        `mapstructure:"DISCORD_REDIRECT_URL"`
	DiscordGuildID                string        `mapstructure:"DISCORD_GUILD_ID"`
	DiscordBotToken               string        `mapstructure:"DISCORD_BOT_TOKEN"`
	DiscordNotificationsChannelID string        `mapstructure:"DISCORD_NOTIFICATIONS_CHANNEL_ID"`
	BootstrapAdminEmail           string        `mapstructure:"BOOTSTRAP_ADMIN_EMAIL"`
	OTLPEndpoint                  string        `mapstructure:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	ServiceName                   string        `mapstructure:"OTEL_SERVICE_NAME"`
	DevMode                       bool          `mapstructure:"DEV_MODE"`
}

var ErrMissingJWTSecret = errors.New("JWT_SECRET is not set")

// Validate rejects settings the server must not start with. DevMode allows
// an empty JWT_SECRET for local runs.
func (c *Config) Validate() error {
	if c.JWTSecret == "" && !c.DevMode {
		return ErrMissingJWTSecret
	}
	return nil
}

func LoadConfig() *Config {
	v := viper.New()

	v.SetDefault("PORT", "8080")
	v.SetDefault("DATABASE_DRIVER", "sqlite")
	v.SetDefault("DATABASE_PATH", "camp.db")
	v.SetDefault("SESSION_TIMEOUT", 30*time.Minute)
	v.SetDefault("SESSION_CLEANUP_INTERVAL", 5*time.Minute)
	v.SetDefault("MAX_FAILED_LOGINS", 5)
	v.SetDefault("LOGIN_RATE_PER_MINUTE", 10)
	v.SetDefault("BCRYPT_COST", 12)
	v.SetDefault("MIN_PASSWORD_LENGTH", 8)
	v.SetDefault("DISCORD_REDIRECT_URL", "http://127.0.0.1:8080/auth/discord/callback")
	v.SetDefault("OTEL_SERVICE_NAME", "camp-registration-api")

	v.BindEnv("DATABASE_URL")
	v.BindEnv("JWT_SECRET")
	v.BindEnv("SECURE_COOKIES")
	v.BindEnv("DISCORD_CLIENT_ID")
	v.BindEnv("DISCORD_CLIENT_SECRET")
	v.BindEnv("DISCORD_GUILD_ID")
	v.BindEnv("DISCORD_BOT_TOKEN")
	v.BindEnv("DISCORD_NOTIFICATIONS_CHANNEL_ID")
	v.BindEnv("BOOTSTRAP_ADMIN_EMAIL")
	v.BindEnv("OTEL_EXPORTER_OTLP_ENDPOINT")
	v.BindEnv("DEV_MODE")

	v.AutomaticEnv()

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		log.Fatalf("Unable to decode into struct, %v", err)
	}

	if err := config.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v (set DEV_MODE=true to run without it)", err)
	}
	if config.JWTSecret == "" {
		log.Printf("DEV_MODE: session cookies are signed with an empty key")
	}

	return &config
}
