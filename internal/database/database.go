package database

import (
	"fmt"
	"log"
	"strings"

	"github.com/gdg-garage/camp-registration-api/internal/config"
	"github.com/gdg-garage/camp-registration-api/internal/models"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func Connect(cfg *config.Config) *gorm.DB {
	dsn := cfg.DatabasePath
	if cfg.DatabaseDriver == "postgres" {
		dsn = cfg.DatabaseURL
	}

	db, err := Open(cfg.DatabaseDriver, dsn)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}

	if err := Migrate(db); err != nil {
		log.Fatalf("Failed to auto migrate: %v", err)
	}

	return db
}

// Open connects to driver ("sqlite" or "postgres") without migrating.
func Open(driver, dsn string) (*gorm.DB, error) {
	gormCfg := &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Warn),
	}

	switch driver {
	case "", "sqlite":
		db, err := gorm.Open(sqlite.Open(sqliteDSN(dsn)), gormCfg)
		if err != nil {
			return nil, err
		}
		sqlDB, err := db.DB()
		if err != nil {
			return nil, err
		}
		// A single connection makes every transaction the only writer, which
		// is the isolation capacity checks rely on.
		sqlDB.SetMaxOpenConns(1)
		return db, nil
	case "postgres":
		return gorm.Open(postgres.Open(dsn), gormCfg)
	}
	return nil, fmt.Errorf("unsupported database driver %q", driver)
}

func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&models.User{},
		&models.Session{},
		&models.Event{},
		&models.Participant{},
		&models.Registration{},
		&models.RegistrationHistory{},
	)
}

func sqliteDSN(path string) string {
	if path == ":memory:" {
		return path
	}
	params := "_txlock=immediate&_busy_timeout=5000&_foreign_keys=on"
	if strings.Contains(path, "?") {
		return path + "&" + params
	}
	return path + "?" + params
}
