package database

import (
	"fmt"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

var postgresDefaultOptions = map[string]string{
	"sslmode": "disable",
}

func openPostgres(cfg Config) (*gorm.DB, error) {
	dsn, err := buildPostgresDSN(cfg)
	if err != nil {
		return nil, err
	}
	return gorm.Open(postgres.Open(dsn), gormConfig())
}

// buildPostgresDSN renders a libpq keyword/value DSN.
func buildPostgresDSN(cfg Config) (string, error) {
	if cfg.DSN != "" {
		return cfg.DSN, nil
	}
	if err := requireCredentials("postgres", cfg); err != nil {
		return "", err
	}

	dsn := fmt.Sprintf("host=%s port=%d user=%s dbname=%s",
		valueOr(cfg.Host, "localhost"), portOr(cfg.Port, 5432), cfg.User, cfg.Name)
	if cfg.Password != "" {
		dsn += " password=" + cfg.Password
	}
	return dsn + " " + encodeOptions(mergeOptions(postgresDefaultOptions, cfg.Options), " "), nil
}
