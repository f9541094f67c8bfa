package migrations

import (
	"errors"
	"fmt"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/pgx/v5" // registers pgx5://
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

// RunPostgresMigrations applies all pending embedded migrations to dsn.
// Already-applied migrations are skipped.
func RunPostgresMigrations(dsn string) error {
	m, err := newPostgresMigrate(dsn)
	if err != nil {
		return err
	}
	defer closeMigrate(m)

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("apply postgres migrations: %w", err)
	}
	return nil
}

// DropPostgresMigrations reverts every embedded migration.
func DropPostgresMigrations(dsn string) error {
	m, err := newPostgresMigrate(dsn)
	if err != nil {
		return err
	}
	defer closeMigrate(m)

	if err := m.Down(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("revert postgres migrations: %w", err)
	}
	return nil
}

func newPostgresMigrate(dsn string) (*migrate.Migrate, error) {
	src, err := iofs.New(PostgresFS, "postgres")
	if err != nil {
		return nil, fmt.Errorf("read embedded postgres migrations: %w", err)
	}
	m, err := migrate.NewWithSourceInstance("iofs", src, pgx5URL(dsn))
	if err != nil {
		return nil, fmt.Errorf("open postgres migrator: %w", err)
	}
	return m, nil
}

// pgx5URL rewrites a postgres:// DSN to the scheme of the pgx/v5 migrate driver.
func pgx5URL(dsn string) string {
	for _, scheme := range []string{"postgresql://", "postgres://"} {
		if strings.HasPrefix(dsn, scheme) {
			return "pgx5://" + strings.TrimPrefix(dsn, scheme)
		}
	}
	return dsn
}

func closeMigrate(m *migrate.Migrate) {
	_, _ = m.Close()
}
