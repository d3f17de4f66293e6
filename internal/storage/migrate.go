package storage

import (
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/rs/zerolog/log"
)

// RunMigrations brings the master schema up to date from the SQL files in
// migrationsDir. Per-user partition schemas are not handled here; see
// PostgresPartitions.Provision.
func RunMigrations(dbURL, migrationsDir string) error {
	m, err := migrate.New("file://"+migrationsDir, dbURL)
	if err != nil {
		return fmt.Errorf("opening migration source: %w", err)
	}
	defer m.Close()

	if err := m.Up(); err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			log.Debug().Msg("master schema already up to date")
			return nil
		}
		return fmt.Errorf("applying master schema migrations: %w", err)
	}
	version, dirty, err := m.Version()
	if err != nil {
		return fmt.Errorf("reading schema version: %w", err)
	}
	log.Info().Uint("version", version).Bool("dirty", dirty).Msg("master schema migrated")
	return nil
}
