package reldb

import (
	"embed"
	stderrors "errors"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/pkg/errors"
)

// migrationsFS embeds the versioned schema migrations, mirroring the teacher's own
// `_ "github.com/golang-migrate/migrate/v4/source/file"` main.go wiring except reading from a
// compiled-in filesystem rather than a path on disk, so a single binary carries its own schema.
//
//go:embed migrations/*.sql
var migrationsFS embed.FS

// Migrate applies every pending up migration against dsn (a postgres:// URL). Safe to call on
// every process start: golang-migrate no-ops when the schema is already current.
func Migrate(dsn string) error {
	source, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return errors.Wrap(err, "loading embedded migrations")
	}

	m, err := migrate.NewWithSourceInstance("iofs", source, dsn)
	if err != nil {
		return errors.Wrap(err, "constructing migrator")
	}
	defer m.Close()

	if err := m.Up(); err != nil && !stderrors.Is(err, migrate.ErrNoChange) {
		return errors.Wrap(err, "applying migrations")
	}
	return nil
}
