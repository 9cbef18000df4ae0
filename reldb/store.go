// Package reldb implements the durable relational store (§4.4/§4.5/§4.6/§3's "durable store")
// against PostgreSQL, satisfying ceremony.CeremonyStore, ceremony.AuxInfoStore, fsm.Store,
// fsm.VotingStore, presig.Store, and vote.Store/vote.RoundStore/vote.TransactionReader all
// through one connection. Grounded on the teacher's apiserver/kasparov packages (which persist
// blocks and transactions the same way: jinzhu/gorm models with a package-level Connect/Close)
// and on original_source's storage/src/postgres.rs for the table-per-concern shape.
package reldb

import (
	"github.com/jinzhu/gorm"
	_ "github.com/jinzhu/gorm/dialects/postgres"
	"github.com/mpcwallet/orchestrator/logs"
	"github.com/pkg/errors"
)

var log, _ = logs.Get("STOR")

// Store wraps a gorm connection. Every interface implementation in this package is a method on
// *Store, the same "one connection object, many receiver files split by concern" shape the
// teacher's apiserver uses (controllers/*.go all calling database.DB()).
type Store struct {
	db *gorm.DB
}

// Open connects to postgres at dsn and applies any pending migrations before returning, so a
// freshly provisioned database is immediately usable.
func Open(dsn string) (*Store, error) {
	if err := Migrate(dsn); err != nil {
		return nil, errors.Wrap(err, "reldb: migrating schema")
	}

	db, err := gorm.Open("postgres", dsn)
	if err != nil {
		return nil, errors.Wrap(err, "reldb: connecting to postgres")
	}
	db.LogMode(false)

	return &Store{db: db}, nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}

// isNotFound reports whether result represents gorm's RecordNotFound condition and no other
// error, matching the teacher's apiserver/utils.HasDBRecordNotFoundError idiom.
func isNotFound(result *gorm.DB) bool {
	return result.RecordNotFound() && len(result.GetErrors()) == 1
}

// dbErr reports the first non-RecordNotFound error on result, or nil.
func dbErr(result *gorm.DB) error {
	if isNotFound(result) || len(result.GetErrors()) == 0 {
		return nil
	}
	return result.Error
}
