package fmsketch

import (
	"context"
	"database/sql"

	"github.com/pkg/errors"
)

const createPartialsTable = `
CREATE TABLE IF NOT EXISTS fmsketch_partials (
	state_key  TEXT PRIMARY KEY,
	mode       TEXT NOT NULL,
	state      BLOB NOT NULL,
	updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
)`

// SQLPartialStore keeps partial states in the fmsketch_partials table of
// a SQLite database opened with the modernc.org/sqlite driver
type SQLPartialStore struct {
	db *sql.DB
}

// NewSQLPartialStore creates a store on top of _db_. Call EnsureTables
// once before using it on a fresh database.
func NewSQLPartialStore(db *sql.DB) *SQLPartialStore {
	return &SQLPartialStore{db: db}
}

// EnsureTables creates the fmsketch_partials table if it doesn't exist
func (s *SQLPartialStore) EnsureTables(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, createPartialsTable); err != nil {
		return errors.Wrap(err, "fmsketch: error creating partials table")
	}
	return nil
}

func (s *SQLPartialStore) Save(ctx context.Context, key string, state *FMSketch) error {
	data, err := state.MarshalBinary()
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO fmsketch_partials (state_key, mode, state, updated_at)
		VALUES (?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT (state_key) DO UPDATE SET
			mode = excluded.mode,
			state = excluded.state,
			updated_at = CURRENT_TIMESTAMP`,
		key, state.Mode().String(), data)
	if err != nil {
		return errors.Wrapf(err, "fmsketch: error saving partial state %s", key)
	}
	return nil
}

func (s *SQLPartialStore) Load(ctx context.Context, key string) (*FMSketch, error) {
	var data []byte
	err := s.db.QueryRowContext(ctx, `SELECT state FROM fmsketch_partials WHERE state_key = ?`, key).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, errors.Wrapf(ErrStateNotFound, "key %s", key)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "fmsketch: error loading partial state %s", key)
	}
	return decodePartial(key, data)
}

func (s *SQLPartialStore) Delete(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM fmsketch_partials WHERE state_key = ?`, key); err != nil {
		return errors.Wrapf(err, "fmsketch: error deleting partial state %s", key)
	}
	return nil
}

func (s *SQLPartialStore) MergeKeys(ctx context.Context, keys ...string) (*FMSketch, error) {
	return loadAndMerge(ctx, s, keys)
}

// Modes returns the mode recorded for every stored state
func (s *SQLPartialStore) Modes(ctx context.Context) (map[string]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT state_key, mode FROM fmsketch_partials`)
	if err != nil {
		return nil, errors.Wrap(err, "fmsketch: error listing partial states")
	}
	defer rows.Close()
	modes := make(map[string]string)
	for rows.Next() {
		var key, mode string
		if err := rows.Scan(&key, &mode); err != nil {
			return nil, errors.Wrap(err, "fmsketch: error listing partial states")
		}
		modes[key] = mode
	}
	return modes, errors.Wrap(rows.Err(), "fmsketch: error listing partial states")
}
