// Package sqlite implements the LKG Store interface (pkg/lkg) against an
// embedded SQLite database, for single-instance deployments that don't want
// a Postgres dependency.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/flowforge/core/pkg/lkg"
)

const schema = `
CREATE TABLE IF NOT EXISTS lkg_snapshots (
	config_version INTEGER PRIMARY KEY,
	patch_json     TEXT NOT NULL,
	meta_json      TEXT NOT NULL,
	accepted_at    DATETIME NOT NULL
);
`

// Store persists LKG snapshots to a local SQLite file (or :memory: for
// tests).
type Store struct {
	db *sql.DB
}

// Open opens (creating if necessary) the SQLite database at path and
// ensures the schema exists.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, err
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error { return s.db.Close() }

// TryLoad returns the most recently accepted snapshot, if any.
func (s *Store) TryLoad(ctx context.Context) (*lkg.ConfigSnapshot, bool, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT config_version, patch_json, meta_json FROM lkg_snapshots ORDER BY accepted_at DESC LIMIT 1`)

	var (
		version  int64
		patchStr string
		metaStr  string
	)
	if err := row.Scan(&version, &patchStr, &metaStr); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, err
	}

	var meta lkg.SnapshotMeta
	if err := json.Unmarshal([]byte(metaStr), &meta); err != nil {
		return nil, false, err
	}
	return &lkg.ConfigSnapshot{ConfigVersion: uint64(version), PatchJSON: []byte(patchStr), Meta: meta}, true, nil
}

// TryStore inserts or replaces snap by its configVersion.
func (s *Store) TryStore(ctx context.Context, snap *lkg.ConfigSnapshot) error {
	metaJSON, err := json.Marshal(snap.Meta)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO lkg_snapshots (config_version, patch_json, meta_json, accepted_at) VALUES (?, ?, ?, ?)`,
		snap.ConfigVersion, string(snap.PatchJSON), string(metaJSON), time.Now())
	return err
}
