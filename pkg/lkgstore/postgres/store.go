// Package postgres implements the LKG Store interface (pkg/lkg) against a
// Postgres table: a concrete "persisted last-known-good" backend behind
// pkg/lkg's abstract tryLoad/tryStore contract.
package postgres

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/pressly/goose/v3"

	_ "github.com/jackc/pgx/v5/stdlib" // registers the "pgx" database/sql driver
	_ "github.com/lib/pq"              // registers the "postgres" database/sql driver, kept for DSNs that still name it

	"github.com/flowforge/core/pkg/lkg"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Store persists LKG snapshots to a single Postgres table, keeping only
// history (never deleting); TryLoad always returns the most recently
// accepted row.
type Store struct {
	db *sqlx.DB
}

// Open connects to dsn via the pgx stdlib driver and runs pending
// migrations.
func Open(ctx context.Context, dsn string) (*Store, error) {
	db, err := sqlx.ConnectContext(ctx, "pgx", dsn)
	if err != nil {
		return nil, err
	}
	if err := migrate(db.DB); err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

func migrate(db *sql.DB) error {
	goose.SetBaseFS(migrationsFS)
	if err := goose.SetDialect("postgres"); err != nil {
		return err
	}
	return goose.Up(db, "migrations")
}

// Close releases the underlying connection pool.
func (s *Store) Close() error { return s.db.Close() }

type snapshotRow struct {
	ConfigVersion uint64    `db:"config_version"`
	PatchJSON     []byte    `db:"patch_json"`
	MetaJSON      []byte    `db:"meta_json"`
	AcceptedAt    time.Time `db:"accepted_at"`
}

// TryLoad returns the most recently accepted snapshot, if any.
func (s *Store) TryLoad(ctx context.Context) (*lkg.ConfigSnapshot, bool, error) {
	var row snapshotRow
	err := s.db.GetContext(ctx, &row,
		`SELECT config_version, patch_json, meta_json, accepted_at FROM lkg_snapshots ORDER BY accepted_at DESC LIMIT 1`)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	var meta lkg.SnapshotMeta
	if err := json.Unmarshal(row.MetaJSON, &meta); err != nil {
		return nil, false, err
	}
	return &lkg.ConfigSnapshot{ConfigVersion: row.ConfigVersion, PatchJSON: row.PatchJSON, Meta: meta}, true, nil
}

// TryStore inserts snap as a new row, or updates it in place if the same
// configVersion was somehow already persisted (idempotent retry safety).
func (s *Store) TryStore(ctx context.Context, snap *lkg.ConfigSnapshot) error {
	metaJSON, err := json.Marshal(snap.Meta)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO lkg_snapshots (config_version, patch_json, meta_json, accepted_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (config_version) DO UPDATE SET patch_json = EXCLUDED.patch_json, meta_json = EXCLUDED.meta_json, accepted_at = now()`,
		snap.ConfigVersion, snap.PatchJSON, metaJSON)
	return err
}
