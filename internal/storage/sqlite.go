package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	logx "fdroidbot/pkg/logx"

	_ "modernc.org/sqlite"
)

//go:embed migrations.sql
var migrationsFS embed.FS

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (VersionStore, error) {
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, err
	}
	// Single writer; the engine is sequential anyway.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	st := &sqliteStore{db: db, log: log}

	if cfg.BusyTimeout > 0 {
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeout.Milliseconds()))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	// FULL: a recorded version must survive power loss, otherwise the update is announced twice.
	_, _ = db.Exec("PRAGMA synchronous = FULL")

	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Get(ctx context.Context, repoID, pkg string) (int64, bool, error) {
	if s == nil || s.db == nil {
		return 0, false, ErrClosed
	}
	if err := validateKey(repoID, pkg); err != nil {
		return 0, false, err
	}
	var code int64
	err := s.db.QueryRowContext(ctx,
		`SELECT version_code FROM pkg_versions WHERE repo = ? AND package = ?`, repoID, pkg,
	).Scan(&code)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return code, true, nil
}

func (s *sqliteStore) Put(ctx context.Context, repoID, pkg string, code int64) error {
	if s == nil || s.db == nil {
		return ErrClosed
	}
	if err := validateKey(repoID, pkg); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO pkg_versions(repo, package, version_code, updated_at) VALUES(?,?,?,?)
		 ON CONFLICT(repo, package) DO UPDATE SET version_code=excluded.version_code, updated_at=excluded.updated_at`,
		repoID, pkg, code, time.Now().UTC().Format(time.RFC3339Nano),
	)
	return err
}

func (s *sqliteStore) List(ctx context.Context, repoID string) ([]Entry, error) {
	if s == nil || s.db == nil {
		return nil, ErrClosed
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT package, version_code FROM pkg_versions WHERE repo = ? ORDER BY package`, repoID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Entry
	for rows.Next() {
		e := Entry{RepoID: repoID}
		if err := rows.Scan(&e.PackageName, &e.VersionCode); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}
