package storage

import (
	"context"
	"errors"
	"time"
)

var (
	ErrClosed  = errors.New("storage closed")
	ErrInvalid = errors.New("invalid store key")
)

// Config configures storage.
//
// Driver values: "file" (default), "bolt", "sqlite".
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// VersionStore is the "last notified version" ledger.
//
// Get reports ok=false for a package that was never recorded; that is not an error.
// Put overwrites any previous value and must leave the previous value intact if
// the process dies mid-write.
type VersionStore interface {
	Get(ctx context.Context, repoID, pkg string) (code int64, ok bool, err error)
	Put(ctx context.Context, repoID, pkg string, code int64) error
	Close() error
}

// Entry is one recorded version, as returned by List.
type Entry struct {
	RepoID      string
	PackageName string
	VersionCode int64
}

// Lister is implemented by stores that can enumerate their records.
type Lister interface {
	List(ctx context.Context, repoID string) ([]Entry, error)
}
