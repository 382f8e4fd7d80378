package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"

	logx "fdroidbot/pkg/logx"
)

// Open initializes the configured store.
func Open(cfg Config, log logx.Logger) (VersionStore, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if log.IsZero() {
		log = logx.Nop()
	}
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("storage path is required")
	}

	switch driver {
	case "", "file":
		return openFile(cfg, log)
	case "bolt", "bbolt":
		return openBolt(cfg, log)
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	default:
		return nil, errors.New("unknown storage driver: " + driver)
	}
}

// validateKey rejects ids that could escape the file layout or collide with
// temp files. Package ids are Java package names and repo ids are config keys,
// so neither legitimately contains these.
func validateKey(repoID, pkg string) error {
	for _, k := range []string{repoID, pkg} {
		if k == "" || k == "." || k == ".." || strings.ContainsAny(k, "/\\\x00") || strings.HasPrefix(k, ".") {
			return fmt.Errorf("%w: %q/%q", ErrInvalid, repoID, pkg)
		}
	}
	return nil
}

type dryRun struct {
	VersionStore
	log logx.Logger
}

// DryRun wraps s so that Put is a no-op. Reads still hit s.
func DryRun(s VersionStore, log logx.Logger) VersionStore {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &dryRun{VersionStore: s, log: log}
}

func (d *dryRun) Put(ctx context.Context, repoID, pkg string, code int64) error {
	_ = ctx
	d.log.Debug("dry run: not storing version", logx.String("repo", repoID), logx.String("pkg", pkg), logx.Int64("code", code))
	return nil
}
