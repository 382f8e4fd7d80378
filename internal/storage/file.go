package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"

	logx "fdroidbot/pkg/logx"
)

// fileStore keeps one file per package holding the decimal version code:
//
//	<root>/<repo id>/<package id>
//
// Writes go to a temp file in the same directory which is synced and renamed
// over the target, so a crash leaves either the old or the new value.
type fileStore struct {
	log  logx.Logger
	root string

	mu     sync.Mutex
	closed bool
}

func openFile(cfg Config, log logx.Logger) (VersionStore, error) {
	root := filepath.Clean(cfg.Path)
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, err
	}
	return &fileStore{log: log, root: root}, nil
}

func (s *fileStore) path(repoID, pkg string) string {
	return filepath.Join(s.root, repoID, pkg)
}

func (s *fileStore) Get(ctx context.Context, repoID, pkg string) (int64, bool, error) {
	_ = ctx
	if err := validateKey(repoID, pkg); err != nil {
		return 0, false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, false, ErrClosed
	}

	b, err := os.ReadFile(s.path(repoID, pkg))
	if errors.Is(err, os.ErrNotExist) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	code, err := strconv.ParseInt(strings.TrimSpace(string(b)), 10, 64)
	if err != nil {
		return 0, false, fmt.Errorf("corrupt version record %s: %w", s.path(repoID, pkg), err)
	}
	return code, true, nil
}

func (s *fileStore) Put(ctx context.Context, repoID, pkg string, code int64) error {
	_ = ctx
	if err := validateKey(repoID, pkg); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}

	dir := filepath.Join(s.root, repoID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, "."+pkg+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpName) }

	if _, err := tmp.WriteString(strconv.FormatInt(code, 10)); err != nil {
		_ = tmp.Close()
		cleanup()
		return err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		cleanup()
		return err
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return err
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		cleanup()
		return err
	}
	if err := os.Rename(tmpName, s.path(repoID, pkg)); err != nil {
		cleanup()
		return err
	}
	// Persist the rename itself. Not all platforms allow syncing a directory.
	if d, err := os.Open(dir); err == nil {
		if err := d.Sync(); err != nil {
			s.log.Trace("directory sync failed", logx.String("dir", dir), logx.Err(err))
		}
		_ = d.Close()
	}
	return nil
}

func (s *fileStore) List(ctx context.Context, repoID string) ([]Entry, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}

	des, err := os.ReadDir(filepath.Join(s.root, repoID))
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	out := make([]Entry, 0, len(des))
	for _, de := range des {
		if de.IsDir() || strings.HasPrefix(de.Name(), ".") {
			continue
		}
		b, err := os.ReadFile(filepath.Join(s.root, repoID, de.Name()))
		if err != nil {
			return nil, err
		}
		code, err := strconv.ParseInt(strings.TrimSpace(string(b)), 10, 64)
		if err != nil {
			s.log.Warn("skipping corrupt version record", logx.String("repo", repoID), logx.String("pkg", de.Name()))
			continue
		}
		out = append(out, Entry{RepoID: repoID, PackageName: de.Name(), VersionCode: code})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PackageName < out[j].PackageName })
	return out, nil
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}
