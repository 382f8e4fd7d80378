package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	logx "fdroidbot/pkg/logx"

	"go.etcd.io/bbolt"
)

// boltStore keeps one bucket per repository, key = package id, value = decimal code.
type boltStore struct {
	db  *bbolt.DB
	log logx.Logger
}

func openBolt(cfg Config, log logx.Logger) (VersionStore, error) {
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
		return nil, err
	}
	db, err := bbolt.Open(cfg.Path, 0o600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open bolt %s: %w", cfg.Path, err)
	}
	return &boltStore{db: db, log: log}, nil
}

func (s *boltStore) Get(ctx context.Context, repoID, pkg string) (int64, bool, error) {
	_ = ctx
	if err := validateKey(repoID, pkg); err != nil {
		return 0, false, err
	}
	var (
		code int64
		ok   bool
	)
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(repoID))
		if b == nil {
			return nil
		}
		v := b.Get([]byte(pkg))
		if v == nil {
			return nil
		}
		n, err := strconv.ParseInt(string(v), 10, 64)
		if err != nil {
			return fmt.Errorf("corrupt version record %s/%s: %w", repoID, pkg, err)
		}
		code, ok = n, true
		return nil
	})
	return code, ok, err
}

func (s *boltStore) Put(ctx context.Context, repoID, pkg string, code int64) error {
	_ = ctx
	if err := validateKey(repoID, pkg); err != nil {
		return err
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists([]byte(repoID))
		if err != nil {
			return err
		}
		return b.Put([]byte(pkg), []byte(strconv.FormatInt(code, 10)))
	})
}

func (s *boltStore) List(ctx context.Context, repoID string) ([]Entry, error) {
	_ = ctx
	var out []Entry
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(repoID))
		if b == nil {
			return nil
		}
		// bbolt iterates keys in byte order, which is already sorted.
		return b.ForEach(func(k, v []byte) error {
			n, err := strconv.ParseInt(string(v), 10, 64)
			if err != nil {
				s.log.Warn("skipping corrupt version record", logx.String("repo", repoID), logx.String("pkg", string(k)))
				return nil
			}
			out = append(out, Entry{RepoID: repoID, PackageName: string(k), VersionCode: n})
			return nil
		})
	})
	return out, err
}

func (s *boltStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}
