package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	logx "fdroidbot/pkg/logx"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openDrivers(t *testing.T) map[string]VersionStore {
	t.Helper()
	out := map[string]VersionStore{}
	for driver, name := range map[string]string{
		"file":   "pkg_versions",
		"bolt":   "pkg_versions.db",
		"sqlite": "pkg_versions.sqlite",
	} {
		s, err := Open(Config{Driver: driver, Path: filepath.Join(t.TempDir(), name)}, logx.Nop())
		require.NoError(t, err, driver)
		t.Cleanup(func() { _ = s.Close() })
		out[driver] = s
	}
	return out
}

func TestStoreContract(t *testing.T) {
	ctx := context.Background()
	for driver, s := range openDrivers(t) {
		t.Run(driver, func(t *testing.T) {
			_, ok, err := s.Get(ctx, "main", "com.example.app")
			require.NoError(t, err, "missing entries are not an error")
			assert.False(t, ok)

			require.NoError(t, s.Put(ctx, "main", "com.example.app", 10))
			code, ok, err := s.Get(ctx, "main", "com.example.app")
			require.NoError(t, err)
			assert.True(t, ok)
			assert.Equal(t, int64(10), code)

			require.NoError(t, s.Put(ctx, "main", "com.example.app", 12))
			code, _, err = s.Get(ctx, "main", "com.example.app")
			require.NoError(t, err)
			assert.Equal(t, int64(12), code)

			// repositories are separate namespaces
			_, ok, err = s.Get(ctx, "other", "com.example.app")
			require.NoError(t, err)
			assert.False(t, ok)

			require.NoError(t, s.Put(ctx, "main", "a.first", 1))
			entries, err := s.(Lister).List(ctx, "main")
			require.NoError(t, err)
			require.Len(t, entries, 2)
			assert.Equal(t, "a.first", entries[0].PackageName)
			assert.Equal(t, int64(12), entries[1].VersionCode)

			assert.ErrorIs(t, s.Put(ctx, "main", "../escape", 1), ErrInvalid)
		})
	}
}

func TestFileStoreLayoutAndPersistence(t *testing.T) {
	ctx := context.Background()
	root := filepath.Join(t.TempDir(), "pkg_versions")

	s, err := Open(Config{Driver: "file", Path: root}, logx.Nop())
	require.NoError(t, err)
	require.NoError(t, s.Put(ctx, "main", "com.example.app", 42))
	require.NoError(t, s.Close())

	b, err := os.ReadFile(filepath.Join(root, "main", "com.example.app"))
	require.NoError(t, err)
	assert.Equal(t, "42", string(b))

	// no temp files left behind
	des, err := os.ReadDir(filepath.Join(root, "main"))
	require.NoError(t, err)
	assert.Len(t, des, 1)

	s2, err := Open(Config{Path: root}, logx.Nop())
	require.NoError(t, err)
	defer s2.Close()
	code, ok, err := s2.Get(ctx, "main", "com.example.app")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, int64(42), code)
}

func TestFileStoreCorruptRecordIsAnError(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "main"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "main", "com.x"), []byte("not a number"), 0o644))

	s, err := Open(Config{Driver: "file", Path: root}, logx.Nop())
	require.NoError(t, err)
	defer s.Close()
	_, _, err = s.Get(ctx, "main", "com.x")
	assert.Error(t, err)
}

func TestDryRunNeverWrites(t *testing.T) {
	ctx := context.Background()
	s, err := Open(Config{Driver: "file", Path: t.TempDir()}, logx.Nop())
	require.NoError(t, err)
	defer s.Close()
	require.NoError(t, s.Put(ctx, "main", "com.x", 5))

	dry := DryRun(s, logx.Nop())
	require.NoError(t, dry.Put(ctx, "main", "com.x", 9))
	require.NoError(t, dry.Put(ctx, "main", "com.new", 1))

	code, ok, err := dry.Get(ctx, "main", "com.x")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, int64(5), code)
	_, ok, err = s.Get(ctx, "main", "com.new")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	_, err := Open(Config{Driver: "redis", Path: t.TempDir()}, logx.Nop())
	require.Error(t, err)
}
