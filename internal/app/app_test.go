package app

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"fdroidbot/internal/engine"
	"fdroidbot/internal/storage"
	"fdroidbot/internal/transport"
	logx "fdroidbot/pkg/logx"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testConfig = `
data_dir: ./data
logging: { level: error, console: true }
fdroid:
  main:
    repo: ./fdroid/repo
    repo_name: My Repo
    repo_url: https://example.org/fdroid/repo
chat:
  backend: nats
  nats: { url: "nats://127.0.0.1:4222" }
rooms:
  main:
    notice: { all: ["fdroid.updates"] }
`

type fakeMessenger struct {
	opens   int
	closes  int
	sent    []string
	openErr error
}

func (f *fakeMessenger) Open(context.Context) (transport.Session, error) {
	f.opens++
	if f.openErr != nil {
		return nil, f.openErr
	}
	return f, nil
}

func (f *fakeMessenger) Send(_ context.Context, channel string, msg transport.Message) error {
	f.sent = append(f.sent, channel+": "+msg.Body)
	return nil
}

func (f *fakeMessenger) Close(context.Context) error {
	f.closes++
	return nil
}

type env struct {
	dir     string
	repoDir string
}

func newEnv(t *testing.T) env {
	t.Helper()
	dir := t.TempDir()
	repoDir := filepath.Join(dir, "fdroid", "repo")
	require.NoError(t, os.MkdirAll(repoDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "bot.yaml"), []byte(testConfig), 0o600))
	e := env{dir: dir, repoDir: repoDir}
	e.publish(t, 21)
	return e
}

type published struct {
	pkg  string
	code int
}

// publish writes an index announcing code for com.example.app and the matching artifact.
func (e env) publish(t *testing.T, code int) {
	t.Helper()
	e.publishApps(t, published{"com.example.app", code})
}

// publishApps writes an index listing apps in order, each with its artifact.
func (e env) publishApps(t *testing.T, apps ...published) {
	t.Helper()
	entries := make([]string, 0, len(apps))
	for _, a := range apps {
		entries = append(entries, fmt.Sprintf(`{"packageName":%q,"name":"Example","suggestedVersionCode":"%d","suggestedVersionName":"2.%d"}`, a.pkg, a.code, a.code))
		require.NoError(t, os.WriteFile(filepath.Join(e.repoDir, fmt.Sprintf("%s_%d.apk", a.pkg, a.code)), []byte("apk"), 0o644))
	}
	idx := `{"apps":[` + strings.Join(entries, ",") + `],"packages":{}}`
	require.NoError(t, os.WriteFile(filepath.Join(e.repoDir, "index-v1.json"), []byte(idx), 0o644))
}

func newTestApp(t *testing.T, e env, m *fakeMessenger, mod func(*Options)) *App {
	t.Helper()
	opts := Options{ConfigPath: filepath.Join(e.dir, "bot.yaml"), Stdout: io.Discard, Stdin: strings.NewReader("")}
	if mod != nil {
		mod(&opts)
	}
	a, err := New(opts)
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })
	a.newMessenger = func(string) (transport.Messenger, error) { return m, nil }
	return a
}

func TestRunOnceBaselinesThenNotifies(t *testing.T) {
	e := newEnv(t)
	m := &fakeMessenger{}
	a := newTestApp(t, e, m, nil)

	rep, err := a.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Counts[engine.OutcomeBaselined])
	assert.Equal(t, 1, m.opens)
	assert.Equal(t, 1, m.closes)

	e.publish(t, 22)
	rep, err = a.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Counts[engine.OutcomeNotified])
	assert.Equal(t, []string{"fdroid.updates: [My Repo](https://example.org/fdroid/repo) updated Example to version 2.22."}, m.sent)
	assert.Equal(t, 2, m.opens)
	assert.Equal(t, 2, m.closes)

	entries, err := a.Versions(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []storage.Entry{{RepoID: "main", PackageName: "com.example.app", VersionCode: 22}}, entries)

	// the default file store lives under data_dir, relative to the config
	_, err = os.Stat(filepath.Join(e.dir, "data", "pkg_versions", "main", "com.example.app"))
	assert.NoError(t, err)
}

func TestRunOnceAuthFailureAbortsPass(t *testing.T) {
	e := newEnv(t)
	a := newTestApp(t, e, &fakeMessenger{}, nil)
	_, err := a.RunOnce(context.Background())
	require.NoError(t, err)

	// a stale package followed by one never seen before
	e.publishApps(t, published{"com.example.app", 22}, published{"com.example.new", 5})
	m := &fakeMessenger{openErr: fmt.Errorf("%w: bad password", transport.ErrAuth)}
	a.newMessenger = func(string) (transport.Messenger, error) { return m, nil }
	rep, err := a.RunOnce(context.Background())
	require.ErrorIs(t, err, transport.ErrAuth)
	assert.Nil(t, rep)
	assert.Empty(t, m.sent)
	assert.Zero(t, m.closes)

	entries, err := a.Versions(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []storage.Entry{{RepoID: "main", PackageName: "com.example.app", VersionCode: 21}}, entries,
		"nothing is recorded after a failed login")

	pending, err := a.Pending(context.Background())
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.EqualValues(t, 22, pending[0].Observed)
	assert.EqualValues(t, 21, pending[0].Stored)
}

func TestRunOnceRunsNoHooksWhenLoginFails(t *testing.T) {
	e := newEnv(t)
	a := newTestApp(t, e, &fakeMessenger{}, nil)
	_, err := a.RunOnce(context.Background())
	require.NoError(t, err)

	if runtime.GOOS == "windows" {
		t.Skip("shell hooks need a POSIX shell")
	}
	marker := filepath.Join(e.dir, "hook-ran")
	hook := filepath.Join(e.dir, "hook.sh")
	require.NoError(t, os.WriteFile(hook, []byte("#!/bin/sh\ntouch "+marker+"\nprintf '%s' \"$msg\"\n"), 0o755))
	a.repos[0].Hooks = map[string]string{"all": hook}
	e.publish(t, 22)
	a.newMessenger = func(string) (transport.Messenger, error) {
		return &fakeMessenger{openErr: transport.ErrAuth}, nil
	}
	_, err = a.RunOnce(context.Background())
	require.ErrorIs(t, err, transport.ErrAuth)
	_, statErr := os.Stat(marker)
	assert.True(t, os.IsNotExist(statErr))
}

func TestRedirectedRunDoesNotRecord(t *testing.T) {
	e := newEnv(t)
	a := newTestApp(t, e, &fakeMessenger{}, nil)
	_, err := a.RunOnce(context.Background())
	require.NoError(t, err)
	require.NoError(t, a.Close())

	e.publish(t, 22)
	m := &fakeMessenger{}
	a = newTestApp(t, e, m, func(o *Options) { o.Redirect = "debug.updates" })
	_, err = a.RunOnce(context.Background())
	require.NoError(t, err)
	require.Len(t, m.sent, 1)
	assert.True(t, strings.HasPrefix(m.sent[0], "debug.updates: "))

	pending, err := a.Pending(context.Background())
	require.NoError(t, err)
	assert.Len(t, pending, 1)
}

func TestMetricsTextfile(t *testing.T) {
	e := newEnv(t)
	prom := filepath.Join(e.dir, "fdroidbot.prom")
	a := newTestApp(t, e, &fakeMessenger{}, func(o *Options) { o.MetricsTextfile = prom })
	_, err := a.RunOnce(context.Background())
	require.NoError(t, err)

	b, err := os.ReadFile(prom)
	require.NoError(t, err)
	assert.Contains(t, string(b), `fdroidbot_packages_total{outcome="baselined"} 1`)
}

func TestNewFailsOnBadConfig(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "bot.yaml")
	require.NoError(t, os.WriteFile(p, []byte("fdroid: {}\nchat: {backend: irc}\n"), 0o600))
	_, err := New(Options{ConfigPath: p})
	assert.Error(t, err)

	_, err = New(Options{ConfigPath: filepath.Join(dir, "missing.yaml")})
	assert.Error(t, err)
}

func TestLoadEnv(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("FDROIDBOT_TEST_SECRET=from-file\n"), 0o600))
	t.Setenv("FDROIDBOT_TEST_SECRET", "")
	require.NoError(t, os.Unsetenv("FDROIDBOT_TEST_SECRET"))

	require.NoError(t, loadEnv("", dir))
	assert.Equal(t, "from-file", os.Getenv("FDROIDBOT_TEST_SECRET"))

	assert.Error(t, loadEnv(filepath.Join(dir, "nope.env"), dir))
	assert.NoError(t, loadEnv("", t.TempDir()))
}

func TestHooksResolveAgainstConfigDir(t *testing.T) {
	e := newEnv(t)
	cfg := testConfig + "update_message:\n  main:\n    all: { handler: ./hooks/format.sh }\n"
	require.NoError(t, os.WriteFile(filepath.Join(e.dir, "bot.yaml"), []byte(cfg), 0o600))
	a := newTestApp(t, e, &fakeMessenger{}, nil)

	require.Len(t, a.repos, 1)
	assert.Equal(t, filepath.Join(e.dir, "hooks", "format.sh"), a.repos[0].Hooks["all"])
	assert.Equal(t, e.repoDir, a.repos[0].Layout.RepoDir)
}

func TestDaemonOptionsMerge(t *testing.T) {
	e := newEnv(t)
	a := newTestApp(t, e, &fakeMessenger{}, nil)
	opts, err := a.DaemonOptions("@hourly", true, "")
	require.NoError(t, err)
	assert.Equal(t, DaemonOptions{Schedule: "@hourly", Watch: true, Debounce: 5 * time.Second}, opts)
}

func TestDaemonRequiresATrigger(t *testing.T) {
	e := newEnv(t)
	a := newTestApp(t, e, &fakeMessenger{}, nil)
	assert.Error(t, a.Daemon(context.Background(), DaemonOptions{}))
}

func TestDaemonRunsStartupPassAndStops(t *testing.T) {
	e := newEnv(t)
	a := newTestApp(t, e, &fakeMessenger{}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Daemon(ctx, DaemonOptions{Schedule: "@every 1h"}) }()

	require.Eventually(t, func() bool {
		_, ok, err := a.rawStore.Get(context.Background(), "main", "com.example.app")
		return err == nil && ok
	}, 5*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("daemon did not stop")
	}
}

func TestTriggerCoalesces(t *testing.T) {
	tr := newTrigger()
	assert.True(t, tr.fire("a"))
	assert.False(t, tr.fire("b"))
	assert.Equal(t, "a", <-tr.ch)
	assert.True(t, tr.fire("c"))
}

func TestWatchIndexesDebounces(t *testing.T) {
	dir := t.TempDir()
	var fired atomic.Int32
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go watchIndexes(ctx, []string{dir}, 100*time.Millisecond, func() { fired.Add(1) }, testLogger())

	// give the watcher time to register
	time.Sleep(200 * time.Millisecond)
	idx := filepath.Join(dir, "index-v1.json")
	for i := 0; i < 3; i++ {
		require.NoError(t, os.WriteFile(idx, []byte(fmt.Sprintf(`{"n":%d}`, i)), 0o644))
	}
	require.NoError(t, os.WriteFile(filepath.Join(dir, "other.txt"), []byte("x"), 0o644))

	require.Eventually(t, func() bool { return fired.Load() == 1 }, 3*time.Second, 20*time.Millisecond)
	time.Sleep(300 * time.Millisecond)
	assert.EqualValues(t, 1, fired.Load())
}

func testLogger() logx.Logger { return logx.Nop() }
