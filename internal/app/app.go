// Package app wires configuration, storage, chat delivery and the update
// engine into one-shot passes and the long-running daemon.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"fdroidbot/internal/compose"
	"fdroidbot/internal/config"
	"fdroidbot/internal/dispatch"
	"fdroidbot/internal/engine"
	"fdroidbot/internal/fdroid"
	"fdroidbot/internal/metrics"
	"fdroidbot/internal/storage"
	"fdroidbot/internal/transport"
	logx "fdroidbot/pkg/logx"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
)

// Options carries the command line switches.
type Options struct {
	ConfigPath string
	Verbose    bool
	// Confirm prompts on Stdin before every send.
	Confirm bool
	Resend  bool
	// Redirect sends everything to one diagnostic channel and keeps the store untouched.
	Redirect string
	Package  string
	// EnvFile is loaded before secrets are resolved. Empty means <config dir>/.env if present.
	EnvFile         string
	MetricsTextfile string

	Stdin  io.Reader
	Stdout io.Writer
}

type App struct {
	opts Options
	cfgm *config.ConfigManager
	cfg  *config.Config

	log  logx.Logger
	logs *logx.Service

	store    storage.VersionStore
	rawStore storage.VersionStore

	repos    []engine.Repository
	routes   dispatch.Routes
	timeouts config.Timeouts
	metrics  *metrics.Recorder

	newMessenger func(runID string) (transport.Messenger, error)
}

func New(opts Options) (*App, error) {
	if strings.TrimSpace(opts.ConfigPath) == "" {
		opts.ConfigPath = "./bot.yaml"
	}
	if opts.Stdin == nil {
		opts.Stdin = os.Stdin
	}
	if opts.Stdout == nil {
		opts.Stdout = os.Stdout
	}

	cfgm := config.NewConfigManager(opts.ConfigPath)
	if err := loadEnv(opts.EnvFile, cfgm.Dir()); err != nil {
		return nil, err
	}
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, fmt.Errorf("config %s: %w", opts.ConfigPath, err)
	}

	logCfg := logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    config.ResolvePath(cfgm.Dir(), cfg.Logging.File.Path),
		},
	}
	if opts.Verbose {
		logCfg.Level = "debug"
	}
	logSvc, log := logx.New(logCfg)
	cfgm.SetLogger(log.With(logx.String("comp", "config")))

	timeouts, err := cfg.ResolvedTimeouts()
	if err != nil {
		_ = logSvc.Close()
		return nil, err
	}

	driver, path, busy, err := cfg.StorageSettings(cfgm.Dir())
	if err != nil {
		_ = logSvc.Close()
		return nil, err
	}
	raw, err := storage.Open(storage.Config{Driver: driver, Path: path, BusyTimeout: busy}, log.With(logx.String("comp", "storage")))
	if err != nil {
		_ = logSvc.Close()
		return nil, fmt.Errorf("open version store: %w", err)
	}
	store := raw
	if strings.TrimSpace(opts.Redirect) != "" {
		log.Warn("redirecting every notification, versions will not be recorded", logx.String("channel", opts.Redirect))
		store = storage.DryRun(raw, log.With(logx.String("comp", "storage")))
	}
	log.Debug("version store opened", logx.String("driver", driver), logx.String("path", path))

	a := &App{
		opts:     opts,
		cfgm:     cfgm,
		cfg:      cfg,
		log:      log.With(logx.String("comp", "app")),
		logs:     logSvc,
		store:    store,
		rawStore: raw,
		repos:    repositories(cfg, cfgm.Dir()),
		routes:   dispatch.Routes(cfg.Rooms),
		timeouts: timeouts,
		metrics:  metrics.New(false),
	}
	a.newMessenger = func(runID string) (transport.Messenger, error) {
		return newMessenger(cfg.Chat, timeouts, runID, log)
	}
	return a, nil
}

// loadEnv loads an explicit env file, or <dir>/.env when it exists. Variables
// already set in the process win.
func loadEnv(explicit, dir string) error {
	if strings.TrimSpace(explicit) != "" {
		if err := godotenv.Load(explicit); err != nil {
			return fmt.Errorf("load env file: %w", err)
		}
		return nil
	}
	p := filepath.Join(dir, ".env")
	if _, err := os.Stat(p); err != nil {
		return nil
	}
	if err := godotenv.Load(p); err != nil {
		return fmt.Errorf("load env file: %w", err)
	}
	return nil
}

func repositories(cfg *config.Config, dir string) []engine.Repository {
	ids := cfg.RepoIDs()
	out := make([]engine.Repository, 0, len(ids))
	for _, id := range ids {
		rc := cfg.FDroid[id]
		hooks := map[string]string{}
		for pkg, um := range cfg.UpdateMessage[id] {
			if h := strings.TrimSpace(um.Handler); h != "" {
				hooks[pkg] = config.ResolvePath(dir, h)
			}
		}
		out = append(out, engine.Repository{
			ID:   id,
			Name: rc.RepoName,
			URL:  rc.RepoURL,
			Layout: fdroid.NewLayout(
				config.ResolvePath(dir, rc.Repo),
				config.ResolvePath(dir, rc.ArtifactDir),
				config.ResolvePath(dir, rc.BuildDir),
				config.ResolvePath(dir, rc.MetadataDir),
				rc.Locale,
			),
			Hooks: hooks,
		})
	}
	return out
}

func (a *App) engine(log logx.Logger) *engine.Engine {
	var confirm dispatch.Confirmer
	if a.opts.Confirm {
		confirm = dispatch.NewPrompt(a.opts.Stdin, a.opts.Stdout)
	}
	rate := a.cfg.Chat.RatePerSec
	if rate == 0 {
		rate = config.DefaultRatePerSec
	}
	router := dispatch.NewRouter(a.routes, dispatch.Config{
		Styles:      a.cfg.Styles(),
		Redirect:    a.opts.Redirect,
		SendTimeout: a.timeouts.Send,
		RatePerSec:  rate,
		Confirm:     confirm,
	}, log)
	runner := compose.ExecRunner{Dir: a.cfgm.Dir(), Timeout: a.timeouts.Hook}
	composer := compose.New(compose.NewMarkdown(), runner, log.With(logx.String("comp", "compose")))
	return engine.New(a.store, composer, router, engine.Options{
		Resend:                 a.opts.Resend,
		Package:                a.opts.Package,
		SkipMissingVersionName: a.cfg.SkipMissingVersionName(),
	}, log)
}

// RunOnce performs one update pass. The chat session is opened before any
// package is looked at: a login failure aborts the pass with nothing recorded.
// The session is closed on every path once opened.
func (a *App) RunOnce(ctx context.Context) (*engine.Report, error) {
	runID := uuid.NewString()
	log := a.log.With(logx.String("run_id", runID))

	m, err := a.newMessenger(runID)
	if err != nil {
		return nil, err
	}
	sess, err := a.openSession(ctx, m)
	if err != nil {
		log.Error("chat login failed, pass aborted", logx.Err(err))
		return nil, err
	}
	defer func() {
		cctx, cancel := context.WithTimeout(context.Background(), a.timeouts.Login)
		defer cancel()
		if err := sess.Close(cctx); err != nil {
			log.Warn("closing chat session failed", logx.Err(err))
		}
	}()

	log.Info("update pass started", logx.Int("repos", len(a.repos)), logx.Bool("resend", a.opts.Resend))
	rep, err := a.engine(log).Run(ctx, sess, a.repos)
	a.metrics.Observe(rep)
	if rep != nil {
		log.Info("update pass finished",
			logx.Int("notified", rep.Counts[engine.OutcomeNotified]),
			logx.Int("baselined", rep.Counts[engine.OutcomeBaselined]),
			logx.Int("failed", len(rep.Failed())),
			logx.Duration("took", rep.Duration),
		)
	}
	if p := strings.TrimSpace(a.opts.MetricsTextfile); p != "" {
		if werr := a.metrics.WriteTextfile(p); werr != nil {
			log.Warn("writing metrics textfile failed", logx.String("path", p), logx.Err(werr))
		}
	}
	return rep, err
}

func (a *App) openSession(ctx context.Context, m transport.Messenger) (transport.Session, error) {
	if a.timeouts.Login > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.timeouts.Login)
		defer cancel()
	}
	return m.Open(ctx)
}

// Pending lists updates the next pass would announce.
func (a *App) Pending(ctx context.Context) ([]engine.Pending, error) {
	return a.engine(a.log).Pending(ctx, a.repos)
}

// Versions lists the recorded versions of every configured repository.
func (a *App) Versions(ctx context.Context) ([]storage.Entry, error) {
	l, ok := a.rawStore.(storage.Lister)
	if !ok {
		return nil, errors.New("version store cannot list records")
	}
	var out []storage.Entry
	for _, r := range a.repos {
		es, err := l.List(ctx, r.ID)
		if err != nil {
			return out, fmt.Errorf("repo %s: %w", r.ID, err)
		}
		out = append(out, es...)
	}
	return out, nil
}

func (a *App) Logger() logx.Logger { return a.log }

func (a *App) Close() error {
	err := a.rawStore.Close()
	if cerr := a.logs.Close(); err == nil {
		err = cerr
	}
	return err
}

// stopStep runs fn with an upper bound so one component cannot stall shutdown.
func (a *App) stopStep(name string, max time.Duration, fn func(context.Context) error) {
	ctx, cancel := context.WithTimeout(context.Background(), max)
	defer cancel()
	start := time.Now()
	done := make(chan error, 1)
	go func() { done <- fn(ctx) }()
	select {
	case err := <-done:
		if err != nil {
			a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
		}
		a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
	case <-ctx.Done():
		a.log.Warn("stop step deadline reached (continuing)", logx.String("name", name), logx.Duration("max", max))
	}
}
