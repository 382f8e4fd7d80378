package app

import (
	"context"
	"errors"
	"net"
	"net/http"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"fdroidbot/internal/config"
	"fdroidbot/internal/fdroid"
	"fdroidbot/internal/metrics"
	"fdroidbot/internal/runtime/supervisor"
	logx "fdroidbot/pkg/logx"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/fsnotify/fsnotify"
	"github.com/robfig/cron/v3"
)

type DaemonOptions struct {
	// Schedule is a cron spec; empty disables scheduled passes.
	Schedule string
	// Watch triggers a pass when a repository index changes.
	Watch       bool
	MetricsAddr string
	Debounce    time.Duration
}

// DaemonOptions merges the configuration with command line overrides.
func (a *App) DaemonOptions(schedule string, watch bool, metricsAddr string) (DaemonOptions, error) {
	d := a.cfg.Daemon
	opts := DaemonOptions{Schedule: d.Schedule, Watch: d.Watch, MetricsAddr: d.MetricsAddr}
	if schedule != "" {
		opts.Schedule = schedule
	}
	if watch {
		opts.Watch = true
	}
	if metricsAddr != "" {
		opts.MetricsAddr = metricsAddr
	}
	var err error
	opts.Debounce, err = config.ParseDurationOrDefault("daemon.debounce", d.Debounce, config.DefaultDebounce)
	return opts, err
}

var cronParser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// trigger coalesces pass requests: while one is queued, more are dropped.
type trigger struct {
	ch chan string
}

func newTrigger() *trigger { return &trigger{ch: make(chan string, 1)} }

func (t *trigger) fire(reason string) bool {
	select {
	case t.ch <- reason:
		return true
	default:
		return false
	}
}

// Daemon runs passes on start, on schedule and on index changes until ctx ends.
// Passes never overlap.
func (a *App) Daemon(ctx context.Context, opts DaemonOptions) error {
	if opts.Schedule == "" && !opts.Watch {
		return errors.New("daemon needs a schedule or index watching")
	}
	a.metrics = metrics.New(true)
	trig := newTrigger()

	var c *cron.Cron
	if opts.Schedule != "" {
		c = cron.New(cron.WithParser(cronParser))
		if _, err := c.AddFunc(opts.Schedule, func() { trig.fire("schedule") }); err != nil {
			return err
		}
		c.Start()
		a.log.Info("schedule enabled", logx.String("spec", opts.Schedule))
	}

	sup := supervisor.New(ctx, supervisor.WithLogger(a.log.With(logx.String("comp", "supervisor"))))

	if opts.Watch {
		dirs := make([]string, 0, len(a.repos))
		for _, r := range a.repos {
			dirs = append(dirs, r.Layout.RepoDir)
		}
		wlog := a.log.With(logx.String("comp", "watch"))
		sup.Go0("index-watch", func(ctx context.Context) {
			watchIndexes(ctx, dirs, opts.Debounce, func() { trig.fire("index") }, wlog)
		})
	}

	var srv *http.Server
	if opts.MetricsAddr != "" {
		ln, err := net.Listen("tcp", opts.MetricsAddr)
		if err != nil {
			if c != nil {
				<-c.Stop().Done()
			}
			_ = sup.Stop(context.Background())
			return err
		}
		mux := http.NewServeMux()
		mux.Handle("/metrics", a.metrics.Handler())
		srv = &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		sup.Go("metrics-http", func(context.Context) error {
			if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		a.log.Info("metrics endpoint listening", logx.String("addr", ln.Addr().String()))
	}

	if ok, err := daemon.SdNotify(false, daemon.SdNotifyReady); err != nil {
		a.log.Warn("sd_notify failed", logx.Err(err))
	} else if ok {
		a.log.Debug("notified systemd")
	}

	trig.fire("startup")
	for {
		select {
		case <-ctx.Done():
			a.shutdown(c, srv)
			a.stopStep("supervisor", 5*time.Second, sup.Stop)
			return nil
		case reason := <-trig.ch:
			a.log.Info("pass triggered", logx.String("by", reason))
			if _, err := a.RunOnce(ctx); err != nil && ctx.Err() == nil {
				a.log.Error("update pass failed", logx.Err(err))
			}
		}
	}
}

func (a *App) shutdown(c *cron.Cron, srv *http.Server) {
	_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)
	a.log.Info("stopping daemon")
	if c != nil {
		a.stopStep("cron", 2*time.Second, func(context.Context) error {
			<-c.Stop().Done()
			return nil
		})
	}
	if srv != nil {
		a.stopStep("metrics", 2*time.Second, srv.Shutdown)
	}
}

// watchIndexes calls fire once writes to any index file have been quiet for
// debounce. fdroidserver rewrites the index in several steps.
func watchIndexes(ctx context.Context, dirs []string, debounce time.Duration, fire func(), log logx.Logger) {
	const (
		restartBackoffBase = 250 * time.Millisecond
		restartBackoffMax  = 5 * time.Second
	)
	backoff := restartBackoffBase

	var (
		timerMu sync.Mutex
		timer   *time.Timer
	)
	schedule := func(name string) {
		timerMu.Lock()
		defer timerMu.Unlock()
		if timer != nil {
			timer.Stop()
		}
		log.Debug("index change detected", logx.String("path", name))
		timer = time.AfterFunc(debounce, fire)
	}
	defer func() {
		timerMu.Lock()
		if timer != nil {
			timer.Stop()
		}
		timerMu.Unlock()
	}()

	wait := func() bool {
		select {
		case <-ctx.Done():
			return false
		case <-time.After(backoff):
		}
		backoff = min(backoff*2, restartBackoffMax)
		return true
	}

	for ctx.Err() == nil {
		w, err := fsnotify.NewWatcher()
		if err != nil {
			log.Warn("index watch init failed", logx.Err(err))
			if !wait() {
				return
			}
			continue
		}
		added := 0
		for _, d := range dirs {
			if err := w.Add(d); err != nil {
				log.Warn("index watch add failed", logx.String("dir", d), logx.Err(err))
				continue
			}
			added++
		}
		if added == 0 {
			_ = w.Close()
			if !wait() {
				return
			}
			continue
		}
		backoff = restartBackoffBase
		log.Debug("index watcher started", logx.Strings("dirs", dirs))

		broken := false
		for !broken {
			select {
			case <-ctx.Done():
				_ = w.Close()
				return
			case ev, ok := <-w.Events:
				if !ok {
					broken = true
					break
				}
				if filepath.Base(ev.Name) == fdroid.IndexFile && ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
					schedule(ev.Name)
				}
			case err, ok := <-w.Errors:
				if !ok {
					broken = true
					break
				}
				if errors.Is(err, fsnotify.ErrEventOverflow) {
					log.Warn("index watch overflow; forcing pass", logx.Err(err))
					schedule("")
					continue
				}
				log.Warn("index watch error", logx.Err(err))
				if strings.Contains(strings.ToLower(err.Error()), "closed") {
					broken = true
				}
			}
		}
		_ = w.Close()
		log.Warn("index watcher stopped; restarting")
		if !wait() {
			return
		}
	}
}
