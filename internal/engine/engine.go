// Package engine runs update passes: for every published app it decides
// whether the observed version is new, and if so resolves, composes and
// delivers the notification before recording the version.
//
// A version is recorded only after every delivery for it succeeded, so a
// failed pass leaves the update pending for the next one.
package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"fdroidbot/internal/compose"
	"fdroidbot/internal/dispatch"
	"fdroidbot/internal/fdroid"
	"fdroidbot/internal/resolve"
	"fdroidbot/internal/storage"
	"fdroidbot/internal/transport"
	logx "fdroidbot/pkg/logx"
)

var (
	ErrArtifactMissing    = errors.New("build artifact missing")
	ErrMissingVersionName = errors.New("no version name")
)

// Repository is one configured F-Droid repository.
type Repository struct {
	ID     string
	Name   string
	URL    string
	Layout fdroid.Layout
	// Hooks maps a package id or "all" to a hook path.
	Hooks map[string]string
}

// HooksFor returns the hooks for pkg: the package hook first, then the "all" hook.
func (r Repository) HooksFor(pkg string) []string {
	var out []string
	if h := r.Hooks[pkg]; h != "" {
		out = append(out, h)
	}
	if h := r.Hooks[dispatch.AllPackages]; h != "" {
		out = append(out, h)
	}
	return out
}

type Composer interface {
	Compose(ctx context.Context, in compose.Input, hooks []string) (compose.Message, error)
}

type Dispatcher interface {
	Deliver(ctx context.Context, sess transport.Session, n dispatch.Notification) (dispatch.Result, error)
}

type Options struct {
	// Resend notifies every package again, whatever the stored version.
	Resend bool
	// Package restricts the pass to one package id.
	Package string
	// SkipMissingVersionName skips packages whose version name cannot be
	// resolved instead of announcing the numeric code.
	SkipMissingVersionName bool
}

type Engine struct {
	store    storage.VersionStore
	composer Composer
	router   Dispatcher
	opts     Options
	log      logx.Logger

	now func() time.Time
}

func New(store storage.VersionStore, composer Composer, router Dispatcher, opts Options, log logx.Logger) *Engine {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Engine{
		store:    store,
		composer: composer,
		router:   router,
		opts:     opts,
		log:      log.With(logx.String("comp", "engine")),
		now:      time.Now,
	}
}

// Run performs one pass over repos, in order. Per-package and per-repository
// failures are logged and reported; only cancellation aborts the pass.
func (e *Engine) Run(ctx context.Context, sess transport.Session, repos []Repository) (*Report, error) {
	rep := newReport(e.now())
	defer func() { rep.Duration = e.now().Sub(rep.Started) }()

	for _, repo := range repos {
		if err := ctx.Err(); err != nil {
			return rep, err
		}
		idx, err := repo.Layout.LoadIndex()
		if err != nil {
			e.log.Error("cannot read repository index", logx.String("repo", repo.ID), logx.String("path", repo.Layout.IndexPath()), logx.Err(err))
			rep.RepoErrors = append(rep.RepoErrors, fmt.Errorf("repo %s: %w", repo.ID, err))
			continue
		}
		resolver := resolve.New(repo.Layout, repo.Layout.Locale, e.log)

		for _, app := range idx.Apps {
			if e.opts.Package != "" && app.PackageName != e.opts.Package {
				continue
			}
			if err := ctx.Err(); err != nil {
				return rep, err
			}
			rep.add(e.processPackage(ctx, sess, repo, idx, resolver, app))
		}
	}
	return rep, ctx.Err()
}

func (e *Engine) processPackage(ctx context.Context, sess transport.Session, repo Repository, idx *fdroid.Index, resolver *resolve.Resolver, app fdroid.App) Result {
	pkg := app.PackageName
	observed := int64(app.SuggestedVersionCode)
	res := Result{RepoID: repo.ID, PackageName: pkg, Observed: observed}
	log := e.log.With(logx.String("repo", repo.ID), logx.String("pkg", pkg), logx.Int64("code", observed))

	stored, seen, err := e.store.Get(ctx, repo.ID, pkg)
	if err != nil {
		log.Error("cannot read stored version", logx.Err(err))
		return res.fail(OutcomeError, err)
	}
	if seen {
		res.Stored = stored
		res.Seen = true
	}

	if !e.opts.Resend {
		if seen && stored >= observed {
			log.Debug("up to date", logx.Int64("stored", stored))
			return res.with(OutcomeUpToDate)
		}
	}

	if !repo.Layout.ArtifactExists(pkg, app.SuggestedVersionCode) {
		log.Error("build artifact missing, not announcing", logx.String("path", repo.Layout.ArtifactPath(pkg, app.SuggestedVersionCode)))
		return res.fail(OutcomeSuppressed, ErrArtifactMissing)
	}

	if !seen && !e.opts.Resend {
		if err := e.store.Put(ctx, repo.ID, pkg, observed); err != nil {
			log.Error("cannot record baseline", logx.Err(err))
			return res.fail(OutcomeError, err)
		}
		log.Info("first sight, recorded without notifying")
		return res.with(OutcomeBaselined)
	}

	r := resolver.Resolve(idx, app, repo.URL)
	if r.VersionFallback {
		if e.opts.SkipMissingVersionName {
			log.Warn("no version name, skipping")
			return res.fail(OutcomeSkipped, ErrMissingVersionName)
		}
		log.Warn("no version name, using version code")
	}

	msg, err := e.composer.Compose(ctx, compose.Input{
		PackageName:   pkg,
		AppName:       app.DisplayName(repo.Layout.Locale),
		VersionName:   r.VersionName,
		VersionString: r.VersionString,
		RepoName:      repo.Name,
		RepoURL:       repo.URL,
		Changelog:     r.Changelog,
		HasChangelog:  r.HasChangelog,
		DownloadURL:   r.DownloadURL,
	}, repo.HooksFor(pkg))
	if err != nil {
		log.Error("composing message failed", logx.Err(err))
		return res.fail(OutcomeHookFailed, err)
	}
	if msg.Empty() {
		log.Info("message vetoed by hook")
		return res.with(OutcomeVetoed)
	}

	dr, err := e.router.Deliver(ctx, sess, dispatch.Notification{
		RepoID:      repo.ID,
		PackageName: pkg,
		Plain:       msg.Plain,
		Rich:        msg.Rich,
	})
	res.Delivery = dr
	if err != nil {
		log.Error("delivery incomplete, version not recorded", logx.Int("failed", dr.Failed), logx.Int("attempted", dr.Attempted))
		return res.fail(OutcomeDeliveryFailed, err)
	}

	next := observed
	if seen && stored > next {
		next = stored
	}
	if err := e.store.Put(ctx, repo.ID, pkg, next); err != nil {
		log.Error("notified but cannot record version", logx.Err(err))
		return res.fail(OutcomeError, err)
	}
	log.Info("notified", logx.String("version", r.VersionName), logx.Int("deliveries", dr.Delivered))
	return res.with(OutcomeNotified)
}
