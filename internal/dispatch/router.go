// Package dispatch fans a composed notification out to the channels routed
// for its repository and package.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"fdroidbot/internal/transport"
	logx "fdroidbot/pkg/logx"

	"golang.org/x/time/rate"
)

// AllPackages is the routing key matching every package of a repository.
const AllPackages = "all"

// Routes maps repo id -> style -> package id (or "all") -> channels.
type Routes map[string]map[string]map[string][]string

// Notification is one composed update ready for delivery.
type Notification struct {
	RepoID      string
	PackageName string
	Plain       string
	Rich        string
}

// Delivery is a single planned send.
type Delivery struct {
	Style   string
	Channel string
}

type Result struct {
	Attempted int
	Delivered int
	Failed    int
}

// OK reports whether every attempted delivery succeeded.
func (r Result) OK() bool { return r.Failed == 0 }

// DeliveryError records one failed send. Deliver joins them with errors.Join.
type DeliveryError struct {
	Style   string
	Channel string
	Err     error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("deliver %s to %s: %v", e.Style, e.Channel, e.Err)
}

func (e *DeliveryError) Unwrap() error { return e.Err }

type Config struct {
	// Styles is the order in which delivery classes are sent.
	Styles []string
	// Redirect, when set, replaces every channel for the whole run.
	Redirect string
	// SendTimeout bounds each send. Zero means no per-send bound.
	SendTimeout time.Duration
	// RatePerSec limits sends across the run. Zero disables limiting.
	RatePerSec int
	// Confirm, when set, is asked before each send.
	Confirm Confirmer
}

type Router struct {
	routes  Routes
	cfg     Config
	limiter *rate.Limiter
	log     logx.Logger
}

func NewRouter(routes Routes, cfg Config, log logx.Logger) *Router {
	if log.IsZero() {
		log = logx.Nop()
	}
	r := &Router{routes: routes, cfg: cfg, log: log.With(logx.String("comp", "dispatch"))}
	if cfg.RatePerSec > 0 {
		r.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec)
	}
	return r
}

// Redirected reports whether all deliveries go to a diagnostic channel.
func (r *Router) Redirected() bool { return strings.TrimSpace(r.cfg.Redirect) != "" }

// Plan lists the sends for a package in style order. For each style the channels
// registered under "all" come first, then those under the package. A channel
// registered under both receives the message twice.
func (r *Router) Plan(repoID, pkg string) []Delivery {
	byStyle := r.routes[repoID]
	if len(byStyle) == 0 {
		return nil
	}
	redirect := strings.TrimSpace(r.cfg.Redirect)
	var out []Delivery
	for _, style := range r.cfg.Styles {
		byPkg := byStyle[style]
		for _, key := range []string{AllPackages, pkg} {
			for _, ch := range byPkg[key] {
				if redirect != "" {
					ch = redirect
				}
				out = append(out, Delivery{Style: style, Channel: ch})
			}
		}
	}
	return out
}

// Deliver sends n to every planned channel. A failed channel does not stop
// the remaining ones; the returned error joins every *DeliveryError.
func (r *Router) Deliver(ctx context.Context, sess transport.Session, n Notification) (Result, error) {
	plan := r.Plan(n.RepoID, n.PackageName)
	log := r.log.With(logx.String("repo", n.RepoID), logx.String("pkg", n.PackageName))
	if len(plan) == 0 {
		log.Warn("no channels configured for package")
		return Result{}, nil
	}

	var (
		res  Result
		errs []error
	)
	for i, d := range plan {
		if r.cfg.Confirm != nil {
			r.cfg.Confirm.Confirm(n, d)
		}
		if r.limiter != nil {
			if err := r.limiter.Wait(ctx); err != nil {
				// cancelled: the rest cannot be sent either
				for _, rest := range plan[i:] {
					res.Attempted++
					res.Failed++
					errs = append(errs, &DeliveryError{Style: rest.Style, Channel: rest.Channel, Err: err})
				}
				break
			}
		}

		res.Attempted++
		err := r.send(ctx, sess, d, n)
		if err != nil {
			res.Failed++
			errs = append(errs, &DeliveryError{Style: d.Style, Channel: d.Channel, Err: err})
			log.Error("delivery failed", logx.String("style", d.Style), logx.String("channel", d.Channel), logx.Err(err))
			continue
		}
		res.Delivered++
		log.Info("delivered", logx.String("style", d.Style), logx.String("channel", d.Channel))
	}
	return res, errors.Join(errs...)
}

func (r *Router) send(ctx context.Context, sess transport.Session, d Delivery, n Notification) error {
	if r.cfg.SendTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.cfg.SendTimeout)
		defer cancel()
	}
	return sess.Send(ctx, d.Channel, transport.Message{
		Kind:          transport.KindFromStyle(d.Style),
		Body:          n.Plain,
		FormattedBody: n.Rich,
	})
}
