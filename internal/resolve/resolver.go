// Package resolve works out what an update notification says: the version
// string, the changelog, and an optional link to the built source revision.
//
// Each piece is an ordered list of strategies. A strategy either produces a
// value or reports no result; none of them can fail the resolution.
package resolve

import (
	"net/url"
	"strconv"
	"strings"

	"fdroidbot/internal/fdroid"
	logx "fdroidbot/pkg/logx"
)

// Source exposes the per-build files next to a repository. fdroid.Layout implements it.
type Source interface {
	Changelog(pkg string, code fdroid.VersionCode) (string, bool)
	BuildCommit(pkg string, code fdroid.VersionCode) (string, error)
}

const (
	ChangelogFastlane = "fastlane"
	ChangelogIndex    = "index"
)

// Resolution is everything the composer needs about one update.
type Resolution struct {
	// VersionName is the unlinked version string.
	VersionName string
	// VersionFallback is set when no version name was found and the numeric code is used.
	VersionFallback bool
	// VersionString is VersionName, linked to RevisionURL when one was found.
	VersionString string
	RevisionURL   string

	Changelog       string
	HasChangelog    bool
	ChangelogSource string

	DownloadURL string
}

type Resolver struct {
	src    Source
	locale string
	log    logx.Logger
}

func New(src Source, locale string, log logx.Logger) *Resolver {
	if log.IsZero() {
		log = logx.Nop()
	}
	if strings.TrimSpace(locale) == "" {
		locale = fdroid.DefaultLocale
	}
	return &Resolver{src: src, locale: locale, log: log}
}

// Resolve never fails; missing pieces show up as empty fields.
func (r *Resolver) Resolve(idx *fdroid.Index, app fdroid.App, repoURL string) Resolution {
	code := app.SuggestedVersionCode
	log := r.log.With(logx.String("pkg", app.PackageName), logx.Int64("code", int64(code)))

	var res Resolution

	res.VersionName, res.VersionFallback = r.versionName(idx, app)
	res.VersionString = res.VersionName

	if text, source, ok := r.changelog(app); ok {
		res.Changelog = strings.TrimSuffix(text, "\n")
		res.HasChangelog = true
		res.ChangelogSource = source
		log.Debug("changelog found", logx.String("source", source))
	}

	if link, ok := r.revisionLink(app); ok {
		res.RevisionURL = link
		res.VersionString = "[" + res.VersionName + "](" + link + ")"
	}

	if u, ok := idx.DirectDownload(repoURL, app.PackageName, code); ok {
		res.DownloadURL = u
	}
	return res
}

func (r *Resolver) versionName(idx *fdroid.Index, app fdroid.App) (string, bool) {
	strategies := []func() (string, bool){
		func() (string, bool) {
			return app.SuggestedVersionName, strings.TrimSpace(app.SuggestedVersionName) != ""
		},
		func() (string, bool) {
			return idx.VersionName(app.PackageName, app.SuggestedVersionCode)
		},
	}
	for _, s := range strategies {
		if v, ok := s(); ok {
			return v, false
		}
	}
	return strconv.FormatInt(int64(app.SuggestedVersionCode), 10), true
}

func (r *Resolver) changelog(app fdroid.App) (string, string, bool) {
	strategies := []struct {
		name string
		fn   func() (string, bool)
	}{
		{ChangelogFastlane, func() (string, bool) {
			if r.src == nil {
				return "", false
			}
			return r.src.Changelog(app.PackageName, app.SuggestedVersionCode)
		}},
		{ChangelogIndex, func() (string, bool) { return app.WhatsNew(r.locale) }},
	}
	for _, s := range strategies {
		text, ok := s.fn()
		// an empty changelog file is no changelog; try the next source
		if ok && strings.TrimSuffix(text, "\n") != "" {
			return text, s.name, true
		}
	}
	return "", "", false
}

// host maps a code hosting site to the path segment of its commit pages.
type host struct {
	name       string
	commitPath string
}

var knownHosts = []host{
	{name: "github.com", commitPath: "/commits/"},
	{name: "gitlab.com", commitPath: "/-/commit/"},
	{name: "codeberg.org", commitPath: "/commit/"},
}

// revisionLink links the version to the commit it was built from. Only
// https://<host>/<owner>/<repo> source URLs are recognized.
func (r *Resolver) revisionLink(app fdroid.App) (string, bool) {
	base, h, ok := matchHost(app.SourceCode)
	if !ok || r.src == nil {
		return "", false
	}
	rev, err := r.src.BuildCommit(app.PackageName, app.SuggestedVersionCode)
	if err != nil {
		r.log.Debug("no build revision", logx.String("pkg", app.PackageName), logx.Err(err))
		return "", false
	}
	return base + h.commitPath + url.PathEscape(rev), true
}

func matchHost(source string) (string, host, bool) {
	source = strings.TrimSpace(source)
	u, err := url.Parse(source)
	if err != nil || u.Scheme != "https" || u.RawQuery != "" || u.Fragment != "" {
		return "", host{}, false
	}
	parts := strings.Split(strings.Trim(u.Path, "/"), "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" || strings.HasSuffix(u.Path, "/") {
		return "", host{}, false
	}
	for _, h := range knownHosts {
		if strings.EqualFold(u.Host, h.name) {
			return strings.TrimSuffix(source, "/"), h, true
		}
	}
	return "", host{}, false
}
