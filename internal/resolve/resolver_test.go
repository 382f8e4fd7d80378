package resolve

import (
	"errors"
	"fmt"
	"testing"

	"fdroidbot/internal/fdroid"
	logx "fdroidbot/pkg/logx"

	"github.com/stretchr/testify/assert"
)

type fakeSource struct {
	changelogs map[string]string
	commits    map[string]string
	commitErr  error
}

func key(pkg string, code fdroid.VersionCode) string {
	return fmt.Sprintf("%s#%d", pkg, code)
}

func (f fakeSource) Changelog(pkg string, code fdroid.VersionCode) (string, bool) {
	s, ok := f.changelogs[key(pkg, code)]
	return s, ok
}

func (f fakeSource) BuildCommit(pkg string, code fdroid.VersionCode) (string, error) {
	if f.commitErr != nil {
		return "", f.commitErr
	}
	c, ok := f.commits[key(pkg, code)]
	if !ok {
		return "", fdroid.ErrNoBuild
	}
	return c, nil
}

func testIndex() *fdroid.Index {
	return &fdroid.Index{
		Packages: map[string][]fdroid.Apk{
			"com.example.app": {{VersionCode: 2, VersionName: "2.0-index", ApkName: "com.example.app_2.apk"}},
		},
	}
}

func TestVersionNameStrategies(t *testing.T) {
	r := New(nil, "", logx.Nop())
	idx := testIndex()

	res := r.Resolve(idx, fdroid.App{PackageName: "com.example.app", SuggestedVersionCode: 2, SuggestedVersionName: "2.0"}, "")
	assert.Equal(t, "2.0", res.VersionName)
	assert.False(t, res.VersionFallback)

	res = r.Resolve(idx, fdroid.App{PackageName: "com.example.app", SuggestedVersionCode: 2}, "")
	assert.Equal(t, "2.0-index", res.VersionName)
	assert.False(t, res.VersionFallback)

	res = r.Resolve(idx, fdroid.App{PackageName: "com.example.app", SuggestedVersionCode: 3}, "")
	assert.Equal(t, "3", res.VersionName)
	assert.Equal(t, "3", res.VersionString)
	assert.True(t, res.VersionFallback)
}

func TestChangelogPrecedence(t *testing.T) {
	app := fdroid.App{
		PackageName:          "com.example.app",
		SuggestedVersionCode: 2,
		SuggestedVersionName: "2.0",
		Localized:            map[string]fdroid.Localized{"en-US": {WhatsNew: "from index\n"}},
	}

	src := fakeSource{changelogs: map[string]string{key("com.example.app", 2): "from fastlane\n\n"}}
	res := New(src, "en-US", logx.Nop()).Resolve(testIndex(), app, "")
	assert.True(t, res.HasChangelog)
	assert.Equal(t, ChangelogFastlane, res.ChangelogSource)
	// only one trailing newline is stripped
	assert.Equal(t, "from fastlane\n", res.Changelog)

	res = New(fakeSource{}, "en-US", logx.Nop()).Resolve(testIndex(), app, "")
	assert.Equal(t, ChangelogIndex, res.ChangelogSource)
	assert.Equal(t, "from index", res.Changelog)

	app.Localized = nil
	res = New(fakeSource{}, "en-US", logx.Nop()).Resolve(testIndex(), app, "")
	assert.False(t, res.HasChangelog)
	assert.Empty(t, res.Changelog)
}

func TestEmptyChangelogFileFallsThrough(t *testing.T) {
	app := fdroid.App{
		PackageName:          "com.example.app",
		SuggestedVersionCode: 2,
		SuggestedVersionName: "2.0",
		Localized:            map[string]fdroid.Localized{"en-US": {WhatsNew: "from index\n"}},
	}
	for _, body := range []string{"", "\n"} {
		src := fakeSource{changelogs: map[string]string{key("com.example.app", 2): body}}
		res := New(src, "en-US", logx.Nop()).Resolve(testIndex(), app, "")
		assert.Equal(t, ChangelogIndex, res.ChangelogSource, "%q", body)
		assert.Equal(t, "from index", res.Changelog)
	}

	app.Localized = nil
	src := fakeSource{changelogs: map[string]string{key("com.example.app", 2): "\n"}}
	res := New(src, "en-US", logx.Nop()).Resolve(testIndex(), app, "")
	assert.False(t, res.HasChangelog)
}

func TestRevisionLink(t *testing.T) {
	src := fakeSource{commits: map[string]string{key("com.example.app", 2): "abc123"}}
	r := New(src, "", logx.Nop())

	cases := []struct {
		name   string
		source string
		want   string
	}{
		{"github", "https://github.com/owner/app", "[2.0](https://github.com/owner/app/commits/abc123)"},
		{"gitlab", "https://gitlab.com/owner/app", "[2.0](https://gitlab.com/owner/app/-/commit/abc123)"},
		{"codeberg", "https://codeberg.org/owner/app", "[2.0](https://codeberg.org/owner/app/commit/abc123)"},
		{"subdirectory", "https://github.com/owner/app/tree/main", "2.0"},
		{"trailing slash", "https://github.com/owner/app/", "2.0"},
		{"plain http", "http://github.com/owner/app", "2.0"},
		{"unknown host", "https://git.example.org/owner/app", "2.0"},
		{"no source", "", "2.0"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			app := fdroid.App{PackageName: "com.example.app", SuggestedVersionCode: 2, SuggestedVersionName: "2.0", SourceCode: tc.source}
			res := r.Resolve(testIndex(), app, "")
			assert.Equal(t, tc.want, res.VersionString)
			assert.Equal(t, "2.0", res.VersionName)
		})
	}
}

func TestRevisionLookupFailureDegrades(t *testing.T) {
	r := New(fakeSource{commitErr: errors.New("permission denied")}, "", logx.Nop())
	app := fdroid.App{PackageName: "com.example.app", SuggestedVersionCode: 2, SuggestedVersionName: "2.0", SourceCode: "https://github.com/owner/app"}
	res := r.Resolve(testIndex(), app, "")
	assert.Equal(t, "2.0", res.VersionString)
	assert.Empty(t, res.RevisionURL)
}

func TestDownloadURL(t *testing.T) {
	r := New(nil, "", logx.Nop())
	app := fdroid.App{PackageName: "com.example.app", SuggestedVersionCode: 2, SuggestedVersionName: "2.0"}
	res := r.Resolve(testIndex(), app, "https://example.org/repo")
	assert.Equal(t, "https://example.org/repo/com.example.app_2.apk", res.DownloadURL)
}
