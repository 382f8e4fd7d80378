package compose

import (
	"context"
	"errors"
	"strings"
	"testing"

	logx "fdroidbot/pkg/logx"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func golden(t *testing.T) *goldie.Goldie {
	t.Helper()
	return goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
}

func sampleInput() Input {
	return Input{
		PackageName:   "com.example.app",
		AppName:       "Example",
		VersionName:   "2.1",
		VersionString: "2.1",
		RepoName:      "My Repo",
		RepoURL:       "https://example.org/fdroid/repo",
		Changelog:     "Fixed crash",
		HasChangelog:  true,
	}
}

func TestComposeWithoutHooks(t *testing.T) {
	c := New(nil, nil, logx.Nop())
	msg, err := c.Compose(context.Background(), sampleInput(), nil)
	require.NoError(t, err)

	g := golden(t)
	g.Assert(t, "update_with_changes", []byte(msg.Plain))
	g.Assert(t, "update_with_changes_rich", []byte(msg.Rich))
	assert.False(t, msg.Empty())
}

func TestPlainWithoutChangelogOrRepoURL(t *testing.T) {
	in := sampleInput()
	in.RepoURL = ""
	in.HasChangelog = false
	in.Changelog = ""
	in.VersionString = "[2.1](https://github.com/owner/app/commits/abc123)"

	golden(t).Assert(t, "update_linked_no_url", []byte(Plain(in)))
	assert.NotContains(t, Plain(in), "Changes:")
}

func TestMentionsAreEscaped(t *testing.T) {
	in := sampleInput()
	in.Changelog = "Thanks @room and @roomie"
	plain := Plain(in)
	assert.NotContains(t, plain, "@room")
	assert.Contains(t, plain, "@\u2060room and @\u2060roomie")
}

// scriptedRunner answers hook invocations from a function and records the environments.
type scriptedRunner struct {
	calls []map[string]string
	reply func(call int, env map[string]string) (string, error)
}

func (r *scriptedRunner) Run(ctx context.Context, path string, env []string) ([]byte, error) {
	_ = ctx
	m := map[string]string{}
	for _, kv := range env {
		k, v, _ := strings.Cut(kv, "=")
		m[k] = v
	}
	r.calls = append(r.calls, m)
	out, err := r.reply(len(r.calls), m)
	if err != nil {
		return nil, err
	}
	return []byte(out), nil
}

func TestHookWithoutRichHandlingFallsBackToRenderer(t *testing.T) {
	runner := &scriptedRunner{reply: func(_ int, env map[string]string) (string, error) {
		return "**" + env[EnvAppName] + "** " + env[EnvVersion], nil
	}}
	c := New(nil, runner, logx.Nop())

	msg, err := c.Compose(context.Background(), sampleInput(), []string{"./hook.sh"})
	require.NoError(t, err)
	assert.Equal(t, "**Example** 2.1", msg.Plain)
	assert.Equal(t, "<p><strong>Example</strong> 2.1</p>\n", msg.Rich)

	require.Len(t, runner.calls, 2)
	first, second := runner.calls[0], runner.calls[1]
	assert.Equal(t, "", first[EnvFormattedMsg])
	assert.Equal(t, Plain(sampleInput()), first[EnvMsg])
	assert.Equal(t, "Fixed crash", first[EnvChanges])
	assert.Equal(t, "[My Repo](https://example.org/fdroid/repo)", first[EnvRepoString])
	assert.Equal(t, "<p><strong>Example</strong> 2.1</p>\n", second[EnvFormattedMsg])
	assert.Equal(t, first[EnvMsg], second[EnvMsg], "rich pass sees the same msg")
}

func TestHookRichOutputIsKept(t *testing.T) {
	runner := &scriptedRunner{reply: func(call int, env map[string]string) (string, error) {
		if env[EnvFormattedMsg] == "" {
			return "plain text", nil
		}
		return "<em>custom</em>", nil
	}}
	msg, err := New(nil, runner, logx.Nop()).Compose(context.Background(), sampleInput(), []string{"hook"})
	require.NoError(t, err)
	assert.Equal(t, "plain text", msg.Plain)
	assert.Equal(t, "<em>custom</em>", msg.Rich)
}

func TestHookChainSeesPreviousOutput(t *testing.T) {
	runner := &scriptedRunner{reply: func(call int, env map[string]string) (string, error) {
		return env[EnvMsg] + "!", nil
	}}
	msg, err := New(nil, runner, logx.Nop()).Compose(context.Background(), sampleInput(), []string{"pkg-hook", "all-hook"})
	require.NoError(t, err)
	assert.Equal(t, Plain(sampleInput())+"!!", msg.Plain)
	require.Len(t, runner.calls, 4)
	assert.Equal(t, Plain(sampleInput())+"!", runner.calls[2][EnvMsg])
}

func TestHookVeto(t *testing.T) {
	runner := &scriptedRunner{reply: func(int, map[string]string) (string, error) { return "\n", nil }}
	msg, err := New(nil, runner, logx.Nop()).Compose(context.Background(), sampleInput(), []string{"hook"})
	require.NoError(t, err)
	assert.True(t, msg.Empty())
}

func TestHookFailureIsReported(t *testing.T) {
	runner := &scriptedRunner{reply: func(call int, _ map[string]string) (string, error) {
		if call == 2 {
			return "", errors.New("boom")
		}
		return "ok", nil
	}}
	_, err := New(nil, runner, logx.Nop()).Compose(context.Background(), sampleInput(), []string{"hook"})
	var herr *HookError
	require.ErrorAs(t, err, &herr)
	assert.Equal(t, "rich", herr.Pass)
	assert.Equal(t, "hook", herr.Path)
}

func TestHookEnvDropsInheritedChanges(t *testing.T) {
	runner := &scriptedRunner{reply: func(int, map[string]string) (string, error) { return "x", nil }}
	c := New(nil, runner, logx.Nop())
	c.environ = func() []string { return []string{"PATH=/bin", "changes=stale", "msg=stale"} }

	in := sampleInput()
	in.HasChangelog = false
	_, err := c.Compose(context.Background(), in, []string{"hook"})
	require.NoError(t, err)

	env := runner.calls[0]
	_, has := env[EnvChanges]
	assert.False(t, has)
	_, has = env[EnvDownloadURL]
	assert.False(t, has)
	assert.Equal(t, "/bin", env["PATH"])
	assert.Equal(t, Plain(in), env[EnvMsg])
}

func TestChooseRich(t *testing.T) {
	assert.Equal(t, "rendered", chooseRich("same", "same", "rendered"))
	assert.Equal(t, "different", chooseRich("same", "different", "rendered"))
}
