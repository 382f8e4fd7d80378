package compose

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"
	"unicode/utf8"
)

// Environment keys handed to hooks. Existing hook scripts depend on these names.
const (
	EnvPackageName  = "packageName"
	EnvAppName      = "appName"
	EnvVersion      = "versionString"
	EnvRepoName     = "repo_name"
	EnvRepoURL      = "repo_url"
	EnvRepoString   = "repoString"
	EnvMsg          = "msg"
	EnvFormattedMsg = "formatted_msg"
	EnvChanges      = "changes"
	EnvDownloadURL  = "downloadUrl"
)

// HookRunner executes one hook invocation and returns its standard output.
type HookRunner interface {
	Run(ctx context.Context, path string, env []string) ([]byte, error)
}

// HookError is returned for any failed hook invocation: start failure,
// non-zero exit, timeout, or output that is not valid UTF-8.
type HookError struct {
	Path     string
	Pass     string
	ExitCode int
	Stderr   string
	Err      error
}

func (e *HookError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "hook %s (%s pass)", e.Path, e.Pass)
	if e.ExitCode > 0 {
		fmt.Fprintf(&b, " exited with status %d", e.ExitCode)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	if e.Stderr != "" {
		b.WriteString(": ")
		b.WriteString(e.Stderr)
	}
	return b.String()
}

func (e *HookError) Unwrap() error { return e.Err }

var ErrHookOutputNotUTF8 = errors.New("hook output is not valid UTF-8")

// ExecRunner runs hooks as child processes in Dir with a per-invocation timeout.
type ExecRunner struct {
	Dir     string
	Timeout time.Duration
}

const stderrTail = 512

func (r ExecRunner) Run(ctx context.Context, path string, env []string) ([]byte, error) {
	if r.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.Timeout)
		defer cancel()
	}
	if !filepath.IsAbs(path) && r.Dir != "" && strings.ContainsRune(path, filepath.Separator) {
		path = filepath.Join(r.Dir, path)
	}

	cmd := exec.CommandContext(ctx, path)
	cmd.Dir = r.Dir
	cmd.Env = env
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	// Don't wait forever on grandchildren holding the pipes after a kill.
	cmd.WaitDelay = 2 * time.Second

	err := cmd.Run()
	if err != nil {
		herr := &HookError{Path: path, Stderr: tail(stderr.String(), stderrTail), Err: err}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			herr.ExitCode = exitErr.ExitCode()
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			herr.Err = fmt.Errorf("%w (%v)", ctxErr, err)
		}
		return nil, herr
	}
	if !utf8.Valid(stdout.Bytes()) {
		return nil, &HookError{Path: path, Err: ErrHookOutputNotUTF8}
	}
	return stdout.Bytes(), nil
}

func tail(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return "..." + s[len(s)-n:]
}

// hookEnv overlays vars on the process environment. Keys in drop are removed,
// so an inherited "changes" never leaks into a hook when there is no changelog.
func hookEnv(base []string, vars map[string]string, drop ...string) []string {
	skip := make(map[string]bool, len(vars)+len(drop))
	for k := range vars {
		skip[k] = true
	}
	for _, k := range drop {
		skip[k] = true
	}
	out := make([]string, 0, len(base)+len(vars))
	for _, kv := range base {
		k, _, _ := strings.Cut(kv, "=")
		if skip[k] {
			continue
		}
		out = append(out, kv)
	}
	for k, v := range vars {
		out = append(out, k+"="+v)
	}
	return out
}

func processEnv() []string { return os.Environ() }
