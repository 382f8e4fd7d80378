// Package compose builds update notification messages.
//
// The plain message is markdown; the rich message is its HTML rendering. A
// repository can configure hooks that rewrite the message. Each hook runs
// twice:
//
//  1. plain pass: formatted_msg is empty, stdout becomes the plain message;
//  2. rich pass: the same environment, except formatted_msg holds the rendered
//     plain-pass output; stdout becomes the rich message.
//
// If the rich pass prints exactly what the plain pass printed, the hook did no
// rich-specific work and the rich message is rendered from the plain output
// instead.
package compose

import (
	"context"
	"errors"
	"fmt"
	"strings"

	logx "fdroidbot/pkg/logx"
)

// A WORD JOINER after the "@" stops clients from treating it as a room mention.
var mentionEscape = strings.NewReplacer("@room", "@\u2060room")

// EscapeMentions neutralizes "@room" broadcast mentions.
func EscapeMentions(s string) string { return mentionEscape.Replace(s) }

// Input describes one update, as resolved from the repository.
type Input struct {
	PackageName string
	AppName     string
	// VersionName is the plain version; VersionString may be a markdown link.
	VersionName   string
	VersionString string

	RepoName string
	RepoURL  string

	Changelog    string
	HasChangelog bool

	DownloadURL string
}

// Message is a composed notification body.
type Message struct {
	Plain string
	Rich  string
}

// Empty reports whether the message has no content worth sending. Hooks veto
// a notification by printing nothing.
func (m Message) Empty() bool { return strings.TrimSpace(m.Plain) == "" }

// RepoString is the repository reference used in messages.
func RepoString(name, url string) string {
	if strings.TrimSpace(url) == "" {
		return name
	}
	return "[" + name + "](" + url + ")"
}

// Plain builds the canonical plain message.
func Plain(in Input) string {
	version := in.VersionString
	if version == "" {
		version = in.VersionName
	}
	msg := fmt.Sprintf("%s updated %s to version %s.", RepoString(in.RepoName, in.RepoURL), in.AppName, version)
	if in.HasChangelog {
		msg += "\n\nChanges:\n\n" + EscapeMentions(in.Changelog)
	}
	return msg
}

type Composer struct {
	renderer Renderer
	runner   HookRunner
	log      logx.Logger

	environ func() []string
}

func New(renderer Renderer, runner HookRunner, log logx.Logger) *Composer {
	if renderer == nil {
		renderer = NewMarkdown()
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Composer{renderer: renderer, runner: runner, log: log, environ: processEnv}
}

// Compose builds the message and runs the given hooks over it in order. Each
// hook sees the previous hook's output as msg.
func (c *Composer) Compose(ctx context.Context, in Input, hooks []string) (Message, error) {
	plain := Plain(in)
	rich, err := c.renderer.Render(plain)
	if err != nil {
		return Message{}, fmt.Errorf("render message: %w", err)
	}
	msg := Message{Plain: plain, Rich: rich}

	for _, hook := range hooks {
		c.log.Info("running message hook", logx.String("hook", hook), logx.String("pkg", in.PackageName))
		msg, err = c.applyHook(ctx, hook, in, msg.Plain)
		if err != nil {
			return Message{}, err
		}
	}
	return msg, nil
}

func (c *Composer) applyHook(ctx context.Context, hook string, in Input, plain string) (Message, error) {
	if c.runner == nil {
		return Message{}, &HookError{Path: hook, Pass: "plain", Err: fmt.Errorf("no hook runner configured")}
	}
	vars := map[string]string{
		EnvPackageName:  in.PackageName,
		EnvAppName:      in.AppName,
		EnvVersion:      in.VersionName,
		EnvRepoName:     in.RepoName,
		EnvRepoURL:      in.RepoURL,
		EnvRepoString:   RepoString(in.RepoName, in.RepoURL),
		EnvMsg:          plain,
		EnvFormattedMsg: "",
	}
	var drop []string
	if in.HasChangelog {
		vars[EnvChanges] = EscapeMentions(in.Changelog)
	} else {
		drop = append(drop, EnvChanges)
	}
	if in.DownloadURL != "" {
		vars[EnvDownloadURL] = in.DownloadURL
	} else {
		drop = append(drop, EnvDownloadURL)
	}

	// plain pass
	out, err := c.runner.Run(ctx, hook, hookEnv(c.environ(), vars, drop...))
	if err != nil {
		return Message{}, withPass(err, hook, "plain")
	}
	newPlain := string(out)
	rendered, err := c.renderer.Render(newPlain)
	if err != nil {
		return Message{}, fmt.Errorf("render hook output: %w", err)
	}

	// rich pass: same environment, plus the rendered plain output
	vars[EnvFormattedMsg] = rendered
	out, err = c.runner.Run(ctx, hook, hookEnv(c.environ(), vars, drop...))
	if err != nil {
		return Message{}, withPass(err, hook, "rich")
	}

	return Message{Plain: newPlain, Rich: chooseRich(newPlain, string(out), rendered)}, nil
}

// chooseRich applies the "outputs equal => standard renderer" rule.
func chooseRich(plainOut, richOut, rendered string) string {
	if richOut == plainOut {
		return rendered
	}
	return richOut
}

func withPass(err error, hook, pass string) error {
	var herr *HookError
	if errors.As(err, &herr) {
		herr.Pass = pass
		if herr.Path == "" {
			herr.Path = hook
		}
		return herr
	}
	return &HookError{Path: hook, Pass: pass, Err: err}
}
