package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"fdroidbot/internal/app"
	"fdroidbot/internal/engine"

	"github.com/spf13/cobra"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var opts app.Options

	open := func(cmd *cobra.Command) (*app.App, error) {
		o := opts
		o.Stdin = cmd.InOrStdin()
		o.Stdout = cmd.OutOrStdout()
		return app.New(o)
	}

	runPass := func(cmd *cobra.Command, _ []string) error {
		a, err := open(cmd)
		if err != nil {
			return err
		}
		defer a.Close()
		_, err = a.RunOnce(cmd.Context())
		return err
	}

	root := &cobra.Command{
		Use:   "fdroidbot",
		Short: "Announce new F-Droid repository versions in chat",
		Long: `fdroidbot compares the versions published in F-Droid repository indexes with
the versions it announced last, and posts a message for every update.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.NoArgs,
		RunE:          runPass,
	}

	pf := root.PersistentFlags()
	pf.StringVar(&opts.ConfigPath, "config", "./bot.yaml", "path to the configuration file (YAML or JSON)")
	pf.BoolVarP(&opts.Verbose, "verbose", "v", false, "debug logging")
	pf.BoolVarP(&opts.Confirm, "require-confirmation", "c", false, "ask before every message is sent")
	pf.BoolVar(&opts.Resend, "resend", false, "announce every package again, even when already announced")
	pf.StringVarP(&opts.Redirect, "redirect-room", "r", "", "send every message to this channel and record nothing")
	pf.StringVarP(&opts.Package, "package", "p", "", "only process this package id")
	pf.StringVar(&opts.EnvFile, "env-file", "", "load environment variables from this file (default: .env next to the config)")
	pf.StringVar(&opts.MetricsTextfile, "metrics-textfile", "", "write Prometheus metrics to this file after the pass")

	root.AddCommand(&cobra.Command{
		Use:   "run",
		Short: "Run one update pass (default)",
		Args:  cobra.NoArgs,
		RunE:  runPass,
	})
	root.AddCommand(newDaemonCmd(open))
	root.AddCommand(newPendingCmd(open))
	root.AddCommand(newVersionsCmd(open))
	return root
}

type opener func(cmd *cobra.Command) (*app.App, error)

func newDaemonCmd(open opener) *cobra.Command {
	var (
		schedule    string
		watch       bool
		metricsAddr string
	)
	cmd := &cobra.Command{
		Use:   "daemon",
		Short: "Run passes on a schedule and whenever an index changes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := open(cmd)
			if err != nil {
				return err
			}
			defer a.Close()
			dopts, err := a.DaemonOptions(schedule, watch, metricsAddr)
			if err != nil {
				return err
			}
			return a.Daemon(cmd.Context(), dopts)
		},
	}
	cmd.Flags().StringVar(&schedule, "schedule", "", "cron spec for scheduled passes (overrides daemon.schedule)")
	cmd.Flags().BoolVar(&watch, "watch", false, "run a pass when a repository index changes")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address")
	return cmd
}

func newPendingCmd(open opener) *cobra.Command {
	return &cobra.Command{
		Use:   "pending",
		Short: "List updates the next pass would announce",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := open(cmd)
			if err != nil {
				return err
			}
			defer a.Close()
			pending, err := a.Pending(cmd.Context())
			if err != nil {
				return err
			}
			printPending(cmd, pending)
			return nil
		},
	}
}

func printPending(cmd *cobra.Command, pending []engine.Pending) {
	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "REPO\tPACKAGE\tSTORED\tPUBLISHED\tNOTE")
	for _, p := range pending {
		note := ""
		if p.ArtifactMissing {
			note = "artifact missing"
		}
		fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%s\n", p.RepoID, p.PackageName, p.Stored, p.Observed, note)
	}
	_ = tw.Flush()
}

func newVersionsCmd(open opener) *cobra.Command {
	return &cobra.Command{
		Use:   "versions",
		Short: "Print the recorded version of every package",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := open(cmd)
			if err != nil {
				return err
			}
			defer a.Close()
			entries, err := a.Versions(cmd.Context())
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "REPO\tPACKAGE\tVERSION CODE")
			for _, e := range entries {
				fmt.Fprintf(tw, "%s\t%s\t%d\n", e.RepoID, e.PackageName, e.VersionCode)
			}
			return tw.Flush()
		},
	}
}
