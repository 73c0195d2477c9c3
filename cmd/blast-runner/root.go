package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/tastythames/blast-runner/internal/config"
	"github.com/tastythames/blast-runner/internal/job"
	"github.com/tastythames/blast-runner/internal/remote"
	"github.com/tastythames/blast-runner/internal/sshclient"
	"github.com/tastythames/blast-runner/internal/status"
)

// app carries what every subcommand shares.
type app struct {
	cfgPath       string
	verbose       bool
	metricsListen string

	cfg     *config.Config
	log     zerolog.Logger
	session *remote.Session
	jobs    *status.MemStore
}

func getenv(k, fb string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return fb
}

func newRootCmd() *cobra.Command {
	a := &app{jobs: status.NewMemStore()}

	root := &cobra.Command{
		Use:          "blast-runner",
		Short:        "Run BLAST on a remote host over SSH and resolve NCBI accessions",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			a.log = newLogger(cmd.ErrOrStderr(), a.verbose)
			cfg, err := config.Load(a.cfgPath)
			if err != nil {
				return err
			}
			a.cfg = cfg
			a.log.Debug().Str("config", a.cfgPath).Str("host", cfg.SSH.Host).Msg("config loaded")
			return nil
		},
	}
	root.SetContext(context.Background())

	root.PersistentFlags().StringVarP(&a.cfgPath, "config", "c", getenv(config.EnvConfigPath, ""), "profile file (YAML)")
	root.PersistentFlags().BoolVarP(&a.verbose, "verbose", "v", false, "debug logging")
	root.PersistentFlags().StringVar(&a.metricsListen, "metrics-listen", "", "serve /health and /metrics on this address while a job runs")

	root.AddCommand(
		a.checkCmd(),
		a.buildDBCmd(),
		a.alignCmd(),
		a.verifyDBCmd(),
		a.envsCmd(),
		a.verifyEnvCmd(),
		a.resolveCmd(),
	)
	return root
}

func newLogger(w io.Writer, verbose bool) zerolog.Logger {
	level := zerolog.InfoLevel
	if verbose {
		level = zerolog.DebugLevel
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: w, TimeFormat: "15:04:05"}).
		Level(level).
		With().
		Timestamp().
		Logger()
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

// connect opens the shared session with the profile's target.
func (a *app) connect(ctx context.Context) error {
	pw, err := a.cfg.SSH.Password()
	if err != nil {
		return fmt.Errorf("ssh credentials: %w", err)
	}
	if a.cfg.SSH.Host == "" {
		return errors.New("ssh host is not configured")
	}

	tc := sshclient.FromProfile(a.cfg.SSH)
	a.session = remote.NewSession(sshclient.Dialer(tc), tc.Timeout, remote.WithLogger(a.log))
	t := remote.Target{Host: a.cfg.SSH.Host, User: a.cfg.SSH.User, Secret: pw}
	return a.session.Connect(ctx, t, 0)
}

func (a *app) disconnect() {
	if a.session != nil {
		a.session.Disconnect()
	}
}

// runner hands jobs the current session on every call.
func (a *app) runner() *remote.Runner {
	return remote.NewRunner(func() *remote.Session { return a.session })
}

// report turns a terminal outcome into command output and an exit status.
func (a *app) report(cmd *cobra.Command, out job.Outcome) error {
	w := cmd.OutOrStdout()
	switch out.Status {
	case job.Succeeded:
		fmt.Fprintln(w, out.Message)
		if out.ResultPath != "" {
			fmt.Fprintf(w, "result: %s\n", out.ResultPath)
		}
		if out.Detail != "" {
			fmt.Fprintln(w, out.Detail)
		}
		return nil
	case job.Cancelled:
		a.log.Warn().Msg(out.Message)
		return nil
	default:
		return errors.New(out.Message)
	}
}
