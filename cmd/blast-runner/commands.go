package main

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/tastythames/blast-runner/internal/accession"
	"github.com/tastythames/blast-runner/internal/blast"
	"github.com/tastythames/blast-runner/internal/config"
	"github.com/tastythames/blast-runner/internal/job"
	"github.com/tastythames/blast-runner/internal/scheduler"
	"github.com/tastythames/blast-runner/internal/tabular"
)

func (a *app) checkCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Connect to the remote host and run a health check",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := signalContext(cmd.Context())
			defer cancel()

			if err := a.connect(ctx); err != nil {
				return err
			}
			defer a.disconnect()

			mon := scheduler.NewMonitor(a.session, scheduler.Options{Logger: a.log})
			if !mon.Check(ctx) {
				return fmt.Errorf("%s: health check failed", a.cfg.SSH.Host)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "connected to %s as %s\n", a.cfg.SSH.Host, a.cfg.SSH.User)
			return nil
		},
	}
}

// remoteJob connects, runs the job built by start, and reports its outcome.
func (a *app) remoteJob(cmd *cobra.Command, kind string, start func(context.Context) *job.Task) (job.Outcome, error) {
	ctx, cancel := signalContext(cmd.Context())
	defer cancel()

	if err := a.connect(ctx); err != nil {
		return job.Outcome{}, err
	}
	defer a.disconnect()

	out, err := a.runTask(ctx, kind, start)
	if err != nil {
		return out, err
	}
	return out, a.report(cmd, out)
}

func (a *app) buildDBCmd() *cobra.Command {
	var req blast.BuildRequest
	cmd := &cobra.Command{
		Use:   "build-db",
		Short: "Upload a FASTA file and build a nucleotide database from it",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			b := blast.NewBuilder(a.runner(), a.cfg.Remote, a.log)
			_, err := a.remoteJob(cmd, "build-db", func(ctx context.Context) *job.Task {
				return b.Start(ctx, req)
			})
			return err
		},
	}
	cmd.Flags().StringVar(&req.FastaPath, "fasta", "", "local FASTA file")
	cmd.Flags().StringVar(&req.Name, "name", "", "database name")
	_ = cmd.MarkFlagRequired("fasta")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func (a *app) alignCmd() *cobra.Command {
	var (
		query, db, task, blastBin string
		top                       int
	)
	cmd := &cobra.Command{
		Use:   "align",
		Short: "Run blastn for a local query against a remote database",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			mode, err := blast.ParseMode(task)
			if err != nil {
				return err
			}
			outDir, err := config.EnsureOutputDir(a.cfg.Local.OutputDir)
			if err != nil {
				return err
			}
			req := blast.AlignRequest{
				QueryPath: query,
				DBPath:    a.cfg.Remote.ResolveDatabase(db),
				Mode:      mode,
				BlastBin:  blastBin,
			}
			al := blast.NewAligner(a.runner(), a.cfg.Remote, outDir, a.log)
			out, err := a.remoteJob(cmd, "align", func(ctx context.Context) *job.Task {
				return al.Start(ctx, req)
			})
			if err != nil || !out.OK() || top <= 0 {
				return err
			}
			return printHits(cmd.OutOrStdout(), out.ResultPath, top)
		},
	}
	cmd.Flags().StringVar(&query, "query", "", "local FASTA query")
	cmd.Flags().StringVar(&db, "db", "", "database name from the profile, or a remote path prefix")
	cmd.Flags().StringVar(&task, "task", string(blast.Megablast), "megablast, dc-megablast, blastn or blastn-short")
	cmd.Flags().StringVar(&blastBin, "blast-bin", "", "override the configured blastn path")
	cmd.Flags().IntVar(&top, "top", 10, "print this many hits (0 to skip)")
	_ = cmd.MarkFlagRequired("query")
	_ = cmd.MarkFlagRequired("db")
	return cmd
}

// printHits writes the first top hits of an outfmt 6 result as a table.
func printHits(w io.Writer, path string, top int) error {
	hits, err := blast.ReadHits(path, top)
	if err != nil {
		return fmt.Errorf("read hits: %w", err)
	}
	if len(hits) == 0 {
		return nil
	}
	fmt.Fprintln(w)
	return blast.WriteHits(w, hits)
}

func (a *app) verifyDBCmd() *cobra.Command {
	var db string
	cmd := &cobra.Command{
		Use:   "verify-db",
		Short: "Check that a remote database can be read by blastdbcmd",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			v := blast.NewVerifier(a.runner(), a.log)
			path := a.cfg.Remote.ResolveDatabase(db)
			_, err := a.remoteJob(cmd, "verify-db", func(ctx context.Context) *job.Task {
				return v.Start(ctx, path, a.cfg.Remote.BlastBin)
			})
			return err
		},
	}
	cmd.Flags().StringVar(&db, "db", "", "database name from the profile, or a remote path prefix")
	_ = cmd.MarkFlagRequired("db")
	return cmd
}

func (a *app) envsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "envs",
		Short: "List conda environments on the remote host",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			l := blast.NewEnvLister(a.runner(), a.log)
			_, err := a.remoteJob(cmd, "envs", l.Start)
			return err
		},
	}
}

func (a *app) verifyEnvCmd() *cobra.Command {
	var project, env string
	cmd := &cobra.Command{
		Use:   "verify-env",
		Short: "Check the remote project directory and conda environment",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if project == "" {
				project = a.cfg.Remote.ProjectDir
			}
			if env == "" {
				env = a.cfg.Remote.CondaEnv
			}
			if project == "" || env == "" {
				return errors.New("verify-env needs --project and --env (or remote.project_dir and remote.conda_env)")
			}
			v := blast.NewEnvVerifier(a.runner(), a.log)
			_, err := a.remoteJob(cmd, "verify-env", func(ctx context.Context) *job.Task {
				return v.Start(ctx, project, env)
			})
			return err
		},
	}
	cmd.Flags().StringVar(&project, "project", "", "remote project directory (default remote.project_dir)")
	cmd.Flags().StringVar(&env, "env", "", "remote conda environment prefix (default remote.conda_env)")
	return cmd
}

func (a *app) resolveCmd() *cobra.Command {
	var req accession.Request
	cmd := &cobra.Command{
		Use:   "resolve",
		Short: "Fill NCBI scientific names, links and accessions into a spreadsheet",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := signalContext(cmd.Context())
			defer cancel()

			client := accession.NewClient(a.cfg.NCBI.BaseURL, a.cfg.NCBI.APIKey(), accession.WithLogger(a.log))
			if !client.Authenticated() {
				a.log.Info().Msg("no NCBI API key, rows are rate limited")
			}
			j := accession.NewJob(client, tabular.Files{}, client.Authenticated(), a.log)

			out, err := a.runTask(ctx, "resolve", func(ctx context.Context) *job.Task {
				return j.Start(ctx, req)
			})
			if err != nil {
				return err
			}
			return a.report(cmd, out)
		},
	}
	cmd.Flags().StringVar(&req.Path, "file", "", "spreadsheet (.xlsx or .csv)")
	cmd.Flags().StringVar(&req.Column, "column", "", "column holding organism names or taxonomy ids")
	_ = cmd.MarkFlagRequired("file")
	_ = cmd.MarkFlagRequired("column")
	return cmd
}
