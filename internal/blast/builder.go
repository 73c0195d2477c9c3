// Package blast runs makeblastdb and blastn on the remote host.
package blast

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/tastythames/blast-runner/internal/config"
	"github.com/tastythames/blast-runner/internal/job"
	"github.com/tastythames/blast-runner/internal/remote"
)

// Remote is what the jobs need from the session layer; *remote.Runner
// satisfies it.
type Remote interface {
	Run(ctx context.Context, cmd string, timeout time.Duration) (remote.CommandResult, error)
	Upload(ctx context.Context, localPath, remotePath string) error
	Download(ctx context.Context, remotePath, localPath string) error
}

const mkdirTimeout = 10 * time.Second

type BuildRequest struct {
	FastaPath string
	Name      string
}

// Builder creates custom nucleotide databases. Every build lives in its own
// timestamped directory and nothing is cleaned up afterwards.
type Builder struct {
	remote  Remote
	workDir string
	tool    string
	timeout time.Duration
	now     func() time.Time
	log     zerolog.Logger
}

func NewBuilder(r Remote, cfg config.RemoteConfig, log zerolog.Logger) *Builder {
	return &Builder{
		remote:  r,
		workDir: strings.TrimRight(cfg.WorkDir, "/"),
		tool:    cfg.MakeBlastDB,
		timeout: cfg.BuildTimeout,
		now:     time.Now,
		log:     log.With().Str("component", "dbbuild").Logger(),
	}
}

func (b *Builder) Start(ctx context.Context, req BuildRequest) *job.Task {
	return job.Start(ctx, "build-db", func(ctx context.Context, rep *job.Reporter) job.Outcome {
		return b.build(ctx, req, rep)
	})
}

func (b *Builder) build(ctx context.Context, req BuildRequest, rep *job.Reporter) job.Outcome {
	if err := checkLocalFile(req.FastaPath); err != nil {
		return job.Failure(fmt.Sprintf("database build failed: %v", err))
	}
	if strings.TrimSpace(req.Name) == "" {
		return job.Failure("database build failed: database name is empty")
	}
	if ctx.Err() != nil {
		return job.CancelledOutcome()
	}

	dir := fmt.Sprintf("%s/custom_dbs/%s_%d", b.workDir, req.Name, b.now().Unix())
	remoteFasta := dir + "/source.fasta"
	prefix := dir + "/" + req.Name
	log := b.log.With().Str("db", req.Name).Str("dir", dir).Logger()

	// exit code ignored, a missing dir surfaces at upload
	if _, err := b.remote.Run(ctx, cmdMkdir(dir), mkdirTimeout); err != nil {
		return job.Failure(fmt.Sprintf("database build failed: %v", err))
	}

	rep.Message("uploading sequence file")
	if err := b.remote.Upload(ctx, req.FastaPath, remoteFasta); err != nil {
		if ctx.Err() != nil {
			return job.CancelledOutcome()
		}
		return job.Failure(fmt.Sprintf("database build failed: %v", err))
	}
	if ctx.Err() != nil {
		return job.CancelledOutcome()
	}

	rep.Message("building index on server (makeblastdb)")
	log.Info().Msg("makeblastdb dispatched")
	// no cancellation once the build is running remotely
	res, err := b.remote.Run(context.WithoutCancel(ctx), cmdMakeBlastDB(b.tool, remoteFasta, prefix, req.Name), b.timeout)
	if err != nil {
		return job.Failure(fmt.Sprintf("database build failed: %v", err))
	}
	if res.ExitCode != 0 {
		log.Warn().Int("exit_code", res.ExitCode).Msg("makeblastdb failed")
		return job.Failure(fmt.Sprintf("database build failed: %s", strings.TrimSpace(res.Stderr)))
	}

	log.Info().Str("prefix", prefix).Msg("database built")
	return job.Success(fmt.Sprintf("database '%s' built", req.Name), prefix)
}

func checkLocalFile(p string) error {
	if p == "" {
		return fmt.Errorf("no local file given")
	}
	fi, err := os.Stat(p)
	if err != nil {
		return err
	}
	if fi.IsDir() {
		return fmt.Errorf("%s is a directory", p)
	}
	if fi.Size() == 0 {
		return fmt.Errorf("%s is empty", p)
	}
	return nil
}
