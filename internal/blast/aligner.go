package blast

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/tastythames/blast-runner/internal/config"
	"github.com/tastythames/blast-runner/internal/job"
)

type AlignRequest struct {
	QueryPath string
	DBPath    string // remote database path prefix
	Mode      Mode
	BlastBin  string // overrides the configured blastn when set
}

type Aligner struct {
	remote     Remote
	workDir    string
	blastBin   string
	outputDir  string
	maxTargets int
	timeout    time.Duration
	now        func() time.Time
	log        zerolog.Logger
}

func NewAligner(r Remote, rc config.RemoteConfig, outputDir string, log zerolog.Logger) *Aligner {
	return &Aligner{
		remote:     r,
		workDir:    strings.TrimRight(rc.WorkDir, "/"),
		blastBin:   rc.BlastBin,
		outputDir:  outputDir,
		maxTargets: rc.MaxTargetSeqs,
		timeout:    rc.AlignTimeout,
		now:        time.Now,
		log:        log.With().Str("component", "align").Logger(),
	}
}

func (a *Aligner) Start(ctx context.Context, req AlignRequest) *job.Task {
	return job.Start(ctx, "align", func(ctx context.Context, rep *job.Reporter) job.Outcome {
		return a.align(ctx, req, rep)
	})
}

func (a *Aligner) align(ctx context.Context, req AlignRequest, rep *job.Reporter) job.Outcome {
	if err := checkLocalFile(req.QueryPath); err != nil {
		return job.Failure(fmt.Sprintf("alignment failed: %v", err))
	}
	if _, err := ParseMode(string(req.Mode)); err != nil {
		return job.Failure(fmt.Sprintf("alignment failed: %v", err))
	}
	if req.DBPath == "" {
		return job.Failure("alignment failed: no database path")
	}

	ts := a.now().Unix()
	remoteIn := fmt.Sprintf("%s/in_%d_%s", a.workDir, ts, filepath.Base(req.QueryPath))
	remoteOut := remoteIn + ".out"

	if err := os.MkdirAll(a.outputDir, 0o755); err != nil {
		return job.Failure(fmt.Sprintf("alignment failed: create output dir: %v", err))
	}
	localOut := filepath.Join(a.outputDir, fmt.Sprintf("blast_res_%d.txt", ts))
	log := a.log.With().Str("query", req.QueryPath).Str("db", req.DBPath).Str("task", string(req.Mode)).Logger()

	if ctx.Err() != nil {
		return job.CancelledOutcome()
	}
	rep.Message("uploading query sequences")
	if err := a.remote.Upload(ctx, req.QueryPath, remoteIn); err != nil {
		if ctx.Err() != nil {
			return job.CancelledOutcome()
		}
		return job.Failure(fmt.Sprintf("alignment failed: %v", err))
	}
	if ctx.Err() != nil {
		return job.CancelledOutcome()
	}

	bin := a.blastBin
	if req.BlastBin != "" {
		bin = req.BlastBin
	}
	tool := ResolveTool(bin, "blastn")

	// past this point the job runs to completion
	ctx = context.WithoutCancel(ctx)

	rep.Message("running remote alignment (%s)", req.Mode)
	log.Info().Str("tool", tool).Msg("blastn dispatched")
	res, err := a.remote.Run(ctx, cmdBlastn(tool, remoteIn, req.DBPath, req.Mode, remoteOut, a.maxTargets), a.timeout)
	if err != nil {
		return job.Failure(fmt.Sprintf("alignment failed: %v", err))
	}
	if res.ExitCode != 0 {
		log.Warn().Int("exit_code", res.ExitCode).Msg("blastn failed")
		return job.Failure(fmt.Sprintf("alignment failed: %s", strings.TrimSpace(res.Stderr)))
	}

	rep.Message("retrieving results")
	if err := a.remote.Download(ctx, remoteOut, localOut); err != nil {
		return job.Failure(fmt.Sprintf("alignment failed: %v", err))
	}

	out := job.Success("alignment finished, results saved locally", localOut)
	out.Detail = Summarize(localOut)
	if hits, err := ReadHits(localOut, 0); err == nil {
		rep.Message("%d hits retrieved", len(hits))
	}
	log.Info().Str("result", localOut).Str("summary", out.Detail).Msg("alignment done")
	return out
}
