package blast

import (
	"context"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/tastythames/blast-runner/internal/job"
)

const checkTimeout = 10 * time.Second

// Verifier checks that a database prefix is readable by blastdbcmd on the
// remote host.
type Verifier struct {
	remote Remote
	log    zerolog.Logger
}

func NewVerifier(r Remote, log zerolog.Logger) *Verifier {
	return &Verifier{remote: r, log: log.With().Str("component", "verify").Logger()}
}

func (v *Verifier) Start(ctx context.Context, dbPath, blastBin string) *job.Task {
	return job.Start(ctx, "verify-db", func(ctx context.Context, rep *job.Reporter) job.Outcome {
		return v.verify(ctx, strings.TrimSpace(dbPath), strings.TrimSpace(blastBin), rep)
	})
}

func (v *Verifier) verify(ctx context.Context, db, blastBin string, rep *job.Reporter) job.Outcome {
	if db == "" {
		return job.Failure("verification failed: no database path")
	}

	tool := "blastdbcmd"
	if strings.Contains(blastBin, "/") {
		rep.Message("checking tool path %s", blastBin)
		res, err := v.remote.Run(ctx, cmdPathKind(blastBin), checkTimeout)
		if err != nil {
			return job.Failure(fmt.Sprintf("verification failed: %v", err))
		}
		switch strings.TrimSpace(res.Stdout) {
		case "not_found":
			return job.Failure(fmt.Sprintf("verification failed: path does not exist: %s", blastBin))
		case "dir":
			tool = strings.TrimRight(blastBin, "/") + "/blastdbcmd"
		default:
			tool = siblingTool(blastBin, "blastdbcmd")
		}
	}

	rep.Message("querying database info")
	res, err := v.remote.Run(ctx, cmdBlastdbInfo(tool, db), checkTimeout)
	if err != nil {
		return job.Failure(fmt.Sprintf("verification failed: %v", err))
	}
	if res.ExitCode == 0 {
		return v.valid(db, res.Stdout)
	}

	// blastdbcmd also resolves bare names through BLASTDB
	base := path.Base(db)
	if base != "" && base != db && base != "." && base != "/" {
		v.log.Debug().Str("db", db).Str("retry", base).Msg("retrying with database basename")
		res2, err := v.remote.Run(ctx, cmdBlastdbInfo(tool, base), checkTimeout)
		if err == nil && res2.ExitCode == 0 {
			return v.valid(db, res2.Stdout)
		}
		if err == nil && strings.TrimSpace(res.Stderr) == "" {
			res.Stderr = res2.Stderr
		}
	}
	return job.Failure(fmt.Sprintf("verification failed: %s", strings.TrimSpace(res.Stderr)))
}

func (v *Verifier) valid(db, info string) job.Outcome {
	out := job.Success("database is valid", db)
	out.Detail = firstLine(info)
	v.log.Info().Str("db", db).Msg("database verified")
	return out
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return strings.TrimSpace(s[:i])
	}
	return s
}
