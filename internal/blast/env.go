package blast

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/tastythames/blast-runner/internal/job"
)

// condaListCommands are tried in order until one prints a parsable
// environment list. Non-interactive shells often miss conda on PATH.
var condaListCommands = []string{
	"conda env list --json",
	"source ~/.bashrc && conda env list --json",
	"/opt/anaconda3/bin/conda env list --json",
	"~/anaconda3/bin/conda env list --json",
	"~/miniconda3/bin/conda env list --json",
}

type condaEnvList struct {
	Envs []string `json:"envs"`
}

// EnvLister discovers conda environments on the remote host.
type EnvLister struct {
	remote Remote
	log    zerolog.Logger
}

func NewEnvLister(r Remote, log zerolog.Logger) *EnvLister {
	return &EnvLister{remote: r, log: log.With().Str("component", "envs").Logger()}
}

// Start runs List as a job. The outcome detail holds one environment path
// per line.
func (l *EnvLister) Start(ctx context.Context) *job.Task {
	return job.Start(ctx, "envs", func(ctx context.Context, rep *job.Reporter) job.Outcome {
		rep.Message("listing remote conda environments")
		envs, err := l.List(ctx)
		if err != nil {
			return job.Failure(fmt.Sprintf("listing environments failed: %v", err))
		}
		out := job.Success(fmt.Sprintf("%d conda environments found", len(envs)), "")
		out.Detail = strings.Join(envs, "\n")
		return out
	})
}

// List returns the environments reported by the first conda invocation that
// yields JSON. An empty result with no error means conda answered but knows
// no environments. It fails only when the last attempt printed nothing but
// stderr.
func (l *EnvLister) List(ctx context.Context) ([]string, error) {
	var stdout, stderr string
	for _, cmd := range condaListCommands {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		res, err := l.remote.Run(ctx, cmd, checkTimeout)
		if err != nil {
			l.log.Debug().Err(err).Str("cmd", cmd).Msg("conda command failed")
			continue
		}
		stdout = strings.TrimSpace(res.Stdout)
		stderr = strings.TrimSpace(res.Stderr)
		if stdout == "" {
			continue
		}

		// login shells may print banners before the JSON
		i := strings.IndexByte(stdout, '{')
		if i < 0 {
			continue
		}
		var list condaEnvList
		if err := json.Unmarshal([]byte(stdout[i:]), &list); err != nil {
			l.log.Warn().Err(err).Str("cmd", cmd).Msg("conda output is not JSON, trying next")
			continue
		}
		l.log.Info().Int("envs", len(list.Envs)).Msg("conda environments listed")
		return list.Envs, nil
	}

	if stdout == "" && stderr != "" {
		return nil, errors.New(stderr)
	}
	l.log.Info().Msg("no conda environments found")
	return nil, nil
}

// EnvVerifier checks a remote project directory and conda environment.
type EnvVerifier struct {
	remote Remote
	log    zerolog.Logger
}

func NewEnvVerifier(r Remote, log zerolog.Logger) *EnvVerifier {
	return &EnvVerifier{remote: r, log: log.With().Str("component", "verify-env").Logger()}
}

func (v *EnvVerifier) Start(ctx context.Context, projectDir, envDir string) *job.Task {
	return job.Start(ctx, "verify-env", func(ctx context.Context, rep *job.Reporter) job.Outcome {
		return v.verify(ctx, strings.TrimSpace(projectDir), strings.TrimRight(strings.TrimSpace(envDir), "/"), rep)
	})
}

func (v *EnvVerifier) verify(ctx context.Context, projectDir, envDir string, rep *job.Reporter) job.Outcome {
	if projectDir == "" || envDir == "" {
		return job.Failure("verification failed: project and environment paths are required")
	}

	checks := []struct {
		path, want, msg string
	}{
		{projectDir, "dir", "project path does not exist"},
		{envDir, "dir", "conda environment does not exist"},
		{envDir + "/bin/python", "file", "conda environment is invalid (no python)"},
	}
	for _, c := range checks {
		rep.Message("checking %s", c.path)
		res, err := v.remote.Run(ctx, cmdPathKind(c.path), checkTimeout)
		if err != nil {
			return job.Failure(fmt.Sprintf("verification failed: %v", err))
		}
		if strings.TrimSpace(res.Stdout) != c.want {
			v.log.Warn().Str("path", c.path).Str("kind", strings.TrimSpace(res.Stdout)).Msg(c.msg)
			return job.Failure(c.msg)
		}
	}

	v.log.Info().Str("project", projectDir).Str("env", envDir).Msg("configuration verified")
	return job.Success("configuration verified", envDir)
}
