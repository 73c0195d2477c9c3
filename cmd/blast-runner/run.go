package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/schollz/progressbar/v3"
	"golang.org/x/sync/errgroup"

	"github.com/tastythames/blast-runner/internal/job"
	"github.com/tastythames/blast-runner/internal/metrics"
	"github.com/tastythames/blast-runner/internal/scheduler"
)

// runTask starts one job and, next to it, the health monitor (when a
// session is open) and the optional metrics server. It returns once the job
// has finished and the helpers have shut down.
func (a *app) runTask(ctx context.Context, kind string, start func(context.Context) *job.Task) (job.Outcome, error) {
	g, gctx := errgroup.WithContext(ctx)
	bg, stopBg := context.WithCancel(gctx)
	defer stopBg()

	var mon *scheduler.Monitor
	if a.session != nil {
		mon = scheduler.NewMonitor(a.session, scheduler.Options{
			Interval: a.cfg.Health.Interval,
			Jitter:   a.cfg.Health.Jitter,
			Logger:   a.log,
		})
		g.Go(func() error {
			mon.Run(bg)
			return nil
		})
	}

	if a.metricsListen != "" {
		srv := a.metricsServer(mon)
		g.Go(func() error { return serve(bg, srv, a.log) })
	}

	var out job.Outcome
	g.Go(func() error {
		defer stopBg()
		out = a.drain(kind, start(gctx))
		return nil
	})

	err := g.Wait()
	return out, err
}

// drain forwards job events to the log, the progress bar and the status
// store until the terminal event.
func (a *app) drain(kind string, t *job.Task) job.Outcome {
	log := a.log.With().Str("job_id", t.ID()).Str("kind", kind).Logger()
	log.Debug().Msg("job started")

	var bar *progressbar.ProgressBar
	for ev := range t.Events() {
		a.jobs.Apply(kind, ev)
		switch ev.Kind {
		case job.EventMessage:
			log.Info().Msg(ev.Text)
		case job.EventPercent:
			if bar == nil {
				bar = newBar(kind)
			}
			_ = bar.Set(ev.Percent)
		case job.EventDone:
			if bar != nil {
				if ev.Outcome != nil && ev.Outcome.OK() {
					_ = bar.Finish()
				} else {
					_ = bar.Exit()
				}
			}
		}
	}

	out := t.Wait()
	if d := t.Dropped(); d > 0 {
		log.Debug().Uint64("dropped", d).Msg("progress events dropped")
	}
	log.Info().Str("status", string(out.Status)).Msg("job finished")
	return out
}

func newBar(kind string) *progressbar.ProgressBar {
	return progressbar.NewOptions(100,
		progressbar.OptionSetDescription(kind),
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionSetWidth(40),
		progressbar.OptionShowCount(),
		progressbar.OptionThrottle(100*time.Millisecond),
		progressbar.OptionOnCompletion(func() {
			fmt.Fprint(os.Stderr, "\n")
		}),
		progressbar.OptionSetRenderBlankState(true),
	)
}

func (a *app) metricsServer(mon *scheduler.Monitor) *http.Server {
	// nil pointers must stay nil interfaces so the renderer skips them.
	var (
		sess metrics.Session
		hc   metrics.Health
	)
	if a.session != nil {
		sess = a.session
	}
	if mon != nil {
		hc = mon
	}
	r := metrics.NewRenderer(a.jobs, sess, hc)

	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
	mux.HandleFunc("/metrics", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
		r.Write(w)
	})

	return &http.Server{
		Addr:              a.metricsListen,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
}

// serve runs srv until ctx is done, then shuts it down.
func serve(ctx context.Context, srv *http.Server, log zerolog.Logger) error {
	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("listen", srv.Addr).Msg("metrics listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("listen: %w", err)
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Debug().Msg("metrics shutdown")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
