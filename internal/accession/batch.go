package accession

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/tastythames/blast-runner/internal/job"
	"github.com/tastythames/blast-runner/internal/tabular"
)

// Derived column names written back into every processed sheet.
const (
	ColSciName   = "SciName"
	ColLink      = "Link"
	ColAccession = "Accession"
)

// UnauthenticatedDelay keeps keyless callers near three requests a second.
const UnauthenticatedDelay = 340 * time.Millisecond

type Request struct {
	Path   string
	Column string
}

// BatchState tracks where a run is; it only feeds the progress percentage.
type BatchState struct {
	TotalSheets     int
	SheetsCompleted int
	Sheet           string
	Row             int
	RowsInSheet     int
}

// Percent is the overall completion after the current row.
func (b BatchState) Percent() int {
	if b.TotalSheets == 0 || b.RowsInSheet == 0 {
		return 0
	}
	frac := float64(b.Row+1) / float64(b.RowsInSheet)
	return int((float64(b.SheetsCompleted) + frac) / float64(b.TotalSheets) * 100)
}

// Job resolves one workbook at a time. Starting a new run stops the
// previous one first.
type Job struct {
	lookup Lookup
	store  tabular.Store
	log    zerolog.Logger

	// RowDelay is slept after every row.
	RowDelay time.Duration

	mu      sync.Mutex
	current *job.Task
}

func NewJob(l Lookup, store tabular.Store, authenticated bool, log zerolog.Logger) *Job {
	j := &Job{
		lookup: l,
		store:  store,
		log:    log.With().Str("component", "accession").Logger(),
	}
	if !authenticated {
		j.RowDelay = UnauthenticatedDelay
	}
	return j
}

// Start cancels any run still in flight, waits for it to stop, and begins a
// new one.
func (j *Job) Start(ctx context.Context, req Request) *job.Task {
	j.mu.Lock()
	defer j.mu.Unlock()

	if prev := j.current; prev != nil {
		prev.Cancel()
		prev.Wait()
	}
	j.current = job.Start(ctx, "resolve", func(ctx context.Context, rep *job.Reporter) job.Outcome {
		return j.run(ctx, req, rep)
	})
	return j.current
}

func (j *Job) run(ctx context.Context, req Request, rep *job.Reporter) job.Outcome {
	log := j.log.With().Str("file", req.Path).Str("column", req.Column).Logger()

	rep.Message("reading %s", req.Path)
	wb, err := j.store.Open(req.Path)
	if err != nil {
		return job.Failure(fmt.Sprintf("resolution failed: %v", err))
	}

	st := BatchState{TotalSheets: len(wb.Sheets)}
	for _, sheet := range wb.Sheets {
		if ctx.Err() != nil {
			return j.cancelled(rep, log)
		}
		st.Sheet = sheet.Name
		rep.Message("processing sheet %s", sheet.Name)

		if !sheet.HasColumn(req.Column) {
			rep.Message("sheet %q has no column %q, skipped", sheet.Name, req.Column)
			log.Info().Str("sheet", sheet.Name).Msg("lookup column missing, sheet skipped")
			continue
		}
		for _, c := range []string{ColSciName, ColLink, ColAccession} {
			sheet.EnsureColumn(c)
		}

		st.RowsInSheet = len(sheet.Rows)
		for i := range sheet.Rows {
			if ctx.Err() != nil {
				return j.cancelled(rep, log)
			}
			st.Row = i
			key := sheet.Get(i, req.Column)
			rep.Message("%s [%d/%d] lookup: %s", sheet.Name, i+1, st.RowsInSheet, key)

			rec := Resolve(ctx, j.lookup, key)
			fill(sheet, i, rec)
			rep.Percent(st.Percent())

			pause(ctx, j.RowDelay)
		}

		st.SheetsCompleted++
		rep.Message("sheet %q done", sheet.Name)
	}

	out := tabular.FilledPath(req.Path)
	rep.Message("saving results")
	if err := j.store.Save(out, wb); err != nil {
		return job.Failure(fmt.Sprintf("resolution failed: %v", err))
	}
	log.Info().Str("output", out).Int("sheets", st.SheetsCompleted).Msg("resolution complete")
	return job.Success("resolution complete, results saved", out)
}

func (j *Job) cancelled(rep *job.Reporter, log zerolog.Logger) job.Outcome {
	rep.Message("operation cancelled")
	log.Info().Msg("resolution cancelled, nothing saved")
	return job.CancelledOutcome()
}

// fill writes only non-empty values so earlier results survive skipped rows.
func fill(s *tabular.Sheet, i int, rec Record) {
	if rec.SciName != "" {
		s.Set(i, ColSciName, rec.SciName)
	}
	if rec.Link != "" {
		s.Set(i, ColLink, rec.Link)
	}
	if rec.Accession != "" {
		s.Set(i, ColAccession, rec.Accession)
	}
}

func pause(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
