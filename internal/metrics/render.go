package metrics

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/tastythames/blast-runner/internal/status"
)

// Session is the connection view the renderer reads.
type Session interface {
	Connected() bool
}

// Health is satisfied by *scheduler.Monitor.
type Health interface {
	Stats() (checks, reconnects, failures, skipped uint64)
}

type Renderer struct {
	Jobs    status.Store
	Session Session
	Health  Health
}

func NewRenderer(jobs status.Store, s Session, h Health) *Renderer {
	return &Renderer{Jobs: jobs, Session: s, Health: h}
}

func (r *Renderer) Write(w io.Writer) {
	start := time.Now()
	now := time.Now()

	header(w, MetricUp, "gauge", "1 if the runner process is running.")
	fmt.Fprintf(w, "%s 1\n", MetricUp)

	if r.Session != nil {
		header(w, MetricSessionConnected, "gauge", "1 if a remote session transport is held.")
		fmt.Fprintf(w, "%s %d\n", MetricSessionConnected, boolInt(r.Session.Connected()))
	}

	if r.Health != nil {
		checks, reconnects, failures, skipped := r.Health.Stats()
		for _, c := range []struct {
			name, help string
			v          uint64
		}{
			{MetricHealthChecks, "Health checks run.", checks},
			{MetricReconnects, "Successful reconnects after a failed health check.", reconnects},
			{MetricHealthFailures, "Health checks that could not restore the session.", failures},
			{MetricSkippedChecks, "Ticks skipped because a check was still running.", skipped},
		} {
			header(w, c.name, "counter", c.help)
			fmt.Fprintf(w, "%s %d\n", c.name, c.v)
		}
	}

	header(w, MetricJobPercent, "gauge", "Last reported completion percentage per job.")
	header(w, MetricJobState, "gauge", "1 for the current state of each job.")
	header(w, MetricJobAgeSeconds, "gauge", "Seconds since the job last reported.")

	var snap map[string]status.State
	if r.Jobs != nil {
		snap = r.Jobs.Snapshot()
	}
	ids := make([]string, 0, len(snap))
	for id := range snap {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		st := snap[id]
		labels := map[string]string{"job_id": id, "kind": st.Kind}

		fmt.Fprintf(w, "%s%s %d\n", MetricJobPercent, formatLabels(labels), st.Percent)
		fmt.Fprintf(w, "%s%s %.3f\n", MetricJobAgeSeconds, formatLabels(labels), now.Sub(st.At).Seconds())

		current := "running"
		if !st.Running() {
			current = string(st.Status)
		}
		for _, s := range jobStates {
			l := map[string]string{"job_id": id, "kind": st.Kind, "state": s}
			fmt.Fprintf(w, "%s%s %d\n", MetricJobState, formatLabels(l), boolInt(s == current))
		}
	}

	dur := time.Since(start).Seconds()
	header(w, MetricRenderDurationSeconds, "gauge", "Time spent rendering /metrics.")
	fmt.Fprintf(w, "%s %.6f\n", MetricRenderDurationSeconds, dur)
}

func header(w io.Writer, name, typ, help string) {
	fmt.Fprintf(w, "# HELP %s %s\n", name, help)
	fmt.Fprintf(w, "# TYPE %s %s\n", name, typ)
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func formatLabels(m map[string]string) string {
	if len(m) == 0 {
		return ""
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString("{")
	for i, k := range keys {
		if i > 0 {
			b.WriteString(",")
		}
		fmt.Fprintf(&b, `%s="%s"`, k, escapeLabel(m[k]))
	}
	b.WriteString("}")
	return b.String()
}

var labelEscaper = strings.NewReplacer(`\`, `\\`, `"`, `\"`, "\n", `\n`)

func escapeLabel(v string) string { return labelEscaper.Replace(v) }
