package metrics

const (
	// process health
	MetricUp                    = "blast_runner_up"
	MetricRenderDurationSeconds = "blast_runner_render_duration_seconds"

	// remote session
	MetricSessionConnected = "blast_runner_session_connected"
	MetricHealthChecks     = "blast_runner_health_checks_total"
	MetricReconnects       = "blast_runner_reconnects_total"
	MetricHealthFailures   = "blast_runner_health_failures_total"
	MetricSkippedChecks    = "blast_runner_health_checks_skipped_total"

	// jobs
	MetricJobPercent    = "blast_runner_job_percent"
	MetricJobState      = "blast_runner_job_state"
	MetricJobAgeSeconds = "blast_runner_job_last_update_age_seconds"
)

// job states as exported by MetricJobState
var jobStates = []string{"running", "succeeded", "failed", "cancelled"}
