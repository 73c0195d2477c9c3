// Package job runs one unit of remote or networked work in the background
// and streams its progress to the caller.
package job

type Status string

const (
	Succeeded Status = "succeeded"
	Failed    Status = "failed"
	Cancelled Status = "cancelled"
)

// Outcome is the terminal result of a job. Exactly one is produced per run.
type Outcome struct {
	Status     Status
	Message    string
	ResultPath string // local file, remote path prefix, or empty
	Detail     string // optional secondary text, e.g. a result summary
}

func Success(msg, resultPath string) Outcome {
	return Outcome{Status: Succeeded, Message: msg, ResultPath: resultPath}
}

func Failure(msg string) Outcome {
	return Outcome{Status: Failed, Message: msg}
}

func CancelledOutcome() Outcome {
	return Outcome{Status: Cancelled, Message: "operation cancelled"}
}

// OK reports whether the job succeeded.
func (o Outcome) OK() bool { return o.Status == Succeeded }

type EventKind int

const (
	EventMessage EventKind = iota
	EventPercent
	EventDone
)

func (k EventKind) String() string {
	switch k {
	case EventMessage:
		return "message"
	case EventPercent:
		return "percent"
	case EventDone:
		return "done"
	default:
		return "unknown"
	}
}

type Event struct {
	JobID   string
	Kind    EventKind
	Text    string
	Percent int
	Outcome *Outcome // set on EventDone only
}
