package models

// TaskKind distinguishes listing-page fetches from detail-page fetches.
type TaskKind string

const (
	TaskListing TaskKind = "listing"
	TaskDetail  TaskKind = "detail"
)

// TaskState tracks a fetch task through its lifecycle.
type TaskState int

const (
	TaskPending TaskState = iota
	TaskInFlight
	TaskRetrying
	TaskSucceeded
	TaskFailed
)

// String returns the lowercase state label used in logs and metrics.
func (s TaskState) String() string {
	switch s {
	case TaskPending:
		return "pending"
	case TaskInFlight:
		return "in_flight"
	case TaskRetrying:
		return "retrying"
	case TaskSucceeded:
		return "succeeded"
	case TaskFailed:
		return "failed"
	}
	return "unknown"
}

// FetchTask is a transient unit of work flowing through the orchestrator.
// It is destroyed on terminal success or exhausted retries.
type FetchTask struct {
	URL      string
	Kind     TaskKind
	BrandID  string
	Attempts int
	State    TaskState
}
