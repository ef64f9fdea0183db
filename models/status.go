package models

// TaskStatus represents the status of a download task
type TaskStatus string

// Task status constants
const (
	// StatusPending means the task is queued but fetching has not started
	StatusPending TaskStatus = "pending"

	// StatusInProgress means verse files are being fetched
	StatusInProgress TaskStatus = "in_progress"

	// StatusPaused means the in-flight fetch was cancelled by the user
	// and the task is waiting for an explicit resume
	StatusPaused TaskStatus = "paused"

	// StatusCompleted means the chapter was accepted (>= 90% of verses)
	StatusCompleted TaskStatus = "completed"

	// StatusFailed means the fetch fell below the acceptance threshold
	// or chapter metadata could not be resolved
	StatusFailed TaskStatus = "failed"
)

// String returns the string representation of TaskStatus
func (ts TaskStatus) String() string {
	return string(ts)
}

// IsTerminal returns true if the task has reached a final state
func (ts TaskStatus) IsTerminal() bool {
	return ts == StatusCompleted || ts == StatusFailed
}

// IsActive returns true if the task is queued or currently fetching
func (ts TaskStatus) IsActive() bool {
	return ts == StatusPending || ts == StatusInProgress
}
