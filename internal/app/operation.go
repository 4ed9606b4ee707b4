package app

import "time"

// Operation tracks one CLI invocation. Its ID tags every log line the
// invocation writes, and its outcome is logged when the App closes.
type Operation struct {
	ID        string
	Name      string
	Status    string // "success" or "error"
	StartedAt time.Time
}

// NewOperation creates an operation started at the given time.
func NewOperation(name string, started time.Time) *Operation {
	return &Operation{
		ID:        started.UTC().Format("20060102T150405Z"),
		Name:      name,
		Status:    "success",
		StartedAt: started,
	}
}

// Record marks the operation failed when err is non-nil and returns err.
func (op *Operation) Record(err error) error {
	if err != nil {
		op.Status = "error"
	}
	return err
}

// Failed returns true if any recorded step failed.
func (op *Operation) Failed() bool {
	return op.Status == "error"
}

// Elapsed returns the time since the operation started.
func (op *Operation) Elapsed(now time.Time) time.Duration {
	return now.Sub(op.StartedAt)
}
