package worker

// Result tells the scheduler what to do after a drain pass.
type Result int

const (
	// Success means the queue is empty and nothing needs to be scheduled.
	Success Result = iota
	// Retry means records remain and the pass should run again after a backoff.
	Retry
	// PermanentFailure stops rescheduling until the next explicit enqueue.
	PermanentFailure
)

func (r Result) String() string {
	switch r {
	case Success:
		return "success"
	case Retry:
		return "retry"
	case PermanentFailure:
		return "permanent_failure"
	default:
		return "unknown"
	}
}
