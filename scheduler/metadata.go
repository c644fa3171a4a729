package scheduler

import (
	"sync"
	"time"
)

// Execution statuses reported in JobMetadata.LastExecutionStatus.
const (
	StatusSuccess          = "success"
	StatusRetry            = "retry"
	StatusPermanentFailure = "permanent_failure"
	StatusFailure          = "failure"
	StatusDeferred         = "deferred"
)

// Trigger types.
const (
	TriggerScheduled = "scheduled"
	TriggerManual    = "manual"
)

// JobMetadata describes the retry job for the admin API and the CLI.
// Exposed via GET /_sys/job.
type JobMetadata struct {
	// JobName is the single name the drain job is scheduled under.
	JobName string `json:"jobName"`

	// Attempt is the number of consecutive Retry results since the last reset.
	Attempt int `json:"attempt"`

	// Running reports an in-flight drain pass.
	Running bool `json:"running"`

	// NextExecutionTime is when the pending run fires (nil if nothing is scheduled).
	NextExecutionTime *time.Time `json:"nextExecutionTime,omitempty"`

	// LastExecutionTime is when the last pass started (nil if never run).
	LastExecutionTime *time.Time `json:"lastExecutionTime,omitempty"`

	// LastExecutionStatus is one of the Status* constants (empty if never run).
	LastExecutionStatus string `json:"lastExecutionStatus,omitempty"`

	// LastTrigger is "scheduled" or "manual".
	LastTrigger string `json:"lastTrigger,omitempty"`

	TotalExecutions   int64 `json:"totalExecutions"`
	SuccessCount      int64 `json:"successCount"`
	RetryCount        int64 `json:"retryCount"`
	PermanentFailures int64 `json:"permanentFailures"`
	// FailureCount counts passes that returned an error or panicked.
	FailureCount int64 `json:"failureCount"`
	// DeferredCount counts runs postponed because the network check failed.
	DeferredCount int64 `json:"deferredCount"`
	// SkippedCount counts triggers dropped because a pass was already running.
	SkippedCount int64 `json:"skippedCount"`
	// EnqueueCount counts EnqueueRetry calls.
	EnqueueCount int64 `json:"enqueueCount"`

	mu sync.Mutex `json:"-"`
}

func (m *JobMetadata) started(trigger string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	m.LastExecutionTime = &now
	m.LastTrigger = trigger
	m.Running = true
}

func (m *JobMetadata) finished(status string, failed bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Running = false
	m.LastExecutionStatus = status
	if status == StatusDeferred {
		m.DeferredCount++
		return
	}
	m.TotalExecutions++
	if failed {
		m.FailureCount++
	}
	switch status {
	case StatusSuccess:
		m.SuccessCount++
	case StatusRetry:
		m.RetryCount++
	case StatusPermanentFailure:
		m.PermanentFailures++
	}
}

func (m *JobMetadata) incrementSkipped() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.SkippedCount++
}

func (m *JobMetadata) incrementEnqueued() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.EnqueueCount++
}

func (m *JobMetadata) setSchedule(attempt int, next *time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Attempt = attempt
	if next == nil {
		m.NextExecutionTime = nil
		return
	}
	t := *next
	m.NextExecutionTime = &t
}

// snapshot returns a copy safe to serialise. The mutex is not copied.
func (m *JobMetadata) snapshot() *JobMetadata {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := &JobMetadata{
		JobName:             m.JobName,
		Attempt:             m.Attempt,
		Running:             m.Running,
		LastExecutionStatus: m.LastExecutionStatus,
		LastTrigger:         m.LastTrigger,
		TotalExecutions:     m.TotalExecutions,
		SuccessCount:        m.SuccessCount,
		RetryCount:          m.RetryCount,
		PermanentFailures:   m.PermanentFailures,
		FailureCount:        m.FailureCount,
		DeferredCount:       m.DeferredCount,
		SkippedCount:        m.SkippedCount,
		EnqueueCount:        m.EnqueueCount,
	}
	if m.NextExecutionTime != nil {
		t := *m.NextExecutionTime
		s.NextExecutionTime = &t
	}
	if m.LastExecutionTime != nil {
		t := *m.LastExecutionTime
		s.LastExecutionTime = &t
	}
	return s
}
