package webhook

import (
	"fmt"
	"time"
)

// Policy bounds one forwarding call.
//
// There is no deadline across attempts: the worst case is
// PerAttemptTimeout*(MaxRetries+1) plus the backoff delays.
type Policy struct {
	MaxRetries        int
	BaseDelay         time.Duration
	MaxDelay          time.Duration
	PerAttemptTimeout time.Duration

	// OnRetry is called before each backoff sleep.
	OnRetry func(RetryEvent)
}

// DefaultPolicy returns 3 retries, 1s base delay, 30s cap and 60s per attempt.
func DefaultPolicy() Policy {
	return Policy{
		MaxRetries:        3,
		BaseDelay:         1 * time.Second,
		MaxDelay:          30 * time.Second,
		PerAttemptTimeout: 60 * time.Second,
	}
}

// LongRunningPolicy is DefaultPolicy with a 120s per-attempt timeout.
func LongRunningPolicy() Policy {
	p := DefaultPolicy()
	p.PerAttemptTimeout = 120 * time.Second
	return p
}

// RetryEvent describes a retry about to happen.
type RetryEvent struct {
	CorrelationID string
	Destination   string
	Attempt       int // 1-based number of the attempt that failed
	Delay         time.Duration
	Err           error
}

// Outcome is the classification of a single attempt.
type Outcome int

const (
	OutcomeSuccess Outcome = iota
	OutcomeRetryable
	OutcomeTerminal
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSuccess:
		return "success"
	case OutcomeRetryable:
		return "retryable"
	case OutcomeTerminal:
		return "terminal"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// Attempt records one try.
type Attempt struct {
	Index      int // 0-based
	Outcome    Outcome
	StatusCode int // 0 on transport failure
	Err        error
	Elapsed    time.Duration
}
