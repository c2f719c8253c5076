package client

import (
	"context"
	"errors"
	"sync/atomic"
	"time"
)

// State is a phase of the polling loop.
type State int

const (
	// StatePending means polling has not started yet.
	StatePending State = iota
	// StateProcessing means the report has not reached a terminal status.
	StateProcessing
	// StateCompleted means the report finished successfully.
	StateCompleted
	// StateFailed means the report finished with a failure status.
	StateFailed
	// StateTimedOut means the attempt ceiling was reached first.
	StateTimedOut
	// StateCancelled means the context was cancelled mid-poll.
	StateCancelled
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateProcessing:
		return "processing"
	case StateCompleted:
		return "completed"
	case StateFailed:
		return "failed"
	case StateTimedOut:
		return "timed_out"
	case StateCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Terminal reports whether the state ends the polling loop.
func (s State) Terminal() bool {
	switch s {
	case StateCompleted, StateFailed, StateTimedOut, StateCancelled:
		return true
	}
	return false
}

// Poller drives a report to a terminal state by periodic fetches. Each fetch
// runs inline in the loop, so two fetches can never overlap; interval ticks
// that fire while a fetch is in flight coalesce into one.
type Poller struct {
	client      *Client
	reportID    string
	interval    time.Duration
	maxAttempts int

	// state and attempts are read by other goroutines through the
	// accessors while Run advances them, so both are atomic.
	state    atomic.Int32
	attempts atomic.Int64

	lastErr error
	last    *Report
}

// Poller defaults.
const (
	DefaultPollInterval = 5 * time.Second
	DefaultMaxAttempts  = 120
)

// ErrPollTimeout is returned when the attempt ceiling is reached without a
// terminal report status.
var ErrPollTimeout = errors.New("poll: attempt ceiling reached")

// PollOption adjusts a Poller.
type PollOption func(*Poller)

// WithInterval sets the delay between fetches.
func WithInterval(d time.Duration) PollOption {
	return func(p *Poller) {
		if d > 0 {
			p.interval = d
		}
	}
}

// WithMaxAttempts sets the attempt ceiling.
func WithMaxAttempts(n int) PollOption {
	return func(p *Poller) {
		if n > 0 {
			p.maxAttempts = n
		}
	}
}

// NewPoller constructs a Poller for one report.
func NewPoller(c *Client, reportID string, opts ...PollOption) *Poller {
	p := &Poller{
		client:      c,
		reportID:    reportID,
		interval:    DefaultPollInterval,
		maxAttempts: DefaultMaxAttempts,
	}
	p.state.Store(int32(StatePending))
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// State returns the current phase.
func (p *Poller) State() State {
	return State(p.state.Load())
}

// Attempts returns how many fetches have run.
func (p *Poller) Attempts() int {
	return int(p.attempts.Load())
}

// Progress returns attempts over the ceiling, clamped to [0, 1].
func (p *Poller) Progress() float64 {
	if p.maxAttempts <= 0 {
		return 0
	}
	ratio := float64(p.attempts.Load()) / float64(p.maxAttempts)
	if ratio > 1 {
		return 1
	}
	if ratio < 0 {
		return 0
	}
	return ratio
}

// Outcome is the result of a finished polling run.
type Outcome struct {
	State    State
	Report   *Report
	Attempts int
	Err      error
}

// Run polls until the report reaches a terminal status, the attempt ceiling
// is hit, or ctx is cancelled. The first fetch happens immediately. Fetch
// errors count toward the ceiling and never end the run early; a transient
// server hiccup mid-poll is indistinguishable from a slow report.
func (p *Poller) Run(ctx context.Context) Outcome {
	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			p.state.Store(int32(StateCancelled))
			return p.outcome(ctx.Err())
		case <-timer.C:
		}

		p.attempts.Add(1)
		report, errGet := p.client.GetReport(ctx, p.reportID)
		if errGet != nil {
			if ctx.Err() != nil {
				p.state.Store(int32(StateCancelled))
				return p.outcome(ctx.Err())
			}
			p.lastErr = errGet
			p.state.Store(int32(StateProcessing))
		} else {
			p.last = report
			p.lastErr = nil
			switch report.Status {
			case "completed":
				p.state.Store(int32(StateCompleted))
				return p.outcome(nil)
			case "failed":
				p.state.Store(int32(StateFailed))
				return p.outcome(errors.New("report failed: " + report.ErrorMessage))
			default:
				p.state.Store(int32(StateProcessing))
			}
		}

		if int(p.attempts.Load()) >= p.maxAttempts {
			p.state.Store(int32(StateTimedOut))
			return p.outcome(ErrPollTimeout)
		}
		timer.Reset(p.interval)
	}
}

func (p *Poller) outcome(err error) Outcome {
	return Outcome{
		State:    p.State(),
		Report:   p.last,
		Attempts: p.Attempts(),
		Err:      err,
	}
}
