package poller

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"tocanan.ai/geo/internal/model"
	"tocanan.ai/geo/internal/pipeline"
)

// State is the poller's lifecycle state. Transitions are one-way:
// Idle to Active, Active to Stopped or Resolved.
type State int

const (
	StateIdle State = iota
	StateActive
	StateStopped
	StateResolved
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateActive:
		return "active"
	case StateStopped:
		return "stopped"
	case StateResolved:
		return "resolved"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// StatusFunc queries the current snapshot of the observed job.
type StatusFunc func(ctx context.Context) (*model.Job, error)

// Outcome is the poller's terminal observation: the terminal job
// snapshot, or the error that ended observation. A polling error does
// not mean the job failed, only that observation did.
type Outcome struct {
	Job *model.Job
	Err error
}

// Poller observes one job until a terminal status, with bounded
// exponential backoff and tolerance for transient query failures. The
// state machine guarantees at most one active poll loop regardless of
// how many times Start is called.
type Poller struct {
	jobID  string
	status StatusFunc
	policy Policy

	mu        sync.Mutex
	state     State
	attempts  int
	errors    int
	startedAt time.Time
	cancel    context.CancelFunc
	outcome   chan Outcome
}

func New(jobID string, status StatusFunc, policy Policy) *Poller {
	return &Poller{
		jobID:  jobID,
		status: status,
		policy: policy.normalized(),
	}
}

// Start begins observing the job and returns the channel the terminal
// outcome is delivered on. Calling Start again while polling is active
// returns the same channel without spawning a second loop.
func (p *Poller) Start(ctx context.Context) <-chan Outcome {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.state != StateIdle {
		return p.outcome
	}
	p.state = StateActive
	p.startedAt = time.Now()
	p.outcome = make(chan Outcome, 1)

	loopCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	go p.loop(loopCtx)
	return p.outcome
}

// Stop cancels observation. Any scheduled poll is prevented from
// executing. Safe to call multiple times and after resolution.
func (p *Poller) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.state != StateActive {
		return
	}
	p.state = StateStopped
	if p.cancel != nil {
		p.cancel()
	}
}

// State returns the current lifecycle state.
func (p *Poller) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Attempts returns the number of completed status queries that counted
// against the attempt budget.
func (p *Poller) Attempts() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.attempts
}

// Progress estimates completion as elapsed time over the expected
// duration, capped below 100 until a terminal status is actually
// observed. Advisory only.
func (p *Poller) Progress() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.state == StateResolved {
		return 100
	}
	if p.startedAt.IsZero() {
		return 0
	}
	pct := float64(time.Since(p.startedAt)) / float64(p.policy.ExpectedDuration) * 100
	if pct > 99 {
		pct = 99
	}
	return pct
}

func (p *Poller) loop(ctx context.Context) {
	for {
		// A Stop or cancellation racing the loop must win before the
		// next query is issued.
		p.mu.Lock()
		if p.state != StateActive {
			p.mu.Unlock()
			return
		}
		if ctx.Err() != nil {
			p.resolveLocked(Outcome{Err: ctx.Err()})
			p.mu.Unlock()
			return
		}
		p.mu.Unlock()

		job, err := p.status(ctx)

		p.mu.Lock()
		if p.state != StateActive {
			p.mu.Unlock()
			return
		}

		var delay time.Duration
		switch {
		case err != nil && pipeline.KindOf(err) == pipeline.KindTransient:
			p.errors++
			if p.errors >= p.policy.MaxConsecutiveErrors {
				p.resolveLocked(Outcome{Err: fmt.Errorf("observation gave up after %d consecutive errors: %w", p.errors, err)})
				p.mu.Unlock()
				return
			}
			// Transient failures delay the next poll but do not count
			// against the attempt budget.
			delay = p.policy.TransientDelay
			p.mu.Unlock()
			slog.WarnContext(ctx, "status query failed, retrying",
				"job_id", p.jobID, "consecutive_errors", p.errors, "error", err)

		case err != nil:
			p.resolveLocked(Outcome{Err: err})
			p.mu.Unlock()
			return

		case job.Status.Terminal():
			p.resolveLocked(Outcome{Job: job})
			p.mu.Unlock()
			return

		default:
			p.errors = 0
			p.attempts++
			if p.attempts >= p.policy.MaxAttempts {
				p.resolveLocked(Outcome{Err: pipeline.NewError(pipeline.KindPollingTimeout,
					fmt.Sprintf("job %s not terminal after %d polls", p.jobID, p.attempts), nil)})
				p.mu.Unlock()
				return
			}
			delay = p.policy.Delay(p.attempts)
			p.mu.Unlock()
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			p.mu.Lock()
			if p.state == StateActive {
				p.resolveLocked(Outcome{Err: ctx.Err()})
			}
			p.mu.Unlock()
			return
		case <-timer.C:
		}
	}
}

// resolveLocked delivers the outcome and moves to Resolved. Callers
// hold p.mu.
func (p *Poller) resolveLocked(out Outcome) {
	p.state = StateResolved
	p.outcome <- out
	if p.cancel != nil {
		p.cancel()
	}
}
