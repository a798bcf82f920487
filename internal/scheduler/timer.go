package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// TriggerFunc is invoked when a registered job's fire time arrives. The
// substrate guarantees at-or-after semantics and at-least-once invocation;
// the callback must tolerate duplicates.
type TriggerFunc func(ctx context.Context, jobID string)

// TriggerTimer abstracts the timing substrate the scheduler registers jobs
// with. Implementations fire the registered callback at or after each job's
// fire time. Scheduling an existing job ID replaces its fire time.
// Version: 1.0
type TriggerTimer interface {
	// Register installs the callback invoked when jobs fire. Must be called
	// before the first ScheduleAt.
	Register(fn TriggerFunc)

	// ScheduleAt arranges for the callback to fire at or after fireAt.
	// A fire time in the past fires immediately.
	ScheduleAt(jobID string, fireAt time.Time) error

	// Cancel drops the job. Cancelling an unknown job is a no-op.
	Cancel(jobID string)

	// Stop cancels all jobs and waits for in-flight callbacks to return.
	Stop()
}

// TimerPool is the in-process TriggerTimer built on time.AfterFunc. Jobs do
// not survive a process restart; the scheduler re-registers them from the
// reminder store on startup.
type TimerPool struct {
	logger *slog.Logger

	mu       sync.Mutex
	timers   map[string]*time.Timer
	callback TriggerFunc
	closed   bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewTimerPool creates an empty in-process trigger timer.
// If logger is nil, a default logger will be used.
func NewTimerPool(logger *slog.Logger) *TimerPool {
	if logger == nil {
		logger = slog.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &TimerPool{
		logger: logger.With(slog.String("component", "timer_pool")),
		timers: make(map[string]*time.Timer),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Ensure TimerPool implements TriggerTimer interface
var _ TriggerTimer = (*TimerPool)(nil)

// Register implements TriggerTimer.Register
func (p *TimerPool) Register(fn TriggerFunc) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.callback = fn
}

// ScheduleAt implements TriggerTimer.ScheduleAt
func (p *TimerPool) ScheduleAt(jobID string, fireAt time.Time) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return ErrSchedulerStopped
	}

	if existing, ok := p.timers[jobID]; ok {
		if existing.Stop() {
			p.wg.Done()
		}
	}

	delay := time.Until(fireAt)
	if delay < 0 {
		delay = 0
	}

	p.wg.Add(1)
	p.timers[jobID] = time.AfterFunc(delay, func() {
		defer p.wg.Done()
		p.fire(jobID)
	})

	return nil
}

// Cancel implements TriggerTimer.Cancel
func (p *TimerPool) Cancel(jobID string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if timer, ok := p.timers[jobID]; ok {
		// Stop reports false when the timer already fired; the callback's
		// done bookkeeping happens in fire in that case.
		if timer.Stop() {
			p.wg.Done()
		}
		delete(p.timers, jobID)
	}
}

// Stop implements TriggerTimer.Stop
func (p *TimerPool) Stop() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true

	for jobID, timer := range p.timers {
		if timer.Stop() {
			p.wg.Done()
		}
		delete(p.timers, jobID)
	}
	p.mu.Unlock()

	p.cancel()
	p.wg.Wait()
}

func (p *TimerPool) fire(jobID string) {
	p.mu.Lock()
	delete(p.timers, jobID)
	callback := p.callback
	closed := p.closed
	p.mu.Unlock()

	if closed {
		return
	}

	if callback == nil {
		p.logger.Error("timer fired with no registered callback", "job_id", jobID)
		return
	}

	callback(p.ctx, jobID)
}
