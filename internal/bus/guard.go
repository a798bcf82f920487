package bus

import (
	"sync"

	"github.com/google/uuid"
)

// SequenceVerdict classifies an incoming sequence ID against the last one a
// consumer processed for the same task.
type SequenceVerdict int

const (
	// SequenceFresh means the event is the next expected one (or the first
	// seen for the task) and should be processed.
	SequenceFresh SequenceVerdict = iota

	// SequenceDuplicate means the event was already processed; redelivery
	// should be acknowledged without side effects.
	SequenceDuplicate

	// SequenceGap means at least one earlier event has not been seen yet.
	// Consumers reject the delivery so the transport retries it after the
	// missing event arrives.
	SequenceGap
)

// SequenceGuard tracks the highest processed sequence ID per task for one
// consumer group, letting consumers enforce the gapless-ordering invariant
// on an at-least-once transport.
type SequenceGuard struct {
	mu   sync.Mutex
	last map[uuid.UUID]int64
}

// NewSequenceGuard creates an empty guard.
func NewSequenceGuard() *SequenceGuard {
	return &SequenceGuard{last: make(map[uuid.UUID]int64)}
}

// Check classifies sequenceID for the task without recording it.
//
// The first event seen for a task is accepted regardless of its sequence ID:
// a group may legitimately begin mid-stream when the topic's history before
// its first subscription has been pruned.
func (g *SequenceGuard) Check(taskID uuid.UUID, sequenceID int64) SequenceVerdict {
	g.mu.Lock()
	defer g.mu.Unlock()

	last, seen := g.last[taskID]
	if !seen {
		return SequenceFresh
	}
	switch {
	case sequenceID <= last:
		return SequenceDuplicate
	case sequenceID == last+1:
		return SequenceFresh
	default:
		return SequenceGap
	}
}

// Advance records sequenceID as processed for the task. Call after the
// consumer's side effect has been applied.
func (g *SequenceGuard) Advance(taskID uuid.UUID, sequenceID int64) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if sequenceID > g.last[taskID] {
		g.last[taskID] = sequenceID
	}
}

// Forget drops tracking state for a task, typically after its deleted event.
func (g *SequenceGuard) Forget(taskID uuid.UUID) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.last, taskID)
}
