package story

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidTransition is returned when an event is applied to a story
	// whose status does not permit it. It indicates a scheduling defect.
	ErrInvalidTransition = errors.New("invalid transition")
	// ErrUnknownStory is returned for ids not present in the graph.
	ErrUnknownStory = errors.New("unknown story")
)

// EventKind names a graph mutation.
type EventKind string

const (
	// EventStart launches an attempt: PENDING -> RUNNING.
	EventStart EventKind = "start"
	// EventComplete records a successful attempt that merged cleanly: RUNNING -> COMPLETED.
	EventComplete EventKind = "complete"
	// EventConflict records a successful attempt whose merge conflicted: RUNNING -> MERGE_CONFLICT.
	EventConflict EventKind = "conflict"
	// EventRetry records partial progress with attempts remaining: RUNNING -> PENDING.
	EventRetry EventKind = "retry"
	// EventFail records a hard failure or an exhausted retry budget: RUNNING -> FAILED.
	EventFail EventKind = "fail"
	// EventExhaust fails a pending story that has no attempts left: PENDING -> FAILED.
	EventExhaust EventKind = "exhaust"
	// EventReset is the operator override: RUNNING, FAILED, MERGE_CONFLICT -> PENDING.
	EventReset EventKind = "reset"
)

// Event is a single mutation applied through Graph.Apply.
type Event struct {
	Kind EventKind
	// Branch is recorded on EventStart.
	Branch string
	// Usage is added on finishing events.
	Usage Usage
	// Note is appended to the retry notes on EventRetry and EventFail.
	Note string
}

// Start returns an EventStart for branch.
func Start(branch string) Event { return Event{Kind: EventStart, Branch: branch} }

// Complete returns an EventComplete.
func Complete(u Usage) Event { return Event{Kind: EventComplete, Usage: u} }

// Conflict returns an EventConflict.
func Conflict(u Usage) Event { return Event{Kind: EventConflict, Usage: u} }

// Retry returns an EventRetry carrying the agent's note.
func Retry(note string, u Usage) Event { return Event{Kind: EventRetry, Note: note, Usage: u} }

// Fail returns an EventFail.
func Fail(note string, u Usage) Event { return Event{Kind: EventFail, Note: note, Usage: u} }

// Exhaust returns an EventExhaust.
func Exhaust(note string) Event { return Event{Kind: EventExhaust, Note: note} }

// Reset returns an EventReset.
func Reset() Event { return Event{Kind: EventReset} }

// finishing reports whether the event ends an attempt.
func (e Event) finishing() bool {
	switch e.Kind {
	case EventComplete, EventConflict, EventRetry, EventFail:
		return true
	}
	return false
}

// target is the status the event moves a story to.
func (e Event) target() Status {
	switch e.Kind {
	case EventStart:
		return StatusRunning
	case EventComplete:
		return StatusCompleted
	case EventConflict:
		return StatusMergeConflict
	case EventRetry, EventReset:
		return StatusPending
	default:
		return StatusFailed
	}
}

// TransitionError describes a rejected event.
type TransitionError struct {
	ID     string
	From   Status
	Event  EventKind
	Reason string
}

func (e *TransitionError) Error() string {
	msg := fmt.Sprintf("story %s: cannot apply %s from %s", e.ID, e.Event, e.From)
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	return msg
}

func (e *TransitionError) Unwrap() error { return ErrInvalidTransition }
