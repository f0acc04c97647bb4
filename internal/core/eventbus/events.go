// Package eventbus provides a typed publish/subscribe event bus that carries
// run progress from the supervisor to observers (status file, console,
// debug logging) without coupling the scheduling loop to any of them.
package eventbus

import (
	"time"

	"github.com/colonyops/wiggums/internal/core/story"
)

// Event names a payload type on the bus.
type Event string

// Keep list sorted A-Z
const (
	EventAttemptFinished       Event = "attempt.finished"
	EventAttemptStarted        Event = "attempt.started"
	EventNotificationPublished Event = "notification.published"
	EventRunFinished           Event = "run.finished"
	EventStoryTransitioned     Event = "story.transitioned"
)

// StoryTransitionedPayload is emitted after a story changes status and the
// snapshot has been persisted.
type StoryTransitionedPayload struct {
	RunID string
	Item  story.Item
	From  story.Status
	Kind  story.EventKind
	// Snapshot is the persisted state after the transition. Subscribers
	// must treat it as read-only.
	Snapshot story.Snapshot
}

// AttemptStartedPayload is emitted when an agent process is about to launch.
type AttemptStartedPayload struct {
	RunID    string
	StoryID  string
	Title    string
	Attempt  int
	Tier     string
	Branch   string
	Worktree string
}

// AttemptFinishedPayload is emitted once an attempt's outcome has been
// handled (merged, retried or failed).
type AttemptFinishedPayload struct {
	RunID    string
	StoryID  string
	Attempt  int
	Tier     string
	Outcome  string
	Detail   string
	ExitCode int
	Usage    story.Usage
	Duration time.Duration
	LogPath  string
	// Status is the story's status after handling.
	Status story.Status
	// ConflictFiles lists the files changed by a branch that failed to merge.
	ConflictFiles []string
}

// RunFinishedPayload is emitted once when the supervisor returns.
type RunFinishedPayload struct {
	RunID    string
	Stop     string
	Counts   map[story.Status]int
	Total    story.Usage
	Duration time.Duration
}

// NotifyLevel is the severity of a user-facing notification.
type NotifyLevel string

const (
	LevelInfo    NotifyLevel = "info"
	LevelSuccess NotifyLevel = "success"
	LevelWarning NotifyLevel = "warning"
	LevelError   NotifyLevel = "error"
)

// NotificationPublishedPayload is a human-readable line derived from a
// domain event by the NotificationRouter.
type NotificationPublishedPayload struct {
	Level   NotifyLevel
	Message string
}
