package eventbus

import (
	"fmt"
	"strings"

	"github.com/colonyops/wiggums/internal/core/story"
)

// NotificationRouter maps domain events to user-facing notifications.
type NotificationRouter struct {
	bus *EventBus
}

// NewNotificationRouter constructs a router for event-to-notification mappings.
func NewNotificationRouter(bus *EventBus) *NotificationRouter {
	return &NotificationRouter{bus: bus}
}

// Register subscribes all supported event mappings.
func (r *NotificationRouter) Register() {
	if r == nil || r.bus == nil {
		return
	}

	r.bus.SubscribeAttemptStarted(func(p AttemptStartedPayload) {
		r.notifyf(LevelInfo, "%s attempt %d started on %s (%s)", p.StoryID, p.Attempt, p.Tier, p.Branch)
	})

	r.bus.SubscribeAttemptFinished(func(p AttemptFinishedPayload) {
		switch p.Status {
		case story.StatusCompleted:
			r.notifyf(LevelSuccess, "%s completed and merged ($%.4f)", p.StoryID, p.Usage.CostUSD)
		case story.StatusMergeConflict:
			msg := fmt.Sprintf("%s merge conflict; branch kept for inspection", p.StoryID)
			if len(p.ConflictFiles) > 0 {
				msg += ": " + strings.Join(p.ConflictFiles, ", ")
			}
			r.notifyf(LevelWarning, "%s", msg)
		case story.StatusPending:
			r.notifyf(LevelWarning, "%s needs another attempt: %s", p.StoryID, p.Detail)
		case story.StatusFailed:
			r.notifyf(LevelError, "%s failed: %s", p.StoryID, p.Detail)
		}
	})

	r.bus.SubscribeStoryTransitioned(func(p StoryTransitionedPayload) {
		if p.Kind == story.EventExhaust {
			r.notifyf(LevelError, "%s failed: no attempts left in the escalation schedule", p.Item.ID)
		}
	})

	r.bus.SubscribeRunFinished(func(p RunFinishedPayload) {
		r.notifyf(LevelInfo, "run finished (%s) in %s, total $%.4f", p.Stop, p.Duration.Round(1e9), p.Total.CostUSD)
	})
}

func (r *NotificationRouter) notifyf(level NotifyLevel, format string, args ...any) {
	r.bus.PublishNotificationPublished(NotificationPublishedPayload{
		Level:   level,
		Message: fmt.Sprintf(format, args...),
	})
}
