package eventbus

import (
	"fmt"

	"github.com/rs/zerolog"
)

// RegisterDebugLogger registers bus hooks that log all event activity at debug level.
// Uses OnPublish for event firing, OnDrop for buffer-full or closed-bus warnings,
// and OnPanic for subscriber panic reporting.
func RegisterDebugLogger(bus *EventBus, logger zerolog.Logger) {
	bus.OnPublish(func(event Event, payload any) {
		e := logger.Debug().Str("event", string(event))
		if id := storyID(payload); id != "" {
			e = e.Str("story_id", id)
		}
		e.Msg("event fired")
	})

	bus.OnDrop(func(event Event, payload any) {
		logger.Warn().
			Str("event", string(event)).
			Str("story_id", storyID(payload)).
			Msg("event dropped")
	})

	bus.OnPanic(func(event Event, _ any, recovered any) {
		logger.Error().
			Str("event", string(event)).
			Str("panic", fmt.Sprint(recovered)).
			Msg("subscriber panicked")
	})
}

func storyID(payload any) string {
	switch p := payload.(type) {
	case StoryTransitionedPayload:
		return p.Item.ID
	case AttemptStartedPayload:
		return p.StoryID
	case AttemptFinishedPayload:
		return p.StoryID
	}
	return ""
}
