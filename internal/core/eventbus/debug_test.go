package eventbus_test

import (
	"testing"

	"github.com/rs/zerolog"

	"github.com/colonyops/wiggums/internal/core/eventbus"
	"github.com/colonyops/wiggums/internal/core/eventbus/testbus"
	"github.com/colonyops/wiggums/internal/core/story"
)

func TestRegisterDebugLogger(t *testing.T) {
	tb := testbus.New(t)

	// Register with a nop logger; verifies no panic.
	eventbus.RegisterDebugLogger(tb.EventBus, zerolog.Nop())

	// Publish a few events to exercise all subscriber paths.
	tb.PublishAttemptStarted(eventbus.AttemptStartedPayload{StoryID: "A-1", Attempt: 1})
	tb.PublishStoryTransitioned(eventbus.StoryTransitionedPayload{
		Item: story.Item{ID: "A-1", Status: story.StatusRunning},
		From: story.StatusPending,
	})
	tb.PublishRunFinished(eventbus.RunFinishedPayload{Stop: "done"})

	// Wait for last event to confirm all dispatched without panic.
	tb.AssertPublished(t, eventbus.EventRunFinished)
}
