// Package testbus records events published on a running bus so tests can
// assert on them.
package testbus

import (
	"context"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/colonyops/wiggums/internal/core/eventbus"
)

const pollInterval = 5 * time.Millisecond

type recorded struct {
	event   eventbus.Event
	payload any
}

// Bus is a started EventBus that records every event type. It stops when
// the test completes.
type Bus struct {
	*eventbus.EventBus

	mu     sync.Mutex
	events []recorded
}

// New returns a recording bus.
func New(t *testing.T) *Bus {
	t.Helper()

	tb := &Bus{EventBus: eventbus.New(64)}

	tb.SubscribeAttemptFinished(func(p eventbus.AttemptFinishedPayload) { tb.record(eventbus.EventAttemptFinished, p) })
	tb.SubscribeAttemptStarted(func(p eventbus.AttemptStartedPayload) { tb.record(eventbus.EventAttemptStarted, p) })
	tb.SubscribeNotificationPublished(func(p eventbus.NotificationPublishedPayload) {
		tb.record(eventbus.EventNotificationPublished, p)
	})
	tb.SubscribeRunFinished(func(p eventbus.RunFinishedPayload) { tb.record(eventbus.EventRunFinished, p) })
	tb.SubscribeStoryTransitioned(func(p eventbus.StoryTransitionedPayload) { tb.record(eventbus.EventStoryTransitioned, p) })

	ctx, cancel := context.WithCancel(context.Background())
	go tb.Start(ctx)
	t.Cleanup(cancel)

	return tb
}

func (tb *Bus) record(event eventbus.Event, payload any) {
	tb.mu.Lock()
	tb.events = append(tb.events, recorded{event: event, payload: payload})
	tb.mu.Unlock()
}

// Of returns the recorded payloads of one event type in publish order.
func (tb *Bus) Of(event eventbus.Event) []any {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	var out []any
	for _, r := range tb.events {
		if r.event == event {
			out = append(out, r.payload)
		}
	}
	return out
}

func (tb *Bus) seen(event eventbus.Event) bool {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	return slices.ContainsFunc(tb.events, func(r recorded) bool { return r.event == event })
}

// WaitFor polls until an event of the given type is recorded. It reports
// false if timeout passes first.
func (tb *Bus) WaitFor(event eventbus.Event, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for !tb.seen(event) {
		if time.Now().After(deadline) {
			return false
		}
		time.Sleep(pollInterval)
	}
	return true
}

// AssertPublished fails the test unless event is recorded within 500ms.
func (tb *Bus) AssertPublished(t *testing.T, event eventbus.Event) {
	t.Helper()
	if !tb.WaitFor(event, 500*time.Millisecond) {
		t.Errorf("expected event %q to be published", event)
	}
}

// AssertNotPublished waits for wait and fails the test if event was recorded.
func (tb *Bus) AssertNotPublished(t *testing.T, event eventbus.Event, wait time.Duration) {
	t.Helper()
	time.Sleep(wait)
	if tb.seen(event) {
		t.Errorf("expected event %q not to be published", event)
	}
}
