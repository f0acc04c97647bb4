package eventbus

import (
	"context"
	"sync"
)

type envelope struct {
	event   Event
	payload any
}

// EventBus is an asynchronous, buffered event bus. Publish never blocks: when
// the buffer is full the event is dropped and OnDrop hooks fire. Subscribers
// run sequentially on the goroutine that called Start.
type EventBus struct {
	ch    chan envelope
	hooks hooks

	mu     sync.RWMutex
	subs   map[Event][]func(any)
	closed bool

	startOnce sync.Once
	closeOnce sync.Once
	done      chan struct{}
	started   chan struct{}
}

// New creates a bus with the given buffer size.
func New(buffer int) *EventBus {
	return &EventBus{
		ch:      make(chan envelope, buffer),
		subs:    make(map[Event][]func(any)),
		done:    make(chan struct{}),
		started: make(chan struct{}),
	}
}

// Start dispatches events until ctx is cancelled or Close drains the queue.
// It blocks; run it in its own goroutine.
func (bus *EventBus) Start(ctx context.Context) {
	first := false
	bus.startOnce.Do(func() {
		first = true
		close(bus.started)
	})
	if !first {
		return
	}
	defer close(bus.done)

	for {
		select {
		case <-ctx.Done():
			return
		case env, ok := <-bus.ch:
			if !ok {
				return
			}
			bus.dispatch(env)
		}
	}
}

// Close stops accepting events. If Start is already running, Close waits
// until every queued event has been dispatched; otherwise a later Start
// drains the queue and returns.
func (bus *EventBus) Close() {
	bus.closeOnce.Do(func() {
		bus.mu.Lock()
		bus.closed = true
		close(bus.ch)
		bus.mu.Unlock()
	})

	select {
	case <-bus.started:
		<-bus.done
	default:
	}
}

func (bus *EventBus) subscribe(event Event, fn func(any)) {
	bus.mu.Lock()
	bus.subs[event] = append(bus.subs[event], fn)
	bus.mu.Unlock()
}

func (bus *EventBus) dispatch(env envelope) {
	bus.mu.RLock()
	subs := make([]func(any), len(bus.subs[env.event]))
	copy(subs, bus.subs[env.event])
	bus.mu.RUnlock()

	for _, fn := range subs {
		func() {
			defer func() {
				if r := recover(); r != nil {
					bus.runOnPanic(env.event, env.payload, r)
				}
			}()
			fn(env.payload)
		}()
	}
}

// Keep list sorted A-Z

// PublishAttemptFinished enqueues an attempt.finished event.
func (bus *EventBus) PublishAttemptFinished(p AttemptFinishedPayload) {
	bus.send(EventAttemptFinished, p)
}

// SubscribeAttemptFinished registers fn for attempt.finished events.
func (bus *EventBus) SubscribeAttemptFinished(fn func(AttemptFinishedPayload)) {
	bus.subscribe(EventAttemptFinished, func(p any) { fn(p.(AttemptFinishedPayload)) })
}

// PublishAttemptStarted enqueues an attempt.started event.
func (bus *EventBus) PublishAttemptStarted(p AttemptStartedPayload) {
	bus.send(EventAttemptStarted, p)
}

// SubscribeAttemptStarted registers fn for attempt.started events.
func (bus *EventBus) SubscribeAttemptStarted(fn func(AttemptStartedPayload)) {
	bus.subscribe(EventAttemptStarted, func(p any) { fn(p.(AttemptStartedPayload)) })
}

// PublishNotificationPublished enqueues a notification.published event.
func (bus *EventBus) PublishNotificationPublished(p NotificationPublishedPayload) {
	bus.send(EventNotificationPublished, p)
}

// SubscribeNotificationPublished registers fn for notification.published events.
func (bus *EventBus) SubscribeNotificationPublished(fn func(NotificationPublishedPayload)) {
	bus.subscribe(EventNotificationPublished, func(p any) { fn(p.(NotificationPublishedPayload)) })
}

// PublishRunFinished enqueues a run.finished event.
func (bus *EventBus) PublishRunFinished(p RunFinishedPayload) {
	bus.send(EventRunFinished, p)
}

// SubscribeRunFinished registers fn for run.finished events.
func (bus *EventBus) SubscribeRunFinished(fn func(RunFinishedPayload)) {
	bus.subscribe(EventRunFinished, func(p any) { fn(p.(RunFinishedPayload)) })
}

// PublishStoryTransitioned enqueues a story.transitioned event.
func (bus *EventBus) PublishStoryTransitioned(p StoryTransitionedPayload) {
	bus.send(EventStoryTransitioned, p)
}

// SubscribeStoryTransitioned registers fn for story.transitioned events.
func (bus *EventBus) SubscribeStoryTransitioned(fn func(StoryTransitionedPayload)) {
	bus.subscribe(EventStoryTransitioned, func(p any) { fn(p.(StoryTransitionedPayload)) })
}
