// Package eventbus implements the in-process, typed publish/subscribe bus
// that decouples the Workflow Engine and Multi-Agent Flow (producers) from
// the Connection Manager and observability sinks (consumers).
package eventbus

import (
	"context"
	"fmt"
	"sync"

	"github.com/taskflow-run/orchestrator/telemetry"
)

// Topic is one of the finite, closed set of topics the bus carries. There
// is no plugin resolution by arbitrary string at runtime: new topics
// require a code change here.
type Topic string

const (
	TopicWorkflowStarted       Topic = "workflow.started"
	TopicWorkflowStepStarted   Topic = "workflow.step.started"
	TopicWorkflowStepCompleted Topic = "workflow.step.completed"
	TopicWorkflowCompleted     Topic = "workflow.completed"
	TopicWorkflowFailed        Topic = "workflow.failed"
	TopicProgressUpdate        Topic = "progress.update"
	TopicConnectionOpened      Topic = "connection.opened"
	TopicConnectionClosed      Topic = "connection.closed"
)

// knownTopics is used only to validate Subscribe calls against the closed
// set (Publish does not check it); it is not exported because the set itself (the Topic
// constants above) is the public contract.
var knownTopics = map[Topic]bool{
	TopicWorkflowStarted:       true,
	TopicWorkflowStepStarted:   true,
	TopicWorkflowStepCompleted: true,
	TopicWorkflowCompleted:     true,
	TopicWorkflowFailed:        true,
	TopicProgressUpdate:        true,
	TopicConnectionOpened:      true,
	TopicConnectionClosed:      true,
}

// Handler reacts to a single published payload. Handlers must not block: a
// slow handler is the handler's own responsibility to queue or drop work
// internally. A handler that panics or is otherwise broken is logged and
// skipped; it never blocks other handlers or the publisher.
type Handler func(ctx context.Context, payload any)

// Subscription represents an active registration on the Bus. Close is
// idempotent and safe to call from any goroutine, including while a
// Publish for the same topic is in flight (the in-flight delivery snapshot
// is unaffected).
type Subscription interface {
	Close()
}

type (
	// Bus fans out published events to every handler currently registered
	// on a topic. Delivery within one producer's calls to the same topic
	// preserves publish order; across producers or topics, no ordering is
	// promised.
	Bus struct {
		mu     sync.RWMutex
		subs   map[Topic]map[*subscription]Handler
		logger telemetry.Logger
	}

	subscription struct {
		bus   *Bus
		topic Topic
		once  sync.Once
	}
)

// New constructs an empty Bus. A nil logger falls back to a no-op logger.
func New(logger telemetry.Logger) *Bus {
	if logger == nil {
		logger = telemetry.NewNoopLogger()
	}
	return &Bus{subs: make(map[Topic]map[*subscription]Handler), logger: logger}
}

// Subscribe registers handler for topic and returns a Subscription that
// can be closed to unregister. Subscribe panics if topic is not one of the
// closed set of known topics; that is a programming error, not a runtime
// condition callers should handle.
func (b *Bus) Subscribe(topic Topic, handler Handler) Subscription {
	if !knownTopics[topic] {
		panic(fmt.Sprintf("eventbus: unknown topic %q", topic))
	}
	if handler == nil {
		panic("eventbus: handler must not be nil")
	}
	sub := &subscription{bus: b, topic: topic}
	b.mu.Lock()
	if b.subs[topic] == nil {
		b.subs[topic] = make(map[*subscription]Handler)
	}
	b.subs[topic][sub] = handler
	b.mu.Unlock()
	return sub
}

// Publish delivers payload to every handler currently registered on topic,
// in no particular order, within the caller's goroutine. A handler that
// panics is recovered, logged, and skipped; delivery continues to the
// remaining handlers. Publish never returns an error: broadcasting must
// never fail the producer.
func (b *Bus) Publish(ctx context.Context, topic Topic, payload any) {
	b.mu.RLock()
	handlers := b.subs[topic]
	snapshot := make([]Handler, 0, len(handlers))
	for _, h := range handlers {
		snapshot = append(snapshot, h)
	}
	b.mu.RUnlock()
	for _, h := range snapshot {
		b.invoke(ctx, topic, h, payload)
	}
}

func (b *Bus) invoke(ctx context.Context, topic Topic, handler Handler, payload any) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error(ctx, "eventbus: handler panicked, skipping", "topic", string(topic), "panic", fmt.Sprintf("%v", r))
		}
	}()
	handler(ctx, payload)
}

func (s *subscription) Close() {
	s.once.Do(func() {
		s.bus.mu.Lock()
		delete(s.bus.subs[s.topic], s)
		s.bus.mu.Unlock()
	})
}
