package transport

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/taskflow-run/orchestrator/broadcast"
	"github.com/taskflow-run/orchestrator/eventbus"
	"github.com/taskflow-run/orchestrator/telemetry"
	"github.com/taskflow-run/orchestrator/workflow"
)

// Sink is the write side of a subscriber's transport, implemented
// concretely by a WebSocket connection. A Sink is driven by exactly one
// goroutine (the subscriber's send loop), so implementations do not need
// to guard Write against concurrent callers.
type Sink interface {
	Write(ctx context.Context, frame []byte) error
	Close() error
}

// envelope is the one frame shape sent to every subscriber, regardless of
// which lifecycle topic produced it.
type envelope struct {
	Type      string    `json:"type"`
	TaskID    string    `json:"task_id,omitempty"`
	Timestamp time.Time `json:"ts"`
	Data      any       `json:"data,omitempty"`
	// Dropped is only populated on heartbeat frames, surfacing the
	// subscriber's own backpressure-drop count so a client can detect a
	// lossy connection without polling a separate endpoint.
	Dropped int64 `json:"dropped,omitempty"`
}

// bridgedTopics is the set of lifecycle topics the Connection Manager
// forwards verbatim to subscribers, each carrying its own envelope type.
var bridgedTopics = []eventbus.Topic{
	eventbus.TopicWorkflowStarted,
	eventbus.TopicWorkflowStepStarted,
	eventbus.TopicWorkflowStepCompleted,
	eventbus.TopicWorkflowCompleted,
	eventbus.TopicWorkflowFailed,
	eventbus.TopicProgressUpdate,
}

// toEnvelope translates a bus payload into its wire envelope. ok is false
// if payload did not match the type expected for topic, which should not
// happen in practice but is handled defensively rather than panicking.
func toEnvelope(topic eventbus.Topic, payload any) (env envelope, ok bool) {
	switch topic {
	case eventbus.TopicWorkflowStarted:
		ev, match := payload.(workflow.StartedEvent)
		if !match {
			return envelope{}, false
		}
		return envelope{Type: "workflow.started", TaskID: ev.WorkflowID, Timestamp: ev.Timestamp, Data: ev}, true
	case eventbus.TopicWorkflowStepStarted:
		ev, match := payload.(workflow.StepStartedEvent)
		if !match {
			return envelope{}, false
		}
		return envelope{Type: "workflow.step.started", TaskID: ev.WorkflowID, Timestamp: ev.Timestamp, Data: ev}, true
	case eventbus.TopicWorkflowStepCompleted:
		ev, match := payload.(workflow.StepCompletedEvent)
		if !match {
			return envelope{}, false
		}
		return envelope{Type: "workflow.step.completed", TaskID: ev.WorkflowID, Timestamp: ev.Timestamp, Data: ev}, true
	case eventbus.TopicWorkflowCompleted:
		ev, match := payload.(workflow.CompletedEvent)
		if !match {
			return envelope{}, false
		}
		return envelope{Type: "workflow.completed", TaskID: ev.WorkflowID, Timestamp: ev.Timestamp, Data: ev}, true
	case eventbus.TopicWorkflowFailed:
		ev, match := payload.(workflow.FailedEvent)
		if !match {
			return envelope{}, false
		}
		return envelope{Type: "workflow.failed", TaskID: ev.WorkflowID, Timestamp: ev.Timestamp, Data: ev}, true
	case eventbus.TopicProgressUpdate:
		ev, match := payload.(broadcast.ProgressUpdate)
		if !match {
			return envelope{}, false
		}
		return envelope{Type: "progress", TaskID: ev.TaskID, Timestamp: ev.Timestamp, Data: ev}, true
	default:
		return envelope{}, false
	}
}

func isTerminalEnvelopeType(t string) bool {
	return t == "workflow.completed" || t == "workflow.failed"
}

type subscriber struct {
	clientID   string
	sink       Sink
	outbox     *Outbox
	logger     telemetry.Logger
	mu         sync.Mutex
	taskFilter string          // empty means "all tasks"
	eventTypes map[string]bool // nil means "all types"
	done       chan struct{}
	closeOnce  sync.Once
}

func (s *subscriber) wants(env envelope) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.taskFilter != "" && env.TaskID != "" && env.TaskID != s.taskFilter {
		return false
	}
	if s.eventTypes != nil && !s.eventTypes[env.Type] {
		return false
	}
	return true
}

// SetTaskFilter restricts the subscriber to a single task_id's events. An
// empty string clears the filter.
func (s *subscriber) SetTaskFilter(taskID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.taskFilter = taskID
}

// SetEventTypeFilter restricts the subscriber to the named envelope types
// (for example "progress", "workflow.completed"). An empty slice clears
// the filter, reverting to "all types".
func (s *subscriber) SetEventTypeFilter(eventTypes []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(eventTypes) == 0 {
		s.eventTypes = nil
		return
	}
	s.eventTypes = make(map[string]bool, len(eventTypes))
	for _, t := range eventTypes {
		s.eventTypes[t] = true
	}
}

func (s *subscriber) run(ctx context.Context) {
	defer s.sink.Close()
	for {
		frame, ok := s.outbox.Dequeue(ctx)
		if !ok {
			return
		}
		if err := s.sink.Write(ctx, frame); err != nil {
			s.logger.Warn(ctx, "transport: write failed, dropping subscriber", "client_id", s.clientID, "error", err.Error())
			return
		}
	}
}

func (s *subscriber) close() {
	s.closeOnce.Do(func() {
		close(s.done)
		s.outbox.Close()
	})
}

// Manager is the Connection Manager: it owns the set of live subscribers,
// keyed by client_id, and fans out workflow lifecycle events published on
// the event bus to every subscriber whose filter matches.
type Manager struct {
	mu             sync.RWMutex
	subs           map[string]*subscriber
	bus            *eventbus.Bus
	logger         telemetry.Logger
	capacity       int
	enqueueTimeout time.Duration
	busSubs        []eventbus.Subscription
}

// Option configures a Manager at construction time.
type Option func(*Manager)

// WithOutboxCapacity overrides DefaultOutboxCapacity for every subscriber
// accepted by this Manager.
func WithOutboxCapacity(n int) Option {
	return func(m *Manager) { m.capacity = n }
}

// WithEnqueueTimeout overrides DefaultEnqueueTimeout for terminal-frame
// blocking enqueue.
func WithEnqueueTimeout(d time.Duration) Option {
	return func(m *Manager) { m.enqueueTimeout = d }
}

// New constructs a Manager and subscribes it to every bridged lifecycle
// topic on bus. Callers own bus's lifetime; Manager never closes it.
func New(bus *eventbus.Bus, logger telemetry.Logger, opts ...Option) *Manager {
	if logger == nil {
		logger = telemetry.NewNoopLogger()
	}
	m := &Manager{
		subs:           make(map[string]*subscriber),
		bus:            bus,
		logger:         logger,
		capacity:       DefaultOutboxCapacity,
		enqueueTimeout: DefaultEnqueueTimeout,
	}
	for _, opt := range opts {
		opt(m)
	}
	for _, topic := range bridgedTopics {
		topic := topic
		m.busSubs = append(m.busSubs, bus.Subscribe(topic, func(ctx context.Context, payload any) {
			m.onEvent(topic, payload)
		}))
	}
	return m
}

// Close unsubscribes the Manager from the bus and disconnects every live
// subscriber.
func (m *Manager) Close() {
	for _, sub := range m.busSubs {
		sub.Close()
	}
	m.mu.Lock()
	ids := make([]string, 0, len(m.subs))
	for id := range m.subs {
		ids = append(ids, id)
	}
	m.mu.Unlock()
	for _, id := range ids {
		m.Disconnect(id)
	}
}

// Accept registers a new subscriber for clientID backed by sink and starts
// its send loop under ctx. Accepting a clientID that is already connected
// replaces the prior subscriber, disconnecting it first.
func (m *Manager) Accept(ctx context.Context, clientID string, sink Sink) {
	m.Disconnect(clientID)

	sub := &subscriber{
		clientID: clientID,
		sink:     sink,
		outbox:   NewOutbox(m.capacity),
		logger:   m.logger,
		done:     make(chan struct{}),
	}
	m.mu.Lock()
	m.subs[clientID] = sub
	m.mu.Unlock()

	m.bus.Publish(ctx, eventbus.TopicConnectionOpened, clientID)
	go sub.run(ctx)
}

// Disconnect tears down clientID's subscriber, if any. It is a no-op if
// clientID is not currently connected.
func (m *Manager) Disconnect(clientID string) {
	m.mu.Lock()
	sub, ok := m.subs[clientID]
	if ok {
		delete(m.subs, clientID)
	}
	m.mu.Unlock()
	if !ok {
		return
	}
	sub.close()
	m.bus.Publish(context.Background(), eventbus.TopicConnectionClosed, clientID)
}

// SetTaskFilter restricts clientID's subscription to one task_id's
// events, per the client -> server `{"type":"subscribe","task_id":"…"}`
// message. A no-op if clientID is not currently connected.
func (m *Manager) SetTaskFilter(clientID, taskID string) {
	m.mu.RLock()
	sub, ok := m.subs[clientID]
	m.mu.RUnlock()
	if ok {
		sub.SetTaskFilter(taskID)
	}
}

// SetEventTypeFilter restricts clientID's subscription to the named
// envelope types. A no-op if clientID is not currently connected.
func (m *Manager) SetEventTypeFilter(clientID string, eventTypes []string) {
	m.mu.RLock()
	sub, ok := m.subs[clientID]
	m.mu.RUnlock()
	if ok {
		sub.SetEventTypeFilter(eventTypes)
	}
}

// SendRaw enqueues an arbitrary pre-encoded frame to a single connected
// subscriber, bypassing filters entirely. It is used for direct
// request/response traffic such as replying to a client's ping.
func (m *Manager) SendRaw(clientID string, frame []byte) {
	m.mu.RLock()
	sub, ok := m.subs[clientID]
	m.mu.RUnlock()
	if !ok {
		return
	}
	sub.outbox.Enqueue(frame)
}

func (m *Manager) onEvent(topic eventbus.Topic, payload any) {
	env, ok := toEnvelope(topic, payload)
	if !ok {
		return
	}
	data, err := json.Marshal(env)
	if err != nil {
		m.logger.Error(context.Background(), "transport: marshal envelope failed", "error", err.Error())
		return
	}
	terminal := isTerminalEnvelopeType(env.Type)

	m.mu.RLock()
	subs := make([]*subscriber, 0, len(m.subs))
	for _, s := range m.subs {
		subs = append(subs, s)
	}
	m.mu.RUnlock()

	for _, sub := range subs {
		if !sub.wants(env) {
			continue
		}
		if terminal {
			if sub.outbox.EnqueueBlocking(context.Background(), data, m.enqueueTimeout) {
				continue
			}
			m.logger.Warn(context.Background(), "transport: dropped terminal frame after timeout", "client_id", sub.clientID)
			continue
		}
		sub.outbox.Enqueue(data)
	}
}

// HeartbeatTick sends a heartbeat frame, carrying the current drop count,
// to every connected subscriber. Callers are expected to invoke this on a
// fixed interval (the cmd/orchestratord wiring owns the ticker).
func (m *Manager) HeartbeatTick(now time.Time) {
	m.mu.RLock()
	subs := make([]*subscriber, 0, len(m.subs))
	for _, s := range m.subs {
		subs = append(subs, s)
	}
	m.mu.RUnlock()

	for _, sub := range subs {
		env := envelope{Type: "heartbeat", Timestamp: now, Dropped: sub.outbox.Dropped()}
		data, err := json.Marshal(env)
		if err != nil {
			continue
		}
		sub.outbox.Enqueue(data)
	}
}

// clientMessage is the shape of a client -> server control message: a
// ping/pong keepalive, or a subscribe request restricting the stream to
// one task_id and/or a set of envelope types.
type clientMessage struct {
	Type       string   `json:"type"`
	TaskID     string   `json:"task_id,omitempty"`
	EventTypes []string `json:"event_types,omitempty"`
}

// HandleClientMessage parses a raw client -> server frame and applies its
// effect: "ping" gets an immediate "pong" reply, "subscribe" narrows the
// filters for clientID. Malformed or unrecognized messages are ignored.
func (m *Manager) HandleClientMessage(clientID string, raw []byte) {
	var msg clientMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return
	}
	switch msg.Type {
	case "ping":
		pong, err := json.Marshal(map[string]string{"type": "pong"})
		if err != nil {
			return
		}
		m.SendRaw(clientID, pong)
	case "subscribe":
		if msg.TaskID != "" {
			m.SetTaskFilter(clientID, msg.TaskID)
		}
		if len(msg.EventTypes) > 0 {
			m.SetEventTypeFilter(clientID, msg.EventTypes)
		}
	}
}

// ConnectedClients returns the currently connected client IDs.
func (m *Manager) ConnectedClients() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.subs))
	for id := range m.subs {
		out = append(out, id)
	}
	return out
}
