package security

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Audit event types.
const (
	EventAgentSpawn    = "agent.spawn"
	EventAgentClose    = "agent.close"
	EventRoutingDenied = "routing.denied"
	EventStoreClear    = "hub.clear"
	EventKillSwitch    = "hub.kill"
	EventPermission    = "authz.denied"
	EventCheckpoint    = "persistence.checkpoint"
	EventRestore       = "persistence.restore"
)

// AuditEvent represents a safety-relevant swarm event.
type AuditEvent struct {
	Timestamp time.Time         `json:"timestamp"`
	EventType string            `json:"event_type"`
	Agent     string            `json:"agent,omitempty"`
	Target    string            `json:"target,omitempty"`
	Resource  string            `json:"resource,omitempty"`
	Action    string            `json:"action,omitempty"`
	Result    string            `json:"result"`
	Error     string            `json:"error,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// AuditLogger records audit events.
type AuditLogger interface {
	Log(event *AuditEvent)
	Close() error
}

// NewAuditEvent builds an event; a non-nil err marks it as a failure.
func NewAuditEvent(eventType, agent, resource, action string, err error) *AuditEvent {
	ev := &AuditEvent{
		Timestamp: time.Now().UTC(),
		EventType: eventType,
		Agent:     agent,
		Resource:  resource,
		Action:    action,
		Result:    "success",
	}
	if err != nil {
		ev.Result = "failure"
		ev.Error = err.Error()
	}
	return ev
}

// WithTarget sets the event target and returns the event for chaining.
func (e *AuditEvent) WithTarget(target string) *AuditEvent {
	e.Target = target
	return e
}

// WithMetadata adds a metadata pair and returns the event for chaining.
func (e *AuditEvent) WithMetadata(key, value string) *AuditEvent {
	if e.Metadata == nil {
		e.Metadata = make(map[string]string)
	}
	e.Metadata[key] = value
	return e
}

// InMemoryAuditLogger stores audit events in memory (for testing and inspection)
type InMemoryAuditLogger struct {
	events []AuditEvent
	mu     sync.RWMutex
}

// NewInMemoryAuditLogger creates a new in-memory audit logger
func NewInMemoryAuditLogger() *InMemoryAuditLogger {
	return &InMemoryAuditLogger{}
}

// Log records an audit event
func (l *InMemoryAuditLogger) Log(event *AuditEvent) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, *event)
}

// Events returns a copy of the recorded events, optionally filtered by type.
func (l *InMemoryAuditLogger) Events(eventType string) []AuditEvent {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]AuditEvent, 0, len(l.events))
	for _, ev := range l.events {
		if eventType == "" || ev.EventType == eventType {
			out = append(out, ev)
		}
	}
	return out
}

// Close implements AuditLogger.
func (l *InMemoryAuditLogger) Close() error { return nil }

// LogAuditLogger writes audit events through a zerolog logger.
type LogAuditLogger struct {
	logger zerolog.Logger
}

// NewLogAuditLogger creates an audit logger writing to logger.
func NewLogAuditLogger(logger zerolog.Logger) *LogAuditLogger {
	return &LogAuditLogger{logger: logger.With().Str("component", "audit").Logger()}
}

// Log writes the event as one structured log line.
func (l *LogAuditLogger) Log(event *AuditEvent) {
	e := l.logger.Info()
	if event.Result == "failure" {
		e = l.logger.Warn()
	}
	e = e.Time("event_time", event.Timestamp).
		Str("event_type", event.EventType).
		Str("result", event.Result)
	if event.Agent != "" {
		e = e.Str("agent", event.Agent)
	}
	if event.Target != "" {
		e = e.Str("target", event.Target)
	}
	if event.Resource != "" {
		e = e.Str("resource", event.Resource)
	}
	if event.Action != "" {
		e = e.Str("action", event.Action)
	}
	if event.Error != "" {
		e = e.Str("error", event.Error)
	}
	if len(event.Metadata) > 0 {
		e = e.Interface("metadata", event.Metadata)
	}
	e.Msg("audit")
}

// Close implements AuditLogger.
func (l *LogAuditLogger) Close() error { return nil }

// NoOpAuditLogger discards every event.
type NoOpAuditLogger struct{}

// NewNoOpAuditLogger creates a no-op audit logger
func NewNoOpAuditLogger() *NoOpAuditLogger { return &NoOpAuditLogger{} }

// Log implements AuditLogger.
func (NoOpAuditLogger) Log(*AuditEvent) {}

// Close implements AuditLogger.
func (NoOpAuditLogger) Close() error { return nil }
