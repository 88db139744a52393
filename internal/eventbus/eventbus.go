// Package eventbus implements the publish/subscribe fan-out spec §6 layers
// on top of the Event Log: Lifecycle Controller transitions and reactions
// are published here so the streaming layer (and any other in-process or
// out-of-process listener) can react without polling the log file. Grounded
// on apps/backend/internal/events/bus (Event, EventHandler, Subscription,
// EventBus interface, MemoryEventBus wildcard matching). The in-process
// MemoryBus implementation requires no external broker so the core daemon
// runs standalone; NATSBus is the optional multi-instance fan-out backend,
// wired in only when EventBusConfig.Driver is "nats".
package eventbus

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/kandev/agent-orchestrator/internal/config"
	"github.com/kandev/agent-orchestrator/internal/logger"
)

// Event is one fan-out message. Subject-style routing ("session.transition",
// "reaction.fired") lets subscribers filter with NATS-style wildcards (*
// matches one token, > matches the rest).
type Event struct {
	ID        string                 `json:"id"`
	Type      string                 `json:"type"`
	Source    string                 `json:"source"`
	Timestamp time.Time              `json:"timestamp"`
	Data      map[string]interface{} `json:"data"`
}

// NewEvent stamps an Event with its type, source, and current time.
func NewEvent(eventType, source string, data map[string]interface{}) *Event {
	return &Event{
		Type:      eventType,
		Source:    source,
		Timestamp: time.Now().UTC(),
		Data:      data,
	}
}

// EventHandler processes one delivered Event.
type EventHandler func(ctx context.Context, event *Event) error

// Subscription is a live subscribe call; Unsubscribe stops delivery.
type Subscription interface {
	Unsubscribe() error
	IsValid() bool
}

// Bus is the fan-out contract both the in-process and NATS-backed
// implementations satisfy, so callers never depend on the transport.
type Bus interface {
	Publish(ctx context.Context, subject string, event *Event) error
	Subscribe(subject string, handler EventHandler) (Subscription, error)
	Close()
	IsConnected() bool
}

// New builds a Bus per cfg.Driver: "nats" dials the broker at cfg.URL,
// anything else (including the empty string) falls back to the in-process
// MemoryBus so a single-instance daemon never needs a broker running.
func New(cfg config.EventBusConfig, log *logger.Logger) (Bus, error) {
	if cfg.Driver == "nats" {
		return NewNATSBus(cfg, log)
	}
	return NewMemoryBus(log), nil
}

// --- in-process implementation -------------------------------------------

// MemoryBus implements Bus with in-memory channels; no broker required.
type MemoryBus struct {
	mu            sync.RWMutex
	subscriptions map[string][]*memorySubscription
	log           *logger.Logger
	closed        bool
}

type memorySubscription struct {
	bus     *MemoryBus
	subject string
	pattern *regexp.Regexp
	handler EventHandler
	mu      sync.Mutex
	active  bool
}

// NewMemoryBus creates a standalone in-process event bus.
func NewMemoryBus(log *logger.Logger) *MemoryBus {
	return &MemoryBus{
		subscriptions: make(map[string][]*memorySubscription),
		log:           log,
	}
}

func (s *memorySubscription) Unsubscribe() error {
	s.mu.Lock()
	s.active = false
	s.mu.Unlock()

	s.bus.mu.Lock()
	defer s.bus.mu.Unlock()
	subs := s.bus.subscriptions[s.subject]
	for i, sub := range subs {
		if sub == s {
			s.bus.subscriptions[s.subject] = append(subs[:i], subs[i+1:]...)
			break
		}
	}
	return nil
}

func (s *memorySubscription) IsValid() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// Publish delivers event to every subscription whose pattern matches
// subject. Handlers run on their own goroutine so a slow subscriber never
// blocks the publisher (mirrors the Lifecycle Controller's own isolation
// rule: one listener's failure never stalls the tick).
func (b *MemoryBus) Publish(ctx context.Context, subject string, event *Event) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return fmt.Errorf("event bus is closed")
	}

	for pattern, subs := range b.subscriptions {
		if !subjectMatches(subject, pattern) {
			continue
		}
		for _, sub := range subs {
			sub.mu.Lock()
			active := sub.active
			sub.mu.Unlock()
			if !active {
				continue
			}
			go func(s *memorySubscription, e *Event) {
				if err := s.handler(ctx, e); err != nil && b.log != nil {
					b.log.Warn("event handler failed", zap.String("subject", subject), zap.Error(err))
				}
			}(sub, event)
		}
	}
	return nil
}

// Subscribe registers handler for subject, which may use NATS-style
// wildcards (* for one token, > for the remaining tokens).
func (b *MemoryBus) Subscribe(subject string, handler EventHandler) (Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, fmt.Errorf("event bus is closed")
	}
	sub := &memorySubscription{bus: b, subject: subject, pattern: compilePattern(subject), handler: handler, active: true}
	b.subscriptions[subject] = append(b.subscriptions[subject], sub)
	return sub, nil
}

// Close deactivates every subscription and marks the bus unusable.
func (b *MemoryBus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	for _, subs := range b.subscriptions {
		for _, sub := range subs {
			sub.mu.Lock()
			sub.active = false
			sub.mu.Unlock()
		}
	}
	b.subscriptions = make(map[string][]*memorySubscription)
}

// IsConnected is always true for the in-process bus until Close is called.
func (b *MemoryBus) IsConnected() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return !b.closed
}

func subjectMatches(subject, pattern string) bool {
	if !strings.Contains(pattern, "*") && !strings.Contains(pattern, ">") {
		return subject == pattern
	}
	re := compilePattern(pattern)
	return re != nil && re.MatchString(subject)
}

func compilePattern(pattern string) *regexp.Regexp {
	if !strings.Contains(pattern, "*") && !strings.Contains(pattern, ">") {
		return nil
	}
	escaped := regexp.QuoteMeta(pattern)
	escaped = strings.ReplaceAll(escaped, `\*`, `[^.]+`)
	escaped = strings.ReplaceAll(escaped, `>`, `.+`)
	re, err := regexp.Compile("^" + escaped + "$")
	if err != nil {
		return nil
	}
	return re
}

// --- NATS-backed implementation ------------------------------------------

// NATSBus implements Bus over a NATS connection, for deployments running
// more than one orchestratord instance against the same event stream.
type NATSBus struct {
	conn *nats.Conn
	log  *logger.Logger
}

// NewNATSBus dials cfg.URL and returns a connected NATSBus.
func NewNATSBus(cfg config.EventBusConfig, log *logger.Logger) (*NATSBus, error) {
	opts := []nats.Option{
		nats.Name(cfg.ClientID),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(2 * time.Second),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			if err != nil && log != nil {
				log.Warn("nats disconnected", zap.Error(err))
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			if log != nil {
				log.Info("nats reconnected", zap.String("url", nc.ConnectedUrl()))
			}
		}),
	}
	conn, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect to nats at %s: %w", cfg.URL, err)
	}
	return &NATSBus{conn: conn, log: log}, nil
}

// Publish marshals event as JSON and publishes it to subject.
func (b *NATSBus) Publish(ctx context.Context, subject string, event *Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if err := b.conn.Publish(subject, data); err != nil {
		return fmt.Errorf("publish to %s: %w", subject, err)
	}
	return nil
}

// Subscribe registers handler against subject via NATS's own wildcard
// matching (*, >), unmarshalling each message back into an Event.
func (b *NATSBus) Subscribe(subject string, handler EventHandler) (Subscription, error) {
	sub, err := b.conn.Subscribe(subject, func(msg *nats.Msg) {
		var event Event
		if err := json.Unmarshal(msg.Data, &event); err != nil {
			if b.log != nil {
				b.log.Warn("failed to unmarshal event", zap.String("subject", msg.Subject), zap.Error(err))
			}
			return
		}
		if err := handler(context.Background(), &event); err != nil && b.log != nil {
			b.log.Warn("event handler failed", zap.String("subject", msg.Subject), zap.Error(err))
		}
	})
	if err != nil {
		return nil, fmt.Errorf("subscribe to %s: %w", subject, err)
	}
	return &natsSubscription{sub: sub}, nil
}

// Close closes the underlying NATS connection.
func (b *NATSBus) Close() {
	b.conn.Close()
}

// IsConnected reports the underlying NATS connection's live status.
func (b *NATSBus) IsConnected() bool {
	return b.conn.IsConnected()
}

type natsSubscription struct {
	sub *nats.Subscription
}

func (s *natsSubscription) Unsubscribe() error {
	if s.sub == nil {
		return nil
	}
	return s.sub.Unsubscribe()
}

func (s *natsSubscription) IsValid() bool {
	return s.sub != nil && s.sub.IsValid()
}
