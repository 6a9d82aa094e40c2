// Package logsink forwards verbatim envelopes to the append-only audit log.
package logsink

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/telhawk-systems/telhawk-audit/audit/pkg/event"
	"github.com/telhawk-systems/telhawk-audit/common/logging"
	"github.com/telhawk-systems/telhawk-audit/common/messaging"
)

// ErrUnavailable marks a write worth retrying.
var ErrUnavailable = errors.New("log sink unavailable")

// Sink receives the verbatim envelope of every event routed to it. id is the
// dispatch instruction id, so redeliveries of one instruction collapse while
// instructions from different rules are all kept.
type Sink interface {
	Write(ctx context.Context, id string, ev *event.Event) error
	Type() string
}

// StreamPublisher is the subset of the JetStream client the sink needs.
type StreamPublisher interface {
	PublishSync(ctx context.Context, subject string, data []byte, opts ...messaging.PublishOption) (*jetstream.PubAck, error)
}

// JetStreamSink appends envelopes to the AUDIT_LOG stream.
type JetStreamSink struct {
	publisher StreamPublisher
}

func NewJetStreamSink(p StreamPublisher) *JetStreamSink {
	return &JetStreamSink{publisher: p}
}

func (s *JetStreamSink) Type() string { return "jetstream" }

func (s *JetStreamSink) Write(ctx context.Context, id string, ev *event.Event) error {
	_, err := s.publisher.PublishSync(ctx, messaging.SubjectAuditLog, ev.Raw,
		messaging.WithMsgID(id),
		messaging.WithHeader(messaging.HeaderEventID, ev.ID),
	)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

// LoggerSink writes envelopes to the service log. Used in dev mode.
type LoggerSink struct {
	logger *logging.Logger
}

func NewLoggerSink(logger *logging.Logger) *LoggerSink {
	return &LoggerSink{logger: logger}
}

func (s *LoggerSink) Type() string { return "log" }

func (s *LoggerSink) Write(ctx context.Context, id string, ev *event.Event) error {
	s.logger.InfoContext(ctx, "audit log",
		logging.EventID(ev.ID),
		"envelope", string(ev.Raw),
	)
	return nil
}

// Entry is one record held by a MemorySink.
type Entry struct {
	ID       string
	EventID  string
	Envelope []byte
}

// MemorySink keeps envelopes in process, one entry per id.
type MemorySink struct {
	mu      sync.Mutex
	entries []Entry
	seen    map[string]bool
	fail    error
}

func NewMemorySink() *MemorySink {
	return &MemorySink{seen: make(map[string]bool)}
}

func (s *MemorySink) Type() string { return "memory" }

// Fail makes every subsequent Write return err. Pass nil to clear.
func (s *MemorySink) Fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fail = err
}

func (s *MemorySink) Write(ctx context.Context, id string, ev *event.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, s.fail)
	}
	if s.seen[id] {
		return nil
	}
	s.seen[id] = true
	s.entries = append(s.entries, Entry{ID: id, EventID: ev.ID, Envelope: append([]byte(nil), ev.Raw...)})
	return nil
}

// Entries returns a copy of the stored entries in write order.
func (s *MemorySink) Entries() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Entry(nil), s.entries...)
}
