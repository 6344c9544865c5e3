package audit

import (
	"context"
	"encoding/json"
	"io"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Event is one authentication audit record.
type Event struct {
	ID         string            `json:"id"`
	Timestamp  time.Time         `json:"timestamp"`
	EventType  string            `json:"event_type"`
	UserID     string            `json:"user_id,omitempty"`
	Identifier string            `json:"identifier,omitempty"`
	Version    string            `json:"version,omitempty"`
	IP         string            `json:"ip,omitempty"`
	UserAgent  string            `json:"user_agent,omitempty"`
	Success    bool              `json:"success"`
	Reason     string            `json:"reason,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

// Sink receives emitted audit events.
type Sink interface {
	Emit(ctx context.Context, event Event)
}

// NoOpSink drops audit events.
type NoOpSink struct{}

func (NoOpSink) Emit(context.Context, Event) {}

// ChannelSink writes audit events into a buffered channel.
type ChannelSink struct {
	events chan Event
}

func NewChannelSink(buffer int) *ChannelSink {
	if buffer <= 0 {
		buffer = 1
	}
	return &ChannelSink{
		events: make(chan Event, buffer),
	}
}

func (s *ChannelSink) Emit(ctx context.Context, event Event) {
	select {
	case s.events <- event:
	case <-ctx.Done():
	}
}

func (s *ChannelSink) Events() <-chan Event {
	return s.events
}

// JSONWriterSink writes one JSON object per line.
type JSONWriterSink struct {
	writer io.Writer
	mu     sync.Mutex
}

func NewJSONWriterSink(w io.Writer) *JSONWriterSink {
	return &JSONWriterSink{
		writer: w,
	}
}

func (s *JSONWriterSink) Emit(_ context.Context, event Event) {
	if s == nil || s.writer == nil {
		return
	}
	data, err := json.Marshal(event)
	if err != nil {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, _ = s.writer.Write(append(data, '\n'))
}

// ZerologSink renders each event as one structured log line. Failures log
// at warn level, successes at info.
type ZerologSink struct {
	logger zerolog.Logger
}

func NewZerologSink(logger zerolog.Logger) *ZerologSink {
	return &ZerologSink{logger: logger.With().Str("component", "audit").Logger()}
}

func (s *ZerologSink) Emit(_ context.Context, event Event) {
	if s == nil {
		return
	}
	entry := s.logger.Info()
	if !event.Success {
		entry = s.logger.Warn()
	}
	entry = entry.
		Str("event_id", event.ID).
		Time("at", event.Timestamp).
		Str("event", event.EventType).
		Bool("success", event.Success)
	if event.UserID != "" {
		entry = entry.Str("user_id", event.UserID)
	}
	if event.Identifier != "" {
		entry = entry.Str("identifier", event.Identifier)
	}
	if event.Version != "" {
		entry = entry.Str("version", event.Version)
	}
	if event.IP != "" {
		entry = entry.Str("ip", event.IP)
	}
	if event.UserAgent != "" {
		entry = entry.Str("user_agent", event.UserAgent)
	}
	if event.Reason != "" {
		entry = entry.Str("reason", event.Reason)
	}
	if len(event.Metadata) > 0 {
		dict := zerolog.Dict()
		for k, v := range event.Metadata {
			dict = dict.Str(k, v)
		}
		entry = entry.Dict("meta", dict)
	}
	entry.Msg("auth event")
}

// MultiSink fans one event out to several sinks in order.
type MultiSink []Sink

func (m MultiSink) Emit(ctx context.Context, event Event) {
	for _, s := range m {
		if s != nil {
			s.Emit(ctx, event)
		}
	}
}
