package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

type blockingSink struct {
	release chan struct{}
	mu      sync.Mutex
	got     []Event
}

func (s *blockingSink) Emit(_ context.Context, e Event) {
	<-s.release
	s.mu.Lock()
	s.got = append(s.got, e)
	s.mu.Unlock()
}

func TestDispatcherDisabledIsNil(t *testing.T) {
	d := NewDispatcher(Config{Enabled: false}, NoOpSink{}, zerolog.Nop())
	if d != nil {
		t.Fatal("expected nil dispatcher when disabled")
	}
	d.Emit(context.Background(), Event{EventType: "x"})
	d.Close()
	if d.Dropped() != 0 {
		t.Fatal("nil dispatcher must report zero drops")
	}
}

func TestDispatcherDeliversAndDrainsOnClose(t *testing.T) {
	sink := NewChannelSink(16)
	d := NewDispatcher(Config{Enabled: true, BufferSize: 16}, sink, zerolog.Nop())

	for i := 0; i < 5; i++ {
		d.Emit(context.Background(), Event{EventType: "login_success"})
	}
	d.Close()

	if got := len(sink.Events()); got != 5 {
		t.Fatalf("expected 5 delivered events, got %d", got)
	}
}

func TestDispatcherDropIfFullCountsAndLogs(t *testing.T) {
	var logBuf bytes.Buffer
	sink := &blockingSink{release: make(chan struct{})}
	d := NewDispatcher(Config{Enabled: true, BufferSize: 1, DropIfFull: true}, sink, zerolog.New(&logBuf))

	for i := 0; i < 10; i++ {
		d.Emit(context.Background(), Event{EventType: "refresh_success"})
	}
	if d.Dropped() == 0 {
		t.Fatal("expected drops with a blocked sink and buffer of 1")
	}
	close(sink.release)
	d.Close()

	if !strings.Contains(logBuf.String(), "audit buffer full") {
		t.Fatalf("expected drop warning in log, got %q", logBuf.String())
	}
}

func TestDispatcherSurvivesPanickingSink(t *testing.T) {
	var calls int
	var mu sync.Mutex
	sink := sinkFunc(func(ctx context.Context, e Event) {
		mu.Lock()
		calls++
		mu.Unlock()
		if e.EventType == "boom" {
			panic("sink failure")
		}
	})
	d := NewDispatcher(Config{Enabled: true, BufferSize: 4}, sink, zerolog.Nop())
	d.Emit(context.Background(), Event{EventType: "boom"})
	d.Emit(context.Background(), Event{EventType: "after"})
	d.Close()

	mu.Lock()
	defer mu.Unlock()
	if calls != 2 {
		t.Fatalf("expected relay to continue after panic, got %d calls", calls)
	}
}

type sinkFunc func(context.Context, Event)

func (f sinkFunc) Emit(ctx context.Context, e Event) { f(ctx, e) }

func TestJSONWriterSinkWritesLines(t *testing.T) {
	var buf bytes.Buffer
	s := NewJSONWriterSink(&buf)
	s.Emit(context.Background(), Event{ID: "e1", EventType: "login_failure", Reason: "ACCOUNT_LOCKED"})
	s.Emit(context.Background(), Event{ID: "e2", EventType: "login_success", Success: true})

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %d", len(lines))
	}
	var first Event
	if err := json.Unmarshal([]byte(lines[0]), &first); err != nil {
		t.Fatalf("decode line: %v", err)
	}
	if first.Reason != "ACCOUNT_LOCKED" || first.ID != "e1" {
		t.Fatalf("unexpected event %+v", first)
	}
}

func TestZerologSinkRendersFields(t *testing.T) {
	var buf bytes.Buffer
	s := NewZerologSink(zerolog.New(&buf))
	s.Emit(context.Background(), Event{
		ID:        "e1",
		Timestamp: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		EventType: "authenticate",
		UserID:    "u1",
		IP:        "198.51.100.4",
		Reason:    "EXPIRED_TOKEN",
		Metadata:  map[string]string{"source": "cookie"},
	})

	var line map[string]any
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("decode log line: %v", err)
	}
	if line["level"] != "warn" {
		t.Fatalf("failure events must log at warn, got %v", line["level"])
	}
	if line["reason"] != "EXPIRED_TOKEN" || line["user_id"] != "u1" || line["component"] != "audit" {
		t.Fatalf("missing fields in %v", line)
	}
	meta, _ := line["meta"].(map[string]any)
	if meta["source"] != "cookie" {
		t.Fatalf("missing metadata in %v", line)
	}
}

func TestMultiSinkFansOut(t *testing.T) {
	a := NewChannelSink(1)
	b := NewChannelSink(1)
	MultiSink{a, nil, b}.Emit(context.Background(), Event{EventType: "x"})
	if len(a.Events()) != 1 || len(b.Events()) != 1 {
		t.Fatal("expected both sinks to receive the event")
	}
}
