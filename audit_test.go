package authcore

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

type countingSink struct {
	count atomic.Int64
}

func (s *countingSink) Emit(context.Context, AuditEvent) {
	s.count.Add(1)
}

func (s *countingSink) Count() int64 {
	return s.count.Load()
}

type gateSink struct {
	gate chan struct{}
}

func newGateSink() *gateSink {
	return &gateSink{
		gate: make(chan struct{}),
	}
}

func (s *gateSink) Emit(context.Context, AuditEvent) {
	<-s.gate
}

func newAuditEngine(t *testing.T, sink AuditSink, buffer int) (*Engine, *engineFixture) {
	t.Helper()
	base := newTestEngine(t, nil)

	cfg := testConfig()
	cfg.Audit.Enabled = true
	cfg.Audit.BufferSize = buffer
	cfg.Audit.DropIfFull = true

	engine, err := New().
		WithConfig(cfg).
		WithRedis(base.redis).
		WithAccountRepository(base.accounts).
		WithClock(base.clock).
		WithAuditSink(sink).
		Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	return engine, base
}

func TestAuditStalledSinkNeverBlocksAuthentication(t *testing.T) {
	sink := newGateSink()
	engine, base := newAuditEngine(t, sink, 1)
	defer func() {
		close(sink.gate)
		engine.Close()
	}()

	pair, err := engine.IssueTokens(context.Background(), base.accounts.get(t, "u1"), DeviceInfo{})
	if err != nil {
		t.Fatalf("IssueTokens failed: %v", err)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 50; i++ {
			if _, err := engine.Authenticate(context.Background(), pair.AccessToken); err != nil {
				t.Errorf("Authenticate failed: %v", err)
				return
			}
		}
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("authentication blocked on a stalled audit sink")
	}
	if engine.AuditDropped() == 0 {
		t.Fatal("expected dropped audit events")
	}
}

func TestAuditConcurrentEmitCountsEveryEvent(t *testing.T) {
	sink := &countingSink{}
	engine, base := newAuditEngine(t, sink, 4096)

	pair, err := engine.IssueTokens(context.Background(), base.accounts.get(t, "u1"), DeviceInfo{})
	if err != nil {
		t.Fatalf("IssueTokens failed: %v", err)
	}

	const workers = 8
	const perWorker = 50
	var wg sync.WaitGroup
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer wg.Done()
			for j := 0; j < perWorker; j++ {
				_, _ = engine.Authenticate(context.Background(), pair.AccessToken)
			}
		}()
	}
	wg.Wait()
	engine.Close()

	want := int64(workers*perWorker+1) - int64(engine.AuditDropped())
	if got := sink.Count(); got != want {
		t.Fatalf("expected %d delivered events, got %d", want, got)
	}
}

func TestJSONWriterSinkThroughEngine(t *testing.T) {
	var buf bytes.Buffer
	engine, base := newAuditEngine(t, NewJSONWriterSink(&buf), 16)

	ctx := WithClientIP(context.Background(), "192.0.2.10")
	if _, err := engine.IssueTokens(ctx, base.accounts.get(t, "u1"), DeviceInfo{RememberMe: true}); err != nil {
		t.Fatalf("IssueTokens failed: %v", err)
	}
	engine.Close()

	line := strings.TrimSpace(buf.String())
	var ev AuditEvent
	if err := json.Unmarshal([]byte(line), &ev); err != nil {
		t.Fatalf("invalid audit json %q: %v", line, err)
	}
	if ev.EventType != auditEventTokensIssued || ev.UserID != "u1" || ev.IP != "192.0.2.10" {
		t.Fatalf("unexpected event %+v", ev)
	}
	if ev.Metadata["remember_me"] != "true" {
		t.Fatalf("expected remember_me metadata, got %v", ev.Metadata)
	}
}
