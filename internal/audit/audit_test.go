package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestDispatcherDeliversAndStamps(t *testing.T) {
	sink := NewChannelSink(4)
	d := NewDispatcher(Config{Enabled: true, BufferSize: 4}, sink)
	defer d.Close()

	d.Emit(context.Background(), Event{EventType: "login_success", UserID: "u1", Success: true})

	select {
	case ev := <-sink.Events():
		if ev.ID == "" || ev.Timestamp.IsZero() {
			t.Fatalf("expected id and timestamp, got %+v", ev)
		}
		if ev.EventType != "login_success" || ev.UserID != "u1" {
			t.Fatalf("unexpected event %+v", ev)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("event not delivered")
	}
}

func TestDispatcherDisabledIsNil(t *testing.T) {
	d := NewDispatcher(Config{}, NoOpSink{})
	if d != nil {
		t.Fatal("expected nil dispatcher when disabled")
	}
	d.Emit(context.Background(), Event{})
	d.Close()
	if d.Dropped() != 0 {
		t.Fatal("nil dispatcher must report zero drops")
	}
}

type blockingSink struct{ release chan struct{} }

func (b blockingSink) Emit(context.Context, Event) { <-b.release }

func TestDispatcherDropsWhenFull(t *testing.T) {
	sink := blockingSink{release: make(chan struct{})}
	d := NewDispatcher(Config{Enabled: true, BufferSize: 1, DropIfFull: true}, sink)

	for i := 0; i < 10; i++ {
		d.Emit(context.Background(), Event{EventType: "x"})
	}
	if d.Dropped() == 0 {
		t.Fatal("expected dropped events")
	}
	close(sink.release)
	d.Close()
}

func TestJSONWriterSinkWritesLines(t *testing.T) {
	var buf bytes.Buffer
	s := NewJSONWriterSink(&buf)
	s.Emit(context.Background(), Event{ID: "01", EventType: "a", Success: true})
	s.Emit(context.Background(), Event{ID: "02", EventType: "b"})

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %d", len(lines))
	}
	var ev Event
	if err := json.Unmarshal([]byte(lines[1]), &ev); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if ev.EventType != "b" || ev.Success {
		t.Fatalf("unexpected event %+v", ev)
	}
}

func TestZapSinkLevels(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	s := NewZapSink(zap.New(core))

	MultiSink{s, nil}.Emit(context.Background(), Event{EventType: "ok", Success: true})
	s.Emit(context.Background(), Event{EventType: "refresh_reuse_detected", Error: "refresh_reuse"})

	entries := logs.All()
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if entries[0].Level != zap.InfoLevel || entries[1].Level != zap.WarnLevel {
		t.Fatalf("unexpected levels %v %v", entries[0].Level, entries[1].Level)
	}
	if entries[1].ContextMap()["error"] != "refresh_reuse" {
		t.Fatalf("missing error field: %v", entries[1].ContextMap())
	}
}

func TestNewEventIDUnique(t *testing.T) {
	seen := make(map[string]struct{}, 100)
	for i := 0; i < 100; i++ {
		id := NewEventID()
		if _, dup := seen[id]; dup {
			t.Fatalf("duplicate id %s", id)
		}
		seen[id] = struct{}{}
	}
}

func TestDispatcherCloseDrainsQueue(t *testing.T) {
	sink := NewChannelSink(8)
	gate := blockingSink{release: make(chan struct{})}
	d := NewDispatcher(Config{Enabled: true, BufferSize: 8}, MultiSink{gate, sink})

	for i := 0; i < 3; i++ {
		d.Emit(context.Background(), Event{EventType: "login_failure"})
	}
	close(gate.release)
	d.Close()

	if got := len(sink.Events()); got != 3 {
		t.Fatalf("expected 3 delivered events after Close, got %d", got)
	}
	if d.Pending() != 0 {
		t.Fatalf("expected empty queue, got %d", d.Pending())
	}

	d.Emit(context.Background(), Event{EventType: "late"})
	if len(sink.Events()) != 3 {
		t.Fatal("events after Close must be ignored")
	}
}

func TestDispatcherBlockingModeCountsCancelled(t *testing.T) {
	gate := blockingSink{release: make(chan struct{})}
	d := NewDispatcher(Config{Enabled: true, BufferSize: 1}, gate)

	// One event is held by the sink, one fills the queue.
	d.Emit(context.Background(), Event{EventType: "a"})
	d.Emit(context.Background(), Event{EventType: "b"})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	d.Emit(ctx, Event{EventType: "c"})
	if d.Dropped() == 0 {
		t.Fatal("expected the cancelled event to be counted as dropped")
	}

	close(gate.release)
	d.Close()
}
