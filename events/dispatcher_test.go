package events

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"
)

func drainSync(t *testing.T, d *Dispatcher) string {
	t.Helper()
	var buf bytes.Buffer
	d.drain(&buf)
	return buf.String()
}

func TestDispatcherEmitAndDrain(t *testing.T) {
	d := NewDispatcher(zap.NewNop())
	d.Emit(Event{Type: TypeStatus, Message: "hello"})

	out := drainSync(t, d)
	var got Event
	if err := json.Unmarshal([]byte(strings.TrimSpace(out)), &got); err != nil {
		t.Fatalf("unmarshal drained line: %v", err)
	}
	if got.Type != TypeStatus || got.Message != "hello" {
		t.Errorf("got event %+v, want status/hello", got)
	}
	if got.Timestamp.IsZero() {
		t.Error("Emit() did not stamp a zero Timestamp")
	}
}

func TestDispatcherDropsOldestNonAlertUnderBackPressure(t *testing.T) {
	d := NewDispatcher(zap.NewNop())

	padding := strings.Repeat("x", 2048)
	for i := 0; i < 64; i++ {
		d.Emit(Event{Type: TypeStatus, Message: padding})
	}

	if d.Dropped() == 0 {
		t.Fatal("Dropped() = 0, want some events dropped once the queue exceeds its byte budget")
	}

	d.mu.Lock()
	size := d.size
	d.mu.Unlock()
	if size > maxBufferedBytes {
		t.Errorf("queued size = %d, want <= %d after back-pressure trimming", size, maxBufferedBytes)
	}
}

func TestDispatcherNeverDropsAlerts(t *testing.T) {
	d := NewDispatcher(zap.NewNop())

	padding := strings.Repeat("x", 2048)
	for i := 0; i < 64; i++ {
		d.Emit(Event{Type: TypeAlert, Message: padding})
	}

	if d.Dropped() != 0 {
		t.Errorf("Dropped() = %d, want 0 when every queued event is an alert", d.Dropped())
	}

	d.mu.Lock()
	n := len(d.queue)
	d.mu.Unlock()
	if n != 64 {
		t.Errorf("queue length = %d, want 64 (no alert should ever be dropped)", n)
	}
}

func TestDispatcherRunWritesUntilCanceled(t *testing.T) {
	d := NewDispatcher(zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())

	var buf bytes.Buffer
	done := make(chan struct{})
	go func() {
		d.Run(ctx, &buf)
		close(done)
	}()

	d.Emit(Event{Type: TypeStatus, Message: "one"})
	time.Sleep(20 * time.Millisecond)
	cancel()
	<-done

	// Safe to read buf here: Run's goroutine has fully returned (done is
	// closed), so there's no concurrent writer left.
	if !strings.Contains(buf.String(), "one") {
		t.Errorf("Run() output = %q, want it to contain the emitted event", buf.String())
	}
}
