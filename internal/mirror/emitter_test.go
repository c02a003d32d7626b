package mirror

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"devlens/internal/event"
)

// mockEmitter implements Emitter for tests.
type mockEmitter struct {
	mu      sync.Mutex
	events  []*event.Event
	emitErr error
}

func (m *mockEmitter) Emit(_ context.Context, ev *event.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, ev)
	return m.emitErr
}

func (m *mockEmitter) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.events)
}

func logEvent() *event.Event {
	return &event.Event{
		Kind:    event.KindLog,
		Payload: map[string]any{"level": "info", "message": "m"},
	}
}

func TestEmitAsync_NilEmitter(t *testing.T) {
	// Should not panic.
	EmitAsync(nil, logEvent())
}

func TestEmitAsync_NilEvent(t *testing.T) {
	emitter := &mockEmitter{}
	EmitAsync(emitter, nil)
	time.Sleep(10 * time.Millisecond)
	if emitter.count() != 0 {
		t.Errorf("expected 0 events, got %d", emitter.count())
	}
}

func TestEmitAsync_SuccessfulEmit(t *testing.T) {
	emitter := &mockEmitter{}
	EmitAsync(emitter, logEvent())

	deadline := time.Now().Add(2 * time.Second)
	for emitter.count() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if emitter.count() != 1 {
		t.Fatalf("expected 1 event, got %d", emitter.count())
	}
}

func TestEmitAsync_ErrorDoesNotPanic(t *testing.T) {
	emitter := &mockEmitter{emitErr: errors.New("sink down")}
	EmitAsync(emitter, logEvent())
	time.Sleep(50 * time.Millisecond)
}

func TestMulti_FansOutAndReportsFirstError(t *testing.T) {
	ok := &mockEmitter{}
	bad := &mockEmitter{emitErr: errors.New("down")}
	also := &mockEmitter{}

	m := Multi{bad, ok, also}
	err := m.Emit(context.Background(), logEvent())
	if err == nil || err.Error() != "down" {
		t.Fatalf("want first error, got %v", err)
	}
	if ok.count() != 1 || also.count() != 1 {
		t.Fatal("a failing sink must not stop the others")
	}
}

func TestMulti_SkipsNilEmitters(t *testing.T) {
	ok := &mockEmitter{}
	m := Multi{nil, ok}
	if err := m.Emit(context.Background(), logEvent()); err != nil {
		t.Fatalf("emit: %v", err)
	}
	if ok.count() != 1 {
		t.Fatalf("expected 1 event, got %d", ok.count())
	}
}
