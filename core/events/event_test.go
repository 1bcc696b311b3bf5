package events

import (
	"testing"

	"caregistrar/core/types"
)

type testEvent struct{ evt *types.Event }

func (e testEvent) EventType() string   { return e.evt.Type }
func (e testEvent) Event() *types.Event { return e.evt }

type recorder struct{ got []string }

func (r *recorder) Emit(evt Event) { r.got = append(r.got, evt.EventType()) }

func TestBufferFlushPreservesOrder(t *testing.T) {
	var buf Buffer
	buf.Emit(testEvent{evt: &types.Event{Type: "a"}})
	buf.Emit(testEvent{evt: &types.Event{Type: "b"}})
	if len(buf.Events()) != 2 {
		t.Fatalf("expected two buffered events")
	}
	rec := &recorder{}
	buf.Flush(Fanout{rec, nil})
	if len(rec.got) != 2 || rec.got[0] != "a" || rec.got[1] != "b" {
		t.Fatalf("unexpected flush order %v", rec.got)
	}
	if len(buf.Events()) != 0 {
		t.Fatalf("expected buffer to be empty after flush")
	}
}

func TestBufferResetDiscards(t *testing.T) {
	var buf Buffer
	buf.Emit(testEvent{evt: &types.Event{Type: "a"}})
	buf.Reset()
	rec := &recorder{}
	buf.Flush(rec)
	if len(rec.got) != 0 {
		t.Fatalf("expected no events after reset, got %v", rec.got)
	}
}
