package lifecycle

import (
	"testing"
	"time"
)

func TestMultiSink_EmitsInOrder(t *testing.T) {
	var order []string
	first := SinkFunc(func(Event) { order = append(order, "first") })
	second := SinkFunc(func(Event) { order = append(order, "second") })

	MultiSink{first, nil, second}.Emit(Event{Kind: KindReady})

	if len(order) != 2 || order[0] != "first" || order[1] != "second" {
		t.Errorf("order = %v, want [first second]", order)
	}
}

func TestRecorder(t *testing.T) {
	r := &Recorder{}
	r.Emit(Event{Kind: KindStarting, Time: time.Now()})
	r.Emit(Event{Kind: KindReady, Time: time.Now()})

	kinds := r.Kinds()
	if len(kinds) != 2 || kinds[0] != KindStarting || kinds[1] != KindReady {
		t.Errorf("Kinds() = %v, want [starting ready]", kinds)
	}
	if len(r.Events()) != 2 {
		t.Errorf("len(Events()) = %d, want 2", len(r.Events()))
	}
}

func TestKind_Terminal(t *testing.T) {
	tests := []struct {
		kind Kind
		want bool
	}{
		{KindStarting, false},
		{KindReady, false},
		{KindStartupFailed, true},
		{KindEscalated, false},
		{KindStopped, true},
		{KindStopFailed, true},
		{KindCleanedUp, false},
	}
	for _, tt := range tests {
		if got := tt.kind.Terminal(); got != tt.want {
			t.Errorf("%s.Terminal() = %v, want %v", tt.kind, got, tt.want)
		}
	}
}
