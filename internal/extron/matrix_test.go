package extron

import (
	"errors"
	"testing"
)

func TestMatrixStartsStaleAndUnrouted(t *testing.T) {
	m := NewMatrix(4, 2)
	if !m.Stale() {
		t.Error("new matrix not stale")
	}

	snap := m.Current()
	if len(snap) != 4 {
		t.Fatalf("snapshot has %d slots, want 4", len(snap))
	}
	for key, in := range snap {
		if in != 0 {
			t.Errorf("%+v = %d, want 0", key, in)
		}
	}
}

func TestMatrixApplyNotifiesOnlyOnChange(t *testing.T) {
	m := NewMatrix(4, 2)
	rec := &changeRecorder{}
	m.Subscribe(rec.record)

	steps := []struct {
		output, input int
	}{
		{1, 3},
		{1, 3},
		{1, 2},
		{1, 2},
	}
	for _, s := range steps {
		if err := m.ApplyUnsolicited(s.output, s.input, SignalVideo); err != nil {
			t.Fatalf("ApplyUnsolicited(%d, %d) error = %v", s.output, s.input, err)
		}
	}

	got := rec.snapshot()
	if len(got) != 2 {
		t.Fatalf("changes = %+v, want 2", got)
	}
	if got[1].Previous != 3 || got[1].Input != 2 {
		t.Errorf("second change = %+v", got[1])
	}
}

func TestMatrixRejectsOutOfRange(t *testing.T) {
	m := NewMatrix(4, 2)

	tests := []struct {
		output, input int
	}{
		{0, 1},
		{3, 1},
		{1, -1},
		{1, 5},
	}
	for _, tt := range tests {
		if err := m.ApplyConfirmed(tt.output, tt.input, SignalVideo); !errors.Is(err, ErrOutOfRange) {
			t.Errorf("ApplyConfirmed(%d, %d) error = %v, want ErrOutOfRange", tt.output, tt.input, err)
		}
	}

	if err := m.Validate(2, 0); err != nil {
		t.Errorf("Validate(2, 0) error = %v", err)
	}
	if _, err := m.Input(9, SignalVideo); !errors.Is(err, ErrOutOfRange) {
		t.Errorf("Input(9) error = %v, want ErrOutOfRange", err)
	}
	if _, err := m.Input(1, "rgb"); !errors.Is(err, ErrUnsupportedSignal) {
		t.Errorf("Input(1, rgb) error = %v, want ErrUnsupportedSignal", err)
	}
}

func TestMatrixReplaceDiffs(t *testing.T) {
	m := NewMatrix(4, 3)
	m.ApplyUnsolicited(1, 1, SignalVideo)
	m.ApplyUnsolicited(2, 2, SignalVideo)

	rec := &changeRecorder{}
	m.Subscribe(rec.record)

	m.Replace(Snapshot{
		{Output: 1, Signal: SignalVideo}: 1,
		{Output: 2, Signal: SignalVideo}: 4,
		{Output: 3, Signal: SignalVideo}: 3,
		{Output: 1, Signal: SignalAudio}: 2,
	}, m.Generation())

	if m.Stale() {
		t.Error("matrix stale after Replace")
	}

	want := []Change{
		{Output: 2, Previous: 2, Input: 4, Signal: SignalVideo, Source: SourceResync},
		{Output: 3, Previous: 0, Input: 3, Signal: SignalVideo, Source: SourceResync},
		{Output: 1, Previous: 0, Input: 2, Signal: SignalAudio, Source: SourceResync},
	}
	got := rec.snapshot()
	if len(got) != len(want) {
		t.Fatalf("changes = %+v, want %+v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("change[%d] = %+v, want %+v", i, got[i], want[i])
		}
	}
}

func TestMatrixReplaceKeepsNewerUpdates(t *testing.T) {
	m := NewMatrix(4, 2)
	since := m.Generation()

	// Arrives while the resync queries are in flight.
	m.ApplyUnsolicited(1, 4, SignalVideo)

	m.Replace(Snapshot{
		{Output: 1, Signal: SignalVideo}: 2,
		{Output: 2, Signal: SignalVideo}: 3,
	}, since)

	if got, _ := m.Input(1, SignalVideo); got != 4 {
		t.Errorf("output 1 = %d, want newer value 4", got)
	}
	if got, _ := m.Input(2, SignalVideo); got != 3 {
		t.Errorf("output 2 = %d, want 3", got)
	}
}

func TestMatrixReplaceIgnoresOutOfRange(t *testing.T) {
	m := NewMatrix(4, 2)
	m.Replace(Snapshot{
		{Output: 1, Signal: SignalVideo}: 9,
		{Output: 7, Signal: SignalVideo}: 1,
	}, m.Generation())

	if got, _ := m.Input(1, SignalVideo); got != 0 {
		t.Errorf("output 1 = %d, want 0", got)
	}
	if len(m.Current()) != 4 {
		t.Errorf("Replace added slots: %+v", m.Current())
	}
}

func TestMatrixStaleFlag(t *testing.T) {
	m := NewMatrix(4, 2)
	m.Replace(Snapshot{}, m.Generation())
	if m.Stale() {
		t.Fatal("stale after Replace")
	}
	m.MarkStale()
	if !m.Stale() {
		t.Error("MarkStale() had no effect")
	}
}

func TestMatrixSubscriptionOrderAndCancel(t *testing.T) {
	m := NewMatrix(4, 2)

	var order []string
	cancelA := m.Subscribe(func(Change) { order = append(order, "a") })
	m.Subscribe(func(Change) { order = append(order, "b") })

	m.ApplyConfirmed(1, 1, SignalVideo)
	cancelA()
	m.ApplyConfirmed(1, 2, SignalVideo)

	want := []string{"a", "b", "b"}
	if len(order) != len(want) {
		t.Fatalf("order = %v, want %v", order, want)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Errorf("order = %v, want %v", order, want)
			break
		}
	}
}
