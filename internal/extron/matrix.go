package extron

import (
	"fmt"
	"sort"
	"sync"
)

// Tie identifies one (output, signal class) slot of the matrix.
type Tie struct {
	Output int
	Signal SignalClass
}

// Snapshot maps every slot to its routed input; 0 means unrouted.
type Snapshot map[Tie]int

// ChangeSource tells subscribers why a slot changed.
type ChangeSource string

const (
	SourceConfirmed   ChangeSource = "confirmed"
	SourceUnsolicited ChangeSource = "unsolicited"
	SourceResync      ChangeSource = "resync"
)

// Change is delivered to subscribers whenever a slot's input actually changes.
type Change struct {
	Output   int
	Previous int
	Input    int
	Signal   SignalClass
	Source   ChangeSource
}

type tieEntry struct {
	input int
	gen   uint64
}

// Matrix holds the last known routing of one device.
type Matrix struct {
	numInputs  int
	numOutputs int

	// applyMu serializes mutation plus delivery so subscribers observe
	// changes in the order they were applied.
	applyMu sync.Mutex

	mu    sync.RWMutex
	ties  map[Tie]tieEntry
	gen   uint64
	stale bool

	subMu       sync.Mutex
	subscribers map[uint64]func(Change)
	nextSub     uint64
}

var matrixSignals = []SignalClass{SignalVideo, SignalAudio}

// NewMatrix creates an all-unrouted matrix. It starts stale: nothing has
// been read from the device yet.
func NewMatrix(numInputs, numOutputs int) *Matrix {
	ties := make(map[Tie]tieEntry, numOutputs*len(matrixSignals))
	for out := 1; out <= numOutputs; out++ {
		for _, sig := range matrixSignals {
			ties[Tie{Output: out, Signal: sig}] = tieEntry{}
		}
	}
	return &Matrix{
		numInputs:   numInputs,
		numOutputs:  numOutputs,
		ties:        ties,
		stale:       true,
		subscribers: make(map[uint64]func(Change)),
	}
}

// Size returns the configured input and output counts.
func (m *Matrix) Size() (inputs, outputs int) {
	return m.numInputs, m.numOutputs
}

// Validate checks an (output, input) pair against the matrix bounds.
func (m *Matrix) Validate(output, input int) error {
	if output < 1 || output > m.numOutputs {
		return fmt.Errorf("%w: output %d not in 1..%d", ErrOutOfRange, output, m.numOutputs)
	}
	if input < 0 || input > m.numInputs {
		return fmt.Errorf("%w: input %d not in 0..%d", ErrOutOfRange, input, m.numInputs)
	}
	return nil
}

// ApplyConfirmed records a tie the device acknowledged for this session.
func (m *Matrix) ApplyConfirmed(output, input int, signal SignalClass) error {
	return m.apply(output, input, signal, SourceConfirmed)
}

// ApplyUnsolicited records a tie the device reported on its own.
func (m *Matrix) ApplyUnsolicited(output, input int, signal SignalClass) error {
	return m.apply(output, input, signal, SourceUnsolicited)
}

func (m *Matrix) apply(output, input int, signal SignalClass, source ChangeSource) error {
	if err := m.Validate(output, input); err != nil {
		return err
	}
	key := Tie{Output: output, Signal: signal}

	m.applyMu.Lock()
	defer m.applyMu.Unlock()

	m.mu.Lock()
	prev, ok := m.ties[key]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("%w: signal %q", ErrUnsupportedSignal, signal)
	}
	m.gen++
	if prev.input == input {
		m.ties[key] = tieEntry{input: input, gen: m.gen}
		m.mu.Unlock()
		return nil
	}
	m.ties[key] = tieEntry{input: input, gen: m.gen}
	m.mu.Unlock()

	m.notify(Change{Output: output, Previous: prev.input, Input: input, Signal: signal, Source: source})
	return nil
}

// Generation returns a marker for a later Replace.
func (m *Matrix) Generation() uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.gen
}

// Replace installs a full snapshot read from the device and clears the stale
// flag. Slots updated after generation since keep their newer value. Slots
// missing from snap are left untouched.
func (m *Matrix) Replace(snap Snapshot, since uint64) {
	m.applyMu.Lock()
	defer m.applyMu.Unlock()

	var changes []Change

	m.mu.Lock()
	for key, input := range snap {
		cur, ok := m.ties[key]
		if !ok || cur.gen > since {
			continue
		}
		if input < 0 || input > m.numInputs {
			continue
		}
		if cur.input != input {
			changes = append(changes, Change{
				Output:   key.Output,
				Previous: cur.input,
				Input:    input,
				Signal:   key.Signal,
				Source:   SourceResync,
			})
		}
		m.ties[key] = tieEntry{input: input, gen: cur.gen}
	}
	m.stale = false
	m.mu.Unlock()

	sort.Slice(changes, func(i, j int) bool {
		if changes[i].Signal != changes[j].Signal {
			return changes[i].Signal > changes[j].Signal
		}
		return changes[i].Output < changes[j].Output
	})
	for _, c := range changes {
		m.notify(c)
	}
}

// Input returns the routed input for one slot.
func (m *Matrix) Input(output int, signal SignalClass) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	entry, ok := m.ties[Tie{Output: output, Signal: signal}]
	if !ok {
		if output < 1 || output > m.numOutputs {
			return 0, fmt.Errorf("%w: output %d not in 1..%d", ErrOutOfRange, output, m.numOutputs)
		}
		return 0, fmt.Errorf("%w: signal %q", ErrUnsupportedSignal, signal)
	}
	return entry.input, nil
}

// Current returns a copy of every slot.
func (m *Matrix) Current() Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	snap := make(Snapshot, len(m.ties))
	for key, entry := range m.ties {
		snap[key] = entry.input
	}
	return snap
}

// MarkStale flags the state as untrusted until the next Replace.
func (m *Matrix) MarkStale() {
	m.mu.Lock()
	m.stale = true
	m.mu.Unlock()
}

func (m *Matrix) Stale() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.stale
}

// Subscribe registers fn for every change. Callbacks run synchronously on the
// goroutine applying the change and must not block or call back into the
// session. The returned func removes the subscription.
func (m *Matrix) Subscribe(fn func(Change)) func() {
	m.subMu.Lock()
	id := m.nextSub
	m.nextSub++
	m.subscribers[id] = fn
	m.subMu.Unlock()

	return func() {
		m.subMu.Lock()
		delete(m.subscribers, id)
		m.subMu.Unlock()
	}
}

func (m *Matrix) notify(c Change) {
	m.subMu.Lock()
	ids := make([]uint64, 0, len(m.subscribers))
	for id := range m.subscribers {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	fns := make([]func(Change), 0, len(ids))
	for _, id := range ids {
		fns = append(fns, m.subscribers[id])
	}
	m.subMu.Unlock()

	for _, fn := range fns {
		fn(c)
	}
}
