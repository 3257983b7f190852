package notify

import (
	"context"
	"sync"
	"time"
)

const subscriberBuffer = 16

// MemorySignal fans raises out to observers in the same process.
type MemorySignal struct {
	mu     sync.Mutex
	slots  map[string]time.Time
	subs   map[int]chan LedgerChanged
	nextID int
	closed bool
	now    func() time.Time
}

func NewMemorySignal() *MemorySignal {
	return &MemorySignal{
		slots: make(map[string]time.Time),
		subs:  make(map[int]chan LedgerChanged),
		now:   time.Now,
	}
}

func (m *MemorySignal) Raise(_ context.Context, resident string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrClosed
	}
	ev := LedgerChanged{Resident: resident, RaisedAt: m.now().UTC()}
	m.slots[SignalKey(resident)] = ev.RaisedAt
	for _, ch := range m.subs {
		// a full buffer already holds a pending wake-up
		select {
		case ch <- ev:
		default:
		}
	}
	return nil
}

// LastRaised reports the current value of the resident's signal slot.
func (m *MemorySignal) LastRaised(resident string) (time.Time, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.slots[SignalKey(resident)]
	return t, ok
}

// Subscribe registers a channel receiving every subsequent raise. The
// returned cancel func unregisters it.
func (m *MemorySignal) Subscribe() (<-chan LedgerChanged, func(), error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, nil, ErrClosed
	}
	id := m.nextID
	m.nextID++
	ch := make(chan LedgerChanged, subscriberBuffer)
	m.subs[id] = ch

	cancel := func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		if _, ok := m.subs[id]; ok {
			delete(m.subs, id)
			close(ch)
		}
	}
	return ch, cancel, nil
}

func (m *MemorySignal) Observe(ctx context.Context, fn func(LedgerChanged)) error {
	ch, cancel, err := m.Subscribe()
	if err != nil {
		return err
	}
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-ch:
			if !ok {
				return ErrClosed
			}
			fn(ev)
		}
	}
}

func (m *MemorySignal) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil
	}
	m.closed = true
	for id, ch := range m.subs {
		delete(m.subs, id)
		close(ch)
	}
	return nil
}
