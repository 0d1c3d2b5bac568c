package nats

import (
	"context"
	"sync"
)

// MockPublisher is an in-memory Publisher for tests. Like the LEDGER stream's
// duplicate window, it drops an event whose MsgID was already accepted.
type MockPublisher struct {
	mu       sync.Mutex
	events   []*RecordEvent
	seen     map[string]struct{}
	dropped  int
	err      error
	batchErr error
	closed   bool
}

// NewMockPublisher creates an empty mock publisher.
func NewMockPublisher() *MockPublisher {
	return &MockPublisher{seen: make(map[string]struct{})}
}

func (m *MockPublisher) PublishRecord(ctx context.Context, event *RecordEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.err != nil {
		return m.err
	}
	m.accept(event)
	return nil
}

// PublishRecordBatch accepts all events or, when a batch error is set, none.
func (m *MockPublisher) PublishRecordBatch(ctx context.Context, events []*RecordEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.batchErr != nil {
		return m.batchErr
	}
	for _, e := range events {
		m.accept(e)
	}
	return nil
}

func (m *MockPublisher) accept(e *RecordEvent) {
	id := e.MsgID()
	if _, dup := m.seen[id]; dup {
		m.dropped++
		return
	}
	m.seen[id] = struct{}{}
	m.events = append(m.events, e)
}

func (m *MockPublisher) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// Events returns accepted events in publish order.
func (m *MockPublisher) Events() []*RecordEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*RecordEvent(nil), m.events...)
}

// EventsOn returns accepted events that were published to subject.
func (m *MockPublisher) EventsOn(subject string) []*RecordEvent {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []*RecordEvent
	for _, e := range m.events {
		if e.Subject() == subject {
			out = append(out, e)
		}
	}
	return out
}

// Dropped reports how many events were discarded as duplicates.
func (m *MockPublisher) Dropped() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.dropped
}

// FailPublish makes PublishRecord return err. Nil clears it.
func (m *MockPublisher) FailPublish(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

// FailBatch makes PublishRecordBatch return err. Nil clears it.
func (m *MockPublisher) FailBatch(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.batchErr = err
}

func (m *MockPublisher) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}
