package temporal

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// MockScheduler is a mock implementation of Scheduler for testing.
type MockScheduler struct {
	mu        sync.Mutex
	schedules map[string]mockSchedule // map[scheduleID]
	upsertErr error
	deleteErr error
}

type mockSchedule struct {
	input    SyncWalletInput
	interval time.Duration
}

var _ Scheduler = (*MockScheduler)(nil)

// NewMockScheduler creates a new MockScheduler.
func NewMockScheduler() *MockScheduler {
	return &MockScheduler{
		schedules: make(map[string]mockSchedule),
	}
}

// UpsertSyncSchedule creates or updates a schedule.
func (m *MockScheduler) UpsertSyncSchedule(ctx context.Context, input SyncWalletInput, interval time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.upsertErr != nil {
		return m.upsertErr
	}
	m.schedules[scheduleID(input.WalletID)] = mockSchedule{input: input, interval: interval}
	return nil
}

// DeleteSyncSchedule records that a schedule was deleted.
func (m *MockScheduler) DeleteSyncSchedule(ctx context.Context, walletID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.deleteErr != nil {
		return m.deleteErr
	}

	id := scheduleID(walletID)
	if _, exists := m.schedules[id]; !exists {
		return fmt.Errorf("schedule %q not found", id)
	}

	delete(m.schedules, id)
	return nil
}

// SetUpsertError makes UpsertSyncSchedule return an error.
func (m *MockScheduler) SetUpsertError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.upsertErr = err
}

// SetDeleteError makes DeleteSyncSchedule return an error.
func (m *MockScheduler) SetDeleteError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deleteErr = err
}

// ScheduleExists checks if a schedule exists for a wallet.
func (m *MockScheduler) ScheduleExists(walletID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	_, exists := m.schedules[scheduleID(walletID)]
	return exists
}

// GetSchedule returns the input and interval of a wallet's schedule.
func (m *MockScheduler) GetSchedule(walletID string) (SyncWalletInput, time.Duration, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, exists := m.schedules[scheduleID(walletID)]
	return s.input, s.interval, exists
}

// ScheduleCount returns the number of schedules.
func (m *MockScheduler) ScheduleCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.schedules)
}

// Reset clears all schedules and errors.
func (m *MockScheduler) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.schedules = make(map[string]mockSchedule)
	m.upsertErr = nil
	m.deleteErr = nil
}
