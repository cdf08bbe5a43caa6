package stubs

import (
	"context"
	"sort"
	"sync"
	"time"

	"relaybot/internal/models"
)

// MockAnalytics keeps analytics events in memory.
// Used when ClickHouse is not configured and in tests.
type MockAnalytics struct {
	mu           sync.RWMutex
	interactions []models.Interaction
	broadcasts   []models.BroadcastRecord
}

// NewMockAnalytics creates an empty in-memory analytics sink
func NewMockAnalytics() *MockAnalytics {
	return &MockAnalytics{}
}

// RecordInteraction stores an interaction event
func (m *MockAnalytics) RecordInteraction(ctx context.Context, event models.Interaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.interactions = append(m.interactions, event)
	return nil
}

// RecordBroadcast stores a broadcast outcome
func (m *MockAnalytics) RecordBroadcast(ctx context.Context, record models.BroadcastRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.broadcasts = append(m.broadcasts, record)
	return nil
}

// TopUsers returns the most active users since the given time
func (m *MockAnalytics) TopUsers(ctx context.Context, limit int, since time.Time) ([]models.UserActivity, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	counts := make(map[int64]int)
	for _, event := range m.interactions {
		if event.At.Before(since) {
			continue
		}
		counts[event.UserID]++
	}

	var activity []models.UserActivity
	for userID, count := range counts {
		activity = append(activity, models.UserActivity{UserID: userID, Interactions: count})
	}

	// Sort by count descending, then by user id
	sort.Slice(activity, func(i, j int) bool {
		if activity[i].Interactions != activity[j].Interactions {
			return activity[i].Interactions > activity[j].Interactions
		}
		return activity[i].UserID < activity[j].UserID
	})

	if limit > 0 && limit < len(activity) {
		activity = activity[:limit]
	}
	return activity, nil
}

// Interactions returns a copy of the recorded interactions
func (m *MockAnalytics) Interactions() []models.Interaction {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.Interaction, len(m.interactions))
	copy(out, m.interactions)
	return out
}

// Broadcasts returns a copy of the recorded broadcasts
func (m *MockAnalytics) Broadcasts() []models.BroadcastRecord {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.BroadcastRecord, len(m.broadcasts))
	copy(out, m.broadcasts)
	return out
}

// Close does nothing for mock analytics
func (m *MockAnalytics) Close() error {
	return nil
}
