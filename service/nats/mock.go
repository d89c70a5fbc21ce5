package nats

import (
	"context"
	"sync"
)

// MockPublisher is a mock implementation of Publisher for testing.
type MockPublisher struct {
	mu              sync.RWMutex
	publishedEvents []*OutcomeEvent
	publishError    error
	closed          bool
}

// NewMockPublisher creates a new mock publisher for testing.
func NewMockPublisher() *MockPublisher {
	return &MockPublisher{
		publishedEvents: make([]*OutcomeEvent, 0),
	}
}

// PublishOutcome records the event and returns any configured error.
func (m *MockPublisher) PublishOutcome(ctx context.Context, event *OutcomeEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.publishError != nil {
		return m.publishError
	}

	m.publishedEvents = append(m.publishedEvents, event)
	return nil
}

// Close marks the publisher as closed.
func (m *MockPublisher) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// GetPublishedEvents returns all published events (for testing).
func (m *MockPublisher) GetPublishedEvents() []*OutcomeEvent {
	m.mu.RLock()
	defer m.mu.RUnlock()

	events := make([]*OutcomeEvent, len(m.publishedEvents))
	copy(events, m.publishedEvents)
	return events
}

// GetPublishedEventsForUser returns events published for a specific user.
func (m *MockPublisher) GetPublishedEventsForUser(userID string) []*OutcomeEvent {
	m.mu.RLock()
	defer m.mu.RUnlock()

	events := make([]*OutcomeEvent, 0)
	for _, event := range m.publishedEvents {
		if event.UserID == userID {
			events = append(events, event)
		}
	}
	return events
}

// SetPublishError configures the mock to return an error on PublishOutcome.
func (m *MockPublisher) SetPublishError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.publishError = err
}

// IsClosed returns whether the publisher has been closed.
func (m *MockPublisher) IsClosed() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.closed
}
