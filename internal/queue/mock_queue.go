package queue

import (
	"context"

	"github.com/stretchr/testify/mock"
)

// MockQueue is a testify mock of Queue.
type MockQueue struct {
	mock.Mock
}

// Enqueue records the call.
func (m *MockQueue) Enqueue(ctx context.Context, item Item) error {
	args := m.Called(ctx, item)
	return args.Error(0)
}

// Dequeue records the call.
func (m *MockQueue) Dequeue(ctx context.Context) (Item, error) {
	args := m.Called(ctx)
	item, _ := args.Get(0).(Item)
	return item, args.Error(1)
}
