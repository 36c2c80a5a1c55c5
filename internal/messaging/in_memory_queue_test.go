package messaging

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInMemoryQueueDeliversInOrder(t *testing.T) {
	queue := NewInMemoryQueue()

	first := AlertTaskPayload{Username: "alice", Confidence: 0.91, Timestamp: "2025-01-01 10:00:00"}
	second := AlertTaskPayload{Username: "bob", Confidence: 0.75, Timestamp: "2025-01-01 10:05:00"}

	require.NoError(t, queue.PublishAlertTask(context.Background(), first))
	require.NoError(t, queue.PublishAlertTask(context.Background(), second))

	for _, want := range []AlertTaskPayload{first, second} {
		task := <-queue.Tasks()
		assert.Equal(t, AlertQueue, task.Type())

		var got AlertTaskPayload
		require.NoError(t, json.Unmarshal(task.Payload(), &got))
		assert.Equal(t, want, got)

		assert.NoError(t, task.Ack())
	}
}

func TestInMemoryQueueClose(t *testing.T) {
	queue := NewInMemoryQueue()
	tasks := queue.Tasks()
	queue.Close()

	_, ok := <-tasks
	assert.False(t, ok)
}
