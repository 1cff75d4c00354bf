package queue

import (
	"context"
	"testing"
	"time"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
)

func newTestBroker(t *testing.T, visibility time.Duration, maxReceive int) *Broker {
	t.Helper()
	db, err := badger.Open(badger.DefaultOptions("").WithInMemory(true).WithLogger(nil))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	broker, err := NewBroker(db, "test", visibility, maxReceive, arbor.NewLogger())
	require.NoError(t, err)
	return broker
}

func testTask(jobID string) Task {
	return Task{JobID: jobID, Folder: "/media/test", Language: "ro", LogLevel: "info"}
}

func TestEnqueueReceive(t *testing.T) {
	broker := newTestBroker(t, time.Minute, 3)
	ctx := context.Background()

	handle, err := broker.Enqueue(ctx, testTask("job-1"))
	require.NoError(t, err)
	require.NotEmpty(t, handle)

	delivery, err := broker.Receive(ctx)
	require.NoError(t, err)
	assert.Equal(t, "job-1", delivery.Task.JobID)
	assert.Equal(t, handle, delivery.Handle)
	assert.Equal(t, 1, delivery.ReceiveCount)
}

func TestReceiveEmptyQueue(t *testing.T) {
	broker := newTestBroker(t, time.Minute, 3)

	_, err := broker.Receive(context.Background())
	assert.ErrorIs(t, err, ErrNoMessage)
}

func TestReceiveHidesUntilVisibilityTimeout(t *testing.T) {
	broker := newTestBroker(t, 100*time.Millisecond, 3)
	ctx := context.Background()

	_, err := broker.Enqueue(ctx, testTask("job-1"))
	require.NoError(t, err)

	first, err := broker.Receive(ctx)
	require.NoError(t, err)

	// Claimed task is invisible.
	_, err = broker.Receive(ctx)
	assert.ErrorIs(t, err, ErrNoMessage)

	// After the timeout it comes back with a bumped receive count.
	time.Sleep(150 * time.Millisecond)
	second, err := broker.Receive(ctx)
	require.NoError(t, err)
	assert.Equal(t, first.Handle, second.Handle)
	assert.Equal(t, 2, second.ReceiveCount)
}

func TestAckRemovesDelivery(t *testing.T) {
	broker := newTestBroker(t, 50*time.Millisecond, 3)
	ctx := context.Background()

	_, err := broker.Enqueue(ctx, testTask("job-1"))
	require.NoError(t, err)

	delivery, err := broker.Receive(ctx)
	require.NoError(t, err)
	require.NoError(t, delivery.Ack())

	time.Sleep(100 * time.Millisecond)
	_, err = broker.Receive(ctx)
	assert.ErrorIs(t, err, ErrNoMessage, "acked delivery must never reappear")

	depth, err := broker.Depth()
	require.NoError(t, err)
	assert.Equal(t, 0, depth)
}

func TestAckIsIdempotent(t *testing.T) {
	broker := newTestBroker(t, time.Minute, 3)
	ctx := context.Background()

	_, err := broker.Enqueue(ctx, testTask("job-1"))
	require.NoError(t, err)

	delivery, err := broker.Receive(ctx)
	require.NoError(t, err)
	require.NoError(t, delivery.Ack())
	require.NoError(t, delivery.Ack())
}

func TestRevokeQueuedTask(t *testing.T) {
	broker := newTestBroker(t, time.Minute, 3)
	ctx := context.Background()

	handle, err := broker.Enqueue(ctx, testTask("job-1"))
	require.NoError(t, err)

	require.NoError(t, broker.Revoke(ctx, handle))

	_, err = broker.Receive(ctx)
	assert.ErrorIs(t, err, ErrNoMessage)
}

func TestRevokeUnknownHandle(t *testing.T) {
	broker := newTestBroker(t, time.Minute, 3)
	err := broker.Revoke(context.Background(), "no-such-handle")
	assert.ErrorIs(t, err, ErrTaskNotFound)
}

func TestExtendDelaysRedelivery(t *testing.T) {
	broker := newTestBroker(t, 100*time.Millisecond, 3)
	ctx := context.Background()

	_, err := broker.Enqueue(ctx, testTask("job-1"))
	require.NoError(t, err)

	delivery, err := broker.Receive(ctx)
	require.NoError(t, err)
	require.NoError(t, delivery.Extend(time.Minute))

	time.Sleep(150 * time.Millisecond)
	_, err = broker.Receive(ctx)
	assert.ErrorIs(t, err, ErrNoMessage, "extended delivery must stay hidden")
}

func TestDeadLetterAfterMaxReceive(t *testing.T) {
	broker := newTestBroker(t, 30*time.Millisecond, 2)
	ctx := context.Background()

	_, err := broker.Enqueue(ctx, testTask("job-1"))
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		_, err := broker.Receive(ctx)
		require.NoError(t, err)
		time.Sleep(60 * time.Millisecond)
	}

	// Both deliveries burned without an ack; the task is dead-lettered.
	_, err = broker.Receive(ctx)
	assert.ErrorIs(t, err, ErrNoMessage)

	depth, err := broker.Depth()
	require.NoError(t, err)
	assert.Equal(t, 0, depth, "dead-lettered task leaves the msg prefix")
}

func TestVisibilityOrdering(t *testing.T) {
	broker := newTestBroker(t, time.Minute, 3)
	ctx := context.Background()

	_, err := broker.Enqueue(ctx, testTask("job-a"))
	require.NoError(t, err)
	time.Sleep(5 * time.Millisecond)
	_, err = broker.Enqueue(ctx, testTask("job-b"))
	require.NoError(t, err)

	first, err := broker.Receive(ctx)
	require.NoError(t, err)
	second, err := broker.Receive(ctx)
	require.NoError(t, err)

	assert.Equal(t, "job-a", first.Task.JobID)
	assert.Equal(t, "job-b", second.Task.JobID)
}

func TestPoolAcksOnSuccess(t *testing.T) {
	broker := newTestBroker(t, time.Minute, 3)
	ctx := context.Background()

	_, err := broker.Enqueue(ctx, testTask("job-1"))
	require.NoError(t, err)

	handled := make(chan string, 1)
	pool := NewPool(broker, func(_ context.Context, d *Delivery) error {
		handled <- d.Task.JobID
		return nil
	}, 1, 10*time.Millisecond, arbor.NewLogger())

	pool.Start()
	defer pool.Stop()

	select {
	case jobID := <-handled:
		assert.Equal(t, "job-1", jobID)
	case <-time.After(2 * time.Second):
		t.Fatal("handler never ran")
	}

	// Handler returned nil, so the pool acks and the queue drains.
	require.Eventually(t, func() bool {
		depth, err := broker.Depth()
		return err == nil && depth == 0
	}, 2*time.Second, 20*time.Millisecond)
}

func TestPoolLeavesFailedDeliveryForRedelivery(t *testing.T) {
	broker := newTestBroker(t, 50*time.Millisecond, 5)
	ctx := context.Background()

	_, err := broker.Enqueue(ctx, testTask("job-1"))
	require.NoError(t, err)

	attempts := make(chan int, 10)
	pool := NewPool(broker, func(_ context.Context, d *Delivery) error {
		attempts <- d.ReceiveCount
		if d.ReceiveCount < 2 {
			return assert.AnError
		}
		return nil
	}, 1, 10*time.Millisecond, arbor.NewLogger())

	pool.Start()
	defer pool.Stop()

	first := <-attempts
	assert.Equal(t, 1, first)

	select {
	case second := <-attempts:
		assert.Equal(t, 2, second, "failed delivery redelivered after visibility timeout")
	case <-time.After(3 * time.Second):
		t.Fatal("delivery never redelivered")
	}
}
