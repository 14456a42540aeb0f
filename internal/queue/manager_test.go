package queue

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cherites0610/welfare-pipeline/internal/common"
)

func newTestManager(t *testing.T, cfg common.QueueConfig) *Manager {
	t.Helper()

	opts := badger.DefaultOptions(t.TempDir()).WithLogger(nil)
	db, err := badger.Open(opts)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	if cfg.QueueName == "" {
		cfg.QueueName = "test_jobs"
	}
	mgr, err := NewManager(db, cfg)
	require.NoError(t, err)
	return mgr
}

func mustJobMessage(t *testing.T, id string, payload any) JobMessage {
	t.Helper()
	msg, err := NewJobMessage(id, "process", payload)
	require.NoError(t, err)
	return msg
}

func TestManager_EnqueueReceiveAck(t *testing.T) {
	mgr := newTestManager(t, common.QueueConfig{Attempts: 3, RemoveOnComplete: true})
	ctx := context.Background()

	require.NoError(t, mgr.Enqueue(ctx, mustJobMessage(t, "job-1", map[string]string{"url": "https://example.gov.tw/1"})))

	msg, ack, _, err := mgr.Receive(ctx)
	require.NoError(t, err)
	assert.Equal(t, "job-1", msg.ID)

	var payload map[string]string
	require.NoError(t, json.Unmarshal(msg.Payload, &payload))
	assert.Equal(t, "https://example.gov.tw/1", payload["url"])

	require.NoError(t, ack())

	pending, err := mgr.PendingCount(ctx)
	require.NoError(t, err)
	assert.Zero(t, pending)
}

func TestManager_ReceiveEmptyQueue(t *testing.T) {
	mgr := newTestManager(t, common.QueueConfig{})

	_, _, _, err := mgr.Receive(context.Background())
	assert.ErrorIs(t, err, ErrNoMessage)
}

func TestManager_ClaimedMessageInvisible(t *testing.T) {
	mgr := newTestManager(t, common.QueueConfig{VisibilityTimeout: time.Minute})
	ctx := context.Background()

	require.NoError(t, mgr.Enqueue(ctx, mustJobMessage(t, "job-1", nil)))

	_, _, _, err := mgr.Receive(ctx)
	require.NoError(t, err)

	// The claim holds for the visibility timeout.
	_, _, _, err = mgr.Receive(ctx)
	assert.ErrorIs(t, err, ErrNoMessage)
}

func TestManager_NackReschedulesWithBackoff(t *testing.T) {
	backoff := 100 * time.Millisecond
	mgr := newTestManager(t, common.QueueConfig{Attempts: 3, Backoff: backoff})
	ctx := context.Background()

	require.NoError(t, mgr.Enqueue(ctx, mustJobMessage(t, "job-1", nil)))

	_, _, nack, err := mgr.Receive(ctx)
	require.NoError(t, err)
	require.NoError(t, nack(errors.New("fetch failed")))

	// Not visible until the backoff elapses.
	_, _, _, err = mgr.Receive(ctx)
	assert.ErrorIs(t, err, ErrNoMessage)

	time.Sleep(backoff + 50*time.Millisecond)

	msg, ack, _, err := mgr.Receive(ctx)
	require.NoError(t, err)
	assert.Equal(t, "job-1", msg.ID)
	require.NoError(t, ack())
}

func TestManager_ExhaustedAttemptsMarkFailed(t *testing.T) {
	mgr := newTestManager(t, common.QueueConfig{Attempts: 2, Backoff: time.Millisecond})
	ctx := context.Background()

	require.NoError(t, mgr.Enqueue(ctx, mustJobMessage(t, "job-1", nil)))

	for attempt := 0; attempt < 2; attempt++ {
		var err error
		var nack NackFunc
		for {
			_, _, nack, err = mgr.Receive(ctx)
			if !errors.Is(err, ErrNoMessage) {
				break
			}
			time.Sleep(5 * time.Millisecond)
		}
		require.NoError(t, err)
		require.NoError(t, nack(errors.New("still failing")))
	}

	// Second nack exhausted the attempts; the message moved out of the
	// pending set and into the failed set.
	pending, err := mgr.PendingCount(ctx)
	require.NoError(t, err)
	assert.Zero(t, pending)

	failed, err := mgr.FailedCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, failed)
}

func TestManager_EnqueueBulk(t *testing.T) {
	mgr := newTestManager(t, common.QueueConfig{})
	ctx := context.Background()

	msgs := []JobMessage{
		mustJobMessage(t, "job-1", nil),
		mustJobMessage(t, "job-2", nil),
		mustJobMessage(t, "job-3", nil),
	}
	require.NoError(t, mgr.EnqueueBulk(ctx, msgs))

	pending, err := mgr.PendingCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, pending)
}

func TestWorkerPool_ProcessesMessages(t *testing.T) {
	mgr := newTestManager(t, common.QueueConfig{
		PollInterval:     20 * time.Millisecond,
		Concurrency:      2,
		Attempts:         3,
		RemoveOnComplete: true,
	})
	ctx := context.Background()

	processed := make(chan string, 5)
	pool := NewWorkerPool(mgr, common.QueueConfig{
		PollInterval: 20 * time.Millisecond,
		Concurrency:  2,
	}, common.GetLogger())
	pool.RegisterHandler("process", func(ctx context.Context, msg *JobMessage) error {
		processed <- msg.ID
		return nil
	})

	for i := 0; i < 3; i++ {
		require.NoError(t, mgr.Enqueue(ctx, mustJobMessage(t, "job", nil)))
	}

	require.NoError(t, pool.Start())
	defer pool.Stop()

	seen := 0
	deadline := time.After(5 * time.Second)
	for seen < 3 {
		select {
		case <-processed:
			seen++
		case <-deadline:
			t.Fatalf("only %d of 3 messages processed", seen)
		}
	}
}
