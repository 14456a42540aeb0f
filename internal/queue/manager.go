package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"

	"github.com/cherites0610/welfare-pipeline/internal/common"
)

// Manager implements a persistent queue on BadgerDB.
//
// Key layout:
//
//	queue:{name}:msg:{id}                    message envelope JSON
//	queue:{name}:index:{visibleAt:020d}:{id} visibility index (empty value)
//	queue:{name}:failed:{id}                 envelope of an exhausted message
//
// The index key embeds the zero-padded visibility timestamp so Badger's
// lexicographic iteration yields messages in ready order.
type Manager struct {
	db                *badger.DB
	queueName         string
	visibilityTimeout time.Duration
	maxAttempts       int
	backoff           time.Duration
	removeOnComplete  bool
}

// NewManager creates a Badger-backed queue manager. The DB's lifecycle is
// managed by the caller.
func NewManager(db *badger.DB, cfg common.QueueConfig) (*Manager, error) {
	if db == nil {
		return nil, errors.New("badger db is required")
	}
	if cfg.QueueName == "" {
		return nil, errors.New("queue name is required")
	}

	visibilityTimeout := cfg.VisibilityTimeout
	if visibilityTimeout <= 0 {
		visibilityTimeout = 5 * time.Minute
	}
	maxAttempts := cfg.Attempts
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	backoff := cfg.Backoff
	if backoff < 0 {
		backoff = 0
	}

	return &Manager{
		db:                db,
		queueName:         cfg.QueueName,
		visibilityTimeout: visibilityTimeout,
		maxAttempts:       maxAttempts,
		backoff:           backoff,
		removeOnComplete:  cfg.RemoveOnComplete,
	}, nil
}

// Enqueue adds a single message to the queue.
func (m *Manager) Enqueue(ctx context.Context, msg JobMessage) error {
	return m.db.Update(func(txn *badger.Txn) error {
		return m.enqueueTxn(txn, msg)
	})
}

// EnqueueBulk adds a batch of messages in one transaction.
func (m *Manager) EnqueueBulk(ctx context.Context, msgs []JobMessage) error {
	if len(msgs) == 0 {
		return nil
	}
	return m.db.Update(func(txn *badger.Txn) error {
		for _, msg := range msgs {
			if err := m.enqueueTxn(txn, msg); err != nil {
				return err
			}
		}
		return nil
	})
}

func (m *Manager) enqueueTxn(txn *badger.Txn, msg JobMessage) error {
	id := uuid.New().String()
	now := time.Now()

	stored := storedMessage{
		ID:           id,
		Body:         msg,
		EnqueuedAt:   now,
		VisibleAt:    now,
		ReceiveCount: 0,
	}

	data, err := json.Marshal(stored)
	if err != nil {
		return fmt.Errorf("failed to marshal queue message: %w", err)
	}

	if err := txn.Set(m.msgKey(id), data); err != nil {
		return err
	}
	return txn.Set(m.indexKey(stored.VisibleAt, id), []byte{})
}

// AckFunc removes a successfully processed message.
type AckFunc func() error

// NackFunc schedules a redelivery after the configured backoff, or marks
// the message failed once attempts are exhausted. handlerErr is recorded
// on the failed envelope.
type NackFunc func(handlerErr error) error

// Receive claims the next visible message. The claim holds for the
// visibility timeout; crashed workers lose the claim and the message is
// redelivered. Returns ErrNoMessage when nothing is ready.
func (m *Manager) Receive(ctx context.Context) (*JobMessage, AckFunc, NackFunc, error) {
	var stored storedMessage

	err := m.db.Update(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		prefix := m.indexPrefix()
		it := txn.NewIterator(opts)
		defer it.Close()

		now := time.Now()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			key := it.Item().KeyCopy(nil)

			ts, id, err := m.parseIndexKey(key)
			if err != nil {
				continue
			}

			// Index keys sort by timestamp; the first future entry ends
			// the scan.
			if ts.After(now) {
				break
			}

			item, err := txn.Get(m.msgKey(id))
			if err != nil {
				if errors.Is(err, badger.ErrKeyNotFound) {
					// Orphaned index entry.
					if err := txn.Delete(key); err != nil {
						return err
					}
					continue
				}
				return err
			}

			if err := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &stored)
			}); err != nil {
				return err
			}

			// Claim: push visibility forward so no other worker sees it.
			stored.ReceiveCount++
			stored.VisibleAt = now.Add(m.visibilityTimeout)

			data, err := json.Marshal(stored)
			if err != nil {
				return err
			}
			if err := txn.Set(m.msgKey(stored.ID), data); err != nil {
				return err
			}
			if err := txn.Delete(key); err != nil {
				return err
			}
			return txn.Set(m.indexKey(stored.VisibleAt, stored.ID), []byte{})
		}

		return ErrNoMessage
	})

	if err != nil {
		return nil, nil, nil, err
	}

	msgID := stored.ID
	attempts := stored.ReceiveCount

	ack := func() error {
		return m.remove(msgID)
	}

	nack := func(handlerErr error) error {
		if attempts >= m.maxAttempts {
			return m.markFailed(msgID, handlerErr)
		}
		return m.reschedule(msgID, time.Now().Add(m.backoff))
	}

	body := stored.Body
	return &body, ack, nack, nil
}

// remove deletes a message and its index entry.
func (m *Manager) remove(id string) error {
	return m.db.Update(func(txn *badger.Txn) error {
		stored, err := m.loadTxn(txn, id)
		if err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return nil // Already removed
			}
			return err
		}

		if err := txn.Delete(m.indexKey(stored.VisibleAt, id)); err != nil && !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		if !m.removeOnComplete {
			// Keep the envelope for audit; only the index entry goes.
			return nil
		}
		return txn.Delete(m.msgKey(id))
	})
}

// reschedule makes a claimed message visible again at the given time.
func (m *Manager) reschedule(id string, visibleAt time.Time) error {
	return m.db.Update(func(txn *badger.Txn) error {
		stored, err := m.loadTxn(txn, id)
		if err != nil {
			return err
		}

		oldIndexKey := m.indexKey(stored.VisibleAt, id)
		stored.VisibleAt = visibleAt

		data, err := json.Marshal(stored)
		if err != nil {
			return err
		}
		if err := txn.Set(m.msgKey(id), data); err != nil {
			return err
		}
		if err := txn.Delete(oldIndexKey); err != nil && !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		return txn.Set(m.indexKey(stored.VisibleAt, id), []byte{})
	})
}

// markFailed moves an exhausted message to the failed prefix. Failed
// messages stay in the store for inspection and manual requeue.
func (m *Manager) markFailed(id string, handlerErr error) error {
	return m.db.Update(func(txn *badger.Txn) error {
		stored, err := m.loadTxn(txn, id)
		if err != nil {
			return err
		}

		if handlerErr != nil {
			stored.LastError = handlerErr.Error()
		}

		data, err := json.Marshal(stored)
		if err != nil {
			return err
		}
		if err := txn.Set(m.failedKey(id), data); err != nil {
			return err
		}
		if err := txn.Delete(m.indexKey(stored.VisibleAt, id)); err != nil && !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		return txn.Delete(m.msgKey(id))
	})
}

// PendingCount returns the number of messages awaiting processing.
func (m *Manager) PendingCount(ctx context.Context) (int, error) {
	count := 0
	err := m.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		prefix := m.indexPrefix()
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			count++
		}
		return nil
	})
	return count, err
}

// FailedCount returns the number of messages that exhausted their attempts.
func (m *Manager) FailedCount(ctx context.Context) (int, error) {
	count := 0
	err := m.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		prefix := []byte(fmt.Sprintf("queue:%s:failed:", m.queueName))
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			count++
		}
		return nil
	})
	return count, err
}

func (m *Manager) loadTxn(txn *badger.Txn, id string) (storedMessage, error) {
	var stored storedMessage
	item, err := txn.Get(m.msgKey(id))
	if err != nil {
		return stored, err
	}
	err = item.Value(func(val []byte) error {
		return json.Unmarshal(val, &stored)
	})
	return stored, err
}

func (m *Manager) msgKey(id string) []byte {
	return []byte(fmt.Sprintf("queue:%s:msg:%s", m.queueName, id))
}

func (m *Manager) failedKey(id string) []byte {
	return []byte(fmt.Sprintf("queue:%s:failed:%s", m.queueName, id))
}

func (m *Manager) indexPrefix() []byte {
	return []byte(fmt.Sprintf("queue:%s:index:", m.queueName))
}

func (m *Manager) indexKey(visibleAt time.Time, id string) []byte {
	// Zero pad to 20 digits so string ordering matches numeric ordering.
	return []byte(fmt.Sprintf("queue:%s:index:%020d:%s", m.queueName, visibleAt.UnixNano(), id))
}

func (m *Manager) parseIndexKey(key []byte) (time.Time, string, error) {
	prefix := m.indexPrefix()
	if len(key) <= len(prefix) {
		return time.Time{}, "", fmt.Errorf("invalid index key length")
	}

	suffix := string(key[len(prefix):])
	if len(suffix) < 22 { // 20 digit timestamp, colon, at least one id byte
		return time.Time{}, "", fmt.Errorf("invalid index key suffix")
	}

	var ts int64
	if _, err := fmt.Sscanf(suffix[:20], "%d", &ts); err != nil {
		return time.Time{}, "", err
	}

	return time.Unix(0, ts), suffix[21:], nil
}
