package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
	"github.com/ternarybob/arbor"
)

// ErrNoMessage is returned when no task is currently visible.
var ErrNoMessage = errors.New("no messages in queue")

// ErrTaskNotFound is returned by Revoke when no queued task matches the handle.
var ErrTaskNotFound = errors.New("task not found")

// envelope is the internal record stored in Badger for one queued task.
type envelope struct {
	ID           string    `json:"id"`
	Task         Task      `json:"task"`
	EnqueuedAt   time.Time `json:"enqueued_at"`
	VisibleAt    time.Time `json:"visible_at"`
	ReceiveCount int       `json:"receive_count"`
}

// Delivery is one received task. The consumer must call Ack after the job's
// terminal state is durably committed (ack-late); an unacked delivery becomes
// visible again after the visibility timeout.
type Delivery struct {
	Task         Task
	Handle       string
	ReceiveCount int

	broker *Broker
}

// Ack removes the delivery from the queue. Safe to call for a task that was
// already removed, e.g. revoked while running.
func (d *Delivery) Ack() error {
	return d.broker.ack(d.Handle)
}

// Extend pushes the delivery's visibility deadline out, preventing
// redelivery while a long job is still running.
func (d *Delivery) Extend(duration time.Duration) error {
	return d.broker.extend(d.Handle, duration)
}

// Broker is a persistent at-least-once task queue on Badger.
//
// Keys:
//
//	queue:{name}:msg:{id}                    -> envelope JSON
//	queue:{name}:index:{visibleAt}:{id}      -> empty (visibility ordering)
//	queue:{name}:dead:{id}                   -> envelope JSON (exhausted deliveries)
//
// The index key embeds a zero-padded UnixNano timestamp so lexicographic
// iteration yields tasks in visibility order.
type Broker struct {
	db                *badger.DB
	queueName         string
	visibilityTimeout time.Duration
	maxReceive        int
	logger            arbor.ILogger
}

// NewBroker creates a Badger-backed broker. The database is shared with the
// job store and managed externally.
func NewBroker(db *badger.DB, queueName string, visibilityTimeout time.Duration, maxReceive int, logger arbor.ILogger) (*Broker, error) {
	if db == nil {
		return nil, errors.New("badger db is required")
	}
	if queueName == "" {
		return nil, errors.New("queue name is required")
	}
	if visibilityTimeout <= 0 {
		visibilityTimeout = 10 * time.Minute
	}
	if maxReceive <= 0 {
		maxReceive = 3
	}

	return &Broker{
		db:                db,
		queueName:         queueName,
		visibilityTimeout: visibilityTimeout,
		maxReceive:        maxReceive,
		logger:            logger,
	}, nil
}

// Enqueue adds a task to the queue and returns its handle. The handle is
// recorded on the job row so CancelJob can revoke the queued delivery.
func (b *Broker) Enqueue(ctx context.Context, task Task) (string, error) {
	id := uuid.New().String()
	env := envelope{
		ID:         id,
		Task:       task,
		EnqueuedAt: time.Now(),
		VisibleAt:  time.Now(),
	}

	data, err := json.Marshal(env)
	if err != nil {
		return "", fmt.Errorf("failed to marshal task envelope: %w", err)
	}

	err = b.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set(b.msgKey(id), data); err != nil {
			return err
		}
		return txn.Set(b.indexKey(env.VisibleAt, id), []byte{})
	})
	if err != nil {
		return "", fmt.Errorf("failed to enqueue task: %w", err)
	}
	return id, nil
}

// Receive claims the next visible task. Returns ErrNoMessage when nothing is
// ready. The claimed task is hidden for the visibility timeout; callers that
// run longer must Extend.
func (b *Broker) Receive(ctx context.Context) (*Delivery, error) {
	var claimed envelope

	err := b.db.Update(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		prefix := b.indexPrefix()
		it := txn.NewIterator(opts)
		defer it.Close()

		now := time.Now()
		found := false
		var oldIndexKey []byte

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			key := it.Item().KeyCopy(nil)

			ts, id, err := b.parseIndexKey(key)
			if err != nil {
				continue
			}
			if ts.After(now) {
				// Index is visibility-ordered; nothing later is ready.
				break
			}

			item, err := txn.Get(b.msgKey(id))
			if err != nil {
				if err == badger.ErrKeyNotFound {
					// Orphaned index entry, clean it up.
					if err := txn.Delete(key); err != nil {
						return err
					}
					continue
				}
				return err
			}

			var env envelope
			if err := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &env)
			}); err != nil {
				return err
			}

			if env.ReceiveCount >= b.maxReceive {
				// Deliveries exhausted; park on the dead-letter prefix so the
				// task is inspectable but never redelivered.
				if err := b.moveToDead(txn, key, &env); err != nil {
					return err
				}
				continue
			}

			claimed = env
			oldIndexKey = key
			found = true
			break
		}

		if !found {
			return ErrNoMessage
		}

		claimed.ReceiveCount++
		claimed.VisibleAt = time.Now().Add(b.visibilityTimeout)

		data, err := json.Marshal(claimed)
		if err != nil {
			return err
		}
		if err := txn.Set(b.msgKey(claimed.ID), data); err != nil {
			return err
		}
		if err := txn.Delete(oldIndexKey); err != nil {
			return err
		}
		return txn.Set(b.indexKey(claimed.VisibleAt, claimed.ID), []byte{})
	})
	if err != nil {
		return nil, err
	}

	return &Delivery{
		Task:         claimed.Task,
		Handle:       claimed.ID,
		ReceiveCount: claimed.ReceiveCount,
		broker:       b,
	}, nil
}

// Revoke removes a queued task by handle so it is never delivered again.
// Used by CancelJob for jobs still waiting in the queue. Returns
// ErrTaskNotFound when the task was already consumed and acked.
func (b *Broker) Revoke(ctx context.Context, handle string) error {
	err := b.db.Update(func(txn *badger.Txn) error {
		item, err := txn.Get(b.msgKey(handle))
		if err != nil {
			if err == badger.ErrKeyNotFound {
				return ErrTaskNotFound
			}
			return err
		}

		var env envelope
		if err := item.Value(func(val []byte) error {
			return json.Unmarshal(val, &env)
		}); err != nil {
			return err
		}

		if err := txn.Delete(b.indexKey(env.VisibleAt, handle)); err != nil && err != badger.ErrKeyNotFound {
			return err
		}
		return txn.Delete(b.msgKey(handle))
	})
	if err != nil && err != ErrTaskNotFound {
		return fmt.Errorf("failed to revoke task %s: %w", handle, err)
	}
	return err
}

// Depth returns the number of tasks currently in the queue, visible or not.
func (b *Broker) Depth() (int, error) {
	count := 0
	err := b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		prefix := []byte(fmt.Sprintf("queue:%s:msg:", b.queueName))
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			count++
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to count queue depth: %w", err)
	}
	return count, nil
}

func (b *Broker) ack(handle string) error {
	err := b.db.Update(func(txn *badger.Txn) error {
		item, err := txn.Get(b.msgKey(handle))
		if err != nil {
			if err == badger.ErrKeyNotFound {
				return nil // already removed
			}
			return err
		}

		var env envelope
		if err := item.Value(func(val []byte) error {
			return json.Unmarshal(val, &env)
		}); err != nil {
			return err
		}

		if err := txn.Delete(b.indexKey(env.VisibleAt, handle)); err != nil && err != badger.ErrKeyNotFound {
			return err
		}
		return txn.Delete(b.msgKey(handle))
	})
	if err != nil {
		return fmt.Errorf("failed to ack task %s: %w", handle, err)
	}
	return nil
}

func (b *Broker) extend(handle string, duration time.Duration) error {
	err := b.db.Update(func(txn *badger.Txn) error {
		item, err := txn.Get(b.msgKey(handle))
		if err != nil {
			return err
		}

		var env envelope
		if err := item.Value(func(val []byte) error {
			return json.Unmarshal(val, &env)
		}); err != nil {
			return err
		}

		oldVisibleAt := env.VisibleAt
		env.VisibleAt = time.Now().Add(duration)

		data, err := json.Marshal(env)
		if err != nil {
			return err
		}
		if err := txn.Set(b.msgKey(handle), data); err != nil {
			return err
		}
		if err := txn.Delete(b.indexKey(oldVisibleAt, handle)); err != nil && err != badger.ErrKeyNotFound {
			return err
		}
		return txn.Set(b.indexKey(env.VisibleAt, handle), []byte{})
	})
	if err != nil {
		return fmt.Errorf("failed to extend task %s: %w", handle, err)
	}
	return nil
}

func (b *Broker) moveToDead(txn *badger.Txn, indexKey []byte, env *envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return err
	}
	deadKey := []byte(fmt.Sprintf("queue:%s:dead:%s", b.queueName, env.ID))
	if err := txn.Set(deadKey, data); err != nil {
		return err
	}
	if err := txn.Delete(indexKey); err != nil {
		return err
	}
	if err := txn.Delete(b.msgKey(env.ID)); err != nil {
		return err
	}
	b.logger.Warn().
		Str("task_id", env.ID).
		Str("job_id", env.Task.JobID).
		Int("receive_count", env.ReceiveCount).
		Msg("Task moved to dead-letter after exhausting deliveries")
	return nil
}

func (b *Broker) msgKey(id string) []byte {
	return []byte(fmt.Sprintf("queue:%s:msg:%s", b.queueName, id))
}

func (b *Broker) indexPrefix() []byte {
	return []byte(fmt.Sprintf("queue:%s:index:", b.queueName))
}

func (b *Broker) indexKey(visibleAt time.Time, id string) []byte {
	// Zero-padded to 20 digits so lexicographic order matches numeric order.
	return []byte(fmt.Sprintf("queue:%s:index:%020d:%s", b.queueName, visibleAt.UnixNano(), id))
}

func (b *Broker) parseIndexKey(key []byte) (time.Time, string, error) {
	prefix := b.indexPrefix()
	if len(key) <= len(prefix) {
		return time.Time{}, "", fmt.Errorf("invalid index key")
	}
	suffix := string(key[len(prefix):])
	if len(suffix) < 22 {
		return time.Time{}, "", fmt.Errorf("invalid index key suffix")
	}

	var ts int64
	if _, err := fmt.Sscanf(suffix[:20], "%d", &ts); err != nil {
		return time.Time{}, "", err
	}
	return time.Unix(0, ts), suffix[21:], nil
}
