// -----------------------------------------------------------------------
// Log Bus - per-job fan-out with bounded replay history
// -----------------------------------------------------------------------

package logbus

import (
	"sync"

	"github.com/ternarybob/arbor"

	"github.com/subfetch/subfetch/internal/common"
	"github.com/subfetch/subfetch/internal/interfaces"
	"github.com/subfetch/subfetch/internal/models"
)

// subscriberBuffer is the per-subscriber channel depth. A subscriber that
// falls this far behind starts losing envelopes rather than stalling the
// publisher.
const subscriberBuffer = 256

// topic is the state for one job's log stream.
type topic struct {
	mu           sync.Mutex
	nextSeq      uint64
	history      []models.LogEnvelope
	historyBytes int
	subs         map[int]chan models.LogEnvelope
	nextSubID    int
}

// Bus implements the LogBus interface. One topic per job; publishing is
// decoupled from every subscriber so a stuck WebSocket can never slow the
// supervisor down.
type Bus struct {
	mu         sync.RWMutex
	topics     map[string]*topic
	maxEntries int
	maxBytes   int
	logger     arbor.ILogger
}

// NewBus creates a log bus with the given replay history bounds.
func NewBus(config common.LogBusConfig, logger arbor.ILogger) interfaces.LogBus {
	maxEntries := config.HistoryMaxEntries
	if maxEntries <= 0 {
		maxEntries = 1000
	}
	maxBytes := config.HistoryMaxBytes
	if maxBytes <= 0 {
		maxBytes = 256 * 1024
	}
	return &Bus{
		topics:     make(map[string]*topic),
		maxEntries: maxEntries,
		maxBytes:   maxBytes,
		logger:     logger,
	}
}

func (b *Bus) getOrCreate(jobID string) *topic {
	b.mu.RLock()
	t, ok := b.topics[jobID]
	b.mu.RUnlock()
	if ok {
		return t
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if t, ok := b.topics[jobID]; ok {
		return t
	}
	t = &topic{subs: make(map[int]chan models.LogEnvelope)}
	b.topics[jobID] = t
	return t
}

// Publish appends the envelope to the job's history and delivers it to
// current subscribers. Sequence numbers are assigned here, under the topic
// lock, so delivery order matches history order for every subscriber.
func (b *Bus) Publish(jobID string, env models.LogEnvelope) {
	t := b.getOrCreate(jobID)

	t.mu.Lock()
	defer t.mu.Unlock()

	env.Seq = t.nextSeq
	t.nextSeq++

	t.history = append(t.history, env)
	t.historyBytes += env.ApproxSize()
	b.trimHistoryLocked(t)

	for id, ch := range t.subs {
		select {
		case ch <- env:
		default:
			// Slow subscriber; drop rather than block the publisher.
			b.logger.Debug().
				Str("job_id", jobID).
				Int("subscriber", id).
				Msg("Dropped envelope for slow subscriber")
		}
	}
}

// trimHistoryLocked evicts the oldest entries until both the entry count
// and byte bounds hold. Caller holds t.mu.
func (b *Bus) trimHistoryLocked(t *topic) {
	evict := 0
	bytes := t.historyBytes
	for n := len(t.history); n-evict > 0; evict++ {
		if n-evict <= b.maxEntries && bytes <= b.maxBytes {
			break
		}
		bytes -= t.history[evict].ApproxSize()
	}
	if evict > 0 {
		t.history = append([]models.LogEnvelope(nil), t.history[evict:]...)
		t.historyBytes = bytes
	}
}

// Subscribe registers the live channel before snapshotting history, both
// under the topic lock, so an envelope is either in the snapshot or will
// arrive on the channel, never neither.
func (b *Bus) Subscribe(jobID string) ([]models.LogEnvelope, <-chan models.LogEnvelope, func()) {
	t := b.getOrCreate(jobID)

	t.mu.Lock()
	ch := make(chan models.LogEnvelope, subscriberBuffer)
	id := t.nextSubID
	t.nextSubID++
	t.subs[id] = ch
	history := make([]models.LogEnvelope, len(t.history))
	copy(history, t.history)
	t.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			t.mu.Lock()
			if _, ok := t.subs[id]; ok {
				delete(t.subs, id)
				close(ch)
			}
			t.mu.Unlock()
		})
	}

	return history, ch, cancel
}

// CloseTopic closes all live subscriber channels for a job. History stays
// available so late joiners can still replay a finished job's logs.
func (b *Bus) CloseTopic(jobID string) {
	b.mu.RLock()
	t, ok := b.topics[jobID]
	b.mu.RUnlock()
	if !ok {
		return
	}

	t.mu.Lock()
	for id, ch := range t.subs {
		delete(t.subs, id)
		close(ch)
	}
	t.mu.Unlock()
}
