package stats

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/valvoice/backend/internal/narration"
)

const (
	defaultSaveInterval = 30 * time.Second
	queueSize           = 256
)

// Tracker is a narration.Sink that accumulates totals on its own goroutine
// and saves them periodically. Narrate never blocks; when the queue is
// full the record is dropped and counted.
type Tracker struct {
	store    *Store
	interval time.Duration
	logger   *zap.Logger
	queue    chan narration.Message
	dropped  atomic.Int64

	mu    sync.Mutex
	stats *Stats
	dirty bool
}

// NewTracker loads existing stats from store and counts this run. The
// caller must run Run in a goroutine.
func NewTracker(store *Store, interval time.Duration, logger *zap.Logger) (*Tracker, error) {
	st, err := store.Load()
	if err != nil {
		return nil, err
	}
	if interval <= 0 {
		interval = defaultSaveInterval
	}
	st.Runs++
	return &Tracker{
		store:    store,
		interval: interval,
		logger:   logger,
		queue:    make(chan narration.Message, queueSize),
		stats:    st,
		dirty:    true,
	}, nil
}

func (t *Tracker) Narrate(_ context.Context, m narration.Message) error {
	select {
	case t.queue <- m:
	default:
		if n := t.dropped.Add(1); n == 1 || n%100 == 0 {
			t.logger.Warn("stats queue full, dropping records", zap.Int64("dropped", n))
		}
	}
	return nil
}

// Run records queued messages and saves dirty stats every interval. It
// blocks until ctx is cancelled, then drains the queue and saves once more.
func (t *Tracker) Run(ctx context.Context) {
	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			t.drain()
			t.save()
			return
		case m := <-t.queue:
			t.record(m)
		case <-ticker.C:
			t.mu.Lock()
			dirty := t.dirty
			t.mu.Unlock()
			if dirty {
				t.save()
			}
		}
	}
}

func (t *Tracker) drain() {
	for {
		select {
		case m := <-t.queue:
			t.record(m)
		default:
			return
		}
	}
}

func (t *Tracker) record(m narration.Message) {
	chars := int64(utf8.RuneCountInString(m.Content))
	at := m.ReceivedAt
	if at.IsZero() {
		at = time.Now()
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	st := t.stats
	st.TotalMessages++
	st.TotalCharacters += chars
	if int(chars) > st.LongestMessage {
		st.LongestMessage = int(chars)
	}
	ch := st.PerChannel[string(m.Channel)]
	ch.Messages++
	ch.Characters += chars
	st.PerChannel[string(m.Channel)] = ch
	if m.SenderID != "" {
		st.PerSender[m.SenderID]++
	}
	if st.FirstNarratedAt.IsZero() {
		st.FirstNarratedAt = at.UTC()
	}
	st.LastNarratedAt = at.UTC()
	t.dirty = true
}

// Stats returns a deep copy of the current totals.
func (t *Tracker) Stats() *Stats {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stats.clone()
}

// Dropped is the number of records lost to a full queue.
func (t *Tracker) Dropped() int64 {
	return t.dropped.Load()
}

func (t *Tracker) save() {
	t.mu.Lock()
	st := t.stats.clone()
	t.dirty = false
	t.mu.Unlock()

	if err := t.store.Save(st); err != nil {
		t.logger.Warn("failed to save stats", zap.String("path", t.store.Path()), zap.Error(err))
	}
}
