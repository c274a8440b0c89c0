package ingestor

import (
	"context"
	"sort"
	"time"

	"github.com/ReZill392/Thesit-sub000/repository"
	"github.com/sirupsen/logrus"
)

// InteractionStore applies queued last_interaction_at updates
type InteractionStore interface {
	ApplyLastInteraction(ctx context.Context, updates []repository.LastInteractionUpdate) (int64, error)
}

// BatchWriter drains last-interaction updates on a fixed interval.
// The queue is bounded; when full the oldest update is evicted.
type BatchWriter struct {
	store    InteractionStore
	queue    chan repository.LastInteractionUpdate
	interval time.Duration
	log      *logrus.Logger
}

func NewBatchWriter(store InteractionStore, size int, interval time.Duration, log *logrus.Logger) *BatchWriter {
	if size <= 0 {
		size = 10000
	}
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &BatchWriter{
		store:    store,
		queue:    make(chan repository.LastInteractionUpdate, size),
		interval: interval,
		log:      log,
	}
}

// Enqueue never blocks
func (w *BatchWriter) Enqueue(u repository.LastInteractionUpdate) {
	for {
		select {
		case w.queue <- u:
			return
		default:
		}

		select {
		case <-w.queue:
			updatesDropped.Inc()
		default:
		}
	}
}

// Pending reports the number of queued updates
func (w *BatchWriter) Pending() int {
	return len(w.queue)
}

// Start runs the flush loop until ctx is cancelled. The returned func stops it
// after a final flush.
func (w *BatchWriter) Start(ctx context.Context) func() {
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})

	go func() {
		defer close(done)
		ticker := time.NewTicker(w.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				// drain what is left with a fresh context
				flushCtx, flushCancel := context.WithTimeout(context.Background(), 10*time.Second)
				w.Flush(flushCtx)
				flushCancel()
				return
			case <-ticker.C:
				w.Flush(ctx)
			}
		}
	}()

	return func() {
		cancel()
		<-done
	}
}

// Flush applies every queued update, one transaction per page.
// A failed page is rolled back and its updates are dropped; the next full check re-enqueues them.
func (w *BatchWriter) Flush(ctx context.Context) int64 {
	batch := w.drain()
	if len(batch) == 0 {
		return 0
	}
	start := time.Now()
	defer func() { flushDuration.Observe(time.Since(start).Seconds()) }()

	byPage := make(map[uint][]repository.LastInteractionUpdate)
	for _, u := range batch {
		byPage[u.PageID] = append(byPage[u.PageID], u)
	}
	pageIDs := make([]uint, 0, len(byPage))
	for id := range byPage {
		pageIDs = append(pageIDs, id)
	}
	sort.Slice(pageIDs, func(i, j int) bool { return pageIDs[i] < pageIDs[j] })

	var total int64
	for _, pageID := range pageIDs {
		updates := byPage[pageID]
		n, err := w.store.ApplyLastInteraction(ctx, updates)
		if err != nil {
			w.log.WithFields(logrus.Fields{
				"page_id": pageID,
				"updates": len(updates),
				"error":   err.Error(),
			}).Error("failed to apply last interaction batch")
			continue
		}
		total += n
	}

	w.log.WithFields(logrus.Fields{"queued": len(batch), "applied": total}).Debug("batch writer flushed")
	return total
}

func (w *BatchWriter) drain() []repository.LastInteractionUpdate {
	var out []repository.LastInteractionUpdate
	for {
		select {
		case u := <-w.queue:
			out = append(out, u)
		default:
			return out
		}
	}
}
