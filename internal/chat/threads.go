package chat

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/avdwerff/deskchat/internal/metrics"
	"github.com/avdwerff/deskchat/internal/models"
)

// ThreadLister fetches the operator thread list. *rest.Client satisfies it.
type ThreadLister interface {
	FetchThreads(ctx context.Context) ([]models.Thread, error)
}

// Registry is the operator-side list of all user threads with preview and
// unread metadata. It holds aggregates only; the per-thread Store stays the
// authority for message content.
type Registry struct {
	lister  ThreadLister
	logger  *slog.Logger
	metrics *metrics.Collector

	mu      sync.Mutex
	threads []models.Thread
}

// NewRegistry creates an empty registry.
func NewRegistry(lister ThreadLister, logger *slog.Logger, mc *metrics.Collector) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	if mc == nil {
		mc = metrics.NewCollector()
	}
	return &Registry{lister: lister, logger: logger, metrics: mc}
}

// Refresh performs a full reload. Incremental patching after each mutating
// action is deliberately avoided; thread counts are small and a reload
// cannot get patch ordering wrong. A failed reload keeps the previous list.
func (r *Registry) Refresh(ctx context.Context) error {
	start := time.Now()
	threads, err := r.lister.FetchThreads(ctx)
	if err != nil {
		r.metrics.RecordFailure(metrics.OpThreadList)
		r.logger.Warn("thread list reload failed, keeping stale list", "error", err)
		return err
	}
	r.metrics.RecordTiming(metrics.OpThreadList, time.Since(start))

	sort.SliceStable(threads, func(i, j int) bool {
		return threads[i].LastActivity.After(threads[j].LastActivity)
	})

	r.mu.Lock()
	r.threads = threads
	r.mu.Unlock()
	return nil
}

// List returns the threads ordered by recency of last message.
func (r *Registry) List() []models.Thread {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]models.Thread, len(r.threads))
	copy(out, r.threads)
	return out
}

// Get looks up one thread by owner.
func (r *Registry) Get(userID string) (models.Thread, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, t := range r.threads {
		if t.OwnerUserID == userID {
			return t, true
		}
	}
	return models.Thread{}, false
}

// Remove drops a thread locally, used when the server announces a deletion
// before the next reload lands.
func (r *Registry) Remove(userID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, t := range r.threads {
		if t.OwnerUserID == userID {
			r.threads = append(r.threads[:i], r.threads[i+1:]...)
			return
		}
	}
}
