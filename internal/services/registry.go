package services

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/axellelanca/trailtrack/internal/models"
)

// Registry keeps one Tracker per visitor. Trackers are created lazily,
// replaced once their session expires and evicted after sitting idle.
type Registry struct {
	mu       sync.Mutex
	trackers map[string]*Tracker
	lastSeen map[string]time.Time
	deps     TrackerDeps
	catalog  []models.AffiliateLink
	log      *zap.Logger
	now      func() time.Time
}

// NewRegistry creates a Registry. Every new tracker registers the catalog
// links under their configured ids.
func NewRegistry(deps TrackerDeps, catalog []models.AffiliateLink) *Registry {
	log := deps.Logger
	if log == nil {
		log = zap.NewNop()
		deps.Logger = log
	}
	now := deps.Clock
	if now == nil {
		now = time.Now
	}
	return &Registry{
		trackers: make(map[string]*Tracker),
		lastSeen: make(map[string]time.Time),
		deps:     deps,
		catalog:  catalog,
		log:      log,
		now:      now,
	}
}

// Get returns the visitor's tracker, creating (or restoring) it on first use.
// A tracker whose session has expired is saved and replaced by a fresh one.
func (r *Registry) Get(ctx context.Context, visitorID string, page PageContext) *Tracker {
	r.mu.Lock()
	defer r.mu.Unlock()

	if t, ok := r.trackers[visitorID]; ok {
		if !t.Expired() {
			r.lastSeen[visitorID] = r.now()
			return t
		}
		if err := t.Save(ctx); err != nil {
			r.log.Warn("Failed to save expired tracker", zap.String("visitor", visitorID), zap.Error(err))
		}
		r.log.Debug("Tracking session expired, starting a new one", zap.String("visitor", visitorID))
	}

	t := NewTracker(ctx, visitorID, page, r.deps)
	for _, link := range r.catalog {
		if link.ID == "" {
			r.log.Warn("Skipping catalog link without id", zap.String("product", link.ProductName))
			continue
		}
		t.registerWithID(link)
	}
	r.trackers[visitorID] = t
	r.lastSeen[visitorID] = r.now()
	return t
}

// Lookup returns the visitor's tracker if one was already created.
func (r *Registry) Lookup(visitorID string) (*Tracker, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.trackers[visitorID]
	return t, ok
}

// Len returns the number of live trackers.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.trackers)
}

// Evict saves and drops the trackers not used for at least idle. It returns
// how many were dropped and the first save error. A dropped visitor is
// restored from storage on its next request.
func (r *Registry) Evict(ctx context.Context, idle time.Duration) (int, error) {
	cutoff := r.now().Add(-idle)

	r.mu.Lock()
	var evicted []*Tracker
	for id, seen := range r.lastSeen {
		if seen.After(cutoff) {
			continue
		}
		evicted = append(evicted, r.trackers[id])
		delete(r.trackers, id)
		delete(r.lastSeen, id)
	}
	r.mu.Unlock()

	return len(evicted), r.save(ctx, evicted)
}

// RunEviction evicts idle trackers every interval until ctx is cancelled.
func (r *Registry) RunEviction(ctx context.Context, interval, idle time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := r.Evict(ctx, idle)
			if n > 0 {
				r.log.Info("Evicted idle trackers", zap.Int("count", n), zap.Int("live", r.Len()))
			}
			if err != nil {
				r.log.Warn("Tracker eviction had save failures", zap.Error(err))
			}
		}
	}
}

// SaveAll persists every live tracker. Failures are logged and the first
// one is returned.
func (r *Registry) SaveAll(ctx context.Context) error {
	r.mu.Lock()
	trackers := make([]*Tracker, 0, len(r.trackers))
	for _, t := range r.trackers {
		trackers = append(trackers, t)
	}
	r.mu.Unlock()

	return r.save(ctx, trackers)
}

func (r *Registry) save(ctx context.Context, trackers []*Tracker) error {
	var firstErr error
	for _, t := range trackers {
		if err := t.Save(ctx); err != nil {
			r.log.Error("Failed to save tracker", zap.String("visitor", t.namespace), zap.Error(err))
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}
