package storage

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/vzahanych/footfall-counter/internal/logger"
	"github.com/vzahanych/footfall-counter/internal/service"
)

// RecordingPruner deletes finished recordings older than a cutoff
type RecordingPruner interface {
	DeleteRecordingsBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// RetentionPolicy prunes finished recordings on a fixed interval. Zero
// retention days disables pruning.
type RetentionPolicy struct {
	*service.ServiceBase
	retentionDays int
	interval      time.Duration
	store         RecordingPruner
	now           func() time.Time

	mu        sync.Mutex
	enforcing bool
	cancel    context.CancelFunc
	done      chan struct{}
}

// NewRetentionPolicy creates a new retention policy
func NewRetentionPolicy(retentionDays int, interval time.Duration, store RecordingPruner, log *logger.Logger) *RetentionPolicy {
	if retentionDays < 0 {
		retentionDays = 0
	}
	if interval <= 0 {
		interval = time.Hour
	}

	return &RetentionPolicy{
		ServiceBase:   service.NewServiceBase("retention", log),
		retentionDays: retentionDays,
		interval:      interval,
		store:         store,
		now:           time.Now,
	}
}

// Start runs the first pass immediately and then one per interval
func (r *RetentionPolicy) Start(ctx context.Context) error {
	if r.retentionDays == 0 {
		r.LogInfo("Recording retention disabled")
		return nil
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	r.cancel = cancel
	r.done = make(chan struct{})

	go func() {
		defer close(r.done)
		ticker := time.NewTicker(r.interval)
		defer ticker.Stop()

		for {
			if _, err := r.Enforce(loopCtx); err != nil && loopCtx.Err() == nil {
				r.LogError("Retention pass failed", err)
			}
			select {
			case <-loopCtx.Done():
				return
			case <-ticker.C:
			}
		}
	}()

	r.LogInfo("Recording retention started", "days", r.retentionDays, "interval", r.interval)
	return nil
}

// Stop stops the retention loop
func (r *RetentionPolicy) Stop(ctx context.Context) error {
	if r.cancel == nil {
		return nil
	}
	r.cancel()

	select {
	case <-r.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Enforce deletes finished recordings not updated within the retention
// period and returns how many were removed
func (r *RetentionPolicy) Enforce(ctx context.Context) (int64, error) {
	if r.retentionDays == 0 || r.store == nil {
		return 0, nil
	}

	r.mu.Lock()
	if r.enforcing {
		r.mu.Unlock()
		return 0, fmt.Errorf("retention policy is already being enforced")
	}
	r.enforcing = true
	r.mu.Unlock()

	defer func() {
		r.mu.Lock()
		r.enforcing = false
		r.mu.Unlock()
	}()

	cutoff := r.now().Add(-time.Duration(r.retentionDays) * 24 * time.Hour)
	deleted, err := r.store.DeleteRecordingsBefore(ctx, cutoff)
	if err != nil {
		return 0, err
	}

	if deleted > 0 {
		r.LogInfo("Deleted expired recordings", "count", deleted, "cutoff", cutoff.Format(time.RFC3339))
	}
	return deleted, nil
}
