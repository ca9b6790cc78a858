package storage

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vzahanych/footfall-counter/internal/config"
	"github.com/vzahanych/footfall-counter/internal/logger"
	"github.com/vzahanych/footfall-counter/internal/state"
)

type fakePruner struct {
	mu      sync.Mutex
	cutoffs []time.Time
	err     error
}

func (f *fakePruner) DeleteRecordingsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cutoffs = append(f.cutoffs, cutoff)
	return 3, f.err
}

func (f *fakePruner) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.cutoffs)
}

func TestNewRetentionPolicy_Defaults(t *testing.T) {
	policy := NewRetentionPolicy(-1, 0, nil, logger.NewNopLogger())

	assert.Equal(t, 0, policy.retentionDays)
	assert.Equal(t, time.Hour, policy.interval)
}

func TestRetentionPolicy_EnforceCutoff(t *testing.T) {
	pruner := &fakePruner{}
	policy := NewRetentionPolicy(7, time.Hour, pruner, logger.NewNopLogger())
	now := time.Date(2025, 3, 14, 12, 0, 0, 0, time.UTC)
	policy.now = func() time.Time { return now }

	deleted, err := policy.Enforce(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 3, deleted)
	require.Len(t, pruner.cutoffs, 1)
	assert.Equal(t, time.Date(2025, 3, 7, 12, 0, 0, 0, time.UTC), pruner.cutoffs[0])
}

func TestRetentionPolicy_DisabledDoesNothing(t *testing.T) {
	pruner := &fakePruner{}
	policy := NewRetentionPolicy(0, time.Hour, pruner, logger.NewNopLogger())

	deleted, err := policy.Enforce(context.Background())
	require.NoError(t, err)
	assert.Zero(t, deleted)
	assert.Empty(t, pruner.cutoffs)

	require.NoError(t, policy.Start(context.Background()))
	require.NoError(t, policy.Stop(context.Background()))
}

func TestRetentionPolicy_EnforceError(t *testing.T) {
	pruner := &fakePruner{err: errors.New("disk I/O error")}
	policy := NewRetentionPolicy(7, time.Hour, pruner, logger.NewNopLogger())

	_, err := policy.Enforce(context.Background())
	assert.Error(t, err)
}

func TestRetentionPolicy_StartRunsFirstPass(t *testing.T) {
	pruner := &fakePruner{}
	policy := NewRetentionPolicy(7, time.Hour, pruner, logger.NewNopLogger())

	require.NoError(t, policy.Start(context.Background()))
	require.Eventually(t, func() bool {
		return pruner.calls() == 1
	}, time.Second, 10*time.Millisecond)
	require.NoError(t, policy.Stop(context.Background()))
}

func TestRetentionPolicy_DeletesOnlyExpiredFinishedRecordings(t *testing.T) {
	cfg := &config.Config{}
	cfg.Counter.DataDir = t.TempDir()
	store, err := state.NewManager(cfg, logger.NewNopLogger())
	require.NoError(t, err)
	defer store.Close()

	ctx := context.Background()
	for _, rec := range []state.RecordingState{
		{ID: "old_done", CameraID: "1", Status: state.RecordingStatusDone},
		{ID: "old_live", CameraID: "1", Status: state.RecordingStatusLiveProcessing},
	} {
		require.NoError(t, store.CreateRecording(ctx, rec))
	}

	policy := NewRetentionPolicy(1, time.Hour, store, logger.NewNopLogger())
	policy.now = func() time.Time { return time.Now().Add(48 * time.Hour) }

	deleted, err := policy.Enforce(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, deleted)

	_, err = store.GetRecording(ctx, "old_done")
	assert.ErrorIs(t, err, state.ErrRecordingNotFound)
	_, err = store.GetRecording(ctx, "old_live")
	assert.NoError(t, err)
}
