package chat

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/avdwerff/deskchat/internal/models"
)

type fakeLister struct {
	mu      sync.Mutex
	threads []models.Thread
	err     error
}

func (f *fakeLister) FetchThreads(ctx context.Context) ([]models.Thread, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	out := make([]models.Thread, len(f.threads))
	copy(out, f.threads)
	return out, nil
}

func (f *fakeLister) set(threads []models.Thread, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.threads = threads
	f.err = err
}

func TestRegistryOrdersByRecency(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	lister := &fakeLister{threads: []models.Thread{
		{OwnerUserID: "u-old", LastActivity: base},
		{OwnerUserID: "u-new", LastActivity: base.Add(time.Hour)},
		{OwnerUserID: "u-mid", LastActivity: base.Add(time.Minute)},
	}}
	r := NewRegistry(lister, nil, nil)

	require.NoError(t, r.Refresh(context.Background()))

	got := r.List()
	require.Len(t, got, 3)
	assert.Equal(t, "u-new", got[0].OwnerUserID)
	assert.Equal(t, "u-mid", got[1].OwnerUserID)
	assert.Equal(t, "u-old", got[2].OwnerUserID)
}

func TestRegistryKeepsStaleListOnFailure(t *testing.T) {
	lister := &fakeLister{threads: []models.Thread{{OwnerUserID: "u-1"}}}
	r := NewRegistry(lister, nil, nil)
	require.NoError(t, r.Refresh(context.Background()))

	lister.set(nil, errors.New("backend down"))
	err := r.Refresh(context.Background())
	require.Error(t, err)

	got := r.List()
	require.Len(t, got, 1, "failed reload must not clobber the list")
	assert.Equal(t, "u-1", got[0].OwnerUserID)
}

func TestRegistryGetAndRemove(t *testing.T) {
	lister := &fakeLister{threads: []models.Thread{
		{OwnerUserID: "u-1"},
		{OwnerUserID: "u-2"},
	}}
	r := NewRegistry(lister, nil, nil)
	require.NoError(t, r.Refresh(context.Background()))

	_, ok := r.Get("u-2")
	assert.True(t, ok)

	r.Remove("u-2")
	_, ok = r.Get("u-2")
	assert.False(t, ok)
	assert.Len(t, r.List(), 1)
}
