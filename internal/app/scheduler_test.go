package app

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/transfa/wallet-service/internal/store"
)

func TestSchedulerPurgesExpiredIdempotency(t *testing.T) {
	repo := store.NewMemoryRepository()
	ctx := context.Background()

	_, acquired, err := repo.AcquireTransferIdempotency(ctx, store.AcquireIdempotencyParams{
		AccountID:   "seller-a",
		Key:         "old",
		RequestHash: "h",
		TTL:         time.Minute,
	})
	require.NoError(t, err)
	require.True(t, acquired)

	scheduler := NewScheduler(repo, "", discardLogger())
	scheduler.now = func() time.Time { return time.Now().UTC().Add(2 * time.Minute) }
	scheduler.PurgeExpiredIdempotency()

	// The key is free again, so a different payload is accepted.
	_, acquired, err = repo.AcquireTransferIdempotency(ctx, store.AcquireIdempotencyParams{
		AccountID:   "seller-a",
		Key:         "old",
		RequestHash: "other",
		TTL:         time.Minute,
	})
	require.NoError(t, err)
	assert.True(t, acquired)
}

func TestSchedulerRejectsBadSchedule(t *testing.T) {
	scheduler := NewScheduler(store.NewMemoryRepository(), "every tuesday-ish", discardLogger())
	assert.Error(t, scheduler.Start())
}

func TestSchedulerStartStop(t *testing.T) {
	scheduler := NewScheduler(store.NewMemoryRepository(), "", discardLogger())
	require.NoError(t, scheduler.Start())
	<-scheduler.Stop().Done()
}
