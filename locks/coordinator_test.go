package locks

import (
	"sync"
	"testing"
	"time"

	"github.com/JonathanMagnan/nmemory/nmemory_errors"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteLockExcludesOtherWriters(t *testing.T) {
	c := NewCoordinator(50 * time.Millisecond)
	tx1, tx2 := uuid.New(), uuid.New()

	require.NoError(t, c.AcquireWriteLock("person", tx1))
	err := c.AcquireWriteLock("person", tx2)
	assert.ErrorIs(t, err, nmemory_errors.ErrConcurrencyTimeout)

	c.ReleaseWriteLock("person", tx1)
	assert.NoError(t, c.AcquireWriteLock("person", tx2))
	c.ReleaseWriteLock("person", tx2)
}

func TestWriteLockReentrant(t *testing.T) {
	c := NewCoordinator(50 * time.Millisecond)
	tx1, tx2 := uuid.New(), uuid.New()

	require.NoError(t, c.AcquireWriteLock("person", tx1))
	require.NoError(t, c.AcquireWriteLock("person", tx1))
	require.NoError(t, c.AcquireRelatedLock("person", tx1))

	ex, _ := c.Held("person", tx1)
	assert.Equal(t, 3, ex)

	c.ReleaseRelatedLock("person", tx1)
	c.ReleaseWriteLock("person", tx1)
	// still held once
	assert.ErrorIs(t, c.AcquireWriteLock("person", tx2), nmemory_errors.ErrConcurrencyTimeout)

	c.ReleaseWriteLock("person", tx1)
	assert.NoError(t, c.AcquireWriteLock("person", tx2))
	c.ReleaseWriteLock("person", tx2)
}

func TestReadersShareAndBlockWriters(t *testing.T) {
	c := NewCoordinator(50 * time.Millisecond)
	tx1, tx2, tx3 := uuid.New(), uuid.New(), uuid.New()

	require.NoError(t, c.AcquireReadLock("person", tx1))
	require.NoError(t, c.AcquireReadLock("person", tx2))

	assert.ErrorIs(t, c.AcquireWriteLock("person", tx3), nmemory_errors.ErrConcurrencyTimeout)

	c.ReleaseReadLock("person", tx1)
	c.ReleaseReadLock("person", tx2)
	assert.NoError(t, c.AcquireWriteLock("person", tx3))

	assert.ErrorIs(t, c.AcquireReadLock("person", tx1), nmemory_errors.ErrConcurrencyTimeout)
	c.ReleaseWriteLock("person", tx3)
}

func TestSameTxReadAndWrite(t *testing.T) {
	c := NewCoordinator(50 * time.Millisecond)
	tx := uuid.New()

	require.NoError(t, c.AcquireWriteLock("person", tx))
	require.NoError(t, c.AcquireReadLock("person", tx))
	ex, rd := c.Held("person", tx)
	assert.Equal(t, 1, ex)
	assert.Equal(t, 1, rd)
	c.ReleaseReadLock("person", tx)
	c.ReleaseWriteLock("person", tx)
}

func TestBlockedWriterProceedsAfterRelease(t *testing.T) {
	c := NewCoordinator(2 * time.Second)
	tx1, tx2 := uuid.New(), uuid.New()

	require.NoError(t, c.AcquireWriteLock("person", tx1))

	var wg sync.WaitGroup
	wg.Add(1)
	acquired := make(chan struct{})
	go func() {
		defer wg.Done()
		if err := c.AcquireWriteLock("person", tx2); err == nil {
			close(acquired)
			c.ReleaseWriteLock("person", tx2)
		}
	}()

	select {
	case <-acquired:
		t.Fatal("writer got the lock while it was held")
	case <-time.After(50 * time.Millisecond):
	}
	c.ReleaseWriteLock("person", tx1)

	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("writer never woke up after release")
	}
	wg.Wait()
}

func TestReleaseIsBalanced(t *testing.T) {
	c := NewCoordinator(50 * time.Millisecond)
	tx := uuid.New()

	// releasing what was never acquired must not free anyone else's lock
	c.ReleaseWriteLock("person", tx)
	c.ReleaseReadLock("person", tx)

	other := uuid.New()
	require.NoError(t, c.AcquireWriteLock("person", other))
	c.ReleaseWriteLock("person", tx) // wrong tx, no effect
	ex, _ := c.Held("person", other)
	assert.Equal(t, 1, ex)
	c.ReleaseWriteLock("person", other)
}

func TestLockWaitsCountsOnlyBlockedAcquisitions(t *testing.T) {
	c := NewCoordinator(20 * time.Millisecond)
	tx1, tx2 := uuid.New(), uuid.New()
	waits := func() float64 {
		return testutil.ToFloat64(LockWaits.WithLabelValues("person", string(Write)))
	}

	before := waits()
	require.NoError(t, c.AcquireWriteLock("person", tx1))
	assert.Equal(t, before, waits(), "an uncontended acquisition is not a wait")

	err := c.AcquireWriteLock("person", tx2)
	assert.ErrorIs(t, err, nmemory_errors.ErrConcurrencyTimeout)
	assert.Equal(t, before+1, waits())
	c.ReleaseWriteLock("person", tx1)
}

func TestDisjointTablesDoNotContend(t *testing.T) {
	c := NewCoordinator(50 * time.Millisecond)
	tx1, tx2 := uuid.New(), uuid.New()

	require.NoError(t, c.AcquireWriteLock("person", tx1))
	require.NoError(t, c.AcquireWriteLock("department", tx2))

	c.ReleaseWriteLock("person", tx1)
	c.ReleaseWriteLock("department", tx2)
}
