package locks

import (
	"sync"
	"time"

	"github.com/JonathanMagnan/nmemory/nmemory_errors"
	"github.com/JonathanMagnan/nmemory/utils"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
)

// LockWaits counts acquisitions that could not be granted immediately.
var LockWaits = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: "nmemory",
	Subsystem: "locks",
	Name:      "waits",
}, []string{"table", "kind"})

var LockWaitDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
	Namespace: "nmemory",
	Subsystem: "locks",
	Name:      "wait_duration_seconds",
	Buckets:   []float64{.0001, .001, .01, .05, .1, .5, 1, 5},
}, []string{"table", "kind"})

type Kind string

const (
	Write   Kind = "write"
	Related Kind = "related"
	Read    Kind = "read"
)

// tableLock is the state of one table: at most one exclusive owner (write or
// related grade, reentrant with a depth count) plus shared readers. Readers
// and the exclusive owner exclude each other across transactions; the same
// transaction never blocks itself.
type tableLock struct {
	mu    sync.Mutex
	cond  *sync.Cond
	owner uuid.UUID
	depth int
	reads map[uuid.UUID]int
}

func newTableLock() *tableLock {
	l := &tableLock{reads: make(map[uuid.UUID]int)}
	l.cond = sync.NewCond(&l.mu)
	return l
}

// Coordinator grants and releases table-scoped locks per transaction. A lock
// request that cannot be granted within the timeout fails with
// ErrConcurrencyTimeout; granted locks must be released by the same
// (table, transaction) pair.
type Coordinator struct {
	timeout time.Duration
	tables  utils.CMap[string, *tableLock]
}

func NewCoordinator(timeout time.Duration) *Coordinator {
	return &Coordinator{timeout: timeout}
}

func (c *Coordinator) lockFor(table string) *tableLock {
	l, ok := c.tables.Load(table)
	if !ok {
		l, _ = c.tables.LoadOrStore(table, newTableLock())
	}
	return l
}

func (l *tableLock) otherReaders(tx uuid.UUID) bool {
	for r := range l.reads {
		if r != tx {
			return true
		}
	}
	return false
}

// await blocks until grantable returns true or the deadline passes, holding
// l.mu around each check. A timer broadcast wakes the waiter at the deadline.
// onWait runs once, before the first wait.
func (l *tableLock) await(grantable func() bool, deadline time.Time, onWait func()) error {
	for !grantable() {
		if onWait != nil {
			onWait()
			onWait = nil
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nmemory_errors.ErrConcurrencyTimeout
		}
		t := time.AfterFunc(remaining, func() {
			l.mu.Lock()
			l.cond.Broadcast()
			l.mu.Unlock()
		})
		l.cond.Wait()
		t.Stop()
	}
	return nil
}

func (c *Coordinator) acquireExclusive(table string, tx uuid.UUID, kind Kind) error {
	start := time.Now()
	l := c.lockFor(table)
	l.mu.Lock()
	defer l.mu.Unlock()
	err := l.await(func() bool {
		free := l.depth == 0 || l.owner == tx
		return free && !l.otherReaders(tx)
	}, start.Add(c.timeout), func() {
		LockWaits.WithLabelValues(table, string(kind)).Inc()
	})
	if err != nil {
		return errors.Wrapf(err, "%s lock on %s", kind, table)
	}
	l.owner = tx
	l.depth++
	LockWaitDuration.WithLabelValues(table, string(kind)).Observe(time.Since(start).Seconds())
	return nil
}

func (c *Coordinator) releaseExclusive(table string, tx uuid.UUID) {
	l := c.lockFor(table)
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.depth == 0 || l.owner != tx {
		return
	}
	l.depth--
	if l.depth == 0 {
		l.owner = uuid.UUID{}
		l.cond.Broadcast()
	}
}

func (c *Coordinator) AcquireWriteLock(table string, tx uuid.UUID) error {
	return c.acquireExclusive(table, tx, Write)
}

func (c *Coordinator) ReleaseWriteLock(table string, tx uuid.UUID) {
	c.releaseExclusive(table, tx)
}

// Related-table locks are exclusive-grade: a referential-integrity check must
// not race with writers of the related table. Reentrant for a transaction
// that already holds the table's write lock.
func (c *Coordinator) AcquireRelatedLock(table string, tx uuid.UUID) error {
	return c.acquireExclusive(table, tx, Related)
}

func (c *Coordinator) ReleaseRelatedLock(table string, tx uuid.UUID) {
	c.releaseExclusive(table, tx)
}

func (c *Coordinator) AcquireReadLock(table string, tx uuid.UUID) error {
	start := time.Now()
	l := c.lockFor(table)
	l.mu.Lock()
	defer l.mu.Unlock()
	err := l.await(func() bool {
		return l.depth == 0 || l.owner == tx
	}, start.Add(c.timeout), func() {
		LockWaits.WithLabelValues(table, string(Read)).Inc()
	})
	if err != nil {
		return errors.Wrapf(err, "read lock on %s", table)
	}
	l.reads[tx]++
	LockWaitDuration.WithLabelValues(table, string(Read)).Observe(time.Since(start).Seconds())
	return nil
}

func (c *Coordinator) ReleaseReadLock(table string, tx uuid.UUID) {
	l := c.lockFor(table)
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.reads[tx] == 0 {
		return
	}
	l.reads[tx]--
	if l.reads[tx] == 0 {
		delete(l.reads, tx)
		l.cond.Broadcast()
	}
}

// Held reports the exclusive depth and read count a transaction holds on a
// table. Zero values mean the transaction holds nothing.
func (c *Coordinator) Held(table string, tx uuid.UUID) (exclusive, reads int) {
	l, ok := c.tables.Load(table)
	if !ok {
		return 0, 0
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.owner == tx {
		exclusive = l.depth
	}
	return exclusive, l.reads[tx]
}
