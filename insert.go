package nmemory

import (
	"github.com/JonathanMagnan/nmemory/entity"
	"github.com/JonathanMagnan/nmemory/nmemory_errors"
	"github.com/pkg/errors"
)

// Insert creates one stored record from the caller's template. The template
// is copied in, the executor places the record into every index and assigns
// the identity value, and the final stored values are copied back out so
// generated values become visible to the caller. The caller's record never
// aliases table state.
func (t *Table) Insert(tx *Tx, rec *entity.Record) error {
	if rec == nil || rec.Schema() != t.schema {
		return errors.Wrap(nmemory_errors.ErrSchemaMismatch, t.Name())
	}
	lc := t.db.locks
	if err := lc.AcquireWriteLock(t.Name(), tx.id); err != nil {
		return err
	}
	defer lc.ReleaseWriteLock(t.Name(), tx.id)

	stored := t.schema.NewRecord()
	if err := stored.CopyFrom(rec); err != nil {
		return err
	}
	ctx := ExecContext{DB: t.db, Tx: tx, Op: OpInsert}
	if err := t.db.executor.ExecuteInsert(t, stored, ctx); err != nil {
		return err
	}
	MutationCount.WithLabelValues(t.Name(), "insert").Inc()
	return rec.CopyFrom(stored)
}
