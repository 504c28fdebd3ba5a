package nmemory

import (
	"github.com/JonathanMagnan/nmemory/entity"
	"github.com/JonathanMagnan/nmemory/indexes"
	"github.com/JonathanMagnan/nmemory/nmemory_errors"
	"github.com/JonathanMagnan/nmemory/query"
	"github.com/pkg/errors"
)

// Update is the single-key entry point: it locates the stored record by
// primary key, derives the minimal updater (only the fields that actually
// differ between the stored record and next, per the change detector), runs
// the bulk routine on that one record, and copies the result back into next.
func (t *Table) Update(tx *Tx, key []any, next *entity.Record) (*entity.Record, error) {
	if next == nil || next.Schema() != t.schema {
		return nil, errors.Wrap(nmemory_errors.ErrSchemaMismatch, t.Name())
	}
	lc := t.db.locks
	if err := lc.AcquireWriteLock(t.Name(), tx.id); err != nil {
		return nil, err
	}
	defer lc.ReleaseWriteLock(t.Name(), tx.id)

	stored, ok := t.primary.GetUnique(key)
	if !ok {
		return nil, notFound(t, key)
	}
	up, err := entity.MinimalUpdater(stored, next)
	if err != nil {
		return nil, err
	}
	ctx := ExecContext{DB: t.db, Tx: tx, Op: OpUpdate}
	if err := t.updateAll(ctx, []*entity.Record{stored}, up); err != nil {
		return nil, err
	}
	MutationCount.WithLabelValues(t.Name(), "update").Inc()
	if err := next.CopyFrom(stored); err != nil {
		return nil, err
	}
	return stored.Clone(), nil
}

// UpdateWhere is the bulk entry point: it materializes the matching stored
// records through the query plan (read-locking the other tables the plan
// touches), runs the bulk routine, and returns value copies of the updated
// records.
func (t *Table) UpdateWhere(tx *Tx, where query.Expr, up *entity.Updater) ([]*entity.Record, error) {
	if up == nil || up.Schema() != t.schema {
		return nil, errors.Wrap(nmemory_errors.ErrSchemaMismatch, t.Name())
	}
	if err := up.Err(); err != nil {
		return nil, err
	}
	lc := t.db.locks
	if err := lc.AcquireWriteLock(t.Name(), tx.id); err != nil {
		return nil, err
	}
	defer lc.ReleaseWriteLock(t.Name(), tx.id)

	ctx := ExecContext{DB: t.db, Tx: tx, Op: OpUpdate}
	matches, err := t.queryLocked(ctx, where)
	if err != nil {
		return nil, err
	}
	if len(matches) == 0 {
		return nil, nil
	}
	if err := t.updateAll(ctx, matches, up); err != nil {
		return nil, err
	}
	MutationCount.WithLabelValues(t.Name(), "update").Add(float64(len(matches)))
	out := make([]*entity.Record, 0, len(matches))
	for _, rec := range matches {
		out = append(out, rec.Clone())
	}
	return out, nil
}

// queryLocked compiles and runs a predicate against t while t's own lock is
// already held by the caller. Every other table the plan reads is
// read-locked for the duration of execution and released on all paths, in
// reverse acquisition order. Results are deduplicated by record identity, so
// a join can never yield the same stored record twice.
func (t *Table) queryLocked(ctx ExecContext, where query.Expr) ([]*entity.Record, error) {
	plan, err := t.db.compiler.Compile(t.schema, where)
	if err != nil {
		return nil, err
	}
	lc := t.db.locks
	var locked []string
	defer func() {
		for i := len(locked) - 1; i >= 0; i-- {
			lc.ReleaseReadLock(locked[i], ctx.Tx.id)
		}
	}()
	for _, src := range plan.Tables() {
		if src.Name() == t.Name() {
			continue
		}
		if err := lc.AcquireReadLock(src.Name(), ctx.Tx.id); err != nil {
			return nil, err
		}
		locked = append(locked, src.Name())
	}
	found, err := plan.Run(t)
	if err != nil {
		return nil, errors.Wrap(err, "plan execution")
	}
	seen := make(map[*entity.Record]struct{}, len(found))
	out := found[:0]
	for _, rec := range found {
		if _, dup := seen[rec]; dup {
			continue
		}
		seen[rec] = struct{}{}
		out = append(out, rec)
	}
	return out, nil
}

// updateAll is the bulk routine. Given a fixed record list and an updater:
//
//  1. The updater's static analysis picks the affected indexes — those whose
//     key includes at least one possibly-changed field.
//  2. Relation discovery partitions the relations touching those indexes.
//  3. Every related table is locked before any mutation, so the referential
//     checks cannot race with concurrent changes on the other side.
//  4. For relations where other tables point in, the current referrers of
//     each record are snapshotted while the pre-change key values still
//     resolve them.
//  5. Inside one atomic scope: delete all records from the affected indexes,
//     transform and overwrite all records in place, re-insert all records,
//     then validate referential integrity. Completion is the final step, so
//     any failure — including a validation failure — unwinds everything.
//
// The delete-all / mutate-all / insert-all phasing keeps one record's index
// delete from colliding with another record's not-yet-reinserted key.
func (t *Table) updateAll(ctx ExecContext, stored []*entity.Record, up *entity.Updater) error {
	changed := up.PossiblyChanged()
	var affected []indexes.Index
	for _, ix := range t.indexes {
		if indexes.Touches(ix, changed) {
			affected = append(affected, ix)
		}
	}
	group := t.relationsFor(affected)

	lc := t.db.locks
	var related []string
	defer func() {
		for i := len(related) - 1; i >= 0; i-- {
			lc.ReleaseRelatedLock(related[i], ctx.Tx.id)
		}
	}()
	for _, name := range t.relatedTables(group) {
		if err := lc.AcquireRelatedLock(name, ctx.Tx.id); err != nil {
			return err
		}
		related = append(related, name)
	}

	type referrerSnapshot struct {
		rel  *Relation
		recs []*entity.Record
	}
	var snapshots []referrerSnapshot
	for _, rel := range group.Referred {
		snap := referrerSnapshot{rel: rel}
		for _, rec := range stored {
			snap.recs = append(snap.recs, rel.ReferringEntities(rec)...)
		}
		if len(snap.recs) > 0 {
			snapshots = append(snapshots, snap)
		}
	}

	return t.runAtomic(func(log *atomicLog) error {
		for _, rec := range stored {
			for _, ix := range affected {
				if err := ix.Delete(rec); err != nil {
					return err
				}
				log.indexDeleted(ix, rec)
			}
		}
		for _, rec := range stored {
			before := rec.Clone()
			next, err := up.Apply(rec)
			if err != nil {
				return err
			}
			if err := next.Validate(); err != nil {
				return err
			}
			for _, v := range t.validators {
				if err := v.Apply(next, ctx); err != nil {
					return err
				}
			}
			if err := rec.CopyFrom(next); err != nil {
				return err
			}
			log.recordUpdated(rec, before)
		}
		for _, rec := range stored {
			for _, ix := range affected {
				if err := ix.Insert(rec); err != nil {
					return err
				}
				log.indexInserted(ix, rec)
			}
		}
		for _, rel := range group.Referring {
			for _, rec := range stored {
				if err := rel.ValidateEntity(rec); err != nil {
					return err
				}
			}
		}
		for _, snap := range snapshots {
			for _, ref := range snap.recs {
				if err := snap.rel.ValidateEntity(ref); err != nil {
					return err
				}
			}
		}
		return nil
	})
}
