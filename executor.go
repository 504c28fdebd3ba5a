package nmemory

import (
	"github.com/JonathanMagnan/nmemory/entity"
	"github.com/JonathanMagnan/nmemory/query"
)

// Executor performs the physical placement and removal of stored records:
// identity assignment, index membership, and the referential checks that
// belong to insert and delete. Each of its operations is atomic — a failure
// leaves no partial index state behind.
type Executor struct {
	db *Database
}

// ExecuteInsert places a stored record into every index of t, assigning the
// identity value first. Runs under t's write lock.
func (x *Executor) ExecuteInsert(t *Table, stored *entity.Record, ctx ExecContext) error {
	if id := t.schema.IdentityField(); id >= 0 {
		switch v := stored.Get(id).(type) {
		case nil:
			t.nextIdentity++
			if err := stored.Set(id, t.nextIdentity); err != nil {
				return err
			}
		case int64:
			if v > t.nextIdentity {
				t.nextIdentity = v
			}
		}
	}
	if err := stored.Validate(); err != nil {
		return err
	}
	for _, v := range t.validators {
		if err := v.Apply(stored, ctx); err != nil {
			return err
		}
	}

	// a new row cannot create dangling referrers, only dangling references:
	// lock the referred tables and validate the outgoing keys
	lc := x.db.locks
	var related []string
	defer func() {
		for i := len(related) - 1; i >= 0; i-- {
			lc.ReleaseRelatedLock(related[i], ctx.Tx.id)
		}
	}()
	for _, rel := range t.referring {
		name := rel.referred.Name()
		if err := lc.AcquireRelatedLock(name, ctx.Tx.id); err != nil {
			return err
		}
		related = append(related, name)
	}

	err := t.runAtomic(func(log *atomicLog) error {
		for _, ix := range t.indexes {
			if err := ix.Insert(stored); err != nil {
				return err
			}
			log.indexInserted(ix, stored)
		}
		for _, rel := range t.referring {
			if err := rel.ValidateEntity(stored); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	t.rows[stored] = struct{}{}
	return nil
}

// ExecuteDelete compiles the predicate, removes every matching row from all
// indexes, and returns the removed records. Restrict semantics: a row still
// pointed at by a referring entity cannot be deleted.
func (x *Executor) ExecuteDelete(t *Table, where query.Expr, ctx ExecContext) ([]*entity.Record, error) {
	lc := x.db.locks
	if err := lc.AcquireWriteLock(t.Name(), ctx.Tx.id); err != nil {
		return nil, err
	}
	defer lc.ReleaseWriteLock(t.Name(), ctx.Tx.id)

	matches, err := t.queryLocked(ctx, where)
	if err != nil {
		return nil, err
	}
	if len(matches) == 0 {
		return nil, nil
	}

	var related []string
	defer func() {
		for i := len(related) - 1; i >= 0; i-- {
			lc.ReleaseRelatedLock(related[i], ctx.Tx.id)
		}
	}()
	for _, rel := range t.referred {
		name := rel.referring.Name()
		if name == t.Name() {
			continue
		}
		if err := lc.AcquireRelatedLock(name, ctx.Tx.id); err != nil {
			return nil, err
		}
		related = append(related, name)
	}

	// a referrer that is itself being removed in this batch does not block
	// the delete: the post-batch state has no dangling reference
	doomed := make(map[*entity.Record]struct{}, len(matches))
	for _, rec := range matches {
		doomed[rec] = struct{}{}
	}

	err = t.runAtomic(func(log *atomicLog) error {
		for _, rec := range matches {
			for _, rel := range t.referred {
				refs := 0
				for _, ref := range rel.ReferringEntities(rec) {
					if _, gone := doomed[ref]; !gone {
						refs++
					}
				}
				if refs > 0 {
					return restrictViolation(rel, rec, refs)
				}
			}
		}
		for _, rec := range matches {
			for _, ix := range t.indexes {
				if err := ix.Delete(rec); err != nil {
					return err
				}
				log.indexDeleted(ix, rec)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	for _, rec := range matches {
		delete(t.rows, rec)
	}
	return matches, nil
}
