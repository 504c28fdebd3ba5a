package nmemory

import (
	"strings"
	"sync"
	"testing"

	"github.com/JonathanMagnan/nmemory/entity"
	"github.com/JonathanMagnan/nmemory/nmemory_errors"
	"github.com/JonathanMagnan/nmemory/query"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func atomicSteps(table, kind string) float64 {
	return testutil.ToFloat64(AtomicSteps.WithLabelValues(table, kind))
}

func TestSingleKeyUpdateChangesValue(t *testing.T) {
	db, person, dept := newTestDB(t)
	insertDept(t, db, dept, 10, "ops")
	insertPerson(t, db, person, 1, "ann", int64(10))

	tx := db.Begin()
	next, err := person.GetByKey(tx, int64(1))
	require.NoError(t, err)
	require.NoError(t, next.SetNamed("name", "anne"))

	updated, err := person.Update(tx, []any{int64(1)}, next)
	require.NoError(t, err)
	assert.Equal(t, "anne", updated.Get(1))

	got, err := person.GetByKey(tx, int64(1))
	require.NoError(t, err)
	assert.Equal(t, "anne", got.Get(1))
}

func TestSingleKeyUpdateNotFound(t *testing.T) {
	db, person, _ := newTestDB(t)
	next := person.NewRecord()
	require.NoError(t, next.SetNamed("id", int64(5)))
	require.NoError(t, next.SetNamed("name", "x"))
	_, err := person.Update(db.Begin(), []any{int64(5)}, next)
	assert.ErrorIs(t, err, nmemory_errors.ErrNotFound)
}

func TestMinimalDiffSkipsUntouchedIndexes(t *testing.T) {
	db, person, dept := newTestDB(t)
	insertDept(t, db, dept, 10, "ops")
	insertPerson(t, db, person, 1, "ann", int64(10))

	delBefore := atomicSteps("person", "index_delete")
	insBefore := atomicSteps("person", "index_insert")

	tx := db.Begin()
	next, err := person.GetByKey(tx, int64(1))
	require.NoError(t, err)
	require.NoError(t, next.SetNamed("name", "anne"))
	_, err = person.Update(tx, []any{int64(1)}, next)
	require.NoError(t, err)

	// name is in no index key, so no index micro-steps were logged
	assert.Equal(t, delBefore, atomicSteps("person", "index_delete"))
	assert.Equal(t, insBefore, atomicSteps("person", "index_insert"))
	assert.Equal(t, 1, byDept(t, person)(10))
}

func TestUpdateMovesSecondaryIndexEntry(t *testing.T) {
	db, person, dept := newTestDB(t)
	insertDept(t, db, dept, 10, "ops")
	insertDept(t, db, dept, 20, "dev")
	insertPerson(t, db, person, 1, "ann", int64(10))

	tx := db.Begin()
	next, err := person.GetByKey(tx, int64(1))
	require.NoError(t, err)
	require.NoError(t, next.SetNamed("dept_id", int64(20)))
	_, err = person.Update(tx, []any{int64(1)}, next)
	require.NoError(t, err)

	assert.Equal(t, 0, byDept(t, person)(10))
	assert.Equal(t, 1, byDept(t, person)(20))
}

func TestUpdateDanglingForeignKeyRollsBack(t *testing.T) {
	db, person, dept := newTestDB(t)
	insertDept(t, db, dept, 10, "ops")
	insertPerson(t, db, person, 1, "A", int64(10))

	tx := db.Begin()
	next, err := person.GetByKey(tx, int64(1))
	require.NoError(t, err)
	require.NoError(t, next.SetNamed("dept_id", int64(99)))
	_, err = person.Update(tx, []any{int64(1)}, next)
	assert.ErrorIs(t, err, nmemory_errors.ErrConstraintViolation)

	// post-call state is exactly the pre-call state
	got, err := person.GetByKey(db.Begin(), int64(1))
	require.NoError(t, err)
	assert.Equal(t, int64(10), got.Get(2))
	assert.Equal(t, 1, byDept(t, person)(10))
	assert.Equal(t, 0, byDept(t, person)(99))
}

func TestBulkUpdateNonKeyFieldLogsNoIndexSteps(t *testing.T) {
	db, person, dept := newTestDB(t)
	insertDept(t, db, dept, 10, "ops")
	insertPerson(t, db, person, 1, "ann", int64(10))
	insertPerson(t, db, person, 2, "bob", int64(10))
	insertPerson(t, db, person, 3, "cid", nil)

	delBefore := atomicSteps("person", "index_delete")
	updBefore := atomicSteps("person", "record_update")

	up := entity.NewUpdater(person.Schema()).SetFunc("name", func(r *entity.Record) any {
		return strings.ToUpper(r.Get(1).(string))
	})
	updated, err := person.UpdateWhere(db.Begin(), query.All(), up)
	require.NoError(t, err)
	assert.Len(t, updated, 3)

	assert.Equal(t, delBefore, atomicSteps("person", "index_delete"))
	assert.Equal(t, updBefore+3, atomicSteps("person", "record_update"))

	got, err := person.GetByKey(db.Begin(), int64(2))
	require.NoError(t, err)
	assert.Equal(t, "BOB", got.Get(1))
}

func TestBulkUpdateUnknownFieldFails(t *testing.T) {
	db, person, dept := newTestDB(t)
	insertDept(t, db, dept, 10, "ops")
	insertPerson(t, db, person, 1, "ann", int64(10))

	up := entity.NewUpdater(person.Schema()).Set("nmae", "zed")
	_, err := person.UpdateWhere(db.Begin(), query.All(), up)
	assert.ErrorIs(t, err, nmemory_errors.ErrUnknownField,
		"a misspelled field must fail, not no-op")

	got, err := person.GetByKey(db.Begin(), int64(1))
	require.NoError(t, err)
	assert.Equal(t, "ann", got.Get(1))
}

func TestBulkUpdateSwapsUniqueKeysWithinBatch(t *testing.T) {
	db, person, dept := newTestDB(t)
	insertDept(t, db, dept, 10, "ops")
	_, err := person.CreateIndex("by_name", true, "name")
	require.NoError(t, err)
	insertPerson(t, db, person, 1, "ann", int64(10))
	insertPerson(t, db, person, 2, "bob", int64(10))

	// swapping two unique values only works because the batch deletes every
	// affected entry before re-inserting any
	up := entity.NewUpdater(person.Schema()).SetFunc("name", func(r *entity.Record) any {
		if r.Get(1) == "ann" {
			return "bob"
		}
		return "ann"
	})
	updated, err := person.UpdateWhere(db.Begin(), query.All(), up)
	require.NoError(t, err)
	assert.Len(t, updated, 2)

	got, err := person.GetByKey(db.Begin(), int64(1))
	require.NoError(t, err)
	assert.Equal(t, "bob", got.Get(1))
}

func TestBulkUpdateValidatorFailureRollsBackWholeBatch(t *testing.T) {
	db, person, dept := newTestDB(t)
	insertDept(t, db, dept, 10, "ops")
	insertPerson(t, db, person, 1, "ann", int64(10))
	insertPerson(t, db, person, 2, "bob", int64(10))

	person.AddValidator(ValidatorFunc(func(rec *entity.Record, ctx ExecContext) error {
		if rec.Get(1) == "FORBIDDEN" {
			return nmemory_errors.ErrConstraintViolation
		}
		return nil
	}))

	up := entity.NewUpdater(person.Schema()).SetFunc("name", func(r *entity.Record) any {
		if r.Get(0) == int64(2) {
			return "FORBIDDEN"
		}
		return strings.ToUpper(r.Get(1).(string))
	})
	_, err := person.UpdateWhere(db.Begin(), query.All(), up)
	assert.ErrorIs(t, err, nmemory_errors.ErrConstraintViolation)

	// the first record's transformation was already applied when the second
	// failed; rollback must have undone it
	got, err := person.GetByKey(db.Begin(), int64(1))
	require.NoError(t, err)
	assert.Equal(t, "ann", got.Get(1))
}

func TestUpdateReferredKeyWithReferrersFails(t *testing.T) {
	db, person, dept := newTestDB(t)
	insertDept(t, db, dept, 10, "ops")
	insertDept(t, db, dept, 20, "dev")
	insertPerson(t, db, person, 1, "ann", int64(10))

	tx := db.Begin()
	next, err := dept.GetByKey(tx, int64(10))
	require.NoError(t, err)
	require.NoError(t, next.SetNamed("id", int64(99)))
	_, err = dept.Update(tx, []any{int64(10)}, next)
	assert.ErrorIs(t, err, nmemory_errors.ErrConstraintViolation,
		"breaking an existing reference must fail")

	_, err = dept.GetByKey(tx, int64(10))
	assert.NoError(t, err, "the referred key is unchanged after rollback")

	// an unreferenced department can change its key freely
	next, err = dept.GetByKey(tx, int64(20))
	require.NoError(t, err)
	require.NoError(t, next.SetNamed("id", int64(21)))
	_, err = dept.Update(tx, []any{int64(20)}, next)
	require.NoError(t, err)
	_, err = dept.GetByKey(tx, int64(21))
	assert.NoError(t, err)
}

func TestLocksReleasedOnEveryPath(t *testing.T) {
	db, person, dept := newTestDB(t)
	insertDept(t, db, dept, 10, "ops")
	insertPerson(t, db, person, 1, "ann", int64(10))

	tx := db.Begin()
	next, err := person.GetByKey(tx, int64(1))
	require.NoError(t, err)
	require.NoError(t, next.SetNamed("dept_id", int64(99)))
	_, err = person.Update(tx, []any{int64(1)}, next)
	require.Error(t, err)

	for _, table := range []string{"person", "department"} {
		ex, rd := db.Locks().Held(table, tx.ID())
		assert.Zero(t, ex, "stuck exclusive lock on %s", table)
		assert.Zero(t, rd, "stuck read lock on %s", table)
	}

	// another transaction can write immediately
	other := db.Begin()
	require.NoError(t, db.Locks().AcquireWriteLock("person", other.ID()))
	db.Locks().ReleaseWriteLock("person", other.ID())
}

func TestBulkUpdateThroughJoinReadLocksAndDedupes(t *testing.T) {
	db, person, dept := newTestDB(t)
	insertDept(t, db, dept, 10, "ops")
	insertPerson(t, db, person, 1, "ann", int64(10))
	insertPerson(t, db, person, 2, "bob", nil)

	tx := db.Begin()
	up := entity.NewUpdater(person.Schema()).Set("name", "seen")
	updated, err := person.UpdateWhere(tx,
		query.Exists(dept, "dept_id", "id"), up)
	require.NoError(t, err)
	assert.Len(t, updated, 1, "only the row whose department exists matches")
	assert.Equal(t, "seen", updated[0].Get(1))

	ex, rd := db.Locks().Held("department", tx.ID())
	assert.Zero(t, ex)
	assert.Zero(t, rd, "query-scoped read lock must be released")
}

func TestConcurrentIncrementsSerialize(t *testing.T) {
	db := NewDatabase()
	schema, err := entity.NewSchema("counter",
		entity.Field{Name: "id", Kind: entity.Int},
		entity.Field{Name: "n", Kind: entity.Int},
	)
	require.NoError(t, err)
	counters, err := db.CreateTable(schema, "id")
	require.NoError(t, err)

	rec := counters.NewRecord()
	require.NoError(t, rec.SetNamed("id", int64(1)))
	require.NoError(t, rec.SetNamed("n", int64(0)))
	require.NoError(t, counters.Insert(db.Begin(), rec))

	up := entity.NewUpdater(schema).SetFunc("n", func(r *entity.Record) any {
		return r.Get(1).(int64) + 1
	})

	const workers, rounds = 4, 25
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < rounds; i++ {
				_, err := counters.UpdateWhere(db.Begin(), query.Eq("id", int64(1)), up)
				assert.NoError(t, err)
			}
		}()
	}
	wg.Wait()

	got, err := counters.GetByKey(db.Begin(), int64(1))
	require.NoError(t, err)
	assert.Equal(t, int64(workers*rounds), got.Get(1))
}
