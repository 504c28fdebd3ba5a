package nmemory

import (
	"github.com/JonathanMagnan/nmemory/entity"
	"github.com/JonathanMagnan/nmemory/indexes"
	"github.com/JonathanMagnan/nmemory/nmemory_errors"
	"github.com/JonathanMagnan/nmemory/query"
	"github.com/pkg/errors"
)

// Table owns its stored records exclusively: nothing it holds is reachable
// from outside, every value crossing the boundary is copied. All mutation of
// rows and indexes happens under the table's write lock.
type Table struct {
	db     *Database
	schema *entity.Schema

	primary indexes.Index
	indexes []indexes.Index
	rows    map[*entity.Record]struct{}

	referring []*Relation // this table refers out
	referred  []*Relation // other tables refer in

	validators []Validator

	nextIdentity int64
}

func newTable(db *Database, schema *entity.Schema, primaryFields []int) *Table {
	primary := indexes.NewHashIndex(schema.Name(), "primary", true, primaryFields)
	return &Table{
		db:      db,
		schema:  schema,
		primary: primary,
		indexes: []indexes.Index{primary},
		rows:    make(map[*entity.Record]struct{}),
	}
}

func (t *Table) Name() string           { return t.schema.Name() }
func (t *Table) Schema() *entity.Schema { return t.schema }
func (t *Table) Primary() indexes.Index { return t.primary }
func (t *Table) Count() int             { return len(t.rows) }

// NewRecord returns a blank caller-side record of this table's shape.
func (t *Table) NewRecord() *entity.Record { return t.schema.NewRecord() }

// CreateIndex adds a secondary index and backfills the existing rows. A
// unique violation during backfill aborts cleanly, leaving no trace of the
// new index.
func (t *Table) CreateIndex(name string, unique bool, fields ...string) (indexes.Index, error) {
	ndxs, err := t.schema.FieldIndexes(fields...)
	if err != nil {
		return nil, err
	}
	ix := indexes.NewHashIndex(t.Name(), name, unique, ndxs)
	for rec := range t.rows {
		if err := ix.Insert(rec); err != nil {
			return nil, err
		}
	}
	t.indexes = append(t.indexes, ix)
	return ix, nil
}

// AddValidator attaches a table-level constraint; it runs against every new
// logical record before it is stored.
func (t *Table) AddValidator(v Validator) {
	t.validators = append(t.validators, v)
}

func (t *Table) indexOver(fields []int) indexes.Index {
	for _, ix := range t.indexes {
		if equalFields(ix.KeyFields(), fields) {
			return ix
		}
	}
	return nil
}

func (t *Table) uniqueIndexOver(fields []int) indexes.Index {
	ix := t.indexOver(fields)
	if ix != nil && ix.Unique() {
		return ix
	}
	return nil
}

func equalFields(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// Scan returns the stored records. Part of the query.Source contract; the
// caller holds the appropriate lock.
func (t *Table) Scan() []*entity.Record {
	out := make([]*entity.Record, 0, len(t.rows))
	for rec := range t.rows {
		out = append(out, rec)
	}
	return out
}

// Find returns the stored records whose field equals v, through a matching
// index when one exists.
func (t *Table) Find(field int, v any) []*entity.Record {
	for _, ix := range t.indexes {
		kf := ix.KeyFields()
		if len(kf) == 1 && kf[0] == field {
			return ix.Search([]any{v})
		}
	}
	var out []*entity.Record
	for rec := range t.rows {
		if entity.ValueEqual(rec.Get(field), v) {
			out = append(out, rec)
		}
	}
	return out
}

var _ query.Source = (*Table)(nil)

// Select runs a read-only query and returns value copies of the matches.
// The table and every other table the plan touches are read-locked for the
// duration of execution.
func (t *Table) Select(tx *Tx, where query.Expr) ([]*entity.Record, error) {
	lc := t.db.locks
	if err := lc.AcquireReadLock(t.Name(), tx.id); err != nil {
		return nil, err
	}
	defer lc.ReleaseReadLock(t.Name(), tx.id)

	ctx := ExecContext{DB: t.db, Tx: tx, Op: OpQuery}
	matches, err := t.queryLocked(ctx, where)
	if err != nil {
		return nil, err
	}
	out := make([]*entity.Record, 0, len(matches))
	for _, rec := range matches {
		out = append(out, rec.Clone())
	}
	return out, nil
}

// GetByKey returns a value copy of the row under the primary key.
func (t *Table) GetByKey(tx *Tx, key ...any) (*entity.Record, error) {
	lc := t.db.locks
	if err := lc.AcquireReadLock(t.Name(), tx.id); err != nil {
		return nil, err
	}
	defer lc.ReleaseReadLock(t.Name(), tx.id)
	stored, ok := t.primary.GetUnique(key)
	if !ok {
		return nil, notFound(t, key)
	}
	return stored.Clone(), nil
}

func notFound(t *Table, key []any) error {
	return errors.Wrapf(nmemory_errors.ErrNotFound, "%s primary key %v", t.Name(), key)
}
