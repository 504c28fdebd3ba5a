package entity

import (
	"sync"

	"github.com/JonathanMagnan/nmemory/nmemory_errors"
	"github.com/pkg/errors"
)

// FieldExpr is one per-field clause of an Updater: either the field is kept
// as-is (read off the original record), set to a constant, or computed from
// the original record.
type FieldExpr interface {
	isFieldExpr()
}

type keepExpr struct{}

type constExpr struct{ v any }

type computeExpr struct{ fn func(*Record) any }

func (keepExpr) isFieldExpr()    {}
func (constExpr) isFieldExpr()   {}
func (computeExpr) isFieldExpr() {}

// Updater is an entity-shaped transformation. Fields without a clause are
// Keep. The possibly-changed field set is derived once, structurally: any
// field whose clause is not Keep counts as a possible change, whatever values
// the clause produces at run time. A field assigned to itself through Keep is
// never a change; a Compute clause that happens to return the old value still
// is. Over- and under-approximation relative to a value diff is accepted.
type Updater struct {
	schema *Schema
	exprs  []FieldExpr
	err    error

	once    sync.Once
	changed []int
}

func NewUpdater(s *Schema) *Updater {
	return &Updater{schema: s, exprs: make([]FieldExpr, s.Len())}
}

func (u *Updater) Schema() *Schema { return u.schema }

// Err returns the first field-resolution failure recorded by the builders.
// A non-nil Err makes Apply fail, so a misspelled field name can never turn
// an update into a silent no-op.
func (u *Updater) Err() error { return u.err }

func (u *Updater) fail(err error) {
	if u.err == nil {
		u.err = err
	}
}

func (u *Updater) Set(field string, v any) *Updater {
	i, err := u.schema.FieldIndex(field)
	if err != nil {
		u.fail(err)
		return u
	}
	u.exprs[i] = constExpr{v: v}
	return u
}

func (u *Updater) SetFunc(field string, fn func(*Record) any) *Updater {
	i, err := u.schema.FieldIndex(field)
	if err != nil {
		u.fail(err)
		return u
	}
	u.exprs[i] = computeExpr{fn: fn}
	return u
}

// Keep marks a field explicitly unchanged, overriding an earlier clause.
func (u *Updater) Keep(field string) *Updater {
	i, err := u.schema.FieldIndex(field)
	if err != nil {
		u.fail(err)
		return u
	}
	u.exprs[i] = nil
	return u
}

// PossiblyChanged is the static transformation analysis: the positions of
// every field this updater can possibly assign. Computed once and cached.
func (u *Updater) PossiblyChanged() []int {
	u.once.Do(func() {
		for i, e := range u.exprs {
			switch e.(type) {
			case nil, keepExpr:
			default:
				u.changed = append(u.changed, i)
			}
		}
	})
	return u.changed
}

// Apply runs the transformation against src and returns the new logical
// record. src is not modified.
func (u *Updater) Apply(src *Record) (*Record, error) {
	if u.err != nil {
		return nil, u.err
	}
	if src.schema != u.schema {
		return nil, errors.Wrap(nmemory_errors.ErrSchemaMismatch, "updater")
	}
	out := src.Clone()
	for i, e := range u.exprs {
		switch x := e.(type) {
		case nil, keepExpr:
		case constExpr:
			if err := out.Set(i, x.v); err != nil {
				return nil, err
			}
		case computeExpr:
			if err := out.Set(i, x.fn(src)); err != nil {
				return nil, err
			}
		}
	}
	return out, nil
}

// MinimalUpdater builds the single-key minimal updater: for each field that
// actually differs between stored and next (per the change detector) the
// field is taken from next, all others stay Keep.
func MinimalUpdater(stored, next *Record) (*Updater, error) {
	changed, err := Changed(stored, next)
	if err != nil {
		return nil, err
	}
	u := NewUpdater(stored.schema)
	for _, i := range changed {
		u.exprs[i] = constExpr{v: next.values[i]}
	}
	return u, nil
}
