package entity

import (
	"fmt"
	"strings"

	"github.com/JonathanMagnan/nmemory/nmemory_errors"
	"github.com/pkg/errors"
)

// Record is one table-owned entity: a value slice laid out by its schema.
// Records never cross the table boundary by reference, only via CopyFrom
// and Clone, so table state stays unreachable from callers.
type Record struct {
	schema *Schema
	values []any
}

func (r *Record) Schema() *Schema { return r.schema }

func (r *Record) Get(i int) any { return r.values[i] }

func (r *Record) GetNamed(name string) (any, error) {
	i, err := r.schema.FieldIndex(name)
	if err != nil {
		return nil, err
	}
	return r.values[i], nil
}

func (r *Record) Set(i int, v any) error {
	if err := r.schema.CheckValue(i, v); err != nil {
		return err
	}
	r.values[i] = v
	return nil
}

func (r *Record) SetNamed(name string, v any) error {
	i, err := r.schema.FieldIndex(name)
	if err != nil {
		return err
	}
	return r.Set(i, v)
}

// CopyFrom copies every field value of src into r. Both records must share
// the schema. Values are scalars, so a value copy severs all aliasing.
func (r *Record) CopyFrom(src *Record) error {
	if src == nil || r.schema != src.schema {
		return errors.Wrap(nmemory_errors.ErrSchemaMismatch, r.schema.String())
	}
	copy(r.values, src.values)
	return nil
}

// Clone returns a detached value copy of r.
func (r *Record) Clone() *Record {
	dup := r.schema.NewRecord()
	copy(dup.values, r.values)
	return dup
}

// Values returns the key values of r at the given field positions.
func (r *Record) Values(fields []int) []any {
	vals := make([]any, len(fields))
	for i, f := range fields {
		vals[i] = r.values[f]
	}
	return vals
}

// Validate checks every field value against the schema.
func (r *Record) Validate() error {
	for i := range r.values {
		if err := r.schema.CheckValue(i, r.values[i]); err != nil {
			return err
		}
	}
	return nil
}

func (r *Record) String() string {
	var b strings.Builder
	b.WriteByte('{')
	for i, f := range r.schema.fields {
		if i > 0 {
			b.WriteString(", ")
		}
		fmt.Fprintf(&b, "%s:%v", f.Name, r.values[i])
	}
	b.WriteByte('}')
	return b.String()
}

// ValueEqual compares two field values. Values are restricted to the
// comparable scalar kinds, nil included.
func ValueEqual(a, b any) bool {
	return a == b
}
