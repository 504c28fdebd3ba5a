package entity

import (
	"fmt"
	"unicode/utf8"

	"github.com/JonathanMagnan/nmemory/nmemory_errors"
	"github.com/pkg/errors"
)

type Kind byte

const (
	Int    Kind = 'I'
	Float  Kind = 'F'
	String Kind = 'S'
	Bool   Kind = 'B'
)

func (k Kind) Valid() bool {
	switch k {
	case Int, Float, String, Bool:
		return true
	}
	return false
}

type Field struct {
	Name     string
	Kind     Kind
	Nullable bool
	Identity bool
}

func (f Field) Valid() bool {
	return len(f.Name) > 0 && utf8.ValidString(f.Name) && f.Kind.Valid() &&
		(!f.Identity || f.Kind == Int)
}

var ErrBadFieldDescription = errors.New("bad field description")

// Schema is the fixed shape of one table's records: an ordered field list
// plus at most one Int identity field.
type Schema struct {
	name     string
	fields   []Field
	byName   map[string]int
	identity int
}

func NewSchema(name string, fields ...Field) (*Schema, error) {
	if len(name) == 0 || len(fields) == 0 {
		return nil, ErrBadFieldDescription
	}
	s := &Schema{
		name:     name,
		fields:   fields,
		byName:   make(map[string]int, len(fields)),
		identity: -1,
	}
	for i, f := range fields {
		if !f.Valid() {
			return nil, errors.Wrap(ErrBadFieldDescription, f.Name)
		}
		if _, dup := s.byName[f.Name]; dup {
			return nil, errors.Wrapf(ErrBadFieldDescription, "duplicate field %s", f.Name)
		}
		if f.Identity {
			if s.identity != -1 {
				return nil, errors.Wrap(ErrBadFieldDescription, "second identity field")
			}
			s.identity = i
		}
		s.byName[f.Name] = i
	}
	return s, nil
}

func (s *Schema) Name() string       { return s.name }
func (s *Schema) Len() int           { return len(s.fields) }
func (s *Schema) Field(i int) Field  { return s.fields[i] }
func (s *Schema) IdentityField() int { return s.identity }

func (s *Schema) FieldIndex(name string) (int, error) {
	i, ok := s.byName[name]
	if !ok {
		return -1, errors.Wrapf(nmemory_errors.ErrUnknownField, "%s.%s", s.name, name)
	}
	return i, nil
}

// FieldIndexes resolves a list of field names, preserving order.
func (s *Schema) FieldIndexes(names ...string) ([]int, error) {
	ndxs := make([]int, 0, len(names))
	for _, name := range names {
		i, err := s.FieldIndex(name)
		if err != nil {
			return nil, err
		}
		ndxs = append(ndxs, i)
	}
	return ndxs, nil
}

// NewRecord is the canonical factory for blank records of this shape.
func (s *Schema) NewRecord() *Record {
	return &Record{schema: s, values: make([]any, len(s.fields))}
}

// CheckValue verifies one value against the field at position i.
func (s *Schema) CheckValue(i int, v any) error {
	f := s.fields[i]
	if v == nil {
		if f.Nullable {
			return nil
		}
		return errors.Wrapf(nmemory_errors.ErrConstraintViolation,
			"field %s.%s is not nullable", s.name, f.Name)
	}
	ok := false
	switch f.Kind {
	case Int:
		_, ok = v.(int64)
	case Float:
		_, ok = v.(float64)
	case String:
		_, ok = v.(string)
	case Bool:
		_, ok = v.(bool)
	}
	if !ok {
		return errors.Wrapf(nmemory_errors.ErrConstraintViolation,
			"field %s.%s expects kind %c, got %T", s.name, f.Name, f.Kind, v)
	}
	return nil
}

func (s *Schema) String() string {
	return fmt.Sprintf("%s(%d fields)", s.name, len(s.fields))
}
