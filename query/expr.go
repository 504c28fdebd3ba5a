package query

import (
	"fmt"

	"github.com/JonathanMagnan/nmemory/entity"
	"github.com/JonathanMagnan/nmemory/nmemory_errors"
	"github.com/pkg/errors"
)

type evalFunc func(*entity.Record) (bool, error)

// Expr is a predicate over one table's records, possibly reading other
// tables through Exists. The set of expressions is closed: plans are built
// only from the constructors below.
type Expr interface {
	fingerprint() string
	walkSources(visit func(Source))
	bind(s *entity.Schema) (evalFunc, error)
}

type allExpr struct{}

// All matches every record.
func All() Expr { return allExpr{} }

func (allExpr) fingerprint() string      { return "all" }
func (allExpr) walkSources(func(Source)) {}
func (allExpr) bind(*entity.Schema) (evalFunc, error) {
	return func(*entity.Record) (bool, error) { return true, nil }, nil
}

type cmpOp byte

const (
	opEq cmpOp = '='
	opGt cmpOp = '>'
	opLt cmpOp = '<'
)

type cmpExpr struct {
	field string
	op    cmpOp
	value any
}

// Eq matches records whose field equals value.
func Eq(field string, value any) Expr { return cmpExpr{field: field, op: opEq, value: value} }

// Gt matches records whose field is greater than value.
func Gt(field string, value any) Expr { return cmpExpr{field: field, op: opGt, value: value} }

// Lt matches records whose field is less than value.
func Lt(field string, value any) Expr { return cmpExpr{field: field, op: opLt, value: value} }

func (e cmpExpr) fingerprint() string {
	return fmt.Sprintf("%s%c%v", e.field, e.op, e.value)
}

func (e cmpExpr) walkSources(func(Source)) {}

func (e cmpExpr) bind(s *entity.Schema) (evalFunc, error) {
	i, err := s.FieldIndex(e.field)
	if err != nil {
		return nil, err
	}
	op, value := e.op, e.value
	return func(r *entity.Record) (bool, error) {
		v := r.Get(i)
		if op == opEq {
			return entity.ValueEqual(v, value), nil
		}
		if v == nil || value == nil {
			return false, nil
		}
		less, err := lessThan(v, value)
		if err != nil {
			return false, err
		}
		if op == opLt {
			return less, nil
		}
		greater, err := lessThan(value, v)
		if err != nil {
			return false, err
		}
		return greater, nil
	}, nil
}

func lessThan(a, b any) (bool, error) {
	switch x := a.(type) {
	case int64:
		if y, ok := b.(int64); ok {
			return x < y, nil
		}
	case float64:
		if y, ok := b.(float64); ok {
			return x < y, nil
		}
	case string:
		if y, ok := b.(string); ok {
			return x < y, nil
		}
	}
	return false, errors.Wrapf(nmemory_errors.ErrPlanExecution,
		"cannot order %T against %T", a, b)
}

type andExpr struct{ sub []Expr }
type orExpr struct{ sub []Expr }
type notExpr struct{ sub Expr }

func And(sub ...Expr) Expr { return andExpr{sub: sub} }
func Or(sub ...Expr) Expr  { return orExpr{sub: sub} }
func Not(sub Expr) Expr    { return notExpr{sub: sub} }

func fingerprintList(tag string, sub []Expr) string {
	out := tag + "("
	for i, e := range sub {
		if i > 0 {
			out += ","
		}
		out += e.fingerprint()
	}
	return out + ")"
}

func (e andExpr) fingerprint() string { return fingerprintList("and", e.sub) }
func (e orExpr) fingerprint() string  { return fingerprintList("or", e.sub) }
func (e notExpr) fingerprint() string { return "not(" + e.sub.fingerprint() + ")" }

func (e andExpr) walkSources(visit func(Source)) {
	for _, s := range e.sub {
		s.walkSources(visit)
	}
}

func (e orExpr) walkSources(visit func(Source)) {
	for _, s := range e.sub {
		s.walkSources(visit)
	}
}

func (e notExpr) walkSources(visit func(Source)) { e.sub.walkSources(visit) }

func bindList(s *entity.Schema, sub []Expr) ([]evalFunc, error) {
	fns := make([]evalFunc, 0, len(sub))
	for _, e := range sub {
		fn, err := e.bind(s)
		if err != nil {
			return nil, err
		}
		fns = append(fns, fn)
	}
	return fns, nil
}

func (e andExpr) bind(s *entity.Schema) (evalFunc, error) {
	fns, err := bindList(s, e.sub)
	if err != nil {
		return nil, err
	}
	return func(r *entity.Record) (bool, error) {
		for _, fn := range fns {
			ok, err := fn(r)
			if err != nil || !ok {
				return false, err
			}
		}
		return true, nil
	}, nil
}

func (e orExpr) bind(s *entity.Schema) (evalFunc, error) {
	fns, err := bindList(s, e.sub)
	if err != nil {
		return nil, err
	}
	return func(r *entity.Record) (bool, error) {
		for _, fn := range fns {
			ok, err := fn(r)
			if err != nil {
				return false, err
			}
			if ok {
				return true, nil
			}
		}
		return false, nil
	}, nil
}

func (e notExpr) bind(s *entity.Schema) (evalFunc, error) {
	fn, err := e.sub.bind(s)
	if err != nil {
		return nil, err
	}
	return func(r *entity.Record) (bool, error) {
		ok, err := fn(r)
		return !ok, err
	}, nil
}

type existsExpr struct {
	source      Source
	localField  string
	remoteField string
}

// Exists matches records for which the other source holds at least one
// record whose remote field equals the local field's value. This is the
// join form: a plan containing Exists reads through the other table.
func Exists(source Source, localField, remoteField string) Expr {
	return existsExpr{source: source, localField: localField, remoteField: remoteField}
}

func (e existsExpr) fingerprint() string {
	return fmt.Sprintf("exists(%s,%s,%s)", e.source.Name(), e.localField, e.remoteField)
}

func (e existsExpr) walkSources(visit func(Source)) { visit(e.source) }

func (e existsExpr) bind(s *entity.Schema) (evalFunc, error) {
	local, err := s.FieldIndex(e.localField)
	if err != nil {
		return nil, err
	}
	remote, err := e.source.Schema().FieldIndex(e.remoteField)
	if err != nil {
		return nil, err
	}
	src := e.source
	return func(r *entity.Record) (bool, error) {
		return len(src.Find(remote, r.Get(local))) > 0, nil
	}, nil
}
