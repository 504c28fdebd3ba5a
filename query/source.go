// Package query holds the predicate expression tree and its compiler. The
// mutation engine consumes compiled plans; tables implement Source.
package query

import "github.com/JonathanMagnan/nmemory/entity"

// Source is the table surface a plan reads through: a full scan plus a
// field-equality lookup the table may route through one of its indexes.
// Callers hold the appropriate locks before running a plan.
type Source interface {
	Name() string
	Schema() *entity.Schema
	Scan() []*entity.Record
	Find(field int, v any) []*entity.Record
}
