package nmemory

import "github.com/JonathanMagnan/nmemory/entity"

// OpKind tags the operation an execution context was built for.
type OpKind byte

const (
	OpInsert OpKind = iota
	OpUpdate
	OpDelete
	OpQuery
)

func (k OpKind) String() string {
	switch k {
	case OpInsert:
		return "insert"
	case OpUpdate:
		return "update"
	case OpDelete:
		return "delete"
	case OpQuery:
		return "query"
	}
	return "unknown"
}

// ExecContext travels through the executor and validators: the database, the
// transaction, and the operation kind. It carries no mutable state.
type ExecContext struct {
	DB *Database
	Tx *Tx
	Op OpKind
}

// Validator is the table-level constraint contract. Apply fails with a
// constraint violation when the record breaks the rule.
type Validator interface {
	Apply(rec *entity.Record, ctx ExecContext) error
}

type ValidatorFunc func(rec *entity.Record, ctx ExecContext) error

func (f ValidatorFunc) Apply(rec *entity.Record, ctx ExecContext) error { return f(rec, ctx) }
