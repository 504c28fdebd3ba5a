package indexes

import (
	"github.com/JonathanMagnan/nmemory/entity"
	"github.com/prometheus/client_golang/prometheus"
)

var IndexOps = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: "nmemory",
	Subsystem: "indexes",
	Name:      "ops",
}, []string{"table", "index", "op"})

// Index maps a key derived from an ordered field set to stored records.
// Implementations are not internally synchronized; the owning table's write
// lock guards every mutation.
type Index interface {
	Name() string
	KeyFields() []int
	Unique() bool
	// Insert adds rec under its current key values. A unique index reports
	// a constraint violation for a duplicate key.
	Insert(rec *entity.Record) error
	// Restore re-adds rec without the unique check. Rollback path only: the
	// undo log replays a state that already held.
	Restore(rec *entity.Record)
	// Delete removes the entry for rec (matched by identity).
	Delete(rec *entity.Record) error
	// Search returns every record stored under the given key values.
	Search(key []any) []*entity.Record
	// GetUnique returns the single record under the key of a unique index.
	GetUnique(key []any) (*entity.Record, bool)
	Len() int
}

// Touches reports whether the index key is built from at least one of the
// given field positions. This is the affected-index test.
func Touches(ix Index, fields []int) bool {
	for _, k := range ix.KeyFields() {
		for _, f := range fields {
			if k == f {
				return true
			}
		}
	}
	return false
}
