package nmemory

import (
	"errors"
	"fmt"

	"github.com/JonathanMagnan/nmemory/entity"
	"github.com/JonathanMagnan/nmemory/indexes"
	"github.com/JonathanMagnan/nmemory/nmemory_errors"
)

// Relation is a directed foreign-key edge: the referring table holds key
// values that must match a row of the referred table's unique key. Both ends
// are backed by an index so validation and reverse lookup never scan.
type Relation struct {
	name string

	referring       *Table
	referringFields []int
	referringIndex  indexes.Index

	referred       *Table
	referredFields []int
	referredIndex  indexes.Index
}

func (r *Relation) Name() string                  { return r.name }
func (r *Relation) Referring() *Table             { return r.referring }
func (r *Relation) Referred() *Table              { return r.referred }
func (r *Relation) ReferringIndex() indexes.Index { return r.referringIndex }

// ValidateEntity checks one referring-side record: its foreign-key values
// must match an existing referred-side row. An all-or-partially-NULL key is
// not a reference and passes.
func (r *Relation) ValidateEntity(rec *entity.Record) error {
	key := rec.Values(r.referringFields)
	if indexes.KeyHasNil(key) {
		return nil
	}
	if _, ok := r.referredIndex.GetUnique(key); !ok {
		return errors.Join(nmemory_errors.ErrConstraintViolation,
			fmt.Errorf("relation %s: no %s row with key %v",
				r.name, r.referred.Name(), key))
	}
	return nil
}

// ReferringEntities returns the referring-side records currently pointing at
// rec, a referred-side record. Lookups go through the referring index with
// rec's present key values, which is why callers snapshot before mutating.
func (r *Relation) ReferringEntities(rec *entity.Record) []*entity.Record {
	key := rec.Values(r.referredFields)
	if indexes.KeyHasNil(key) {
		return nil
	}
	return r.referringIndex.Search(key)
}

func restrictViolation(rel *Relation, rec *entity.Record, refs int) error {
	return errors.Join(nmemory_errors.ErrConstraintViolation,
		fmt.Errorf("relation %s: %d %s row(s) still reference %v",
			rel.name, refs, rel.referring.Name(), rec.Values(rel.referredFields)))
}

// RelationGroup partitions the relations touching an index set into the two
// directions: Referring (this table points out through an affected key) and
// Referred (other tables point in at an affected key).
type RelationGroup struct {
	Referring []*Relation
	Referred  []*Relation
}

func containsIndex(set []indexes.Index, ix indexes.Index) bool {
	for _, s := range set {
		if s == ix {
			return true
		}
	}
	return false
}

// relationsFor discovers every relation whose key index is in the affected
// set, partitioned by direction relative to t.
func (t *Table) relationsFor(affected []indexes.Index) RelationGroup {
	var g RelationGroup
	for _, rel := range t.referring {
		if containsIndex(affected, rel.referringIndex) {
			g.Referring = append(g.Referring, rel)
		}
	}
	for _, rel := range t.referred {
		if containsIndex(affected, rel.referredIndex) {
			g.Referred = append(g.Referred, rel)
		}
	}
	return g
}

// relatedTables lists the distinct other tables reachable through the group,
// in discovery order, excluding t itself.
func (t *Table) relatedTables(g RelationGroup) []string {
	seen := map[string]struct{}{t.Name(): {}}
	var out []string
	add := func(name string) {
		if _, dup := seen[name]; !dup {
			seen[name] = struct{}{}
			out = append(out, name)
		}
	}
	for _, rel := range g.Referring {
		add(rel.referred.Name())
	}
	for _, rel := range g.Referred {
		add(rel.referring.Name())
	}
	return out
}
