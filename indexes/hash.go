package indexes

import (
	"errors"
	"fmt"

	"github.com/JonathanMagnan/nmemory/entity"
	"github.com/JonathanMagnan/nmemory/nmemory_errors"
	"github.com/cespare/xxhash"
)

type hashEntry struct {
	key []byte
	rec *entity.Record
}

// HashIndex buckets records by the xxhash of their encoded key values.
// Entries keep the encoded key so colliding hashes stay distinguishable.
type HashIndex struct {
	name    string
	table   string
	fields  []int
	unique  bool
	buckets map[uint64][]hashEntry
	size    int
}

func NewHashIndex(table, name string, unique bool, fields []int) *HashIndex {
	return &HashIndex{
		name:    name,
		table:   table,
		fields:  fields,
		unique:  unique,
		buckets: make(map[uint64][]hashEntry),
	}
}

func (ix *HashIndex) Name() string     { return ix.name }
func (ix *HashIndex) KeyFields() []int { return ix.fields }
func (ix *HashIndex) Unique() bool     { return ix.unique }
func (ix *HashIndex) Len() int         { return ix.size }

func (ix *HashIndex) keyOf(rec *entity.Record) ([]byte, uint64) {
	key := encodeKey(rec.Values(ix.fields))
	return key, xxhash.Sum64(key)
}

func (ix *HashIndex) Insert(rec *entity.Record) error {
	key, hash := ix.keyOf(rec)
	if ix.unique {
		for _, e := range ix.buckets[hash] {
			if string(e.key) == string(key) {
				return errors.Join(nmemory_errors.ErrConstraintViolation,
					fmt.Errorf("duplicate key %v in unique index %s.%s",
						rec.Values(ix.fields), ix.table, ix.name))
			}
		}
	}
	ix.buckets[hash] = append(ix.buckets[hash], hashEntry{key: key, rec: rec})
	ix.size++
	IndexOps.WithLabelValues(ix.table, ix.name, "insert").Inc()
	return nil
}

func (ix *HashIndex) Restore(rec *entity.Record) {
	key, hash := ix.keyOf(rec)
	ix.buckets[hash] = append(ix.buckets[hash], hashEntry{key: key, rec: rec})
	ix.size++
	IndexOps.WithLabelValues(ix.table, ix.name, "restore").Inc()
}

func (ix *HashIndex) Delete(rec *entity.Record) error {
	_, hash := ix.keyOf(rec)
	bucket := ix.buckets[hash]
	for i, e := range bucket {
		if e.rec == rec {
			bucket[i] = bucket[len(bucket)-1]
			bucket = bucket[:len(bucket)-1]
			if len(bucket) == 0 {
				delete(ix.buckets, hash)
			} else {
				ix.buckets[hash] = bucket
			}
			ix.size--
			IndexOps.WithLabelValues(ix.table, ix.name, "delete").Inc()
			return nil
		}
	}
	return fmt.Errorf("%w: index %s.%s", nmemory_errors.ErrNotFound, ix.table, ix.name)
}

func (ix *HashIndex) Search(key []any) []*entity.Record {
	enc := encodeKey(key)
	hash := xxhash.Sum64(enc)
	var out []*entity.Record
	for _, e := range ix.buckets[hash] {
		if string(e.key) == string(enc) {
			out = append(out, e.rec)
		}
	}
	return out
}

func (ix *HashIndex) GetUnique(key []any) (*entity.Record, bool) {
	if KeyHasNil(key) {
		return nil, false
	}
	found := ix.Search(key)
	if len(found) == 0 {
		return nil, false
	}
	return found[0], true
}
