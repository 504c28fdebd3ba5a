package entity

import (
	"github.com/JonathanMagnan/nmemory/nmemory_errors"
	"github.com/pkg/errors"
)

// Changed is the change detector: a structural diff of two records of the
// same shape, returning the positions of every field whose values differ.
func Changed(a, b *Record) ([]int, error) {
	if a == nil || b == nil || a.schema != b.schema {
		return nil, errors.Wrap(nmemory_errors.ErrSchemaMismatch, "change detection")
	}
	var changed []int
	for i := range a.values {
		if !ValueEqual(a.values[i], b.values[i]) {
			changed = append(changed, i)
		}
	}
	return changed, nil
}
