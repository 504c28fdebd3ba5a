package indexes

import (
	"encoding/binary"
	"math"

	"github.com/JonathanMagnan/nmemory/entity"
)

// Key values are encoded into a type-tagged byte string so that equal value
// tuples, and only those, produce equal encodings. The encoding is compared
// verbatim inside a bucket, so hash collisions are harmless.
func encodeKey(vals []any) []byte {
	key := make([]byte, 0, 16*len(vals))
	for _, v := range vals {
		switch t := v.(type) {
		case nil:
			key = append(key, '0')
		case int64:
			key = append(key, byte(entity.Int))
			key = binary.BigEndian.AppendUint64(key, uint64(t))
		case float64:
			key = append(key, byte(entity.Float))
			key = binary.BigEndian.AppendUint64(key, math.Float64bits(t))
		case string:
			key = append(key, byte(entity.String))
			key = binary.BigEndian.AppendUint32(key, uint32(len(t)))
			key = append(key, t...)
		case bool:
			key = append(key, byte(entity.Bool))
			if t {
				key = append(key, 1)
			} else {
				key = append(key, 0)
			}
		default:
			// unreachable for schema-checked records
			key = append(key, '?')
		}
	}
	return key
}

// KeyHasNil reports whether any key member is NULL. Unique lookups and
// foreign-key checks skip NULL keys.
func KeyHasNil(vals []any) bool {
	for _, v := range vals {
		if v == nil {
			return true
		}
	}
	return false
}
