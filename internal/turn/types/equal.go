package types

import (
	"bytes"
	"encoding/json"
)

// jsonEqual reports whether two JSON byte slices represent the same
// value, independent of key order or whitespace. Invalid JSON falls back
// to a byte comparison.
func jsonEqual(a, b RawArgs) bool {
	if bytes.Equal(a, b) {
		return true
	}
	var av, bv any
	if err := json.Unmarshal(a, &av); err != nil {
		return false
	}
	if err := json.Unmarshal(b, &bv); err != nil {
		return false
	}
	an, err := json.Marshal(av)
	if err != nil {
		return false
	}
	bn, err := json.Marshal(bv)
	if err != nil {
		return false
	}
	return bytes.Equal(an, bn)
}
