package devices

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
)

// ErrUnsupportedShape is returned when a payload is neither a device list nor
// an identifier-keyed mapping.
var ErrUnsupportedShape = errors.New("unsupported device payload shape")

// Normalize converts a raw device payload into the canonical ordered sequence.
//
// A JSON array is decoded as-is and keeps its order. A JSON object is treated
// as a mapping from identifier to device detail; the key becomes the device id
// and entries are ordered by key, integer keys numerically and ahead of the
// rest. Null and empty bodies describe an empty
// registry. Every other shape yields an empty sequence together with an error
// wrapping ErrUnsupportedShape.
func Normalize(raw []byte) ([]Device, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return []Device{}, nil
	}
	switch trimmed[0] {
	case '[':
		var list []Device
		if err := json.Unmarshal(trimmed, &list); err != nil {
			return []Device{}, fmt.Errorf("%w: decode device list: %v", ErrUnsupportedShape, err)
		}
		if list == nil {
			list = []Device{}
		}
		return list, nil
	case '{':
		return normalizeKeyed(trimmed)
	default:
		return []Device{}, fmt.Errorf("%w: unexpected %q", ErrUnsupportedShape, trimmed[0])
	}
}

func normalizeKeyed(raw []byte) ([]Device, error) {
	var keyed map[string]json.RawMessage
	if err := json.Unmarshal(raw, &keyed); err != nil {
		return []Device{}, fmt.Errorf("%w: decode device mapping: %v", ErrUnsupportedShape, err)
	}
	keys := make([]string, 0, len(keyed))
	for key := range keyed {
		keys = append(keys, key)
	}
	sortKeys(keys)

	result := make([]Device, 0, len(keys))
	for _, key := range keys {
		value := bytes.TrimSpace(keyed[key])
		if bytes.Equal(value, []byte("null")) {
			continue
		}
		if len(value) == 0 || value[0] != '{' {
			return []Device{}, fmt.Errorf("%w: entry %q is not an object", ErrUnsupportedShape, key)
		}
		var device Device
		if err := json.Unmarshal(value, &device); err != nil {
			return []Device{}, fmt.Errorf("%w: entry %q: %v", ErrUnsupportedShape, key, err)
		}
		device.ID = key
		result = append(result, device)
	}
	return result, nil
}

// sortKeys orders canonical integer keys by value first, then the remaining
// keys lexicographically.
func sortKeys(keys []string) {
	sort.Slice(keys, func(i, j int) bool {
		a, aInt := integerKey(keys[i])
		b, bInt := integerKey(keys[j])
		switch {
		case aInt && bInt:
			return a < b
		case aInt != bInt:
			return aInt
		default:
			return keys[i] < keys[j]
		}
	})
}

// integerKey accepts decimal keys without sign or leading zeros.
func integerKey(key string) (uint64, bool) {
	value, err := strconv.ParseUint(key, 10, 32)
	if err != nil || value == 1<<32-1 || strconv.FormatUint(value, 10) != key {
		return 0, false
	}
	return value, true
}

// DecodeMutationResult decodes the single device returned by a toggle request.
func DecodeMutationResult(raw []byte) (Device, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return Device{}, fmt.Errorf("%w: toggle response is not an object", ErrUnsupportedShape)
	}
	var device Device
	if err := json.Unmarshal(trimmed, &device); err != nil {
		return Device{}, fmt.Errorf("%w: %v", ErrUnsupportedShape, err)
	}
	return device, nil
}
