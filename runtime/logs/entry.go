package logs

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/timzifer/hemlarm/runtime/devices"
)

// TimestampLayout is the minute-granularity format used by the log API.
const TimestampLayout = "2006-01-02 15:04"

// ErrUnsupportedShape is returned when a log payload is neither a list nor a
// keyed mapping of entries.
var ErrUnsupportedShape = errors.New("unsupported log payload shape")

// Entry is a single activity log line.
type Entry struct {
	Timestamp   string `json:"timestamp"`
	DeviceID    string `json:"device_id"`
	Message     string `json:"message"`
	Provisional bool   `json:"provisional,omitempty"`
}

// UnmarshalJSON accepts numeric as well as string device references.
func (e *Entry) UnmarshalJSON(data []byte) error {
	var wire struct {
		Timestamp string          `json:"timestamp"`
		DeviceID  json.RawMessage `json:"device_id"`
		Message   string          `json:"message"`
	}
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	id, err := devices.DecodeIdentifier(wire.DeviceID)
	if err != nil {
		return fmt.Errorf("log device_id: %w", err)
	}
	*e = Entry{Timestamp: wire.Timestamp, DeviceID: id, Message: wire.Message}
	return nil
}

// NewEntry builds a locally synthesized entry stamped with the minute of ts.
func NewEntry(ts time.Time, deviceID, message string) Entry {
	return Entry{
		Timestamp: ts.Truncate(time.Minute).Format(TimestampLayout),
		DeviceID:  deviceID,
		Message:   message,
	}
}

// AlarmMessage renders the message recorded when a device alarm changes state.
func AlarmMessage(name string, active bool) string {
	if active {
		return name + " alarm activated"
	}
	return name + " alarm deactivated"
}

// NormalizePage decodes one page of log entries. Lists keep server order;
// keyed mappings are ordered newest-first by timestamp. Null and empty bodies
// yield an empty page.
func NormalizePage(raw []byte) ([]Entry, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return []Entry{}, nil
	}
	switch trimmed[0] {
	case '[':
		var list []Entry
		if err := json.Unmarshal(trimmed, &list); err != nil {
			return []Entry{}, fmt.Errorf("%w: %v", ErrUnsupportedShape, err)
		}
		if list == nil {
			list = []Entry{}
		}
		return list, nil
	case '{':
		var keyed map[string]*Entry
		if err := json.Unmarshal(trimmed, &keyed); err != nil {
			return []Entry{}, fmt.Errorf("%w: %v", ErrUnsupportedShape, err)
		}
		keys := make([]string, 0, len(keyed))
		for key, entry := range keyed {
			if entry != nil {
				keys = append(keys, key)
			}
		}
		sort.Slice(keys, func(i, j int) bool {
			a, b := keyed[keys[i]], keyed[keys[j]]
			if a.Timestamp != b.Timestamp {
				return a.Timestamp > b.Timestamp
			}
			return keys[i] < keys[j]
		})
		result := make([]Entry, 0, len(keys))
		for _, key := range keys {
			result = append(result, *keyed[key])
		}
		return result, nil
	default:
		return []Entry{}, fmt.Errorf("%w: unexpected %q", ErrUnsupportedShape, trimmed[0])
	}
}
