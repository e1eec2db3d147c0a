package devices

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Status describes the connectivity reported for a device.
type Status string

const (
	// StatusOnline marks a device that is currently reachable.
	StatusOnline Status = "online"
	// StatusOffline marks a device that stopped reporting.
	StatusOffline Status = "offline"
)

// Device is the canonical local representation of an alarm device.
type Device struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	IsActive bool   `json:"isActive"`
	Status   Status `json:"status,omitempty"`
}

// UnmarshalJSON accepts numeric as well as string identifiers.
func (d *Device) UnmarshalJSON(data []byte) error {
	var wire struct {
		ID       json.RawMessage `json:"id"`
		Name     string          `json:"name"`
		IsActive bool            `json:"isActive"`
		Status   Status          `json:"status"`
	}
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	id, err := DecodeIdentifier(wire.ID)
	if err != nil {
		return fmt.Errorf("device id: %w", err)
	}
	*d = Device{ID: id, Name: wire.Name, IsActive: wire.IsActive, Status: wire.Status}
	return nil
}

// DecodeIdentifier turns a raw JSON identifier into its string form. Strings
// are taken verbatim, numbers keep their textual representation and a missing
// or null identifier yields the empty string.
func DecodeIdentifier(raw json.RawMessage) (string, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return "", nil
	}
	if trimmed[0] == '"' {
		var id string
		if err := json.Unmarshal(trimmed, &id); err != nil {
			return "", err
		}
		return id, nil
	}
	var number json.Number
	if err := json.Unmarshal(trimmed, &number); err != nil {
		return "", fmt.Errorf("unsupported identifier %s", trimmed)
	}
	return number.String(), nil
}
