package devices

// Registry holds the canonical, identifier-keyed set of known devices in the
// order the last accepted snapshot delivered them.
//
// Registry is not safe for concurrent use; the owning session serializes
// access.
type Registry struct {
	order []string
	byID  map[string]Device
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{byID: make(map[string]Device)}
}

// ApplySnapshot replaces the whole device set. Entries without an identifier
// are ignored and duplicate identifiers collapse onto their first position
// with the last value winning.
func (r *Registry) ApplySnapshot(devices []Device) {
	order := make([]string, 0, len(devices))
	byID := make(map[string]Device, len(devices))
	for _, device := range devices {
		if device.ID == "" {
			continue
		}
		if _, seen := byID[device.ID]; !seen {
			order = append(order, device.ID)
		}
		byID[device.ID] = device
	}
	r.order = order
	r.byID = byID
}

// ApplyMutationResult merges a confirmed device update. Unknown devices are
// appended because the server is authoritative.
func (r *Registry) ApplyMutationResult(update Device) {
	if update.ID == "" {
		return
	}
	current, ok := r.byID[update.ID]
	if !ok {
		r.order = append(r.order, update.ID)
		r.byID[update.ID] = update
		return
	}
	if update.Name != "" {
		current.Name = update.Name
	}
	if update.Status != "" {
		current.Status = update.Status
	}
	current.IsActive = update.IsActive
	r.byID[update.ID] = current
}

// Lookup returns the device registered under id.
func (r *Registry) Lookup(id string) (Device, bool) {
	device, ok := r.byID[id]
	return device, ok
}

// Devices returns a copy of the registered devices in canonical order.
func (r *Registry) Devices() []Device {
	result := make([]Device, 0, len(r.order))
	for _, id := range r.order {
		result = append(result, r.byID[id])
	}
	return result
}

// Len returns the number of registered devices.
func (r *Registry) Len() int {
	return len(r.order)
}
