package service

import (
	"github.com/timzifer/hemlarm/runtime/devices"
)

// DeviceView is a registry device as presented to views.
type DeviceView struct {
	ID       string         `json:"id"`
	Name     string         `json:"name"`
	IsActive bool           `json:"isActive"`
	Status   devices.Status `json:"status,omitempty"`
	Pending  bool           `json:"pending"`
}

// LogView is a log entry with its device reference resolved to a label.
type LogView struct {
	Timestamp   string `json:"timestamp"`
	DeviceID    string `json:"device_id"`
	DeviceLabel string `json:"device_label"`
	Message     string `json:"message"`
	Provisional bool   `json:"provisional,omitempty"`
}

// LogPage is the displayed log window.
type LogPage struct {
	Page       int       `json:"page"`
	PageSize   int       `json:"page_size"`
	LoadedPage int       `json:"loaded_page"`
	Entries    []LogView `json:"entries"`
}

// Snapshot is a consistent view of the session state.
type Snapshot struct {
	Devices       []DeviceView       `json:"devices"`
	HiddenDevices int                `json:"hidden_devices"`
	Logs          LogPage            `json:"logs"`
	Scheduler     SchedulerStatus    `json:"scheduler"`
	Diagnostics   []Diagnostic       `json:"diagnostics"`
	Activity      []ResourceActivity `json:"activity"`
	Closed        bool               `json:"closed"`
}

// Snapshot captures devices, the log page and the session health. Devices
// are passed through the configured view filter.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	registry := s.registry.Devices()
	views := make([]DeviceView, 0, len(registry))
	for _, d := range registry {
		views = append(views, DeviceView{
			ID:       d.ID,
			Name:     d.Name,
			IsActive: d.IsActive,
			Status:   d.Status,
			Pending:  s.pending[d.ID] > 0,
		})
	}
	entries := s.window.Entries()
	page := LogPage{
		Page:       s.window.Page(),
		PageSize:   s.window.PageSize(),
		LoadedPage: s.window.LoadedPage(),
		Entries:    make([]LogView, 0, len(entries)),
	}
	for _, e := range entries {
		page.Entries = append(page.Entries, LogView{
			Timestamp:   e.Timestamp,
			DeviceID:    e.DeviceID,
			DeviceLabel: s.labelLocked(e.DeviceID),
			Message:     e.Message,
			Provisional: e.Provisional,
		})
	}
	closed := s.closed
	s.mu.Unlock()

	visible, err := s.filter.apply(views)
	if err != nil {
		s.logger.Debug().Err(err).Msg("device filter")
	}
	return Snapshot{
		Devices:       visible,
		HiddenDevices: len(views) - len(visible),
		Logs:          page,
		Scheduler:     s.scheduler.Status(),
		Diagnostics:   s.diagnostics.list(),
		Activity:      s.activity.snapshot(),
		Closed:        closed,
	}
}
