package service

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/timzifer/hemlarm/config"
	"github.com/timzifer/hemlarm/remote"
	"github.com/timzifer/hemlarm/runtime/activity"
	"github.com/timzifer/hemlarm/runtime/devices"
	"github.com/timzifer/hemlarm/runtime/logs"
	"github.com/timzifer/hemlarm/runtime/sequence"
	"github.com/timzifer/hemlarm/telemetry"
)

// ErrClosed is returned when starting a session that was already closed.
var ErrClosed = errors.New("session closed")

const (
	resourceDevices sequence.Resource = "devices"
	resourceLogs    sequence.Resource = "logs"
)

func toggleResource(id string) sequence.Resource {
	return sequence.Resource("toggle:" + id)
}

// Session is one dashboard session. It owns the device registry, the log
// window and the poll scheduler. Network calls run on their own goroutines;
// their results are applied under the session lock only while they are still
// the latest request for their resource.
type Session struct {
	cfg       *config.Config
	client    remote.Client
	logger    zerolog.Logger
	clock     Clock
	telemetry telemetry.Collector
	gatherer  prometheus.Gatherer

	scheduler   *Scheduler
	activity    *activityTracker
	diagnostics *diagnosticLog
	filter      *deviceFilter

	mu       sync.Mutex
	closed   bool
	registry *devices.Registry
	window   *logs.Window
	seq      *sequence.Tracker
	pending  map[string]int
	toggles  uint64
	liveView *liveViewServer

	inflight sync.WaitGroup
}

// Option customizes a Session.
type Option func(*Session)

// WithClock overrides the clock used to stamp synthesized log entries.
func WithClock(clock Clock) Option {
	return func(s *Session) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// WithTelemetry installs a telemetry collector.
func WithTelemetry(collector telemetry.Collector) Option {
	return func(s *Session) {
		if collector != nil {
			s.telemetry = collector
		}
	}
}

// WithMetricsGatherer sets the gatherer served on the live view /metrics endpoint.
func WithMetricsGatherer(gatherer prometheus.Gatherer) Option {
	return func(s *Session) {
		s.gatherer = gatherer
	}
}

// Validate checks that cfg can be used to start a session.
func Validate(cfg *config.Config) error {
	if cfg == nil {
		return fmt.Errorf("config is required")
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	_, err := compileDeviceFilter(cfg.View.DeviceFilter)
	return err
}

// New creates an idle session. Call Start to begin polling.
func New(cfg *config.Config, client remote.Client, logger zerolog.Logger, opts ...Option) (*Session, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if client == nil {
		return nil, fmt.Errorf("api client is required")
	}
	filter, err := compileDeviceFilter(cfg.View.DeviceFilter)
	if err != nil {
		return nil, err
	}
	s := &Session{
		cfg:         cfg,
		client:      client,
		logger:      logger.With().Str("component", "session").Logger(),
		clock:       realClock{},
		telemetry:   telemetry.Noop(),
		activity:    newActivityTracker(),
		diagnostics: newDiagnosticLog(cfg.DiagnosticsLimit()),
		filter:      filter,
		registry:    devices.NewRegistry(),
		window:      logs.NewWindow(cfg.PageSize()),
		seq:         sequence.NewTracker(),
		pending:     make(map[string]int),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	s.scheduler = NewScheduler(cfg.PollInterval(), s.tick)
	return s, nil
}

// Start launches the live view, when enabled, and the poll scheduler.
func (s *Session) Start() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	needsLiveView := s.cfg.LiveView.Enabled && s.liveView == nil
	s.mu.Unlock()

	if needsLiveView {
		server, err := newLiveViewServer(s.cfg.LiveViewListen(), s, s.logger)
		if err != nil {
			return fmt.Errorf("start live view: %w", err)
		}
		s.mu.Lock()
		s.liveView = server
		s.mu.Unlock()
	}
	if s.scheduler.Start() {
		s.logger.Info().
			Str("api", s.cfg.API.BaseURL).
			Dur("interval", s.cfg.PollInterval()).
			Msg("polling started")
	}
	return nil
}

// Close stops polling and the live view. Responses that arrive afterwards are
// discarded. Close is idempotent.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	server := s.liveView
	s.liveView = nil
	s.mu.Unlock()

	s.scheduler.Stop()
	server.close()
	s.logger.Info().Msg("session closed")
	return nil
}

// Wait blocks until every request issued so far has resolved.
func (s *Session) Wait() {
	s.inflight.Wait()
}

// Scheduler exposes the poll scheduler for pacing control.
func (s *Session) Scheduler() *Scheduler {
	return s.scheduler
}

func (s *Session) tick() {
	s.RefreshDevices()
	s.RefreshLogs()
}

// RefreshDevices fetches the device collection.
func (s *Session) RefreshDevices() {
	ticket, ok := s.issue(resourceDevices, string(resourceDevices))
	if !ok {
		return
	}
	s.run(func(ctx context.Context, requestID string) {
		list, err := s.client.ListDevices(ctx)

		s.mu.Lock()
		defer s.mu.Unlock()
		if err != nil {
			s.reportLocked(remote.OpListDevices, string(resourceDevices), requestID, err)
			return
		}
		if !s.admitLocked(ticket, string(resourceDevices)) {
			return
		}
		s.registry.ApplySnapshot(list)
		s.telemetry.SetDevices(s.registry.Len())
		s.finishLocked(string(resourceDevices), activity.OutcomeApplied)
	})
}

// RefreshLogs fetches the currently requested log page.
func (s *Session) RefreshLogs() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	page, size := s.window.Page(), s.window.PageSize()
	ticket := s.seq.Issue(resourceLogs)
	s.inflight.Add(1)
	s.mu.Unlock()
	s.activity.RecordIssued(string(resourceLogs), s.clock.Now())

	s.run(func(ctx context.Context, requestID string) {
		entries, err := s.client.ListLogs(ctx, page, size)

		s.mu.Lock()
		defer s.mu.Unlock()
		if err != nil {
			s.reportLocked(remote.OpListLogs, string(resourceLogs), requestID, err)
			return
		}
		if !s.admitLocked(ticket, string(resourceLogs)) {
			return
		}
		if !s.window.ApplyPage(entries, page, ticket.Seq) {
			s.finishLocked(string(resourceLogs), activity.OutcomeStale)
			return
		}
		s.telemetry.SetLogEntries(s.window.Len())
		s.finishLocked(string(resourceLogs), activity.OutcomeApplied)
	})
}

// SetPage moves the log cursor and refetches when the page changed.
func (s *Session) SetPage(page int) {
	s.movePage(func(w *logs.Window) bool { return w.SetPage(page) })
}

// NextPage advances the log cursor by one page.
func (s *Session) NextPage() {
	s.movePage((*logs.Window).Next)
}

// PrevPage moves the log cursor back by one page; on page 1 it does nothing.
func (s *Session) PrevPage() {
	s.movePage((*logs.Window).Prev)
}

func (s *Session) movePage(move func(*logs.Window) bool) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	changed := move(s.window)
	page := s.window.Page()
	s.mu.Unlock()
	if !changed {
		return
	}
	s.logger.Debug().Int("page", page).Msg("log page changed")
	s.RefreshLogs()
}

// ToggleAlarm flips the alarm of a device. Every confirmation adds a
// provisional log entry while page 1 is shown; only the confirmation of the
// most recent toggle for the device is merged into the registry.
func (s *Session) ToggleAlarm(id string) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	ticket := s.seq.Issue(toggleResource(id))
	s.toggles++
	order := s.toggles
	// Polls issued before the toggle must not overwrite its result.
	s.seq.Invalidate(resourceDevices)
	s.pending[id]++
	s.inflight.Add(1)
	s.mu.Unlock()
	s.activity.RecordIssued(remote.OpToggleAlarm, s.clock.Now())

	s.run(func(ctx context.Context, requestID string) {
		device, err := s.client.ToggleAlarm(ctx, id)

		s.mu.Lock()
		defer s.mu.Unlock()
		if s.pending[id] <= 1 {
			delete(s.pending, id)
		} else {
			s.pending[id]--
		}
		if err != nil {
			s.reportLocked(remote.OpToggleAlarm, remote.OpToggleAlarm, requestID, err)
			return
		}
		if s.closed {
			s.finishLocked(remote.OpToggleAlarm, activity.OutcomeClosed)
			return
		}
		latest := s.seq.Current(ticket)
		if latest {
			s.seq.Invalidate(resourceDevices)
			s.registry.ApplyMutationResult(device)
		}

		name := device.Name
		if name == "" {
			name = s.labelLocked(device.ID)
		}
		entry := logs.NewEntry(s.clock.Now().UTC(), device.ID, logs.AlarmMessage(name, device.IsActive))
		logged := s.window.AddLocal(entry, s.seq.Latest(resourceLogs), order)

		s.telemetry.SetDevices(s.registry.Len())
		s.telemetry.SetLogEntries(s.window.Len())
		outcome := activity.OutcomeApplied
		if !latest {
			outcome = activity.OutcomeStale
		}
		s.finishLocked(remote.OpToggleAlarm, outcome)
		s.logger.Info().
			Str("device", device.ID).
			Bool("active", device.IsActive).
			Bool("superseded", !latest).
			Bool("logged", logged).
			Str("request_id", requestID).
			Msg("alarm toggled")
	})
}

// ClearLogs deletes the server-side log and resets the window to an empty
// page 1.
func (s *Session) ClearLogs() {
	if _, ok := s.issue("", remote.OpClearLogs); !ok {
		return
	}
	s.run(func(ctx context.Context, requestID string) {
		err := s.client.ClearLogs(ctx)

		s.mu.Lock()
		defer s.mu.Unlock()
		if err != nil {
			s.reportLocked(remote.OpClearLogs, remote.OpClearLogs, requestID, err)
			return
		}
		if s.closed {
			s.finishLocked(remote.OpClearLogs, activity.OutcomeClosed)
			return
		}
		s.window.Clear()
		s.seq.Invalidate(resourceLogs)
		s.telemetry.SetLogEntries(0)
		s.finishLocked(remote.OpClearLogs, activity.OutcomeApplied)
		s.logger.Info().Str("request_id", requestID).Msg("logs cleared")
	})
}

// ClearDevices deletes the server-side devices and re-polls the collection.
func (s *Session) ClearDevices() {
	if _, ok := s.issue("", remote.OpClearDevices); !ok {
		return
	}
	s.run(func(ctx context.Context, requestID string) {
		err := s.client.ClearDevices(ctx)

		s.mu.Lock()
		if err != nil {
			s.reportLocked(remote.OpClearDevices, remote.OpClearDevices, requestID, err)
			s.mu.Unlock()
			return
		}
		if s.closed {
			s.finishLocked(remote.OpClearDevices, activity.OutcomeClosed)
			s.mu.Unlock()
			return
		}
		s.finishLocked(remote.OpClearDevices, activity.OutcomeApplied)
		s.mu.Unlock()
		s.logger.Info().Str("request_id", requestID).Msg("devices cleared")
		s.RefreshDevices()
	})
}

// Devices returns a copy of the registry in canonical order.
func (s *Session) Devices() []devices.Device {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.registry.Devices()
}

// Logs returns the displayed log entries, provisional ones first.
func (s *Session) Logs() []logs.Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.window.Entries()
}

// Page returns the currently requested log page.
func (s *Session) Page() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.window.Page()
}

// DeviceLabel renders a device reference, falling back to a placeholder for
// ids that are not in the registry.
func (s *Session) DeviceLabel(id string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.labelLocked(id)
}

// Diagnostics returns the most recent failures, newest first.
func (s *Session) Diagnostics() []Diagnostic {
	return s.diagnostics.list()
}

// Activity returns per-resource request statistics.
func (s *Session) Activity() []ResourceActivity {
	return s.activity.snapshot()
}

func (s *Session) labelLocked(id string) string {
	if device, ok := s.registry.Lookup(id); ok && device.Name != "" {
		return device.Name
	}
	if id == "" {
		return "Unknown device"
	}
	return "Unknown device (" + id + ")"
}

// issue registers a request. A non-empty resource also draws a sequence
// ticket.
func (s *Session) issue(resource sequence.Resource, activityName string) (sequence.Ticket, bool) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return sequence.Ticket{}, false
	}
	var ticket sequence.Ticket
	if resource != "" {
		ticket = s.seq.Issue(resource)
	}
	s.inflight.Add(1)
	s.mu.Unlock()
	s.activity.RecordIssued(activityName, s.clock.Now())
	return ticket, true
}

// run executes fn on its own goroutine. The caller must have added to
// s.inflight.
func (s *Session) run(fn func(ctx context.Context, requestID string)) {
	requestID := uuid.NewString()
	ctx := remote.WithRequestID(context.Background(), requestID)
	go func() {
		defer s.inflight.Done()
		fn(ctx, requestID)
	}()
}

func (s *Session) admitLocked(ticket sequence.Ticket, activityName string) bool {
	if s.closed {
		s.finishLocked(activityName, activity.OutcomeClosed)
		return false
	}
	if !s.seq.Current(ticket) {
		s.finishLocked(activityName, activity.OutcomeStale)
		return false
	}
	return true
}

func (s *Session) finishLocked(activityName, outcome string) {
	s.activity.RecordOutcome(activityName, outcome, s.clock.Now())
	s.telemetry.IncRequest(activityName, outcome)
}

func (s *Session) reportLocked(op, activityName, requestID string, err error) {
	if s.closed {
		s.finishLocked(activityName, activity.OutcomeClosed)
		s.logger.Debug().Err(err).Str("operation", op).Msg("discarding failure after close")
		return
	}
	diag := s.diagnostics.add(s.clock.Now(), op, requestID, err)
	s.finishLocked(activityName, activity.OutcomeFailed)
	s.telemetry.IncFailure(op, diag.Kind)
	s.logger.Warn().
		Err(err).
		Str("operation", op).
		Str("kind", diag.Kind).
		Str("request_id", requestID).
		Msg("request failed")
}
