package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/timzifer/hemlarm/config"
	"github.com/timzifer/hemlarm/runtime/devices"
	"github.com/timzifer/hemlarm/runtime/logs"
)

const callTimeout = 2 * time.Second

type devicesReply struct {
	list []devices.Device
	err  error
}

type devicesCall struct {
	reply chan devicesReply
}

func (c devicesCall) respond(list []devices.Device, err error) {
	c.reply <- devicesReply{list: list, err: err}
}

type logsReply struct {
	entries []logs.Entry
	err     error
}

type logsCall struct {
	page  int
	limit int
	reply chan logsReply
}

func (c logsCall) respond(entries []logs.Entry, err error) {
	c.reply <- logsReply{entries: entries, err: err}
}

type toggleReply struct {
	device devices.Device
	err    error
}

type toggleCall struct {
	id    string
	reply chan toggleReply
}

func (c toggleCall) respond(device devices.Device, err error) {
	c.reply <- toggleReply{device: device, err: err}
}

type clearCall struct {
	op    string
	reply chan error
}

// gatedClient hands every request to the test, which decides when and how it
// resolves.
type gatedClient struct {
	devices chan devicesCall
	logs    chan logsCall
	toggles chan toggleCall
	clears  chan clearCall
}

func newGatedClient() *gatedClient {
	return &gatedClient{
		devices: make(chan devicesCall, 16),
		logs:    make(chan logsCall, 16),
		toggles: make(chan toggleCall, 16),
		clears:  make(chan clearCall, 16),
	}
}

func (c *gatedClient) ListDevices(context.Context) ([]devices.Device, error) {
	call := devicesCall{reply: make(chan devicesReply, 1)}
	c.devices <- call
	r := <-call.reply
	return r.list, r.err
}

func (c *gatedClient) ListLogs(_ context.Context, page, limit int) ([]logs.Entry, error) {
	call := logsCall{page: page, limit: limit, reply: make(chan logsReply, 1)}
	c.logs <- call
	r := <-call.reply
	return r.entries, r.err
}

func (c *gatedClient) ToggleAlarm(_ context.Context, id string) (devices.Device, error) {
	call := toggleCall{id: id, reply: make(chan toggleReply, 1)}
	c.toggles <- call
	r := <-call.reply
	return r.device, r.err
}

func (c *gatedClient) ClearLogs(context.Context) error {
	call := clearCall{op: "clear_logs", reply: make(chan error, 1)}
	c.clears <- call
	return <-call.reply
}

func (c *gatedClient) ClearDevices(context.Context) error {
	call := clearCall{op: "clear_devices", reply: make(chan error, 1)}
	c.clears <- call
	return <-call.reply
}

func (c *gatedClient) nextDevices(t *testing.T) devicesCall {
	t.Helper()
	select {
	case call := <-c.devices:
		return call
	case <-time.After(callTimeout):
		t.Fatal("expected a device request")
		return devicesCall{}
	}
}

func (c *gatedClient) nextLogs(t *testing.T) logsCall {
	t.Helper()
	select {
	case call := <-c.logs:
		return call
	case <-time.After(callTimeout):
		t.Fatal("expected a log request")
		return logsCall{}
	}
}

func (c *gatedClient) nextToggle(t *testing.T) toggleCall {
	t.Helper()
	select {
	case call := <-c.toggles:
		return call
	case <-time.After(callTimeout):
		t.Fatal("expected a toggle request")
		return toggleCall{}
	}
}

func (c *gatedClient) nextClear(t *testing.T) clearCall {
	t.Helper()
	select {
	case call := <-c.clears:
		return call
	case <-time.After(callTimeout):
		t.Fatal("expected a clear request")
		return clearCall{}
	}
}

func (c *gatedClient) requireIdle(t *testing.T) {
	t.Helper()
	require.Empty(t, c.devices, "unexpected device request")
	require.Empty(t, c.logs, "unexpected log request")
	require.Empty(t, c.toggles, "unexpected toggle request")
	require.Empty(t, c.clears, "unexpected clear request")
}

type fixedClock struct {
	now time.Time
}

func (c fixedClock) Now() time.Time { return c.now }

type failureRecord struct {
	operation string
	kind      string
}

type recordingCollector struct {
	mu       sync.Mutex
	requests map[string]int
	failures []failureRecord
	devices  int
	entries  int
}

func newRecordingCollector() *recordingCollector {
	return &recordingCollector{requests: make(map[string]int)}
}

func (c *recordingCollector) IncHotReload(string) {}

func (c *recordingCollector) IncRequest(resource, outcome string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.requests[resource+"/"+outcome]++
}

func (c *recordingCollector) IncFailure(operation, kind string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failures = append(c.failures, failureRecord{operation: operation, kind: kind})
}

func (c *recordingCollector) SetDevices(count int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.devices = count
}

func (c *recordingCollector) SetLogEntries(count int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = count
}

func (c *recordingCollector) requestCount(key string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.requests[key]
}

func testConfig() *config.Config {
	return &config.Config{API: config.APIConfig{BaseURL: "http://alarms.test"}}
}

func newTestSession(t *testing.T, client *gatedClient, opts ...Option) *Session {
	t.Helper()
	return newTestSessionWithConfig(t, testConfig(), client, opts...)
}

func newTestSessionWithConfig(t *testing.T, cfg *config.Config, client *gatedClient, opts ...Option) *Session {
	t.Helper()
	session, err := New(cfg, client, zerolog.Nop(), opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = session.Close() })
	return session
}

// seedDevices runs one device poll to completion.
func seedDevices(t *testing.T, session *Session, client *gatedClient, list []devices.Device) {
	t.Helper()
	session.RefreshDevices()
	client.nextDevices(t).respond(list, nil)
	session.Wait()
}

// seedLogs runs one log fetch for the current page to completion.
func seedLogs(t *testing.T, session *Session, client *gatedClient, entries []logs.Entry) {
	t.Helper()
	session.RefreshLogs()
	client.nextLogs(t).respond(entries, nil)
	session.Wait()
}
