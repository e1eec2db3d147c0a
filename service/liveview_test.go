package service

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/timzifer/hemlarm/runtime/devices"
	"github.com/timzifer/hemlarm/runtime/logs"
	"github.com/timzifer/hemlarm/telemetry"
)

// newAlarmAPI serves a single device "d1" whose alarm flips on every toggle.
func newAlarmAPI(t *testing.T) *httptest.Server {
	t.Helper()
	var (
		mu     sync.Mutex
		active bool
	)
	mux := http.NewServeMux()
	mux.HandleFunc("/devices", func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"d1": map[string]interface{}{"name": "Door", "isActive": active, "status": "online"},
		})
	})
	mux.HandleFunc("/toggle_alarm/d1", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		mu.Lock()
		defer mu.Unlock()
		active = !active
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"id": "d1", "name": "Door", "isActive": active})
	})
	mux.HandleFunc("/logs", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, "[]")
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func newLiveViewTestServer(t *testing.T, opts ...Option) (*Session, *gatedClient, *httptest.Server) {
	t.Helper()
	client := newGatedClient()
	session := newTestSession(t, client, opts...)
	server := &liveViewServer{logger: zerolog.New(io.Discard), session: session}
	ts := httptest.NewServer(server.handler())
	t.Cleanup(ts.Close)
	return session, client, ts
}

func postJSON(t *testing.T, ts *httptest.Server, path, body string) *http.Response {
	t.Helper()
	resp, err := ts.Client().Post(ts.URL+path, "application/json", bytes.NewBufferString(body))
	if err != nil {
		t.Fatalf("post %s: %v", path, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestLiveViewStateEndpoint(t *testing.T) {
	session, client, ts := newLiveViewTestServer(t)
	seedDevices(t, session, client, []devices.Device{door})
	seedLogs(t, session, client, []logs.Entry{{Timestamp: "2024-05-01 10:00", DeviceID: "d7", Message: "Shed alarm activated"}})

	resp, err := ts.Client().Get(ts.URL + "/api/state")
	if err != nil {
		t.Fatalf("request state: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 OK, got %d", resp.StatusCode)
	}

	var payload struct {
		Devices []struct {
			ID       string `json:"id"`
			Name     string `json:"name"`
			IsActive bool   `json:"isActive"`
			Status   string `json:"status"`
		} `json:"devices"`
		Logs struct {
			Page    int `json:"page"`
			Entries []struct {
				DeviceID    string `json:"device_id"`
				DeviceLabel string `json:"device_label"`
			} `json:"entries"`
		} `json:"logs"`
		Scheduler struct {
			State   string `json:"state"`
			Control struct {
				Mode string `json:"mode"`
			} `json:"control"`
		} `json:"scheduler"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		t.Fatalf("decode state payload: %v", err)
	}
	if len(payload.Devices) != 1 || payload.Devices[0].ID != "d1" || payload.Devices[0].Name != "Door" {
		t.Fatalf("unexpected devices %+v", payload.Devices)
	}
	if payload.Devices[0].Status != "online" {
		t.Fatalf("expected status online, got %s", payload.Devices[0].Status)
	}
	if payload.Logs.Page != 1 || len(payload.Logs.Entries) != 1 {
		t.Fatalf("unexpected log page %+v", payload.Logs)
	}
	if payload.Logs.Entries[0].DeviceLabel != "Unknown device (d7)" {
		t.Fatalf("expected fallback label, got %q", payload.Logs.Entries[0].DeviceLabel)
	}
	if payload.Scheduler.State != string(SchedulerIdle) {
		t.Fatalf("expected idle scheduler, got %s", payload.Scheduler.State)
	}
	if payload.Scheduler.Control.Mode != string(ControlModeRun) {
		t.Fatalf("expected run mode, got %s", payload.Scheduler.Control.Mode)
	}
}

func TestLiveViewStateRejectsPost(t *testing.T) {
	_, _, ts := newLiveViewTestServer(t)
	resp := postJSON(t, ts, "/api/state", "{}")
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", resp.StatusCode)
	}
}

func TestLiveViewToggleEndpoint(t *testing.T) {
	session, client, ts := newLiveViewTestServer(t)
	seedDevices(t, session, client, []devices.Device{door})

	resp := postJSON(t, ts, "/api/devices/d1/toggle", "")
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", resp.StatusCode)
	}
	call := client.nextToggle(t)
	if call.id != "d1" {
		t.Fatalf("expected toggle for d1, got %s", call.id)
	}
	call.respond(devices.Device{ID: "d1", Name: "Door", IsActive: true}, nil)
	session.Wait()

	device, _ := findDevice(session.Devices(), "d1")
	if !device.IsActive {
		t.Fatal("expected d1 to be active")
	}
}

func TestLiveViewDeviceRoutes(t *testing.T) {
	_, client, ts := newLiveViewTestServer(t)

	resp := postJSON(t, ts, "/api/devices/d1", "")
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 for missing action, got %d", resp.StatusCode)
	}
	resp = postJSON(t, ts, "/api/devices/a/b/toggle", "")
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 for nested id, got %d", resp.StatusCode)
	}

	resp = postJSON(t, ts, "/api/devices/clear", "")
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", resp.StatusCode)
	}
	call := client.nextClear(t)
	if call.op != "clear_devices" {
		t.Fatalf("expected clear_devices, got %s", call.op)
	}
	call.reply <- nil
	client.nextDevices(t).respond(nil, nil)
}

func TestLiveViewClearLogsEndpoint(t *testing.T) {
	session, client, ts := newLiveViewTestServer(t)

	resp := postJSON(t, ts, "/api/logs/clear", "")
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", resp.StatusCode)
	}
	call := client.nextClear(t)
	if call.op != "clear_logs" {
		t.Fatalf("expected clear_logs, got %s", call.op)
	}
	call.reply <- nil
	session.Wait()
}

func TestLiveViewPageEndpoint(t *testing.T) {
	session, client, ts := newLiveViewTestServer(t)

	resp := postJSON(t, ts, "/api/logs/page", `{"page":3}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var page pageResponse
	if err := json.NewDecoder(resp.Body).Decode(&page); err != nil {
		t.Fatalf("decode page: %v", err)
	}
	if page.Page != 3 {
		t.Fatalf("expected page 3, got %d", page.Page)
	}
	if call := client.nextLogs(t); call.page != 3 {
		t.Fatalf("expected fetch of page 3, got %d", call.page)
	} else {
		call.respond(nil, nil)
	}

	resp = postJSON(t, ts, "/api/logs/page", `{"action":"prev"}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	client.nextLogs(t).respond(nil, nil)
	session.Wait()
	if session.Page() != 2 {
		t.Fatalf("expected page 2, got %d", session.Page())
	}

	resp = postJSON(t, ts, "/api/logs/page", `{}`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
}

func TestLiveViewControlEndpoint(t *testing.T) {
	session, _, ts := newLiveViewTestServer(t)

	resp := postJSON(t, ts, "/api/control", `{"action":"pause"}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if mode := session.Scheduler().Status().Control.Mode; mode != ControlModePause {
		t.Fatalf("expected pause mode, got %s", mode)
	}

	resp = postJSON(t, ts, "/api/control", `{"action":"speed","duration_ms":250}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var status SchedulerStatus
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		t.Fatalf("decode control status: %v", err)
	}
	if status.Control.IntervalMS != 250 {
		t.Fatalf("expected 250ms interval, got %d", status.Control.IntervalMS)
	}

	resp = postJSON(t, ts, "/api/control", `{"action":"speed"}`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 without duration, got %d", resp.StatusCode)
	}
	resp = postJSON(t, ts, "/api/control", `{"action":"warp"}`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown action, got %d", resp.StatusCode)
	}
}

func TestLiveViewMetricsAndIndex(t *testing.T) {
	reg := prometheus.NewRegistry()
	collector, err := telemetry.NewPrometheusCollector(reg)
	if err != nil {
		t.Fatalf("create collector: %v", err)
	}
	session, client, ts := newLiveViewTestServer(t, WithTelemetry(collector), WithMetricsGatherer(reg))
	seedDevices(t, session, client, []devices.Device{door})

	resp, err := ts.Client().Get(ts.URL + "/metrics")
	if err != nil {
		t.Fatalf("request metrics: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), "hemlarm_devices 1") {
		t.Fatalf("expected device gauge in metrics, got:\n%s", body)
	}
	if !strings.Contains(string(body), `hemlarm_requests_total{outcome="applied",resource="devices"} 1`) {
		t.Fatalf("expected request counter in metrics, got:\n%s", body)
	}

	index, err := ts.Client().Get(ts.URL + "/")
	if err != nil {
		t.Fatalf("request index: %v", err)
	}
	defer index.Body.Close()
	page, _ := io.ReadAll(index.Body)
	if !strings.Contains(string(page), "IoT Alarm Dashboard") {
		t.Fatal("expected dashboard title in index page")
	}

	missing, err := ts.Client().Get(ts.URL + "/nope")
	if err != nil {
		t.Fatalf("request unknown path: %v", err)
	}
	missing.Body.Close()
	if missing.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", missing.StatusCode)
	}
}
