package service

import (
	"context"
	"encoding/json"
	"html/template"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

type liveViewServer struct {
	logger  zerolog.Logger
	session *Session
	server  *http.Server
	ln      net.Listener
}

type controlRequest struct {
	Action     string `json:"action"`
	DurationMS *int64 `json:"duration_ms,omitempty"`
}

type pageRequest struct {
	Page   *int   `json:"page,omitempty"`
	Action string `json:"action,omitempty"`
}

type pageResponse struct {
	Page int `json:"page"`
}

type acceptedResponse struct {
	Status    string `json:"status"`
	Operation string `json:"operation"`
	Device    string `json:"device,omitempty"`
}

func newLiveViewServer(listen string, session *Session, logger zerolog.Logger) (*liveViewServer, error) {
	server := &liveViewServer{logger: logger.With().Str("component", "live_view").Logger(), session: session}
	ln, err := net.Listen("tcp", listen)
	if err != nil {
		return nil, err
	}
	srv := &http.Server{Handler: server.handler(), ReadHeaderTimeout: 5 * time.Second}
	server.server = srv
	server.ln = ln

	go func() {
		if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			server.logger.Error().Err(err).Msg("live view server stopped")
		}
	}()

	server.logger.Info().Str("listen", ln.Addr().String()).Msg("live view started")
	return server, nil
}

func (s *liveViewServer) handler() http.Handler {
	gatherer := s.session.gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleIndex)
	mux.HandleFunc("/api/state", s.handleState)
	mux.HandleFunc("/api/control", s.handleControl)
	mux.HandleFunc("/api/devices/", s.handleDevices)
	mux.HandleFunc("/api/logs/clear", s.handleClearLogs)
	mux.HandleFunc("/api/logs/page", s.handlePage)
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	return mux
}

// Addr returns the address the live view listens on.
func (s *liveViewServer) Addr() string {
	if s == nil || s.ln == nil {
		return ""
	}
	return s.ln.Addr().String()
}

func (s *liveViewServer) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := liveViewTemplate.Execute(w, nil); err != nil {
		s.logger.Error().Err(err).Msg("render live view page")
	}
}

func (s *liveViewServer) handleState(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	s.writeJSON(w, http.StatusOK, s.session.Snapshot())
}

func (s *liveViewServer) handleControl(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	defer r.Body.Close()
	var req controlRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request", http.StatusBadRequest)
		return
	}
	scheduler := s.session.Scheduler()
	switch req.Action {
	case "run":
		scheduler.SetMode(ControlModeRun)
	case "pause":
		scheduler.SetMode(ControlModePause)
	case "step":
		scheduler.Step()
	case "refresh":
		s.session.tick()
	case "speed":
		if req.DurationMS == nil || *req.DurationMS <= 0 {
			http.Error(w, "duration required", http.StatusBadRequest)
			return
		}
		scheduler.SetInterval(time.Duration(*req.DurationMS) * time.Millisecond)
	default:
		http.Error(w, "unknown action", http.StatusBadRequest)
		return
	}
	s.writeJSON(w, http.StatusOK, scheduler.Status())
}

func (s *liveViewServer) handleDevices(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	rest := strings.TrimPrefix(r.URL.Path, "/api/devices/")
	if rest == "clear" {
		s.session.ClearDevices()
		s.writeJSON(w, http.StatusAccepted, acceptedResponse{Status: "accepted", Operation: "clear_devices"})
		return
	}
	id, ok := strings.CutSuffix(rest, "/toggle")
	if !ok || id == "" || strings.Contains(id, "/") {
		http.NotFound(w, r)
		return
	}
	s.session.ToggleAlarm(id)
	s.writeJSON(w, http.StatusAccepted, acceptedResponse{Status: "accepted", Operation: "toggle_alarm", Device: id})
}

func (s *liveViewServer) handleClearLogs(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	s.session.ClearLogs()
	s.writeJSON(w, http.StatusAccepted, acceptedResponse{Status: "accepted", Operation: "clear_logs"})
}

func (s *liveViewServer) handlePage(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	defer r.Body.Close()
	var req pageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request", http.StatusBadRequest)
		return
	}
	switch {
	case req.Page != nil:
		s.session.SetPage(*req.Page)
	case req.Action == "next":
		s.session.NextPage()
	case req.Action == "prev":
		s.session.PrevPage()
	default:
		http.Error(w, "page or action required", http.StatusBadRequest)
		return
	}
	s.writeJSON(w, http.StatusOK, pageResponse{Page: s.session.Page()})
}

func (s *liveViewServer) writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error().Err(err).Msg("encode live view response")
	}
}

func (s *liveViewServer) close() {
	if s == nil || s.server == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.server.Shutdown(ctx); err != nil && err != context.Canceled {
		s.logger.Error().Err(err).Msg("shutdown live view")
	}
}

var liveViewTemplate = template.Must(template.New("liveview").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>Alarm Dashboard</title>
<style>
body { font-family: Arial, sans-serif; margin: 2rem; background: #111827; color: #f9fafb; }
h1 { margin-bottom: 1rem; }
.panel { padding: 1rem; border: 1px solid #4b5563; border-radius: 6px; background: #1f2937; margin-bottom: 1rem; }
.row { display: flex; justify-content: space-between; align-items: center; padding: 0.5rem; border-bottom: 1px solid #374151; }
.empty { color: #9ca3af; }
button { padding: 0.4rem 1rem; border: none; border-radius: 4px; color: #fff; cursor: pointer; background: #2563eb; }
button.on { background: #ef4444; }
button.off { background: #22c55e; }
button:disabled { opacity: 0.5; cursor: not-allowed; }
.provisional { font-style: italic; }
.diag { font-size: 0.85rem; color: #fca5a5; }
.controls { display: flex; gap: 0.5rem; align-items: center; margin-bottom: 0.75rem; }
</style>
</head>
<body>
<h1>IoT Alarm Dashboard</h1>
<div class="controls">
<button id="runBtn">Run</button>
<button id="pauseBtn">Pause</button>
<button id="refreshBtn">Refresh</button>
<span id="schedulerStatus"></span>
</div>
<div class="panel">
<h2>Connected Devices</h2>
<div id="devices"></div>
<button id="clearDevicesBtn">Clear devices</button>
</div>
<div class="panel">
<h2>Activity Log</h2>
<ul id="logs"></ul>
<div class="controls">
<button id="prevBtn">Previous</button>
<span id="page"></span>
<button id="nextBtn">Next</button>
<button id="clearLogsBtn">Clear logs</button>
</div>
</div>
<div class="panel">
<h2>Diagnostics</h2>
<div id="diagnostics" class="diag"></div>
</div>
<script>
function escapeHtml(value) {
  return String(value).replace(/[&<>"']/g, function (c) {
    return {"&": "&amp;", "<": "&lt;", ">": "&gt;", "\"": "&quot;", "'": "&#39;"}[c];
  });
}
function post(path, body) {
  return fetch(path, {method: "POST", headers: {"Content-Type": "application/json"}, body: JSON.stringify(body || {})})
    .then(function () { setTimeout(fetchState, 300); });
}
function renderDevices(devices) {
  var el = document.getElementById("devices");
  if (!devices || devices.length === 0) {
    el.innerHTML = '<p class="empty">No devices connected</p>';
    return;
  }
  el.innerHTML = devices.map(function (d) {
    var label = d.isActive ? "Turn Off" : "Turn On";
    return '<div class="row"><span>' + escapeHtml(d.name) + '</span>' +
      '<button class="' + (d.isActive ? "on" : "off") + '" data-id="' + escapeHtml(d.id) + '"' +
      (d.pending ? " disabled" : "") + '>' + label + '</button></div>';
  }).join("");
  el.querySelectorAll("button[data-id]").forEach(function (btn) {
    btn.onclick = function () { post("/api/devices/" + encodeURIComponent(btn.dataset.id) + "/toggle"); };
  });
}
function renderLogs(page) {
  var el = document.getElementById("logs");
  document.getElementById("page").textContent = "Page " + page.page;
  if (!page.entries || page.entries.length === 0) {
    el.innerHTML = '<p class="empty">No activity recorded</p>';
    return;
  }
  el.innerHTML = page.entries.map(function (e) {
    return '<li class="row' + (e.provisional ? " provisional" : "") + '">' +
      escapeHtml(e.timestamp) + " - " + escapeHtml(e.message) + " (" + escapeHtml(e.device_label) + ")</li>";
  }).join("");
}
function renderDiagnostics(list) {
  var el = document.getElementById("diagnostics");
  el.innerHTML = (list || []).map(function (d) {
    return "<div>" + escapeHtml(d.time) + " " + escapeHtml(d.operation) + " [" + escapeHtml(d.kind) + "] " + escapeHtml(d.message) + "</div>";
  }).join("");
}
function fetchState() {
  fetch("/api/state").then(function (r) { return r.json(); }).then(function (state) {
    renderDevices(state.devices);
    renderLogs(state.logs);
    renderDiagnostics(state.diagnostics);
    var control = state.scheduler.control;
    document.getElementById("schedulerStatus").textContent = state.scheduler.state + " / " + control.mode + " / " + control.interval_text;
  });
}
document.getElementById("runBtn").onclick = function () { post("/api/control", {action: "run"}); };
document.getElementById("pauseBtn").onclick = function () { post("/api/control", {action: "pause"}); };
document.getElementById("refreshBtn").onclick = function () { post("/api/control", {action: "refresh"}); };
document.getElementById("prevBtn").onclick = function () { post("/api/logs/page", {action: "prev"}); };
document.getElementById("nextBtn").onclick = function () { post("/api/logs/page", {action: "next"}); };
document.getElementById("clearLogsBtn").onclick = function () { post("/api/logs/clear"); };
document.getElementById("clearDevicesBtn").onclick = function () { post("/api/devices/clear"); };
fetchState();
setInterval(fetchState, 2000);
</script>
</body>
</html>
`))
