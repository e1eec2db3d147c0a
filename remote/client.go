package remote

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"

	"github.com/timzifer/hemlarm/config"
	"github.com/timzifer/hemlarm/runtime/devices"
	"github.com/timzifer/hemlarm/runtime/logs"
)

// Operation names used in errors, logs and metrics.
const (
	OpListDevices  = "list_devices"
	OpListLogs     = "list_logs"
	OpToggleAlarm  = "toggle_alarm"
	OpClearLogs    = "clear_logs"
	OpClearDevices = "clear_devices"
)

const maxErrorBody = 256

type requestIDKey struct{}

// WithRequestID attaches the id sent in the request id header.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}

// RequestIDFrom returns the request id attached to ctx, if any.
func RequestIDFrom(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

// Client defines the alarm API operations required by the dashboard session.
type Client interface {
	ListDevices(ctx context.Context) ([]devices.Device, error)
	ListLogs(ctx context.Context, page, limit int) ([]logs.Entry, error)
	ToggleAlarm(ctx context.Context, id string) (devices.Device, error)
	ClearLogs(ctx context.Context) error
	ClearDevices(ctx context.Context) error
}

// ClientFactory is responsible for creating API clients for a session.
type ClientFactory func(cfg config.APIConfig) (Client, error)

// NewHTTPClientFactory returns a factory that creates REST clients.
func NewHTTPClientFactory() ClientFactory {
	return func(cfg config.APIConfig) (Client, error) {
		return NewHTTPClient(cfg)
	}
}

// HTTPClient talks to the alarm API over HTTP.
type HTTPClient struct {
	http *resty.Client
}

// NewHTTPClient prepares a client for the configured base URL. Every request
// carries a fresh request id in the configured header.
func NewHTTPClient(cfg config.APIConfig) (*HTTPClient, error) {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		return nil, fmt.Errorf("api base url is required")
	}
	r := resty.New()
	r.SetBaseURL(base)
	r.SetHeader("Accept", "application/json")
	if cfg.Timeout.Duration > 0 {
		r.SetTimeout(cfg.Timeout.Duration)
	}
	header := cfg.RequestIDHeaderName()
	r.OnBeforeRequest(func(_ *resty.Client, req *resty.Request) error {
		if req.Header.Get(header) != "" {
			return nil
		}
		id := RequestIDFrom(req.Context())
		if id == "" {
			id = uuid.NewString()
		}
		req.SetHeader(header, id)
		return nil
	})
	return &HTTPClient{http: r}, nil
}

// ListDevices fetches the device collection.
func (c *HTTPClient) ListDevices(ctx context.Context) ([]devices.Device, error) {
	resp, err := c.http.R().SetContext(ctx).Get("/devices")
	if err := checkResponse(OpListDevices, resp, err); err != nil {
		return nil, err
	}
	list, err := devices.Normalize(resp.Body())
	if err != nil {
		return nil, malformedError(OpListDevices, resp.StatusCode(), err)
	}
	return list, nil
}

// ListLogs fetches one newest-first page of log entries.
func (c *HTTPClient) ListLogs(ctx context.Context, page, limit int) ([]logs.Entry, error) {
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = logs.DefaultPageSize
	}
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"_page":  strconv.Itoa(page),
			"_limit": strconv.Itoa(limit),
			"_sort":  "timestamp",
			"_order": "desc",
		}).
		Get("/logs")
	if err := checkResponse(OpListLogs, resp, err); err != nil {
		return nil, err
	}
	entries, err := logs.NormalizePage(resp.Body())
	if err != nil {
		return nil, malformedError(OpListLogs, resp.StatusCode(), err)
	}
	return entries, nil
}

// ToggleAlarm flips the alarm of one device and returns its updated record.
func (c *HTTPClient) ToggleAlarm(ctx context.Context, id string) (devices.Device, error) {
	resp, err := c.http.R().
		SetContext(ctx).
		SetPathParam("id", id).
		Post("/toggle_alarm/{id}")
	if err := checkResponse(OpToggleAlarm, resp, err); err != nil {
		return devices.Device{}, err
	}
	device, err := devices.DecodeMutationResult(resp.Body())
	if err != nil {
		return devices.Device{}, malformedError(OpToggleAlarm, resp.StatusCode(), err)
	}
	if device.ID == "" {
		device.ID = id
	}
	return device, nil
}

// ClearLogs deletes all log entries on the server.
func (c *HTTPClient) ClearLogs(ctx context.Context) error {
	resp, err := c.http.R().SetContext(ctx).Delete("/clear_logs")
	return checkResponse(OpClearLogs, resp, err)
}

// ClearDevices deletes all devices on the server.
func (c *HTTPClient) ClearDevices(ctx context.Context) error {
	resp, err := c.http.R().SetContext(ctx).Delete("/clear_devices")
	return checkResponse(OpClearDevices, resp, err)
}

func checkResponse(op string, resp *resty.Response, err error) error {
	if err != nil {
		return transportError(op, err)
	}
	if resp == nil {
		return transportError(op, fmt.Errorf("no response"))
	}
	if !resp.IsSuccess() {
		body := strings.TrimSpace(resp.String())
		if len(body) > maxErrorBody {
			body = body[:maxErrorBody]
		}
		return unsuccessfulError(op, resp.StatusCode(), body)
	}
	return nil
}
