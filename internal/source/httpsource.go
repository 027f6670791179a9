package source

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/banshee-data/coldwatch/internal/engine"
	"github.com/banshee-data/coldwatch/internal/monitoring"
)

// DefaultBaseURL is the production vendor API endpoint.
const DefaultBaseURL = "https://api.disruptive-technologies.com/v2"

const (
	defaultPageSize   = 1000
	defaultReconnects = 5
	reconnectDelay    = time.Second
)

// Client talks to the vendor API with basic-auth service-account credentials.
type Client struct {
	baseURL    string
	creds      Credentials
	httpc      *http.Client
	pageSize   int
	reconnects int
}

// ClientOption customises a Client.
type ClientOption func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(h *http.Client) ClientOption {
	return func(c *Client) { c.httpc = h }
}

// WithPageSize sets the history page size.
func WithPageSize(n int) ClientOption {
	return func(c *Client) { c.pageSize = n }
}

// WithReconnects sets how many consecutive failed stream connections are
// tolerated before Stream gives up.
func WithReconnects(n int) ClientOption {
	return func(c *Client) { c.reconnects = n }
}

// NewClient creates a vendor API client. baseURL may be empty for production.
func NewClient(baseURL string, creds Credentials, opts ...ClientOption) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		creds:      creds,
		httpc:      &http.Client{Timeout: 30 * time.Second},
		pageSize:   defaultPageSize,
		reconnects: defaultReconnects,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Device is a project device as returned by the vendor API.
type Device struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

// ID returns the bare device identifier from the full resource name.
func (d Device) ID() string { return path.Base(d.Name) }

// IsTemperature reports whether the device publishes temperature events.
func (d Device) IsTemperature() bool { return d.Type == "temperature" }

// Devices lists the project's devices. Callers typically filter on
// Type == "temperature".
func (c *Client) Devices(ctx context.Context) ([]Device, error) {
	u := fmt.Sprintf("%s/projects/%s/devices", c.baseURL, c.creds.ProjectID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	req.SetBasicAuth(c.creds.Key, c.creds.Secret)

	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("list devices: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("list devices: unexpected status %s", resp.Status)
	}

	var payload struct {
		Devices []Device `json:"devices"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("decode devices: %w", err)
	}
	return payload.Devices, nil
}

// HistoryOptions bounds a historical fetch.
type HistoryOptions struct {
	DeviceID string    // required
	Start    time.Time // zero means 24h ago
	End      time.Time // zero means now
}

// History returns a HistoricalSource over the device's recorded temperature
// events for the given range, delivered page by page in ascending time order.
func (c *Client) History(opts HistoryOptions) HistoricalSource {
	return &historyStream{client: c, opts: opts}
}

type historyStream struct {
	client *Client
	opts   HistoryOptions
}

func (h *historyStream) Events(ctx context.Context, handler Handler) error {
	start := h.opts.Start
	if start.IsZero() {
		start = time.Now().UTC().Add(-24 * time.Hour)
	}
	end := h.opts.End
	if end.IsZero() {
		end = time.Now().UTC()
	}

	pageToken := ""
	for {
		page, next, err := h.client.historyPage(ctx, h.opts.DeviceID, start, end, pageToken)
		if err != nil {
			return err
		}
		for _, rec := range page {
			if err := handler(rec); err != nil {
				return err
			}
		}
		if next == "" {
			return nil
		}
		pageToken = next
	}
}

func (c *Client) historyPage(ctx context.Context, deviceID string, start, end time.Time, pageToken string) ([]engine.RawRecord, string, error) {
	u := fmt.Sprintf("%s/projects/%s/devices/%s/events", c.baseURL, c.creds.ProjectID, deviceID)
	q := url.Values{}
	q.Set("eventTypes", "temperature")
	q.Set("startTime", start.Format(time.RFC3339))
	q.Set("endTime", end.Format(time.RFC3339))
	q.Set("pageSize", strconv.Itoa(c.pageSize))
	if pageToken != "" {
		q.Set("pageToken", pageToken)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u+"?"+q.Encode(), nil)
	if err != nil {
		return nil, "", err
	}
	req.SetBasicAuth(c.creds.Key, c.creds.Secret)

	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("history page: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("history page: unexpected status %s", resp.Status)
	}

	var payload struct {
		Events        []engine.RawRecord `json:"events"`
		NextPageToken string             `json:"nextPageToken"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, "", fmt.Errorf("decode history page: %w", err)
	}
	return payload.Events, payload.NextPageToken, nil
}

// handlerError marks an error raised by the caller's handler, which must abort
// the stream rather than trigger a reconnect.
type handlerError struct{ err error }

func (h *handlerError) Error() string { return h.err.Error() }

// Live returns a LiveSource over the project's temperature event stream.
func (c *Client) Live() LiveSource {
	return &liveStream{client: c}
}

type liveStream struct {
	client *Client
}

// Stream holds the server-sent-events connection open and hands each event to
// the handler. Connection loss triggers reconnection; the attempt counter
// resets after every successful event, so only consecutive failures count.
func (l *liveStream) Stream(ctx context.Context, handler Handler) error {
	c := l.client
	attempts := 0

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := c.streamOnce(ctx, handler, &attempts)
		if err != nil && ctx.Err() != nil {
			return ctx.Err()
		}
		var stop *handlerError
		if errors.As(err, &stop) {
			return stop.err
		}

		attempts++
		if attempts > c.reconnects {
			return fmt.Errorf("live stream: gave up after %d reconnect attempts: %w", c.reconnects, err)
		}
		monitoring.Logf("live stream lost (%v), reconnect attempt %d/%d", err, attempts, c.reconnects)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(reconnectDelay):
		}
	}
}

func (c *Client) streamOnce(ctx context.Context, handler Handler, attempts *int) error {
	u := fmt.Sprintf("%s/projects/%s/devices:stream?eventTypes=temperature", c.baseURL, c.creds.ProjectID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}
	req.SetBasicAuth(c.creds.Key, c.creds.Secret)
	req.Header.Set("Accept", "text/event-stream")

	// No client timeout on the streaming request itself; cancellation comes
	// through the context.
	streamClient := &http.Client{Transport: c.httpc.Transport}
	resp, err := streamClient.Do(req)
	if err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("connect: unexpected status %s", resp.Status)
	}
	monitoring.Logf("live stream connected")

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if payload == "" {
			continue
		}

		var envelope struct {
			Result struct {
				Event engine.RawRecord `json:"event"`
			} `json:"result"`
		}
		if err := json.Unmarshal([]byte(payload), &envelope); err != nil {
			monitoring.Debugf("live stream: skipping undecodable frame: %v", err)
			continue
		}
		if err := handler(envelope.Result.Event); err != nil {
			return &handlerError{err: err}
		}
		*attempts = 0
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read: %w", err)
	}
	return fmt.Errorf("stream closed by server")
}
