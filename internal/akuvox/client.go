package akuvox

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"golang.org/x/sync/singleflight"
)

// Default timeouts.
const (
	DefaultProbeTimeout   = 5 * time.Second
	DefaultRequestTimeout = 15 * time.Second
)

// Candidate paths for the action API and for reachability probes.
var (
	actionPaths = []string{"/api/", "/action"}
	probePaths  = []string{"/api/system/status", "/api/", "/action"}
)

// Logger is the logging interface used by the client.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Config holds the connection details for one device.
type Config struct {
	Host      string
	Port      int
	Scheme    string
	VerifyTLS bool
	Username  string
	Password  string

	ProbeTimeout   time.Duration
	RequestTimeout time.Duration
}

// Endpoint is one scheme/port/verification combination.
type Endpoint struct {
	Scheme    string `json:"scheme"`
	Port      int    `json:"port"`
	VerifyTLS bool   `json:"verify_tls"`
}

// String implements fmt.Stringer.
func (e Endpoint) String() string {
	s := e.Scheme + ":" + strconv.Itoa(e.Port)
	if e.Scheme == "https" && !e.VerifyTLS {
		s += " (no verify)"
	}
	return s
}

func (e Endpoint) baseURL(host string) string {
	return e.Scheme + "://" + net.JoinHostPort(host, strconv.Itoa(e.Port))
}

// fallbackLadder is tried after the pinned and configured endpoints.
var fallbackLadder = []Endpoint{
	{Scheme: "https", Port: 443, VerifyTLS: false},
	{Scheme: "https", Port: 443, VerifyTLS: true},
	{Scheme: "http", Port: 80},
}

// Client is a DeviceProtocolClient for a single Akuvox device.
//
// Thread Safety:
//   - All methods are safe for concurrent use. Concurrent first-time
//     detections share a single probe run.
type Client struct {
	cfg        Config
	configured Endpoint
	fallbacks  []Endpoint
	logger     Logger

	// http holds one resty client per TLS verification mode.
	http map[bool]*resty.Client

	mu      sync.RWMutex
	working *Endpoint

	detectGroup singleflight.Group
}

// New creates a client for the device described by cfg. No network traffic
// happens until the first call.
func New(cfg Config) *Client {
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = DefaultProbeTimeout
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = DefaultRequestTimeout
	}

	c := &Client{
		cfg:        cfg,
		configured: configuredEndpoint(cfg),
		fallbacks:  fallbackLadder,
		logger:     noopLogger{},
		http: map[bool]*resty.Client{
			true:  newRestyClient(cfg, true),
			false: newRestyClient(cfg, false),
		},
	}
	return c
}

func newRestyClient(cfg Config, verify bool) *resty.Client {
	rc := resty.New().
		SetTLSClientConfig(&tls.Config{InsecureSkipVerify: !verify}). //nolint:gosec // devices commonly ship self-signed certificates
		SetHeader("Accept", "application/json").
		SetRetryCount(0)
	if cfg.Username != "" {
		rc.SetBasicAuth(cfg.Username, cfg.Password)
	}
	return rc
}

// configuredEndpoint fills in the missing half of a scheme/port pair.
func configuredEndpoint(cfg Config) Endpoint {
	scheme := strings.ToLower(cfg.Scheme)
	port := cfg.Port
	switch {
	case scheme == "" && port == 443:
		scheme = "https"
	case scheme == "":
		scheme = "http"
	}
	if port == 0 {
		port = 80
		if scheme == "https" {
			port = 443
		}
	}
	return Endpoint{Scheme: scheme, Port: port, VerifyTLS: cfg.VerifyTLS}
}

// SetLogger sets the logger for the client.
func (c *Client) SetLogger(logger Logger) {
	if logger == nil {
		logger = noopLogger{}
	}
	c.logger = logger
}

// Host returns the device host.
func (c *Client) Host() string {
	return c.cfg.Host
}

// Working returns the pinned endpoint, if one has been found.
func (c *Client) Working() (Endpoint, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.working == nil {
		return Endpoint{}, false
	}
	return *c.working, true
}

// Invalidate forgets the pinned endpoint so the next call re-detects.
func (c *Client) Invalidate() {
	c.mu.Lock()
	c.working = nil
	c.mu.Unlock()
}

func (c *Client) pin(ep Endpoint) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.working != nil && *c.working == ep {
		return
	}
	c.working = &ep
	c.logger.Info("device endpoint pinned", "host", c.cfg.Host, "endpoint", ep.String())
}

// candidates returns endpoints in attempt order with duplicates removed.
func (c *Client) candidates(includePinned bool) []Endpoint {
	list := make([]Endpoint, 0, len(c.fallbacks)+2)
	if includePinned {
		if ep, ok := c.Working(); ok {
			list = append(list, ep)
		}
	}
	list = append(list, c.configured)
	list = append(list, c.fallbacks...)

	out := list[:0]
	seen := make(map[Endpoint]bool, len(list))
	for _, ep := range list {
		if seen[ep] {
			continue
		}
		seen[ep] = true
		out = append(out, ep)
	}
	return out
}

// Detect finds a reachable endpoint and pins it. A pinned endpoint is
// returned immediately until Invalidate is called.
func (c *Client) Detect(ctx context.Context) (Endpoint, error) {
	if ep, ok := c.Working(); ok {
		return ep, nil
	}

	v, err, _ := c.detectGroup.Do("detect", func() (any, error) {
		if ep, ok := c.Working(); ok {
			return ep, nil
		}
		for _, ep := range c.candidates(false) {
			for _, path := range probePaths {
				if ctx.Err() != nil {
					return nil, ctx.Err()
				}
				status, err := c.probe(ctx, ep, path)
				if err != nil {
					c.logger.Debug("probe failed", "host", c.cfg.Host, "endpoint", ep.String(), "path", path, "error", err)
					continue
				}
				if status >= http.StatusOK && status < http.StatusInternalServerError {
					detectionsTotal.WithLabelValues("found").Inc()
					c.pin(ep)
					return ep, nil
				}
			}
		}
		detectionsTotal.WithLabelValues("unreachable").Inc()
		return nil, fmt.Errorf("%w: %s", ErrUnreachable, c.cfg.Host)
	})
	if err != nil {
		return Endpoint{}, err
	}
	return v.(Endpoint), nil //nolint:forcetypeassert // only Endpoint is returned above
}

// probe issues a GET with the probe timeout and returns the status code.
func (c *Client) probe(ctx context.Context, ep Endpoint, path string) (int, error) {
	pctx, cancel := context.WithTimeout(ctx, c.cfg.ProbeTimeout)
	defer cancel()

	resp, err := c.http[ep.VerifyTLS].R().SetContext(pctx).Get(ep.baseURL(c.cfg.Host) + path)
	if err != nil {
		return 0, err
	}
	return resp.StatusCode(), nil
}

// request sends payload to every candidate base and path until one answers
// with a 2xx status. Per-attempt errors are logged and swallowed.
func (c *Client) request(ctx context.Context, method string, paths []string, payload any) ([]byte, error) {
	if _, ok := c.Working(); !ok {
		if _, err := c.Detect(ctx); err != nil {
			c.logger.Debug("detection failed, walking fallback ladder", "host", c.cfg.Host, "error", err)
		}
	}

	if payload != nil {
		c.logger.Debug("device request", "host", c.cfg.Host, "method", method, "payload", redact(payload))
	}

	var lastErr error
	for _, ep := range c.candidates(true) {
		for _, path := range paths {
			if err := ctx.Err(); err != nil {
				return nil, err
			}

			body, err := c.attempt(ctx, ep, method, path, payload)
			if err != nil {
				requestsTotal.WithLabelValues("failure").Inc()
				c.logger.Debug("device attempt failed", "host", c.cfg.Host, "endpoint", ep.String(), "path", path, "error", err)
				lastErr = err
				continue
			}

			requestsTotal.WithLabelValues("success").Inc()
			c.pin(ep)
			return body, nil
		}
	}

	requestsTotal.WithLabelValues("exhausted").Inc()
	return nil, fmt.Errorf("%w: %s %s %v: %v", ErrAllAttemptsFailed, method, c.cfg.Host, paths, lastErr)
}

func (c *Client) attempt(ctx context.Context, ep Endpoint, method, path string, payload any) ([]byte, error) {
	rctx, cancel := context.WithTimeout(ctx, c.cfg.RequestTimeout)
	defer cancel()

	req := c.http[ep.VerifyTLS].R().SetContext(rctx)
	if payload != nil {
		req.SetHeader("Content-Type", "application/json").SetBody(payload)
	}

	resp, err := req.Execute(method, ep.baseURL(c.cfg.Host)+path)
	if err != nil {
		return nil, err
	}
	if !resp.IsSuccess() {
		return nil, fmt.Errorf("status %d", resp.StatusCode())
	}
	return resp.Body(), nil
}

// post sends a mutating action envelope. Plain-text replies count as
// success; JSON replies are checked for a rejecting retcode.
func (c *Client) post(ctx context.Context, target, action string, data any) error {
	body, err := c.request(ctx, http.MethodPost, actionPaths, request{Target: target, Action: action, Data: data})
	if err != nil {
		return err
	}
	if err := checkAction(body); err != nil {
		return fmt.Errorf("%s %s: %w", target, action, err)
	}
	return nil
}

// query reads target's data.item list with the "get" action, falling back
// to the read-only GET path when the action fails or its reply does not
// decode.
func (c *Client) query(ctx context.Context, target, getPath string) ([]Record, error) {
	body, err := c.request(ctx, http.MethodPost, actionPaths, request{Target: target, Action: "get"})
	if err == nil {
		records, decodeErr := decodeItems(body)
		if decodeErr == nil {
			return records, nil
		}
		err = decodeErr
	}

	body, getErr := c.request(ctx, http.MethodGet, []string{getPath}, nil)
	if getErr != nil {
		return nil, errors.Join(err, getErr)
	}
	return decodeItems(body)
}

// sensitiveKeys are replaced before payloads reach a log line.
var sensitiveKeys = map[string]bool{"privatepin": true, "password": true}

// redact returns a JSON-shaped copy of payload with credential fields masked.
func redact(payload any) any {
	b, err := json.Marshal(payload)
	if err != nil {
		return "[unloggable payload]"
	}
	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		return "[unloggable payload]"
	}
	return redactValue(v)
}

func redactValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		for k, inner := range t {
			if sensitiveKeys[strings.ToLower(k)] {
				if s, ok := inner.(string); ok && s == "" {
					continue
				}
				t[k] = "[REDACTED]"
				continue
			}
			t[k] = redactValue(inner)
		}
		return t
	case []any:
		for i, inner := range t {
			t[i] = redactValue(inner)
		}
		return t
	default:
		return v
	}
}

// isTransportError reports whether err means the device never answered.
func isTransportError(err error) bool {
	return errors.Is(err, ErrAllAttemptsFailed) || errors.Is(err, ErrUnreachable)
}
