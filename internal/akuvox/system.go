package akuvox

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// ContactAdd creates phonebook entries on an intercom.
func (c *Client) ContactAdd(ctx context.Context, items []ContactItem) error {
	if len(items) == 0 {
		return nil
	}
	if err := c.post(ctx, "contact", "add", itemList[ContactItem]{Item: items}); err != nil {
		return fmt.Errorf("adding contacts: %w", err)
	}
	return nil
}

// ContactSet replaces phonebook entries on an intercom.
func (c *Client) ContactSet(ctx context.Context, items []ContactItem) error {
	if len(items) == 0 {
		return nil
	}
	if err := c.post(ctx, "contact", "set", itemList[ContactItem]{Item: items}); err != nil {
		return fmt.Errorf("updating contacts: %w", err)
	}
	return nil
}

// DoorLog returns the device's recent door events.
func (c *Client) DoorLog(ctx context.Context) ([]Record, error) {
	records, err := c.query(ctx, "doorlog", "/api/doorlog/get")
	if err != nil {
		return nil, fmt.Errorf("reading door log: %w", err)
	}
	return records, nil
}

// SystemInfo returns the device's model and firmware details.
func (c *Client) SystemInfo(ctx context.Context) (Record, error) {
	body, err := c.request(ctx, http.MethodGet, []string{"/api/system/info"}, nil)
	if err != nil {
		return nil, fmt.Errorf("reading system info: %w", err)
	}
	info, err := decodeObject(body)
	if err != nil {
		return nil, fmt.Errorf("reading system info: %w", err)
	}
	return info, nil
}

// IsKeypadModel reports whether a model string names a keypad-class device.
// Akuvox access keypads are the A-series; everything else is treated as an
// intercom.
func IsKeypadModel(model string) bool {
	m := strings.ToUpper(strings.TrimSpace(model))
	return strings.HasPrefix(m, "A0") || strings.HasPrefix(m, "A9")
}

// SystemReboot asks the device to restart.
func (c *Client) SystemReboot(ctx context.Context) error {
	if err := c.post(ctx, "system", "reboot", nil); err != nil {
		return fmt.Errorf("rebooting device: %w", err)
	}
	return nil
}

// ProbeResult is one row of a diagnostics run.
type ProbeResult struct {
	Endpoint Endpoint      `json:"endpoint"`
	Path     string        `json:"path"`
	Status   int           `json:"status,omitempty"`
	Error    string        `json:"error,omitempty"`
	Latency  time.Duration `json:"latency_ns"`
}

// Diagnostics summarises a full probe of every endpoint combination.
type Diagnostics struct {
	Host      string        `json:"host"`
	Reachable bool          `json:"reachable"`
	Pinned    *Endpoint     `json:"pinned,omitempty"`
	Results   []ProbeResult `json:"results"`
}

// Diagnose probes every endpoint and path combination, reports each result,
// and re-pins the first reachable endpoint.
func (c *Client) Diagnose(ctx context.Context) Diagnostics {
	d := Diagnostics{Host: c.cfg.Host}
	var first *Endpoint

	for _, ep := range c.candidates(false) {
		for _, path := range probePaths {
			start := time.Now()
			status, err := c.probe(ctx, ep, path)
			res := ProbeResult{Endpoint: ep, Path: path, Status: status, Latency: time.Since(start)}
			if err != nil {
				res.Error = err.Error()
			} else if status < http.StatusInternalServerError && first == nil {
				found := ep
				first = &found
			}
			d.Results = append(d.Results, res)
		}
	}

	if first != nil {
		c.Invalidate()
		c.pin(*first)
		d.Reachable = true
		d.Pinned = first
	}
	return d
}
