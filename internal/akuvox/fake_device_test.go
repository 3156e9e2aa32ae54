package akuvox

import (
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
)

// fakeDevice emulates the action API of an Akuvox device.
type fakeDevice struct {
	mu        sync.Mutex
	users     []map[string]any
	schedules []map[string]any
	contacts  []map[string]any
	doorlog   []map[string]any
	nextID    int
	requests  []request
	// paths that answer 404, e.g. "/api/" to force the /action fallback
	missing map[string]bool
	// actions that answer retcode -1, keyed "target/action"
	reject  map[string]bool
	reboots int
}

func newFakeDevice() *fakeDevice {
	return &fakeDevice{nextID: 1, missing: map[string]bool{}, reject: map[string]bool{}}
}

func (d *fakeDevice) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.missing[r.URL.Path] {
		http.NotFound(w, r)
		return
	}

	switch {
	case r.Method == http.MethodGet && r.URL.Path == "/api/system/status":
		writeReply(w, 0, nil)
	case r.Method == http.MethodGet && r.URL.Path == "/api/system/info":
		writeReply(w, 0, map[string]any{"Model": "A05", "FirmwareVersion": "105.30.1.22"})
	case r.Method == http.MethodGet && r.URL.Path == "/api/user/get":
		writeReply(w, 0, map[string]any{"item": d.users})
	case r.Method == http.MethodPost && (r.URL.Path == "/api/" || r.URL.Path == "/action"):
		var req struct {
			Target string `json:"target"`
			Action string `json:"action"`
			Data   struct {
				Item []map[string]any `json:"item"`
			} `json:"data"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		d.requests = append(d.requests, request{Target: req.Target, Action: req.Action, Data: req.Data.Item})
		if d.reject[req.Target+"/"+req.Action] {
			writeReply(w, -1, nil)
			return
		}
		d.handleAction(w, req.Target, req.Action, req.Data.Item)
	case r.Method == http.MethodGet:
		// Probe paths on a real device answer 200 or 401.
		w.WriteHeader(http.StatusUnauthorized)
	default:
		http.NotFound(w, r)
	}
}

func (d *fakeDevice) handleAction(w http.ResponseWriter, target, action string, items []map[string]any) {
	store := map[string]*[]map[string]any{
		"user":     &d.users,
		"schedule": &d.schedules,
		"contact":  &d.contacts,
		"doorlog":  &d.doorlog,
	}

	if target == "system" && action == "reboot" {
		d.reboots++
		writeReply(w, 0, nil)
		return
	}

	list, ok := store[target]
	if !ok {
		writeReply(w, -1, nil)
		return
	}

	switch action {
	case "get", "list":
		writeReply(w, 0, map[string]any{"item": *list})
	case "add":
		for _, item := range items {
			item["ID"] = strconv.Itoa(d.nextID)
			d.nextID++
			*list = append(*list, item)
		}
		writeReply(w, 0, nil)
	case "set":
		for _, item := range items {
			for i, existing := range *list {
				if existing["ID"] == item["ID"] {
					(*list)[i] = item
				}
			}
		}
		writeReply(w, 0, nil)
	case "del":
		for _, item := range items {
			kept := (*list)[:0]
			for _, existing := range *list {
				if existing["ID"] != item["ID"] {
					kept = append(kept, existing)
				}
			}
			*list = kept
		}
		writeReply(w, 0, nil)
	default:
		writeReply(w, -1, nil)
	}
}

func (d *fakeDevice) actions() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]string, 0, len(d.requests))
	for _, r := range d.requests {
		out = append(out, r.Target+"/"+r.Action)
	}
	return out
}

func writeReply(w http.ResponseWriter, retcode int, data any) {
	w.Header().Set("Content-Type", "application/json")
	msg := "OK"
	if retcode < 0 {
		msg = "error"
	}
	_ = json.NewEncoder(w).Encode(map[string]any{"retcode": retcode, "message": msg, "data": data}) //nolint:errcheck // test server
}

// newTestClient starts dev behind an httptest server and returns a client
// configured for it with the fallback ladder disabled.
func newTestClient(t *testing.T, dev http.Handler) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(dev)
	t.Cleanup(srv.Close)

	host, portStr, err := net.SplitHostPort(srv.Listener.Addr().String())
	if err != nil {
		t.Fatalf("split host port: %v", err)
	}
	port, _ := strconv.Atoi(portStr) //nolint:errcheck // listener port is numeric

	c := New(Config{Host: host, Port: port, Scheme: "http"})
	c.fallbacks = nil
	return c, srv
}
