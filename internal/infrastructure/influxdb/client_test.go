package influxdb

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/nerrad567/akuvox-access-core/internal/infrastructure/config"
)

// fakeInflux answers /ping and captures line protocol bodies posted to
// /api/v2/write.
func fakeInflux(t *testing.T, pingStatus int) (*httptest.Server, <-chan string) {
	t.Helper()
	bodies := make(chan string, 16)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/ping":
			w.WriteHeader(pingStatus)
		case "/api/v2/write":
			b, _ := io.ReadAll(r.Body) //nolint:errcheck // test server
			bodies <- string(b)
			w.WriteHeader(http.StatusNoContent)
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return srv, bodies
}

func testConfig(url string) config.InfluxDBConfig {
	return config.InfluxDBConfig{
		Enabled:       true,
		URL:           url,
		Token:         "test-token",
		Org:           "akuvox",
		Bucket:        "access",
		BatchSize:     10,
		FlushInterval: 1,
	}
}

func TestConnect_Disabled(t *testing.T) {
	cfg := testConfig("http://127.0.0.1:1")
	cfg.Enabled = false

	if _, err := Connect(cfg); !errors.Is(err, ErrDisabled) {
		t.Errorf("Connect() error = %v, want ErrDisabled", err)
	}
}

func TestConnect_Unhealthy(t *testing.T) {
	srv, _ := fakeInflux(t, http.StatusServiceUnavailable)

	if _, err := Connect(testConfig(srv.URL)); !errors.Is(err, ErrConnectionFailed) {
		t.Errorf("Connect() error = %v, want ErrConnectionFailed", err)
	}
}

func TestWriteSyncResult_Delivered(t *testing.T) {
	srv, bodies := fakeInflux(t, http.StatusNoContent)

	c, err := Connect(testConfig(srv.URL))
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer c.Close()

	if err := c.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck() = %v", err)
	}

	c.WriteSyncResult(SyncPoint{DeviceID: "gate", OK: true, Added: 2, Time: time.Unix(1700000000, 0)})
	c.Flush()

	select {
	case body := <-bodies:
		if !strings.Contains(body, "sync_result,device_id=gate") || !strings.Contains(body, "added=2i") {
			t.Errorf("body = %q", body)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no write received")
	}
}

func TestConnect_DefaultTag(t *testing.T) {
	srv, bodies := fakeInflux(t, http.StatusNoContent)

	c, err := Connect(testConfig(srv.URL), WithDefaultTag("site", "site-001"), WithDefaultTag("empty", ""))
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer c.Close()

	c.WriteAccessEvent(AccessPoint{DeviceID: "gate", UserID: "HA001", Time: time.Unix(1700000000, 0)})
	c.Flush()

	select {
	case body := <-bodies:
		if !strings.Contains(body, "site=site-001") {
			t.Errorf("body %q missing default site tag", body)
		}
		if strings.Contains(body, "empty=") {
			t.Errorf("body %q carries an empty default tag", body)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no write received")
	}
}

func TestClose(t *testing.T) {
	srv, _ := fakeInflux(t, http.StatusNoContent)

	c, err := Connect(testConfig(srv.URL))
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	if err := c.Close(); err != nil {
		t.Fatalf("Close() = %v", err)
	}
	if err := c.Close(); err != nil {
		t.Fatalf("second Close() = %v", err)
	}

	if c.IsConnected() {
		t.Error("IsConnected() = true after Close()")
	}
	if err := c.HealthCheck(context.Background()); !errors.Is(err, ErrNotConnected) {
		t.Errorf("HealthCheck() = %v, want ErrNotConnected", err)
	}
	// Writes and flushes after close are dropped.
	c.WriteAccessEvent(AccessPoint{DeviceID: "gate"})
	c.Flush()
}

func TestClose_Nil(t *testing.T) {
	if err := (&Client{}).Close(); err != nil {
		t.Errorf("Close() = %v", err)
	}
}

func TestSyncResultPoint(t *testing.T) {
	at := time.Unix(1700000000, 0)
	tests := []struct {
		name  string
		point SyncPoint
		want  []string
	}{
		{
			name:  "full ok pass",
			point: SyncPoint{DeviceID: "gate", Full: true, OK: true, Added: 1, Unchanged: 3, Duration: 1500 * time.Millisecond, Time: at},
			want:  []string{"sync_result,device_id=gate,kind=full,result=ok", "added=1i", "unchanged=3i", "duration_ms=1500i", "stale=false"},
		},
		{
			name:  "failed stale pass",
			point: SyncPoint{DeviceID: "keypad", Stale: true, Failed: 2, Time: at},
			want:  []string{"kind=incremental,result=error", "failed=2i", "stale=true"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			line := write.PointToLineProtocol(syncResultPoint(tt.point), time.Second)
			for _, w := range tt.want {
				if !strings.Contains(line, w) {
					t.Errorf("line %q missing %q", line, w)
				}
			}
			if !strings.Contains(line, " 1700000000") {
				t.Errorf("line %q not stamped with the pass time", line)
			}
		})
	}
}

func TestAccessEventPoint(t *testing.T) {
	line := write.PointToLineProtocol(accessEventPoint(AccessPoint{
		DeviceID: "gate",
		UserID:   "HA001",
		Name:     "Alice",
		Method:   "PIN",
		Result:   "Success",
		Door:     "1",
		Time:     time.Unix(1700000000, 0),
	}), time.Second)

	for _, w := range []string{
		"access_event,device_id=gate,method=PIN,result=Success",
		`user_id="HA001"`,
		`name="Alice"`,
		" 1700000000",
	} {
		if !strings.Contains(line, w) {
			t.Errorf("line %q missing %q", line, w)
		}
	}

	// Unparsed event times arrive as the epoch and are restamped.
	p := accessEventPoint(AccessPoint{DeviceID: "gate", Time: time.Unix(0, 0)})
	if p.Time().Unix() == 0 {
		t.Error("epoch event time was not replaced")
	}
	if len(p.TagList()) != 1 {
		t.Errorf("tags = %v, want device_id only", p.TagList())
	}
}
