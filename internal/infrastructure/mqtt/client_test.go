package mqtt

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/akuvox-access-core/internal/infrastructure/config"
)

func testConfig() config.MQTTConfig {
	return config.MQTTConfig{
		Enabled: true,
		Broker: config.MQTTBrokerConfig{
			Host:     "127.0.0.1",
			Port:     1883,
			ClientID: "akuvox-test",
		},
		QoS: 1,
		Reconnect: config.MQTTReconnectConfig{
			InitialDelay: 1,
			MaxDelay:     5,
		},
	}
}

func TestTopics(t *testing.T) {
	topics := Topics{}
	tests := []struct {
		got, want string
	}{
		{topics.SystemStatus(), "akuvox/system/status"},
		{topics.DeviceSync("front-gate"), "akuvox/device/front-gate/sync"},
		{topics.DeviceIntegrity("front-gate"), "akuvox/device/front-gate/integrity"},
		{topics.AccessEvent(), "akuvox/event/access"},
		{topics.SyncCommand(), "akuvox/command/sync"},
		{topics.AllDeviceSyncs(), "akuvox/device/+/sync"},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("topic = %q, want %q", tt.got, tt.want)
		}
	}
}

func TestBuildClientOptions(t *testing.T) {
	cfg := testConfig()
	cfg.Auth = config.MQTTAuthConfig{Username: "core", Password: "secret"}

	opts := buildClientOptions(cfg)

	if len(opts.Servers) != 1 || opts.Servers[0].String() != "tcp://127.0.0.1:1883" {
		t.Errorf("Servers = %v, want tcp://127.0.0.1:1883", opts.Servers)
	}
	if opts.ClientID != "akuvox-test" {
		t.Errorf("ClientID = %q", opts.ClientID)
	}
	if opts.Username != "core" || opts.Password != "secret" {
		t.Error("credentials not applied")
	}
	if !opts.CleanSession || !opts.AutoReconnect {
		t.Error("expected clean session with auto-reconnect")
	}
	if opts.MaxReconnectInterval != 5*time.Second {
		t.Errorf("MaxReconnectInterval = %v, want 5s", opts.MaxReconnectInterval)
	}
	if opts.TLSConfig != nil && opts.TLSConfig.MinVersion != 0 {
		t.Error("TLS configured for a plain broker")
	}

	if !opts.WillEnabled || opts.WillTopic != "akuvox/system/status" || !opts.WillRetained {
		t.Errorf("will = %v %q retained=%v", opts.WillEnabled, opts.WillTopic, opts.WillRetained)
	}
	var will systemStatus
	if err := json.Unmarshal(opts.WillPayload, &will); err != nil {
		t.Fatalf("will payload: %v", err)
	}
	if will.Status != "offline" || will.Reason != "unexpected_disconnect" || will.ClientID != "akuvox-test" {
		t.Errorf("will = %+v", will)
	}
}

func TestBuildClientOptions_TLS(t *testing.T) {
	cfg := testConfig()
	cfg.Broker.TLS = true
	cfg.Broker.Port = 8883

	opts := buildClientOptions(cfg)
	if opts.Servers[0].String() != "ssl://127.0.0.1:8883" {
		t.Errorf("Servers[0] = %v", opts.Servers[0])
	}
	if opts.TLSConfig == nil || opts.TLSConfig.MinVersion != tlsMinVersion {
		t.Error("expected TLS 1.2 minimum")
	}
	if opts.Username != "" {
		t.Error("anonymous config should not set a username")
	}
}

func TestStatusPayload(t *testing.T) {
	var s systemStatus
	if err := json.Unmarshal(statusPayload("core", "online", ""), &s); err != nil {
		t.Fatal(err)
	}
	if s.Status != "online" || s.ClientID != "core" || s.Reason != "" {
		t.Errorf("payload = %+v", s)
	}
	if _, err := time.Parse(time.RFC3339, s.Timestamp); err != nil {
		t.Errorf("timestamp %q: %v", s.Timestamp, err)
	}
}

func TestDisconnectedClient(t *testing.T) {
	c := newClient(testConfig())
	noop := func(string, []byte) error { return nil }

	tests := []struct {
		name string
		err  error
		want error
	}{
		{"publish empty topic", c.Publish("", nil, 1, false), ErrInvalidTopic},
		{"publish bad qos", c.Publish("a", nil, 3, false), ErrInvalidQoS},
		{"publish oversized", c.Publish("a", make([]byte, maxPayloadSize+1), 1, false), ErrPublishFailed},
		{"publish disconnected", c.Publish("a", []byte("x"), 1, false), ErrNotConnected},
		{"publish json", c.PublishJSON("a", map[string]int{"n": 1}, false), ErrNotConnected},
		{"publish unmarshalable", c.PublishJSON("a", make(chan int), false), ErrPublishFailed},
		{"subscribe empty topic", c.Subscribe("", 1, noop), ErrInvalidTopic},
		{"subscribe nil handler", c.Subscribe("a", 1, nil), ErrSubscribeFailed},
		{"subscribe disconnected", c.Subscribe("a", 1, noop), ErrNotConnected},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if !errors.Is(tt.err, tt.want) {
				t.Errorf("error = %v, want %v", tt.err, tt.want)
			}
		})
	}

	if c.HasSubscription("a") {
		t.Error("failed subscribe must not be tracked")
	}
	if err := c.Close(); err != nil {
		t.Errorf("Close() on unconnected client = %v", err)
	}
}

type recordingLogger struct {
	mu    sync.Mutex
	warns []string
	errs  []string
}

func (l *recordingLogger) Info(string, ...any) {}
func (l *recordingLogger) Warn(msg string, _ ...any) {
	l.mu.Lock()
	l.warns = append(l.warns, msg)
	l.mu.Unlock()
}
func (l *recordingLogger) Error(msg string, _ ...any) {
	l.mu.Lock()
	l.errs = append(l.errs, msg)
	l.mu.Unlock()
}

func TestDispatch(t *testing.T) {
	c := newClient(testConfig())
	log := &recordingLogger{}
	c.SetLogger(log)

	var got string
	c.dispatch(func(topic string, payload []byte) error {
		got = topic + "=" + string(payload)
		return nil
	}, "akuvox/command/sync", []byte("{}"))
	if got != "akuvox/command/sync={}" {
		t.Errorf("handler saw %q", got)
	}

	c.dispatch(func(string, []byte) error { return errors.New("bad payload") }, "t", nil)
	c.dispatch(func(string, []byte) error { panic("boom") }, "t", nil)

	if len(log.warns) != 1 {
		t.Errorf("warns = %v, want one handler error", log.warns)
	}
	if len(log.errs) != 1 {
		t.Errorf("errors = %v, want one recovered panic", log.errs)
	}
}
