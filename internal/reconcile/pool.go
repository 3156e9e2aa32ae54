package reconcile

import (
	"context"
	"sync"
	"time"

	"github.com/nerrad567/akuvox-access-core/internal/akuvox"
	"github.com/nerrad567/akuvox-access-core/internal/device"
)

// DeviceClient is the part of the device protocol the engine drives.
// *akuvox.Client satisfies it.
type DeviceClient interface {
	UserList(ctx context.Context) ([]akuvox.Record, error)
	UserAdd(ctx context.Context, items []akuvox.UserItem) error
	UserDelete(ctx context.Context, key string) error
	ScheduleList(ctx context.Context) ([]akuvox.Record, error)
	ScheduleAdd(ctx context.Context, items []akuvox.ScheduleItem) error
	ScheduleSet(ctx context.Context, items []akuvox.ScheduleItem) error
	ContactAdd(ctx context.Context, items []akuvox.ContactItem) error
	ContactSet(ctx context.Context, items []akuvox.ContactItem) error
	SystemInfo(ctx context.Context) (akuvox.Record, error)
	SystemReboot(ctx context.Context) error
	DoorLog(ctx context.Context) ([]akuvox.Record, error)
	Working() (akuvox.Endpoint, bool)
}

// ClientSource hands out a protocol client per device.
type ClientSource interface {
	Client(rec *device.Record) DeviceClient
}

// Pool caches one *akuvox.Client per device so detected endpoints survive
// between passes. A client is rebuilt when the device's connection changes.
type Pool struct {
	mu             sync.Mutex
	clients        map[string]pooledClient
	probeTimeout   time.Duration
	requestTimeout time.Duration
	logger         akuvox.Logger
}

type pooledClient struct {
	conn   device.Connection
	client *akuvox.Client
}

// NewPool creates an empty client pool.
func NewPool(probeTimeout, requestTimeout time.Duration) *Pool {
	return &Pool{
		clients:        make(map[string]pooledClient),
		probeTimeout:   probeTimeout,
		requestTimeout: requestTimeout,
	}
}

// SetLogger sets the logger handed to every client created afterwards.
func (p *Pool) SetLogger(logger akuvox.Logger) {
	p.mu.Lock()
	p.logger = logger
	p.mu.Unlock()
}

// Client implements ClientSource.
func (p *Pool) Client(rec *device.Record) DeviceClient {
	return p.Akuvox(rec)
}

// Akuvox returns the concrete client for rec, for callers that need
// diagnostics beyond DeviceClient.
func (p *Pool) Akuvox(rec *device.Record) *akuvox.Client {
	p.mu.Lock()
	defer p.mu.Unlock()

	if pc, ok := p.clients[rec.ID]; ok && pc.conn == rec.Connection {
		return pc.client
	}

	c := akuvox.New(akuvox.Config{
		Host:           rec.Connection.Host,
		Port:           rec.Connection.Port,
		Scheme:         rec.Connection.Scheme,
		VerifyTLS:      rec.Connection.VerifyTLS,
		Username:       rec.Connection.Username,
		Password:       rec.Connection.Password,
		ProbeTimeout:   p.probeTimeout,
		RequestTimeout: p.requestTimeout,
	})
	if p.logger != nil {
		c.SetLogger(p.logger)
	}
	p.clients[rec.ID] = pooledClient{conn: rec.Connection, client: c}
	return c
}

// Reboot restarts one device.
func (p *Pool) Reboot(ctx context.Context, rec *device.Record) error {
	return p.Akuvox(rec).SystemReboot(ctx)
}

// Diagnose probes every endpoint of one device and re-pins the first that
// answers.
func (p *Pool) Diagnose(ctx context.Context, rec *device.Record) akuvox.Diagnostics {
	return p.Akuvox(rec).Diagnose(ctx)
}
