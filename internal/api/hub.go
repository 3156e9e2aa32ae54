package api

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nerrad567/akuvox-access-core/internal/infrastructure/config"
	"github.com/nerrad567/akuvox-access-core/internal/infrastructure/logging"
)

// Event channels clients can subscribe to.
const (
	ChannelSyncCompleted    = "sync.completed"
	ChannelIntegrityChecked = "integrity.checked"
	ChannelAccessEvent      = "access.event"
	ChannelDeviceHealth     = "device.health"
)

var knownChannels = map[string]bool{
	ChannelSyncCompleted:    true,
	ChannelIntegrityChecked: true,
	ChannelAccessEvent:      true,
	ChannelDeviceHealth:     true,
}

// retainedChannels replay their most recent event to new subscribers, the
// same way the matching MQTT topics are published retained.
var retainedChannels = map[string]bool{
	ChannelSyncCompleted:    true,
	ChannelIntegrityChecked: true,
}

// hubQueueSize bounds events waiting for the hub loop.
const hubQueueSize = 64

type membership struct {
	client *WSClient
	done   chan struct{}
}

type outbound struct {
	channel string
	data    []byte
}

// Hub tracks WebSocket clients and delivers events to their subscriptions.
// The client set is owned by the Run goroutine; other goroutines talk to it
// over channels.
type Hub struct {
	cfg    config.WebSocketConfig
	logger *logging.Logger

	register   chan membership
	unregister chan membership
	events     chan outbound
	stopped    chan struct{}

	clients map[*WSClient]struct{}
	count   atomic.Int64

	retainedMu sync.RWMutex
	retained   map[string][]byte
}

// NewHub creates a hub. Call Run before registering clients.
func NewHub(cfg config.WebSocketConfig, logger *logging.Logger) *Hub {
	return &Hub{
		cfg:        cfg,
		logger:     logger,
		register:   make(chan membership),
		unregister: make(chan membership),
		events:     make(chan outbound, hubQueueSize),
		stopped:    make(chan struct{}),
		clients:    make(map[*WSClient]struct{}),
		retained:   make(map[string][]byte),
	}
}

// Run owns the client set until ctx is cancelled, then disconnects everyone.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.stopped)

	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return

		case m := <-h.register:
			h.clients[m.client] = struct{}{}
			h.count.Store(int64(len(h.clients)))
			close(m.done)
			h.logger.Debug("websocket client connected", "clients", len(h.clients))

		case m := <-h.unregister:
			if _, ok := h.clients[m.client]; ok {
				delete(h.clients, m.client)
				close(m.client.send)
			}
			h.count.Store(int64(len(h.clients)))
			close(m.done)
			h.logger.Debug("websocket client disconnected", "clients", len(h.clients))

		case ev := <-h.events:
			h.deliver(ev)
		}
	}
}

// Register adds a client. It returns false once the hub has stopped.
func (h *Hub) Register(client *WSClient) bool {
	return h.submit(h.register, client)
}

// Unregister removes a client and closes its send channel. Safe to call
// more than once and after the hub has stopped.
func (h *Hub) Unregister(client *WSClient) {
	h.submit(h.unregister, client)
}

func (h *Hub) submit(ch chan membership, client *WSClient) bool {
	m := membership{client: client, done: make(chan struct{})}
	select {
	case ch <- m:
	case <-h.stopped:
		return false
	}
	<-m.done
	return true
}

// Broadcast queues an event for every client subscribed to channel. It never
// blocks: when the queue is full the event is dropped and logged.
func (h *Hub) Broadcast(channel string, payload any) {
	data, err := json.Marshal(WSMessage{
		Type:      WSTypeEvent,
		EventType: channel,
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
		Payload:   payload,
	})
	if err != nil {
		h.logger.Error("failed to encode websocket event", "channel", channel, "error", err)
		return
	}

	if retainedChannels[channel] {
		h.retainedMu.Lock()
		h.retained[channel] = data
		h.retainedMu.Unlock()
	}

	select {
	case h.events <- outbound{channel: channel, data: data}:
	case <-h.stopped:
	default:
		h.logger.Warn("websocket event queue full, dropping event", "channel", channel)
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	return int(h.count.Load())
}

// latest returns the retained events for the given channels.
func (h *Hub) latest(channels []string) [][]byte {
	h.retainedMu.RLock()
	defer h.retainedMu.RUnlock()

	var out [][]byte
	for _, ch := range channels {
		if data, ok := h.retained[ch]; ok {
			out = append(out, data)
		}
	}
	return out
}

func (h *Hub) deliver(ev outbound) {
	recipients := 0
	for client := range h.clients {
		if !client.isSubscribed(ev.channel) {
			continue
		}
		select {
		case client.send <- ev.data:
			recipients++
		default:
			h.logger.Warn("websocket client buffer full, event dropped", "channel", ev.channel)
		}
	}
	if recipients > 0 {
		h.logger.Debug("websocket event delivered", "channel", ev.channel, "recipients", recipients)
	}
}

func (h *Hub) closeAll() {
	for client := range h.clients {
		close(client.send)
		if client.conn != nil {
			client.conn.Close()
		}
		delete(h.clients, client)
	}
	h.count.Store(0)
}
