package api

import (
	"net/http"
	"runtime"
	"time"

	"github.com/nerrad567/akuvox-access-core/internal/device"
	"github.com/nerrad567/akuvox-access-core/internal/reconcile"
)

// SystemStatus is the dashboard overview returned by GET /status.
type SystemStatus struct {
	Timestamp     string                    `json:"timestamp"`
	Version       string                    `json:"version"`
	UptimeSeconds int64                     `json:"uptime_seconds"`
	Runtime       RuntimeMetrics            `json:"runtime"`
	WebSocket     WSMetrics                 `json:"websocket"`
	MQTT          MQTTMetrics               `json:"mqtt"`
	Devices       device.Stats              `json:"devices"`
	AllInSync     bool                      `json:"all_in_sync"`
	Users         UserMetrics               `json:"users"`
	Sync          reconcile.SchedulerStatus `json:"sync"`
	Database      *DatabaseMetrics          `json:"database,omitempty"`
}

// RuntimeMetrics contains Go runtime statistics.
type RuntimeMetrics struct {
	Goroutines    int     `json:"goroutines"`
	MemoryAllocMB float64 `json:"memory_alloc_mb"`
	NumGC         uint32  `json:"num_gc"`
}

// WSMetrics contains WebSocket hub statistics.
type WSMetrics struct {
	ConnectedClients int `json:"connected_clients"`
}

// MQTTMetrics contains MQTT client statistics.
type MQTTMetrics struct {
	Enabled   bool `json:"enabled"`
	Connected bool `json:"connected"`
}

// UserMetrics counts registry users by status.
type UserMetrics struct {
	Total    int            `json:"total"`
	ByStatus map[string]int `json:"by_status"`
}

// DatabaseMetrics contains database connection pool statistics.
type DatabaseMetrics struct {
	OpenConnections int   `json:"open_connections"`
	InUse           int   `json:"in_use"`
	Idle            int   `json:"idle"`
	WaitCount       int64 `json:"wait_count"`
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	users := s.registry.Users()
	byStatus := make(map[string]int)
	for _, u := range users {
		byStatus[string(u.Status)]++
	}

	status := SystemStatus{
		Timestamp:     time.Now().UTC().Format(time.RFC3339),
		Version:       s.version,
		UptimeSeconds: int64(time.Since(s.startTime).Seconds()),
		Runtime: RuntimeMetrics{
			Goroutines:    runtime.NumGoroutine(),
			MemoryAllocMB: float64(memStats.Alloc) / 1024 / 1024,
			NumGC:         memStats.NumGC,
		},
		WebSocket: WSMetrics{ConnectedClients: s.hub.ClientCount()},
		MQTT: MQTTMetrics{
			Enabled:   s.mqtt != nil,
			Connected: s.mqtt != nil && s.mqtt.IsConnected(),
		},
		Devices:   s.devices.GetStats(),
		AllInSync: s.devices.AllInSync(),
		Users:     UserMetrics{Total: len(users), ByStatus: byStatus},
		Sync:      s.scheduler.Status(),
	}

	if s.db != nil {
		stats := s.db.Stats()
		status.Database = &DatabaseMetrics{
			OpenConnections: stats.OpenConnections,
			InUse:           stats.InUse,
			Idle:            stats.Idle,
			WaitCount:       stats.WaitCount,
		}
	}

	writeJSON(w, http.StatusOK, status)
}
