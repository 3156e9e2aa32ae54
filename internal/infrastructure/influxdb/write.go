package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// SyncPoint is one finished reconciliation pass.
type SyncPoint struct {
	DeviceID  string
	Full      bool
	OK        bool
	Stale     bool
	Added     int
	Replaced  int
	Deleted   int
	Removed   int
	Unchanged int
	Failed    int
	Duration  time.Duration
	Time      time.Time
}

// AccessPoint is one door log entry.
type AccessPoint struct {
	DeviceID string
	UserID   string
	Name     string
	Method   string
	Result   string
	Door     string
	Time     time.Time
}

// WriteSyncResult queues a sync_result point.
func (c *Client) WriteSyncResult(p SyncPoint) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(syncResultPoint(p))
}

// WriteAccessEvent queues an access_event point stamped with the event time.
func (c *Client) WriteAccessEvent(p AccessPoint) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(accessEventPoint(p))
}

func syncResultPoint(p SyncPoint) *write.Point {
	result := "ok"
	if !p.OK {
		result = "error"
	}
	kind := "incremental"
	if p.Full {
		kind = "full"
	}

	return write.NewPoint("sync_result",
		map[string]string{
			"device_id": p.DeviceID,
			"result":    result,
			"kind":      kind,
		},
		map[string]any{
			"added":       p.Added,
			"replaced":    p.Replaced,
			"deleted":     p.Deleted,
			"removed":     p.Removed,
			"unchanged":   p.Unchanged,
			"failed":      p.Failed,
			"stale":       p.Stale,
			"duration_ms": p.Duration.Milliseconds(),
		},
		stamp(p.Time))
}

func accessEventPoint(p AccessPoint) *write.Point {
	tags := map[string]string{"device_id": p.DeviceID}
	if p.Result != "" {
		tags["result"] = p.Result
	}
	if p.Method != "" {
		tags["method"] = p.Method
	}

	fields := map[string]any{
		"user_id": p.UserID,
		"name":    p.Name,
		"door":    p.Door,
		"count":   1,
	}
	return write.NewPoint("access_event", tags, fields, stamp(p.Time))
}

// stamp substitutes now for unparseable event times, which arrive as the
// Unix epoch.
func stamp(t time.Time) time.Time {
	if t.IsZero() || t.Unix() == 0 {
		return time.Now()
	}
	return t
}
