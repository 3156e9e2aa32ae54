package akuvox

import (
	"context"
	"fmt"
)

// ScheduleList returns the device's access schedules.
func (c *Client) ScheduleList(ctx context.Context) ([]Record, error) {
	records, err := c.query(ctx, "schedule", "/api/schedule/get")
	if err != nil {
		return nil, fmt.Errorf("listing schedules: %w", err)
	}
	return records, nil
}

// ScheduleAdd creates schedules on the device.
func (c *Client) ScheduleAdd(ctx context.Context, items []ScheduleItem) error {
	if len(items) == 0 {
		return nil
	}
	if err := c.post(ctx, "schedule", "add", itemList[ScheduleItem]{Item: items}); err != nil {
		return fmt.Errorf("adding schedules: %w", err)
	}
	return nil
}

// ScheduleSet updates schedules that carry a device ID.
func (c *Client) ScheduleSet(ctx context.Context, items []ScheduleItem) error {
	if len(items) == 0 {
		return nil
	}
	for _, item := range items {
		if item.ID == "" {
			return fmt.Errorf("updating schedule %q: missing device ID", item.Name)
		}
	}
	if err := c.post(ctx, "schedule", "set", itemList[ScheduleItem]{Item: items}); err != nil {
		return fmt.Errorf("updating schedules: %w", err)
	}
	return nil
}

// ScheduleDelete removes a schedule by device ID. Built-in schedules are
// left alone.
func (c *Client) ScheduleDelete(ctx context.Context, id string) error {
	if id == ScheduleAlwaysID || id == ScheduleNeverID {
		return nil
	}
	if err := c.post(ctx, "schedule", "del", itemList[idItem]{Item: []idItem{{ID: id}}}); err != nil {
		return fmt.Errorf("deleting schedule %s: %w", id, err)
	}
	return nil
}
