package akuvox

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// UserList returns every user record on the device.
//
// It tries the "get" action, then the "list" action, then the read-only
// GET endpoint some firmware exposes instead. An error is returned only
// when all three fail.
func (c *Client) UserList(ctx context.Context) ([]Record, error) {
	var lastErr error
	for _, action := range []string{"get", "list"} {
		body, err := c.request(ctx, http.MethodPost, actionPaths, request{Target: "user", Action: action})
		if err != nil {
			lastErr = err
			continue
		}
		records, err := decodeItems(body)
		if err != nil {
			lastErr = err
			continue
		}
		return records, nil
	}

	body, err := c.request(ctx, http.MethodGet, []string{"/api/user/get"}, nil)
	if err != nil {
		return nil, fmt.Errorf("listing users: %w", errors.Join(lastErr, err))
	}
	records, err := decodeItems(body)
	if err != nil {
		return nil, fmt.Errorf("listing users: %w", err)
	}
	return records, nil
}

// UserAdd creates users on the device in one batch.
func (c *Client) UserAdd(ctx context.Context, items []UserItem) error {
	if len(items) == 0 {
		return nil
	}
	if err := c.post(ctx, "user", "add", itemList[UserItem]{Item: items}); err != nil {
		return fmt.Errorf("adding %d users: %w", len(items), err)
	}
	return nil
}

// UserSet updates existing users. Items without a device ID are matched to
// a device record by UserID first.
func (c *Client) UserSet(ctx context.Context, items []UserItem) error {
	if len(items) == 0 {
		return nil
	}

	var existing []Record
	resolved := make([]UserItem, 0, len(items))
	for _, item := range items {
		if item.ID == "" {
			if existing == nil {
				records, err := c.UserList(ctx)
				if err != nil {
					return fmt.Errorf("resolving user IDs: %w", err)
				}
				existing = records
			}
			item.ID = findRecordID(existing, item.UserID)
			if item.ID == "" {
				return fmt.Errorf("%w: %s", ErrUserNotFound, item.UserID)
			}
		}
		resolved = append(resolved, item)
	}

	if err := c.post(ctx, "user", "set", itemList[UserItem]{Item: resolved}); err != nil {
		return fmt.Errorf("updating %d users: %w", len(resolved), err)
	}
	return nil
}

// UserDelete removes every device record identified by key. A numeric key
// is first tried as a device ID directly. Otherwise, or if that fails, all
// records whose ID, UserID or Name equals key are deleted. Deleting a key
// that matches nothing is not an error.
func (c *Client) UserDelete(ctx context.Context, key string) error {
	if isDigits(key) {
		if err := c.deleteUserIDs(ctx, []string{key}); err == nil {
			return nil
		}
	}

	records, err := c.UserList(ctx)
	if err != nil {
		return fmt.Errorf("resolving user %s for delete: %w", key, err)
	}

	var ids []string
	for _, r := range records {
		if r.ID() == "" {
			continue
		}
		if r.ID() == key || r.UserID() == key || r.Name() == key {
			ids = append(ids, r.ID())
		}
	}
	if len(ids) == 0 {
		c.logger.Debug("user not on device, nothing to delete", "host", c.cfg.Host, "key", key)
		return nil
	}

	var errs []error
	for _, id := range ids {
		if err := c.deleteUserIDs(ctx, []string{id}); err != nil {
			errs = append(errs, err)
			if isTransportError(err) {
				break
			}
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("deleting user %s: %w", key, errors.Join(errs...))
	}
	return nil
}

func (c *Client) deleteUserIDs(ctx context.Context, ids []string) error {
	items := make([]idItem, 0, len(ids))
	for _, id := range ids {
		items = append(items, idItem{ID: id})
	}
	return c.post(ctx, "user", "del", itemList[idItem]{Item: items})
}

func findRecordID(records []Record, userID string) string {
	for _, r := range records {
		if r.UserID() == userID && r.ID() != "" {
			return r.ID()
		}
	}
	return ""
}
