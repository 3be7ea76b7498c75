package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"Currents/internal/core/feeds"
)

// OrderingRepository persists per-feed orderings in the feed_entries
// table. Position is a per-feed monotonically increasing sequence assigned
// at insert; re-upserting an entry refreshes its update_time but never
// moves it.
type OrderingRepository struct {
	db *sql.DB
}

// NewOrderingRepository creates an ordering repository backed by db.
func NewOrderingRepository(db *sql.DB) *OrderingRepository {
	return &OrderingRepository{db: db}
}

// Upsert inserts or refreshes one page of entries atomically. Either the
// whole page is persisted or none of it.
func (r *OrderingRepository) Upsert(ctx context.Context, feedID string, entries []feeds.Entry) error {
	if len(entries) == 0 {
		return nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return storageErr("begin upsert", err)
	}
	defer tx.Rollback()

	var next int64
	err = tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(position)+1, 0) FROM feed_entries WHERE feed_id = ?`,
		feedID).Scan(&next)
	if err != nil {
		return storageErr("read feed position", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO feed_entries (feed_id, item_id, update_time, position)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(feed_id, item_id) DO UPDATE SET update_time = excluded.update_time`)
	if err != nil {
		return storageErr("prepare upsert", err)
	}
	defer stmt.Close()

	for _, e := range entries {
		if _, err := stmt.ExecContext(ctx, feedID, e.ItemID, e.UpdateTime.UnixMilli(), next); err != nil {
			return storageErr("upsert entry", err)
		}
		next++
	}

	if err := tx.Commit(); err != nil {
		return storageErr("commit upsert", err)
	}
	return nil
}

// Entries returns up to limit entries in feed order. A non-empty before
// anchors the read at that item and returns the entries that follow it
// (older content); an unknown anchor yields an empty page.
func (r *OrderingRepository) Entries(ctx context.Context, feedID string, limit int, before string) ([]feeds.Entry, error) {
	var rows *sql.Rows
	var err error
	if before == "" {
		rows, err = r.db.QueryContext(ctx, `
			SELECT item_id, update_time FROM feed_entries
			WHERE feed_id = ?
			ORDER BY position ASC
			LIMIT ?`, feedID, limit)
	} else {
		rows, err = r.db.QueryContext(ctx, `
			SELECT item_id, update_time FROM feed_entries
			WHERE feed_id = ?
			  AND position > (SELECT position FROM feed_entries WHERE feed_id = ? AND item_id = ?)
			ORDER BY position ASC
			LIMIT ?`, feedID, feedID, before, limit)
	}
	if err != nil {
		return nil, storageErr("query entries", err)
	}
	defer rows.Close()

	var out []feeds.Entry
	for rows.Next() {
		var itemID string
		var updateMillis int64
		if err := rows.Scan(&itemID, &updateMillis); err != nil {
			return nil, storageErr("scan entry", err)
		}
		out = append(out, feeds.Entry{
			ItemID:     itemID,
			UpdateTime: time.UnixMilli(updateMillis).UTC(),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("iterate entries", err)
	}
	return out, nil
}

// DeleteAll removes the feed's entries except the given item ids.
func (r *OrderingRepository) DeleteAll(ctx context.Context, feedID string, except []string) error {
	if len(except) == 0 {
		if _, err := r.db.ExecContext(ctx,
			`DELETE FROM feed_entries WHERE feed_id = ?`, feedID); err != nil {
			return storageErr("delete entries", err)
		}
		return nil
	}

	args := make([]interface{}, 0, len(except)+1)
	args = append(args, feedID)
	for _, id := range except {
		args = append(args, id)
	}
	query := fmt.Sprintf(
		`DELETE FROM feed_entries WHERE feed_id = ? AND item_id NOT IN (%s)`,
		placeholders(len(except)))
	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return storageErr("delete entries", err)
	}
	return nil
}

// ReferencedItemIDs returns every item id referenced by any feed.
func (r *OrderingRepository) ReferencedItemIDs(ctx context.Context) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT DISTINCT item_id FROM feed_entries`)
	if err != nil {
		return nil, storageErr("query referenced ids", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, storageErr("scan referenced id", err)
		}
		out = append(out, id)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("iterate referenced ids", err)
	}
	return out, nil
}

// RemoveItem drops the item from every feed's ordering.
func (r *OrderingRepository) RemoveItem(ctx context.Context, itemID string) error {
	if _, err := r.db.ExecContext(ctx,
		`DELETE FROM feed_entries WHERE item_id = ?`, itemID); err != nil {
		return storageErr("remove item", err)
	}
	return nil
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func storageErr(op string, err error) error {
	return fmt.Errorf("%w: failed to %s: %v", feeds.ErrStorage, op, err)
}
