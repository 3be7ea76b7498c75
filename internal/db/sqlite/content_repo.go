package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"Currents/internal/core/content"
	"Currents/internal/core/feeds"
)

// ContentRepository persists full content records keyed by id. It backs
// both the content.Store interface (single-item reads and unconditional
// writes) and the feeds.ContentStore interface (batch hydration with
// freshness-guarded merge, staleness resolution, garbage collection).
type ContentRepository struct {
	db *sql.DB
}

// NewContentRepository creates a content repository backed by db.
func NewContentRepository(db *sql.DB) *ContentRepository {
	return &ContentRepository{db: db}
}

// payload holds the item fields serialized into the payload column; id,
// update_time, author_id and kind live in their own columns.
type payload struct {
	Body       string               `json:"body"`
	Attachment string               `json:"attachment,omitempty"`
	Likes      int                  `json:"likes"`
	Vote       *content.Vote        `json:"vote,omitempty"`
	Options    []content.PollOption `json:"options,omitempty"`
}

// Get returns the cached item or content.ErrNotCached.
func (r *ContentRepository) Get(ctx context.Context, id string) (*content.Item, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT id, update_time, author_id, kind, payload FROM content WHERE id = ?`, id)
	item, err := scanItem(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", content.ErrNotCached, id)
	}
	if err != nil {
		return nil, contentStorageErr("get item", err)
	}
	return item, nil
}

// Put writes the item unconditionally. This is the explicit
// optimistic-overwrite path; batch hydration uses UpsertBatch instead.
func (r *ContentRepository) Put(ctx context.Context, item content.Item) error {
	body, authorID, err := encodeItem(item)
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO content (id, update_time, author_id, kind, payload)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			update_time = excluded.update_time,
			author_id   = excluded.author_id,
			kind        = excluded.kind,
			payload     = excluded.payload`,
		item.ID, item.UpdateTime.UnixMilli(), authorID, string(item.Kind), body)
	if err != nil {
		return contentStorageErr("put item", err)
	}
	return nil
}

// UpsertBatch merges items into the cache atomically. A row is only
// overwritten when the incoming update time is strictly newer, so a batch
// hydrate never clobbers a concurrent optimistic write.
func (r *ContentRepository) UpsertBatch(ctx context.Context, items []content.Item) error {
	if len(items) == 0 {
		return nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return contentStorageErr("begin batch upsert", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO content (id, update_time, author_id, kind, payload)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			update_time = excluded.update_time,
			author_id   = excluded.author_id,
			kind        = excluded.kind,
			payload     = excluded.payload
		WHERE excluded.update_time > content.update_time`)
	if err != nil {
		return contentStorageErr("prepare batch upsert", err)
	}
	defer stmt.Close()

	for _, item := range items {
		body, authorID, err := encodeItem(item)
		if err != nil {
			return err
		}
		if _, err := stmt.ExecContext(ctx,
			item.ID, item.UpdateTime.UnixMilli(), authorID, string(item.Kind), body); err != nil {
			return contentStorageErr("upsert item", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return contentStorageErr("commit batch upsert", err)
	}
	return nil
}

// GetBatch returns the cached items for ids, keyed by id. Absent ids are
// simply missing from the map.
func (r *ContentRepository) GetBatch(ctx context.Context, ids []string) (map[string]content.Item, error) {
	out := make(map[string]content.Item, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	args := make([]interface{}, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	query := fmt.Sprintf(
		`SELECT id, update_time, author_id, kind, payload FROM content WHERE id IN (%s)`,
		placeholders(len(ids)))
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, contentStorageErr("query batch", err)
	}
	defer rows.Close()

	for rows.Next() {
		item, err := scanItem(rows.Scan)
		if err != nil {
			return nil, contentStorageErr("scan item", err)
		}
		out[item.ID] = *item
	}
	if err := rows.Err(); err != nil {
		return nil, contentStorageErr("iterate batch", err)
	}
	return out, nil
}

// Missing returns the candidate ids whose cached content is absent or
// strictly older than the entry claims. Equal timestamps are fresh; the
// asymmetry deliberately favors fewer network calls when timestamps tie.
func (r *ContentRepository) Missing(ctx context.Context, candidates []feeds.Entry) ([]string, error) {
	if len(candidates) == 0 {
		return nil, nil
	}

	args := make([]interface{}, len(candidates))
	for i, c := range candidates {
		args[i] = c.ItemID
	}
	query := fmt.Sprintf(
		`SELECT id, update_time FROM content WHERE id IN (%s)`,
		placeholders(len(candidates)))
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, contentStorageErr("query staleness", err)
	}
	defer rows.Close()

	stored := make(map[string]int64, len(candidates))
	for rows.Next() {
		var id string
		var millis int64
		if err := rows.Scan(&id, &millis); err != nil {
			return nil, contentStorageErr("scan staleness row", err)
		}
		stored[id] = millis
	}
	if err := rows.Err(); err != nil {
		return nil, contentStorageErr("iterate staleness rows", err)
	}

	var missing []string
	for _, c := range candidates {
		millis, ok := stored[c.ItemID]
		if !ok || millis < c.UpdateTime.UnixMilli() {
			missing = append(missing, c.ItemID)
		}
	}
	return missing, nil
}

// Delete removes the cached item. Deleting an absent id is a no-op.
func (r *ContentRepository) Delete(ctx context.Context, id string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM content WHERE id = ?`, id); err != nil {
		return contentStorageErr("delete item", err)
	}
	return nil
}

// DeleteUnreferenced removes cached items outside the referenced set and
// returns how many rows were deleted.
func (r *ContentRepository) DeleteUnreferenced(ctx context.Context, referenced []string) (int64, error) {
	var res sql.Result
	var err error
	if len(referenced) == 0 {
		res, err = r.db.ExecContext(ctx, `DELETE FROM content`)
	} else {
		args := make([]interface{}, len(referenced))
		for i, id := range referenced {
			args[i] = id
		}
		query := fmt.Sprintf(
			`DELETE FROM content WHERE id NOT IN (%s)`,
			placeholders(len(referenced)))
		res, err = r.db.ExecContext(ctx, query, args...)
	}
	if err != nil {
		return 0, contentStorageErr("delete unreferenced", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, contentStorageErr("count deleted rows", err)
	}
	return n, nil
}

func encodeItem(item content.Item) (string, sql.NullString, error) {
	body, err := json.Marshal(payload{
		Body:       item.Body,
		Attachment: item.Attachment,
		Likes:      item.Likes,
		Vote:       item.Vote,
		Options:    item.Options,
	})
	if err != nil {
		return "", sql.NullString{}, contentStorageErr("encode payload", err)
	}
	authorID := sql.NullString{String: item.AuthorID, Valid: item.AuthorID != ""}
	return string(body), authorID, nil
}

func scanItem(scan func(dest ...interface{}) error) (*content.Item, error) {
	var (
		id, kind, body string
		millis         int64
		authorID       sql.NullString
	)
	if err := scan(&id, &millis, &authorID, &kind, &body); err != nil {
		return nil, err
	}
	var p payload
	if err := json.Unmarshal([]byte(body), &p); err != nil {
		return nil, fmt.Errorf("decode payload for %s: %w", id, err)
	}
	return &content.Item{
		ID:         id,
		UpdateTime: time.UnixMilli(millis).UTC(),
		AuthorID:   authorID.String,
		Kind:       content.Kind(kind),
		Body:       p.Body,
		Attachment: p.Attachment,
		Likes:      p.Likes,
		Vote:       p.Vote,
		Options:    p.Options,
	}, nil
}

func contentStorageErr(op string, err error) error {
	return fmt.Errorf("%w: failed to %s: %v", content.ErrStorage, op, err)
}
