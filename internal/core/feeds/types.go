package feeds

import (
	"context"
	"time"

	"Currents/internal/core/content"
)

// Entry is one slot in a feed's ordering: the item's id and the update
// time the server claimed for it, independent of the content itself.
type Entry struct {
	ItemID     string
	UpdateTime time.Time
}

// Page is one server page of a feed. An empty Cursor is the sole
// authoritative no-more-data signal from the server.
type Page struct {
	Entries []Entry
	Cursor  string
}

// FetchOptions controls what a batch fetch hydrates alongside the content.
type FetchOptions struct {
	IncludeAggregates       bool
	IncludeUserInteractions bool
}

// Direction distinguishes the two live views of one logical sequence.
type Direction int

const (
	NewestFirst Direction = iota
	OldestFirst
)

// OrderingStore persists per-feed orderings of item ids.
type OrderingStore interface {
	// Upsert inserts or refreshes entries for the feed as one atomic page.
	// New entries take positions in call order; entries already stored keep
	// their committed position.
	Upsert(ctx context.Context, feedID string, entries []Entry) error
	// Entries returns up to limit entries in feed order. A non-empty before
	// anchors the read at that item, returning entries that follow it.
	Entries(ctx context.Context, feedID string, limit int, before string) ([]Entry, error)
	// DeleteAll removes the feed's entries except the given item ids.
	DeleteAll(ctx context.Context, feedID string, except []string) error
	// ReferencedItemIDs returns every item id referenced by any feed,
	// including feeds not currently instantiated in memory.
	ReferencedItemIDs(ctx context.Context) ([]string, error)
	// RemoveItem drops the item from every feed's ordering.
	RemoveItem(ctx context.Context, itemID string) error
}

// ContentStore is the slice of the content cache the feed path needs.
type ContentStore interface {
	// UpsertBatch merges items into the cache; an item only overwrites a
	// cached row when its update time is strictly newer.
	UpsertBatch(ctx context.Context, items []content.Item) error
	// GetBatch returns the cached items for the given ids, keyed by id.
	// Absent ids are simply missing from the map.
	GetBatch(ctx context.Context, ids []string) (map[string]content.Item, error)
	// Missing returns the ids whose cached content is absent or strictly
	// older than the entry claims. Equal timestamps count as fresh.
	Missing(ctx context.Context, candidates []Entry) ([]string, error)
	// DeleteUnreferenced removes cached items not in the referenced set and
	// returns how many rows were deleted.
	DeleteUnreferenced(ctx context.Context, referenced []string) (int64, error)
}

// RemoteFeed is the remote paginated feed API.
type RemoteFeed interface {
	InitializeFeed(ctx context.Context, feedID string) (*Page, error)
	NextPage(ctx context.Context, cursor string) (*Page, error)
	BatchFetch(ctx context.Context, ids []string, opts FetchOptions) ([]content.Item, error)
}
