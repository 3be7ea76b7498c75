// Package feeds implements the feed synchronization core: the Manager
// produces pages of hydrated content for a feed id, preferring local data
// and fetching only what is missing or stale; the Feed type layers the
// pagination state machine on top.
package feeds

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"Currents/internal/core/content"
)

type feedKey struct {
	id        string
	direction Direction
}

// Manager orchestrates the Ordering Store, Content Store and remote feed
// API for one content type. It also owns the registry of live Feed
// handles: one per (feedID, direction).
type Manager struct {
	ordering OrderingStore
	contents ContentStore
	remote   RemoteFeed
	opts     FetchOptions
	logger   *slog.Logger

	mu    sync.Mutex
	feeds map[feedKey]*Feed
}

// NewManager creates a feed manager. Orphaned content cleanup runs
// opportunistically at construction; a failure there is logged, never
// fatal.
func NewManager(ordering OrderingStore, contents ContentStore, remote RemoteFeed, opts FetchOptions, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	m := &Manager{
		ordering: ordering,
		contents: contents,
		remote:   remote,
		opts:     opts,
		logger:   logger,
		feeds:    make(map[feedKey]*Feed),
	}
	if err := m.Cleanup(context.Background()); err != nil {
		m.logger.Warn("startup cleanup failed", "error", err)
	}
	return m
}

// Feed returns the live handle for (feedID, direction), creating it on
// first access. Repeat calls return the same handle; they never duplicate
// state.
func (m *Manager) Feed(feedID string, direction Direction) *Feed {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := feedKey{id: feedID, direction: direction}
	if f, ok := m.feeds[key]; ok {
		return f
	}
	f := newFeed(feedID, direction, m)
	m.feeds[key] = f
	return f
}

// Initialize fetches the feed's first page from the server and persists
// its entries. Always a network operation: the stored ordering must
// reflect server truth at refresh time.
func (m *Manager) Initialize(ctx context.Context, feedID string) (*Page, error) {
	page, err := m.remote.InitializeFeed(ctx, feedID)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize feed %s: %w", feedID, err)
	}
	if err := m.ordering.Upsert(ctx, feedID, page.Entries); err != nil {
		return nil, err
	}
	return page, nil
}

// NextPage fetches the next page by cursor and appends its entries to the
// stored ordering.
func (m *Manager) NextPage(ctx context.Context, feedID, cursor string) (*Page, error) {
	if cursor == "" {
		return nil, ErrEmptyCursor
	}
	page, err := m.remote.NextPage(ctx, cursor)
	if err != nil {
		return nil, fmt.Errorf("failed to load next page of feed %s: %w", feedID, err)
	}
	if err := m.ordering.Upsert(ctx, feedID, page.Entries); err != nil {
		return nil, err
	}
	return page, nil
}

// Hydrate resolves entries to full content items in entry order. Only
// missing or stale ids are fetched remotely. When offline, unresolvable
// ids are dropped from the result instead of failing the page.
func (m *Manager) Hydrate(ctx context.Context, entries []Entry) ([]content.Item, error) {
	if len(entries) == 0 {
		return []content.Item{}, nil
	}

	missing, err := m.contents.Missing(ctx, entries)
	if err != nil {
		return nil, err
	}
	if len(missing) > 0 {
		items, err := m.remote.BatchFetch(ctx, missing, m.opts)
		switch {
		case errors.Is(err, content.ErrNoNetwork):
			m.logger.Debug("offline, serving partial page", "missing", len(missing))
		case err != nil:
			return nil, fmt.Errorf("failed to fetch %d items: %w", len(missing), err)
		default:
			if err := m.contents.UpsertBatch(ctx, items); err != nil {
				return nil, err
			}
		}
	}

	return m.resolve(ctx, entries)
}

// LocalPage reads a page purely from the local stores, for instant first
// paint. Entries with no cached content are dropped.
func (m *Manager) LocalPage(ctx context.Context, feedID string, limit int, before string) ([]content.Item, []Entry, error) {
	entries, err := m.ordering.Entries(ctx, feedID, limit, before)
	if err != nil {
		return nil, nil, err
	}
	items, err := m.resolve(ctx, entries)
	if err != nil {
		return nil, nil, err
	}
	return items, entries, nil
}

// Entries reads persisted ordering entries that follow the after anchor,
// without touching the network. An empty anchor reads from the start.
func (m *Manager) Entries(ctx context.Context, feedID string, limit int, after string) ([]Entry, error) {
	return m.ordering.Entries(ctx, feedID, limit, after)
}

// Cleanup deletes content items referenced by no feed known to the
// Ordering Store. Items referenced by feeds that are not instantiated in
// memory are preserved.
func (m *Manager) Cleanup(ctx context.Context) error {
	referenced, err := m.ordering.ReferencedItemIDs(ctx)
	if err != nil {
		return err
	}
	removed, err := m.contents.DeleteUnreferenced(ctx, referenced)
	if err != nil {
		return err
	}
	if removed > 0 {
		m.logger.Info("removed orphaned content", "count", removed)
	}
	return nil
}

// resolve reads the entries' content from the cache, preserving entry
// order and dropping ids that resolve to nothing.
func (m *Manager) resolve(ctx context.Context, entries []Entry) ([]content.Item, error) {
	ids := make([]string, len(entries))
	for i, e := range entries {
		ids[i] = e.ItemID
	}
	byID, err := m.contents.GetBatch(ctx, ids)
	if err != nil {
		return nil, err
	}
	items := make([]content.Item, 0, len(entries))
	for _, e := range entries {
		if it, ok := byID[e.ItemID]; ok {
			items = append(items, it)
		}
	}
	return items, nil
}
