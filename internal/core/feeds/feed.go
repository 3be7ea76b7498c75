package feeds

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"Currents/internal/core/content"
	"Currents/internal/core/live"
)

// State tracks how a feed's visible list was populated.
type State int

const (
	// StateUninitialized means no population has completed yet; an empty
	// item list in this state means "unknown", not "empty feed".
	StateUninitialized State = iota
	// StateLocalOnly means the list came from the local cache only.
	StateLocalOnly
	// StateSynced means the list reflects at least one server page.
	StateSynced
)

// Feed is a live, per-feed-id handle over the Manager: it owns the visible
// item list, the paging cursor, and the hasMoreData flag. Page operations
// on one Feed are strictly sequenced; Refresh is additionally
// single-flight so concurrent callers share one remote call.
type Feed struct {
	id        string
	direction Direction
	manager   *Manager
	logger    *slog.Logger

	// opMu sequences page operations (refresh, previous-page loads).
	opMu sync.Mutex

	stateMu sync.Mutex
	state   State
	items   []content.Item
	hasMore bool
	cursor  string

	flight  singleflight.Group
	updates *live.Value[[]content.Item]

	loopMu     sync.Mutex
	loopCancel context.CancelFunc
	loopDone   chan struct{}
	authWarned bool
}

func newFeed(id string, direction Direction, manager *Manager) *Feed {
	return &Feed{
		id:        id,
		direction: direction,
		manager:   manager,
		logger:    manager.logger.With("feed", id),
		updates:   live.NewValue[[]content.Item](),
	}
}

// ID returns the feed id.
func (f *Feed) ID() string { return f.id }

// Direction returns the ordering the feed was opened with.
func (f *Feed) Direction() Direction { return f.direction }

// State returns the current population state.
func (f *Feed) State() State {
	f.stateMu.Lock()
	defer f.stateMu.Unlock()
	return f.state
}

// Items returns a copy of the visible items and whether any population has
// completed. ok == false distinguishes "not yet loaded" from an empty feed.
func (f *Feed) Items() ([]content.Item, bool) {
	f.stateMu.Lock()
	defer f.stateMu.Unlock()
	if f.state == StateUninitialized {
		return nil, false
	}
	out := make([]content.Item, len(f.items))
	copy(out, f.items)
	return out, true
}

// HasMoreData reports whether another page can be loaded.
func (f *Feed) HasMoreData() bool {
	f.stateMu.Lock()
	defer f.stateMu.Unlock()
	return f.hasMore
}

// Subscribe returns a replay-latest stream of the visible item list.
func (f *Feed) Subscribe() (<-chan []content.Item, func()) {
	return f.updates.Subscribe()
}

// PopulateWithLocalData fills the feed from the local cache only. It never
// touches the network and is a no-op once the feed is past Uninitialized.
// A short local page means no more local data, so hasMoreData turns false;
// a page with unresolvable entries never asserts it true.
func (f *Feed) PopulateWithLocalData(ctx context.Context, pageSize int) error {
	f.opMu.Lock()
	defer f.opMu.Unlock()

	f.stateMu.Lock()
	if f.state != StateUninitialized {
		f.stateMu.Unlock()
		return nil
	}
	f.stateMu.Unlock()

	items, entries, err := f.manager.LocalPage(ctx, f.id, pageSize, "")
	if err != nil {
		return err
	}

	f.stateMu.Lock()
	f.items = items
	f.state = StateLocalOnly
	f.hasMore = len(entries) == pageSize && len(items) == len(entries)
	f.stateMu.Unlock()
	f.publish()
	return nil
}

// Refresh replaces the visible list with a fresh first page from the
// server. Concurrent calls share one in-flight execution; the second
// caller awaits the first's result instead of issuing a duplicate remote
// call. When the shared execution is cancelled through another caller's
// context, a caller whose own context is still alive re-runs once instead
// of inheriting the cancellation.
func (f *Feed) Refresh(ctx context.Context, pageSize int) error {
	err := f.sharedRefresh(ctx, pageSize)
	if errors.Is(err, context.Canceled) && ctx.Err() == nil {
		err = f.sharedRefresh(ctx, pageSize)
	}
	return err
}

func (f *Feed) sharedRefresh(ctx context.Context, pageSize int) error {
	_, err, _ := f.flight.Do("refresh", func() (interface{}, error) {
		return nil, f.refresh(ctx, pageSize)
	})
	return err
}

func (f *Feed) refresh(ctx context.Context, pageSize int) error {
	f.opMu.Lock()
	defer f.opMu.Unlock()

	page, err := f.manager.Initialize(ctx, f.id)
	if err != nil {
		return err
	}
	visible := page.Entries
	if len(visible) > pageSize {
		visible = visible[:pageSize]
	}
	items, err := f.manager.Hydrate(ctx, visible)
	if err != nil {
		return err
	}

	f.stateMu.Lock()
	f.items = items
	f.state = StateSynced
	f.cursor = page.Cursor
	f.hasMore = (page.Cursor != "" && len(page.Entries) >= pageSize) || len(page.Entries) > pageSize
	f.stateMu.Unlock()
	f.publish()
	return nil
}

// LoadPreviousItems appends the next older page. Entries already persisted
// in the ordering but not yet visible are always served before the cursor
// is consumed, so a display page smaller than the server's page never
// skips items. A feed that was only locally populated holds no cursor yet;
// it transparently initializes first and then proceeds, so paging works
// even when Refresh was skipped. A cursorless synced feed with no
// persisted tail has nothing more to load.
func (f *Feed) LoadPreviousItems(ctx context.Context, pageSize int) error {
	f.opMu.Lock()
	defer f.opMu.Unlock()

	f.stateMu.Lock()
	cursor := f.cursor
	state := f.state
	f.stateMu.Unlock()

	if cursor == "" && state != StateSynced {
		page, err := f.manager.Initialize(ctx, f.id)
		if err != nil {
			return err
		}
		f.stateMu.Lock()
		f.state = StateSynced
		f.cursor = page.Cursor
		f.stateMu.Unlock()
		cursor = page.Cursor
	}

	tail, err := f.manager.Entries(ctx, f.id, pageSize, f.lastVisibleID())
	if err != nil {
		return err
	}
	if len(tail) > 0 {
		items, err := f.manager.Hydrate(ctx, tail)
		if err != nil {
			return err
		}
		f.stateMu.Lock()
		f.appendLocked(items)
		f.hasMore = cursor != "" || len(tail) == pageSize
		f.stateMu.Unlock()
		f.publish()
		return nil
	}

	if cursor == "" {
		f.stateMu.Lock()
		f.hasMore = false
		f.stateMu.Unlock()
		return nil
	}

	page, err := f.manager.NextPage(ctx, f.id, cursor)
	if err != nil {
		return err
	}
	visible := page.Entries
	if len(visible) > pageSize {
		visible = visible[:pageSize]
	}
	items, err := f.manager.Hydrate(ctx, visible)
	if err != nil {
		return err
	}

	f.stateMu.Lock()
	f.appendLocked(items)
	f.cursor = page.Cursor
	f.hasMore = (page.Cursor != "" && len(page.Entries) >= pageSize) || len(page.Entries) > pageSize
	f.stateMu.Unlock()
	f.publish()
	return nil
}

// lastVisibleID returns the id of the newest-appended visible item, the
// anchor after which the persisted ordering holds not-yet-visible entries.
func (f *Feed) lastVisibleID() string {
	f.stateMu.Lock()
	defer f.stateMu.Unlock()
	if len(f.items) == 0 {
		return ""
	}
	return f.items[len(f.items)-1].ID
}

// FetchAll loads older pages until there is no more data or, when untilID
// is given, until that item has been loaded. Always requests full pages.
func (f *Feed) FetchAll(ctx context.Context, pageSize int, untilID string) error {
	for {
		if untilID != "" && f.contains(untilID) {
			return nil
		}
		f.stateMu.Lock()
		done := f.state == StateSynced && !f.hasMore
		countBefore := len(f.items)
		cursorBefore := f.cursor
		f.stateMu.Unlock()
		if done {
			return nil
		}

		if err := f.LoadPreviousItems(ctx, pageSize); err != nil {
			return err
		}

		f.stateMu.Lock()
		progressed := len(f.items) != countBefore || f.cursor != cursorBefore
		f.stateMu.Unlock()
		if !progressed {
			return nil
		}
	}
}

// StartAutoFetch begins periodic refreshing of the feed. Starting an
// already-running loop is a no-op. Transient errors are logged and the
// loop continues; NotAuthenticated is surfaced once per occurrence.
func (f *Feed) StartAutoFetch(ctx context.Context, interval time.Duration, pageSize int) {
	f.loopMu.Lock()
	defer f.loopMu.Unlock()
	if f.loopCancel != nil {
		return
	}

	loopCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	f.loopCancel = cancel
	f.loopDone = done

	go func() {
		defer close(done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-loopCtx.Done():
				return
			case <-ticker.C:
				err := f.Refresh(loopCtx, pageSize)
				switch {
				case err == nil:
					f.authWarned = false
				case errors.Is(err, context.Canceled):
					return
				case errors.Is(err, content.ErrNotAuthenticated):
					if !f.authWarned {
						f.authWarned = true
						f.logger.Error("auto-fetch requires authentication", "error", err)
					}
				default:
					f.logger.Warn("auto-fetch refresh failed", "error", err)
				}
			}
		}
	}()
}

// StopAutoFetch cancels the polling loop and waits for it to stop
// emitting. It does not cancel refreshes triggered by other means.
func (f *Feed) StopAutoFetch() {
	f.loopMu.Lock()
	defer f.loopMu.Unlock()
	if f.loopCancel == nil {
		return
	}
	f.loopCancel()
	<-f.loopDone
	f.loopCancel = nil
	f.loopDone = nil
}

func (f *Feed) contains(id string) bool {
	f.stateMu.Lock()
	defer f.stateMu.Unlock()
	for _, it := range f.items {
		if it.ID == id {
			return true
		}
	}
	return false
}

// appendLocked appends items not already present by id. Callers hold
// stateMu.
func (f *Feed) appendLocked(items []content.Item) {
	seen := make(map[string]struct{}, len(f.items))
	for _, it := range f.items {
		seen[it.ID] = struct{}{}
	}
	for _, it := range items {
		if _, ok := seen[it.ID]; ok {
			continue
		}
		seen[it.ID] = struct{}{}
		f.items = append(f.items, it)
	}
}

func (f *Feed) publish() {
	f.stateMu.Lock()
	out := make([]content.Item, len(f.items))
	copy(out, f.items)
	f.stateMu.Unlock()
	f.updates.Set(out)
}
