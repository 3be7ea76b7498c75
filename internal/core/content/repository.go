// Package content implements the cached content repository: reactive reads
// filtered by the block list, remote refresh, validated sends, deletes, and
// optimistic mutations with rollback.
package content

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"Currents/internal/core/live"
)

// Repository is the get/fetch/send/delete facade over one content type.
// All local writes go through the shared Store so feeds and repositories
// observe each other's changes.
type Repository struct {
	store  Store
	refs   ReferenceRemover
	remote RemoteContent
	blocks BlockFilter
	kind   Kind
	logger *slog.Logger

	events *live.Value[Notification]

	mu       sync.Mutex
	locks    map[string]*sync.Mutex
	watchers map[string]map[*live.Value[*Item]]struct{}

	stopWatch func()
	watchDone chan struct{}
}

// NewRepository creates a repository for one content kind. refs may be nil
// when no feed ordering references this kind. When blocks is non-nil the
// repository re-emits watched items as the blocked set changes.
func NewRepository(store Store, refs ReferenceRemover, remote RemoteContent, blocks BlockFilter, kind Kind, logger *slog.Logger) *Repository {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Repository{
		store:    store,
		refs:     refs,
		remote:   remote,
		blocks:   blocks,
		kind:     kind,
		logger:   logger,
		events:   live.NewValue[Notification](),
		locks:    make(map[string]*sync.Mutex),
		watchers: make(map[string]map[*live.Value[*Item]]struct{}),
	}
	if blocks != nil {
		ch, cancel := blocks.Subscribe()
		r.stopWatch = cancel
		r.watchDone = make(chan struct{})
		go r.watchBlocks(ch)
	}
	return r
}

// Close stops the block-list watcher and terminates the events stream.
func (r *Repository) Close() {
	if r.stopWatch != nil {
		r.stopWatch()
		<-r.watchDone
	}
	r.events.Close()
}

// Events returns a replay-latest stream of item change notifications.
func (r *Repository) Events() (<-chan Notification, func()) {
	return r.events.Subscribe()
}

// Get returns a live value for the item. It emits the cached item
// immediately, nil while the item's author is blocked or the item is not
// cached, and tracks later writes, deletions and block-list changes. The
// release function must be called when the consumer is done.
func (r *Repository) Get(ctx context.Context, id string) (*live.Value[*Item], func(), error) {
	current, err := r.visibleItem(ctx, id)
	if err != nil {
		return nil, nil, err
	}

	v := live.NewValue[*Item]()
	v.Set(current)

	r.mu.Lock()
	set, ok := r.watchers[id]
	if !ok {
		set = make(map[*live.Value[*Item]]struct{})
		r.watchers[id] = set
	}
	set[v] = struct{}{}
	r.mu.Unlock()

	var once sync.Once
	release := func() {
		once.Do(func() {
			r.mu.Lock()
			if set, ok := r.watchers[id]; ok {
				delete(set, v)
				if len(set) == 0 {
					delete(r.watchers, id)
				}
			}
			r.mu.Unlock()
			v.Close()
		})
	}
	return v, release, nil
}

// Fetch refreshes one item from the server. A server-confirmed NotFound
// deletes the local record, drops its feed references, and emits exactly
// one deletion notification, then returns ErrNotFound.
func (r *Repository) Fetch(ctx context.Context, id string) (*Item, error) {
	item, err := r.remote.Fetch(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			if delErr := r.removeLocal(ctx, id); delErr != nil {
				r.logger.Error("failed to remove deleted item locally",
					"id", id, "error", delErr)
			}
			return nil, err
		}
		return nil, fmt.Errorf("failed to fetch %s %s: %w", r.kind, id, err)
	}

	if err := r.store.Put(ctx, *item); err != nil {
		return nil, err
	}
	r.publish(ctx, id)
	r.events.Set(Notification{ItemID: id, Kind: NotificationUpdated})
	return item, nil
}

// Send validates the draft, submits it, and caches the server's canonical
// item (which may carry server-assigned aggregates). Drafts without an id
// get a client-generated one so retries are idempotent server-side.
func (r *Repository) Send(ctx context.Context, draft Item) (*Item, error) {
	if err := validateDraft(r.kind, draft); err != nil {
		return nil, err
	}
	draft.Kind = r.kind
	if draft.ID == "" {
		draft.ID = uuid.NewString()
	}

	canonical, err := r.remote.Put(ctx, draft)
	if err != nil {
		return nil, err
	}

	if err := r.store.Put(ctx, *canonical); err != nil {
		return nil, err
	}
	r.logger.Info("content sent", "kind", r.kind, "id", canonical.ID)
	r.publish(ctx, canonical.ID)
	r.events.Set(Notification{ItemID: canonical.ID, Kind: NotificationUpdated})
	return canonical, nil
}

// Delete removes the item remotely, then locally. When the remote call
// fails the local record is left untouched so the cache never shows a
// false deletion.
func (r *Repository) Delete(ctx context.Context, id string) error {
	if err := r.remote.Delete(ctx, id); err != nil {
		return fmt.Errorf("failed to delete %s %s: %w", r.kind, id, err)
	}
	if err := r.removeLocal(ctx, id); err != nil {
		return err
	}
	r.logger.Info("content deleted", "kind", r.kind, "id", id)
	return nil
}

// Vote applies an optimistic vote: the local value flips immediately, the
// remote call confirms or rolls back. Mutations on the same id are
// serialized so a racing second vote snapshots the settled value, never an
// in-flight optimistic one.
func (r *Repository) Vote(ctx context.Context, id, optionID string) (*Vote, error) {
	if optionID == "" {
		return nil, NewValidationError("optionId", "optionId is required")
	}

	lock := r.lockFor(id)
	lock.Lock()
	defer lock.Unlock()

	prev, err := r.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	optimistic := *prev
	optimistic.Vote = &Vote{OptionID: optionID}
	if err := r.store.Put(ctx, optimistic); err != nil {
		return nil, err
	}
	r.publish(ctx, id)

	canonical, err := r.remote.Vote(ctx, id, optionID)
	if err != nil {
		r.rollback(ctx, *prev)
		return nil, err
	}

	confirmed := *prev
	confirmed.Vote = canonical
	if err := r.store.Put(ctx, confirmed); err != nil {
		return nil, err
	}
	r.publish(ctx, id)
	r.events.Set(Notification{ItemID: id, Kind: NotificationUpdated})
	return canonical, nil
}

// rollback restores the pre-mutation snapshot after a failed optimistic
// write and re-emits it to watchers.
func (r *Repository) rollback(ctx context.Context, prev Item) {
	if err := r.store.Put(ctx, prev); err != nil {
		r.logger.Error("optimistic mutation rollback failed",
			"id", prev.ID, "error", err)
	}
	r.publish(ctx, prev.ID)
}

// visibleItem resolves the item as consumers should see it: nil when not
// cached or the author is blocked. The record itself is never touched by
// blocking.
func (r *Repository) visibleItem(ctx context.Context, id string) (*Item, error) {
	item, err := r.store.Get(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotCached) {
			return nil, nil
		}
		return nil, err
	}
	if r.blocks != nil && r.blocks.IsBlocked(item.AuthorID) {
		return nil, nil
	}
	return item, nil
}

func (r *Repository) removeLocal(ctx context.Context, id string) error {
	if err := r.store.Delete(ctx, id); err != nil {
		return err
	}
	if r.refs != nil {
		if err := r.refs.RemoveItem(ctx, id); err != nil {
			return err
		}
	}
	r.events.Set(Notification{ItemID: id, Kind: NotificationDeleted})
	r.publish(ctx, id)
	return nil
}

// publish re-emits the item's visible value to every watcher.
func (r *Repository) publish(ctx context.Context, id string) {
	r.mu.Lock()
	set := r.watchers[id]
	values := make([]*live.Value[*Item], 0, len(set))
	for v := range set {
		values = append(values, v)
	}
	r.mu.Unlock()
	if len(values) == 0 {
		return
	}

	item, err := r.visibleItem(ctx, id)
	if err != nil {
		r.logger.Error("failed to resolve item for watchers", "id", id, "error", err)
		return
	}
	for _, v := range values {
		v.Set(item)
	}
}

func (r *Repository) watchBlocks(ch <-chan []string) {
	defer close(r.watchDone)
	for range ch {
		r.mu.Lock()
		ids := make([]string, 0, len(r.watchers))
		for id := range r.watchers {
			ids = append(ids, id)
		}
		r.mu.Unlock()
		for _, id := range ids {
			r.publish(context.Background(), id)
		}
	}
}

func (r *Repository) lockFor(id string) *sync.Mutex {
	r.mu.Lock()
	defer r.mu.Unlock()
	lock, ok := r.locks[id]
	if !ok {
		lock = &sync.Mutex{}
		r.locks[id] = lock
	}
	return lock
}
