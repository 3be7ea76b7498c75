// Package moderation tracks blocked authors and notifies watchers when the
// set changes, so cached views can drop a blocked author's content without
// refetching anything.
package moderation

import (
	"log/slog"
	"sort"
	"sync"

	"Currents/internal/core/live"
)

// BlockList is an in-memory set of blocked author ids with change
// notifications. It is shared across repositories and feeds.
type BlockList struct {
	mu      sync.RWMutex
	blocked map[string]struct{}
	changes *live.Value[[]string]
	logger  *slog.Logger
}

// NewBlockList creates an empty block list.
func NewBlockList(logger *slog.Logger) *BlockList {
	if logger == nil {
		logger = slog.Default()
	}
	return &BlockList{
		blocked: make(map[string]struct{}),
		changes: live.NewValue[[]string](),
		logger:  logger,
	}
}

// Block adds an author to the set. Blocking an already-blocked author is a
// no-op and emits no change.
func (b *BlockList) Block(authorID string) {
	if authorID == "" {
		return
	}
	b.mu.Lock()
	if _, ok := b.blocked[authorID]; ok {
		b.mu.Unlock()
		return
	}
	b.blocked[authorID] = struct{}{}
	snapshot := b.snapshotLocked()
	b.mu.Unlock()

	b.logger.Info("author blocked", "author", authorID)
	b.changes.Set(snapshot)
}

// Unblock removes an author from the set.
func (b *BlockList) Unblock(authorID string) {
	b.mu.Lock()
	if _, ok := b.blocked[authorID]; !ok {
		b.mu.Unlock()
		return
	}
	delete(b.blocked, authorID)
	snapshot := b.snapshotLocked()
	b.mu.Unlock()

	b.logger.Info("author unblocked", "author", authorID)
	b.changes.Set(snapshot)
}

// IsBlocked reports whether the author is currently blocked.
func (b *BlockList) IsBlocked(authorID string) bool {
	if authorID == "" {
		return false
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	_, ok := b.blocked[authorID]
	return ok
}

// Subscribe returns a channel receiving the full blocked set after every
// change, starting with the current set if any change has occurred.
func (b *BlockList) Subscribe() (<-chan []string, func()) {
	return b.changes.Subscribe()
}

func (b *BlockList) snapshotLocked() []string {
	out := make([]string, 0, len(b.blocked))
	for id := range b.blocked {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
