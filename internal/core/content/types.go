package content

import (
	"context"
	"time"
)

// Kind identifies the content type a repository manages.
type Kind string

const (
	KindPost    Kind = "post"
	KindComment Kind = "comment"
	KindReply   Kind = "reply"
)

// Item is a cached content record. The same shape backs posts, comments
// and replies; Kind selects the validation rules that apply on Send.
type Item struct {
	ID         string       `json:"id"`
	UpdateTime time.Time    `json:"updateTime"`
	AuthorID   string       `json:"authorId,omitempty"`
	Kind       Kind         `json:"kind"`
	Body       string       `json:"body"`
	Attachment string       `json:"attachment,omitempty"`
	Likes      int          `json:"likes"`
	Vote       *Vote        `json:"vote,omitempty"`
	Options    []PollOption `json:"options,omitempty"`
}

// Vote is the viewer's vote on a poll item. ID is server-assigned and
// empty while a vote is only optimistic.
type Vote struct {
	ID       string `json:"id,omitempty"`
	OptionID string `json:"optionId"`
}

// PollOption is one selectable option of a poll item.
type PollOption struct {
	ID    string `json:"id"`
	Label string `json:"label"`
	Count int    `json:"count"`
}

// NotificationKind distinguishes ordinary updates from deletions so
// consumers can show "no longer available" instead of a generic error.
type NotificationKind string

const (
	NotificationUpdated NotificationKind = "updated"
	NotificationDeleted NotificationKind = "deleted"
)

// Notification reports a change to one cached item.
type Notification struct {
	ItemID string
	Kind   NotificationKind
}

// Store is the local content cache a repository reads and writes.
type Store interface {
	// Get returns the cached item or ErrNotCached.
	Get(ctx context.Context, id string) (*Item, error)
	// Put writes the item unconditionally, replacing any cached value.
	// This is the optimistic-overwrite path; batch hydration goes through
	// the freshness-guarded upsert instead.
	Put(ctx context.Context, item Item) error
	// Delete removes the cached item. Deleting an absent id is a no-op.
	Delete(ctx context.Context, id string) error
}

// ReferenceRemover drops an item's entries from every known feed ordering.
type ReferenceRemover interface {
	RemoveItem(ctx context.Context, itemID string) error
}

// RemoteContent is the server-side mutation API for one content type.
type RemoteContent interface {
	Fetch(ctx context.Context, id string) (*Item, error)
	Put(ctx context.Context, item Item) (*Item, error)
	Delete(ctx context.Context, id string) error
	Vote(ctx context.Context, id, optionID string) (*Vote, error)
}

// BlockFilter answers whether an author is blocked and notifies on change.
type BlockFilter interface {
	IsBlocked(authorID string) bool
	Subscribe() (<-chan []string, func())
}
