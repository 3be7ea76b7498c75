package content_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"Currents/internal/core/content"
	"Currents/internal/core/feeds"
	"Currents/internal/core/moderation"
	"Currents/internal/db/sqlite"
)

type mockRemoteContent struct {
	mock.Mock
}

func (m *mockRemoteContent) Fetch(ctx context.Context, id string) (*content.Item, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*content.Item), args.Error(1)
}

func (m *mockRemoteContent) Put(ctx context.Context, item content.Item) (*content.Item, error) {
	args := m.Called(ctx, item)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*content.Item), args.Error(1)
}

func (m *mockRemoteContent) Delete(ctx context.Context, id string) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *mockRemoteContent) Vote(ctx context.Context, id, optionID string) (*content.Vote, error) {
	args := m.Called(ctx, id, optionID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*content.Vote), args.Error(1)
}

var repoBase = time.Date(2026, 2, 10, 12, 0, 0, 0, time.UTC)

type repoEnv struct {
	store    *sqlite.ContentRepository
	ordering *sqlite.OrderingRepository
	remote   *mockRemoteContent
	blocks   *moderation.BlockList
	repo     *content.Repository
}

func newRepoEnv(t *testing.T) *repoEnv {
	t.Helper()
	db, err := sqlite.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	e := &repoEnv{
		store:    sqlite.NewContentRepository(db),
		ordering: sqlite.NewOrderingRepository(db),
		remote:   new(mockRemoteContent),
		blocks:   moderation.NewBlockList(nil),
	}
	e.repo = content.NewRepository(e.store, e.ordering, e.remote, e.blocks, content.KindPost, nil)
	t.Cleanup(e.repo.Close)
	return e
}

func (e *repoEnv) seed(t *testing.T, it content.Item) {
	t.Helper()
	require.NoError(t, e.store.Put(context.Background(), it))
}

func post(id, author string) content.Item {
	return content.Item{
		ID:         id,
		UpdateTime: repoBase,
		AuthorID:   author,
		Kind:       content.KindPost,
		Body:       "body " + id,
	}
}

// waitFor drains the live channel until pred holds or the deadline hits.
func waitFor(t *testing.T, ch <-chan *content.Item, pred func(*content.Item) bool, msg string) {
	t.Helper()
	deadline := time.After(time.Second)
	for {
		select {
		case got := <-ch:
			if pred(got) {
				return
			}
		case <-deadline:
			t.Fatal(msg)
		}
	}
}

func TestGetEmitsThenNilWhenAuthorBlocked(t *testing.T) {
	e := newRepoEnv(t)
	e.seed(t, post("1", "userA"))
	ctx := context.Background()

	v, release, err := e.repo.Get(ctx, "1")
	require.NoError(t, err)
	defer release()

	ch, cancel := v.Subscribe()
	defer cancel()

	waitFor(t, ch, func(it *content.Item) bool {
		return it != nil && it.ID == "1"
	}, "initial emission missing")

	e.blocks.Block("userA")
	waitFor(t, ch, func(it *content.Item) bool { return it == nil },
		"blocking the author must emit nil")

	// The record itself is untouched.
	stored, err := e.store.Get(ctx, "1")
	require.NoError(t, err)
	assert.Equal(t, "userA", stored.AuthorID)

	e.blocks.Unblock("userA")
	waitFor(t, ch, func(it *content.Item) bool { return it != nil },
		"unblocking must re-emit the item")
}

func TestGetBlockedAtSubscribeEmitsNil(t *testing.T) {
	e := newRepoEnv(t)
	e.seed(t, post("1", "userA"))
	e.blocks.Block("userA")

	v, release, err := e.repo.Get(context.Background(), "1")
	require.NoError(t, err)
	defer release()

	got, ok := v.Get()
	require.True(t, ok)
	assert.Nil(t, got)
}

func TestVoteOptimisticThenConfirmed(t *testing.T) {
	e := newRepoEnv(t)
	e.seed(t, post("1", "userA"))
	ctx := context.Background()

	canonical := &content.Vote{ID: "v9", OptionID: "X"}
	e.remote.On("Vote", mock.Anything, "1", "X").Return(canonical, nil)

	got, err := e.repo.Vote(ctx, "1", "X")
	require.NoError(t, err)
	assert.Equal(t, canonical, got)

	stored, err := e.store.Get(ctx, "1")
	require.NoError(t, err)
	require.NotNil(t, stored.Vote)
	assert.Equal(t, "v9", stored.Vote.ID, "server-assigned vote id replaces the optimistic guess")
}

func TestVoteRollbackOnFailure(t *testing.T) {
	e := newRepoEnv(t)
	before := post("1", "userA")
	before.Likes = 7
	e.seed(t, before)
	ctx := context.Background()

	e.remote.On("Vote", mock.Anything, "1", "X").Return(nil, content.ErrNotAuthenticated)

	_, err := e.repo.Vote(ctx, "1", "X")
	require.ErrorIs(t, err, content.ErrNotAuthenticated)

	stored, err := e.store.Get(ctx, "1")
	require.NoError(t, err)
	assert.Equal(t, before, *stored, "failed mutation must restore the pre-mutation value exactly")
}

func TestVoteUnknownItem(t *testing.T) {
	e := newRepoEnv(t)
	_, err := e.repo.Vote(context.Background(), "ghost", "X")
	assert.ErrorIs(t, err, content.ErrNotCached)
}

func TestConcurrentVotesSerializePerItem(t *testing.T) {
	e := newRepoEnv(t)
	e.seed(t, post("1", "userA"))
	ctx := context.Background()

	gate := make(chan struct{})
	e.remote.On("Vote", mock.Anything, "1", "X").
		Run(func(mock.Arguments) { <-gate }).
		Return(nil, content.ErrNoNetwork).Once()
	e.remote.On("Vote", mock.Anything, "1", "Y").
		Return(&content.Vote{ID: "v2", OptionID: "Y"}, nil).Once()

	done := make(chan error, 1)
	go func() {
		_, err := e.repo.Vote(ctx, "1", "X")
		done <- err
	}()
	time.Sleep(20 * time.Millisecond) // let the first vote take the lock
	close(gate)

	// Second vote waits for the first's rollback, so its snapshot is the
	// settled value, not the in-flight optimistic one.
	got, err := e.repo.Vote(ctx, "1", "Y")
	require.NoError(t, err)
	assert.Equal(t, "v2", got.ID)
	require.ErrorIs(t, <-done, content.ErrNoNetwork)

	stored, err := e.store.Get(ctx, "1")
	require.NoError(t, err)
	require.NotNil(t, stored.Vote)
	assert.Equal(t, "Y", stored.Vote.OptionID)
}

func TestFetchNotFoundDeletesLocally(t *testing.T) {
	e := newRepoEnv(t)
	e.seed(t, post("1", "userA"))
	require.NoError(t, e.ordering.Upsert(context.Background(), "f1",
		[]feeds.Entry{{ItemID: "1", UpdateTime: repoBase}}))
	ctx := context.Background()

	events, cancel := e.repo.Events()
	defer cancel()

	e.remote.On("Fetch", mock.Anything, "1").Return(nil, content.ErrNotFound)

	_, err := e.repo.Fetch(ctx, "1")
	require.ErrorIs(t, err, content.ErrNotFound)

	_, err = e.store.Get(ctx, "1")
	assert.ErrorIs(t, err, content.ErrNotCached)

	refs, err := e.ordering.ReferencedItemIDs(ctx)
	require.NoError(t, err)
	assert.Empty(t, refs, "feed references must be dropped")

	var deletions int
	timeout := time.After(200 * time.Millisecond)
drain:
	for {
		select {
		case n := <-events:
			if n.Kind == content.NotificationDeleted && n.ItemID == "1" {
				deletions++
			}
		case <-timeout:
			break drain
		}
	}
	assert.Equal(t, 1, deletions, "deletion notification fires exactly once")
}

func TestFetchRefreshesCache(t *testing.T) {
	e := newRepoEnv(t)
	ctx := context.Background()

	fresh := post("1", "userA")
	fresh.Likes = 12
	e.remote.On("Fetch", mock.Anything, "1").Return(&fresh, nil)

	got, err := e.repo.Fetch(ctx, "1")
	require.NoError(t, err)
	assert.Equal(t, 12, got.Likes)

	stored, err := e.store.Get(ctx, "1")
	require.NoError(t, err)
	assert.Equal(t, 12, stored.Likes)
}

func TestSendValidatesBeforeNetwork(t *testing.T) {
	e := newRepoEnv(t)

	_, err := e.repo.Send(context.Background(), content.Item{Body: "   "})
	require.Error(t, err)
	assert.True(t, content.IsValidationError(err))

	var ve *content.ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "body", ve.Field)

	e.remote.AssertNotCalled(t, "Put", mock.Anything, mock.Anything)
}

func TestSendRejectsBadAttachment(t *testing.T) {
	e := newRepoEnv(t)

	_, err := e.repo.Send(context.Background(), content.Item{
		Body:       "hello",
		Attachment: "ftp://example.com/file",
	})
	var ve *content.ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "attachment", ve.Field)
}

func TestSendStoresCanonicalItem(t *testing.T) {
	e := newRepoEnv(t)
	ctx := context.Background()

	e.remote.On("Put", mock.Anything, mock.MatchedBy(func(it content.Item) bool {
		return it.ID != "" && it.Body == "hello world"
	})).Return(&content.Item{
		ID:         "srv-1",
		UpdateTime: repoBase,
		AuthorID:   "me",
		Kind:       content.KindPost,
		Body:       "hello world",
		Likes:      1, // server-assigned aggregate
	}, nil)

	got, err := e.repo.Send(ctx, content.Item{Body: "hello world"})
	require.NoError(t, err)
	assert.Equal(t, "srv-1", got.ID)

	stored, err := e.store.Get(ctx, "srv-1")
	require.NoError(t, err)
	assert.Equal(t, 1, stored.Likes)
}

func TestSendSurfacesServerValidation(t *testing.T) {
	e := newRepoEnv(t)

	e.remote.On("Put", mock.Anything, mock.Anything).
		Return(nil, content.NewValidationError("body", "contains forbidden words"))

	_, err := e.repo.Send(context.Background(), content.Item{Body: "ok body"})
	var ve *content.ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "body", ve.Field)
}

func TestDeleteRemovesLocallyOnSuccess(t *testing.T) {
	e := newRepoEnv(t)
	e.seed(t, post("1", "userA"))
	ctx := context.Background()

	e.remote.On("Delete", mock.Anything, "1").Return(nil)

	require.NoError(t, e.repo.Delete(ctx, "1"))
	_, err := e.store.Get(ctx, "1")
	assert.ErrorIs(t, err, content.ErrNotCached)
}

func TestDeleteFailureLeavesLocalUntouched(t *testing.T) {
	e := newRepoEnv(t)
	e.seed(t, post("1", "userA"))
	ctx := context.Background()

	e.remote.On("Delete", mock.Anything, "1").Return(content.ErrNoNetwork)

	err := e.repo.Delete(ctx, "1")
	require.ErrorIs(t, err, content.ErrNoNetwork)

	_, err = e.store.Get(ctx, "1")
	assert.NoError(t, err, "no false deletion on remote failure")
}
