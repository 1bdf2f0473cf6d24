// ABOUTME: Tests for identity resolution over the archive
// ABOUTME: Covers name lookup fallbacks, key readiness and group owner derivation

package identity

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/palaver-im/palaver/internal/archive"
	"github.com/palaver-im/palaver/internal/entity"
	"github.com/palaver-im/palaver/internal/events"
	"github.com/palaver-im/palaver/internal/store"
)

func newTestBook(t *testing.T) (*Book, *archive.Archive) {
	t.Helper()
	bus := events.NewBus(nil)
	t.Cleanup(bus.Close)
	a := archive.New(store.NewMockStore(), bus, nil, time.Minute, 0)
	return NewBook(a, nil), a
}

func TestName_FromProfile(t *testing.T) {
	book, a := newTestBook(t)
	ctx := context.Background()
	alice := entity.UserID("alice")

	// No profile yet: raw identifier.
	assert.Equal(t, "alice", book.Name(ctx, alice))

	require.NoError(t, a.SaveDocument(ctx, &entity.Document{
		ID: alice, Type: entity.DocProfile,
		Data: `{"name":"Alice Liddell"}`,
		Time: time.Unix(1000, 0),
	}))
	assert.Equal(t, "Alice Liddell", book.Name(ctx, alice))
}

func TestName_GroupUsesBulletin(t *testing.T) {
	book, a := newTestBook(t)
	ctx := context.Background()
	dev := entity.GroupID("dev")

	require.NoError(t, a.SaveDocument(ctx, &entity.Document{
		ID: dev, Type: entity.DocBulletin,
		Data: `{"name":"Dev Chat"}`,
		Time: time.Unix(1000, 0),
	}))
	assert.Equal(t, "Dev Chat", book.Name(ctx, dev))
}

func TestName_MalformedDataFallsBack(t *testing.T) {
	book, a := newTestBook(t)
	ctx := context.Background()
	alice := entity.UserID("alice")

	require.NoError(t, a.SaveDocument(ctx, &entity.Document{
		ID: alice, Type: entity.DocProfile,
		Data: `not json`,
		Time: time.Unix(1000, 0),
	}))
	assert.Equal(t, "alice", book.Name(ctx, alice))
}

func TestHasEncryptionKey(t *testing.T) {
	book, a := newTestBook(t)
	ctx := context.Background()
	alice := entity.UserID("alice")

	assert.False(t, book.HasEncryptionKey(ctx, alice))

	require.NoError(t, a.SaveMeta(ctx, &entity.Meta{ID: alice, Type: 1, Key: "pubkey"}))
	assert.True(t, book.HasEncryptionKey(ctx, alice))
}

func TestGetOwner_FromBulletin(t *testing.T) {
	book, a := newTestBook(t)
	ctx := context.Background()
	dev := entity.GroupID("dev")

	require.NoError(t, a.SaveDocument(ctx, &entity.Document{
		ID: dev, Type: entity.DocBulletin,
		Data: `{"name":"Dev Chat","owner":"user:carol"}`,
		Time: time.Unix(1000, 0),
	}))

	owner, err := book.GetOwner(ctx, dev)
	require.NoError(t, err)
	assert.Equal(t, entity.UserID("carol"), owner)
}

func TestGetOwner_FallsBackToFirstMember(t *testing.T) {
	book, a := newTestBook(t)
	ctx := context.Background()
	dev := entity.GroupID("dev")

	owner, err := book.GetOwner(ctx, dev)
	require.NoError(t, err)
	assert.True(t, owner.IsZero())

	require.NoError(t, a.SaveMembers(ctx, dev, []entity.ID{
		entity.UserID("carol"), entity.UserID("alice"),
	}))
	owner, err = book.GetOwner(ctx, dev)
	require.NoError(t, err)
	assert.Equal(t, entity.UserID("carol"), owner)
}

func TestGetBulletin_MissingIsNil(t *testing.T) {
	book, _ := newTestBook(t)
	doc, err := book.GetBulletin(context.Background(), entity.GroupID("dev"))
	require.NoError(t, err)
	assert.Nil(t, doc)
}
