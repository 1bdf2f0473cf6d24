// ABOUTME: Tests for the archive facade over MockStore
// ABOUTME: Covers staleness gates, upsert events, caching and conversation removal

package archive

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/palaver-im/palaver/internal/entity"
	"github.com/palaver-im/palaver/internal/events"
	"github.com/palaver-im/palaver/internal/store"
)

func newTestArchive(t *testing.T) (*Archive, *store.MockStore, *events.Bus) {
	t.Helper()
	mock := store.NewMockStore()
	bus := events.NewBus(nil)
	t.Cleanup(bus.Close)
	return New(mock, bus, nil, time.Minute, 0), mock, bus
}

func textMessage(sender entity.ID, sn uint64, at time.Time, text string) *entity.InstantMessage {
	return &entity.InstantMessage{
		Envelope: entity.Envelope{Sender: sender, Receiver: entity.UserID("me"), Time: at},
		Content: &entity.TextContent{
			ContentBase: entity.ContentBase{Type: entity.ContentText, SN: sn, Time: at},
			Text:        text,
		},
	}
}

func collect(ch <-chan events.Event, n int) []events.Event {
	var got []events.Event
	timeout := time.After(time.Second)
	for len(got) < n {
		select {
		case ev := <-ch:
			got = append(got, ev)
		case <-timeout:
			return got
		}
	}
	return got
}

func TestSaveMessage_InsertThenUpdate(t *testing.T) {
	a, _, bus := newTestArchive(t)
	ctx := context.Background()
	ch, _ := bus.Subscribe(ctx, events.MessageUpdated)

	cid := entity.UserID("alice")
	at := time.Unix(1700000000, 0)

	created, err := a.SaveMessage(ctx, cid, textMessage(entity.UserID("alice"), 7, at, "hi"), "")
	require.NoError(t, err)
	assert.True(t, created)

	// Same key again, same time: treated as an update, not a duplicate.
	created, err = a.SaveMessage(ctx, cid, textMessage(entity.UserID("alice"), 7, at, "hi edited"), "")
	require.NoError(t, err)
	assert.False(t, created)

	got := collect(ch, 2)
	require.Len(t, got, 2)
	assert.Equal(t, events.ActionAdd, got[0].Action)
	assert.Equal(t, uint64(7), got[0].SN)
	assert.Equal(t, events.ActionUpdate, got[1].Action)
}

func TestSaveMessage_RejectsOlderTimestamp(t *testing.T) {
	a, _, _ := newTestArchive(t)
	ctx := context.Background()

	cid := entity.UserID("alice")
	newer := time.Unix(1700000100, 0)
	older := newer.Add(-time.Minute)

	_, err := a.SaveMessage(ctx, cid, textMessage(entity.UserID("alice"), 7, newer, "v2"), "")
	require.NoError(t, err)

	_, err = a.SaveMessage(ctx, cid, textMessage(entity.UserID("alice"), 7, older, "v1"), "")
	assert.ErrorIs(t, err, ErrStale)

	// Stored row keeps the newer version.
	row, err := a.GetMessage(ctx, cid, entity.UserID("alice"), 7)
	require.NoError(t, err)
	assert.True(t, row.Time.Equal(newer))
}

func TestSaveMessage_StripsAttachmentBytes(t *testing.T) {
	a, _, _ := newTestArchive(t)
	ctx := context.Background()

	cid := entity.UserID("alice")
	at := time.Unix(1700000000, 0)
	msg := &entity.InstantMessage{
		Envelope: entity.Envelope{Sender: entity.UserID("alice"), Receiver: entity.UserID("me"), Time: at},
		Content: &entity.FileContent{
			ContentBase: entity.ContentBase{Type: entity.ContentImage, SN: 1, Time: at},
			Filename:    "photo.jpg",
			URL:         "https://cdn.example/photo.jpg",
			Data:        []byte{0xFF, 0xD8, 0xFF},
		},
	}
	_, err := a.SaveMessage(ctx, cid, msg, "")
	require.NoError(t, err)

	row, err := a.GetMessage(ctx, cid, entity.UserID("alice"), 1)
	require.NoError(t, err)
	assert.NotContains(t, string(row.Payload), "data")
	assert.Contains(t, string(row.Payload), "photo.jpg")
}

func TestSaveConversation_UpsertAndEvents(t *testing.T) {
	a, _, bus := newTestArchive(t)
	ctx := context.Background()
	ch, _ := bus.Subscribe(ctx, events.ConversationUpdated)

	conv := &store.Conversation{ID: entity.GroupID("dev"), Unread: 1, Preview: "alice: hi"}
	require.NoError(t, a.SaveConversation(ctx, conv))
	conv.Unread = 2
	require.NoError(t, a.SaveConversation(ctx, conv))

	got := collect(ch, 2)
	require.Len(t, got, 2)
	assert.Equal(t, events.ActionAdd, got[0].Action)
	assert.Equal(t, events.ActionUpdate, got[1].Action)
	assert.Equal(t, "alice: hi", got[0].Text)
}

func TestGetConversation_CachesReads(t *testing.T) {
	a, mock, _ := newTestArchive(t)
	ctx := context.Background()

	conv := &store.Conversation{ID: entity.UserID("bob"), Preview: "hey"}
	require.NoError(t, a.SaveConversation(ctx, conv))

	// Delete the row behind the archive's back; the cached entry still serves.
	require.NoError(t, mock.DeleteConversation(ctx, conv.ID))

	got, err := a.GetConversation(ctx, conv.ID)
	require.NoError(t, err)
	assert.Equal(t, "hey", got.Preview)
}

func TestConversation_CacheHoldsCopies(t *testing.T) {
	a, _, _ := newTestArchive(t)
	ctx := context.Background()

	conv := &store.Conversation{ID: entity.GroupID("dev"), Unread: 3, Preview: "hi"}
	require.NoError(t, a.SaveConversation(ctx, conv))

	// Mutating the record after saving must not leak into the cache.
	conv.Unread = 99
	got, err := a.GetConversation(ctx, conv.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, got.Unread)

	// Mutating a returned record must not either.
	got.Unread = 42
	again, err := a.GetConversation(ctx, conv.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, again.Unread)
}

func TestGetConversation_NotFound(t *testing.T) {
	a, _, _ := newTestArchive(t)
	_, err := a.GetConversation(context.Background(), entity.UserID("nobody"))
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestRemoveConversation_DeletesMessagesAndPublishes(t *testing.T) {
	a, _, bus := newTestArchive(t)
	ctx := context.Background()
	convCh, _ := bus.Subscribe(ctx, events.ConversationUpdated)
	msgCh, _ := bus.Subscribe(ctx, events.MessageUpdated)

	cid := entity.GroupID("dev")
	at := time.Unix(1700000000, 0)
	require.NoError(t, a.SaveConversation(ctx, &store.Conversation{ID: cid}))
	_, err := a.SaveMessage(ctx, cid, textMessage(entity.UserID("alice"), 1, at, "hi"), "")
	require.NoError(t, err)

	require.NoError(t, a.RemoveConversation(ctx, cid))

	msgs, err := a.ListMessages(ctx, cid, 0)
	require.NoError(t, err)
	assert.Empty(t, msgs)
	_, err = a.GetConversation(ctx, cid)
	assert.ErrorIs(t, err, store.ErrNotFound)

	convEvents := collect(convCh, 2)
	require.Len(t, convEvents, 2)
	assert.Equal(t, events.ActionRemove, convEvents[1].Action)
	msgEvents := collect(msgCh, 2)
	require.Len(t, msgEvents, 2)
	assert.Equal(t, events.ActionClear, msgEvents[1].Action)
}

func TestSaveRoster_Differential(t *testing.T) {
	a, _, bus := newTestArchive(t)
	ctx := context.Background()
	ch, _ := bus.Subscribe(ctx, events.ContactsUpdated)

	me := entity.UserID("me")
	require.NoError(t, a.SaveContacts(ctx, me, []entity.ID{
		entity.UserID("a"), entity.UserID("b"),
	}))
	// Replace: drop b, keep a, add c.
	require.NoError(t, a.SaveContacts(ctx, me, []entity.ID{
		entity.UserID("a"), entity.UserID("c"),
	}))

	contacts, err := a.GetContacts(ctx, me)
	require.NoError(t, err)
	assert.Equal(t, []entity.ID{entity.UserID("a"), entity.UserID("c")}, contacts)

	got := collect(ch, 4)
	require.Len(t, got, 4)
	// Two adds, then one remove and one add from the replacement.
	assert.Equal(t, events.ActionAdd, got[0].Action)
	assert.Equal(t, events.ActionAdd, got[1].Action)
	assert.Equal(t, events.ActionRemove, got[2].Action)
	assert.Equal(t, entity.UserID("b"), got[2].User)
	assert.Equal(t, events.ActionAdd, got[3].Action)
	assert.Equal(t, entity.UserID("c"), got[3].User)
}

func TestSaveRoster_PartialFailureKeepsAppliedEntries(t *testing.T) {
	a, mock, _ := newTestArchive(t)
	ctx := context.Background()
	me := entity.UserID("me")

	// Fail the second mutating call: first add lands, second does not.
	mock.FailWith = assert.AnError
	mock.FailOnCall = 2

	err := a.SaveContacts(ctx, me, []entity.ID{
		entity.UserID("a"), entity.UserID("b"), entity.UserID("c"),
	})
	assert.ErrorIs(t, err, assert.AnError)

	// No rollback: the entry applied before the failure stays in the store,
	// and the dropped cache makes the next read reflect that.
	mock.FailWith = nil
	contacts, err := a.GetContacts(ctx, me)
	require.NoError(t, err)
	assert.Equal(t, []entity.ID{entity.UserID("a")}, contacts)
}

func TestRosterSingles_AddRemove(t *testing.T) {
	a, _, bus := newTestArchive(t)
	ctx := context.Background()
	ch, _ := bus.Subscribe(ctx, events.BlockListUpdated)

	me := entity.UserID("me")
	spammer := entity.UserID("spammer")

	require.NoError(t, a.AddBlocked(ctx, me, spammer))
	// Idempotent: no second event, no store call.
	require.NoError(t, a.AddBlocked(ctx, me, spammer))
	require.NoError(t, a.RemoveBlocked(ctx, me, spammer))
	// Removing an absent entry is a no-op.
	require.NoError(t, a.RemoveBlocked(ctx, me, spammer))

	blocked, err := a.GetBlockList(ctx, me)
	require.NoError(t, err)
	assert.Empty(t, blocked)

	got := collect(ch, 2)
	require.Len(t, got, 2)
	assert.Equal(t, events.ActionAdd, got[0].Action)
	assert.Equal(t, events.ActionRemove, got[1].Action)
}

func TestSaveDocument_RejectsOlder(t *testing.T) {
	a, _, bus := newTestArchive(t)
	ctx := context.Background()
	ch, _ := bus.Subscribe(ctx, events.DocumentUpdated)

	alice := entity.UserID("alice")
	newer := time.Unix(2000, 0)

	require.NoError(t, a.SaveDocument(ctx, &entity.Document{
		ID: alice, Type: entity.DocProfile, Data: `{"name":"Alice"}`, Time: newer,
	}))
	err := a.SaveDocument(ctx, &entity.Document{
		ID: alice, Type: entity.DocProfile, Data: `{"name":"Old"}`, Time: newer.Add(-time.Hour),
	})
	assert.ErrorIs(t, err, ErrStale)

	doc, err := a.GetDocument(ctx, alice, entity.DocProfile)
	require.NoError(t, err)
	assert.Equal(t, `{"name":"Alice"}`, doc.Data)

	got := collect(ch, 1)
	require.Len(t, got, 1)
	assert.Equal(t, entity.DocProfile, got[0].Text)
}

func TestSaveDocument_EqualTimeReplaces(t *testing.T) {
	a, _, _ := newTestArchive(t)
	ctx := context.Background()

	alice := entity.UserID("alice")
	at := time.Unix(2000, 0)
	require.NoError(t, a.SaveDocument(ctx, &entity.Document{
		ID: alice, Type: entity.DocProfile, Data: `{"name":"Alice"}`, Time: at,
	}))
	require.NoError(t, a.SaveDocument(ctx, &entity.Document{
		ID: alice, Type: entity.DocProfile, Data: `{"name":"Alice v2"}`, Time: at,
	}))

	doc, err := a.GetDocument(ctx, alice, entity.DocProfile)
	require.NoError(t, err)
	assert.Equal(t, `{"name":"Alice v2"}`, doc.Data)
}

func TestSaveMeta_ImmutableAndPublishedOnce(t *testing.T) {
	a, _, bus := newTestArchive(t)
	ctx := context.Background()
	ch, _ := bus.Subscribe(ctx, events.MetaSaved)

	meta := &entity.Meta{ID: entity.UserID("alice"), Type: 1, Key: "pubkey"}
	require.NoError(t, a.SaveMeta(ctx, meta))
	require.NoError(t, a.SaveMeta(ctx, meta))

	got := collect(ch, 1)
	require.Len(t, got, 1)
	assert.Equal(t, meta.ID, got[0].ID)

	// No second event arrives.
	select {
	case ev := <-ch:
		t.Fatalf("unexpected second meta event: %+v", ev)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestSaveLogin_RejectsOlder(t *testing.T) {
	a, _, _ := newTestArchive(t)
	ctx := context.Background()

	alice := entity.UserID("alice")
	require.NoError(t, a.SaveLogin(ctx, &entity.LoginRecord{
		User: alice, Station: "relay7", Time: time.Unix(2000, 0),
	}))
	err := a.SaveLogin(ctx, &entity.LoginRecord{
		User: alice, Station: "relay3", Time: time.Unix(1000, 0),
	})
	assert.ErrorIs(t, err, ErrStale)

	record, err := a.GetLogin(ctx, alice)
	require.NoError(t, err)
	assert.Equal(t, "relay7", record.Station)
}

func TestSaveTrace_AssignsIDAndPublishes(t *testing.T) {
	a, _, bus := newTestArchive(t)
	ctx := context.Background()
	ch, _ := bus.Subscribe(ctx, events.MessageTraced)

	trace := &store.Trace{
		CID:    entity.UserID("alice"),
		Sender: entity.UserID("me"),
		SN:     5,
	}
	require.NoError(t, a.SaveTrace(ctx, trace))
	assert.NotEmpty(t, trace.ID)

	traces, err := a.ListTraces(ctx, trace.CID, trace.Sender, 5)
	require.NoError(t, err)
	assert.Len(t, traces, 1)

	got := collect(ch, 1)
	require.Len(t, got, 1)
	assert.Equal(t, uint64(5), got[0].SN)
}

func TestSweepMessagesBefore(t *testing.T) {
	a, _, _ := newTestArchive(t)
	ctx := context.Background()

	cid := entity.UserID("alice")
	old := time.Unix(1000, 0)
	fresh := time.Unix(9000, 0)
	_, err := a.SaveMessage(ctx, cid, textMessage(entity.UserID("alice"), 1, old, "old"), "")
	require.NoError(t, err)
	_, err = a.SaveMessage(ctx, cid, textMessage(entity.UserID("alice"), 2, fresh, "fresh"), "")
	require.NoError(t, err)

	deleted, err := a.SweepMessagesBefore(ctx, time.Unix(5000, 0))
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)

	msgs, err := a.ListMessages(ctx, cid, 0)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, uint64(2), msgs[0].SN)
}
