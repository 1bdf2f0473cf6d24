// ABOUTME: Tests for message ingestion and conversation aggregate updates
// ABOUTME: Runs the service over the real archive and shield backed by MockStore

package conversation

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/palaver-im/palaver/internal/archive"
	"github.com/palaver-im/palaver/internal/entity"
	"github.com/palaver-im/palaver/internal/events"
	"github.com/palaver-im/palaver/internal/shield"
	"github.com/palaver-im/palaver/internal/store"
)

var (
	me    = entity.UserID("me")
	alice = entity.UserID("alice")
	dev   = entity.GroupID("dev")
)

type staticNames map[entity.ID]string

func (n staticNames) Name(_ context.Context, id entity.ID) string {
	if name, ok := n[id]; ok {
		return name
	}
	return id.Name
}

type fixture struct {
	service *Service
	archive *archive.Archive
	shield  *shield.Shield
	bus     *events.Bus
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	bus := events.NewBus(nil)
	t.Cleanup(bus.Close)
	a := archive.New(store.NewMockStore(), bus, nil, time.Minute, 0)
	sh := shield.New(a, me, nil)
	names := staticNames{me: "Mindy", alice: "Alice"}
	return &fixture{
		service: NewService(a, sh, names, me, nil),
		archive: a,
		shield:  sh,
		bus:     bus,
	}
}

func groupText(sender entity.ID, sn uint64, at time.Time, text string) *entity.InstantMessage {
	return &entity.InstantMessage{
		Envelope: entity.Envelope{Sender: sender, Receiver: dev, Time: at},
		Content: &entity.TextContent{
			ContentBase: entity.ContentBase{Type: entity.ContentText, SN: sn, Time: at, Group: dev},
			Text:        text,
		},
	}
}

func directText(sender, receiver entity.ID, sn uint64, at time.Time, text string) *entity.InstantMessage {
	return &entity.InstantMessage{
		Envelope: entity.Envelope{Sender: sender, Receiver: receiver, Time: at},
		Content: &entity.TextContent{
			ContentBase: entity.ContentBase{Type: entity.ContentText, SN: sn, Time: at},
			Text:        text,
		},
	}
}

func TestSaveInstantMessage_GroupText(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	at := time.Unix(100, 0)

	require.NoError(t, f.service.SaveInstantMessage(ctx, groupText(alice, 5, at, "hello world"), nil))

	msgs, err := f.service.ListMessages(ctx, dev, 0)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, uint64(5), msgs[0].SN)

	conv, err := f.archive.GetConversation(ctx, dev)
	require.NoError(t, err)
	assert.Equal(t, "Alice: hello world", conv.Preview)
	assert.Equal(t, 1, conv.Unread)
	assert.True(t, conv.LastTime.Equal(at))
}

func TestSaveInstantMessage_OlderResendRejected(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.service.SaveInstantMessage(ctx, groupText(alice, 5, time.Unix(100, 0), "v2"), nil))

	err := f.service.SaveInstantMessage(ctx, groupText(alice, 5, time.Unix(90, 0), "v1"), nil)
	assert.ErrorIs(t, err, archive.ErrStale)

	conv, err := f.archive.GetConversation(ctx, dev)
	require.NoError(t, err)
	assert.Equal(t, "Alice: v2", conv.Preview)
	assert.Equal(t, 1, conv.Unread)
}

func TestSaveInstantMessage_IdempotentResend(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	at := time.Unix(100, 0)

	require.NoError(t, f.service.SaveInstantMessage(ctx, groupText(alice, 5, at, "hi"), nil))
	// Same key, same time: accepted, still exactly one row, unread not double
	// counted because the aggregate's last time did not advance.
	require.NoError(t, f.service.SaveInstantMessage(ctx, groupText(alice, 5, at, "hi"), nil))

	msgs, err := f.service.ListMessages(ctx, dev, 0)
	require.NoError(t, err)
	assert.Len(t, msgs, 1)

	conv, err := f.archive.GetConversation(ctx, dev)
	require.NoError(t, err)
	assert.Equal(t, 1, conv.Unread)
}

func TestSaveInstantMessage_BlockedSenderSkipsAggregate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.shield.Block(ctx, alice))

	require.NoError(t, f.service.SaveInstantMessage(ctx, groupText(alice, 1, time.Unix(100, 0), "spam"), nil))

	// The message row is persisted; blocking only guards the aggregate.
	msgs, err := f.service.ListMessages(ctx, dev, 0)
	require.NoError(t, err)
	assert.Len(t, msgs, 1)

	_, err = f.archive.GetConversation(ctx, dev)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestSaveInstantMessage_OwnMessageNotUnread(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.service.SaveInstantMessage(ctx, groupText(me, 1, time.Unix(100, 0), "mine"), nil))

	conv, err := f.archive.GetConversation(ctx, dev)
	require.NoError(t, err)
	assert.Equal(t, 0, conv.Unread)
	// Own messages carry no sender prefix.
	assert.Equal(t, "mine", conv.Preview)
}

func TestSaveInstantMessage_DirectMessageConversationID(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// Inbound: conversation keyed by the counterpart, not the local user.
	require.NoError(t, f.service.SaveInstantMessage(ctx, directText(alice, me, 1, time.Unix(100, 0), "hi"), nil))
	conv, err := f.archive.GetConversation(ctx, alice)
	require.NoError(t, err)
	assert.Equal(t, "hi", conv.Preview)

	// Outbound: same conversation.
	require.NoError(t, f.service.SaveInstantMessage(ctx, directText(me, alice, 2, time.Unix(200, 0), "hello back"), nil))
	conv, err = f.archive.GetConversation(ctx, alice)
	require.NoError(t, err)
	assert.Equal(t, "hello back", conv.Preview)
	assert.Equal(t, 1, conv.Unread)
}

func TestSaveInstantMessage_NoStoreKinds(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	at := time.Unix(100, 0)

	for _, content := range []entity.Content{
		&entity.CommandContent{
			ContentBase: entity.ContentBase{Type: entity.ContentCommand, SN: 1, Time: at},
			Name:        entity.CmdHandshake,
		},
		&entity.CustomizedContent{
			ContentBase: entity.ContentBase{Type: entity.ContentCustomized, SN: 2, Time: at},
			App:         "chat.dim.sechat",
		},
		&entity.ForwardContent{
			ContentBase: entity.ContentBase{Type: entity.ContentForward, SN: 3, Time: at},
		},
	} {
		msg := &entity.InstantMessage{
			Envelope: entity.Envelope{Sender: alice, Receiver: me, Time: at},
			Content:  content,
		}
		require.NoError(t, f.service.SaveInstantMessage(ctx, msg, nil))
	}

	msgs, err := f.service.ListMessages(ctx, alice, 0)
	require.NoError(t, err)
	assert.Empty(t, msgs)
}

func TestSaveInstantMessage_CustomizedAppContent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	at := time.Unix(100, 0)

	msg := &entity.InstantMessage{
		Envelope: entity.Envelope{Sender: alice, Receiver: me, Time: at},
		Content: &entity.CustomizedContent{
			ContentBase: entity.ContentBase{Type: entity.ContentCustomized, SN: 1, Time: at},
			App:         "com.example.game",
			Module:      "board",
			Action:      "move",
		},
	}
	require.NoError(t, f.service.SaveInstantMessage(ctx, msg, nil))

	// Only reserved app ids are diverted to external processors; everything
	// else is stored and previewed like any other content.
	msgs, err := f.service.ListMessages(ctx, alice, 0)
	require.NoError(t, err)
	require.Len(t, msgs, 1)

	conv, err := f.archive.GetConversation(ctx, alice)
	require.NoError(t, err)
	assert.Equal(t, "[com.example.game:board:move]", conv.Preview)
	assert.Equal(t, 1, conv.Unread)
}

func TestSaveInstantMessage_ConcurrentIngestion(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	updates, subID := f.bus.Subscribe(ctx, events.ConversationUpdated)
	defer f.bus.Unsubscribe(events.ConversationUpdated, subID)

	const n = 20
	errs := make([]error, n)
	start := make(chan struct{})
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			at := time.Unix(int64(100+i), 0)
			errs[i] = f.service.SaveInstantMessage(ctx, groupText(alice, uint64(i+1), at, "hi"), nil)
		}(i)
	}
	close(start)
	wg.Wait()
	for i, err := range errs {
		require.NoError(t, err, "message %d", i)
	}

	conv, err := f.archive.GetConversation(ctx, dev)
	require.NoError(t, err)

	// Every aggregate update that advances the last time increments unread by
	// one and publishes exactly one event; messages arriving behind a newer
	// last time do neither. No increment may be lost to interleaving.
	assert.Equal(t, len(updates), conv.Unread)
	assert.GreaterOrEqual(t, conv.Unread, 1)
	assert.True(t, conv.LastTime.Equal(time.Unix(int64(100+n-1), 0)))
}

func TestSaveInstantMessage_UnresolvableConversation(t *testing.T) {
	f := newFixture(t)
	err := f.service.SaveInstantMessage(context.Background(),
		directText(me, me, 1, time.Unix(100, 0), "note to self"), nil)
	assert.ErrorIs(t, err, ErrNoConversation)
}

func TestGroupCommand_HiddenWhenNotMember(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	at := time.Unix(100, 0)

	msg := &entity.InstantMessage{
		Envelope: entity.Envelope{Sender: alice, Receiver: dev, Time: at},
		Content: &entity.GroupCommand{
			ContentBase: entity.ContentBase{Type: entity.ContentHistory, SN: 1, Time: at, Group: dev},
			Name:        entity.CmdGroupInvite,
			Members:     []entity.ID{entity.UserID("bob")},
		},
	}
	require.NoError(t, f.service.SaveInstantMessage(ctx, msg, nil))

	// Stored but invisible: the local user is not in the group.
	msgs, err := f.service.ListMessages(ctx, dev, 0)
	require.NoError(t, err)
	assert.Len(t, msgs, 1)
	_, err = f.archive.GetConversation(ctx, dev)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestGroupCommand_VisibleWhenMember(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	at := time.Unix(100, 0)
	require.NoError(t, f.archive.SaveMembers(ctx, dev, []entity.ID{alice, me}))

	msg := &entity.InstantMessage{
		Envelope: entity.Envelope{Sender: alice, Receiver: dev, Time: at},
		Content: &entity.GroupCommand{
			ContentBase: entity.ContentBase{Type: entity.ContentHistory, SN: 1, Time: at, Group: dev},
			Name:        entity.CmdGroupInvite,
			Members:     []entity.ID{entity.UserID("bob")},
		},
	}
	require.NoError(t, f.service.SaveInstantMessage(ctx, msg, nil))

	conv, err := f.archive.GetConversation(ctx, dev)
	require.NoError(t, err)
	assert.Equal(t, "Alice: Invited: bob", conv.Preview)
	// Command content never counts as unread.
	assert.Equal(t, 0, conv.Unread)
}

func TestMentionDetection(t *testing.T) {
	tests := []struct {
		name string
		text string
		want uint64
	}{
		{"at all suffix", "heads up @all", 7},
		{"capital At All", "@All please read", 7},
		{"nickname suffix", "ping @Mindy", 7},
		{"nickname mid text", "@Mindy can you look", 7},
		{"upper case all ignored", "hello @ALL", 0},
		{"no mention", "just chatting", 0},
		{"nickname without at", "Mindy said so", 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			ctx := context.Background()

			require.NoError(t, f.service.SaveInstantMessage(ctx,
				groupText(alice, 7, time.Unix(100, 0), tt.text), nil))

			conv, err := f.archive.GetConversation(ctx, dev)
			require.NoError(t, err)
			assert.Equal(t, tt.want, conv.MentionSN)
		})
	}
}

func TestOpenBinding_ResetsInsteadOfAccumulating(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.service.SaveInstantMessage(ctx, groupText(alice, 1, time.Unix(100, 0), "one @all"), nil))
	conv, err := f.archive.GetConversation(ctx, dev)
	require.NoError(t, err)
	assert.Equal(t, 1, conv.Unread)
	assert.Equal(t, uint64(1), conv.MentionSN)

	require.NoError(t, f.service.OpenConversation(ctx, dev))
	conv, err = f.archive.GetConversation(ctx, dev)
	require.NoError(t, err)
	assert.Equal(t, 0, conv.Unread)
	assert.Equal(t, uint64(0), conv.MentionSN)

	// While open, new messages are considered seen immediately.
	require.NoError(t, f.service.SaveInstantMessage(ctx, groupText(alice, 2, time.Unix(200, 0), "two"), nil))
	conv, err = f.archive.GetConversation(ctx, dev)
	require.NoError(t, err)
	assert.Equal(t, 0, conv.Unread)
	assert.Equal(t, "Alice: two", conv.Preview)

	// After closing, unread accumulates again.
	f.service.CloseConversation(dev)
	require.NoError(t, f.service.SaveInstantMessage(ctx, groupText(alice, 3, time.Unix(300, 0), "three"), nil))
	conv, err = f.archive.GetConversation(ctx, dev)
	require.NoError(t, err)
	assert.Equal(t, 1, conv.Unread)
}

func TestMutedSenderCountsNothing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.shield.Mute(ctx, alice))

	require.NoError(t, f.service.SaveInstantMessage(ctx, groupText(alice, 1, time.Unix(100, 0), "muted chatter"), nil))

	conv, err := f.archive.GetConversation(ctx, dev)
	require.NoError(t, err)
	assert.Equal(t, 0, conv.Unread)
	// Preview still updates; muting only silences the counter.
	assert.Equal(t, "Alice: muted chatter", conv.Preview)
}

func TestPreviewTruncation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	long := strings.Repeat("щ", 300)
	require.NoError(t, f.service.SaveInstantMessage(ctx,
		directText(alice, me, 1, time.Unix(100, 0), "line one\nline two\n"+long), nil))

	conv, err := f.archive.GetConversation(ctx, alice)
	require.NoError(t, err)
	assert.NotContains(t, conv.Preview, "\n")
	assert.True(t, strings.HasSuffix(conv.Preview, "…"))
	assert.LessOrEqual(t, len([]rune(conv.Preview)), previewMaxRunes+1)
}

func TestMarkRead(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.service.SaveInstantMessage(ctx, groupText(alice, 1, time.Unix(100, 0), "hi @all"), nil))
	require.NoError(t, f.service.MarkRead(ctx, dev))

	conv, err := f.archive.GetConversation(ctx, dev)
	require.NoError(t, err)
	assert.Equal(t, 0, conv.Unread)
	assert.Equal(t, uint64(0), conv.MentionSN)

	// Missing conversation is a no-op.
	require.NoError(t, f.service.MarkRead(ctx, entity.UserID("nobody")))
}

func TestDeleteConversation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.service.SaveInstantMessage(ctx, groupText(alice, 1, time.Unix(100, 0), "hi"), nil))
	require.NoError(t, f.service.DeleteConversation(ctx, dev))

	msgs, err := f.service.ListMessages(ctx, dev, 0)
	require.NoError(t, err)
	assert.Empty(t, msgs)
	_, err = f.archive.GetConversation(ctx, dev)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestSaveReceipt_TracksOrigin(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	at := time.Unix(200, 0)

	receipt := &entity.InstantMessage{
		Envelope: entity.Envelope{Sender: alice, Receiver: me, Time: at},
		Content: &entity.ReceiptCommand{
			ContentBase: entity.ContentBase{Type: entity.ContentCommand, SN: 9, Time: at},
			Text:        "Message received",
			OriginEnvelope: &entity.Envelope{
				Sender:   me,
				Receiver: alice,
				Time:     time.Unix(100, 0),
			},
			OriginType: entity.ContentText,
			OriginSN:   5,
		},
	}
	require.NoError(t, f.service.SaveInstantMessage(ctx, receipt, nil))

	// Origin was sent by me to alice: the conversation is alice's.
	traces, err := f.service.Traces(ctx, alice, me, 5)
	require.NoError(t, err)
	require.Len(t, traces, 1)
	assert.Contains(t, string(traces[0].Payload), alice.String())

	// Receipts never become message rows.
	msgs, err := f.service.ListMessages(ctx, alice, 0)
	require.NoError(t, err)
	assert.Empty(t, msgs)
}

func TestSaveReceipt_UntrackedOriginKinds(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	at := time.Unix(200, 0)

	for _, originType := range []entity.ContentType{
		entity.ContentCommand, entity.ContentHistory,
		entity.ContentForward, entity.ContentArray, entity.ContentCustomized,
	} {
		receipt := &entity.InstantMessage{
			Envelope: entity.Envelope{Sender: alice, Receiver: me, Time: at},
			Content: &entity.ReceiptCommand{
				ContentBase:    entity.ContentBase{Type: entity.ContentCommand, SN: 9, Time: at},
				OriginEnvelope: &entity.Envelope{Sender: me, Receiver: alice},
				OriginType:     originType,
				OriginSN:       5,
			},
		}
		require.NoError(t, f.service.SaveInstantMessage(ctx, receipt, nil))
	}

	traces, err := f.service.Traces(ctx, alice, me, 5)
	require.NoError(t, err)
	assert.Empty(t, traces)
}

func TestSaveReceipt_MissingSNTolerated(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	receipt := &entity.InstantMessage{
		Envelope: entity.Envelope{Sender: alice, Receiver: me, Time: time.Unix(200, 0)},
		Content: &entity.ReceiptCommand{
			ContentBase:    entity.ContentBase{Type: entity.ContentCommand, SN: 9, Time: time.Unix(200, 0)},
			OriginEnvelope: &entity.Envelope{Sender: me, Receiver: alice},
			OriginType:     entity.ContentText,
		},
	}
	require.NoError(t, f.service.SaveInstantMessage(ctx, receipt, nil))

	traces, err := f.service.Traces(ctx, alice, me, 0)
	require.NoError(t, err)
	assert.Len(t, traces, 1)
}
