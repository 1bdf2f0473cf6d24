// ABOUTME: Mock Store implementation for testing
// ABOUTME: Allows service-level tests to run without SQLite

package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/palaver-im/palaver/internal/entity"
)

type messageKey struct {
	cid    string
	sender string
	sn     uint64
}

type docKey struct {
	did     string
	docType string
}

// MockStore is an in-memory Store implementation for testing.
// FailWith, when set, makes every mutating call return that error; tests use
// it to exercise partial-failure paths.
type MockStore struct {
	mu            sync.RWMutex
	conversations map[string]*Conversation
	messages      map[messageKey]*Message
	rosters       map[string]map[string][]entity.ID // table -> key -> values
	documents     map[docKey]*entity.Document
	metas         map[string]*entity.Meta
	logins        map[string]*entity.LoginRecord
	keys          map[string][]*entity.PrivateKey
	traces        []*Trace

	FailWith   error
	FailOnCall int // fail only on the Nth mutating call (1-based); 0 = all
	mutations  int
}

// NewMockStore creates a new MockStore.
func NewMockStore() *MockStore {
	return &MockStore{
		conversations: make(map[string]*Conversation),
		messages:      make(map[messageKey]*Message),
		rosters:       make(map[string]map[string][]entity.ID),
		documents:     make(map[docKey]*entity.Document),
		metas:         make(map[string]*entity.Meta),
		logins:        make(map[string]*entity.LoginRecord),
		keys:          make(map[string][]*entity.PrivateKey),
	}
}

// failNow reports whether this mutating call should fail. Must be called
// with mu held.
func (m *MockStore) failNow() error {
	if m.FailWith == nil {
		return nil
	}
	m.mutations++
	if m.FailOnCall == 0 || m.mutations == m.FailOnCall {
		return m.FailWith
	}
	return nil
}

// GetConversation retrieves a conversation by ID.
func (m *MockStore) GetConversation(ctx context.Context, id entity.ID) (*Conversation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	c, ok := m.conversations[id.String()]
	if !ok {
		return nil, ErrNotFound
	}
	result := *c
	return &result, nil
}

// ListConversations returns all conversations, most recent first.
func (m *MockStore) ListConversations(ctx context.Context) ([]*Conversation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]*Conversation, 0, len(m.conversations))
	for _, c := range m.conversations {
		copied := *c
		result = append(result, &copied)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].LastTime.After(result[j].LastTime)
	})
	return result, nil
}

// InsertConversation stores a new conversation.
func (m *MockStore) InsertConversation(ctx context.Context, c *Conversation) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.failNow(); err != nil {
		return err
	}
	if _, exists := m.conversations[c.ID.String()]; exists {
		return ErrDuplicate
	}
	copied := *c
	m.conversations[c.ID.String()] = &copied
	return nil
}

// UpdateConversation updates an existing conversation.
func (m *MockStore) UpdateConversation(ctx context.Context, c *Conversation) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.failNow(); err != nil {
		return err
	}
	if _, exists := m.conversations[c.ID.String()]; !exists {
		return ErrNotFound
	}
	copied := *c
	m.conversations[c.ID.String()] = &copied
	return nil
}

// DeleteConversation removes a conversation.
func (m *MockStore) DeleteConversation(ctx context.Context, id entity.ID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.failNow(); err != nil {
		return err
	}
	if _, exists := m.conversations[id.String()]; !exists {
		return ErrNotFound
	}
	delete(m.conversations, id.String())
	return nil
}

// GetMessage retrieves a message by its natural key.
func (m *MockStore) GetMessage(ctx context.Context, cid, sender entity.ID, sn uint64) (*Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	msg, ok := m.messages[messageKey{cid.String(), sender.String(), sn}]
	if !ok {
		return nil, ErrNotFound
	}
	result := *msg
	return &result, nil
}

// InsertMessage stores a new message.
func (m *MockStore) InsertMessage(ctx context.Context, msg *Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.failNow(); err != nil {
		return err
	}
	key := messageKey{msg.CID.String(), msg.Sender.String(), msg.SN}
	if _, exists := m.messages[key]; exists {
		return ErrDuplicate
	}
	copied := *msg
	m.messages[key] = &copied
	return nil
}

// UpdateMessage rewrites an existing message in place.
func (m *MockStore) UpdateMessage(ctx context.Context, msg *Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.failNow(); err != nil {
		return err
	}
	key := messageKey{msg.CID.String(), msg.Sender.String(), msg.SN}
	if _, exists := m.messages[key]; !exists {
		return ErrNotFound
	}
	copied := *msg
	m.messages[key] = &copied
	return nil
}

// ListMessages returns messages of a conversation in chronological order.
func (m *MockStore) ListMessages(ctx context.Context, cid entity.ID, limit int) ([]*Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*Message
	for key, msg := range m.messages {
		if key.cid == cid.String() {
			copied := *msg
			result = append(result, &copied)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].Time.Before(result[j].Time)
	})
	if limit > 0 && len(result) > limit {
		result = result[len(result)-limit:]
	}
	return result, nil
}

// DeleteMessage removes a single message.
func (m *MockStore) DeleteMessage(ctx context.Context, cid, sender entity.ID, sn uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.failNow(); err != nil {
		return err
	}
	key := messageKey{cid.String(), sender.String(), sn}
	if _, exists := m.messages[key]; !exists {
		return ErrNotFound
	}
	delete(m.messages, key)
	return nil
}

// ClearMessages removes every message of a conversation.
func (m *MockStore) ClearMessages(ctx context.Context, cid entity.ID) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.failNow(); err != nil {
		return 0, err
	}
	var deleted int64
	for key := range m.messages {
		if key.cid == cid.String() {
			delete(m.messages, key)
			deleted++
		}
	}
	return deleted, nil
}

// DeleteMessagesBefore removes messages older than the cutoff.
func (m *MockStore) DeleteMessagesBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.failNow(); err != nil {
		return 0, err
	}
	var deleted int64
	for key, msg := range m.messages {
		if msg.Time.Before(cutoff) {
			delete(m.messages, key)
			deleted++
		}
	}
	return deleted, nil
}

func (m *MockStore) listRoster(table string, key entity.ID) ([]entity.ID, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	byKey, ok := m.rosters[table]
	if !ok {
		return nil, nil
	}
	values := byKey[key.String()]
	result := make([]entity.ID, len(values))
	copy(result, values)
	return result, nil
}

func (m *MockStore) addRoster(table string, key, value entity.ID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.failNow(); err != nil {
		return err
	}
	byKey, ok := m.rosters[table]
	if !ok {
		byKey = make(map[string][]entity.ID)
		m.rosters[table] = byKey
	}
	for _, existing := range byKey[key.String()] {
		if existing == value {
			return nil
		}
	}
	byKey[key.String()] = append(byKey[key.String()], value)
	return nil
}

func (m *MockStore) removeRoster(table string, key, value entity.ID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.failNow(); err != nil {
		return err
	}
	byKey, ok := m.rosters[table]
	if !ok {
		return nil
	}
	values := byKey[key.String()]
	for i, existing := range values {
		if existing == value {
			byKey[key.String()] = append(values[:i:i], values[i+1:]...)
			return nil
		}
	}
	return nil
}

func (m *MockStore) ListContacts(ctx context.Context, owner entity.ID) ([]entity.ID, error) {
	return m.listRoster("contacts", owner)
}
func (m *MockStore) AddContact(ctx context.Context, owner, contact entity.ID) error {
	return m.addRoster("contacts", owner, contact)
}
func (m *MockStore) RemoveContact(ctx context.Context, owner, contact entity.ID) error {
	return m.removeRoster("contacts", owner, contact)
}

func (m *MockStore) ListBlocked(ctx context.Context, owner entity.ID) ([]entity.ID, error) {
	return m.listRoster("blocked", owner)
}
func (m *MockStore) AddBlocked(ctx context.Context, owner, target entity.ID) error {
	return m.addRoster("blocked", owner, target)
}
func (m *MockStore) RemoveBlocked(ctx context.Context, owner, target entity.ID) error {
	return m.removeRoster("blocked", owner, target)
}

func (m *MockStore) ListMuted(ctx context.Context, owner entity.ID) ([]entity.ID, error) {
	return m.listRoster("muted", owner)
}
func (m *MockStore) AddMuted(ctx context.Context, owner, target entity.ID) error {
	return m.addRoster("muted", owner, target)
}
func (m *MockStore) RemoveMuted(ctx context.Context, owner, target entity.ID) error {
	return m.removeRoster("muted", owner, target)
}

func (m *MockStore) ListMembers(ctx context.Context, group entity.ID) ([]entity.ID, error) {
	return m.listRoster("members", group)
}
func (m *MockStore) AddMember(ctx context.Context, group, member entity.ID) error {
	return m.addRoster("members", group, member)
}
func (m *MockStore) RemoveMember(ctx context.Context, group, member entity.ID) error {
	return m.removeRoster("members", group, member)
}

func (m *MockStore) ListAdmins(ctx context.Context, group entity.ID) ([]entity.ID, error) {
	return m.listRoster("admins", group)
}
func (m *MockStore) AddAdmin(ctx context.Context, group, admin entity.ID) error {
	return m.addRoster("admins", group, admin)
}
func (m *MockStore) RemoveAdmin(ctx context.Context, group, admin entity.ID) error {
	return m.removeRoster("admins", group, admin)
}

// GetDocument retrieves one document by entity and type.
func (m *MockStore) GetDocument(ctx context.Context, id entity.ID, docType string) (*entity.Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	doc, ok := m.documents[docKey{id.String(), docType}]
	if !ok {
		return nil, ErrNotFound
	}
	result := *doc
	return &result, nil
}

// ListDocuments returns all documents of an entity.
func (m *MockStore) ListDocuments(ctx context.Context, id entity.ID) ([]*entity.Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var docs []*entity.Document
	for key, doc := range m.documents {
		if key.did == id.String() {
			copied := *doc
			docs = append(docs, &copied)
		}
	}
	sort.Slice(docs, func(i, j int) bool { return docs[i].Type < docs[j].Type })
	return docs, nil
}

// SaveDocument inserts or replaces a document.
func (m *MockStore) SaveDocument(ctx context.Context, doc *entity.Document) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.failNow(); err != nil {
		return err
	}
	copied := *doc
	m.documents[docKey{doc.ID.String(), doc.Type}] = &copied
	return nil
}

// GetMeta retrieves the meta record of an entity.
func (m *MockStore) GetMeta(ctx context.Context, id entity.ID) (*entity.Meta, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	meta, ok := m.metas[id.String()]
	if !ok {
		return nil, ErrNotFound
	}
	result := *meta
	return &result, nil
}

// InsertMeta stores an immutable meta record.
func (m *MockStore) InsertMeta(ctx context.Context, meta *entity.Meta) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.failNow(); err != nil {
		return err
	}
	if _, exists := m.metas[meta.ID.String()]; exists {
		return ErrDuplicate
	}
	copied := *meta
	m.metas[meta.ID.String()] = &copied
	return nil
}

// GetLogin retrieves a user's login record.
func (m *MockStore) GetLogin(ctx context.Context, user entity.ID) (*entity.LoginRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	record, ok := m.logins[user.String()]
	if !ok {
		return nil, ErrNotFound
	}
	result := *record
	return &result, nil
}

// SaveLogin inserts or replaces a login record.
func (m *MockStore) SaveLogin(ctx context.Context, record *entity.LoginRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.failNow(); err != nil {
		return err
	}
	copied := *record
	m.logins[record.User.String()] = &copied
	return nil
}

// SavePrivateKey stores a key blob.
func (m *MockStore) SavePrivateKey(ctx context.Context, key *entity.PrivateKey) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.failNow(); err != nil {
		return err
	}
	uid := key.User.String()
	if key.Type == entity.KeyTypeMeta {
		kept := m.keys[uid][:0]
		for _, k := range m.keys[uid] {
			if k.Type != entity.KeyTypeMeta {
				kept = append(kept, k)
			}
		}
		m.keys[uid] = kept
	}
	copied := *key
	m.keys[uid] = append(m.keys[uid], &copied)
	return nil
}

// GetPrivateKey retrieves the newest key of the given type.
func (m *MockStore) GetPrivateKey(ctx context.Context, user entity.ID, keyType string) (*entity.PrivateKey, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	keys := m.keys[user.String()]
	for i := len(keys) - 1; i >= 0; i-- {
		if keys[i].Type == keyType {
			result := *keys[i]
			return &result, nil
		}
	}
	return nil, ErrNotFound
}

// ListDecryptKeys returns message keys newest first, then the identity key.
func (m *MockStore) ListDecryptKeys(ctx context.Context, user entity.ID) ([]*entity.PrivateKey, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	keys := m.keys[user.String()]
	var msgKeys, metaKeys []*entity.PrivateKey
	for i := len(keys) - 1; i >= 0; i-- {
		copied := *keys[i]
		if keys[i].Type == entity.KeyTypeMeta {
			metaKeys = append(metaKeys, &copied)
		} else {
			msgKeys = append(msgKeys, &copied)
		}
	}
	return append(msgKeys, metaKeys...), nil
}

// InsertTrace appends a receipt trace.
func (m *MockStore) InsertTrace(ctx context.Context, trace *Trace) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.failNow(); err != nil {
		return err
	}
	copied := *trace
	m.traces = append(m.traces, &copied)
	return nil
}

// ListTraces returns traces for the original message, oldest first.
func (m *MockStore) ListTraces(ctx context.Context, cid, sender entity.ID, sn uint64) ([]*Trace, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*Trace
	for _, trace := range m.traces {
		if trace.CID == cid && trace.Sender == sender && trace.SN == sn {
			copied := *trace
			result = append(result, &copied)
		}
	}
	return result, nil
}

// Close is a no-op for the mock.
func (m *MockStore) Close() error { return nil }

// Ensure MockStore implements Store
var _ Store = (*MockStore)(nil)
