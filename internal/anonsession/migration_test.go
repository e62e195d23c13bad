package anonsession

import (
	"fmt"
	"testing"

	"github.com/google/uuid"
)

type fakeConversation struct {
	convs    map[string]*Conversation
	messages map[string][]Message
	failFor  map[string]bool // conversation id -> always fail AppendMessage
}

func newFakeConversation() *fakeConversation {
	return &fakeConversation{
		convs:    make(map[string]*Conversation),
		messages: make(map[string][]Message),
		failFor:  make(map[string]bool),
	}
}

func (f *fakeConversation) Existing(id string) (*Conversation, error) {
	if c, ok := f.convs[id]; ok {
		return c, nil
	}
	c := &Conversation{ID: id, UserID: "existing-owner"}
	f.convs[id] = c
	return c, nil
}

func (f *fakeConversation) Create(userID string) (*Conversation, error) {
	c := &Conversation{ID: uuid.NewString(), UserID: userID}
	f.convs[c.ID] = c
	return c, nil
}

func (f *fakeConversation) AppendMessage(conversationID string, msg Message, preserveTimestamp bool) error {
	if f.failFor[conversationID] {
		return fmt.Errorf("simulated append failure")
	}
	f.messages[conversationID] = append(f.messages[conversationID], msg)
	return nil
}

func (f *fakeConversation) DeleteMessages(conversationID string, messageIDs []string) (int, error) {
	drop := make(map[string]bool, len(messageIDs))
	for _, id := range messageIDs {
		drop[id] = true
	}
	var kept []Message
	removed := 0
	for _, m := range f.messages[conversationID] {
		if drop[m.ID] {
			removed++
			continue
		}
		kept = append(kept, m)
	}
	f.messages[conversationID] = kept
	return removed, nil
}

func (f *fakeConversation) RemoveConversation(conversationID, userID string) error {
	delete(f.convs, conversationID)
	return nil
}

func TestMigrateCreatesConversationAndCopiesMessages(t *testing.T) {
	store := NewStore(defaultConfig())
	sess, err := store.Create("fp", "2.2.2.2", "ua")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := store.AddMessage(sess.ID, RoleUser, "hello", nil); err != nil {
		t.Fatal(err)
	}
	if _, err := store.AddMessage(sess.ID, RoleAssistant, "hi there", nil); err != nil {
		t.Fatal(err)
	}
	if _, err := store.AddMessage(sess.ID, RoleSystem, "system note", nil); err != nil {
		t.Fatal(err)
	}

	target := newFakeConversation()
	svc := NewMigrationService(store, target)

	res, err := svc.Migrate(sess.ID, "user-7", MigrationConfig{
		AddMigrationMarker:    true,
		IncludeSystemMessages: false,
		PreserveTimestamps:    true,
	})
	if err != nil {
		t.Fatal(err)
	}
	if res.Status != MigrationCompleted {
		t.Fatalf("got status %v, want Completed", res.Status)
	}
	// marker + user + assistant copied, system message skipped
	if res.MessagesCopied != 3 {
		t.Fatalf("got %d copied, want 3", res.MessagesCopied)
	}
	if res.MessagesSkipped != 1 {
		t.Fatalf("got %d skipped, want 1", res.MessagesSkipped)
	}
}

// flakyConversation fails AppendMessage on every other call, to exercise
// the partial-success path where some messages copy and some don't.
type flakyConversation struct {
	*fakeConversation
	calls int
}

func (f *flakyConversation) AppendMessage(conversationID string, msg Message, preserveTimestamp bool) error {
	f.calls++
	if f.calls%2 == 0 {
		return fmt.Errorf("simulated append failure")
	}
	return f.fakeConversation.AppendMessage(conversationID, msg, preserveTimestamp)
}

func TestMigratePartialSuccessOnMessageFailure(t *testing.T) {
	store := NewStore(defaultConfig())
	sess, err := store.Create("fp", "3.3.3.3", "ua")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := store.AddMessage(sess.ID, RoleUser, "one", nil); err != nil {
		t.Fatal(err)
	}
	if _, err := store.AddMessage(sess.ID, RoleUser, "two", nil); err != nil {
		t.Fatal(err)
	}

	target := &flakyConversation{fakeConversation: newFakeConversation()}
	svc := NewMigrationService(store, target)

	res, err := svc.Migrate(sess.ID, "user-9", MigrationConfig{})
	if err != nil {
		t.Fatal(err)
	}
	if res.Status != MigrationPartialSuccess {
		t.Fatalf("got %v, want PartialSuccess", res.Status)
	}
	if res.MessagesCopied == 0 || len(res.FailedMessages) == 0 {
		t.Fatalf("expected a mix of copied and failed messages, got copied=%d failed=%v", res.MessagesCopied, res.FailedMessages)
	}
}

func TestRollbackOnlyFromCompletedOrPartial(t *testing.T) {
	store := NewStore(defaultConfig())
	sess, err := store.Create("fp", "4.4.4.4", "ua")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := store.AddMessage(sess.ID, RoleUser, "hi", nil); err != nil {
		t.Fatal(err)
	}

	target := newFakeConversation()
	svc := NewMigrationService(store, target)

	res, err := svc.Migrate(sess.ID, "user-1", MigrationConfig{})
	if err != nil {
		t.Fatal(err)
	}

	if _, err := svc.Rollback(res.MigrationID); err != nil {
		t.Fatalf("rollback of completed migration should succeed: %v", err)
	}
	if _, err := svc.Rollback(res.MigrationID); err == nil {
		t.Fatal("rollback of an already-rolled-back migration should fail")
	}
}

func TestRollbackRemovesExactlyMigratedRows(t *testing.T) {
	cfg := defaultConfig()
	cfg.MaxMessagesPerSession = 10
	store := NewStore(cfg)
	sess, err := store.Create("fp1", "6.6.6.6", "ua")
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 5; i++ {
		if _, err := store.AddMessage(sess.ID, RoleUser, fmt.Sprintf("msg %d", i), nil); err != nil {
			t.Fatal(err)
		}
	}

	target := newFakeConversation()
	svc := NewMigrationService(store, target)

	res, err := svc.Migrate(sess.ID, "user-3", MigrationConfig{
		AddMigrationMarker: true,
		PreserveTimestamps: true,
	})
	if err != nil {
		t.Fatal(err)
	}
	// 1 marker + 5 user messages
	if res.MessagesCopied != 6 {
		t.Fatalf("got %d copied, want 6", res.MessagesCopied)
	}
	if got := len(target.messages[res.ConversationID]); got != 6 {
		t.Fatalf("target conversation has %d messages, want 6", got)
	}

	removed, err := svc.Rollback(res.MigrationID)
	if err != nil {
		t.Fatal(err)
	}
	if removed != 6 {
		t.Fatalf("rollback removed %d rows, want 6", removed)
	}
	if got := len(target.messages[res.ConversationID]); got != 0 {
		t.Fatalf("target conversation still has %d messages after rollback", got)
	}
	if _, ok := target.convs[res.ConversationID]; ok {
		t.Fatal("created conversation should be removed on rollback")
	}

	// The session itself stays upgraded.
	got, err := store.Get(sess.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.UpgradedToUserID != "user-3" {
		t.Fatalf("session upgrade must survive rollback, got %q", got.UpgradedToUserID)
	}
}

func TestSecondMigrationForSameSessionRejected(t *testing.T) {
	store := NewStore(defaultConfig())
	sess, err := store.Create("fp2", "7.7.7.7", "ua")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := store.AddMessage(sess.ID, RoleUser, "hi", nil); err != nil {
		t.Fatal(err)
	}

	target := newFakeConversation()
	svc := NewMigrationService(store, target)

	if _, err := svc.Migrate(sess.ID, "user-a", MigrationConfig{}); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.Migrate(sess.ID, "user-b", MigrationConfig{}); err == nil {
		t.Fatal("a second non-failed migration for the same session must be rejected")
	}
}

func TestMigrateFailsWhenAllAppendsFail(t *testing.T) {
	store := NewStore(defaultConfig())
	sess, err := store.Create("fp", "5.5.5.5", "ua")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := store.AddMessage(sess.ID, RoleUser, "hi", nil); err != nil {
		t.Fatal(err)
	}

	target := newFakeConversation()
	svc := NewMigrationService(store, target)

	conv, err := target.Create("user-2")
	if err != nil {
		t.Fatal(err)
	}
	target.failFor[conv.ID] = true

	res, err := svc.Migrate(sess.ID, "user-2", MigrationConfig{MergeIntoExistingID: conv.ID})
	if err != nil {
		t.Fatal(err)
	}
	if res.Status != MigrationFailed {
		t.Fatalf("got %v, want Failed", res.Status)
	}
	if _, err := svc.Status(res.MigrationID); err != nil {
		t.Fatal(err)
	}
}
