package appstate

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/nextlevelbuilder/botserver/internal/anonsession"
	"github.com/nextlevelbuilder/botserver/internal/errs"
)

// SQLConversationTarget implements anonsession.ConversationTarget over the
// control-plane conversations/conversation_messages tables, so an upgraded
// anonymous session's history lands in the owning user's conversation list.
type SQLConversationTarget struct {
	db       *sql.DB
	postgres bool
}

func NewSQLConversationTarget(db *sql.DB, postgres bool) *SQLConversationTarget {
	return &SQLConversationTarget{db: db, postgres: postgres}
}

func (t *SQLConversationTarget) ph(n int) string {
	if t.postgres {
		return fmt.Sprintf("$%d", n)
	}
	return "?"
}

func (t *SQLConversationTarget) Existing(conversationID string) (*anonsession.Conversation, error) {
	query := fmt.Sprintf(`SELECT id, user_id FROM conversations WHERE id = %s`, t.ph(1))
	var conv anonsession.Conversation
	if err := t.db.QueryRow(query, conversationID).Scan(&conv.ID, &conv.UserID); err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("%w: conversation %s", errs.ErrNotFound, conversationID)
		}
		return nil, fmt.Errorf("lookup conversation %s: %w", conversationID, err)
	}
	return &conv, nil
}

func (t *SQLConversationTarget) Create(userID string) (*anonsession.Conversation, error) {
	conv := &anonsession.Conversation{ID: uuid.NewString(), UserID: userID}
	query := fmt.Sprintf(
		`INSERT INTO conversations (id, user_id, title) VALUES (%s, %s, 'Migrated conversation')`,
		t.ph(1), t.ph(2),
	)
	if _, err := t.db.Exec(query, conv.ID, conv.UserID); err != nil {
		return nil, fmt.Errorf("create conversation for user %s: %w", userID, err)
	}
	return conv, nil
}

func (t *SQLConversationTarget) AppendMessage(conversationID string, msg anonsession.Message, preserveTimestamp bool) error {
	ts := msg.Timestamp
	if !preserveTimestamp {
		ts = time.Now()
	}
	var meta []byte
	if msg.Metadata != nil {
		meta, _ = json.Marshal(msg.Metadata)
	}
	query := fmt.Sprintf(
		`INSERT INTO conversation_messages (id, conversation_id, role, content, timestamp, metadata)
		 VALUES (%s, %s, %s, %s, %s, %s)`,
		t.ph(1), t.ph(2), t.ph(3), t.ph(4), t.ph(5), t.ph(6),
	)
	if _, err := t.db.Exec(query, msg.ID, conversationID, string(msg.Role), msg.Content, ts, meta); err != nil {
		return fmt.Errorf("append message %s: %w", msg.ID, err)
	}
	return nil
}

func (t *SQLConversationTarget) DeleteMessages(conversationID string, messageIDs []string) (int, error) {
	removed := 0
	for i, id := range messageIDs {
		query := fmt.Sprintf(
			`DELETE FROM conversation_messages WHERE conversation_id = %s AND id = %s`,
			t.ph(1), t.ph(2),
		)
		res, err := t.db.Exec(query, conversationID, id)
		if err != nil {
			return removed, fmt.Errorf("delete message %d/%d: %w", i+1, len(messageIDs), err)
		}
		if n, err := res.RowsAffected(); err == nil {
			removed += int(n)
		}
	}
	return removed, nil
}

func (t *SQLConversationTarget) RemoveConversation(conversationID, userID string) error {
	query := fmt.Sprintf(
		`DELETE FROM conversations WHERE id = %s AND user_id = %s`,
		t.ph(1), t.ph(2),
	)
	if _, err := t.db.Exec(query, conversationID, userID); err != nil {
		return fmt.Errorf("remove conversation %s: %w", conversationID, err)
	}
	return nil
}

var _ anonsession.ConversationTarget = (*SQLConversationTarget)(nil)
