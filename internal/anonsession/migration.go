package anonsession

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nextlevelbuilder/botserver/internal/errs"
)

// MigrationStatus is a Migration's lifecycle state.
type MigrationStatus string

const (
	MigrationPending       MigrationStatus = "pending"
	MigrationInProgress    MigrationStatus = "in_progress"
	MigrationCompleted     MigrationStatus = "completed"
	MigrationPartialSuccess MigrationStatus = "partial_success"
	MigrationFailed        MigrationStatus = "failed"
)

// Conversation is the minimal shape the migration service needs from the
// owned-user conversation store; a real implementation is supplied by the
// caller (the thread/conversation service), this package only consumes it.
type Conversation struct {
	ID     string
	UserID string
}

// ConversationTarget resolves or creates the conversation a migrated
// session's messages land in, and undoes both on rollback.
type ConversationTarget interface {
	// Existing returns the conversation to merge into; it is only called
	// when MigrationConfig.MergeIntoExistingID is set.
	Existing(conversationID string) (*Conversation, error)
	// Create allocates a brand-new conversation owned by userID.
	Create(userID string) (*Conversation, error)
	// AppendMessage copies one migrated message into the conversation.
	AppendMessage(conversationID string, msg Message, preserveTimestamp bool) error
	// DeleteMessages removes previously-migrated messages by id, returning
	// how many were actually removed.
	DeleteMessages(conversationID string, messageIDs []string) (int, error)
	// RemoveConversation drops the conversation from userID's
	// conversation list.
	RemoveConversation(conversationID, userID string) error
}

// MigrationConfig controls how a session's history is carried into the
// target conversation.
type MigrationConfig struct {
	MergeIntoExistingID   string // empty = create a new conversation
	AddMigrationMarker    bool
	IncludeSystemMessages bool
	PreserveTimestamps    bool
}

// MigrationResult is the outcome of one migration attempt.
type MigrationResult struct {
	MigrationID    string
	SessionID      string
	ConversationID string
	Status         MigrationStatus
	MessagesCopied int
	MessagesSkipped int
	FailedMessages []string
}

// migrationRecord is kept so Rollback can undo a completed or
// partially-successful migration.
type migrationRecord struct {
	result          MigrationResult
	target          *Conversation
	createdConv     bool // false when merged into an existing conversation
	markerID        string
	copiedMessageIDs []string
}

// MigrationService runs session-to-conversation migrations on top of a
// Store and an external ConversationTarget.
type MigrationService struct {
	store  *Store
	target ConversationTarget

	mu      sync.Mutex
	records map[string]*migrationRecord
}

func NewMigrationService(store *Store, target ConversationTarget) *MigrationService {
	return &MigrationService{
		store:   store,
		target:  target,
		records: make(map[string]*migrationRecord),
	}
}

const migrationMarkerTemplate = "--- Migrated from anonymous session %s (%d messages) ---"

// Migrate copies sessionID's messages into a target conversation for
// userID, per cfg. Partial per-message failures do not abort the whole
// migration: Status resolves to PartialSuccess rather than Failed when at
// least one message copied.
func (s *MigrationService) Migrate(sessionID, userID string, cfg MigrationConfig) (*MigrationResult, error) {
	if _, err := s.store.Get(sessionID); err != nil {
		return nil, err
	}

	// At most one non-failed migration may exist per session.
	s.mu.Lock()
	for _, rec := range s.records {
		if rec.result.SessionID == sessionID && rec.result.Status != MigrationFailed {
			s.mu.Unlock()
			return nil, fmt.Errorf("%w: session %s already has migration %s", errs.ErrAlreadyExists, sessionID, rec.result.MigrationID)
		}
	}
	s.mu.Unlock()

	messages := s.store.Messages(sessionID)

	var conv *Conversation
	var err error
	if cfg.MergeIntoExistingID != "" {
		conv, err = s.target.Existing(cfg.MergeIntoExistingID)
		if err != nil {
			return nil, fmt.Errorf("resolve target conversation: %w", err)
		}
	} else {
		conv, err = s.target.Create(userID)
		if err != nil {
			return nil, fmt.Errorf("create target conversation: %w", err)
		}
	}

	migrationID := uuid.NewString()
	result := MigrationResult{
		MigrationID:    migrationID,
		SessionID:      sessionID,
		ConversationID: conv.ID,
		Status:         MigrationInProgress,
	}
	rec := &migrationRecord{target: conv, createdConv: cfg.MergeIntoExistingID == ""}

	if cfg.AddMigrationMarker {
		marker := Message{
			ID:        uuid.NewString(),
			SessionID: sessionID,
			Role:      RoleSystem,
			Content:   fmt.Sprintf(migrationMarkerTemplate, sessionID, len(messages)),
			Timestamp: time.Now(),
		}
		if err := s.target.AppendMessage(conv.ID, marker, true); err == nil {
			result.MessagesCopied++
			rec.markerID = marker.ID
		}
	}

	for _, msg := range messages {
		if msg.Role == RoleSystem && !cfg.IncludeSystemMessages {
			result.MessagesSkipped++
			continue
		}
		if err := s.target.AppendMessage(conv.ID, msg, cfg.PreserveTimestamps); err != nil {
			result.FailedMessages = append(result.FailedMessages, msg.ID)
			continue
		}
		result.MessagesCopied++
		rec.copiedMessageIDs = append(rec.copiedMessageIDs, msg.ID)
	}

	switch {
	case len(result.FailedMessages) == 0:
		result.Status = MigrationCompleted
	case result.MessagesCopied > 0:
		result.Status = MigrationPartialSuccess
	default:
		result.Status = MigrationFailed
	}

	rec.result = result
	s.mu.Lock()
	s.records[migrationID] = rec
	s.mu.Unlock()

	if result.Status == MigrationFailed {
		return &result, nil
	}
	if _, err := s.store.Upgrade(sessionID, userID); err != nil && !errors.Is(err, errs.ErrAlreadyUpgraded) {
		return &result, fmt.Errorf("migration completed but session upgrade failed: %w", err)
	}

	return &result, nil
}

// Rollback undoes a migration that's Completed or PartialSuccess: every
// migrated message (the marker included) is deleted from the target
// conversation, the conversation link is removed when the migration
// created it, and the migration record itself is discarded. The original
// anonymous session is untouched: it stays inactive and upgraded.
func (s *MigrationService) Rollback(migrationID string) (int, error) {
	s.mu.Lock()
	rec, ok := s.records[migrationID]
	s.mu.Unlock()
	if !ok {
		return 0, fmt.Errorf("%w: migration %s", errs.ErrNotFound, migrationID)
	}
	switch rec.result.Status {
	case MigrationCompleted, MigrationPartialSuccess:
	default:
		return 0, fmt.Errorf("%w: migration %s is in state %s", errs.ErrInvalidInput, migrationID, rec.result.Status)
	}

	ids := rec.copiedMessageIDs
	if rec.markerID != "" {
		ids = append([]string{rec.markerID}, ids...)
	}
	removed, err := s.target.DeleteMessages(rec.target.ID, ids)
	if err != nil {
		return removed, fmt.Errorf("delete migrated messages: %w", err)
	}
	if rec.createdConv {
		if err := s.target.RemoveConversation(rec.target.ID, rec.target.UserID); err != nil {
			return removed, fmt.Errorf("remove conversation: %w", err)
		}
	}

	s.mu.Lock()
	delete(s.records, migrationID)
	s.mu.Unlock()
	return removed, nil
}

// Status returns the current status of a previously-run migration.
func (s *MigrationService) Status(migrationID string) (MigrationStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[migrationID]
	if !ok {
		return "", fmt.Errorf("%w: migration %s", errs.ErrNotFound, migrationID)
	}
	return rec.result.Status, nil
}
