// Package anonsession implements the anonymous-session store and its
// upgrade/migration pipeline: fingerprint/IP-keyed ephemeral
// conversation state that can later be bound to an owned user identity
// with its history carried over.
package anonsession

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nextlevelbuilder/botserver/internal/errs"
)

// Role is one SessionMessage's author.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Session is an AnonymousSession.
type Session struct {
	ID                string
	Fingerprint       string
	IPAddress         string
	UserAgent         string
	CreatedAt         time.Time
	LastActivity      time.Time
	ExpiresAt         time.Time
	MessageCount      int
	BotID             string
	Metadata          map[string]string
	UpgradedToUserID  string
	IsActive          bool
}

// Message is a SessionMessage: appended only, never mutated.
type Message struct {
	ID        string
	SessionID string
	Role      Role
	Content   string
	Timestamp time.Time
	Metadata  map[string]string
}

// Config governs session lifecycle limits.
type Config struct {
	RequireFingerprint    bool
	MaxSessionsPerIP      int
	TTL                   time.Duration
	MaxMessagesPerSession int
	UpgradeEnabled        bool
}

// Store is the anonymous session store. All mutation goes through a
// single mutex, never nested with any other lock, so
// Create/AddMessage/Upgrade/Cleanup never deadlock against each other.
type Store struct {
	cfg Config

	mu       sync.Mutex
	sessions map[string]*Session
	messages map[string][]Message
	ipCounts map[string]int
}

func NewStore(cfg Config) *Store {
	return &Store{
		cfg:      cfg,
		sessions: make(map[string]*Session),
		messages: make(map[string][]Message),
		ipCounts: make(map[string]int),
	}
}

// Create allocates a new anonymous session, honoring require_fingerprint and
// max_sessions_per_ip.
func (s *Store) Create(fingerprint, ip, userAgent string) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cfg.RequireFingerprint && fingerprint == "" {
		return nil, errs.ErrFingerprintRequired
	}
	if s.cfg.MaxSessionsPerIP > 0 && ip != "" && s.ipCounts[ip] >= s.cfg.MaxSessionsPerIP {
		return nil, errs.ErrTooManySessions
	}

	now := time.Now()
	sess := &Session{
		ID:           uuid.NewString(),
		Fingerprint:  fingerprint,
		IPAddress:    ip,
		UserAgent:    userAgent,
		CreatedAt:    now,
		LastActivity: now,
		ExpiresAt:    now.Add(s.cfg.TTL),
		MessageCount: 0,
		Metadata:     make(map[string]string),
		IsActive:     true,
	}
	s.sessions[sess.ID] = sess
	if ip != "" {
		s.ipCounts[ip]++
	}
	return sess, nil
}

// GetOrCreateByFingerprint returns the active, unexpired session whose
// Fingerprint matches, creating one when none exists. Channel ingress uses
// a deterministic "<channel>:<user id>" fingerprint so a repeat sender
// lands in the same conversation.
func (s *Store) GetOrCreateByFingerprint(fingerprint, ip, userAgent string) (*Session, error) {
	s.mu.Lock()
	now := time.Now()
	for _, sess := range s.sessions {
		if sess.Fingerprint == fingerprint && sess.IsActive && !isExpired(sess, now) {
			s.mu.Unlock()
			return sess, nil
		}
	}
	s.mu.Unlock()
	return s.Create(fingerprint, ip, userAgent)
}

// isExpired reports expiry; ExpiresAt == now counts as expired.
func isExpired(sess *Session, now time.Time) bool {
	return !sess.ExpiresAt.After(now)
}

// Get returns the session by id, marking it inactive in-place if it has
// expired.
func (s *Store) Get(sessionID string) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.getLocked(sessionID)
}

func (s *Store) getLocked(sessionID string) (*Session, error) {
	sess, ok := s.sessions[sessionID]
	if !ok {
		return nil, errs.ErrSessionNotFound
	}
	if sess.IsActive && isExpired(sess, time.Now()) {
		sess.IsActive = false
	}
	return sess, nil
}

// AddMessage appends a message to the session, extending its TTL on a
// sliding window and enforcing the per-session user-message cap.
func (s *Store) AddMessage(sessionID string, role Role, content string, metadata map[string]string) (*Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, err := s.getLocked(sessionID)
	if err != nil {
		return nil, err
	}
	now := time.Now()
	if !sess.IsActive || isExpired(sess, now) {
		sess.IsActive = false
		return nil, errs.ErrSessionExpired
	}

	if role == RoleUser {
		if s.cfg.MaxMessagesPerSession > 0 && sess.MessageCount >= s.cfg.MaxMessagesPerSession {
			return nil, errs.ErrMessageLimitReached
		}
		sess.MessageCount++
	}

	sess.ExpiresAt = now.Add(s.cfg.TTL)
	sess.LastActivity = now

	msg := Message{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		Role:      role,
		Content:   content,
		Timestamp: now,
		Metadata:  metadata,
	}
	s.messages[sessionID] = append(s.messages[sessionID], msg)
	return &msg, nil
}

// SetMetadata writes one metadata key on the session (e.g. assigned_to
// when an attendant claims the conversation).
func (s *Store) SetMetadata(sessionID, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, err := s.getLocked(sessionID)
	if err != nil {
		return err
	}
	sess.Metadata[key] = value
	return nil
}

// MetadataValue reads one metadata key under the store lock.
func (s *Store) MetadataValue(sessionID, key string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[sessionID]
	if !ok {
		return "", false
	}
	v, ok := sess.Metadata[key]
	return v, ok
}

// Messages returns a copy of the session's appended messages, in order.
func (s *Store) Messages(sessionID string) []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	msgs := s.messages[sessionID]
	out := make([]Message, len(msgs))
	copy(out, msgs)
	return out
}

// SessionUpgradeResult reports the outcome of binding a session to a user.
type SessionUpgradeResult struct {
	SessionID          string
	UpgradedToUserID   string
	EligibleMessages   int
}

// Upgrade binds an anonymous session to an owned user identity.
func (s *Store) Upgrade(sessionID, targetUserID string) (*SessionUpgradeResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.cfg.UpgradeEnabled {
		return nil, errs.ErrUpgradeNotAllowed
	}
	sess, err := s.getLocked(sessionID)
	if err != nil {
		return nil, err
	}
	if sess.UpgradedToUserID != "" {
		return nil, errs.ErrAlreadyUpgraded
	}

	sess.UpgradedToUserID = targetUserID
	sess.IsActive = false
	if sess.IPAddress != "" && s.ipCounts[sess.IPAddress] > 0 {
		s.ipCounts[sess.IPAddress]--
	}

	return &SessionUpgradeResult{
		SessionID:        sess.ID,
		UpgradedToUserID: targetUserID,
		EligibleMessages: len(s.messages[sessionID]),
	}, nil
}

// Cleanup removes every session whose expires_at < now OR !is_active, and
// their messages, returning the count cleaned. Runs under the single
// write-preferring lock for the whole sweep so it can't race an in-flight
// AddMessage.
func (s *Store) Cleanup() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	var removed int
	for id, sess := range s.sessions {
		if !sess.IsActive || sess.ExpiresAt.Before(now) {
			delete(s.sessions, id)
			delete(s.messages, id)
			removed++
		}
	}
	return removed
}

// RunCleanupLoop runs Cleanup on a fixed interval until stop is closed.
func (s *Store) RunCleanupLoop(interval time.Duration, stop <-chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.Cleanup()
		case <-stop:
			return
		}
	}
}

// validateRole checks a role string taken from untrusted input (e.g. a
// channel webhook) before it is passed to AddMessage. Nothing in the
// package calls it outside its tests.
func validateRole(r string) (Role, error) {
	switch Role(r) {
	case RoleUser, RoleAssistant, RoleSystem:
		return Role(r), nil
	default:
		return "", fmt.Errorf("%w: unknown role %q", errs.ErrInvalidInput, r)
	}
}
