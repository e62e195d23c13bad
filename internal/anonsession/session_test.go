package anonsession

import (
	"testing"
	"time"

	"github.com/nextlevelbuilder/botserver/internal/errs"
)

func defaultConfig() Config {
	return Config{
		RequireFingerprint:    false,
		MaxSessionsPerIP:      2,
		TTL:                   50 * time.Millisecond,
		MaxMessagesPerSession: 3,
		UpgradeEnabled:        true,
	}
}

func TestCreateRequiresFingerprintWhenConfigured(t *testing.T) {
	cfg := defaultConfig()
	cfg.RequireFingerprint = true
	store := NewStore(cfg)

	if _, err := store.Create("", "1.2.3.4", "ua"); err != errs.ErrFingerprintRequired {
		t.Fatalf("got %v, want ErrFingerprintRequired", err)
	}
	if _, err := store.Create("fp-1", "1.2.3.4", "ua"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestCreateEnforcesMaxSessionsPerIP(t *testing.T) {
	store := NewStore(defaultConfig())
	ip := "9.9.9.9"
	if _, err := store.Create("a", ip, "ua"); err != nil {
		t.Fatal(err)
	}
	if _, err := store.Create("b", ip, "ua"); err != nil {
		t.Fatal(err)
	}
	if _, err := store.Create("c", ip, "ua"); err != errs.ErrTooManySessions {
		t.Fatalf("got %v, want ErrTooManySessions", err)
	}
}

func TestAddMessageEnforcesLimitAndExtendsTTL(t *testing.T) {
	cfg := defaultConfig()
	cfg.MaxMessagesPerSession = 2
	store := NewStore(cfg)
	sess, err := store.Create("fp", "1.1.1.1", "ua")
	if err != nil {
		t.Fatal(err)
	}

	createdExpiry := sess.ExpiresAt
	time.Sleep(2 * time.Millisecond)
	if _, err := store.AddMessage(sess.ID, RoleUser, "hi", nil); err != nil {
		t.Fatal(err)
	}
	if got, err := store.Get(sess.ID); err != nil || !got.ExpiresAt.After(createdExpiry) {
		t.Fatalf("AddMessage should slide expires_at past %v (err=%v)", createdExpiry, err)
	}
	if _, err := store.AddMessage(sess.ID, RoleUser, "again", nil); err != nil {
		t.Fatal(err)
	}
	if _, err := store.AddMessage(sess.ID, RoleUser, "third", nil); err != errs.ErrMessageLimitReached {
		t.Fatalf("got %v, want ErrMessageLimitReached", err)
	}
	// assistant messages don't count against the user cap
	if _, err := store.AddMessage(sess.ID, RoleAssistant, "reply", nil); err != nil {
		t.Fatalf("assistant message should not be capped: %v", err)
	}
}

func TestAddMessageRejectsExpiredSession(t *testing.T) {
	cfg := defaultConfig()
	cfg.TTL = time.Millisecond
	store := NewStore(cfg)
	sess, err := store.Create("fp", "1.1.1.1", "ua")
	if err != nil {
		t.Fatal(err)
	}
	time.Sleep(5 * time.Millisecond)
	if _, err := store.AddMessage(sess.ID, RoleUser, "hi", nil); err != errs.ErrSessionExpired {
		t.Fatalf("got %v, want ErrSessionExpired", err)
	}
}

func TestUpgradeIsSingleUse(t *testing.T) {
	store := NewStore(defaultConfig())
	sess, err := store.Create("fp", "1.1.1.1", "ua")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := store.AddMessage(sess.ID, RoleUser, "hi", nil); err != nil {
		t.Fatal(err)
	}

	res, err := store.Upgrade(sess.ID, "user-42")
	if err != nil {
		t.Fatal(err)
	}
	if res.EligibleMessages != 1 {
		t.Fatalf("got %d eligible messages, want 1", res.EligibleMessages)
	}
	if _, err := store.Upgrade(sess.ID, "user-42"); err != errs.ErrAlreadyUpgraded {
		t.Fatalf("got %v, want ErrAlreadyUpgraded", err)
	}
}

func TestUpgradeDisabledByConfig(t *testing.T) {
	cfg := defaultConfig()
	cfg.UpgradeEnabled = false
	store := NewStore(cfg)
	sess, err := store.Create("fp", "1.1.1.1", "ua")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := store.Upgrade(sess.ID, "user-1"); err != errs.ErrUpgradeNotAllowed {
		t.Fatalf("got %v, want ErrUpgradeNotAllowed", err)
	}
}

func TestCleanupRemovesExpiredSessions(t *testing.T) {
	cfg := defaultConfig()
	cfg.TTL = time.Millisecond
	store := NewStore(cfg)
	if _, err := store.Create("fp", "1.1.1.1", "ua"); err != nil {
		t.Fatal(err)
	}
	time.Sleep(5 * time.Millisecond)

	if n := store.Cleanup(); n != 1 {
		t.Fatalf("cleaned %d sessions, want 1", n)
	}
	if n := store.Cleanup(); n != 0 {
		t.Fatalf("second cleanup removed %d, want 0", n)
	}
}

func TestValidateRoleRejectsUnknown(t *testing.T) {
	if _, err := validateRole("admin"); err == nil {
		t.Fatal("expected error for unknown role")
	}
	if r, err := validateRole("user"); err != nil || r != RoleUser {
		t.Fatalf("got (%v, %v), want (user, nil)", r, err)
	}
}
