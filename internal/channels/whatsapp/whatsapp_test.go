package whatsapp

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"testing"
)

func TestNormalizeContentText(t *testing.T) {
	msg := waMessage{Type: "text"}
	msg.Text.Body = "hi there"
	if got := normalizeContent(msg); got != "hi there" {
		t.Fatalf("expected text passthrough, got %q", got)
	}
}

func TestNormalizeContentImage(t *testing.T) {
	msg := waMessage{Type: "image"}
	msg.Image.Caption = "nice view"
	if got := normalizeContent(msg); got != "[Image: nice view]" {
		t.Fatalf("expected image placeholder, got %q", got)
	}
}

func TestNormalizeContentMediaPlaceholders(t *testing.T) {
	cases := map[string]string{
		"audio":    "[Audio message]",
		"video":    "[Video message]",
		"document": "[Document]",
	}
	for typ, want := range cases {
		if got := normalizeContent(waMessage{Type: typ}); got != want {
			t.Fatalf("type %q: expected %q, got %q", typ, want, got)
		}
	}
}

func TestNormalizeContentLocation(t *testing.T) {
	msg := waMessage{Type: "location"}
	msg.Location.Latitude = 10.5
	msg.Location.Longitude = -20.25
	want := "[Location: 10.500000, -20.250000]"
	if got := normalizeContent(msg); got != want {
		t.Fatalf("expected %q, got %q", want, got)
	}
}

func TestNormalizeContentUnknownType(t *testing.T) {
	if got := normalizeContent(waMessage{Type: "sticker"}); got != "[empty message]" {
		t.Fatalf("unknown type should fall back to empty placeholder, got %q", got)
	}
}

func TestValidSignature(t *testing.T) {
	body := []byte(`{"object":"whatsapp_business_account"}`)
	secret := "shh"

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	sig := "sha256=" + hex.EncodeToString(mac.Sum(nil))

	if !validSignature(body, sig, secret) {
		t.Fatal("correctly computed HMAC signature should validate")
	}
	if validSignature(body, sig, "wrong-secret") {
		t.Fatal("signature computed with a different secret must not validate")
	}
	if validSignature(body, "not-prefixed", secret) {
		t.Fatal("header without sha256= prefix must be rejected")
	}
}
