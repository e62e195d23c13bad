package telegram

import (
	"testing"

	"github.com/mymmrac/telego"
)

func TestNormalizeContentText(t *testing.T) {
	msg := &telego.Message{Text: "hello there"}
	if got := normalizeContent(msg); got != "hello there" {
		t.Fatalf("expected text passthrough, got %q", got)
	}
}

func TestNormalizeContentPhotoCaption(t *testing.T) {
	msg := &telego.Message{
		Photo:   []telego.PhotoSize{{}},
		Caption: "a cat",
	}
	if got := normalizeContent(msg); got != "[Image: a cat]" {
		t.Fatalf("expected image placeholder with caption, got %q", got)
	}
}

func TestNormalizeContentVoice(t *testing.T) {
	msg := &telego.Message{Voice: &telego.Voice{}}
	if got := normalizeContent(msg); got != "[Audio message]" {
		t.Fatalf("expected audio placeholder, got %q", got)
	}
}

func TestNormalizeContentLocation(t *testing.T) {
	msg := &telego.Message{Location: &telego.Location{Latitude: 1.5, Longitude: -2.25}}
	got := normalizeContent(msg)
	want := "[Location: 1.500000, -2.250000]"
	if got != want {
		t.Fatalf("expected %q, got %q", want, got)
	}
}

func TestNormalizeContentContact(t *testing.T) {
	msg := &telego.Message{Contact: &telego.Contact{FirstName: "Jo", LastName: "Doe", PhoneNumber: "+123"}}
	if got := normalizeContent(msg); got != "[Contact: Jo Doe, +123]" {
		t.Fatalf("unexpected contact normalization: %q", got)
	}
}

func TestNormalizeContentEmpty(t *testing.T) {
	msg := &telego.Message{}
	if got := normalizeContent(msg); got != "[empty message]" {
		t.Fatalf("expected empty-message placeholder, got %q", got)
	}
}

func TestIsServiceMessage(t *testing.T) {
	if !isServiceMessage(&telego.Message{}) {
		t.Fatal("message with no content fields should be a service message")
	}
	if isServiceMessage(&telego.Message{Text: "hi"}) {
		t.Fatal("text message should not be classified as a service message")
	}
	if isServiceMessage(&telego.Message{Location: &telego.Location{}}) {
		t.Fatal("location message should not be classified as a service message")
	}
}

func TestDeriveUserIDStableAcrossCalls(t *testing.T) {
	a := DeriveUserID(12345)
	b := DeriveUserID(12345)
	if a != b {
		t.Fatalf("DeriveUserID must be deterministic for the same chat id: %q != %q", a, b)
	}
	if a == DeriveUserID(54321) {
		t.Fatal("DeriveUserID must differ across distinct chat ids")
	}
}
