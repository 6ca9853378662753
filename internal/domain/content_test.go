package domain

import (
	"errors"
	"fmt"
	"testing"

	"github.com/google/uuid"
)

func validContent() *Content {
	return &Content{
		CreatorID:         uuid.MustParse("6f1c9a4e-8b2d-4c3f-9a1e-2d4b6c8e0f1a"),
		Platform:          PlatformTwitter,
		PlatformContentID: "42",
		URL:               "https://twitter.com/jane/status/42",
	}
}

func TestContentValidate(t *testing.T) {
	t.Parallel()

	if err := validContent().Validate(); err != nil {
		t.Fatalf("valid content rejected: %v", err)
	}

	cases := []struct {
		name   string
		mutate func(*Content)
	}{
		{"missing creator", func(c *Content) { c.CreatorID = uuid.Nil }},
		{"unknown platform", func(c *Content) { c.Platform = "myspace" }},
		{"missing platform id", func(c *Content) { c.PlatformContentID = "" }},
		{"missing url", func(c *Content) { c.URL = "" }},
	}
	for _, tc := range cases {
		c := validContent()
		tc.mutate(c)
		if err := c.Validate(); !errors.Is(err, ErrConstraintViolation) {
			t.Errorf("%s: got %v, want constraint violation", tc.name, err)
		}
	}
}

func TestDedupKeyReflectsTriple(t *testing.T) {
	t.Parallel()

	a := validContent()
	b := validContent()
	if a.DedupKey() != b.DedupKey() {
		t.Fatal("same triple must produce the same dedup key")
	}

	b.Platform = PlatformInstagram
	if a.DedupKey() == b.DedupKey() {
		t.Fatal("different platforms must produce different dedup keys")
	}
}

func TestPlatformTraits(t *testing.T) {
	t.Parallel()

	for _, p := range []Platform{PlatformTwitter, PlatformInstagram, PlatformTikTok, PlatformYouTube, PlatformLinkedIn} {
		if !p.Async() {
			t.Errorf("%s is provider-fetched", p)
		}
	}
	if PlatformRSS.Async() {
		t.Error("rss is fetched directly")
	}

	if !PlatformRSS.EmitsMarkup() || !PlatformLinkedIn.EmitsMarkup() {
		t.Error("rss and linkedin payloads carry markup")
	}
	if PlatformTikTok.EmitsMarkup() {
		t.Error("tiktok captions are plain text")
	}
}

func TestUpstreamErrorClassification(t *testing.T) {
	t.Parallel()

	transient := TransientUpstream("fetch", errors.New("timeout"))
	if !IsTransientUpstream(transient) || IsPermanentUpstream(transient) {
		t.Fatal("transient error misclassified")
	}

	permanent := PermanentUpstream("fetch", errors.New("forbidden"))
	if !IsPermanentUpstream(permanent) || IsTransientUpstream(permanent) {
		t.Fatal("permanent error misclassified")
	}

	wrapped := fmt.Errorf("processing snapshot: %w", transient)
	if !IsTransientUpstream(wrapped) {
		t.Fatal("classification must survive wrapping")
	}

	if IsTransientUpstream(errors.New("plain")) || IsPermanentUpstream(nil) {
		t.Fatal("plain and nil errors carry no classification")
	}
}
