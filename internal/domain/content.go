package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Platform tags the upstream origin of a piece of content.
type Platform string

const (
	PlatformRSS       Platform = "rss"
	PlatformTwitter   Platform = "twitter"
	PlatformInstagram Platform = "instagram"
	PlatformTikTok    Platform = "tiktok"
	PlatformYouTube   Platform = "youtube"
	PlatformLinkedIn  Platform = "linkedin"
)

// Valid reports whether the tag is one of the supported platforms.
func (p Platform) Valid() bool {
	switch p {
	case PlatformRSS, PlatformTwitter, PlatformInstagram, PlatformTikTok, PlatformYouTube, PlatformLinkedIn:
		return true
	}
	return false
}

// Async reports whether content for the platform can only be fetched through
// the asynchronous scraping provider. RSS feeds are pulled synchronously.
func (p Platform) Async() bool {
	return p.Valid() && p != PlatformRSS
}

// EmitsMarkup reports whether raw payloads from the platform carry HTML that
// must be stripped before storage. Short-form platforms deliver plain text.
func (p Platform) EmitsMarkup() bool {
	return p == PlatformRSS || p == PlatformLinkedIn
}

// MediaType classifies an attached media item.
type MediaType string

const (
	MediaImage    MediaType = "image"
	MediaVideo    MediaType = "video"
	MediaAudio    MediaType = "audio"
	MediaDocument MediaType = "document"
)

// MediaItem is one attachment on a piece of content.
type MediaItem struct {
	URL      string    `json:"url"`
	Type     MediaType `json:"type"`
	Width    int       `json:"width,omitempty"`
	Height   int       `json:"height,omitempty"`
	Duration float64   `json:"duration,omitempty"`
	Size     int64     `json:"size,omitempty"`
}

// EngagementMetrics holds the platform-specific subset of counters an
// upstream item carries. Absent metrics stay nil, never zero.
type EngagementMetrics struct {
	Views     *int64           `json:"views,omitempty"`
	Likes     *int64           `json:"likes,omitempty"`
	Comments  *int64           `json:"comments,omitempty"`
	Shares    *int64           `json:"shares,omitempty"`
	Retweets  *int64           `json:"retweets,omitempty"`
	Bookmarks *int64           `json:"bookmarks,omitempty"`
	Reactions map[string]int64 `json:"reactions,omitempty"`
}

// Empty reports whether no metric was present on the payload.
func (m *EngagementMetrics) Empty() bool {
	if m == nil {
		return true
	}
	return m.Views == nil && m.Likes == nil && m.Comments == nil &&
		m.Shares == nil && m.Retweets == nil && m.Bookmarks == nil &&
		len(m.Reactions) == 0
}

// RefKind distinguishes how a piece of content points at another one.
type RefKind string

const (
	RefQuote  RefKind = "quote"
	RefRepost RefKind = "repost"
	RefReply  RefKind = "reply"
)

// ContentRef is the reference metadata of a quote, repost or reply.
type ContentRef struct {
	Kind    RefKind     `json:"kind"`
	Author  string      `json:"author"`
	Excerpt string      `json:"excerpt,omitempty"`
	Media   []MediaItem `json:"media,omitempty"`
}

// Content is the canonical record every platform payload converges to.
// The triple (CreatorID, Platform, PlatformContentID) is the dedup key and
// is unique in storage; identity fields never change after the first insert.
type Content struct {
	ID                uuid.UUID
	CreatorID         uuid.UUID
	Platform          Platform
	PlatformContentID string
	URL               string

	Title        string
	Description  string
	Body         string
	ThumbnailURL string
	Media        []MediaItem
	Metrics      *EngagementMetrics
	Ref          *ContentRef
	PublishedAt  *time.Time

	IngestedAt         time.Time
	RelevancyScore     *float64
	RelevancyCheckedAt *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

// DedupKey renders the uniqueness triple as one string, useful for logs and
// job keys.
func (c *Content) DedupKey() string {
	return fmt.Sprintf("%s/%s/%s", c.CreatorID, c.Platform, c.PlatformContentID)
}

// Validate rejects records that must never enter the pipeline.
func (c *Content) Validate() error {
	if c == nil {
		return fmt.Errorf("%w: nil content", ErrConstraintViolation)
	}
	if c.CreatorID == uuid.Nil {
		return fmt.Errorf("%w: missing creator ownership", ErrConstraintViolation)
	}
	if !c.Platform.Valid() {
		return fmt.Errorf("%w: unknown platform %q", ErrConstraintViolation, c.Platform)
	}
	if strings.TrimSpace(c.PlatformContentID) == "" {
		return fmt.Errorf("%w: empty platform content id", ErrConstraintViolation)
	}
	if strings.TrimSpace(c.URL) == "" {
		return fmt.Errorf("%w: empty source url", ErrConstraintViolation)
	}
	return nil
}

// UpsertOutcome tells whether an upsert inserted a new row or refreshed an
// existing one.
type UpsertOutcome string

const (
	OutcomeCreated UpsertOutcome = "created"
	OutcomeUpdated UpsertOutcome = "updated"
)

// ItemError records one failed item inside a batch.
type ItemError struct {
	Index int
	Err   error
}

// BatchResult summarizes a storeMany call. A batch with both successes and
// errors is a partial success, not a failure.
type BatchResult struct {
	Created int
	Updated int
	Errors  []ItemError
}

// OK reports whether every item in the batch succeeded.
func (b BatchResult) OK() bool { return len(b.Errors) == 0 }
