package normalize

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/google/uuid"

	"creatorpulse/internal/domain"
)

var reWhitespace = regexp.MustCompile(`\s+`)

// parsed is the intermediate shape every platform parser produces before it
// is folded into the canonical record.
type parsed struct {
	id          string
	url         string
	title       string
	description string
	body        string
	thumbnail   string
	author      string
	publishedAt *time.Time
	media       []domain.MediaItem
	metrics     *domain.EngagementMetrics
	ref         *domain.ContentRef
}

// parserFunc maps one platform's raw payload into the intermediate shape.
type parserFunc func(raw map[string]any) parsed

var parsers = map[domain.Platform]parserFunc{
	domain.PlatformRSS:       parseRSS,
	domain.PlatformTwitter:   parseTwitter,
	domain.PlatformInstagram: parseInstagram,
	domain.PlatformTikTok:    parseTikTok,
	domain.PlatformYouTube:   parseYouTube,
	domain.PlatformLinkedIn:  parseLinkedIn,
}

// Normalize maps a raw platform payload into the canonical content record.
// It performs no I/O: given the same payload it produces the same record
// except for the freshly computed ingestion timestamp. The record ID is left
// unset; the content store assigns it on first insert.
func Normalize(creatorID uuid.UUID, platform domain.Platform, raw map[string]any, sourceURL string) (*domain.Content, error) {
	if creatorID == uuid.Nil {
		return nil, fmt.Errorf("%w: missing creator ownership", domain.ErrConstraintViolation)
	}
	parser, ok := parsers[platform]
	if !ok {
		return nil, fmt.Errorf("%w: unsupported platform %q", domain.ErrConstraintViolation, platform)
	}
	if raw == nil {
		return nil, fmt.Errorf("%w: empty payload", domain.ErrMalformedPayload)
	}

	p := parser(raw)

	itemURL := firstNonEmpty(p.url, sourceURL)
	if itemURL == "" {
		return nil, fmt.Errorf("%w: no url in payload", domain.ErrMalformedPayload)
	}
	id := p.id
	if id == "" {
		// Fallback identifier synthesis. Synthesized ids carry an "h:" prefix
		// so a native id shipped later by the upstream can never collide with
		// one; the same upstream item re-ingested under its native id becomes
		// a new row.
		id = synthesizeID(itemURL, p.author, p.publishedAt)
	}

	body := p.body
	description := p.description
	if platform.EmitsMarkup() {
		body = stripMarkup(body)
		description = stripMarkup(description)
	}

	metrics := p.metrics
	if metrics.Empty() {
		metrics = nil
	}

	return &domain.Content{
		CreatorID:         creatorID,
		Platform:          platform,
		PlatformContentID: id,
		URL:               itemURL,
		Title:             strings.TrimSpace(p.title),
		Description:       description,
		Body:              body,
		ThumbnailURL:      p.thumbnail,
		Media:             p.media,
		Metrics:           metrics,
		Ref:               p.ref,
		PublishedAt:       p.publishedAt,
		IngestedAt:        time.Now().UTC(),
	}, nil
}

// synthesizeID derives a deterministic identifier from (url, author,
// timestamp) for payloads without a native id.
func synthesizeID(itemURL, author string, publishedAt *time.Time) string {
	ts := ""
	if publishedAt != nil {
		ts = publishedAt.UTC().Format(time.RFC3339)
	}
	sum := sha256.Sum256([]byte(itemURL + "|" + author + "|" + ts))
	return "h:" + hex.EncodeToString(sum[:])[:24]
}

// stripMarkup renders HTML down to collapsed plain text. Payloads that fail
// to parse pass through verbatim.
func stripMarkup(s string) string {
	if s == "" || !strings.Contains(s, "<") {
		return strings.TrimSpace(s)
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(s))
	if err != nil {
		return s
	}
	doc.Find("script, style").Remove()
	text := reWhitespace.ReplaceAllString(doc.Text(), " ")
	return strings.TrimSpace(text)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

// str returns the first present non-empty string field.
func str(raw map[string]any, keys ...string) string {
	for _, k := range keys {
		if v, ok := raw[k].(string); ok && strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

// i64 returns the first present numeric field as *int64. Upstream payloads
// deliver counters as JSON numbers or numeric strings interchangeably.
func i64(raw map[string]any, keys ...string) *int64 {
	for _, k := range keys {
		switch v := raw[k].(type) {
		case float64:
			n := int64(v)
			return &n
		case int:
			n := int64(v)
			return &n
		case int64:
			n := v
			return &n
		case string:
			if n, err := strconv.ParseInt(v, 10, 64); err == nil {
				return &n
			}
		}
	}
	return nil
}

func f64(raw map[string]any, keys ...string) float64 {
	for _, k := range keys {
		switch v := raw[k].(type) {
		case float64:
			return v
		case int:
			return float64(v)
		case string:
			if f, err := strconv.ParseFloat(v, 64); err == nil {
				return f
			}
		}
	}
	return 0
}

func intField(raw map[string]any, keys ...string) int {
	if v := i64(raw, keys...); v != nil {
		return int(*v)
	}
	return 0
}

// timeField parses the first present timestamp field, accepting RFC3339
// strings and unix-second numbers.
func timeField(raw map[string]any, keys ...string) *time.Time {
	for _, k := range keys {
		switch v := raw[k].(type) {
		case string:
			for _, layout := range []string{time.RFC3339, time.RFC3339Nano, time.RFC1123Z, "2006-01-02 15:04:05"} {
				if t, err := time.Parse(layout, v); err == nil {
					t = t.UTC()
					return &t
				}
			}
		case float64:
			t := time.Unix(int64(v), 0).UTC()
			return &t
		}
	}
	return nil
}

func subMap(raw map[string]any, key string) map[string]any {
	if m, ok := raw[key].(map[string]any); ok {
		return m
	}
	return nil
}

func anySlice(raw map[string]any, key string) []any {
	if s, ok := raw[key].([]any); ok {
		return s
	}
	return nil
}
