package feed

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/mmcdole/gofeed"

	"creatorpulse/internal/domain"
	"creatorpulse/internal/normalize"
)

// Options bounds one fetch.
type Options struct {
	MaxItems int
	Timeout  time.Duration
}

// Result reports one feed fetch. Items holds only the entries that
// normalized cleanly; malformed entries are counted and skipped.
type Result struct {
	Items   []*domain.Content
	Skipped int
}

// Fetcher pulls RSS and Atom feeds and turns their entries into canonical
// content records.
type Fetcher struct {
	parser *gofeed.Parser
	log    *slog.Logger
}

func NewFetcher(client *http.Client, log *slog.Logger) *Fetcher {
	parser := gofeed.NewParser()
	if client != nil {
		parser.Client = client
	}
	return &Fetcher{parser: parser, log: log.With("component", "feed")}
}

// Fetch downloads and parses the feed at url. Transport and parse failures
// are transient: feeds disappear and reappear, so the caller retries. A
// malformed entry inside an otherwise healthy feed is skipped, not retried.
func (f *Fetcher) Fetch(ctx context.Context, creatorID uuid.UUID, url string, opts Options) (*Result, error) {
	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	parsed, err := f.parser.ParseURLWithContext(url, ctx)
	if err != nil {
		return nil, domain.TransientUpstream("fetch feed", fmt.Errorf("%s: %w", url, err))
	}

	result := &Result{}
	for _, entry := range parsed.Items {
		if opts.MaxItems > 0 && len(result.Items) >= opts.MaxItems {
			break
		}

		c, err := normalize.Normalize(creatorID, domain.PlatformRSS, itemRaw(parsed, entry), url)
		if err != nil {
			if errors.Is(err, domain.ErrMalformedPayload) {
				result.Skipped++
				f.log.Warn("feed entry skipped", "feed", url, "error", err)
				continue
			}
			return nil, err
		}
		result.Items = append(result.Items, c)
	}

	return result, nil
}

// itemRaw flattens a gofeed entry into the generic payload shape the
// normalizer consumes.
func itemRaw(feed *gofeed.Feed, item *gofeed.Item) map[string]any {
	raw := map[string]any{
		"guid":        item.GUID,
		"link":        item.Link,
		"title":       item.Title,
		"description": item.Description,
		"content":     item.Content,
	}

	if item.PublishedParsed != nil {
		raw["published"] = item.PublishedParsed.UTC().Format(time.RFC3339)
	} else if item.UpdatedParsed != nil {
		raw["published"] = item.UpdatedParsed.UTC().Format(time.RFC3339)
	}

	if item.Author != nil && item.Author.Name != "" {
		raw["author"] = item.Author.Name
	} else if feed != nil && feed.Title != "" {
		raw["author"] = feed.Title
	}

	if item.Image != nil {
		raw["image"] = item.Image.URL
	}

	if len(item.Enclosures) > 0 {
		enclosures := make([]any, 0, len(item.Enclosures))
		for _, enc := range item.Enclosures {
			enclosures = append(enclosures, map[string]any{
				"url":  enc.URL,
				"type": enc.Type,
			})
		}
		raw["enclosures"] = enclosures
	}

	return raw
}
