package normalize

import (
	"strings"

	"creatorpulse/internal/domain"
)

func parseRSS(raw map[string]any) parsed {
	p := parsed{
		id:          str(raw, "guid", "id"),
		url:         str(raw, "link", "url"),
		title:       str(raw, "title"),
		description: str(raw, "description", "summary"),
		body:        str(raw, "content"),
		thumbnail:   str(raw, "image"),
		author:      str(raw, "author"),
		publishedAt: timeField(raw, "published", "updated"),
	}
	for _, e := range anySlice(raw, "enclosures") {
		enc, ok := e.(map[string]any)
		if !ok {
			continue
		}
		u := str(enc, "url")
		if u == "" {
			continue
		}
		p.media = append(p.media, domain.MediaItem{
			URL:  u,
			Type: mediaTypeFromMIME(str(enc, "type")),
			Size: intFieldAsSize(enc, "length"),
		})
	}
	return p
}

func parseTwitter(raw map[string]any) parsed {
	p := parsed{
		id:          str(raw, "id_str", "id", "tweetId"),
		url:         str(raw, "url", "twitterUrl"),
		body:        str(raw, "full_text", "text"),
		author:      authorHandle(raw),
		publishedAt: timeField(raw, "createdAt", "created_at"),
		metrics: &domain.EngagementMetrics{
			Likes:     i64(raw, "likeCount", "favorite_count"),
			Retweets:  i64(raw, "retweetCount", "retweet_count"),
			Comments:  i64(raw, "replyCount", "reply_count"),
			Views:     i64(raw, "viewCount", "view_count"),
			Bookmarks: i64(raw, "bookmarkCount"),
		},
	}
	p.media = mediaList(raw, "media")

	if quoted := subMap(raw, "quoted_tweet"); quoted != nil {
		p.ref = contentRef(domain.RefQuote, quoted)
	} else if retweeted := subMap(raw, "retweeted_tweet"); retweeted != nil {
		p.ref = contentRef(domain.RefRepost, retweeted)
	} else if replyTo := str(raw, "inReplyToUsername", "in_reply_to_screen_name"); replyTo != "" {
		p.ref = &domain.ContentRef{Kind: domain.RefReply, Author: replyTo}
	}
	return p
}

func parseInstagram(raw map[string]any) parsed {
	p := parsed{
		id:          str(raw, "id", "shortCode"),
		url:         str(raw, "url"),
		body:        str(raw, "caption"),
		thumbnail:   str(raw, "displayUrl"),
		author:      authorHandle(raw),
		publishedAt: timeField(raw, "timestamp"),
		metrics: &domain.EngagementMetrics{
			Likes:    i64(raw, "likesCount"),
			Comments: i64(raw, "commentsCount"),
			Views:    i64(raw, "videoViewCount"),
		},
	}
	for _, img := range anySlice(raw, "images") {
		if u, ok := img.(string); ok && u != "" {
			p.media = append(p.media, domain.MediaItem{URL: u, Type: domain.MediaImage})
		}
	}
	if videoURL := str(raw, "videoUrl"); videoURL != "" {
		p.media = append(p.media, domain.MediaItem{
			URL:      videoURL,
			Type:     domain.MediaVideo,
			Duration: f64(raw, "videoDuration"),
		})
	}
	return p
}

func parseTikTok(raw map[string]any) parsed {
	p := parsed{
		id:          str(raw, "id"),
		url:         str(raw, "webVideoUrl", "url"),
		body:        str(raw, "text"),
		author:      authorHandle(raw),
		publishedAt: timeField(raw, "createTimeISO", "createTime"),
		metrics: &domain.EngagementMetrics{
			Likes:     i64(raw, "diggCount"),
			Shares:    i64(raw, "shareCount"),
			Views:     i64(raw, "playCount"),
			Comments:  i64(raw, "commentCount"),
			Bookmarks: i64(raw, "collectCount"),
		},
	}
	if meta := subMap(raw, "videoMeta"); meta != nil {
		p.thumbnail = str(meta, "coverUrl")
		if u := str(meta, "downloadAddr", "playAddr"); u != "" {
			p.media = append(p.media, domain.MediaItem{
				URL:      u,
				Type:     domain.MediaVideo,
				Width:    intField(meta, "width"),
				Height:   intField(meta, "height"),
				Duration: f64(meta, "duration"),
			})
		}
	}
	return p
}

func parseYouTube(raw map[string]any) parsed {
	p := parsed{
		id:          str(raw, "id", "videoId"),
		url:         str(raw, "url"),
		title:       str(raw, "title"),
		description: str(raw, "text", "description"),
		thumbnail:   str(raw, "thumbnailUrl"),
		author:      str(raw, "channelName", "channelUsername"),
		publishedAt: timeField(raw, "date", "publishedAt"),
		metrics: &domain.EngagementMetrics{
			Views:    i64(raw, "viewCount"),
			Likes:    i64(raw, "likes"),
			Comments: i64(raw, "commentsCount"),
		},
	}
	if u := str(raw, "videoUrl"); u != "" {
		p.media = append(p.media, domain.MediaItem{
			URL:      u,
			Type:     domain.MediaVideo,
			Duration: f64(raw, "duration"),
		})
	}
	return p
}

func parseLinkedIn(raw map[string]any) parsed {
	p := parsed{
		id:          str(raw, "urn", "id"),
		url:         str(raw, "postUrl", "url"),
		body:        str(raw, "commentary", "text"),
		author:      authorHandle(raw),
		publishedAt: timeField(raw, "postedAtISO", "postedAt"),
		metrics: &domain.EngagementMetrics{
			Likes:    i64(raw, "numLikes"),
			Comments: i64(raw, "numComments"),
			Shares:   i64(raw, "numShares"),
		},
	}
	if counts := anySlice(raw, "reactionTypeCounts"); len(counts) > 0 {
		reactions := map[string]int64{}
		for _, c := range counts {
			m, ok := c.(map[string]any)
			if !ok {
				continue
			}
			kind := str(m, "type", "reactionType")
			if kind == "" {
				continue
			}
			if n := i64(m, "count"); n != nil {
				reactions[strings.ToLower(kind)] = *n
			}
		}
		if len(reactions) > 0 {
			p.metrics.Reactions = reactions
		}
	}
	p.media = mediaList(raw, "media", "images")

	if reshared := subMap(raw, "resharedPost"); reshared != nil {
		p.ref = contentRef(domain.RefRepost, reshared)
	}
	return p
}

// authorHandle digs the author handle out of the usual spots: a plain
// string field or a nested author object.
func authorHandle(raw map[string]any) string {
	if handle := str(raw, "authorUsername", "ownerUsername", "username"); handle != "" {
		return handle
	}
	if author := subMap(raw, "author"); author != nil {
		return str(author, "userName", "username", "handle", "name", "publicIdentifier")
	}
	return str(raw, "author")
}

// contentRef maps a nested quoted/reshared payload into reference metadata.
func contentRef(kind domain.RefKind, raw map[string]any) *domain.ContentRef {
	ref := &domain.ContentRef{
		Kind:    kind,
		Author:  authorHandle(raw),
		Excerpt: excerpt(str(raw, "full_text", "text", "commentary", "caption")),
		Media:   mediaList(raw, "media"),
	}
	return ref
}

const excerptLimit = 280

func excerpt(s string) string {
	s = strings.TrimSpace(s)
	if len(s) > excerptLimit {
		return s[:excerptLimit]
	}
	return s
}

// mediaList extracts attachment lists of the common {url, type, ...} shape.
func mediaList(raw map[string]any, keys ...string) []domain.MediaItem {
	var items []domain.MediaItem
	for _, key := range keys {
		for _, entry := range anySlice(raw, key) {
			switch v := entry.(type) {
			case string:
				if v != "" {
					items = append(items, domain.MediaItem{URL: v, Type: domain.MediaImage})
				}
			case map[string]any:
				u := str(v, "url", "media_url_https", "videoUrl")
				if u == "" {
					continue
				}
				items = append(items, domain.MediaItem{
					URL:      u,
					Type:     mediaType(str(v, "type")),
					Width:    intField(v, "width"),
					Height:   intField(v, "height"),
					Duration: f64(v, "duration"),
				})
			}
		}
	}
	return items
}

func mediaType(s string) domain.MediaType {
	switch strings.ToLower(s) {
	case "video", "animated_gif":
		return domain.MediaVideo
	case "audio":
		return domain.MediaAudio
	case "document", "pdf":
		return domain.MediaDocument
	default:
		return domain.MediaImage
	}
}

func mediaTypeFromMIME(mime string) domain.MediaType {
	switch {
	case strings.HasPrefix(mime, "video/"):
		return domain.MediaVideo
	case strings.HasPrefix(mime, "audio/"):
		return domain.MediaAudio
	case strings.HasPrefix(mime, "image/"):
		return domain.MediaImage
	default:
		return domain.MediaDocument
	}
}

func intFieldAsSize(raw map[string]any, key string) int64 {
	if v := i64(raw, key); v != nil {
		return *v
	}
	return 0
}
