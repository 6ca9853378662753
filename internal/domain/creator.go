package domain

import (
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
)

// CreatorStatus marks whether a creator participates in refresh scheduling.
type CreatorStatus string

const (
	CreatorActive   CreatorStatus = "active"
	CreatorInactive CreatorStatus = "inactive"
)

// URLStatus is the validation state of a creator URL.
type URLStatus string

const (
	URLPending URLStatus = "pending"
	URLValid   URLStatus = "valid"
	URLInvalid URLStatus = "invalid"
)

// Creator owns content across one or more platforms.
type Creator struct {
	ID              uuid.UUID
	DisplayName     string
	Status          CreatorStatus
	RefreshInterval time.Duration
	LastRefreshedAt *time.Time
	CreatedAt       time.Time
}

// CreatorURL is one platform presence of a creator. At most one URL exists
// per (creator, platform).
type CreatorURL struct {
	ID           uuid.UUID
	CreatorID    uuid.UUID
	Platform     Platform
	RawURL       string
	CanonicalURL string
	Status       URLStatus
}

// CanonicalizeURL normalizes a raw creator URL: strips fragments, drops the
// www prefix and defaults the scheme to https.
func CanonicalizeURL(raw string) string {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return trimmed
	}
	if !strings.Contains(trimmed, "://") {
		trimmed = "https://" + trimmed
	}

	parsed, err := url.Parse(trimmed)
	if err != nil {
		return raw
	}
	parsed.Fragment = ""
	parsed.Host = strings.TrimPrefix(parsed.Host, "www.")
	return parsed.String()
}
