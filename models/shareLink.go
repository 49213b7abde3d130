package models

import (
	"slices"
	"time"
)

// Allowed values for the caller-configurable link parameters. Requests
// outside these sets are rejected before anything is written, which bounds
// worst-case retention.
var (
	AllowedValidityHours = []int{1, 3, 6, 24}
	AllowedMaxDownloads  = []int{1, 3, 5, 10}
)

// ShareLink binds a public token to a stored object, an expiry time and a
// remaining-download counter. It is persisted as a JSON string in the
// metadata store, with a key TTL equal to the validity window.
type ShareLink struct {
	ObjectPath         string    `json:"path"`
	OriginalFilename   string    `json:"originalFilename,omitempty"`
	CreatedAt          time.Time `json:"createdAt"`
	ExpiresAt          time.Time `json:"expiresAt"`
	MaxDownloads       int       `json:"maxDownloads"`
	DownloadsRemaining int       `json:"downloadsRemaining"`
}

// Expired reports whether the time boundary has been crossed. The link is
// already expired at exactly ExpiresAt.
func (l *ShareLink) Expired(now time.Time) bool {
	return !now.Before(l.ExpiresAt)
}

// Exhausted reports whether the download quota is spent.
func (l *ShareLink) Exhausted() bool {
	return l.DownloadsRemaining <= 0
}

// Live reports whether the link can still serve a download.
func (l *ShareLink) Live(now time.Time) bool {
	return !l.Expired(now) && !l.Exhausted()
}

func ValidityAllowed(hours int) bool {
	return slices.Contains(AllowedValidityHours, hours)
}

func MaxDownloadsAllowed(n int) bool {
	return slices.Contains(AllowedMaxDownloads, n)
}

// MaxValidity is the longest window a link can be issued for.
func MaxValidity() time.Duration {
	return time.Duration(slices.Max(AllowedValidityHours)) * time.Hour
}

// CleanupJob is the durable queue payload for removing a link's object and
// metadata record. ID is empty for orphaned objects that never got a record.
type CleanupJob struct {
	ID         string `json:"id"`
	ObjectPath string `json:"path"`
}
