// Package assets delivers repository object content. Object bytes live
// in the hub store; when a bucket is configured, downloads hand out
// short-lived presigned URLs instead of proxying audio through the API.
package assets

import (
	"context"
	"errors"
	"time"
)

// ErrNotConfigured signals that no bucket is wired up and the caller
// should fall back to inline delivery.
var ErrNotConfigured = errors.New("asset delivery is not configured")

// PresignedURL is a time-limited download grant.
type PresignedURL struct {
	URL       string    `json:"url"`
	Method    string    `json:"method"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Presigner mints download URLs for stored objects.
type Presigner interface {
	PresignDownload(ctx context.Context, repoID, objectID string, ttl time.Duration) (*PresignedURL, error)
}

// ObjectKey is the bucket layout for repository objects.
func ObjectKey(repoID, objectID string) string {
	return "repos/" + repoID + "/objects/" + objectID
}

// Disabled is the Presigner used when no bucket is configured.
type Disabled struct{}

func (Disabled) PresignDownload(context.Context, string, string, time.Duration) (*PresignedURL, error) {
	return nil, ErrNotConfigured
}
