package assets

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"musehub.io/musehub/internal/config"
)

func TestObjectKey(t *testing.T) {
	assert.Equal(t, "repos/r1/objects/abc", ObjectKey("r1", "abc"))
}

func TestDisabledFallsBack(t *testing.T) {
	_, err := Disabled{}.PresignDownload(context.Background(), "r1", "abc", time.Minute)
	assert.ErrorIs(t, err, ErrNotConfigured)
}

func TestS3Presigner_SignsLocally(t *testing.T) {
	p, err := NewS3Presigner(config.AssetsConfig{
		Enabled:    true,
		Region:     "us-east-1",
		Bucket:     "muse-objects",
		AccessKey:  "test-access",
		SecretKey:  "test-secret",
		PresignTTL: 15 * time.Minute,
	})
	require.NoError(t, err)

	got, err := p.PresignDownload(context.Background(), "repo-1", "abc123", 0)
	require.NoError(t, err)
	assert.Equal(t, "GET", got.Method)
	assert.Contains(t, got.URL, "muse-objects")
	assert.Contains(t, got.URL, "repos/repo-1/objects/abc123")
	assert.Contains(t, got.URL, "X-Amz-Signature=")
	assert.WithinDuration(t, time.Now().Add(15*time.Minute), got.ExpiresAt, time.Minute)
}

func TestS3Presigner_RequiresBucket(t *testing.T) {
	_, err := NewS3Presigner(config.AssetsConfig{Region: "us-east-1"})
	require.Error(t, err)
}
