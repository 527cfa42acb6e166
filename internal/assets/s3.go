package assets

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"

	"musehub.io/musehub/internal/config"
)

const defaultPresignTTL = 15 * time.Minute

// S3Presigner signs download URLs against an S3-compatible bucket.
// Signing is local; no request leaves the process until the client
// follows the URL.
type S3Presigner struct {
	client *s3.S3
	bucket string
	ttl    time.Duration
}

// NewS3Presigner builds a presigner from the assets config. A custom
// endpoint switches to path-style addressing for MinIO and friends.
func NewS3Presigner(cfg config.AssetsConfig) (*S3Presigner, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("assets bucket is required")
	}
	awsCfg := aws.NewConfig().WithRegion(cfg.Region)
	if cfg.Endpoint != "" {
		awsCfg = awsCfg.WithEndpoint(cfg.Endpoint).WithS3ForcePathStyle(true)
	}
	if cfg.AccessKey != "" {
		awsCfg = awsCfg.WithCredentials(credentials.NewStaticCredentials(cfg.AccessKey, cfg.SecretKey, ""))
	}
	sess, err := session.NewSession(awsCfg)
	if err != nil {
		return nil, fmt.Errorf("init s3 session: %w", err)
	}
	ttl := cfg.PresignTTL
	if ttl <= 0 {
		ttl = defaultPresignTTL
	}
	return &S3Presigner{client: s3.New(sess), bucket: cfg.Bucket, ttl: ttl}, nil
}

// PresignDownload returns a GET URL for the object. ttl <= 0 uses the
// configured default.
func (p *S3Presigner) PresignDownload(_ context.Context, repoID, objectID string, ttl time.Duration) (*PresignedURL, error) {
	if ttl <= 0 {
		ttl = p.ttl
	}
	req, _ := p.client.GetObjectRequest(&s3.GetObjectInput{
		Bucket: aws.String(p.bucket),
		Key:    aws.String(ObjectKey(repoID, objectID)),
	})
	url, err := req.Presign(ttl)
	if err != nil {
		return nil, fmt.Errorf("presign download: %w", err)
	}
	return &PresignedURL{
		URL:       url,
		Method:    http.MethodGet,
		ExpiresAt: time.Now().UTC().Add(ttl),
	}, nil
}
