package s3

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"lettz/internal/app/listings"
)

// PhotoStore removes listing photos from an S3-compatible bucket.
type PhotoStore struct {
	bucket        string
	publicBaseURL string
	client        *minio.Client
	logger        *slog.Logger
}

// NewPhotoStore configures a client using the provided endpoint and credentials.
func NewPhotoStore(endpoint string, useSSL bool, accessKey, secretKey, bucket, publicBaseURL string, logger *slog.Logger) (*PhotoStore, error) {
	cleanEndpoint := strings.TrimSpace(endpoint)
	if cleanEndpoint == "" {
		return nil, errors.New("s3: endpoint is required")
	}
	if bucket = strings.TrimSpace(bucket); bucket == "" {
		return nil, errors.New("s3: bucket is required")
	}
	minioClient, err := minio.New(parseEndpoint(cleanEndpoint), &minio.Options{
		Creds:  credentials.NewStaticV4(strings.TrimSpace(accessKey), strings.TrimSpace(secretKey), ""),
		Secure: useSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("s3: create client: %w", err)
	}
	base := strings.TrimSpace(publicBaseURL)
	if base == "" {
		base = cleanEndpoint
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &PhotoStore{
		bucket:        bucket,
		publicBaseURL: strings.TrimRight(base, "/"),
		client:        minioClient,
		logger:        logger,
	}, nil
}

// RemovePhotos deletes every object named by urls. URLs outside the bucket
// are skipped; a missing object counts as removed.
func (p *PhotoStore) RemovePhotos(ctx context.Context, urls []string) error {
	objects := make(chan minio.ObjectInfo, len(urls))
	count := 0
	for _, raw := range urls {
		key, ok := objectKey(p.publicBaseURL, p.bucket, raw)
		if !ok {
			p.logger.Warn("skipping photo outside bucket", "bucket", p.bucket, "url", raw)
			continue
		}
		objects <- minio.ObjectInfo{Key: key}
		count++
	}
	close(objects)
	if count == 0 {
		return nil
	}

	var errs []error
	for res := range p.client.RemoveObjects(ctx, p.bucket, objects, minio.RemoveObjectsOptions{}) {
		if res.Err == nil {
			continue
		}
		if minio.ToErrorResponse(res.Err).Code == "NoSuchKey" {
			continue
		}
		errs = append(errs, fmt.Errorf("s3: remove %s: %w", res.ObjectName, res.Err))
	}
	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	p.logger.Info("s3 photos removed", "bucket", p.bucket, "count", count)
	return nil
}

// objectKey maps <base>/<bucket>/<key> back to key.
func objectKey(base, bucket, raw string) (string, bool) {
	prefix := strings.TrimRight(base, "/") + "/" + bucket + "/"
	if !strings.HasPrefix(raw, prefix) {
		return "", false
	}
	key := strings.Trim(strings.TrimPrefix(raw, prefix), "/")
	if i := strings.IndexAny(key, "?#"); i >= 0 {
		key = key[:i]
	}
	if decoded, err := url.PathUnescape(key); err == nil {
		key = decoded
	}
	return key, key != ""
}

func parseEndpoint(endpoint string) string {
	if parsed, err := url.Parse(endpoint); err == nil && parsed.Host != "" {
		return parsed.Host
	}
	return endpoint
}

// NoopPhotoStore is used when no bucket is configured.
type NoopPhotoStore struct {
	Logger *slog.Logger
}

func (n NoopPhotoStore) RemovePhotos(_ context.Context, urls []string) error {
	if n.Logger != nil && len(urls) > 0 {
		n.Logger.Debug("photo storage not configured, keeping photos", "count", len(urls))
	}
	return nil
}

var (
	_ listings.PhotoRemover = (*PhotoStore)(nil)
	_ listings.PhotoRemover = NoopPhotoStore{}
)
