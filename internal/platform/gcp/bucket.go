package gcp

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"path"
	"strings"
	"time"

	"cloud.google.com/go/storage"

	"github.com/yungbote/chorus-backend/internal/platform/envutil"
	"github.com/yungbote/chorus-backend/internal/platform/logger"
)

// ObjectStore reads chat attachments and stores generated media in one bucket.
type ObjectStore interface {
	// Download reads a gs://bucket/key object, capped at maxBytes. Objects of
	// other buckets are refused.
	Download(ctx context.Context, gsURL string, maxBytes int64) ([]byte, string, error)
	Upload(ctx context.Context, key string, contentType string, data []byte) (string, error)
	Close() error
}

type objectStore struct {
	log        *logger.Logger
	client     *storage.Client
	bucket     string
	publicBase string
}

// NewObjectStore returns (nil, nil) when GCS_ATTACHMENT_BUCKET is unset.
// STORAGE_EMULATOR_HOST is honored by the storage client itself.
func NewObjectStore(log *logger.Logger) (ObjectStore, error) {
	bucket := envutil.String("GCS_ATTACHMENT_BUCKET", "")
	if bucket == "" {
		return nil, nil
	}
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	c, err := storage.NewClient(ctx, ClientOptionsFromEnv()...)
	if err != nil {
		return nil, fmt.Errorf("storage client: %w", err)
	}
	base := strings.TrimRight(envutil.String("GCS_PUBLIC_BASE_URL", "https://storage.googleapis.com/"+bucket), "/")
	return &objectStore{
		log:        log.With("service", "gcp.ObjectStore", "bucket", bucket),
		client:     c,
		bucket:     bucket,
		publicBase: base,
	}, nil
}

// ParseGSURL splits gs://bucket/key.
func ParseGSURL(raw string) (bucket string, key string, err error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", "", err
	}
	if u.Scheme != "gs" || u.Host == "" {
		return "", "", fmt.Errorf("not a gs:// url: %q", raw)
	}
	key = strings.TrimPrefix(u.Path, "/")
	if key == "" {
		return "", "", fmt.Errorf("gs url missing object key: %q", raw)
	}
	return u.Host, key, nil
}

// ErrForeignBucket is returned for gs:// URLs outside the attachment bucket.
var ErrForeignBucket = errors.New("object is outside the attachment bucket")

// objectKey resolves gsURL to a key of the attachment bucket.
func (s *objectStore) objectKey(gsURL string) (string, error) {
	bucket, key, err := ParseGSURL(gsURL)
	if err != nil {
		return "", err
	}
	if bucket != s.bucket {
		return "", fmt.Errorf("%w: %s", ErrForeignBucket, bucket)
	}
	return key, nil
}

func (s *objectStore) Download(ctx context.Context, gsURL string, maxBytes int64) ([]byte, string, error) {
	key, err := s.objectKey(gsURL)
	if err != nil {
		return nil, "", err
	}
	r, err := s.client.Bucket(s.bucket).Object(key).NewReader(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return nil, "", fmt.Errorf("attachment %s not found: %w", gsURL, err)
		}
		return nil, "", err
	}
	defer r.Close()
	if maxBytes <= 0 {
		maxBytes = 20 << 20
	}
	b, err := io.ReadAll(io.LimitReader(r, maxBytes))
	if err != nil {
		return nil, "", err
	}
	return b, r.Attrs.ContentType, nil
}

func (s *objectStore) Upload(ctx context.Context, key string, contentType string, data []byte) (string, error) {
	key = strings.TrimLeft(path.Clean("/"+key), "/")
	w := s.client.Bucket(s.bucket).Object(key).NewWriter(ctx)
	w.ContentType = contentType
	w.CacheControl = "public, max-age=31536000"
	if _, err := io.Copy(w, bytes.NewReader(data)); err != nil {
		_ = w.Close()
		return "", fmt.Errorf("upload %s: %w", key, err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("upload %s: %w", key, err)
	}
	s.log.Debug("object uploaded", "key", key, "bytes", len(data))
	return s.publicBase + "/" + key, nil
}

func (s *objectStore) Close() error {
	if s == nil || s.client == nil {
		return nil
	}
	return s.client.Close()
}
