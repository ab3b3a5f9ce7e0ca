package archive

import (
	"context"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"cloud.google.com/go/storage"

	"github.com/dvloznov/txn-harvester/internal/domain"
)

// GCS archives overlays as objects in a Cloud Storage bucket.
// It assumes Application Default Credentials are configured.
type GCS struct {
	client *storage.Client
	bucket string
	prefix string
}

// NewGCS creates a storage client for bucket. Objects are written under prefix.
func NewGCS(ctx context.Context, bucket, prefix string) (*GCS, error) {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("create storage client: %w", err)
	}
	return &GCS{client: client, bucket: bucket, prefix: strings.Trim(prefix, "/")}, nil
}

// Close releases the storage client.
func (g *GCS) Close() error {
	return g.client.Close()
}

// URI returns the gs:// URI the overlay of rec is stored at.
func (g *GCS) URI(rec *domain.Record) string {
	return fmt.Sprintf("gs://%s/%s", g.bucket, g.objectName(rec))
}

func (g *GCS) objectName(rec *domain.Record) string {
	return path.Join(g.prefix, ObjectName(rec))
}

func (g *GCS) Archive(ctx context.Context, rec *domain.Record, text string) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()

	obj := g.client.Bucket(g.bucket).Object(g.objectName(rec))
	w := obj.NewWriter(ctx)
	w.ContentType = "text/plain; charset=utf-8"

	if _, err := w.Write(Render(rec, text)); err != nil {
		_ = w.Close()
		return fmt.Errorf("GCS.Archive: writing %s: %w", g.URI(rec), err)
	}
	// Close finalizes the upload.
	if err := w.Close(); err != nil {
		return fmt.Errorf("GCS.Archive: finalize upload: %w", err)
	}
	return nil
}

// Fetch downloads an archived overlay by gs:// URI.
func (g *GCS) Fetch(ctx context.Context, uri string) ([]byte, error) {
	bucket, object, err := ParseURI(uri)
	if err != nil {
		return nil, err
	}

	rc, err := g.client.Bucket(bucket).Object(object).NewReader(ctx)
	if err != nil {
		return nil, fmt.Errorf("Fetch: reading object %s/%s: %w", bucket, object, err)
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("Fetch: reading bytes: %w", err)
	}
	return data, nil
}

// ParseURI splits gs://bucket/path/to/object into bucket and object path.
func ParseURI(uri string) (bucket, object string, err error) {
	if !strings.HasPrefix(uri, "gs://") {
		return "", "", fmt.Errorf("invalid GCS URI: %s", uri)
	}
	parts := strings.SplitN(strings.TrimPrefix(uri, "gs://"), "/", 2)
	if len(parts) != 2 || parts[1] == "" {
		return "", "", fmt.Errorf("invalid GCS URI (no object path): %s", uri)
	}
	return parts[0], parts[1], nil
}

var _ Archiver = (*GCS)(nil)
