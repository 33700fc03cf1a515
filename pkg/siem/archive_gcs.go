package siem

import (
	"context"
	"fmt"

	"cloud.google.com/go/storage"
)

// GCSArchiver implements FallbackArchiver against a GCS bucket, the
// alternate cloud backend so the forwarder's fallback archival isn't
// locked to one cloud provider. Uses storage.NewClient with a bucket/object
// writer.
type GCSArchiver struct {
	client *storage.Client
	bucket string
	prefix string
}

// GCSArchiverConfig configures a GCSArchiver.
type GCSArchiverConfig struct {
	Bucket string
	Prefix string // optional key prefix, e.g. "siem-fallback/"
}

// NewGCSArchiver constructs a GCSArchiver using Application Default
// Credentials.
func NewGCSArchiver(ctx context.Context, cfg GCSArchiverConfig) (*GCSArchiver, error) {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("siem: gcs archiver: new client: %w", err)
	}
	return &GCSArchiver{client: client, bucket: cfg.Bucket, prefix: cfg.Prefix}, nil
}

// Archive uploads data as the object for the given fallback day.
func (a *GCSArchiver) Archive(ctx context.Context, date string, data []byte) error {
	objectPath := a.prefix + date + ".jsonl"
	obj := a.client.Bucket(a.bucket).Object(objectPath)

	w := obj.NewWriter(ctx)
	w.ContentType = "application/x-ndjson"
	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return fmt.Errorf("siem: gcs archiver: write %s: %w", objectPath, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("siem: gcs archiver: close %s: %w", objectPath, err)
	}
	return nil
}

// Close releases the underlying GCS client.
func (a *GCSArchiver) Close() error {
	return a.client.Close()
}
