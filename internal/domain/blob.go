package domain

import (
	"context"
	"io"
	"time"
)

// BlobWriter uploads data to object storage.
type BlobWriter interface {
	Put(ctx context.Context, path string, data io.Reader, contentType string) error
	PutMultipart(ctx context.Context, path string, data io.Reader, partSize int64) error
}

// BlobReader inspects object storage.
type BlobReader interface {
	Exists(ctx context.Context, path string) (bool, error)
}

// Archiver copies a calendar month of rows to cold storage. Rows are never
// removed from the store. A month that already has an archive object is
// skipped and reports zero rows.
type Archiver interface {
	ArchiveSnapshots(ctx context.Context, month time.Time) (int64, error)
	ArchiveHistory(ctx context.Context, month time.Time) (int64, error)
}
