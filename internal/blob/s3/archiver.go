package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/evemarket/internal/domain"
)

// multipartThreshold is the payload size above which uploads go through the
// multipart manager.
const multipartThreshold = 16 * 1024 * 1024

// SnapshotRangeReader is the slice of domain.SnapshotStore the archiver needs.
type SnapshotRangeReader interface {
	ListRange(ctx context.Context, from, to time.Time) ([]domain.Snapshot, error)
}

// HistoryRangeReader is the slice of domain.HistoryStore the archiver needs.
type HistoryRangeReader interface {
	ListRange(ctx context.Context, from, to time.Time) ([]domain.HistoryPoint, error)
}

// ArchiveImpl implements domain.Archiver. It exports one calendar month of
// rows as JSONL to archive/<kind>/YYYY-MM.jsonl. Rows stay in the store.
type ArchiveImpl struct {
	writer    domain.BlobWriter
	reader    domain.BlobReader
	snapshots SnapshotRangeReader
	history   HistoryRangeReader
	logger    *slog.Logger
}

// NewArchiver creates an ArchiveImpl.
func NewArchiver(
	writer domain.BlobWriter,
	reader domain.BlobReader,
	snapshots SnapshotRangeReader,
	history HistoryRangeReader,
	logger *slog.Logger,
) *ArchiveImpl {
	return &ArchiveImpl{
		writer:    writer,
		reader:    reader,
		snapshots: snapshots,
		history:   history,
		logger:    logger.With(slog.String("component", "archiver")),
	}
}

// ArchiveSnapshots exports the snapshots captured during month.
func (a *ArchiveImpl) ArchiveSnapshots(ctx context.Context, month time.Time) (int64, error) {
	return archiveMonth(ctx, a, "snapshots", month, a.snapshots.ListRange)
}

// ArchiveHistory exports the daily aggregates dated within month.
func (a *ArchiveImpl) ArchiveHistory(ctx context.Context, month time.Time) (int64, error) {
	return archiveMonth(ctx, a, "history", month, a.history.ListRange)
}

func archiveMonth[T any](
	ctx context.Context,
	a *ArchiveImpl,
	kind string,
	month time.Time,
	list func(ctx context.Context, from, to time.Time) ([]T, error),
) (int64, error) {
	from, to := monthBounds(month)
	path := archivePath(kind, from)

	exists, err := a.reader.Exists(ctx, path)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive %s: %w", kind, err)
	}
	if exists {
		a.logger.DebugContext(ctx, "archive already present", slog.String("path", path))
		return 0, nil
	}

	rows, err := list(ctx, from, to)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive %s query: %w", kind, err)
	}
	if len(rows) == 0 {
		return 0, nil
	}

	buf, err := marshalJSONL(rows)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive %s marshal: %w", kind, err)
	}

	if len(buf) > multipartThreshold {
		err = a.writer.PutMultipart(ctx, path, bytes.NewReader(buf), multipartThreshold)
	} else {
		err = a.writer.Put(ctx, path, bytes.NewReader(buf), "application/x-ndjson")
	}
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive %s upload: %w", kind, err)
	}

	count := int64(len(rows))
	a.logger.InfoContext(ctx, "archived month",
		slog.String("path", path),
		slog.Int64("rows", count),
		slog.Int("bytes", len(buf)),
	)
	return count, nil
}

// monthBounds returns the UTC start of month and of the following month.
func monthBounds(t time.Time) (time.Time, time.Time) {
	t = t.UTC()
	from := time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
	return from, from.AddDate(0, 1, 0)
}

// archivePath builds the object key for a month's archive:
//
//	archive/snapshots/2024-05.jsonl
//	archive/history/2024-05.jsonl
func archivePath(kind string, month time.Time) string {
	return fmt.Sprintf("archive/%s/%s.jsonl", kind, month.Format("2006-01"))
}

// marshalJSONL encodes records as newline-delimited JSON.
func marshalJSONL[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)

	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("jsonl encode record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}

var _ domain.Archiver = (*ArchiveImpl)(nil)
