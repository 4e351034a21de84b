package s3blob

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/evemarket/internal/domain"
	"github.com/alanyoungcy/evemarket/internal/store/memory"
)

// fakeBucket is an in-memory BlobWriter and BlobReader.
type fakeBucket struct {
	mu      sync.Mutex
	objects map[string][]byte
	putErr  error
}

func newFakeBucket() *fakeBucket {
	return &fakeBucket{objects: make(map[string][]byte)}
}

func (b *fakeBucket) Put(_ context.Context, path string, data io.Reader, _ string) error {
	if b.putErr != nil {
		return b.putErr
	}
	raw, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.objects[path] = raw
	return nil
}

func (b *fakeBucket) PutMultipart(ctx context.Context, path string, data io.Reader, _ int64) error {
	return b.Put(ctx, path, data, "")
}

func (b *fakeBucket) Exists(_ context.Context, path string) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.objects[path]
	return ok, nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func seed(t *testing.T) *memory.Store {
	t.Helper()
	ctx := context.Background()
	s := memory.New()
	times := []time.Time{
		time.Date(2024, 4, 30, 23, 59, 0, 0, time.UTC),
		time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2024, 5, 31, 23, 0, 0, 0, time.UTC),
		time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC),
	}
	for _, ts := range times {
		_, err := s.Snapshots().Append(ctx, domain.Snapshot{TypeID: 34, RegionID: 1, CapturedAt: ts})
		require.NoError(t, err)
		_, err = s.History().Insert(ctx, domain.HistoryPoint{TypeID: 34, RegionID: 1, Date: domain.TruncateDay(ts)})
		require.NoError(t, err)
	}
	return s
}

func TestArchiveSnapshots_ExportsOneMonth(t *testing.T) {
	ctx := context.Background()
	s := seed(t)
	bucket := newFakeBucket()
	a := NewArchiver(bucket, bucket, s.Snapshots(), s.History(), discardLogger())

	n, err := a.ArchiveSnapshots(ctx, time.Date(2024, 5, 17, 12, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	raw, ok := bucket.objects["archive/snapshots/2024-05.jsonl"]
	require.True(t, ok)

	var lines int
	sc := bufio.NewScanner(bytes.NewReader(raw))
	for sc.Scan() {
		var snap domain.Snapshot
		require.NoError(t, json.Unmarshal(sc.Bytes(), &snap))
		assert.Equal(t, time.May, snap.CapturedAt.Month())
		lines++
	}
	assert.Equal(t, 2, lines)
	assert.Equal(t, 4, s.Snapshots().Len(), "archiving never removes rows")
}

func TestArchiveHistory_SkipsExistingMonth(t *testing.T) {
	ctx := context.Background()
	s := seed(t)
	bucket := newFakeBucket()
	a := NewArchiver(bucket, bucket, s.Snapshots(), s.History(), discardLogger())
	may := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)

	n, err := a.ArchiveHistory(ctx, may)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	n, err = a.ArchiveHistory(ctx, may)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestArchive_EmptyMonthWritesNothing(t *testing.T) {
	s := seed(t)
	bucket := newFakeBucket()
	a := NewArchiver(bucket, bucket, s.Snapshots(), s.History(), discardLogger())

	n, err := a.ArchiveSnapshots(context.Background(), time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Empty(t, bucket.objects)
}

func TestArchive_UploadFailure(t *testing.T) {
	s := seed(t)
	bucket := newFakeBucket()
	bucket.putErr = errors.New("bucket gone")
	a := NewArchiver(bucket, bucket, s.Snapshots(), s.History(), discardLogger())

	_, err := a.ArchiveSnapshots(context.Background(), time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bucket gone")
}

func TestNormaliseEndpoint(t *testing.T) {
	assert.Equal(t, "https://s3.example.com", normaliseEndpoint("s3.example.com", true))
	assert.Equal(t, "http://localhost:9000", normaliseEndpoint("localhost:9000", false))
	assert.Equal(t, "http://minio:9000", normaliseEndpoint("http://minio:9000", true))
}
