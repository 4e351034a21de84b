package service

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/evemarket/internal/domain"
	"github.com/alanyoungcy/evemarket/internal/store/memory"
)

type mockDetailSource struct{ mock.Mock }

func (m *mockDetailSource) FetchItemDetail(ctx context.Context, typeID int64) (domain.ItemDetail, error) {
	args := m.Called(ctx, typeID)
	return args.Get(0).(domain.ItemDetail), args.Error(1)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestEnsureRegions_Idempotent(t *testing.T) {
	ctx := context.Background()
	st := memory.New()
	svc := NewCatalogService(st.Items(), st.Regions(), new(mockDetailSource), 0, discardLogger())
	seed := []domain.Region{{RegionID: 10000002, Name: "The Forge"}, {RegionID: 10000043, Name: "Domain"}}

	require.NoError(t, svc.EnsureRegions(ctx, seed))
	require.NoError(t, svc.EnsureRegions(ctx, seed))

	regions, err := st.Regions().List(ctx)
	require.NoError(t, err)
	require.Len(t, regions, 2)
	assert.False(t, regions[0].CreatedAt.IsZero())
}

func TestEnsureItem_FetchesOnlyUnknownItems(t *testing.T) {
	ctx := context.Background()
	st := memory.New()
	src := new(mockDetailSource)
	src.On("FetchItemDetail", mock.Anything, int64(34)).
		Return(domain.ItemDetail{TypeID: 34, Name: "Tritanium", Published: true}, nil).Once()
	svc := NewCatalogService(st.Items(), st.Regions(), src, 0, discardLogger())

	created, err := svc.EnsureItem(ctx, 34)
	require.NoError(t, err)
	assert.True(t, created)

	created, err = svc.EnsureItem(ctx, 34)
	require.NoError(t, err)
	assert.False(t, created)

	item, err := st.Items().Get(ctx, 34)
	require.NoError(t, err)
	assert.Equal(t, "Tritanium", item.Name)
	src.AssertExpectations(t)
}

func TestEnsureItem_NamelessDetailGetsPlaceholder(t *testing.T) {
	ctx := context.Background()
	st := memory.New()
	src := new(mockDetailSource)
	src.On("FetchItemDetail", mock.Anything, int64(77)).Return(domain.ItemDetail{TypeID: 77}, nil)
	svc := NewCatalogService(st.Items(), st.Regions(), src, 0, discardLogger())

	_, err := svc.EnsureItem(ctx, 77)
	require.NoError(t, err)
	item, err := st.Items().Get(ctx, 77)
	require.NoError(t, err)
	assert.Equal(t, "Unknown Item 77", item.Name)
}

func TestEnsureItem_RefreshesStaleItems(t *testing.T) {
	ctx := context.Background()
	st := memory.New()
	old := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	_, err := st.Items().InsertIfAbsent(ctx, domain.Item{TypeID: 34, Name: "Tritanium", CreatedAt: old, UpdatedAt: old})
	require.NoError(t, err)

	src := new(mockDetailSource)
	src.On("FetchItemDetail", mock.Anything, int64(34)).
		Return(domain.ItemDetail{TypeID: 34, Name: "Tritanium II"}, nil).Once()
	svc := NewCatalogService(st.Items(), st.Regions(), src, 24*time.Hour, discardLogger())
	svc.now = func() time.Time { return old.AddDate(0, 0, 2) }

	created, err := svc.EnsureItem(ctx, 34)
	require.NoError(t, err)
	assert.False(t, created)

	item, err := st.Items().Get(ctx, 34)
	require.NoError(t, err)
	assert.Equal(t, "Tritanium II", item.Name)
	assert.Equal(t, old, item.CreatedAt)

	// Fresh now; no second fetch.
	_, err = svc.EnsureItem(ctx, 34)
	require.NoError(t, err)
	src.AssertExpectations(t)
}

func TestSyncCatalog_CountsSourceFailures(t *testing.T) {
	ctx := context.Background()
	st := memory.New()
	src := new(mockDetailSource)
	src.On("FetchItemDetail", mock.Anything, int64(34)).Return(domain.ItemDetail{Name: "Tritanium"}, nil)
	src.On("FetchItemDetail", mock.Anything, int64(35)).
		Return(domain.ItemDetail{}, fmt.Errorf("esi: %w", domain.ErrTransientSource))
	src.On("FetchItemDetail", mock.Anything, int64(36)).
		Return(domain.ItemDetail{}, fmt.Errorf("esi: %w: %w", domain.ErrPermanentSource, domain.ErrNotFound))
	svc := NewCatalogService(st.Items(), st.Regions(), src, 0, discardLogger())

	res, err := svc.SyncCatalog(ctx, []int64{34, 35, 36})
	require.NoError(t, err)
	assert.Equal(t, SyncResult{Added: 1, Failed: 2}, res)

	// Failed items are skipped, not stored under a placeholder name.
	for _, id := range []int64{35, 36} {
		ok, err := st.Items().Exists(ctx, id)
		require.NoError(t, err)
		assert.False(t, ok, "type %d", id)
	}
}

func TestSyncCatalog_StopsOnCancellation(t *testing.T) {
	st := memory.New()
	svc := NewCatalogService(st.Items(), st.Regions(), new(mockDetailSource), 0, discardLogger())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := svc.SyncCatalog(ctx, []int64{34})
	assert.ErrorIs(t, err, context.Canceled)
}
