package arbitrage

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/evemarket/internal/domain"
)

type mockSource struct{ mock.Mock }

func (m *mockSource) LatestSnapshots(ctx context.Context) ([]domain.Snapshot, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.Snapshot), args.Error(1)
}

type mockAlerter struct{ mock.Mock }

func (m *mockAlerter) Notify(ctx context.Context, event, title, message string) error {
	args := m.Called(ctx, event, title, message)
	return args.Error(0)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestDetectorScan_AlertsTopOpportunities(t *testing.T) {
	ctx := context.Background()
	src := new(mockSource)
	alerter := new(mockAlerter)

	src.On("LatestSnapshots", ctx).Return([]domain.Snapshot{
		snap(34, 1, side(100, 10), nil),
		snap(34, 2, nil, side(40, 20)),
	}, nil)
	alerter.On("Notify", ctx, "arb_detected", mock.Anything, mock.MatchedBy(func(msg string) bool {
		return assert.Contains(t, msg, "type 34") && assert.Contains(t, msg, "profit 60.00")
	})).Return(nil)

	d := NewDetector(DetectorConfig{
		Source:    src,
		Alerter:   alerter,
		MinProfit: 50,
		Top:       5,
		Logger:    discardLogger(),
	})

	opps, err := d.Scan(ctx)
	require.NoError(t, err)
	require.Len(t, opps, 1)
	src.AssertExpectations(t)
	alerter.AssertExpectations(t)
}

func TestDetectorScan_NoOpportunitiesNoAlert(t *testing.T) {
	ctx := context.Background()
	src := new(mockSource)
	alerter := new(mockAlerter)
	src.On("LatestSnapshots", ctx).Return([]domain.Snapshot{}, nil)

	d := NewDetector(DetectorConfig{Source: src, Alerter: alerter, MinProfit: 1, Logger: discardLogger()})
	opps, err := d.Scan(ctx)
	require.NoError(t, err)
	assert.Empty(t, opps)
	alerter.AssertNotCalled(t, "Notify", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestDetectorScan_SourceError(t *testing.T) {
	ctx := context.Background()
	src := new(mockSource)
	src.On("LatestSnapshots", ctx).Return(nil, domain.ErrStoreUnavailable)

	d := NewDetector(DetectorConfig{Source: src, Logger: discardLogger()})
	_, err := d.Scan(ctx)
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrStoreUnavailable))
}

func TestFormatOpportunities_UsesNames(t *testing.T) {
	msg := FormatOpportunities([]domain.Opportunity{{
		TypeID:         34,
		ItemName:       "Tritanium",
		BuyRegionID:    10000002,
		BuyRegionName:  "The Forge (Jita)",
		SellRegionID:   10000043,
		SellRegionName: "Domain (Amarr)",
		BuyPrice:       6,
		SellPrice:      4,
		Profit:         2,
		ProfitMargin:   50,
	}})
	assert.Equal(t, "1. Tritanium: buy in Domain (Amarr) at 4.00, sell in The Forge (Jita) at 6.00, profit 2.00 (50.0%)", msg)
}
