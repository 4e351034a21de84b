package arbitrage

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/alanyoungcy/evemarket/internal/domain"
)

// LatestSource supplies the latest snapshot of every (item, region) pair.
type LatestSource interface {
	LatestSnapshots(ctx context.Context) ([]domain.Snapshot, error)
}

// Namer resolves display names for items and regions.
type Namer interface {
	Enrich(ctx context.Context, opps []domain.Opportunity) ([]domain.Opportunity, error)
}

// Alerter delivers a titled message for an event type.
type Alerter interface {
	Notify(ctx context.Context, event, title, message string) error
}

// Detector scans the latest snapshots after each pipeline run and alerts on
// the most profitable opportunities.
type Detector struct {
	source    LatestSource
	namer     Namer
	alerter   Alerter
	minProfit float64
	top       int
	logger    *slog.Logger
}

// DetectorConfig configures the detector.
type DetectorConfig struct {
	Source    LatestSource
	Namer     Namer
	Alerter   Alerter
	MinProfit float64
	Top       int
	Logger    *slog.Logger
}

// NewDetector creates a detector. Namer and Alerter may be nil.
func NewDetector(cfg DetectorConfig) *Detector {
	return &Detector{
		source:    cfg.Source,
		namer:     cfg.Namer,
		alerter:   cfg.Alerter,
		minProfit: cfg.MinProfit,
		top:       cfg.Top,
		logger:    cfg.Logger.With(slog.String("component", "arb_detector")),
	}
}

// Scan runs one detection pass and returns the opportunities it alerted on.
func (d *Detector) Scan(ctx context.Context) ([]domain.Opportunity, error) {
	latest, err := d.source.LatestSnapshots(ctx)
	if err != nil {
		return nil, fmt.Errorf("arb detector: load latest snapshots: %w", err)
	}

	opps := FindOpportunities(latest, d.minProfit, d.top)
	d.logger.InfoContext(ctx, "arb scan complete",
		slog.Int("snapshots", len(latest)),
		slog.Int("opportunities", len(opps)),
		slog.Float64("min_profit", d.minProfit),
	)
	if len(opps) == 0 {
		return nil, nil
	}

	if d.namer != nil {
		named, err := d.namer.Enrich(ctx, opps)
		if err != nil {
			d.logger.WarnContext(ctx, "arb detector: enrich failed", slog.String("error", err.Error()))
		} else {
			opps = named
		}
	}

	if d.alerter != nil {
		if err := d.alerter.Notify(ctx, "arb_detected", "Arbitrage opportunities", FormatOpportunities(opps)); err != nil {
			d.logger.WarnContext(ctx, "arb detector: notify failed", slog.String("error", err.Error()))
		}
	}
	return opps, nil
}

// FormatOpportunities renders one line per opportunity for chat delivery.
func FormatOpportunities(opps []domain.Opportunity) string {
	var b strings.Builder
	for i, o := range opps {
		item := o.ItemName
		if item == "" {
			item = fmt.Sprintf("type %d", o.TypeID)
		}
		from := regionLabel(o.SellRegionName, o.SellRegionID)
		to := regionLabel(o.BuyRegionName, o.BuyRegionID)
		fmt.Fprintf(&b, "%d. %s: buy in %s at %.2f, sell in %s at %.2f, profit %.2f (%.1f%%)\n",
			i+1, item, from, o.SellPrice, to, o.BuyPrice, o.Profit, o.ProfitMargin)
	}
	return strings.TrimRight(b.String(), "\n")
}

func regionLabel(name string, id int64) string {
	if name != "" {
		return name
	}
	return fmt.Sprintf("region %d", id)
}
