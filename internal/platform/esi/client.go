// Package esi is the REST client for the EVE Swagger Interface market and
// universe endpoints. Failures are classified as transient or permanent so
// the pipeline can skip a single unit of work without aborting the run.
package esi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"
	"golang.org/x/sync/semaphore"

	"github.com/alanyoungcy/evemarket/internal/domain"
)

// DefaultBaseURL is the public ESI root.
const DefaultBaseURL = "https://esi.evetech.net/latest"

// rateLimitKey is the limiter bucket shared by every process talking to ESI.
const rateLimitKey = "esi"

// Config configures the client.
type Config struct {
	BaseURL        string
	UserAgent      string
	Timeout        time.Duration
	MaxConcurrency int
	RetryCount     int
	RetryWait      time.Duration
	CatalogLimit   int
	// Limiter, when set, throttles every request through a shared window.
	// A limiter that errors is bypassed with a warning.
	Limiter domain.RateLimiter
	Logger  *slog.Logger
}

// Client fetches order books, history, and catalog metadata from ESI.
type Client struct {
	http         *resty.Client
	sem          *semaphore.Weighted
	limiter      domain.RateLimiter
	catalogLimit int
	logger       *slog.Logger
}

// NewClient creates a Client. Total in-flight requests never exceed
// cfg.MaxConcurrency (minimum 1).
func NewClient(cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.MaxConcurrency < 1 {
		cfg.MaxConcurrency = 1
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	hc := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(cfg.Timeout).
		SetHeader("Accept", "application/json").
		SetRetryCount(cfg.RetryCount).
		SetRetryWaitTime(cfg.RetryWait).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			if err != nil {
				return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
			}
			return r.StatusCode() >= http.StatusInternalServerError
		})
	if cfg.UserAgent != "" {
		hc.SetHeader("User-Agent", cfg.UserAgent)
	}

	return &Client{
		http:         hc,
		sem:          semaphore.NewWeighted(int64(cfg.MaxConcurrency)),
		limiter:      cfg.Limiter,
		catalogLimit: cfg.CatalogLimit,
		logger:       cfg.Logger.With(slog.String("component", "esi")),
	}
}

// FetchOrderBook returns every resting order for typeID in regionID,
// following pagination.
func (c *Client) FetchOrderBook(ctx context.Context, regionID, typeID int64) ([]domain.OrderRecord, error) {
	path := fmt.Sprintf("/markets/%d/orders/", regionID)
	params := map[string]string{
		"type_id":    strconv.FormatInt(typeID, 10),
		"order_type": "all",
	}

	var orders []domain.OrderRecord
	for page, pages := 1, 1; page <= pages; page++ {
		params["page"] = strconv.Itoa(page)
		body, total, err := c.doGet(ctx, path, params)
		if err != nil {
			return nil, fmt.Errorf("esi: orders region=%d type=%d: %w", regionID, typeID, err)
		}
		pages = total

		var apiOrders []APIOrder
		if err := json.Unmarshal(body, &apiOrders); err != nil {
			return nil, fmt.Errorf("esi: decode orders: %w: %w", domain.ErrTransientSource, err)
		}
		for i := range apiOrders {
			orders = append(orders, apiOrders[i].ToDomain())
		}
	}
	return orders, nil
}

// FetchHistory returns the daily aggregates ESI holds for typeID in regionID,
// oldest first.
func (c *Client) FetchHistory(ctx context.Context, regionID, typeID int64) ([]domain.DailyAggregate, error) {
	path := fmt.Sprintf("/markets/%d/history/", regionID)
	body, _, err := c.doGet(ctx, path, map[string]string{
		"type_id": strconv.FormatInt(typeID, 10),
	})
	if err != nil {
		return nil, fmt.Errorf("esi: history region=%d type=%d: %w", regionID, typeID, err)
	}

	var apiHistory []APIHistory
	if err := json.Unmarshal(body, &apiHistory); err != nil {
		return nil, fmt.Errorf("esi: decode history: %w: %w", domain.ErrTransientSource, err)
	}

	out := make([]domain.DailyAggregate, 0, len(apiHistory))
	for _, h := range apiHistory {
		agg, err := h.ToDomain()
		if err != nil {
			return nil, fmt.Errorf("esi: history region=%d type=%d: %w: %w", regionID, typeID, domain.ErrPermanentSource, err)
		}
		out = append(out, agg)
	}
	return out, nil
}

// FetchCatalogIDs returns known type ids in the order ESI lists them, capped
// at the configured catalog limit when it is positive.
func (c *Client) FetchCatalogIDs(ctx context.Context) ([]int64, error) {
	var ids []int64
	for page, pages := 1, 1; page <= pages; page++ {
		body, total, err := c.doGet(ctx, "/universe/types/", map[string]string{
			"page": strconv.Itoa(page),
		})
		if err != nil {
			return nil, fmt.Errorf("esi: catalog ids page %d: %w", page, err)
		}
		pages = total

		var chunk []int64
		if err := json.Unmarshal(body, &chunk); err != nil {
			return nil, fmt.Errorf("esi: decode catalog ids: %w: %w", domain.ErrTransientSource, err)
		}
		ids = append(ids, chunk...)

		if c.catalogLimit > 0 && len(ids) >= c.catalogLimit {
			return ids[:c.catalogLimit], nil
		}
	}
	return ids, nil
}

// FetchItemDetail returns the universe metadata for typeID. An unknown type
// yields an error wrapping both domain.ErrPermanentSource and
// domain.ErrNotFound.
func (c *Client) FetchItemDetail(ctx context.Context, typeID int64) (domain.ItemDetail, error) {
	body, _, err := c.doGet(ctx, fmt.Sprintf("/universe/types/%d/", typeID), nil)
	if err != nil {
		return domain.ItemDetail{}, fmt.Errorf("esi: item detail %d: %w", typeID, err)
	}

	var t APIType
	if err := json.Unmarshal(body, &t); err != nil {
		return domain.ItemDetail{}, fmt.Errorf("esi: decode item detail: %w: %w", domain.ErrTransientSource, err)
	}
	if t.TypeID == 0 {
		t.TypeID = typeID
	}
	return t.ToDomain(), nil
}

// doGet performs one throttled GET and returns the body together with the
// X-Pages count (1 when absent).
func (c *Client) doGet(ctx context.Context, path string, params map[string]string) ([]byte, int, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx, rateLimitKey); err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, 0, ctxErr
			}
			// Fail open. The semaphore still caps in-flight requests.
			c.logger.WarnContext(ctx, "esi rate limiter unavailable, proceeding",
				slog.String("error", err.Error()))
		}
	}

	if err := c.sem.Acquire(ctx, 1); err != nil {
		return nil, 0, err
	}
	defer c.sem.Release(1)

	req := c.http.R().SetContext(ctx)
	if len(params) > 0 {
		req.SetQueryParams(params)
	}

	resp, err := req.Get(path)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, 0, ctxErr
		}
		return nil, 0, fmt.Errorf("%w: http request: %w", domain.ErrTransientSource, err)
	}

	if err := checkHTTPStatus(resp.StatusCode(), resp.Body()); err != nil {
		return nil, 0, err
	}

	pages := 1
	if v := resp.Header().Get("X-Pages"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			pages = n
		}
	}
	return resp.Body(), pages, nil
}

// checkHTTPStatus maps a non-2xx response to a classified error. Only a
// 404 is permanent.
func checkHTTPStatus(statusCode int, body []byte) error {
	if statusCode >= 200 && statusCode < 300 {
		return nil
	}

	msg := string(body)
	var apiErr APIError
	if json.Unmarshal(body, &apiErr) == nil && apiErr.Error != "" {
		msg = apiErr.Error
	}

	switch statusCode {
	case http.StatusNotFound:
		return fmt.Errorf("%w: %w: %s", domain.ErrPermanentSource, domain.ErrNotFound, msg)
	case http.StatusTooManyRequests, 420: // 420 is ESI's error-limit status
		return fmt.Errorf("%w: %w: HTTP %d: %s", domain.ErrTransientSource, domain.ErrRateLimited, statusCode, msg)
	default:
		return fmt.Errorf("%w: HTTP %d: %s", domain.ErrTransientSource, statusCode, msg)
	}
}
