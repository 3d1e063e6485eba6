// Package search implements the paginated directory search client.
package search

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/harvestkit/facultydir/internal/harvest"
	"github.com/harvestkit/facultydir/internal/metrics"
)

// ErrRetriesExhausted signals that a page fetch failed after all backoff
// attempts. Collect returns it alongside the partial result; callers
// treat the short list as best effort, log the condition and continue.
var ErrRetriesExhausted = errors.New("search retries exhausted")

// Config controls pagination, retry and politeness behavior.
type Config struct {
	BaseURL string
	// PageSize is fixed for a client; defaults to 10.
	PageSize int
	// MaxEmptyPages terminates collection after this many consecutive
	// empty pages; defaults to 5.
	MaxEmptyPages int
	// MaxAttempts per page fetch; defaults to 3.
	MaxAttempts int
	// BackoffBase is the first retry delay; doubles each attempt
	// (1s, 2s, 4s with the default).
	BackoffBase time.Duration
	// RequestDelay is the courtesy delay between successive page
	// requests within one collection.
	RequestDelay time.Duration
	UserAgent    string
	Timeout      time.Duration
}

func (c Config) withDefaults() Config {
	if c.PageSize <= 0 {
		c.PageSize = 10
	}
	if c.MaxEmptyPages <= 0 {
		c.MaxEmptyPages = 5
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.BackoffBase <= 0 {
		c.BackoffBase = time.Second
	}
	if c.Timeout <= 0 {
		c.Timeout = 15 * time.Second
	}
	return c
}

// Client issues paginated queries against the listing endpoint.
type Client struct {
	cfg     Config
	http    *http.Client
	limiter *rate.Limiter
	logger  *zap.Logger
}

// New builds a Client. httpClient may be nil.
func New(cfg Config, httpClient *http.Client, logger *zap.Logger) *Client {
	cfg = cfg.withDefaults()
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	var limiter *rate.Limiter
	if cfg.RequestDelay > 0 {
		limiter = rate.NewLimiter(rate.Every(cfg.RequestDelay), 1)
	}
	return &Client{cfg: cfg, http: httpClient, limiter: limiter, logger: logger}
}

// wireID tolerates both numeric and string ids on the wire.
type wireID string

func (w *wireID) UnmarshalJSON(data []byte) error {
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*w = wireID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*w = wireID(n.String())
	return nil
}

type wireItem struct {
	ID          wireID `json:"id"`
	DisplayName string `json:"display_name"`
	Institution string `json:"institution"`
	Department  string `json:"department"`
	Rank        string `json:"rank"`
	DetailURI   string `json:"detail_uri"`
}

type wirePage struct {
	Items []wireItem `json:"items"`
	Total *int       `json:"total"`
}

// FetchPage retrieves one page of results. Offsets are 1-based. The query
// is sanitized before it reaches the wire.
func (c *Client) FetchPage(ctx context.Context, q harvest.Query, offset, pageSize int) (harvest.Page, error) {
	q = harvest.SanitizeQuery(q)

	endpoint, err := url.Parse(c.cfg.BaseURL)
	if err != nil {
		return harvest.Page{}, fmt.Errorf("parse base url: %w", err)
	}
	params := url.Values{}
	params.Set("keyword", q.Keyword)
	params.Set("department", q.Department)
	params.Set("institution", q.Institution)
	params.Set("offset", strconv.Itoa(offset))
	params.Set("limit", strconv.Itoa(pageSize))
	endpoint.RawQuery = params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint.String(), nil)
	if err != nil {
		return harvest.Page{}, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.cfg.UserAgent != "" {
		req.Header.Set("User-Agent", c.cfg.UserAgent)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return harvest.Page{}, harvest.TransportError(fmt.Errorf("search request: %w", err))
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode != http.StatusOK {
		return harvest.Page{}, harvest.TransportError(fmt.Errorf("search status %d", resp.StatusCode))
	}

	var wire wirePage
	if err := json.NewDecoder(resp.Body).Decode(&wire); err != nil {
		return harvest.Page{}, harvest.TransportError(fmt.Errorf("decode page: %w", err))
	}

	page := harvest.Page{Items: make([]harvest.RecordSummary, 0, len(wire.Items))}
	for _, it := range wire.Items {
		page.Items = append(page.Items, harvest.RecordSummary{
			ID:          string(it.ID),
			DisplayName: it.DisplayName,
			Institution: it.Institution,
			Department:  it.Department,
			Rank:        it.Rank,
			DetailURI:   it.DetailURI,
		})
	}
	if wire.Total != nil {
		page.TotalAvailable = *wire.Total
		page.TotalKnown = true
	}
	return page, nil
}

// Collect walks pages until maxItems summaries are gathered or the
// termination heuristics trip. Duplicate ids across pages are NOT
// deduplicated here; that responsibility belongs to the progress tracker.
func (c *Client) Collect(ctx context.Context, q harvest.Query, maxItems int) ([]harvest.RecordSummary, error) {
	if maxItems <= 0 {
		return nil, harvest.ValidationError(fmt.Errorf("maxItems must be >= 1, got %d", maxItems))
	}

	var collected []harvest.RecordSummary
	offset := 1
	emptyPages := 0

	for len(collected) < maxItems {
		if err := c.waitTurn(ctx, offset); err != nil {
			return collected, err
		}

		page, err := c.fetchPageWithRetry(ctx, q, offset)
		if err != nil {
			if errors.Is(err, ErrRetriesExhausted) {
				c.logger.Warn("search collection cut short",
					zap.Int("collected", len(collected)),
					zap.Int("offset", offset),
					zap.Error(err),
				)
				return collected, err
			}
			return collected, err
		}

		if len(page.Items) == 0 {
			emptyPages++
			if page.TotalKnown && page.TotalAvailable == 0 {
				break
			}
			if emptyPages >= c.cfg.MaxEmptyPages {
				c.logger.Debug("stopping after consecutive empty pages",
					zap.Int("empty_pages", emptyPages))
				break
			}
			offset += c.cfg.PageSize
			if page.TotalKnown && offset > page.TotalAvailable {
				break
			}
			continue
		}

		emptyPages = 0
		for _, item := range page.Items {
			collected = append(collected, item)
			if len(collected) == maxItems {
				break
			}
		}

		offset += c.cfg.PageSize
		if page.TotalKnown && offset > page.TotalAvailable {
			break
		}
	}

	if len(collected) > maxItems {
		collected = collected[:maxItems]
	}
	return collected, nil
}

// waitTurn applies the courtesy delay between page requests. The first
// page goes out immediately.
func (c *Client) waitTurn(ctx context.Context, offset int) error {
	if c.limiter == nil || offset == 1 {
		return nil
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("inter-request delay: %w", err)
	}
	return nil
}

func (c *Client) fetchPageWithRetry(ctx context.Context, q harvest.Query, offset int) (harvest.Page, error) {
	var lastErr error
	for attempt := 0; attempt < c.cfg.MaxAttempts; attempt++ {
		if attempt > 0 {
			metrics.ObserveSearchRetry()
			delay := c.cfg.BackoffBase << (attempt - 1)
			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return harvest.Page{}, ctx.Err()
			case <-timer.C:
			}
		}

		page, err := c.FetchPage(ctx, q, offset, c.cfg.PageSize)
		if err == nil {
			metrics.ObserveSearchPage(len(page.Items))
			return page, nil
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return harvest.Page{}, err
		}
		lastErr = err
		c.logger.Warn("page fetch failed",
			zap.Int("offset", offset),
			zap.Int("attempt", attempt+1),
			zap.Error(err),
		)
	}
	metrics.ObserveSearchFailure()
	return harvest.Page{}, fmt.Errorf("%w: offset %d: %w", ErrRetriesExhausted, offset, lastErr)
}
