// Package places provides a Places API (New) client with pagination,
// area tiling, rate limiting, and retry.
package places

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/placescope/placescope/internal/resilience"
)

const defaultBaseURL = "https://places.googleapis.com/v1"

// Field masks keep per-call cost down by requesting exactly the fields the
// pipeline stores.
const (
	textSearchFieldMask = "places.id,places.displayName,places.formattedAddress," +
		"places.location,places.rating,places.userRatingCount," +
		"places.nationalPhoneNumber,places.websiteUri," +
		"places.regularOpeningHours,places.addressComponents," +
		"places.types,places.businessStatus,places.priceLevel," +
		"nextPageToken"

	detailsFieldMask = "id,displayName,formattedAddress,location,rating,userRatingCount," +
		"nationalPhoneNumber,websiteUri,regularOpeningHours," +
		"addressComponents,types,businessStatus,priceLevel"
)

const (
	pageSize       = 20
	pageDelay      = 500 * time.Millisecond
	tileDelay      = 300 * time.Millisecond
	defaultRadiusM = 5000.0
)

// ProgressFunc receives tiling progress: tiles completed, total tiles, and
// unique results collected so far.
type ProgressFunc func(done, total, unique int)

// Option configures the client.
type Option func(*Client)

// WithBaseURL overrides the default API base URL.
func WithBaseURL(url string) Option {
	return func(c *Client) { c.baseURL = url }
}

// WithHTTPClient overrides the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithRateLimiter injects a shared request budget. Every caller of this
// client, concurrent or not, draws from the same limiter.
func WithRateLimiter(l *rate.Limiter) Option {
	return func(c *Client) { c.limiter = l }
}

// WithMaxRetries sets the attempt cap for transient failures.
func WithMaxRetries(n int) Option {
	return func(c *Client) { c.retry.MaxAttempts = n }
}

// Client performs text search, grid search, and details lookups against the
// places provider. Construct once at process start and share: the rate
// limiter and the details id cache live for the life of the client.
type Client struct {
	apiKey  string
	baseURL string
	http    *http.Client
	limiter *rate.Limiter
	retry   resilience.RetryConfig

	mu   sync.Mutex
	seen map[string]bool
}

// NewClient creates a places client with a 5 req/s default budget.
func NewClient(apiKey string, opts ...Option) *Client {
	c := &Client{
		apiKey:  apiKey,
		baseURL: defaultBaseURL,
		http:    &http.Client{Timeout: 30 * time.Second},
		limiter: rate.NewLimiter(5, 5),
		retry:   resilience.DefaultRetryConfig(),
		seen:    make(map[string]bool),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

type circle struct {
	Center latLng  `json:"center"`
	Radius float64 `json:"radius"`
}

type locationBias struct {
	Circle circle `json:"circle"`
}

type searchRequest struct {
	TextQuery    string        `json:"textQuery"`
	PageSize     int           `json:"pageSize"`
	LocationBias *locationBias `json:"locationBias,omitempty"`
	PageToken    string        `json:"pageToken,omitempty"`
}

type searchResponse struct {
	Places        []Record `json:"places"`
	NextPageToken string   `json:"nextPageToken"`
}

// ParseLatLng parses a "lat,lng" string.
func ParseLatLng(s string) (float64, float64, error) {
	parts := strings.SplitN(s, ",", 2)
	if len(parts) != 2 {
		return 0, 0, eris.Errorf("places: invalid location %q", s)
	}
	lat, err := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
	if err != nil {
		return 0, 0, eris.Wrapf(err, "places: invalid latitude in %q", s)
	}
	lng, err := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
	if err != nil {
		return 0, 0, eris.Wrapf(err, "places: invalid longitude in %q", s)
	}
	return lat, lng, nil
}

func (c *Client) searchPage(ctx context.Context, query, location string, radiusM float64, pageToken string) (*searchResponse, error) {
	body := searchRequest{
		TextQuery: query,
		PageSize:  pageSize,
		PageToken: pageToken,
	}

	if location != "" {
		lat, lng, err := ParseLatLng(location)
		if err != nil {
			// A bad bias degrades to an unbiased search, never a failure.
			zap.L().Warn("invalid location bias, searching without it",
				zap.String("location", location))
		} else {
			r := radiusM
			if r <= 0 {
				r = defaultRadiusM
			}
			body.LocationBias = &locationBias{Circle: circle{
				Center: latLng{Latitude: lat, Longitude: lng},
				Radius: r,
			}}
		}
	}

	return resilience.Do(ctx, c.retry, "text search", func(ctx context.Context) (*searchResponse, error) {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, eris.Wrap(err, "places: rate limiter")
		}

		payload, err := json.Marshal(body)
		if err != nil {
			return nil, eris.Wrap(err, "places: marshal request")
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/places:searchText", bytes.NewReader(payload))
		if err != nil {
			return nil, eris.Wrap(err, "places: create request")
		}
		c.setHeaders(req, textSearchFieldMask)

		resp, err := c.http.Do(req)
		if err != nil {
			return nil, eris.Wrap(err, "places: send request")
		}
		defer resp.Body.Close() //nolint:errcheck

		respBody, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, eris.Wrap(err, "places: read response")
		}

		if resp.StatusCode != http.StatusOK {
			return nil, statusError("text search", resp.StatusCode, respBody)
		}

		var result searchResponse
		if err := json.Unmarshal(respBody, &result); err != nil {
			return nil, eris.Wrap(err, "places: unmarshal response")
		}
		return &result, nil
	})
}

// TextSearch runs a paginated text search. location is an optional "lat,lng"
// bias with radius in meters. The page loop stops when the provider stops
// returning a continuation token or maxPages is reached.
func (c *Client) TextSearch(ctx context.Context, query, location string, radiusM float64, maxPages int) ([]Record, error) {
	if maxPages <= 0 {
		maxPages = 3
	}

	var all []Record
	pageToken := ""

	for page := 0; page < maxPages; page++ {
		data, err := c.searchPage(ctx, query, location, radiusM, pageToken)
		if err != nil {
			return nil, err
		}
		all = append(all, data.Places...)
		zap.L().Info("search page complete",
			zap.String("query", query),
			zap.Int("page", page+1),
			zap.Int("results", len(data.Places)),
			zap.Int("total", len(all)),
		)

		pageToken = data.NextPageToken
		if pageToken == "" {
			break
		}

		// Politeness delay between pages.
		select {
		case <-ctx.Done():
			return all, ctx.Err()
		case <-time.After(pageDelay):
		}
	}

	return all, nil
}

// GridSearch tiles a circular area into overlapping sub-searches to get past
// the provider's per-query result cap, deduplicating by external id as tiles
// complete. A failed tile is logged and skipped. onProgress, when non-nil,
// runs after every tile; panics in the callback are swallowed.
func (c *Client) GridSearch(ctx context.Context, query string, centerLat, centerLng, radiusKm float64, maxPages int, onProgress ProgressFunc) ([]Record, error) {
	centers, cellRadiusKm := tileCenters(centerLat, centerLng, radiusKm)

	zap.L().Info("grid search",
		zap.String("query", query),
		zap.Int("tiles", len(centers)),
		zap.Float64("cell_radius_km", cellRadiusKm),
		zap.Float64("area_radius_km", radiusKm),
	)

	// Inflate each tile's radius 30% so adjacent tiles overlap.
	cellRadiusM := cellRadiusKm * 1000 * 1.3

	seen := make(map[string]bool)
	var all []Record

	for i, center := range centers {
		location := fmt.Sprintf("%f,%f", center.Latitude, center.Longitude)

		results, err := c.TextSearch(ctx, query, location, cellRadiusM, maxPages)
		if err != nil {
			if ctx.Err() != nil {
				return all, ctx.Err()
			}
			zap.L().Error("grid tile failed",
				zap.Int("tile", i+1),
				zap.Int("total", len(centers)),
				zap.Error(err),
			)
		}

		newCount := 0
		for _, rec := range results {
			if rec.ID != "" && !seen[rec.ID] {
				seen[rec.ID] = true
				all = append(all, rec)
				newCount++
			}
		}
		zap.L().Info("grid tile complete",
			zap.Int("tile", i+1),
			zap.Int("total", len(centers)),
			zap.Int("raw", len(results)),
			zap.Int("new", newCount),
			zap.Int("unique", len(all)),
		)

		reportProgress(onProgress, i+1, len(centers), len(all))

		select {
		case <-ctx.Done():
			return all, ctx.Err()
		case <-time.After(tileDelay):
		}
	}

	zap.L().Info("grid search complete", zap.Int("unique", len(all)))
	return all, nil
}

func reportProgress(fn ProgressFunc, done, total, unique int) {
	if fn == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			zap.L().Warn("progress callback panicked", zap.Any("panic", r))
		}
	}()
	fn(done, total, unique)
}

// GetPlaceDetails fetches full field data for one external id. Ids already
// fetched by this client short-circuit to an empty record so a single run
// never pays for the same details twice.
func (c *Client) GetPlaceDetails(ctx context.Context, externalID string) (*Record, error) {
	c.mu.Lock()
	hit := c.seen[externalID]
	c.mu.Unlock()
	if hit {
		zap.L().Debug("details cache hit", zap.String("external_id", externalID))
		return &Record{}, nil
	}

	rec, err := resilience.Do(ctx, c.retry, "place details", func(ctx context.Context) (*Record, error) {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, eris.Wrap(err, "places: rate limiter")
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/places/"+externalID, nil)
		if err != nil {
			return nil, eris.Wrap(err, "places: create details request")
		}
		c.setHeaders(req, detailsFieldMask)

		resp, err := c.http.Do(req)
		if err != nil {
			return nil, eris.Wrap(err, "places: send details request")
		}
		defer resp.Body.Close() //nolint:errcheck

		respBody, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, eris.Wrap(err, "places: read details response")
		}

		if resp.StatusCode != http.StatusOK {
			return nil, statusError("place details", resp.StatusCode, respBody)
		}

		var result Record
		if err := json.Unmarshal(respBody, &result); err != nil {
			return nil, eris.Wrap(err, "places: unmarshal details")
		}
		return &result, nil
	})
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.seen[externalID] = true
	c.mu.Unlock()

	return rec, nil
}

func (c *Client) setHeaders(req *http.Request, fieldMask string) {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Goog-Api-Key", c.apiKey)
	req.Header.Set("X-Goog-FieldMask", fieldMask)
}

// statusError classifies an HTTP failure: retryable server-side statuses are
// marked transient, everything else is permanent and propagates immediately.
func statusError(op string, status int, body []byte) error {
	err := eris.Errorf("places: %s: unexpected status %d: %s", op, status, string(body))
	if resilience.IsRetryableStatus(status) {
		return resilience.NewTransientError(err)
	}
	return resilience.NewPermanentError(err, status)
}
