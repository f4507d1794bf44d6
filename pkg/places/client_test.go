package places

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/placescope/placescope/internal/resilience"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

func newTestClient(baseURL string) *Client {
	return NewClient("test-key",
		WithBaseURL(baseURL),
		WithRateLimiter(rate.NewLimiter(rate.Inf, 1)),
	)
}

func TestParseLatLng(t *testing.T) {
	lat, lng, err := ParseLatLng("25.2048, 55.2708")
	require.NoError(t, err)
	assert.Equal(t, 25.2048, lat)
	assert.Equal(t, 55.2708, lng)

	_, _, err = ParseLatLng("Downtown Dubai")
	assert.Error(t, err)

	_, _, err = ParseLatLng("25.2048")
	assert.Error(t, err)

	_, _, err = ParseLatLng("25.2048,east")
	assert.Error(t, err)
}

func TestTextSearchPaginates(t *testing.T) {
	var pages atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/places:searchText", r.URL.Path)
		assert.Equal(t, "test-key", r.Header.Get("X-Goog-Api-Key"))
		assert.Contains(t, r.Header.Get("X-Goog-FieldMask"), "nextPageToken")

		var req searchRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "coffee shop", req.TextQuery)
		assert.Equal(t, pageSize, req.PageSize)

		resp := searchResponse{}
		switch pages.Add(1) {
		case 1:
			assert.Empty(t, req.PageToken)
			resp.Places = []Record{{ID: "a"}, {ID: "b"}}
			resp.NextPageToken = "page-2"
		default:
			assert.Equal(t, "page-2", req.PageToken)
			resp.Places = []Record{{ID: "c"}}
		}
		json.NewEncoder(w).Encode(resp)
	}))
	defer srv.Close()

	c := newTestClient(srv.URL)
	results, err := c.TextSearch(context.Background(), "coffee shop", "", 0, 5)
	require.NoError(t, err)
	assert.Len(t, results, 3)
	assert.Equal(t, int32(2), pages.Load())
}

func TestTextSearchStopsAtMaxPages(t *testing.T) {
	var pages atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		pages.Add(1)
		json.NewEncoder(w).Encode(searchResponse{
			Places:        []Record{{ID: "x"}},
			NextPageToken: "more",
		})
	}))
	defer srv.Close()

	c := newTestClient(srv.URL)
	results, err := c.TextSearch(context.Background(), "coffee", "", 0, 1)
	require.NoError(t, err)
	assert.Len(t, results, 1)
	assert.Equal(t, int32(1), pages.Load())
}

func TestTextSearchLocationBias(t *testing.T) {
	var got searchRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = searchRequest{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		json.NewEncoder(w).Encode(searchResponse{})
	}))
	defer srv.Close()

	c := newTestClient(srv.URL)

	_, err := c.TextSearch(context.Background(), "coffee", "25.2,55.3", 3000, 1)
	require.NoError(t, err)
	require.NotNil(t, got.LocationBias)
	assert.Equal(t, 25.2, got.LocationBias.Circle.Center.Latitude)
	assert.Equal(t, 55.3, got.LocationBias.Circle.Center.Longitude)
	assert.Equal(t, 3000.0, got.LocationBias.Circle.Radius)

	// A non-coordinate location degrades to an unbiased search.
	_, err = c.TextSearch(context.Background(), "coffee", "Dubai Marina", 0, 1)
	require.NoError(t, err)
	assert.Nil(t, got.LocationBias)
}

func TestTextSearchPermanentStatusFailsWithoutRetry(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, `{"error":"bad field mask"}`, http.StatusBadRequest)
	}))
	defer srv.Close()

	c := newTestClient(srv.URL)
	_, err := c.TextSearch(context.Background(), "coffee", "", 0, 1)
	require.Error(t, err)
	assert.False(t, resilience.IsRetryable(err))
	assert.Equal(t, int32(1), calls.Load())
}

func TestGridSearchDeduplicates(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(searchResponse{
			Places: []Record{{ID: "dup"}, {ID: "dup"}, {ID: "solo"}},
		})
	}))
	defer srv.Close()

	c := newTestClient(srv.URL)
	var progress [][3]int
	results, err := c.GridSearch(context.Background(), "coffee", 25.2, 55.3, 1.0, 1,
		func(done, total, unique int) {
			progress = append(progress, [3]int{done, total, unique})
		})
	require.NoError(t, err)

	// A 1 km radius fits in a single tile.
	assert.Len(t, results, 2)
	require.Len(t, progress, 1)
	assert.Equal(t, [3]int{1, 1, 2}, progress[0])
}

func TestGridSearchInflatesTileRadius(t *testing.T) {
	var mu sync.Mutex
	var radii []float64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req searchRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.NotNil(t, req.LocationBias)
		mu.Lock()
		radii = append(radii, req.LocationBias.Circle.Radius)
		mu.Unlock()
		json.NewEncoder(w).Encode(searchResponse{})
	}))
	defer srv.Close()

	c := newTestClient(srv.URL)
	_, err := c.GridSearch(context.Background(), "coffee", 25.2, 55.3, 4.0, 1, nil)
	require.NoError(t, err)

	// A 4 km radius tiles into 2 km cells; each tile searches with its
	// radius inflated 30% so adjacent tiles overlap.
	require.Len(t, radii, 4)
	for _, r := range radii {
		assert.InDelta(t, 2600.0, r, 1e-9)
	}
}

func TestGridSearchSwallowsProgressPanic(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(searchResponse{Places: []Record{{ID: "p"}}})
	}))
	defer srv.Close()

	c := newTestClient(srv.URL)
	results, err := c.GridSearch(context.Background(), "coffee", 25.2, 55.3, 1.0, 1,
		func(done, total, unique int) { panic("listener gone") })
	require.NoError(t, err)
	assert.Len(t, results, 1)
}

func TestGetPlaceDetailsCachesIDs(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		assert.Equal(t, "/places/abc123", r.URL.Path)
		json.NewEncoder(w).Encode(Record{
			ID:          "abc123",
			DisplayName: DisplayName{Text: "Corner Cafe"},
		})
	}))
	defer srv.Close()

	c := newTestClient(srv.URL)

	rec, err := c.GetPlaceDetails(context.Background(), "abc123")
	require.NoError(t, err)
	assert.Equal(t, "Corner Cafe", rec.DisplayName.Text)
	assert.False(t, rec.IsZero())

	// Second lookup short-circuits to an empty record.
	rec, err = c.GetPlaceDetails(context.Background(), "abc123")
	require.NoError(t, err)
	assert.True(t, rec.IsZero())
	assert.Equal(t, int32(1), calls.Load())
}

func TestGetPlaceDetailsDoesNotCacheFailures(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "nope", http.StatusNotFound)
	}))
	defer srv.Close()

	c := newTestClient(srv.URL)

	_, err := c.GetPlaceDetails(context.Background(), "gone")
	require.Error(t, err)

	_, err = c.GetPlaceDetails(context.Background(), "gone")
	require.Error(t, err)
	assert.Equal(t, int32(2), calls.Load())
}
