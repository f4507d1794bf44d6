package scoring

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/placescope/placescope/internal/model"
	"github.com/placescope/placescope/internal/store"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

func ptr[T any](v T) *T { return &v }

func TestWeightsSumToOne(t *testing.T) {
	sum := WeightDemand + WeightCompetition + WeightAccessibility + WeightRating
	assert.InDelta(t, 1.0, sum, 1e-9)
}

func TestDemandScore(t *testing.T) {
	assert.Equal(t, 0.0, DemandScore(&model.Place{}))
	assert.Equal(t, 0.0, DemandScore(&model.Place{UserRatingsTotal: ptr(0)}))

	// log10(10000) = 4 caps the scale.
	assert.InDelta(t, 1.0, DemandScore(&model.Place{UserRatingsTotal: ptr(20000)}), 1e-9)

	low := DemandScore(&model.Place{UserRatingsTotal: ptr(10)})
	mid := DemandScore(&model.Place{UserRatingsTotal: ptr(100)})
	high := DemandScore(&model.Place{UserRatingsTotal: ptr(1000)})
	assert.Less(t, low, mid)
	assert.Less(t, mid, high)
	assert.InDelta(t, math.Round(math.Log10(101)/4*10000)/10000, mid, 1e-9)
}

func TestRatingScore(t *testing.T) {
	assert.Equal(t, 0.0, RatingScore(&model.Place{}))
	assert.Equal(t, 0.0, RatingScore(&model.Place{Rating: ptr(0.5)}))
	assert.InDelta(t, 0.0, RatingScore(&model.Place{Rating: ptr(1.0)}), 1e-9)
	assert.InDelta(t, 0.5, RatingScore(&model.Place{Rating: ptr(3.0)}), 1e-9)
	assert.InDelta(t, 1.0, RatingScore(&model.Place{Rating: ptr(5.0)}), 1e-9)
}

func TestAccessibilityScore(t *testing.T) {
	assert.Equal(t, 0.0, AccessibilityScore(&model.Place{}))

	full := &model.Place{
		Website:          "https://cafe.example",
		Phone:            "+971 4 123 4567",
		OpeningHours:     &model.OpeningHours{},
		FormattedAddress: "1 Main St",
	}
	assert.InDelta(t, 1.0, AccessibilityScore(full), 1e-9)

	webOnly := &model.Place{Website: "https://cafe.example"}
	assert.InDelta(t, 0.30, AccessibilityScore(webOnly), 1e-9)
}

type fakeStore struct {
	nearby       int
	countBBox    store.BBox
	scores       map[int64]model.LocationScore
	mirrored     map[int64]float64
	unscored     []model.Place
	topLocations []model.ScoredPlace
	topLimit     int
	topCategory  string
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		scores:   map[int64]model.LocationScore{},
		mirrored: map[int64]float64{},
	}
}

func (f *fakeStore) CountInBBox(_ context.Context, bbox store.BBox, _ int64) (int, error) {
	f.countBBox = bbox
	return f.nearby, nil
}

func (f *fakeStore) UpsertLocationScore(_ context.Context, sc *model.LocationScore) error {
	f.scores[sc.PlaceID] = *sc
	return nil
}

func (f *fakeStore) UpdateLocationScore(_ context.Context, placeID int64, score float64) error {
	f.mirrored[placeID] = score
	return nil
}

func (f *fakeStore) ListUnscored(context.Context) ([]model.Place, error) {
	return f.unscored, nil
}

func (f *fakeStore) TopLocations(_ context.Context, limit int, category string) ([]model.ScoredPlace, error) {
	f.topLimit = limit
	f.topCategory = category
	return f.topLocations, nil
}

func TestCompetitionScoreNoCoordinatesIsNeutral(t *testing.T) {
	e := New(newFakeStore())

	got, err := e.CompetitionScore(context.Background(), &model.Place{ID: 1})
	require.NoError(t, err)
	assert.Equal(t, 0.5, got)
}

func TestCompetitionScoreEmptyNeighborhood(t *testing.T) {
	st := newFakeStore()
	e := New(st)

	p := &model.Place{ID: 1, Latitude: ptr(0.0), Longitude: ptr(55.0)}
	got, err := e.CompetitionScore(context.Background(), p)
	require.NoError(t, err)
	assert.Equal(t, 1.0, got)

	delta := DefaultCompetitionRadiusKm / 111.0
	assert.InDelta(t, -delta, st.countBBox.LatMin, 1e-9)
	assert.InDelta(t, 55.0+delta, st.countBBox.LngMax, 1e-9)
}

func TestCompetitionScoreCrowdedNeighborhood(t *testing.T) {
	st := newFakeStore()
	st.nearby = 20
	e := New(st)

	p := &model.Place{ID: 1, Latitude: ptr(25.0), Longitude: ptr(55.0)}
	got, err := e.CompetitionScore(context.Background(), p)
	require.NoError(t, err)
	want := math.Round(1/(1+math.Log(21))*10000) / 10000
	assert.InDelta(t, want, got, 1e-9)
	assert.Less(t, got, 0.5)
}

func TestScorePlaceComposite(t *testing.T) {
	st := newFakeStore()
	e := New(st)

	p := &model.Place{
		ID:               7,
		Name:             "Corner Cafe",
		Rating:           ptr(5.0),
		UserRatingsTotal: ptr(20000),
		Website:          "https://cafe.example",
		Phone:            "+971",
		OpeningHours:     &model.OpeningHours{},
		FormattedAddress: "1 Main St",
		Latitude:         ptr(25.0),
		Longitude:        ptr(55.0),
	}

	sc, err := e.ScorePlace(context.Background(), p)
	require.NoError(t, err)

	// All sub-scores max out, so the composite is 1.0.
	assert.InDelta(t, 1.0, sc.Demand, 1e-9)
	assert.InDelta(t, 1.0, sc.Rating, 1e-9)
	assert.InDelta(t, 1.0, sc.Accessibility, 1e-9)
	assert.InDelta(t, 1.0, sc.Competition, 1e-9)
	assert.InDelta(t, 1.0, sc.Composite, 1e-9)

	assert.Contains(t, st.scores, int64(7))
	assert.InDelta(t, 1.0, st.mirrored[7], 1e-9)
	require.NotNil(t, p.LocationScore)
	assert.InDelta(t, 1.0, *p.LocationScore, 1e-9)
}

func TestScoreAllUnscored(t *testing.T) {
	st := newFakeStore()
	st.unscored = []model.Place{
		{ID: 1, Name: "A"},
		{ID: 2, Name: "B", Rating: ptr(4.0)},
	}
	e := New(st)

	n, err := e.ScoreAllUnscored(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Len(t, st.scores, 2)

	// A place with nothing going for it still gets the neutral
	// competition weight.
	assert.InDelta(t, 0.5*WeightCompetition, st.scores[1].Composite, 1e-9)
}

func TestTopLocationsPassthrough(t *testing.T) {
	st := newFakeStore()
	st.topLocations = []model.ScoredPlace{{Score: model.LocationScore{Composite: 0.9}}}
	e := New(st)

	got, err := e.TopLocations(context.Background(), 5, "coffee")
	require.NoError(t, err)
	assert.Len(t, got, 1)
	assert.Equal(t, 5, st.topLimit)
	assert.Equal(t, "coffee", st.topCategory)
}
