package heatmap

import (
	"context"
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

type fakeStore struct {
	aggregates    map[store.BBox]*store.CellAggregate
	defaultAgg    store.CellAggregate
	aggCalls      int
	deletedBBox   *store.BBox
	deletedCat    string
	inserted      []model.HeatmapCell
	listed        []model.HeatmapCell
	listBBox      *store.BBox
	densityResult *store.DensityAggregate
	densityBBox   store.BBox
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		aggregates:    map[store.BBox]*store.CellAggregate{},
		densityResult: &store.DensityAggregate{},
	}
}

func (f *fakeStore) AggregateCell(_ context.Context, bbox store.BBox, _ string) (*store.CellAggregate, error) {
	f.aggCalls++
	if agg, ok := f.aggregates[bbox]; ok {
		return agg, nil
	}
	agg := f.defaultAgg
	return &agg, nil
}

func (f *fakeStore) DeleteHeatmapCells(_ context.Context, category string, bbox store.BBox) error {
	f.deletedCat = category
	f.deletedBBox = &bbox
	return nil
}

func (f *fakeStore) InsertHeatmapCells(_ context.Context, cells []model.HeatmapCell) error {
	f.inserted = cells
	return nil
}

func (f *fakeStore) ListHeatmapCells(_ context.Context, _ string, bbox *store.BBox) ([]model.HeatmapCell, error) {
	f.listBBox = bbox
	return f.listed, nil
}

func (f *fakeStore) AggregateDensity(_ context.Context, bbox store.BBox) (*store.DensityAggregate, error) {
	f.densityBBox = bbox
	return f.densityResult, nil
}

func TestComputeHeatmapGridShape(t *testing.T) {
	st := newFakeStore()
	e := New(st)

	bounds := Bounds(25.00, 25.03, 55.00, 55.02)
	cells, err := e.ComputeHeatmap(context.Background(), "coffee", bounds, 0.01)
	require.NoError(t, err)

	// 3 lat steps x 2 lng steps.
	assert.Len(t, cells, 6)
	assert.Equal(t, 6, st.aggCalls)
	assert.Equal(t, cells, st.inserted)

	assert.InDelta(t, 25.00, cells[0].GridLat, 1e-9)
	assert.InDelta(t, 55.00, cells[0].GridLng, 1e-9)
	assert.InDelta(t, 25.02, cells[len(cells)-1].GridLat, 1e-9)
	assert.InDelta(t, 55.01, cells[len(cells)-1].GridLng, 1e-9)

	require.NotNil(t, st.deletedBBox)
	assert.Equal(t, "coffee", st.deletedCat)
	assert.InDelta(t, 25.00, st.deletedBBox.LatMin, 1e-9)
	assert.InDelta(t, 55.02, st.deletedBBox.LngMax, 1e-9)
}

func TestComputeHeatmapRoundsAverages(t *testing.T) {
	st := newFakeStore()
	st.defaultAgg = store.CellAggregate{
		Count:     4,
		AvgRating: ptr(4.23456),
		AvgPrice:  ptr(1.66666),
	}
	e := New(st)

	cells, err := e.ComputeHeatmap(context.Background(), "*", Bounds(0, 0.01, 0, 0.01), 0.01)
	require.NoError(t, err)
	require.Len(t, cells, 1)
	assert.Equal(t, 4, cells[0].PlaceCount)
	require.NotNil(t, cells[0].AvgRating)
	assert.InDelta(t, 4.23, *cells[0].AvgRating, 1e-9)
	require.NotNil(t, cells[0].AvgPriceLevel)
	assert.InDelta(t, 1.67, *cells[0].AvgPriceLevel, 1e-9)
}

func TestComputeHeatmapKeepsEmptyCells(t *testing.T) {
	st := newFakeStore()
	e := New(st)

	cells, err := e.ComputeHeatmap(context.Background(), "barber", Bounds(0, 0.02, 0, 0.01), 0.01)
	require.NoError(t, err)
	require.Len(t, cells, 2)
	assert.Equal(t, 0, cells[0].PlaceCount)
	assert.Nil(t, cells[0].AvgRating)
}

func TestComputeHeatmapCoarsensOversizedGrid(t *testing.T) {
	st := newFakeStore()
	e := New(st)

	// 200x200 cells at 0.01 exceeds the cap; coarsened to 100x100.
	cells, err := e.ComputeHeatmap(context.Background(), "*", Bounds(0, 2, 0, 2), 0.01)
	require.NoError(t, err)
	assert.Len(t, cells, 10000)
	assert.InDelta(t, 0.02, cells[1].GridLng-cells[0].GridLng, 1e-9)
}

func TestComputeHeatmapDefaultGridSize(t *testing.T) {
	st := newFakeStore()
	e := New(st)

	cells, err := e.ComputeHeatmap(context.Background(), "*", Bounds(0, 0.04, 0, 0.01), 0)
	require.NoError(t, err)
	assert.Len(t, cells, 4)
}

func TestGetHeatmapPassesBounds(t *testing.T) {
	st := newFakeStore()
	st.listed = []model.HeatmapCell{{Category: "coffee", PlaceCount: 2}}
	e := New(st)

	got, err := e.GetHeatmap(context.Background(), "coffee", Bounds(1, 2, 3, 4))
	require.NoError(t, err)
	assert.Equal(t, st.listed, got)
	require.NotNil(t, st.listBBox)
	assert.InDelta(t, 1.0, st.listBBox.LatMin, 1e-9)
	assert.InDelta(t, 4.0, st.listBBox.LngMax, 1e-9)

	_, err = e.GetHeatmap(context.Background(), "coffee", nil)
	require.NoError(t, err)
	assert.Nil(t, st.listBBox)
}

func TestDensityForPoint(t *testing.T) {
	st := newFakeStore()
	st.densityResult = &store.DensityAggregate{
		Count:      12,
		AvgRating:  ptr(4.288),
		AvgReviews: ptr(321.44),
	}
	e := New(st)

	got, err := e.DensityForPoint(context.Background(), 0, 55.0, 2.0)
	require.NoError(t, err)
	assert.Equal(t, 12, got.Count)
	require.NotNil(t, got.AvgRating)
	assert.InDelta(t, 4.29, *got.AvgRating, 1e-9)
	require.NotNil(t, got.AvgReviews)
	assert.InDelta(t, 321.4, *got.AvgReviews, 1e-9)
	assert.InDelta(t, 2.0, got.RadiusKm, 1e-9)

	// At the equator both deltas are radius/111.
	delta := 2.0 / 111.0
	assert.InDelta(t, -delta, st.densityBBox.LatMin, 1e-9)
	assert.InDelta(t, 55.0+delta, st.densityBBox.LngMax, 1e-9)
}

func TestDensityForPointDefaultRadius(t *testing.T) {
	st := newFakeStore()
	e := New(st)

	got, err := e.DensityForPoint(context.Background(), 25.0, 55.0, 0)
	require.NoError(t, err)
	assert.InDelta(t, DefaultDensityRadiusKm, got.RadiusKm, 1e-9)
}
