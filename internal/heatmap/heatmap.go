// Package heatmap computes competitor density grids over a bounding box.
package heatmap

import (
	"context"
	"math"
	"time"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"go.uber.org/zap"

	"github.com/placescope/placescope/internal/model"
	"github.com/placescope/placescope/internal/store"
)

// DefaultGridSize is roughly 1.1 km of latitude per cell.
const DefaultGridSize = 0.01

// maxCells caps the grid so a continent-sized bbox cannot fan out into
// millions of aggregate queries; past it the grid coarsens to 100 steps
// per axis.
const maxCells = 10000

// DefaultDensityRadiusKm is the lookup radius for point density queries.
const DefaultDensityRadiusKm = 2.0

const kmPerDegree = 111.0

// Store is the persistence surface the heatmap engine needs.
type Store interface {
	AggregateCell(ctx context.Context, bbox store.BBox, category string) (*store.CellAggregate, error)
	DeleteHeatmapCells(ctx context.Context, category string, bbox store.BBox) error
	InsertHeatmapCells(ctx context.Context, cells []model.HeatmapCell) error
	ListHeatmapCells(ctx context.Context, category string, bbox *store.BBox) ([]model.HeatmapCell, error)
	AggregateDensity(ctx context.Context, bbox store.BBox) (*store.DensityAggregate, error)
}

// DensityPoint summarizes competitor presence around one coordinate.
type DensityPoint struct {
	Count      int      `json:"count"`
	AvgRating  *float64 `json:"avg_rating,omitempty"`
	AvgReviews *float64 `json:"avg_reviews,omitempty"`
	RadiusKm   float64  `json:"radius_km"`
}

type Engine struct {
	store Store
}

func New(store Store) *Engine {
	return &Engine{store: store}
}

// bboxFromBounds converts geom bounds (X longitude, Y latitude) to the
// store's bbox.
func bboxFromBounds(bounds *geom.Bounds) store.BBox {
	return store.BBox{
		LatMin: bounds.Min(1),
		LatMax: bounds.Max(1),
		LngMin: bounds.Min(0),
		LngMax: bounds.Max(0),
	}
}

// Bounds builds grid bounds from the corner coordinates.
func Bounds(latMin, latMax, lngMin, lngMax float64) *geom.Bounds {
	return geom.NewBounds(geom.XY).Set(lngMin, latMin, lngMax, latMax)
}

// ComputeHeatmap overlays a grid on the bounding box, aggregates places
// per cell, and replaces the stored cells for the category. Cells are
// keyed by their SW corner; empty cells are stored too so consumers can
// render a full grid. Pass category "*" to aggregate across all search
// queries, and gridSize <= 0 for the default.
func (e *Engine) ComputeHeatmap(ctx context.Context, category string, bounds *geom.Bounds, gridSize float64) ([]model.HeatmapCell, error) {
	if gridSize <= 0 {
		gridSize = DefaultGridSize
	}
	bbox := bboxFromBounds(bounds)

	latSteps := int(math.Ceil((bbox.LatMax - bbox.LatMin) / gridSize))
	lngSteps := int(math.Ceil((bbox.LngMax - bbox.LngMin) / gridSize))

	if latSteps*lngSteps > maxCells {
		zap.L().Warn("heatmap grid too large, coarsening",
			zap.Int("cells", latSteps*lngSteps),
			zap.Float64("grid_size", gridSize))
		gridSize = math.Max(
			(bbox.LatMax-bbox.LatMin)/100,
			(bbox.LngMax-bbox.LngMin)/100,
		)
		latSteps = int(math.Ceil((bbox.LatMax - bbox.LatMin) / gridSize))
		lngSteps = int(math.Ceil((bbox.LngMax - bbox.LngMin) / gridSize))
	}

	zap.L().Info("computing heatmap",
		zap.String("category", category),
		zap.Int("lat_steps", latSteps),
		zap.Int("lng_steps", lngSteps),
		zap.Float64("grid_size", gridSize))

	if err := e.store.DeleteHeatmapCells(ctx, category, bbox); err != nil {
		return nil, eris.Wrap(err, "heatmap: clear previous cells")
	}

	now := time.Now().UTC()
	cells := make([]model.HeatmapCell, 0, latSteps*lngSteps)

	for i := 0; i < latSteps; i++ {
		cellLat := bbox.LatMin + float64(i)*gridSize
		for j := 0; j < lngSteps; j++ {
			cellLng := bbox.LngMin + float64(j)*gridSize

			agg, err := e.store.AggregateCell(ctx, store.BBox{
				LatMin: cellLat,
				LatMax: cellLat + gridSize,
				LngMin: cellLng,
				LngMax: cellLng + gridSize,
			}, category)
			if err != nil {
				return nil, eris.Wrap(err, "heatmap: aggregate cell")
			}

			cells = append(cells, model.HeatmapCell{
				GridLat:       round(cellLat, 6),
				GridLng:       round(cellLng, 6),
				Category:      category,
				PlaceCount:    agg.Count,
				AvgRating:     roundPtr(agg.AvgRating, 2),
				AvgPriceLevel: roundPtr(agg.AvgPrice, 2),
				ComputedAt:    now,
			})
		}
	}

	if err := e.store.InsertHeatmapCells(ctx, cells); err != nil {
		return nil, eris.Wrap(err, "heatmap: store cells")
	}

	zap.L().Info("heatmap computed",
		zap.String("category", category),
		zap.Int("cells", len(cells)))
	return cells, nil
}

// GetHeatmap returns stored cells for a category, optionally restricted
// to bounds.
func (e *Engine) GetHeatmap(ctx context.Context, category string, bounds *geom.Bounds) ([]model.HeatmapCell, error) {
	var bbox *store.BBox
	if bounds != nil {
		b := bboxFromBounds(bounds)
		bbox = &b
	}
	cells, err := e.store.ListHeatmapCells(ctx, category, bbox)
	if err != nil {
		return nil, eris.Wrap(err, "heatmap: list cells")
	}
	return cells, nil
}

// DensityForPoint aggregates competitor stats in a square window around
// the coordinate. radiusKm <= 0 uses the default.
func (e *Engine) DensityForPoint(ctx context.Context, lat, lng, radiusKm float64) (*DensityPoint, error) {
	if radiusKm <= 0 {
		radiusKm = DefaultDensityRadiusKm
	}

	latDelta := radiusKm / kmPerDegree
	lngDelta := radiusKm / (kmPerDegree * math.Cos(lat*math.Pi/180))

	agg, err := e.store.AggregateDensity(ctx, store.BBox{
		LatMin: lat - latDelta,
		LatMax: lat + latDelta,
		LngMin: lng - lngDelta,
		LngMax: lng + lngDelta,
	})
	if err != nil {
		return nil, eris.Wrap(err, "heatmap: point density")
	}

	return &DensityPoint{
		Count:      agg.Count,
		AvgRating:  roundPtr(agg.AvgRating, 2),
		AvgReviews: roundPtr(agg.AvgReviews, 1),
		RadiusKm:   radiusKm,
	}, nil
}

func round(v float64, decimals int) float64 {
	pow := math.Pow(10, float64(decimals))
	return math.Round(v*pow) / pow
}

func roundPtr(v *float64, decimals int) *float64 {
	if v == nil {
		return nil
	}
	r := round(*v, decimals)
	return &r
}
