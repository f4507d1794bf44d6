package store

import (
	"context"
	"time"

	"github.com/placescope/placescope/internal/model"
)

// PlaceFilter specifies criteria for listing places.
type PlaceFilter struct {
	Query          string  `json:"query,omitempty"`
	Classification string  `json:"classification,omitempty"`
	MinRating      float64 `json:"min_rating,omitempty"`
	Limit          int     `json:"limit,omitempty"`
	Offset         int     `json:"offset,omitempty"`
}

// BBox is a geographic bounding box used by spatial aggregates.
type BBox struct {
	LatMin float64 `json:"lat_min"`
	LatMax float64 `json:"lat_max"`
	LngMin float64 `json:"lng_min"`
	LngMax float64 `json:"lng_max"`
}

// CellAggregate holds per-cell competitor statistics.
type CellAggregate struct {
	Count     int
	AvgRating *float64
	AvgPrice  *float64
}

// DensityAggregate holds point-radius density statistics.
type DensityAggregate struct {
	Count      int
	AvgRating  *float64
	AvgReviews *float64
}

// Store defines the persistence interface for the listings pipeline.
// Derived records (emails, enrichments, heatmap cells, scores) cascade away
// with their place; implementations must enforce that.
type Store interface {
	// Places
	UpsertPlace(ctx context.Context, p *model.Place) (int64, error)
	GetPlaceByExternalID(ctx context.Context, externalID string) (*model.Place, error)
	GetPlaceByID(ctx context.Context, id int64) (*model.Place, error)
	GetPlacesByIDs(ctx context.Context, ids []int64) ([]model.Place, error)
	ListPlaces(ctx context.Context, filter PlaceFilter) ([]model.Place, error)
	ListUnclassified(ctx context.Context) ([]model.Place, error)
	ListUnscored(ctx context.Context) ([]model.Place, error)
	UpdateClassification(ctx context.Context, placeID int64, label string, confidence float64) error
	UpdateLocationScore(ctx context.Context, placeID int64, score float64) error
	SetEnrichedAt(ctx context.Context, placeID int64, t time.Time) error

	// Enrichment
	UpsertEnrichment(ctx context.Context, e *model.Enrichment) error
	InsertEmailIfAbsent(ctx context.Context, placeID int64, email, source string) error

	// Spatial aggregates
	AggregateCell(ctx context.Context, bbox BBox, category string) (*CellAggregate, error)
	AggregateDensity(ctx context.Context, bbox BBox) (*DensityAggregate, error)
	CountInBBox(ctx context.Context, bbox BBox, excludePlaceID int64) (int, error)

	// Heatmap cells. Snapshots are replaced wholesale: delete the
	// category's cells in the bbox, then bulk-insert the recomputed grid.
	DeleteHeatmapCells(ctx context.Context, category string, bbox BBox) error
	InsertHeatmapCells(ctx context.Context, cells []model.HeatmapCell) error
	ListHeatmapCells(ctx context.Context, category string, bbox *BBox) ([]model.HeatmapCell, error)

	// Scores
	UpsertLocationScore(ctx context.Context, s *model.LocationScore) error
	TopLocations(ctx context.Context, limit int, category string) ([]model.ScoredPlace, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}
