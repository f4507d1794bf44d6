// Package scoring computes composite location quality scores from demand,
// competition, accessibility, and rating signals.
package scoring

import (
	"context"
	"math"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/placescope/placescope/internal/model"
	"github.com/placescope/placescope/internal/store"
)

// Composite weights. They sum to 1.0.
const (
	WeightDemand        = 0.30
	WeightCompetition   = 0.25
	WeightAccessibility = 0.20
	WeightRating        = 0.25
)

// DefaultCompetitionRadiusKm bounds the neighborhood considered when
// scoring competition.
const DefaultCompetitionRadiusKm = 2.0

const kmPerDegree = 111.0

// Store is the persistence surface scoring needs.
type Store interface {
	CountInBBox(ctx context.Context, bbox store.BBox, excludePlaceID int64) (int, error)
	UpsertLocationScore(ctx context.Context, sc *model.LocationScore) error
	UpdateLocationScore(ctx context.Context, placeID int64, score float64) error
	ListUnscored(ctx context.Context) ([]model.Place, error)
	TopLocations(ctx context.Context, limit int, category string) ([]model.ScoredPlace, error)
}

type Engine struct {
	store    Store
	radiusKm float64
}

func New(store Store) *Engine {
	return &Engine{store: store, radiusKm: DefaultCompetitionRadiusKm}
}

// DemandScore maps review volume to [0, 1] on a log scale so mega-chains
// do not dominate: log10(10000) is about 4.
func DemandScore(p *model.Place) float64 {
	if p.UserRatingsTotal == nil || *p.UserRatingsTotal <= 0 {
		return 0
	}
	score := math.Min(1, math.Log10(float64(*p.UserRatingsTotal)+1)/4)
	return round4(score)
}

// RatingScore normalizes a 1-5 star rating to [0, 1].
func RatingScore(p *model.Place) float64 {
	if p.Rating == nil || *p.Rating < 1 {
		return 0
	}
	return round4(math.Min(1, (*p.Rating-1)/4))
}

// AccessibilityScore rewards places that are easy to find and contact.
func AccessibilityScore(p *model.Place) float64 {
	score := 0.0
	if p.Website != "" {
		score += 0.30
	}
	if p.Phone != "" {
		score += 0.25
	}
	if p.OpeningHours != nil {
		score += 0.25
	}
	if p.FormattedAddress != "" {
		score += 0.20
	}
	return round4(score)
}

// CompetitionScore is inverse neighbor density: an empty neighborhood
// scores 1.0 and crowded ones approach 0. Places without coordinates get
// a neutral 0.5.
func (e *Engine) CompetitionScore(ctx context.Context, p *model.Place) (float64, error) {
	if p.Latitude == nil || p.Longitude == nil {
		return 0.5, nil
	}

	lat, lng := *p.Latitude, *p.Longitude
	latDelta := e.radiusKm / kmPerDegree
	lngDelta := e.radiusKm / (kmPerDegree * math.Max(0.01, math.Cos(lat*math.Pi/180)))

	nearby, err := e.store.CountInBBox(ctx, store.BBox{
		LatMin: lat - latDelta,
		LatMax: lat + latDelta,
		LngMin: lng - lngDelta,
		LngMax: lng + lngDelta,
	}, p.ID)
	if err != nil {
		return 0, eris.Wrapf(err, "scoring: count neighbors for place %d", p.ID)
	}

	if nearby == 0 {
		return 1.0, nil
	}
	score := 1 / (1 + math.Log(float64(nearby)+1))
	return round4(math.Max(0, math.Min(1, score))), nil
}

// ScorePlace computes all sub-scores, persists the score row, and mirrors
// the composite onto the place for quick list reads.
func (e *Engine) ScorePlace(ctx context.Context, p *model.Place) (*model.LocationScore, error) {
	demand := DemandScore(p)
	rating := RatingScore(p)
	accessibility := AccessibilityScore(p)
	competition, err := e.CompetitionScore(ctx, p)
	if err != nil {
		return nil, err
	}

	composite := round4(demand*WeightDemand +
		competition*WeightCompetition +
		accessibility*WeightAccessibility +
		rating*WeightRating)

	sc := &model.LocationScore{
		PlaceID:       p.ID,
		Demand:        demand,
		Competition:   competition,
		Accessibility: accessibility,
		Rating:        rating,
		Composite:     composite,
	}
	if err := e.store.UpsertLocationScore(ctx, sc); err != nil {
		return nil, eris.Wrapf(err, "scoring: save score for place %d", p.ID)
	}
	if err := e.store.UpdateLocationScore(ctx, p.ID, composite); err != nil {
		return nil, eris.Wrapf(err, "scoring: mirror score for place %d", p.ID)
	}
	p.LocationScore = &composite

	zap.L().Debug("scored place",
		zap.String("name", p.Name),
		zap.Float64("demand", demand),
		zap.Float64("competition", competition),
		zap.Float64("accessibility", accessibility),
		zap.Float64("rating", rating),
		zap.Float64("composite", composite))
	return sc, nil
}

// ScorePlaces scores a batch in order.
func (e *Engine) ScorePlaces(ctx context.Context, places []model.Place) ([]model.LocationScore, error) {
	scores := make([]model.LocationScore, 0, len(places))
	for i := range places {
		sc, err := e.ScorePlace(ctx, &places[i])
		if err != nil {
			return nil, err
		}
		scores = append(scores, *sc)
	}
	return scores, nil
}

// ScoreAllUnscored scores every place without a location score and
// returns how many it processed.
func (e *Engine) ScoreAllUnscored(ctx context.Context) (int, error) {
	places, err := e.store.ListUnscored(ctx)
	if err != nil {
		return 0, eris.Wrap(err, "scoring: list unscored")
	}
	if len(places) == 0 {
		return 0, nil
	}
	if _, err := e.ScorePlaces(ctx, places); err != nil {
		return 0, err
	}
	return len(places), nil
}

// TopLocations returns the highest-scored places, optionally filtered by
// search category.
func (e *Engine) TopLocations(ctx context.Context, limit int, category string) ([]model.ScoredPlace, error) {
	top, err := e.store.TopLocations(ctx, limit, category)
	if err != nil {
		return nil, eris.Wrap(err, "scoring: top locations")
	}
	return top, nil
}

func round4(v float64) float64 {
	return math.Round(v*10000) / 10000
}
