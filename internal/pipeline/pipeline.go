// Package pipeline orchestrates the search-ingest-classify-enrich-score
// flow behind the API and CLI.
package pipeline

import (
	"context"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/placescope/placescope/internal/model"
	"github.com/placescope/placescope/pkg/places"
)

// Searcher is the provider search surface, implemented by places.Client.
type Searcher interface {
	TextSearch(ctx context.Context, query, location string, radiusM float64, maxPages int) ([]places.Record, error)
	GridSearch(ctx context.Context, query string, centerLat, centerLng, radiusKm float64, maxPages int, onProgress places.ProgressFunc) ([]places.Record, error)
}

type Ingestor interface {
	IngestRecords(ctx context.Context, records []places.Record, query, location string) ([]model.Place, error)
}

type Classifier interface {
	ClassifyPlaces(ctx context.Context, places []model.Place) error
}

type Enricher interface {
	EnrichBatch(ctx context.Context, places []model.Place) []model.Place
}

type Scorer interface {
	ScorePlaces(ctx context.Context, places []model.Place) ([]model.LocationScore, error)
}

// Store is the read surface the pipeline needs for hydrated responses.
type Store interface {
	GetPlacesByIDs(ctx context.Context, ids []int64) ([]model.Place, error)
}

type SearchRequest struct {
	Query    string  `json:"query"`
	Location string  `json:"location,omitempty"`
	RadiusKm float64 `json:"radius_km,omitempty"`
	MaxPages int     `json:"max_pages,omitempty"`
	Enrich   bool    `json:"enrich,omitempty"`
}

type SearchResult struct {
	Query        string        `json:"query"`
	Location     string        `json:"location,omitempty"`
	TotalResults int           `json:"total_results"`
	Places       []model.Place `json:"places"`
	TaskID       string        `json:"task_id"`
	Message      string        `json:"message"`
}

// Progress reports grid search advancement: tiles done, tiles total, and
// unique places collected so far.
type Progress struct {
	Current int `json:"current"`
	Total   int `json:"total"`
	Unique  int `json:"unique"`
}

// Event is one step in a progressive search. Exactly one terminal event
// (result or error) closes the stream.
type Event struct {
	Type     string        `json:"type"`
	Progress *Progress     `json:"progress,omitempty"`
	Result   *SearchResult `json:"result,omitempty"`
	Error    string        `json:"error,omitempty"`
}

const (
	EventProgress = "progress"
	EventResult   = "result"
	EventError    = "error"
)

type Pipeline struct {
	searcher   Searcher
	ingestor   Ingestor
	classifier Classifier
	enricher   Enricher
	scorer     Scorer
	store      Store
	bg         *errgroup.Group
}

func New(searcher Searcher, ingestor Ingestor, classifier Classifier, enricher Enricher, scorer Scorer, store Store) *Pipeline {
	return &Pipeline{
		searcher:   searcher,
		ingestor:   ingestor,
		classifier: classifier,
		enricher:   enricher,
		scorer:     scorer,
		store:      store,
		bg:         new(errgroup.Group),
	}
}

// Wait blocks until all background enrichment tasks finish. Call it on
// shutdown so in-flight crawls are not cut off mid-batch.
func (p *Pipeline) Wait() error {
	return p.bg.Wait()
}

// Search runs the synchronous part of the pipeline: provider search,
// upsert, and classification. When req.Enrich is set, enrichment and
// scoring continue in the background after the response is returned.
func (p *Pipeline) Search(ctx context.Context, req SearchRequest) (*SearchResult, error) {
	taskID := uuid.NewString()
	zap.L().Info("search",
		zap.String("query", req.Query),
		zap.String("location", req.Location),
		zap.String("task_id", taskID))

	records, err := p.runSearch(ctx, req, nil)
	if err != nil {
		return nil, err
	}
	return p.finishSearch(ctx, req, records, taskID)
}

// SearchProgressive runs the same flow but streams progress events for
// grid searches, followed by a single result or error event. The
// returned channel closes after the terminal event.
func (p *Pipeline) SearchProgressive(ctx context.Context, req SearchRequest) <-chan Event {
	out := make(chan Event)
	taskID := uuid.NewString()

	go func() {
		defer close(out)

		progressCh := make(chan Progress, 16)
		onProgress := func(done, total, unique int) {
			select {
			case progressCh <- Progress{Current: done, Total: total, Unique: unique}:
			case <-ctx.Done():
			}
		}

		searchDone := make(chan struct{})
		var records []places.Record
		var searchErr error
		go func() {
			defer close(searchDone)
			records, searchErr = p.runSearch(ctx, req, onProgress)
		}()

	drain:
		for {
			select {
			case prog := <-progressCh:
				out <- Event{Type: EventProgress, Progress: &prog}
			case <-searchDone:
				// Flush progress reported between the last receive and
				// search completion.
				for {
					select {
					case prog := <-progressCh:
						out <- Event{Type: EventProgress, Progress: &prog}
					default:
						break drain
					}
				}
			case <-ctx.Done():
				out <- Event{Type: EventError, Error: ctx.Err().Error()}
				return
			}
		}

		if searchErr != nil {
			zap.L().Error("progressive search failed", zap.Error(searchErr))
			out <- Event{Type: EventError, Error: searchErr.Error()}
			return
		}

		result, err := p.finishSearch(ctx, req, records, taskID)
		if err != nil {
			zap.L().Error("progressive search failed", zap.Error(err))
			out <- Event{Type: EventError, Error: err.Error()}
			return
		}
		out <- Event{Type: EventResult, Result: result}
	}()

	return out
}

// runSearch picks grid search when the request carries a parseable
// center and radius, falling back to plain text search otherwise.
func (p *Pipeline) runSearch(ctx context.Context, req SearchRequest, onProgress places.ProgressFunc) ([]places.Record, error) {
	if req.Location != "" && req.RadiusKm > 0 {
		lat, lng, err := places.ParseLatLng(req.Location)
		if err == nil {
			return p.searcher.GridSearch(ctx, req.Query, lat, lng, req.RadiusKm, req.MaxPages, onProgress)
		}
		zap.L().Warn("location is not a coordinate pair, using text search",
			zap.String("location", req.Location))
	}
	return p.searcher.TextSearch(ctx, req.Query, req.Location, req.RadiusKm*1000, req.MaxPages)
}

func (p *Pipeline) finishSearch(ctx context.Context, req SearchRequest, records []places.Record, taskID string) (*SearchResult, error) {
	if len(records) == 0 {
		return &SearchResult{
			Query:    req.Query,
			Location: req.Location,
			Places:   []model.Place{},
			TaskID:   taskID,
			Message:  "No results found",
		}, nil
	}

	stored, err := p.ingestor.IngestRecords(ctx, records, req.Query, req.Location)
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: ingest results")
	}

	if err := p.classifier.ClassifyPlaces(ctx, stored); err != nil {
		return nil, eris.Wrap(err, "pipeline: classify results")
	}

	ids := make([]int64, len(stored))
	for i := range stored {
		ids[i] = stored[i].ID
	}

	message := "Search completed."
	if req.Enrich {
		message = "Search completed. Enrichment running in background."
		p.enrichInBackground(ids)
	}

	hydrated, err := p.store.GetPlacesByIDs(ctx, ids)
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: reread results")
	}

	return &SearchResult{
		Query:        req.Query,
		Location:     req.Location,
		TotalResults: len(hydrated),
		Places:       hydrated,
		TaskID:       taskID,
		Message:      message,
	}, nil
}

// enrichInBackground runs enrichment, reclassification, and scoring
// detached from the request. Failures are logged, never surfaced: the
// search response already went out.
func (p *Pipeline) enrichInBackground(ids []int64) {
	p.bg.Go(func() error {
		ctx := context.Background()

		batch, err := p.store.GetPlacesByIDs(ctx, ids)
		if err != nil {
			zap.L().Error("background enrichment: load places", zap.Error(err))
			return nil
		}

		zap.L().Info("background enrichment started", zap.Int("places", len(batch)))
		batch = p.enricher.EnrichBatch(ctx, batch)

		if err := p.classifier.ClassifyPlaces(ctx, batch); err != nil {
			zap.L().Error("background enrichment: classify", zap.Error(err))
			return nil
		}
		if _, err := p.scorer.ScorePlaces(ctx, batch); err != nil {
			zap.L().Error("background enrichment: score", zap.Error(err))
			return nil
		}

		zap.L().Info("background enrichment complete", zap.Int("places", len(batch)))
		return nil
	})
}
