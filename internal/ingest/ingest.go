// Package ingest persists provider search results as canonical places.
package ingest

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/placescope/placescope/internal/model"
	"github.com/placescope/placescope/pkg/places"
)

// Store is the persistence surface ingestion needs.
type Store interface {
	GetPlaceByExternalID(ctx context.Context, externalID string) (*model.Place, error)
	UpsertPlace(ctx context.Context, p *model.Place) (int64, error)
	GetPlacesByIDs(ctx context.Context, ids []int64) ([]model.Place, error)
}

// DetailsFetcher resolves a provider id to the full place record.
type DetailsFetcher interface {
	GetPlaceDetails(ctx context.Context, externalID string) (*places.Record, error)
}

type Ingestor struct {
	store   Store
	details DetailsFetcher
}

func New(store Store, details DetailsFetcher) *Ingestor {
	return &Ingestor{store: store, details: details}
}

// IngestRecords upserts search results and returns the stored rows, re-read
// so callers see generated ids and any previously persisted state. Records
// already present are reused without a details round trip; new records get
// one details fetch, falling back to the search result when it fails or
// comes back empty.
func (in *Ingestor) IngestRecords(ctx context.Context, records []places.Record, query, location string) ([]model.Place, error) {
	ids := make([]int64, 0, len(records))

	for _, rec := range records {
		if rec.ID == "" {
			zap.L().Warn("skipping search result without id",
				zap.String("name", rec.DisplayName.Text))
			continue
		}

		existing, err := in.store.GetPlaceByExternalID(ctx, rec.ID)
		if err != nil {
			return nil, eris.Wrapf(err, "ingest: lookup %s", rec.ID)
		}
		if existing != nil {
			ids = append(ids, existing.ID)
			continue
		}

		chosen := rec
		if in.details != nil {
			detail, err := in.details.GetPlaceDetails(ctx, rec.ID)
			if err != nil {
				zap.L().Debug("details fetch failed, using search result",
					zap.String("external_id", rec.ID), zap.Error(err))
			} else if !detail.IsZero() {
				chosen = *detail
				if chosen.ID == "" {
					chosen.ID = rec.ID
				}
			}
		}

		p := places.Normalize(chosen)
		p.SearchQuery = query
		p.SearchLocation = location

		id, err := in.store.UpsertPlace(ctx, &p)
		if err != nil {
			return nil, eris.Wrapf(err, "ingest: upsert %s", rec.ID)
		}
		ids = append(ids, id)
	}

	stored, err := in.store.GetPlacesByIDs(ctx, ids)
	if err != nil {
		return nil, eris.Wrap(err, "ingest: reread stored places")
	}

	zap.L().Info("ingested search results",
		zap.Int("results", len(records)),
		zap.Int("stored", len(stored)),
		zap.String("query", query))
	return stored, nil
}
