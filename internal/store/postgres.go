package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/placescope/placescope/internal/db"
	"github.com/placescope/placescope/internal/model"
)

// PostgresStore implements Store against a pgx connection pool.
type PostgresStore struct {
	pool db.Pool
}

func NewPostgres(pool db.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// NewPostgresURL connects a pool to the given database URL.
func NewPostgresURL(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return NewPostgres(pool), nil
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS places (
	id                        BIGSERIAL PRIMARY KEY,
	external_id               TEXT NOT NULL UNIQUE,
	name                      TEXT NOT NULL,
	formatted_address         TEXT,
	latitude                  DOUBLE PRECISION,
	longitude                 DOUBLE PRECISION,
	rating                    DOUBLE PRECISION,
	user_ratings_total        INTEGER,
	phone                     TEXT,
	website                   TEXT,
	opening_hours             JSONB,
	address_components        JSONB,
	types                     JSONB,
	business_status           TEXT,
	price_level               INTEGER,
	classification            TEXT,
	classification_confidence DOUBLE PRECISION,
	location_score            DOUBLE PRECISION,
	competitor_density        DOUBLE PRECISION,
	search_query              TEXT,
	search_location           TEXT,
	created_at                TIMESTAMPTZ NOT NULL,
	updated_at                TIMESTAMPTZ NOT NULL,
	enriched_at               TIMESTAMPTZ
);

CREATE TABLE IF NOT EXISTS place_emails (
	id         BIGSERIAL PRIMARY KEY,
	place_id   BIGINT NOT NULL REFERENCES places(id) ON DELETE CASCADE,
	email      TEXT NOT NULL,
	source     TEXT,
	created_at TIMESTAMPTZ NOT NULL,
	UNIQUE (place_id, email)
);

CREATE TABLE IF NOT EXISTS place_enrichments (
	id                   BIGSERIAL PRIMARY KEY,
	place_id             BIGINT NOT NULL UNIQUE REFERENCES places(id) ON DELETE CASCADE,
	homepage_status_code INTEGER,
	homepage_title       TEXT,
	contact_page_url     TEXT,
	robots_txt_allows    BOOLEAN,
	enrichment_error     TEXT,
	created_at           TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS heatmap_cells (
	id              BIGSERIAL PRIMARY KEY,
	grid_lat        DOUBLE PRECISION NOT NULL,
	grid_lng        DOUBLE PRECISION NOT NULL,
	category        TEXT NOT NULL,
	place_count     INTEGER NOT NULL DEFAULT 0,
	avg_rating      DOUBLE PRECISION,
	avg_price_level DOUBLE PRECISION,
	computed_at     TIMESTAMPTZ NOT NULL,
	UNIQUE (grid_lat, grid_lng, category)
);

CREATE TABLE IF NOT EXISTS location_scores (
	id                  BIGSERIAL PRIMARY KEY,
	place_id            BIGINT NOT NULL UNIQUE REFERENCES places(id) ON DELETE CASCADE,
	demand_score        DOUBLE PRECISION NOT NULL DEFAULT 0,
	competition_score   DOUBLE PRECISION NOT NULL DEFAULT 0,
	accessibility_score DOUBLE PRECISION NOT NULL DEFAULT 0,
	rating_score        DOUBLE PRECISION NOT NULL DEFAULT 0,
	composite_score     DOUBLE PRECISION NOT NULL DEFAULT 0,
	computed_at         TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_places_lat_lng ON places(latitude, longitude);
CREATE INDEX IF NOT EXISTS idx_places_classification ON places(classification);
CREATE INDEX IF NOT EXISTS idx_places_search ON places(search_query, search_location);
CREATE INDEX IF NOT EXISTS idx_heatmap_category ON heatmap_cells(category);
`

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func (s *PostgresStore) UpsertPlace(ctx context.Context, p *model.Place) (int64, error) {
	opening, components, types, err := marshalPlaceJSON(p)
	if err != nil {
		return 0, err
	}

	now := time.Now().UTC()
	var id int64
	err = s.pool.QueryRow(ctx, `
		INSERT INTO places (
			external_id, name, formatted_address, latitude, longitude,
			rating, user_ratings_total, phone, website, opening_hours,
			address_components, types, business_status, price_level,
			search_query, search_location, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)
		ON CONFLICT (external_id) DO UPDATE SET
			name = EXCLUDED.name,
			formatted_address = EXCLUDED.formatted_address,
			latitude = EXCLUDED.latitude,
			longitude = EXCLUDED.longitude,
			rating = EXCLUDED.rating,
			user_ratings_total = EXCLUDED.user_ratings_total,
			phone = EXCLUDED.phone,
			website = EXCLUDED.website,
			opening_hours = EXCLUDED.opening_hours,
			address_components = EXCLUDED.address_components,
			types = EXCLUDED.types,
			business_status = EXCLUDED.business_status,
			price_level = EXCLUDED.price_level,
			updated_at = EXCLUDED.updated_at
		RETURNING id`,
		p.ExternalID, p.Name, nullStr(p.FormattedAddress), p.Latitude, p.Longitude,
		p.Rating, p.UserRatingsTotal, nullStr(p.Phone), nullStr(p.Website), opening,
		components, types, nullStr(p.BusinessStatus), p.PriceLevel,
		nullStr(p.SearchQuery), nullStr(p.SearchLocation), now, now,
	).Scan(&id)
	if err != nil {
		return 0, eris.Wrapf(err, "postgres: upsert place %s", p.ExternalID)
	}

	p.ID = id
	return id, nil
}

func (s *PostgresStore) GetPlaceByExternalID(ctx context.Context, externalID string) (*model.Place, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+placeColumns+` FROM places WHERE external_id = $1`, externalID)
	p, err := scanPlace(row)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get place by external id %s", externalID)
	}
	return p, nil
}

func (s *PostgresStore) GetPlaceByID(ctx context.Context, id int64) (*model.Place, error) {
	places, err := s.GetPlacesByIDs(ctx, []int64{id})
	if err != nil {
		return nil, err
	}
	if len(places) == 0 {
		return nil, nil
	}
	return &places[0], nil
}

func (s *PostgresStore) GetPlacesByIDs(ctx context.Context, ids []int64) ([]model.Place, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	rows, err := s.pool.Query(ctx,
		`SELECT `+placeColumns+` FROM places WHERE id = ANY($1) ORDER BY id`, ids)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: get places by ids")
	}
	defer rows.Close()

	places, err := collectPlaces(rows)
	if err != nil {
		return nil, err
	}
	if err := s.attachRelations(ctx, places, ids); err != nil {
		return nil, err
	}
	return places, nil
}

func (s *PostgresStore) attachRelations(ctx context.Context, places []model.Place, ids []int64) error {
	if len(places) == 0 {
		return nil
	}
	byID := make(map[int64]*model.Place, len(places))
	for i := range places {
		byID[places[i].ID] = &places[i]
	}

	rows, err := s.pool.Query(ctx,
		`SELECT id, place_id, email, source, created_at FROM place_emails
		 WHERE place_id = ANY($1) ORDER BY id`, ids)
	if err != nil {
		return eris.Wrap(err, "postgres: load emails")
	}
	defer rows.Close()
	for rows.Next() {
		var e model.PlaceEmail
		var source *string
		if err := rows.Scan(&e.ID, &e.PlaceID, &e.Email, &source, &e.CreatedAt); err != nil {
			return eris.Wrap(err, "postgres: scan email")
		}
		if source != nil {
			e.Source = *source
		}
		if p, ok := byID[e.PlaceID]; ok {
			p.Emails = append(p.Emails, e)
		}
	}
	if err := rows.Err(); err != nil {
		return eris.Wrap(err, "postgres: iterate emails")
	}

	erows, err := s.pool.Query(ctx,
		`SELECT id, place_id, homepage_status_code, homepage_title, contact_page_url,
		 robots_txt_allows, enrichment_error, created_at
		 FROM place_enrichments WHERE place_id = ANY($1)`, ids)
	if err != nil {
		return eris.Wrap(err, "postgres: load enrichments")
	}
	defer erows.Close()
	for erows.Next() {
		e, err := scanEnrichment(erows)
		if err != nil {
			return err
		}
		if p, ok := byID[e.PlaceID]; ok {
			p.Enrichment = e
		}
	}
	return eris.Wrap(erows.Err(), "postgres: iterate enrichments")
}

func (s *PostgresStore) ListPlaces(ctx context.Context, filter PlaceFilter) ([]model.Place, error) {
	query := `SELECT ` + placeColumns + ` FROM places WHERE 1=1`
	var args []any

	if filter.Query != "" {
		args = append(args, "%"+filter.Query+"%")
		query += fmt.Sprintf(` AND search_query ILIKE $%d`, len(args))
	}
	if filter.Classification != "" {
		args = append(args, filter.Classification)
		query += fmt.Sprintf(` AND classification = $%d`, len(args))
	}
	if filter.MinRating > 0 {
		args = append(args, filter.MinRating)
		query += fmt.Sprintf(` AND rating >= $%d`, len(args))
	}
	query += ` ORDER BY created_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 200
	}
	args = append(args, limit)
	query += fmt.Sprintf(` LIMIT $%d`, len(args))
	if filter.Offset > 0 {
		args = append(args, filter.Offset)
		query += fmt.Sprintf(` OFFSET $%d`, len(args))
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list places")
	}
	defer rows.Close()

	places, err := collectPlaces(rows)
	if err != nil {
		return nil, err
	}
	if len(places) == 0 {
		return places, nil
	}
	ids := make([]int64, len(places))
	for i := range places {
		ids[i] = places[i].ID
	}
	if err := s.attachRelations(ctx, places, ids); err != nil {
		return nil, err
	}
	return places, nil
}

func (s *PostgresStore) ListUnclassified(ctx context.Context) ([]model.Place, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+placeColumns+` FROM places WHERE classification IS NULL`)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list unclassified")
	}
	defer rows.Close()
	return collectPlaces(rows)
}

func (s *PostgresStore) ListUnscored(ctx context.Context) ([]model.Place, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+placeColumns+` FROM places WHERE location_score IS NULL`)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list unscored")
	}
	defer rows.Close()
	return collectPlaces(rows)
}

func (s *PostgresStore) UpdateClassification(ctx context.Context, placeID int64, label string, confidence float64) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE places SET classification = $1, classification_confidence = $2 WHERE id = $3`,
		label, confidence, placeID)
	if err != nil {
		return eris.Wrapf(err, "postgres: update classification for place %d", placeID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("place not found: %d", placeID)
	}
	return nil
}

func (s *PostgresStore) UpdateLocationScore(ctx context.Context, placeID int64, score float64) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE places SET location_score = $1 WHERE id = $2`, score, placeID)
	if err != nil {
		return eris.Wrapf(err, "postgres: update location score for place %d", placeID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("place not found: %d", placeID)
	}
	return nil
}

func (s *PostgresStore) SetEnrichedAt(ctx context.Context, placeID int64, t time.Time) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE places SET enriched_at = $1 WHERE id = $2`, t.UTC(), placeID)
	if err != nil {
		return eris.Wrapf(err, "postgres: set enriched_at for place %d", placeID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("place not found: %d", placeID)
	}
	return nil
}

func (s *PostgresStore) UpsertEnrichment(ctx context.Context, e *model.Enrichment) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO place_enrichments (
			place_id, homepage_status_code, homepage_title, contact_page_url,
			robots_txt_allows, enrichment_error, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (place_id) DO UPDATE SET
			homepage_status_code = EXCLUDED.homepage_status_code,
			homepage_title = EXCLUDED.homepage_title,
			contact_page_url = EXCLUDED.contact_page_url,
			robots_txt_allows = EXCLUDED.robots_txt_allows,
			enrichment_error = EXCLUDED.enrichment_error`,
		e.PlaceID, e.HomepageStatus, nullStr(e.HomepageTitle), nullStr(e.ContactPageURL),
		e.RobotsAllowed, nullStr(e.EnrichmentError), time.Now().UTC())
	return eris.Wrapf(err, "postgres: upsert enrichment for place %d", e.PlaceID)
}

func (s *PostgresStore) InsertEmailIfAbsent(ctx context.Context, placeID int64, email, source string) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO place_emails (place_id, email, source, created_at) VALUES ($1, $2, $3, $4)
		 ON CONFLICT (place_id, email) DO NOTHING`,
		placeID, email, source, time.Now().UTC())
	return eris.Wrapf(err, "postgres: insert email for place %d", placeID)
}

func (s *PostgresStore) AggregateCell(ctx context.Context, bbox BBox, category string) (*CellAggregate, error) {
	query := `SELECT COUNT(id), AVG(rating), AVG(price_level) FROM places
		WHERE latitude IS NOT NULL AND longitude IS NOT NULL
		AND latitude >= $1 AND latitude < $2 AND longitude >= $3 AND longitude < $4`
	args := []any{bbox.LatMin, bbox.LatMax, bbox.LngMin, bbox.LngMax}

	if category != "*" {
		args = append(args, "%"+category+"%")
		query += fmt.Sprintf(` AND search_query ILIKE $%d`, len(args))
	}

	var agg CellAggregate
	if err := s.pool.QueryRow(ctx, query, args...).Scan(&agg.Count, &agg.AvgRating, &agg.AvgPrice); err != nil {
		return nil, eris.Wrap(err, "postgres: aggregate cell")
	}
	return &agg, nil
}

func (s *PostgresStore) AggregateDensity(ctx context.Context, bbox BBox) (*DensityAggregate, error) {
	var agg DensityAggregate
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(id), AVG(rating), AVG(user_ratings_total) FROM places
		 WHERE latitude BETWEEN $1 AND $2 AND longitude BETWEEN $3 AND $4`,
		bbox.LatMin, bbox.LatMax, bbox.LngMin, bbox.LngMax,
	).Scan(&agg.Count, &agg.AvgRating, &agg.AvgReviews)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: aggregate density")
	}
	return &agg, nil
}

func (s *PostgresStore) CountInBBox(ctx context.Context, bbox BBox, excludePlaceID int64) (int, error) {
	var count int
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(id) FROM places
		 WHERE latitude BETWEEN $1 AND $2 AND longitude BETWEEN $3 AND $4 AND id != $5`,
		bbox.LatMin, bbox.LatMax, bbox.LngMin, bbox.LngMax, excludePlaceID,
	).Scan(&count)
	return count, eris.Wrap(err, "postgres: count in bbox")
}

func (s *PostgresStore) DeleteHeatmapCells(ctx context.Context, category string, bbox BBox) error {
	_, err := s.pool.Exec(ctx,
		`DELETE FROM heatmap_cells WHERE category = $1
		 AND grid_lat BETWEEN $2 AND $3 AND grid_lng BETWEEN $4 AND $5`,
		category, bbox.LatMin, bbox.LatMax, bbox.LngMin, bbox.LngMax)
	return eris.Wrapf(err, "postgres: delete heatmap cells for %s", category)
}

var heatmapCellColumns = []string{
	"grid_lat", "grid_lng", "category", "place_count",
	"avg_rating", "avg_price_level", "computed_at",
}

// InsertHeatmapCells bulk-loads cells over the COPY protocol. Callers must
// clear overlapping cells first; COPY does not resolve conflicts.
func (s *PostgresStore) InsertHeatmapCells(ctx context.Context, cells []model.HeatmapCell) error {
	rows := make([][]any, len(cells))
	for i, c := range cells {
		rows[i] = []any{
			c.GridLat, c.GridLng, c.Category, c.PlaceCount,
			c.AvgRating, c.AvgPriceLevel, c.ComputedAt.UTC(),
		}
	}
	_, err := db.CopyFrom(ctx, s.pool, "heatmap_cells", heatmapCellColumns, rows)
	return eris.Wrap(err, "postgres: insert heatmap cells")
}

func (s *PostgresStore) ListHeatmapCells(ctx context.Context, category string, bbox *BBox) ([]model.HeatmapCell, error) {
	query := `SELECT id, grid_lat, grid_lng, category, place_count, avg_rating, avg_price_level, computed_at
		FROM heatmap_cells WHERE category = $1`
	args := []any{category}
	if bbox != nil {
		query += ` AND grid_lat BETWEEN $2 AND $3 AND grid_lng BETWEEN $4 AND $5`
		args = append(args, bbox.LatMin, bbox.LatMax, bbox.LngMin, bbox.LngMax)
	}
	query += ` ORDER BY grid_lat, grid_lng`

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list heatmap cells")
	}
	defer rows.Close()

	var cells []model.HeatmapCell
	for rows.Next() {
		var c model.HeatmapCell
		if err := rows.Scan(&c.ID, &c.GridLat, &c.GridLng, &c.Category,
			&c.PlaceCount, &c.AvgRating, &c.AvgPriceLevel, &c.ComputedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan heatmap cell")
		}
		cells = append(cells, c)
	}
	return cells, eris.Wrap(rows.Err(), "postgres: iterate heatmap cells")
}

func (s *PostgresStore) UpsertLocationScore(ctx context.Context, sc *model.LocationScore) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO location_scores (place_id, demand_score, competition_score, accessibility_score, rating_score, composite_score, computed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (place_id) DO UPDATE SET
			demand_score = EXCLUDED.demand_score,
			competition_score = EXCLUDED.competition_score,
			accessibility_score = EXCLUDED.accessibility_score,
			rating_score = EXCLUDED.rating_score,
			composite_score = EXCLUDED.composite_score,
			computed_at = EXCLUDED.computed_at`,
		sc.PlaceID, sc.Demand, sc.Competition, sc.Accessibility, sc.Rating,
		sc.Composite, time.Now().UTC())
	return eris.Wrapf(err, "postgres: upsert location score for place %d", sc.PlaceID)
}

func (s *PostgresStore) TopLocations(ctx context.Context, limit int, category string) ([]model.ScoredPlace, error) {
	if limit <= 0 {
		limit = 20
	}
	query := `SELECT ` + prefixColumns("p", placeColumns) + `,
		s.id, s.place_id, s.demand_score, s.competition_score, s.accessibility_score,
		s.rating_score, s.composite_score, s.computed_at
		FROM places p JOIN location_scores s ON s.place_id = p.id`
	var args []any
	if category != "" {
		args = append(args, "%"+category+"%")
		query += fmt.Sprintf(` WHERE p.search_query ILIKE $%d`, len(args))
	}
	args = append(args, limit)
	query += fmt.Sprintf(` ORDER BY s.composite_score DESC LIMIT $%d`, len(args))

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: top locations")
	}
	defer rows.Close()

	var out []model.ScoredPlace
	for rows.Next() {
		sp, err := scanScoredPlace(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *sp)
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate top locations")
}

var _ Store = (*PostgresStore)(nil)
