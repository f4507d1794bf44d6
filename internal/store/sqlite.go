package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/placescope/placescope/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS places (
	id                        INTEGER PRIMARY KEY AUTOINCREMENT,
	external_id               TEXT NOT NULL UNIQUE,
	name                      TEXT NOT NULL,
	formatted_address         TEXT,
	latitude                  REAL,
	longitude                 REAL,
	rating                    REAL,
	user_ratings_total        INTEGER,
	phone                     TEXT,
	website                   TEXT,
	opening_hours             TEXT,
	address_components        TEXT,
	types                     TEXT,
	business_status           TEXT,
	price_level               INTEGER,
	classification            TEXT,
	classification_confidence REAL,
	location_score            REAL,
	competitor_density        REAL,
	search_query              TEXT,
	search_location           TEXT,
	created_at                DATETIME NOT NULL,
	updated_at                DATETIME NOT NULL,
	enriched_at               DATETIME
);

CREATE TABLE IF NOT EXISTS place_emails (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	place_id   INTEGER NOT NULL REFERENCES places(id) ON DELETE CASCADE,
	email      TEXT NOT NULL,
	source     TEXT,
	created_at DATETIME NOT NULL,
	UNIQUE (place_id, email)
);

CREATE TABLE IF NOT EXISTS place_enrichments (
	id                   INTEGER PRIMARY KEY AUTOINCREMENT,
	place_id             INTEGER NOT NULL UNIQUE REFERENCES places(id) ON DELETE CASCADE,
	homepage_status_code INTEGER,
	homepage_title       TEXT,
	contact_page_url     TEXT,
	robots_txt_allows    INTEGER,
	enrichment_error     TEXT,
	created_at           DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS heatmap_cells (
	id              INTEGER PRIMARY KEY AUTOINCREMENT,
	grid_lat        REAL NOT NULL,
	grid_lng        REAL NOT NULL,
	category        TEXT NOT NULL,
	place_count     INTEGER NOT NULL DEFAULT 0,
	avg_rating      REAL,
	avg_price_level REAL,
	computed_at     DATETIME NOT NULL,
	UNIQUE (grid_lat, grid_lng, category)
);

CREATE TABLE IF NOT EXISTS location_scores (
	id                  INTEGER PRIMARY KEY AUTOINCREMENT,
	place_id            INTEGER NOT NULL UNIQUE REFERENCES places(id) ON DELETE CASCADE,
	demand_score        REAL NOT NULL DEFAULT 0,
	competition_score   REAL NOT NULL DEFAULT 0,
	accessibility_score REAL NOT NULL DEFAULT 0,
	rating_score        REAL NOT NULL DEFAULT 0,
	composite_score     REAL NOT NULL DEFAULT 0,
	computed_at         DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_places_lat_lng ON places(latitude, longitude);
CREATE INDEX IF NOT EXISTS idx_places_classification ON places(classification);
CREATE INDEX IF NOT EXISTS idx_places_search ON places(search_query, search_location);
CREATE INDEX IF NOT EXISTS idx_heatmap_category ON heatmap_cells(category);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

const placeColumns = `id, external_id, name, formatted_address, latitude, longitude,
	rating, user_ratings_total, phone, website, opening_hours, address_components,
	types, business_status, price_level, classification, classification_confidence,
	location_score, competitor_density, search_query, search_location,
	created_at, updated_at, enriched_at`

func (s *SQLiteStore) UpsertPlace(ctx context.Context, p *model.Place) (int64, error) {
	opening, components, types, err := marshalPlaceJSON(p)
	if err != nil {
		return 0, err
	}

	now := time.Now().UTC()
	var id int64
	err = s.db.QueryRowContext(ctx, `
		INSERT INTO places (
			external_id, name, formatted_address, latitude, longitude,
			rating, user_ratings_total, phone, website, opening_hours,
			address_components, types, business_status, price_level,
			search_query, search_location, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (external_id) DO UPDATE SET
			name = excluded.name,
			formatted_address = excluded.formatted_address,
			latitude = excluded.latitude,
			longitude = excluded.longitude,
			rating = excluded.rating,
			user_ratings_total = excluded.user_ratings_total,
			phone = excluded.phone,
			website = excluded.website,
			opening_hours = excluded.opening_hours,
			address_components = excluded.address_components,
			types = excluded.types,
			business_status = excluded.business_status,
			price_level = excluded.price_level,
			updated_at = excluded.updated_at
		RETURNING id`,
		p.ExternalID, p.Name, nullStr(p.FormattedAddress), p.Latitude, p.Longitude,
		p.Rating, p.UserRatingsTotal, nullStr(p.Phone), nullStr(p.Website), opening,
		components, types, nullStr(p.BusinessStatus), p.PriceLevel,
		nullStr(p.SearchQuery), nullStr(p.SearchLocation), now, now,
	).Scan(&id)
	if err != nil {
		return 0, eris.Wrapf(err, "sqlite: upsert place %s", p.ExternalID)
	}

	p.ID = id
	return id, nil
}

func (s *SQLiteStore) GetPlaceByExternalID(ctx context.Context, externalID string) (*model.Place, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+placeColumns+` FROM places WHERE external_id = ?`, externalID)
	p, err := scanPlace(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get place by external id %s", externalID)
	}
	return p, nil
}

func (s *SQLiteStore) GetPlaceByID(ctx context.Context, id int64) (*model.Place, error) {
	places, err := s.GetPlacesByIDs(ctx, []int64{id})
	if err != nil {
		return nil, err
	}
	if len(places) == 0 {
		return nil, nil
	}
	return &places[0], nil
}

func (s *SQLiteStore) GetPlacesByIDs(ctx context.Context, ids []int64) ([]model.Place, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	marks, args := sqlitePlaceholders(ids)
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+placeColumns+` FROM places WHERE id IN (`+marks+`) ORDER BY id`, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: get places by ids")
	}
	defer rows.Close()

	places, err := collectPlaces(rows)
	if err != nil {
		return nil, err
	}

	if err := s.attachRelations(ctx, places, marks, args); err != nil {
		return nil, err
	}
	return places, nil
}

// attachRelations eagerly loads emails and enrichment rows for the given
// places so callers get fully hydrated listings.
func (s *SQLiteStore) attachRelations(ctx context.Context, places []model.Place, marks string, args []any) error {
	if len(places) == 0 {
		return nil
	}
	byID := make(map[int64]*model.Place, len(places))
	for i := range places {
		byID[places[i].ID] = &places[i]
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, place_id, email, source, created_at FROM place_emails
		 WHERE place_id IN (`+marks+`) ORDER BY id`, args...)
	if err != nil {
		return eris.Wrap(err, "sqlite: load emails")
	}
	defer rows.Close()
	for rows.Next() {
		var e model.PlaceEmail
		var source sql.NullString
		if err := rows.Scan(&e.ID, &e.PlaceID, &e.Email, &source, &e.CreatedAt); err != nil {
			return eris.Wrap(err, "sqlite: scan email")
		}
		e.Source = source.String
		if p, ok := byID[e.PlaceID]; ok {
			p.Emails = append(p.Emails, e)
		}
	}
	if err := rows.Err(); err != nil {
		return eris.Wrap(err, "sqlite: iterate emails")
	}

	erows, err := s.db.QueryContext(ctx,
		`SELECT id, place_id, homepage_status_code, homepage_title, contact_page_url,
		 robots_txt_allows, enrichment_error, created_at
		 FROM place_enrichments WHERE place_id IN (`+marks+`)`, args...)
	if err != nil {
		return eris.Wrap(err, "sqlite: load enrichments")
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
	return eris.Wrap(erows.Err(), "sqlite: iterate enrichments")
}

func (s *SQLiteStore) ListPlaces(ctx context.Context, filter PlaceFilter) ([]model.Place, error) {
	query := `SELECT ` + placeColumns + ` FROM places WHERE 1=1`
	var args []any

	if filter.Query != "" {
		query += ` AND LOWER(search_query) LIKE ?`
		args = append(args, "%"+strings.ToLower(filter.Query)+"%")
	}
	if filter.Classification != "" {
		query += ` AND classification = ?`
		args = append(args, filter.Classification)
	}
	if filter.MinRating > 0 {
		query += ` AND rating >= ?`
		args = append(args, filter.MinRating)
	}
	query += ` ORDER BY created_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 200
	}
	query += ` LIMIT ?`
	args = append(args, limit)
	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list places")
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
	marks, idArgs := sqlitePlaceholders(ids)
	if err := s.attachRelations(ctx, places, marks, idArgs); err != nil {
		return nil, err
	}
	return places, nil
}

func (s *SQLiteStore) ListUnclassified(ctx context.Context) ([]model.Place, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+placeColumns+` FROM places WHERE classification IS NULL`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list unclassified")
	}
	defer rows.Close()
	return collectPlaces(rows)
}

func (s *SQLiteStore) ListUnscored(ctx context.Context) ([]model.Place, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+placeColumns+` FROM places WHERE location_score IS NULL`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list unscored")
	}
	defer rows.Close()
	return collectPlaces(rows)
}

func (s *SQLiteStore) UpdateClassification(ctx context.Context, placeID int64, label string, confidence float64) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE places SET classification = ?, classification_confidence = ? WHERE id = ?`,
		label, confidence, placeID)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update classification for place %d", placeID)
	}
	return checkRowsAffected(res, "place", placeID)
}

func (s *SQLiteStore) UpdateLocationScore(ctx context.Context, placeID int64, score float64) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE places SET location_score = ? WHERE id = ?`, score, placeID)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update location score for place %d", placeID)
	}
	return checkRowsAffected(res, "place", placeID)
}

func (s *SQLiteStore) SetEnrichedAt(ctx context.Context, placeID int64, t time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE places SET enriched_at = ? WHERE id = ?`, t.UTC(), placeID)
	if err != nil {
		return eris.Wrapf(err, "sqlite: set enriched_at for place %d", placeID)
	}
	return checkRowsAffected(res, "place", placeID)
}

func (s *SQLiteStore) UpsertEnrichment(ctx context.Context, e *model.Enrichment) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO place_enrichments (
			place_id, homepage_status_code, homepage_title, contact_page_url,
			robots_txt_allows, enrichment_error, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (place_id) DO UPDATE SET
			homepage_status_code = excluded.homepage_status_code,
			homepage_title = excluded.homepage_title,
			contact_page_url = excluded.contact_page_url,
			robots_txt_allows = excluded.robots_txt_allows,
			enrichment_error = excluded.enrichment_error`,
		e.PlaceID, e.HomepageStatus, nullStr(e.HomepageTitle), nullStr(e.ContactPageURL),
		e.RobotsAllowed, nullStr(e.EnrichmentError), time.Now().UTC())
	return eris.Wrapf(err, "sqlite: upsert enrichment for place %d", e.PlaceID)
}

func (s *SQLiteStore) InsertEmailIfAbsent(ctx context.Context, placeID int64, email, source string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO place_emails (place_id, email, source, created_at) VALUES (?, ?, ?, ?)`,
		placeID, email, source, time.Now().UTC())
	return eris.Wrapf(err, "sqlite: insert email for place %d", placeID)
}

func (s *SQLiteStore) AggregateCell(ctx context.Context, bbox BBox, category string) (*CellAggregate, error) {
	query := `SELECT COUNT(id), AVG(rating), AVG(price_level) FROM places
		WHERE latitude IS NOT NULL AND longitude IS NOT NULL
		AND latitude >= ? AND latitude < ? AND longitude >= ? AND longitude < ?`
	args := []any{bbox.LatMin, bbox.LatMax, bbox.LngMin, bbox.LngMax}

	if category != "*" {
		query += ` AND LOWER(search_query) LIKE ?`
		args = append(args, "%"+strings.ToLower(category)+"%")
	}

	var agg CellAggregate
	var avgRating, avgPrice sql.NullFloat64
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&agg.Count, &avgRating, &avgPrice); err != nil {
		return nil, eris.Wrap(err, "sqlite: aggregate cell")
	}
	if avgRating.Valid {
		agg.AvgRating = &avgRating.Float64
	}
	if avgPrice.Valid {
		agg.AvgPrice = &avgPrice.Float64
	}
	return &agg, nil
}

func (s *SQLiteStore) AggregateDensity(ctx context.Context, bbox BBox) (*DensityAggregate, error) {
	var agg DensityAggregate
	var avgRating, avgReviews sql.NullFloat64
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(id), AVG(rating), AVG(user_ratings_total) FROM places
		 WHERE latitude BETWEEN ? AND ? AND longitude BETWEEN ? AND ?`,
		bbox.LatMin, bbox.LatMax, bbox.LngMin, bbox.LngMax,
	).Scan(&agg.Count, &avgRating, &avgReviews)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: aggregate density")
	}
	if avgRating.Valid {
		agg.AvgRating = &avgRating.Float64
	}
	if avgReviews.Valid {
		agg.AvgReviews = &avgReviews.Float64
	}
	return &agg, nil
}

func (s *SQLiteStore) CountInBBox(ctx context.Context, bbox BBox, excludePlaceID int64) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(id) FROM places
		 WHERE latitude BETWEEN ? AND ? AND longitude BETWEEN ? AND ? AND id != ?`,
		bbox.LatMin, bbox.LatMax, bbox.LngMin, bbox.LngMax, excludePlaceID,
	).Scan(&count)
	return count, eris.Wrap(err, "sqlite: count in bbox")
}

func (s *SQLiteStore) DeleteHeatmapCells(ctx context.Context, category string, bbox BBox) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM heatmap_cells WHERE category = ?
		 AND grid_lat BETWEEN ? AND ? AND grid_lng BETWEEN ? AND ?`,
		category, bbox.LatMin, bbox.LatMax, bbox.LngMin, bbox.LngMax)
	return eris.Wrapf(err, "sqlite: delete heatmap cells for %s", category)
}

func (s *SQLiteStore) InsertHeatmapCells(ctx context.Context, cells []model.HeatmapCell) error {
	if len(cells) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin heatmap tx")
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO heatmap_cells (grid_lat, grid_lng, category, place_count, avg_rating, avg_price_level, computed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (grid_lat, grid_lng, category) DO UPDATE SET
			place_count = excluded.place_count,
			avg_rating = excluded.avg_rating,
			avg_price_level = excluded.avg_price_level,
			computed_at = excluded.computed_at`)
	if err != nil {
		return eris.Wrap(err, "sqlite: prepare heatmap insert")
	}
	defer stmt.Close()

	for _, c := range cells {
		if _, err := stmt.ExecContext(ctx, c.GridLat, c.GridLng, c.Category,
			c.PlaceCount, c.AvgRating, c.AvgPriceLevel, c.ComputedAt.UTC()); err != nil {
			return eris.Wrap(err, "sqlite: insert heatmap cell")
		}
	}

	return eris.Wrap(tx.Commit(), "sqlite: commit heatmap cells")
}

func (s *SQLiteStore) ListHeatmapCells(ctx context.Context, category string, bbox *BBox) ([]model.HeatmapCell, error) {
	query := `SELECT id, grid_lat, grid_lng, category, place_count, avg_rating, avg_price_level, computed_at
		FROM heatmap_cells WHERE category = ?`
	args := []any{category}
	if bbox != nil {
		query += ` AND grid_lat BETWEEN ? AND ? AND grid_lng BETWEEN ? AND ?`
		args = append(args, bbox.LatMin, bbox.LatMax, bbox.LngMin, bbox.LngMax)
	}
	query += ` ORDER BY grid_lat, grid_lng`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list heatmap cells")
	}
	defer rows.Close()

	var cells []model.HeatmapCell
	for rows.Next() {
		var c model.HeatmapCell
		var avgRating, avgPrice sql.NullFloat64
		if err := rows.Scan(&c.ID, &c.GridLat, &c.GridLng, &c.Category,
			&c.PlaceCount, &avgRating, &avgPrice, &c.ComputedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan heatmap cell")
		}
		if avgRating.Valid {
			c.AvgRating = &avgRating.Float64
		}
		if avgPrice.Valid {
			c.AvgPriceLevel = &avgPrice.Float64
		}
		cells = append(cells, c)
	}
	return cells, eris.Wrap(rows.Err(), "sqlite: iterate heatmap cells")
}

func (s *SQLiteStore) UpsertLocationScore(ctx context.Context, sc *model.LocationScore) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO location_scores (place_id, demand_score, competition_score, accessibility_score, rating_score, composite_score, computed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (place_id) DO UPDATE SET
			demand_score = excluded.demand_score,
			competition_score = excluded.competition_score,
			accessibility_score = excluded.accessibility_score,
			rating_score = excluded.rating_score,
			composite_score = excluded.composite_score,
			computed_at = excluded.computed_at`,
		sc.PlaceID, sc.Demand, sc.Competition, sc.Accessibility, sc.Rating,
		sc.Composite, time.Now().UTC())
	return eris.Wrapf(err, "sqlite: upsert location score for place %d", sc.PlaceID)
}

func (s *SQLiteStore) TopLocations(ctx context.Context, limit int, category string) ([]model.ScoredPlace, error) {
	if limit <= 0 {
		limit = 20
	}
	query := `SELECT ` + prefixColumns("p", placeColumns) + `,
		s.id, s.place_id, s.demand_score, s.competition_score, s.accessibility_score,
		s.rating_score, s.composite_score, s.computed_at
		FROM places p JOIN location_scores s ON s.place_id = p.id`
	var args []any
	if category != "" {
		query += ` WHERE LOWER(p.search_query) LIKE ?`
		args = append(args, "%"+strings.ToLower(category)+"%")
	}
	query += ` ORDER BY s.composite_score DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: top locations")
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
	return out, eris.Wrap(rows.Err(), "sqlite: iterate top locations")
}

// helpers

func sqlitePlaceholders(ids []int64) (string, []any) {
	marks := make([]string, len(ids))
	args := make([]any, len(ids))
	for i, id := range ids {
		marks[i] = "?"
		args[i] = id
	}
	return strings.Join(marks, ", "), args
}

// prefixColumns rewrites "a, b, c" into "p.a, p.b, p.c" for joined selects.
func prefixColumns(alias, cols string) string {
	parts := strings.Split(cols, ",")
	for i, p := range parts {
		parts[i] = alias + "." + strings.TrimSpace(p)
	}
	return strings.Join(parts, ", ")
}

func checkRowsAffected(res sql.Result, entity string, id int64) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Errorf("%s not found: %d", entity, id)
	}
	return nil
}

func nullStr(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func marshalPlaceJSON(p *model.Place) (opening, components, types any, err error) {
	if p.OpeningHours != nil {
		b, err := json.Marshal(p.OpeningHours)
		if err != nil {
			return nil, nil, nil, eris.Wrap(err, "store: marshal opening hours")
		}
		opening = string(b)
	}
	if len(p.AddressComponents) > 0 {
		b, err := json.Marshal(p.AddressComponents)
		if err != nil {
			return nil, nil, nil, eris.Wrap(err, "store: marshal address components")
		}
		components = string(b)
	}
	if len(p.Types) > 0 {
		b, err := json.Marshal(p.Types)
		if err != nil {
			return nil, nil, nil, eris.Wrap(err, "store: marshal types")
		}
		types = string(b)
	}
	return opening, components, types, nil
}

type scannable interface {
	Scan(dest ...any) error
}

// rowIterator is satisfied by both database/sql and pgx result sets.
type rowIterator interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
}

func scanPlace(row scannable) (*model.Place, error) {
	var p model.Place
	var addr, phone, website, opening, components, types, status sql.NullString
	var classification, searchQuery, searchLocation sql.NullString
	var lat, lng, rating, confidence, score, density sql.NullFloat64
	var reviews, priceLevel sql.NullInt64
	var enrichedAt sql.NullTime

	err := row.Scan(&p.ID, &p.ExternalID, &p.Name, &addr, &lat, &lng,
		&rating, &reviews, &phone, &website, &opening, &components,
		&types, &status, &priceLevel, &classification, &confidence,
		&score, &density, &searchQuery, &searchLocation,
		&p.CreatedAt, &p.UpdatedAt, &enrichedAt)
	if err != nil {
		return nil, err
	}

	p.FormattedAddress = addr.String
	p.Phone = phone.String
	p.Website = website.String
	p.BusinessStatus = status.String
	p.Classification = classification.String
	p.SearchQuery = searchQuery.String
	p.SearchLocation = searchLocation.String

	if lat.Valid {
		p.Latitude = &lat.Float64
	}
	if lng.Valid {
		p.Longitude = &lng.Float64
	}
	if rating.Valid {
		p.Rating = &rating.Float64
	}
	if confidence.Valid {
		p.Confidence = &confidence.Float64
	}
	if score.Valid {
		p.LocationScore = &score.Float64
	}
	if density.Valid {
		p.CompetitorDensity = &density.Float64
	}
	if reviews.Valid {
		n := int(reviews.Int64)
		p.UserRatingsTotal = &n
	}
	if priceLevel.Valid {
		n := int(priceLevel.Int64)
		p.PriceLevel = &n
	}
	if enrichedAt.Valid {
		t := enrichedAt.Time
		p.EnrichedAt = &t
	}

	if opening.Valid && opening.String != "" {
		if err := json.Unmarshal([]byte(opening.String), &p.OpeningHours); err != nil {
			return nil, eris.Wrap(err, "store: unmarshal opening hours")
		}
	}
	if components.Valid && components.String != "" {
		if err := json.Unmarshal([]byte(components.String), &p.AddressComponents); err != nil {
			return nil, eris.Wrap(err, "store: unmarshal address components")
		}
	}
	if types.Valid && types.String != "" {
		if err := json.Unmarshal([]byte(types.String), &p.Types); err != nil {
			return nil, eris.Wrap(err, "store: unmarshal types")
		}
	}

	return &p, nil
}

func collectPlaces(rows rowIterator) ([]model.Place, error) {
	var places []model.Place
	for rows.Next() {
		p, err := scanPlace(rows)
		if err != nil {
			return nil, eris.Wrap(err, "store: scan place")
		}
		places = append(places, *p)
	}
	return places, eris.Wrap(rows.Err(), "store: iterate places")
}

func scanEnrichment(row scannable) (*model.Enrichment, error) {
	var e model.Enrichment
	var status sql.NullInt64
	var title, contactURL, errText sql.NullString
	var robots sql.NullBool
	if err := row.Scan(&e.ID, &e.PlaceID, &status, &title, &contactURL,
		&robots, &errText, &e.CreatedAt); err != nil {
		return nil, eris.Wrap(err, "store: scan enrichment")
	}
	if status.Valid {
		n := int(status.Int64)
		e.HomepageStatus = &n
	}
	e.HomepageTitle = title.String
	e.ContactPageURL = contactURL.String
	e.EnrichmentError = errText.String
	if robots.Valid {
		b := robots.Bool
		e.RobotsAllowed = &b
	}
	return &e, nil
}

func scanScoredPlace(rows scannable) (*model.ScoredPlace, error) {
	var sp model.ScoredPlace
	p := &sp.Place
	var addr, phone, website, opening, components, types, status sql.NullString
	var classification, searchQuery, searchLocation sql.NullString
	var lat, lng, rating, confidence, score, density sql.NullFloat64
	var reviews, priceLevel sql.NullInt64
	var enrichedAt sql.NullTime

	err := rows.Scan(&p.ID, &p.ExternalID, &p.Name, &addr, &lat, &lng,
		&rating, &reviews, &phone, &website, &opening, &components,
		&types, &status, &priceLevel, &classification, &confidence,
		&score, &density, &searchQuery, &searchLocation,
		&p.CreatedAt, &p.UpdatedAt, &enrichedAt,
		&sp.Score.ID, &sp.Score.PlaceID, &sp.Score.Demand, &sp.Score.Competition,
		&sp.Score.Accessibility, &sp.Score.Rating, &sp.Score.Composite, &sp.Score.ComputedAt)
	if err != nil {
		return nil, eris.Wrap(err, "store: scan scored place")
	}

	p.FormattedAddress = addr.String
	p.Phone = phone.String
	p.Website = website.String
	p.BusinessStatus = status.String
	p.Classification = classification.String
	p.SearchQuery = searchQuery.String
	p.SearchLocation = searchLocation.String
	if lat.Valid {
		p.Latitude = &lat.Float64
	}
	if lng.Valid {
		p.Longitude = &lng.Float64
	}
	if rating.Valid {
		p.Rating = &rating.Float64
	}
	if confidence.Valid {
		p.Confidence = &confidence.Float64
	}
	if score.Valid {
		p.LocationScore = &score.Float64
	}
	if density.Valid {
		p.CompetitorDensity = &density.Float64
	}
	if reviews.Valid {
		n := int(reviews.Int64)
		p.UserRatingsTotal = &n
	}
	if priceLevel.Valid {
		n := int(priceLevel.Int64)
		p.PriceLevel = &n
	}
	if enrichedAt.Valid {
		t := enrichedAt.Time
		p.EnrichedAt = &t
	}
	if types.Valid && types.String != "" {
		if err := json.Unmarshal([]byte(types.String), &p.Types); err != nil {
			return nil, eris.Wrap(err, "store: unmarshal types")
		}
	}
	if opening.Valid && opening.String != "" {
		if err := json.Unmarshal([]byte(opening.String), &p.OpeningHours); err != nil {
			return nil, eris.Wrap(err, "store: unmarshal opening hours")
		}
	}
	if components.Valid && components.String != "" {
		if err := json.Unmarshal([]byte(components.String), &p.AddressComponents); err != nil {
			return nil, eris.Wrap(err, "store: unmarshal address components")
		}
	}

	return &sp, nil
}

var _ Store = (*SQLiteStore)(nil)
