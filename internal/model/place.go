package model

import "time"

// Classification labels assigned by the classifier.
const (
	ClassBrand = "brand"
	ClassLocal = "local"
)

// Email source tags.
const (
	EmailSourceHomepage    = "homepage"
	EmailSourceContactPage = "contact_page"
)

// OpeningHours is the flattened opening-hours summary stored per place.
type OpeningHours struct {
	OpenNow     *bool    `json:"open_now,omitempty"`
	WeekdayText []string `json:"weekday_text,omitempty"`
}

// Place is the canonical listing produced by ingestion. ExternalID is the
// stable provider id and the natural key for dedup; ID is the internal
// storage key every derived record hangs off.
type Place struct {
	ID                int64          `json:"id"`
	ExternalID        string         `json:"external_id"`
	Name              string         `json:"name"`
	FormattedAddress  string         `json:"formatted_address,omitempty"`
	Latitude          *float64       `json:"latitude,omitempty"`
	Longitude         *float64       `json:"longitude,omitempty"`
	Rating            *float64       `json:"rating,omitempty"`
	UserRatingsTotal  *int           `json:"user_ratings_total,omitempty"`
	Phone             string         `json:"phone,omitempty"`
	Website           string         `json:"website,omitempty"`
	OpeningHours      *OpeningHours  `json:"opening_hours,omitempty"`
	AddressComponents []AddressPart  `json:"address_components,omitempty"`
	Types             []string       `json:"types,omitempty"`
	BusinessStatus    string         `json:"business_status,omitempty"`
	PriceLevel        *int           `json:"price_level,omitempty"`
	Classification    string         `json:"classification,omitempty"`
	Confidence        *float64       `json:"classification_confidence,omitempty"`
	LocationScore     *float64       `json:"location_score,omitempty"`
	CompetitorDensity *float64       `json:"competitor_density,omitempty"`
	SearchQuery       string         `json:"search_query,omitempty"`
	SearchLocation    string         `json:"search_location,omitempty"`
	CreatedAt         time.Time      `json:"created_at"`
	UpdatedAt         time.Time      `json:"updated_at"`
	EnrichedAt        *time.Time     `json:"enriched_at,omitempty"`
	Emails            []PlaceEmail   `json:"emails,omitempty"`
	Enrichment        *Enrichment    `json:"enrichment,omitempty"`
}

// AddressPart is one provider address component.
type AddressPart struct {
	LongText  string   `json:"long_text,omitempty"`
	ShortText string   `json:"short_text,omitempty"`
	Types     []string `json:"types,omitempty"`
}

// PlaceEmail is a contact email discovered during enrichment.
// (PlaceID, Email) is unique; rows are insert-only.
type PlaceEmail struct {
	ID        int64     `json:"id"`
	PlaceID   int64     `json:"place_id"`
	Email     string    `json:"email"`
	Source    string    `json:"source,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Enrichment records the outcome of the latest enrichment attempt for a
// place. At most one row per place; overwritten on every attempt.
type Enrichment struct {
	ID              int64     `json:"id"`
	PlaceID         int64     `json:"place_id"`
	HomepageStatus  *int      `json:"homepage_status_code,omitempty"`
	HomepageTitle   string    `json:"homepage_title,omitempty"`
	ContactPageURL  string    `json:"contact_page_url,omitempty"`
	RobotsAllowed   *bool     `json:"robots_txt_allows,omitempty"`
	EnrichmentError string    `json:"enrichment_error,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
}

// HeatmapCell holds aggregate competitor stats for one grid square of a
// category, keyed by its SW corner.
type HeatmapCell struct {
	ID            int64     `json:"id"`
	GridLat       float64   `json:"grid_lat"`
	GridLng       float64   `json:"grid_lng"`
	Category      string    `json:"category"`
	PlaceCount    int       `json:"place_count"`
	AvgRating     *float64  `json:"avg_rating,omitempty"`
	AvgPriceLevel *float64  `json:"avg_price_level,omitempty"`
	ComputedAt    time.Time `json:"computed_at"`
}

// LocationScore holds the weighted sub-scores and composite for a place.
// At most one row per place.
type LocationScore struct {
	ID            int64     `json:"id"`
	PlaceID       int64     `json:"place_id"`
	Demand        float64   `json:"demand_score"`
	Competition   float64   `json:"competition_score"`
	Accessibility float64   `json:"accessibility_score"`
	Rating        float64   `json:"rating_score"`
	Composite     float64   `json:"composite_score"`
	ComputedAt    time.Time `json:"computed_at"`
}

// ScoredPlace joins a place to its location score for ranked reads.
type ScoredPlace struct {
	Place Place         `json:"place"`
	Score LocationScore `json:"score"`
}
