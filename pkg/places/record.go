package places

import (
	"math"

	"github.com/placescope/placescope/internal/model"
)

// Record is a raw provider place object, shaped by the field mask.
type Record struct {
	ID                  string             `json:"id"`
	DisplayName         DisplayName        `json:"displayName"`
	FormattedAddress    string             `json:"formattedAddress"`
	Location            *latLng            `json:"location"`
	Rating              *float64           `json:"rating"`
	UserRatingCount     *int               `json:"userRatingCount"`
	NationalPhoneNumber string             `json:"nationalPhoneNumber"`
	WebsiteURI          string             `json:"websiteUri"`
	RegularOpeningHours *rawOpeningHours   `json:"regularOpeningHours"`
	AddressComponents   []AddressComponent `json:"addressComponents"`
	Types               []string           `json:"types"`
	BusinessStatus      string             `json:"businessStatus"`
	PriceLevel          string             `json:"priceLevel"`
}

// DisplayName holds a place's localized display name.
type DisplayName struct {
	Text string `json:"text"`
}

// AddressComponent is one structured address part.
type AddressComponent struct {
	LongText  string   `json:"longText"`
	ShortText string   `json:"shortText"`
	Types     []string `json:"types"`
}

type latLng struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

type rawOpeningHours struct {
	OpenNow             *bool    `json:"openNow"`
	WeekdayDescriptions []string `json:"weekdayDescriptions"`
}

// IsZero reports whether the record carries no data, e.g. a details-cache
// short circuit.
func (r *Record) IsZero() bool {
	return r == nil || r.ID == "" && r.DisplayName.Text == ""
}

var priceLevelMap = map[string]int{
	"PRICE_LEVEL_FREE":           0,
	"PRICE_LEVEL_INEXPENSIVE":    1,
	"PRICE_LEVEL_MODERATE":       2,
	"PRICE_LEVEL_EXPENSIVE":      3,
	"PRICE_LEVEL_VERY_EXPENSIVE": 4,
}

// Normalize flattens a provider record into the canonical listing shape:
// nested display name and location are lifted, the price-level enum becomes
// a 0-4 integer, and opening hours collapse to the stored summary.
func Normalize(raw Record) model.Place {
	p := model.Place{
		ExternalID:       raw.ID,
		Name:             raw.DisplayName.Text,
		FormattedAddress: raw.FormattedAddress,
		Rating:           raw.Rating,
		UserRatingsTotal: raw.UserRatingCount,
		Phone:            raw.NationalPhoneNumber,
		Website:          raw.WebsiteURI,
		Types:            raw.Types,
		BusinessStatus:   raw.BusinessStatus,
	}

	if raw.Location != nil {
		lat, lng := raw.Location.Latitude, raw.Location.Longitude
		p.Latitude = &lat
		p.Longitude = &lng
	}

	if raw.RegularOpeningHours != nil {
		p.OpeningHours = &model.OpeningHours{
			OpenNow:     raw.RegularOpeningHours.OpenNow,
			WeekdayText: raw.RegularOpeningHours.WeekdayDescriptions,
		}
	}

	for _, ac := range raw.AddressComponents {
		p.AddressComponents = append(p.AddressComponents, model.AddressPart{
			LongText:  ac.LongText,
			ShortText: ac.ShortText,
			Types:     ac.Types,
		})
	}

	if lvl, ok := priceLevelMap[raw.PriceLevel]; ok {
		p.PriceLevel = &lvl
	}

	return p
}

const (
	kmPerDegreeLat = 111.32
	maxCellsAxis   = 5
	targetCellKm   = 2.0
)

// tileCenters lays out the square grid of sub-search centers covering a
// circle of radiusKm around the given center, returning the centers and the
// per-tile radius in km. The grid is capped at 5x5 tiles.
func tileCenters(centerLat, centerLng, radiusKm float64) ([]latLng, float64) {
	cellRadiusKm := math.Min(targetCellKm, radiusKm)
	cellsPerAxis := int(math.Ceil(radiusKm / cellRadiusKm))
	if cellsPerAxis < 1 {
		cellsPerAxis = 1
	}
	if cellsPerAxis > maxCellsAxis {
		cellsPerAxis = maxCellsAxis
	}
	cellRadiusKm = radiusKm / float64(cellsPerAxis)

	latStep := (cellRadiusKm * 2) / kmPerDegreeLat
	lngStep := (cellRadiusKm * 2) / (kmPerDegreeLat * math.Cos(centerLat*math.Pi/180))

	centers := make([]latLng, 0, cellsPerAxis*cellsPerAxis)
	half := float64(cellsPerAxis-1) / 2.0
	for row := 0; row < cellsPerAxis; row++ {
		for col := 0; col < cellsPerAxis; col++ {
			centers = append(centers, latLng{
				Latitude:  centerLat + (float64(row)-half)*latStep,
				Longitude: centerLng + (float64(col)-half)*lngStep,
			})
		}
	}
	return centers, cellRadiusKm
}
