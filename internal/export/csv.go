// Package export renders stored places as CSV.
package export

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/placescope/placescope/internal/model"
)

// utf8BOM makes Excel detect UTF-8 so non-Latin names render correctly.
var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

var csvHeader = []string{
	"Name", "Place ID", "Type", "Address",
	"Latitude", "Longitude", "Rating", "Reviews",
	"Phone", "Website", "Business Status", "Price Level",
	"Classification", "Confidence %", "Location Score %",
	"Emails", "Enriched At", "Created At",
}

// WriteCSV streams the places as a BOM-prefixed CSV document.
func WriteCSV(w io.Writer, places []model.Place) error {
	if _, err := w.Write(utf8BOM); err != nil {
		return eris.Wrap(err, "export: write BOM")
	}

	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return eris.Wrap(err, "export: write header")
	}

	for i := range places {
		if err := cw.Write(placeRow(&places[i])); err != nil {
			return eris.Wrapf(err, "export: write row for %s", places[i].ExternalID)
		}
	}

	cw.Flush()
	return eris.Wrap(cw.Error(), "export: flush")
}

// Filename returns a timestamped download name.
func Filename(now time.Time) string {
	return "places_export_" + now.UTC().Format("20060102_150405") + ".csv"
}

func placeRow(p *model.Place) []string {
	emails := make([]string, 0, len(p.Emails))
	for _, e := range p.Emails {
		emails = append(emails, e.Email)
	}

	return []string{
		p.Name,
		p.ExternalID,
		strings.Join(p.Types, ", "),
		p.FormattedAddress,
		floatField(p.Latitude),
		floatField(p.Longitude),
		floatField(p.Rating),
		intField(p.UserRatingsTotal),
		p.Phone,
		p.Website,
		p.BusinessStatus,
		intField(p.PriceLevel),
		p.Classification,
		percentField(p.Confidence),
		percentField(p.LocationScore),
		strings.Join(emails, "; "),
		timeField(p.EnrichedAt),
		p.CreatedAt.Format(time.RFC3339),
	}
}

func floatField(v *float64) string {
	if v == nil {
		return ""
	}
	return strconv.FormatFloat(*v, 'f', -1, 64)
}

func intField(v *int) string {
	if v == nil {
		return ""
	}
	return strconv.Itoa(*v)
}

// percentField renders a 0-1 fraction as a whole percent; nil and zero
// both render empty.
func percentField(v *float64) string {
	if v == nil || *v == 0 {
		return ""
	}
	return fmt.Sprintf("%.0f", *v*100)
}

func timeField(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.Format(time.RFC3339)
}
