package export

import (
	"bytes"
	"encoding/csv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/placescope/placescope/internal/model"
)

func ptr[T any](v T) *T { return &v }

func TestWriteCSVStartsWithBOM(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteCSV(&buf, nil))
	assert.True(t, bytes.HasPrefix(buf.Bytes(), []byte{0xEF, 0xBB, 0xBF}))
}

func TestWriteCSVColumns(t *testing.T) {
	created := time.Date(2026, 5, 10, 8, 30, 0, 0, time.UTC)
	enriched := time.Date(2026, 5, 11, 9, 0, 0, 0, time.UTC)

	places := []model.Place{{
		ExternalID:       "place-1",
		Name:             "مقهى الزاوية", // unicode survives the BOM round trip
		FormattedAddress: "1 Main St, Dubai",
		Latitude:         ptr(25.2048),
		Longitude:        ptr(55.2708),
		Rating:           ptr(4.5),
		UserRatingsTotal: ptr(321),
		Phone:            "+971 4 123 4567",
		Website:          "https://corner.example",
		Types:            []string{"cafe", "food"},
		BusinessStatus:   "OPERATIONAL",
		PriceLevel:       ptr(2),
		Classification:   model.ClassLocal,
		Confidence:       ptr(0.123),
		LocationScore:    ptr(0.678),
		CreatedAt:        created,
		EnrichedAt:       &enriched,
		Emails: []model.PlaceEmail{
			{Email: "hello@corner.example"},
			{Email: "orders@corner.example"},
		},
	}}

	var buf bytes.Buffer
	require.NoError(t, WriteCSV(&buf, places))

	r := csv.NewReader(bytes.NewReader(bytes.TrimPrefix(buf.Bytes(), []byte{0xEF, 0xBB, 0xBF})))
	rows, err := r.ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 2)

	assert.Equal(t, []string{
		"Name", "Place ID", "Type", "Address",
		"Latitude", "Longitude", "Rating", "Reviews",
		"Phone", "Website", "Business Status", "Price Level",
		"Classification", "Confidence %", "Location Score %",
		"Emails", "Enriched At", "Created At",
	}, rows[0])

	row := rows[1]
	assert.Equal(t, "مقهى الزاوية", row[0])
	assert.Equal(t, "place-1", row[1])
	assert.Equal(t, "cafe, food", row[2])
	assert.Equal(t, "25.2048", row[4])
	assert.Equal(t, "4.5", row[6])
	assert.Equal(t, "321", row[7])
	assert.Equal(t, "2", row[11])
	assert.Equal(t, "local", row[12])
	assert.Equal(t, "12", row[13])
	assert.Equal(t, "68", row[14])
	assert.Equal(t, "hello@corner.example; orders@corner.example", row[15])
	assert.Equal(t, "2026-05-11T09:00:00Z", row[16])
	assert.Equal(t, "2026-05-10T08:30:00Z", row[17])
}

func TestWriteCSVEmptyOptionalFields(t *testing.T) {
	places := []model.Place{{
		ExternalID: "place-2",
		Name:       "Bare Listing",
		CreatedAt:  time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		Confidence: ptr(0.0),
	}}

	var buf bytes.Buffer
	require.NoError(t, WriteCSV(&buf, places))

	r := csv.NewReader(bytes.NewReader(bytes.TrimPrefix(buf.Bytes(), []byte{0xEF, 0xBB, 0xBF})))
	rows, err := r.ReadAll()
	require.NoError(t, err)
	row := rows[1]

	assert.Empty(t, row[4], "latitude")
	assert.Empty(t, row[7], "reviews")
	assert.Empty(t, row[13], "zero confidence renders empty")
	assert.Empty(t, row[16], "enriched at")
}

func TestFilename(t *testing.T) {
	now := time.Date(2026, 5, 10, 8, 30, 15, 0, time.UTC)
	assert.Equal(t, "places_export_20260510_083015.csv", Filename(now))
}
