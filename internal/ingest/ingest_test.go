package ingest

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/placescope/placescope/internal/model"
	"github.com/placescope/placescope/pkg/places"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

type fakeStore struct {
	byExternal map[string]*model.Place
	nextID     int64
	upserts    []model.Place
}

func newFakeStore() *fakeStore {
	return &fakeStore{byExternal: map[string]*model.Place{}}
}

func (f *fakeStore) GetPlaceByExternalID(_ context.Context, externalID string) (*model.Place, error) {
	return f.byExternal[externalID], nil
}

func (f *fakeStore) UpsertPlace(_ context.Context, p *model.Place) (int64, error) {
	if existing, ok := f.byExternal[p.ExternalID]; ok {
		p.ID = existing.ID
	} else {
		f.nextID++
		p.ID = f.nextID
	}
	cp := *p
	f.byExternal[p.ExternalID] = &cp
	f.upserts = append(f.upserts, cp)
	return p.ID, nil
}

func (f *fakeStore) GetPlacesByIDs(_ context.Context, ids []int64) ([]model.Place, error) {
	var out []model.Place
	for _, id := range ids {
		for _, p := range f.byExternal {
			if p.ID == id {
				out = append(out, *p)
			}
		}
	}
	return out, nil
}

type fakeDetails struct {
	records map[string]*places.Record
	err     error
	calls   []string
}

func (f *fakeDetails) GetPlaceDetails(_ context.Context, externalID string) (*places.Record, error) {
	f.calls = append(f.calls, externalID)
	if f.err != nil {
		return nil, f.err
	}
	if r, ok := f.records[externalID]; ok {
		return r, nil
	}
	return &places.Record{}, nil
}

func TestIngestRecordsSkipsMissingID(t *testing.T) {
	st := newFakeStore()
	in := New(st, &fakeDetails{})

	got, err := in.IngestRecords(context.Background(),
		[]places.Record{{DisplayName: places.DisplayName{Text: "No ID Cafe"}}},
		"coffee", "")
	require.NoError(t, err)
	assert.Empty(t, got)
	assert.Empty(t, st.upserts)
}

func TestIngestRecordsPrefersDetails(t *testing.T) {
	st := newFakeStore()
	details := &fakeDetails{records: map[string]*places.Record{
		"p1": {
			ID:          "p1",
			DisplayName: places.DisplayName{Text: "Full Name From Details"},
			Types:       []string{"cafe"},
		},
	}}
	in := New(st, details)

	got, err := in.IngestRecords(context.Background(),
		[]places.Record{{ID: "p1", DisplayName: places.DisplayName{Text: "Short Name"}}},
		"coffee", "25.2,55.3")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "Full Name From Details", got[0].Name)
	assert.Equal(t, "coffee", got[0].SearchQuery)
	assert.Equal(t, "25.2,55.3", got[0].SearchLocation)
	assert.Equal(t, []string{"p1"}, details.calls)
}

func TestIngestRecordsFallsBackOnDetailsError(t *testing.T) {
	st := newFakeStore()
	in := New(st, &fakeDetails{err: errors.New("quota exceeded")})

	got, err := in.IngestRecords(context.Background(),
		[]places.Record{{ID: "p1", DisplayName: places.DisplayName{Text: "Search Name"}}},
		"coffee", "")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "Search Name", got[0].Name)
}

func TestIngestRecordsFallsBackOnEmptyDetails(t *testing.T) {
	st := newFakeStore()
	in := New(st, &fakeDetails{})

	got, err := in.IngestRecords(context.Background(),
		[]places.Record{{ID: "p1", DisplayName: places.DisplayName{Text: "Search Name"}}},
		"coffee", "")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "Search Name", got[0].Name)
}

func TestIngestRecordsReusesExisting(t *testing.T) {
	st := newFakeStore()
	details := &fakeDetails{}
	in := New(st, details)

	_, err := st.UpsertPlace(context.Background(), &model.Place{
		ExternalID:     "p1",
		Name:           "Already Stored",
		Classification: model.ClassBrand,
	})
	require.NoError(t, err)
	st.upserts = nil

	got, err := in.IngestRecords(context.Background(),
		[]places.Record{{ID: "p1", DisplayName: places.DisplayName{Text: "Fresh Name"}}},
		"coffee", "")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "Already Stored", got[0].Name)
	assert.Equal(t, model.ClassBrand, got[0].Classification)
	assert.Empty(t, details.calls, "known places skip the details fetch")
	assert.Empty(t, st.upserts)
}
