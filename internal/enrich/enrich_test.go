package enrich

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/placescope/placescope/internal/model"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

type fakeStore struct {
	enrichment *model.Enrichment
	emails     map[string]string
	enrichedAt *time.Time
}

func newFakeStore() *fakeStore {
	return &fakeStore{emails: map[string]string{}}
}

func (f *fakeStore) UpsertEnrichment(_ context.Context, e *model.Enrichment) error {
	f.enrichment = e
	return nil
}

func (f *fakeStore) InsertEmailIfAbsent(_ context.Context, _ int64, email, source string) error {
	if _, ok := f.emails[email]; !ok {
		f.emails[email] = source
	}
	return nil
}

func (f *fakeStore) SetEnrichedAt(_ context.Context, _ int64, t time.Time) error {
	f.enrichedAt = &t
	return nil
}

func TestExtractEmails(t *testing.T) {
	html := `
		<p>Write to Info@Example-Shop.ae or sales@example-shop.ae.</p>
		<img src="logo@2x.png">
		<span>icon@sprite.svg</span>
		<p>placeholder: user@example.com, crash@sentry.io</p>
		<p>dup: INFO@EXAMPLE-SHOP.AE</p>`

	got := extractEmails(html)
	assert.Equal(t, []string{"info@example-shop.ae", "sales@example-shop.ae"}, got)
}

func TestExtractEmailsSkipsImageSuffixes(t *testing.T) {
	got := extractEmails(`banner@hero.jpg hello@real-cafe.com pic@photo.webp`)
	assert.Equal(t, []string{"hello@real-cafe.com"}, got)
}

func TestFindContactPage(t *testing.T) {
	tests := []struct {
		name string
		html string
		want string
	}{
		{
			name: "anchor text match",
			html: `<a href="/reach">Contact Us</a>`,
			want: "https://shop.example/reach",
		},
		{
			name: "href match",
			html: `<a href="/kontakt">Impressum</a>`,
			want: "https://shop.example/kontakt",
		},
		{
			name: "external domain skipped",
			html: `<a href="https://other.example/contact">Contact</a>`,
			want: "",
		},
		{
			name: "no match",
			html: `<a href="/menu">Menu</a>`,
			want: "",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			doc, err := goquery.NewDocumentFromReader(strings.NewReader(tt.html))
			require.NoError(t, err)
			assert.Equal(t, tt.want, findContactPage(doc, "https://shop.example"))
		})
	}
}

func TestEnrichPlaceHappyPath(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/robots.txt", func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte("User-agent: *\nAllow: /\n")) //nolint:errcheck
	})
	mux.HandleFunc("/", func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(`<html><head><title>Corner Cafe</title></head>` + //nolint:errcheck
			`<body>hello@corner-cafe.net <a href="/contact">Get in touch</a></body></html>`))
	})
	mux.HandleFunc("/contact", func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(`<html><body>hello@corner-cafe.net orders@corner-cafe.net</body></html>`)) //nolint:errcheck
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	st := newFakeStore()
	e := New(st, WithHTTPClient(srv.Client()))

	p := &model.Place{ID: 1, Name: "Corner Cafe", Website: srv.URL}
	require.NoError(t, e.EnrichPlace(context.Background(), p))

	require.NotNil(t, st.enrichment)
	require.NotNil(t, st.enrichment.HomepageStatus)
	assert.Equal(t, 200, *st.enrichment.HomepageStatus)
	assert.Equal(t, "Corner Cafe", st.enrichment.HomepageTitle)
	assert.Equal(t, srv.URL+"/contact", st.enrichment.ContactPageURL)
	require.NotNil(t, st.enrichment.RobotsAllowed)
	assert.True(t, *st.enrichment.RobotsAllowed)
	assert.Empty(t, st.enrichment.EnrichmentError)

	// Homepage source wins for emails seen on both pages.
	assert.Equal(t, model.EmailSourceHomepage, st.emails["hello@corner-cafe.net"])
	assert.Equal(t, model.EmailSourceContactPage, st.emails["orders@corner-cafe.net"])

	require.NotNil(t, st.enrichedAt)
	require.NotNil(t, p.EnrichedAt)
}

func TestEnrichPlaceBlockedByRobots(t *testing.T) {
	var homepageHits int
	mux := http.NewServeMux()
	mux.HandleFunc("/robots.txt", func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte("User-agent: *\nDisallow: /\n")) //nolint:errcheck
	})
	mux.HandleFunc("/", func(w http.ResponseWriter, _ *http.Request) {
		homepageHits++
		w.Write([]byte("<html></html>")) //nolint:errcheck
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	st := newFakeStore()
	e := New(st, WithHTTPClient(srv.Client()))

	p := &model.Place{ID: 1, Name: "Corner Cafe", Website: srv.URL}
	require.NoError(t, e.EnrichPlace(context.Background(), p))

	require.NotNil(t, st.enrichment)
	require.NotNil(t, st.enrichment.RobotsAllowed)
	assert.False(t, *st.enrichment.RobotsAllowed)
	assert.Equal(t, robotsBlockedError, st.enrichment.EnrichmentError)
	assert.Nil(t, st.enrichment.HomepageStatus)
	assert.Zero(t, homepageHits)
	require.NotNil(t, st.enrichedAt, "failed attempts still stamp enriched_at")
}

func TestEnrichPlaceIgnoresRobotsWhenDisabled(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/robots.txt", func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte("User-agent: *\nDisallow: /\n")) //nolint:errcheck
	})
	mux.HandleFunc("/", func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(`<html><head><title>Home</title></head></html>`)) //nolint:errcheck
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	st := newFakeStore()
	e := New(st, WithHTTPClient(srv.Client()), WithRespectRobots(false))

	p := &model.Place{ID: 1, Name: "Corner Cafe", Website: srv.URL}
	require.NoError(t, e.EnrichPlace(context.Background(), p))

	require.NotNil(t, st.enrichment)
	require.NotNil(t, st.enrichment.RobotsAllowed, "disabled checks record the crawl as allowed")
	assert.True(t, *st.enrichment.RobotsAllowed)
	assert.Equal(t, "Home", st.enrichment.HomepageTitle)
}

func TestEnrichPlaceRecordsErrorStatus(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/robots.txt", func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte("User-agent: *\nAllow: /\n")) //nolint:errcheck
	})
	mux.HandleFunc("/", func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	st := newFakeStore()
	e := New(st, WithHTTPClient(srv.Client()))

	p := &model.Place{ID: 1, Name: "Corner Cafe", Website: srv.URL}
	require.NoError(t, e.EnrichPlace(context.Background(), p))

	require.NotNil(t, st.enrichment)
	require.NotNil(t, st.enrichment.HomepageStatus)
	assert.Equal(t, 500, *st.enrichment.HomepageStatus)
	assert.Empty(t, st.enrichment.HomepageTitle)
	assert.Empty(t, st.emails)
}

func TestEnrichPlaceSkipsWithoutWebsite(t *testing.T) {
	st := newFakeStore()
	e := New(st)

	p := &model.Place{ID: 1, Name: "No Website"}
	require.NoError(t, e.EnrichPlace(context.Background(), p))
	assert.Nil(t, st.enrichment)
	assert.Nil(t, st.enrichedAt)
}

func TestEnrichBatchContinuesOnFailure(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/robots.txt", func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte("User-agent: *\nAllow: /\n")) //nolint:errcheck
	})
	mux.HandleFunc("/", func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(`<html><head><title>Up</title></head></html>`)) //nolint:errcheck
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	st := newFakeStore()
	e := New(st, WithHTTPClient(srv.Client()))

	places := []model.Place{
		{ID: 1, Name: "Dead Site", Website: "http://127.0.0.1:1/"},
		{ID: 2, Name: "Live Site", Website: srv.URL},
	}
	got := e.EnrichBatch(context.Background(), places)
	require.Len(t, got, 2)
	require.NotNil(t, st.enrichment)
	assert.Equal(t, "Up", st.enrichment.HomepageTitle)
}
