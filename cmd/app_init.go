package main

import (
	"context"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/placescope/placescope/internal/classify"
	"github.com/placescope/placescope/internal/enrich"
	"github.com/placescope/placescope/internal/heatmap"
	"github.com/placescope/placescope/internal/ingest"
	"github.com/placescope/placescope/internal/pipeline"
	"github.com/placescope/placescope/internal/scoring"
	"github.com/placescope/placescope/internal/store"
	"github.com/placescope/placescope/pkg/places"
)

// appEnv holds the initialized store, clients, and pipeline stages shared
// by the commands.
type appEnv struct {
	Store      store.Store
	Places     *places.Client
	Classifier *classify.Classifier
	Enricher   *enrich.Enricher
	Heatmap    *heatmap.Engine
	Scoring    *scoring.Engine
	Pipeline   *pipeline.Pipeline
}

// Close waits for background enrichment and releases the store.
func (env *appEnv) Close() {
	if env.Pipeline != nil {
		_ = env.Pipeline.Wait()
	}
	if env.Store != nil {
		_ = env.Store.Close()
	}
}

func initStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		dsn := cfg.Store.DatabaseURL
		if dsn == "" {
			dsn = "placescope.db"
		}
		return store.NewSQLite(dsn)
	case "postgres":
		return store.NewPostgresURL(ctx, cfg.Store.DatabaseURL)
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}

// initApp sets up the store and all pipeline stages. Callers should
// defer env.Close().
func initApp(ctx context.Context) (*appEnv, error) {
	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}

	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}

	if cfg.Places.APIKey == "" {
		zap.L().Warn("PLACESCOPE_PLACES_API_KEY not set, search commands will fail")
	}

	rps := cfg.Places.RequestsPerSecond
	if rps <= 0 {
		rps = 5
	}
	burst := int(rps)
	if burst < 1 {
		burst = 1
	}
	placesClient := places.NewClient(cfg.Places.APIKey,
		places.WithRateLimiter(rate.NewLimiter(rate.Limit(rps), burst)),
		places.WithMaxRetries(cfg.Places.MaxRetries),
	)

	enricher := enrich.New(st,
		enrich.WithHTTPClient(&http.Client{Timeout: time.Duration(cfg.Enrich.TimeoutSecs) * time.Second}),
		enrich.WithRespectRobots(cfg.Enrich.RespectRobots),
	)

	classifier := classify.New(st)
	scorer := scoring.New(st)
	ingestor := ingest.New(st, placesClient)

	return &appEnv{
		Store:      st,
		Places:     placesClient,
		Classifier: classifier,
		Enricher:   enricher,
		Heatmap:    heatmap.New(st),
		Scoring:    scorer,
		Pipeline:   pipeline.New(placesClient, ingestor, classifier, enricher, scorer, st),
	}, nil
}
