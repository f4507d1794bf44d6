package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"github.com/twpayne/go-geom"
	"go.uber.org/zap"

	"github.com/placescope/placescope/internal/export"
	"github.com/placescope/placescope/internal/heatmap"
	"github.com/placescope/placescope/internal/pipeline"
	"github.com/placescope/placescope/internal/store"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API server",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initApp(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		api := &apiServer{env: env}

		r := chi.NewRouter()
		r.Use(middleware.RequestID)
		r.Use(middleware.Recoverer)
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: []string{"*"},
			AllowedMethods: []string{"GET", "POST", "OPTIONS"},
			AllowedHeaders: []string{"Accept", "Content-Type"},
		}))

		r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		})
		r.Post("/search", api.handleSearch)
		r.Post("/search/stream", api.handleSearchStream)
		r.Get("/places", api.handleListPlaces)
		r.Get("/places/{id}", api.handleGetPlace)
		r.Post("/heatmap", api.handleComputeHeatmap)
		r.Get("/heatmap", api.handleGetHeatmap)
		r.Get("/density", api.handleDensity)
		r.Post("/score", api.handleScore)
		r.Get("/top-locations", api.handleTopLocations)
		r.Get("/export/csv", api.handleExportCSV)

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		srv := &http.Server{
			Addr:    fmt.Sprintf(":%d", port),
			Handler: r,
		}

		// Graceful shutdown
		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			srv.Shutdown(ctx)
		}()

		zap.L().Info("starting server", zap.Int("port", port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return eris.Wrap(err, "server listen")
		}

		return nil
	},
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}

type apiServer struct {
	env *appEnv
}

func (s *apiServer) handleSearch(w http.ResponseWriter, r *http.Request) {
	var req pipeline.SearchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Query == "" {
		writeError(w, http.StatusBadRequest, "query is required")
		return
	}

	result, err := s.env.Pipeline.Search(r.Context(), req)
	if err != nil {
		zap.L().Error("search failed", zap.String("query", req.Query), zap.Error(err))
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// handleSearchStream runs the search and streams progress and the final
// result as server-sent events.
func (s *apiServer) handleSearchStream(w http.ResponseWriter, r *http.Request) {
	var req pipeline.SearchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Query == "" {
		writeError(w, http.StatusBadRequest, "query is required")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	events := s.env.Pipeline.SearchProgressive(r.Context(), req)
	for ev := range events {
		var payload any
		switch ev.Type {
		case pipeline.EventProgress:
			payload = ev.Progress
		case pipeline.EventResult:
			payload = ev.Result
		default:
			payload = map[string]string{"error": ev.Error}
		}
		data, err := json.Marshal(payload)
		if err != nil {
			zap.L().Error("stream encode failed", zap.Error(err))
			// Drain so the producer goroutine can finish and close.
			for range events {
			}
			return
		}
		fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Type, data)
		flusher.Flush()
	}
}

func (s *apiServer) handleListPlaces(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := store.PlaceFilter{
		Query:          q.Get("query"),
		Classification: q.Get("classification"),
		MinRating:      floatQuery(q.Get("min_rating"), 0),
		Limit:          clampInt(intQuery(q.Get("limit"), 200), 1, 500),
		Offset:         intQuery(q.Get("offset"), 0),
	}

	placesList, err := s.env.Store.ListPlaces(r.Context(), filter)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"total":  len(placesList),
		"places": placesList,
	})
}

func (s *apiServer) handleGetPlace(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid place id")
		return
	}

	place, err := s.env.Store.GetPlaceByID(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if place == nil {
		writeError(w, http.StatusNotFound, "Place not found")
		return
	}
	writeJSON(w, http.StatusOK, place)
}

type heatmapRequest struct {
	Category string  `json:"category"`
	LatMin   float64 `json:"lat_min"`
	LatMax   float64 `json:"lat_max"`
	LngMin   float64 `json:"lng_min"`
	LngMax   float64 `json:"lng_max"`
	GridSize float64 `json:"grid_size"`
}

func (s *apiServer) handleComputeHeatmap(w http.ResponseWriter, r *http.Request) {
	var req heatmapRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Category == "" {
		req.Category = "*"
	}
	if req.GridSize <= 0 {
		req.GridSize = heatmap.DefaultGridSize
	}
	if req.LatMin >= req.LatMax || req.LngMin >= req.LngMax {
		writeError(w, http.StatusBadRequest, "invalid bounding box")
		return
	}

	bounds := heatmap.Bounds(req.LatMin, req.LatMax, req.LngMin, req.LngMax)
	cells, err := s.env.Heatmap.ComputeHeatmap(r.Context(), req.Category, bounds, req.GridSize)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"category":    req.Category,
		"total_cells": len(cells),
		"cells":       cells,
	})
}

func (s *apiServer) handleGetHeatmap(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	category := q.Get("category")
	if category == "" {
		category = "*"
	}

	var bounds *geom.Bounds
	if q.Get("lat_min") != "" || q.Get("lat_max") != "" {
		bounds = heatmap.Bounds(
			floatQuery(q.Get("lat_min"), -90),
			floatQuery(q.Get("lat_max"), 90),
			floatQuery(q.Get("lng_min"), -180),
			floatQuery(q.Get("lng_max"), 180),
		)
	}

	cells, err := s.env.Heatmap.GetHeatmap(r.Context(), category, bounds)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"category":    category,
		"total_cells": len(cells),
		"cells":       cells,
	})
}

func (s *apiServer) handleDensity(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if q.Get("lat") == "" || q.Get("lng") == "" {
		writeError(w, http.StatusBadRequest, "lat and lng are required")
		return
	}
	lat := floatQuery(q.Get("lat"), 0)
	lng := floatQuery(q.Get("lng"), 0)
	radius := floatQuery(q.Get("radius_km"), heatmap.DefaultDensityRadiusKm)

	point, err := s.env.Heatmap.DensityForPoint(r.Context(), lat, lng, radius)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, point)
}

func (s *apiServer) handleScore(w http.ResponseWriter, r *http.Request) {
	var req struct {
		PlaceIDs []int64 `json:"place_ids"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if len(req.PlaceIDs) == 0 {
		writeError(w, http.StatusBadRequest, "place_ids is required")
		return
	}

	placesList, err := s.env.Store.GetPlacesByIDs(r.Context(), req.PlaceIDs)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if len(placesList) == 0 {
		writeError(w, http.StatusNotFound, "Place not found")
		return
	}

	scores, err := s.env.Scoring.ScorePlaces(r.Context(), placesList)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"total":  len(scores),
		"scores": scores,
	})
}

func (s *apiServer) handleTopLocations(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit := clampInt(intQuery(q.Get("limit"), 20), 1, 100)

	top, err := s.env.Scoring.TopLocations(r.Context(), limit, q.Get("category"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"total":     len(top),
		"locations": top,
	})
}

func (s *apiServer) handleExportCSV(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := store.PlaceFilter{
		Query:          q.Get("query"),
		Classification: q.Get("classification"),
		MinRating:      floatQuery(q.Get("min_rating"), 0),
		Limit:          clampInt(intQuery(q.Get("limit"), 500), 1, 2000),
	}

	placesList, err := s.env.Store.ListPlaces(r.Context(), filter)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition",
		fmt.Sprintf("attachment; filename=%s", export.Filename(time.Now())))
	w.WriteHeader(http.StatusOK)
	if err := export.WriteCSV(w, placesList); err != nil {
		zap.L().Error("csv export failed", zap.Error(err))
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Error("response encode failed", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func floatQuery(s string, def float64) float64 {
	if s == "" {
		return def
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return def
	}
	return v
}

func intQuery(s string, def int) int {
	if s == "" {
		return def
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return v
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
