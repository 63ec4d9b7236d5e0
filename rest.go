package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/akhenakh/heightmap/geotiff"
	"github.com/akhenakh/heightmap/heightmap"
)

type elevationResponse struct {
	Easting  float64 `json:"easting"`
	Northing float64 `json:"northing"`
	Value    float32 `json:"value"`
}

func newRouter(logger *slog.Logger, cfg Config, sampler *geotiff.Sampler, tiles *tileService, metrics *Metrics) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: cfg.CORSOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", healthHandler(sampler))
	r.Get("/elevation/{easting}/{northing}", elevationHandler(logger, sampler, metrics))
	r.Post("/profile", profileHandler(sampler))
	r.Get("/heightmap/layer.json", layerHandler(tiles))
	r.Get("/heightmap/{z}/{x}/{y}.terrain", terrainHandler(logger, tiles, metrics))
	return r
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func healthHandler(sampler *geotiff.Sampler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		minE, minN, maxE, maxN := sampler.Bounds()
		writeJSON(w, http.StatusOK, map[string]any{
			"status":       "ok",
			"bounds":       []float64{minE, minN, maxE, maxN},
			"ragged_edges": sampler.RaggedEdges(),
		})
	}
}

func elevationHandler(logger *slog.Logger, sampler *geotiff.Sampler, metrics *Metrics) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		e, err := strconv.ParseFloat(chi.URLParam(r, "easting"), 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid easting")
			return
		}
		n, err := strconv.ParseFloat(chi.URLParam(r, "northing"), 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid northing")
			return
		}

		value, err := sampler.Sample(e, n)
		if err != nil {
			metrics.sample("rest", resultError)
			logger.Error("sample failed", "easting", e, "northing", n, "error", err)
			writeError(w, http.StatusInternalServerError, fmt.Sprintf("could not retrieve elevation: %v", err))
			return
		}
		if math.IsNaN(float64(value)) {
			metrics.sample("rest", resultOutside)
			writeError(w, http.StatusNotFound, "position is outside the raster")
			return
		}
		metrics.sample("rest", resultOK)
		writeJSON(w, http.StatusOK, elevationResponse{Easting: e, Northing: n, Value: value})
	}
}

func profileHandler(sampler *geotiff.Sampler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var path []geotiff.Point
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&path); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		if len(path) < 2 {
			writeError(w, http.StatusBadRequest, "at least two points are required for a profile")
			return
		}
		profile, err := sampler.Profile(path)
		if errors.Is(err, geotiff.ErrProfileTooLong) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		if err != nil {
			writeError(w, http.StatusInternalServerError, fmt.Sprintf("could not generate profile: %v", err))
			return
		}
		if profile == nil {
			profile = []geotiff.ProfilePoint{}
		}
		writeJSON(w, http.StatusOK, profile)
	}
}

func layerHandler(tiles *tileService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, tiles.layer)
	}
}

func terrainHandler(logger *slog.Logger, tiles *tileService, metrics *Metrics) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var t heightmap.Tile
		var err error
		if t.Z, err = strconv.Atoi(chi.URLParam(r, "z")); err != nil {
			writeError(w, http.StatusBadRequest, "invalid zoom")
			return
		}
		if t.X, err = strconv.Atoi(chi.URLParam(r, "x")); err != nil {
			writeError(w, http.StatusBadRequest, "invalid column")
			return
		}
		if t.Y, err = strconv.Atoi(chi.URLParam(r, "y")); err != nil {
			writeError(w, http.StatusBadRequest, "invalid row")
			return
		}

		data, hit, err := tiles.Tile(t)
		if errors.Is(err, errTileOutOfMatrix) {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		if err != nil {
			logger.Error("terrain tile failed", "tile", t.String(), "error", err)
			writeError(w, http.StatusInternalServerError, "could not build terrain tile")
			return
		}
		metrics.tile(hit)

		w.Header().Set("Content-Type", "application/octet-stream")
		w.Header().Set("Content-Encoding", "gzip")
		w.Header().Set("Content-Length", strconv.Itoa(len(data)))
		w.Write(data)
	}
}
