// Package server exposes the pipeline and the response cache over HTTP.
package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/ppiankov/ecowatch/internal/cache"
	"github.com/ppiankov/ecowatch/internal/model"
	"github.com/ppiankov/ecowatch/internal/pipeline"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"
)

// CacheHeader reports how a data response was served: HIT, MISS or STALE
const CacheHeader = "X-Cache"

// Server serves cached environmental data over HTTP
type Server struct {
	Router   *chi.Mux
	pipeline *pipeline.Pipeline
	cache    *cache.Cache
}

// New builds the router. Access logs go through log.
func New(p *pipeline.Pipeline, log zerolog.Logger) *Server {
	r := chi.NewRouter()
	r.Use(hlog.NewHandler(log))
	r.Use(hlog.RequestIDHandler("req_id", "X-Request-Id"))
	r.Use(chimw.RealIP)
	r.Use(hlog.RemoteAddrHandler("ip"))
	r.Use(hlog.AccessHandler(func(r *http.Request, status, size int, duration time.Duration) {
		hlog.FromRequest(r).Info().
			Str("method", r.Method).
			Stringer("url", r.URL).
			Int("status", status).
			Int("size", size).
			Dur("duration", duration).
			Msg("request")
	}))
	r.Use(chimw.Recoverer)

	s := &Server{Router: r, pipeline: p, cache: p.Cache()}

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if _, err := w.Write([]byte("ok")); err != nil {
			hlog.FromRequest(r).Error().Err(err).Msg("write health check response")
		}
	})

	r.Route("/api/v1", func(api chi.Router) {
		api.Get("/cache/stats", s.handleStats)
		api.Post("/cache/clear", s.handleClear)
		api.Delete("/cache", s.handleInvalidate)
		api.Get("/{kind}", s.handleData)
	})

	return s
}

// ServeHTTP lets the Server be used as an http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.Router.ServeHTTP(w, r)
}

func (s *Server) handleData(w http.ResponseWriter, r *http.Request) {
	kind, ok := cache.ParseKind(chi.URLParam(r, "kind"))
	if !ok {
		writeError(w, r, http.StatusNotFound, "unknown data kind")
		return
	}

	loc, ok := locationFromQuery(w, r)
	if !ok {
		return
	}

	if refresh, _ := strconv.ParseBool(r.URL.Query().Get("refresh")); refresh {
		s.pipeline.Invalidate(loc)
	}

	data, origin, err := s.pipeline.Fetch(r.Context(), kind, loc)
	if err != nil {
		status := http.StatusBadGateway
		switch {
		case errors.Is(err, pipeline.ErrSourceNotConfigured):
			status = http.StatusNotImplemented
		case errors.Is(err, pipeline.ErrUnknownKind):
			status = http.StatusNotFound
		}
		hlog.FromRequest(r).Warn().
			Err(err).
			Str("kind", string(kind)).
			Str("location", loc.String()).
			Msg("fetch failed")
		writeError(w, r, status, err.Error())
		return
	}

	w.Header().Set(CacheHeader, cacheStatus(origin))
	writeJSON(w, r, http.StatusOK, data)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, s.cache.Stats())
}

func (s *Server) handleClear(w http.ResponseWriter, r *http.Request) {
	s.cache.Clear()
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleInvalidate(w http.ResponseWriter, r *http.Request) {
	loc, ok := locationFromQuery(w, r)
	if !ok {
		return
	}
	s.pipeline.Invalidate(loc)
	w.WriteHeader(http.StatusNoContent)
}

func locationFromQuery(w http.ResponseWriter, r *http.Request) (model.Location, bool) {
	q := r.URL.Query()
	loc := model.Location{
		City:    strings.TrimSpace(q.Get("city")),
		Country: strings.TrimSpace(q.Get("country")),
	}
	if loc.City == "" {
		writeError(w, r, http.StatusBadRequest, "city is required")
		return model.Location{}, false
	}
	return loc, true
}

func cacheStatus(origin pipeline.Origin) string {
	switch origin {
	case pipeline.OriginCache:
		return "HIT"
	case pipeline.OriginFallback:
		return "STALE"
	default:
		return "MISS"
	}
}

func writeJSON(w http.ResponseWriter, r *http.Request, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		hlog.FromRequest(r).Error().Err(err).Msg("write response")
	}
}

func writeError(w http.ResponseWriter, r *http.Request, status int, msg string) {
	writeJSON(w, r, status, map[string]string{"error": msg})
}
