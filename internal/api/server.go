// Package api serves stored terminals over HTTP: a JSON listing, per-line
// detail, an HTML map and a GeoJSON export.
package api

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/bluele/gcache"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/paulmach/orb"

	"github.com/banshee-data/busterminals/internal/db"
	"github.com/banshee-data/busterminals/internal/monitoring"
	"github.com/banshee-data/busterminals/internal/version"
	"github.com/banshee-data/busterminals/internal/visualiser"
)

const (
	mapCacheSize = 512
	mapCacheTTL  = 30 * time.Minute
)

// TerminalReader reads persisted terminals. *db.DB implements it.
type TerminalReader interface {
	Terminals(ctx context.Context) ([]db.StoredTerminal, error)
	Terminal(ctx context.Context, lineID string) (*db.StoredTerminal, error)
}

// Server serves stored terminals as JSON, GeoJSON and HTML maps, and mounts
// the admin routes under /debug.
type Server struct {
	store   TerminalReader
	admin   http.Handler
	origins []string
	maps    gcache.Cache
}

// NewServer builds a server over store. admin, when non-nil, is mounted
// under /debug/. origins lists the CORS origins allowed to call the API; an
// empty list allows any origin.
func NewServer(store TerminalReader, admin http.Handler, origins []string) *Server {
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	return &Server{
		store:   store,
		admin:   admin,
		origins: origins,
		maps: gcache.New(mapCacheSize).
			LRU().
			Expiration(mapCacheTTL).
			Build(),
	}
}

// Router returns the HTTP handler for every route.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(LoggingMiddleware)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.origins,
		AllowedMethods: []string{"GET", "OPTIONS"},
		AllowedHeaders: []string{"*"},
		MaxAge:         300,
	}))

	r.Get("/healthz", s.healthz)
	r.Get("/api/lines", s.listLines)
	r.Get("/api/lines/{line}", s.getLine)
	r.Get("/api/lines/{line}/map", s.lineMap)
	r.Get("/api/lines/{line}/geojson", s.lineGeoJSON)

	if s.admin != nil {
		r.Mount("/debug", s.admin)
	}
	return r
}

func (s *Server) healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"version": version.String(),
	})
}

// lineSummary is one row of the /api/lines listing.
type lineSummary struct {
	LineID     string     `json:"line_id"`
	Status     string     `json:"status"`
	Start      *orb.Point `json:"start"`
	End        *orb.Point `json:"end"`
	Degenerate bool       `json:"degenerate"`
	Samples    int        `json:"samples"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

func (s *Server) listLines(w http.ResponseWriter, r *http.Request) {
	stored, err := s.store.Terminals(r.Context())
	if err != nil {
		monitoring.Logf("list terminals: %v", err)
		internalServerError(w, "failed to list terminals")
		return
	}

	out := make([]lineSummary, 0, len(stored))
	for _, st := range stored {
		out = append(out, lineSummary{
			LineID:     st.LineID,
			Status:     string(st.Status),
			Start:      st.Start,
			End:        st.End,
			Degenerate: st.Degenerate,
			Samples:    st.Samples,
			UpdatedAt:  st.UpdatedAt,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) getLine(w http.ResponseWriter, r *http.Request) {
	st, ok := s.lookup(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) lineMap(w http.ResponseWriter, r *http.Request) {
	st, ok := s.lookup(w, r)
	if !ok {
		return
	}

	key := st.LineID + "@" + strconv.FormatInt(st.UpdatedAt.UnixNano(), 10)
	var page []byte
	if cached, err := s.maps.Get(key); err == nil {
		page = cached.([]byte)
	} else {
		var buf bytes.Buffer
		if err := visualiser.RenderMap(&buf, st.Result); err != nil {
			monitoring.Logf("render map for line %s: %v", st.LineID, err)
			internalServerError(w, "failed to render map")
			return
		}
		page = buf.Bytes()
		if err := s.maps.Set(key, page); err != nil {
			monitoring.Logf("cache map for line %s: %v", st.LineID, err)
		}
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write(page)
}

func (s *Server) lineGeoJSON(w http.ResponseWriter, r *http.Request) {
	st, ok := s.lookup(w, r)
	if !ok {
		return
	}
	writeJSONAs(w, "application/geo+json", http.StatusOK, visualiser.GeoJSON(st.Result))
}

// lookup loads the line named in the URL, writing the error response itself
// when it cannot.
func (s *Server) lookup(w http.ResponseWriter, r *http.Request) (*db.StoredTerminal, bool) {
	line := chi.URLParam(r, "line")
	st, err := s.store.Terminal(r.Context(), line)
	if errors.Is(err, db.ErrTerminalNotFound) {
		notFound(w, fmt.Sprintf("no terminals for line %s", line))
		return nil, false
	}
	if err != nil {
		monitoring.Logf("load terminals for line %s: %v", line, err)
		internalServerError(w, "failed to load terminals")
		return nil, false
	}
	return st, true
}
