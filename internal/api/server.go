// Package api serves site searches, search history and reports over HTTP.
package api

import (
	"context"
	"crypto/subtle"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/site-finder/internal/config"
	"github.com/sells-group/site-finder/internal/metrics"
	"github.com/sells-group/site-finder/internal/model"
	"github.com/sells-group/site-finder/pkg/google"
)

// Version is reported by the health endpoint.
var Version = "dev"

// Searcher runs a site search and persists its results.
type Searcher interface {
	Search(ctx context.Context, params model.SearchParameters) (*model.SearchResults, error)
}

// History reads persisted searches.
type History interface {
	GetSearch(ctx context.Context, id string) (*model.SearchResults, error)
	ListSearches(ctx context.Context, limit, offset int) ([]model.SearchSummary, error)
	GetLocation(ctx context.Context, id string) (*model.Location, error)
}

// PlaceDetailer looks up provider details of a competitor. A nil place means
// the details are unavailable.
type PlaceDetailer interface {
	Details(ctx context.Context, placeID string) *google.Place
}

// Options configure the router.
type Options struct {
	Server   config.ServerConfig
	Defaults config.SearchConfig
	Now      func() time.Time
	// Places enriches GET /locations/{id} with the nearest competitor's
	// details. Optional.
	Places PlaceDetailer
}

// Server wires HTTP handlers to the search service and history store.
type Server struct {
	searcher Searcher
	history  History
	opts     Options
	router   chi.Router
}

// NewServer creates a Server and mounts its routes.
func NewServer(searcher Searcher, history History, opts Options) *Server {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	s := &Server{searcher: searcher, history: history, opts: opts}
	s.router = s.routes()
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)

	origins := s.opts.Server.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", APIKeyHeader},
		MaxAge:         300,
	}))

	r.Handle("/metrics", metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.health)

		r.Group(func(r chi.Router) {
			r.Use(s.requireAPIKey)

			r.Get("/locations/search", s.searchLocations)
			r.Get("/locations/{id}", s.getLocation)
			r.Get("/searches", s.listSearches)
			r.Get("/searches/{id}", s.getSearch)
			r.Post("/reports/{search_id}", s.createReport)
		})
	})

	return r
}

// APIKeyHeader carries the API key. The api_key query parameter is accepted
// as well.
const APIKeyHeader = "X-API-Key"

// requireAPIKey rejects requests without a key. Debug mode skips the check.
// Without a configured key any non-empty key is accepted.
func (s *Server) requireAPIKey(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.opts.Server.Debug {
			next.ServeHTTP(w, r)
			return
		}
		key := r.Header.Get(APIKeyHeader)
		if key == "" {
			key = r.URL.Query().Get("api_key")
		}
		if key == "" {
			w.Header().Set("WWW-Authenticate", "ApiKey")
			writeError(w, http.StatusUnauthorized, "missing API key")
			return
		}
		if want := s.opts.Server.APIKey; want != "" && subtle.ConstantTimeCompare([]byte(key), []byte(want)) != 1 {
			writeError(w, http.StatusUnauthorized, "invalid API key")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		zap.L().Info("api: request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Int("bytes", ww.BytesWritten()),
			zap.Duration("elapsed", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}

// ListenAndServe serves on port until ctx is canceled, then shuts down
// gracefully.
func ListenAndServe(ctx context.Context, port int, h http.Handler) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		zap.L().Info("api: listening", zap.Int("port", port))
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if err != nil && err != http.ErrServerClosed {
			return eris.Wrap(err, "api: listen")
		}
		return nil
	case <-ctx.Done():
	}

	zap.L().Info("api: shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return eris.Wrap(err, "api: shutdown")
	}
	return nil
}
