// Package server exposes the Merged Index's query surface over HTTP, for
// manual inspection and for tooling that would rather shell out to curl
// than link the Go packages directly. It is operational sugar around the
// in-process API, not a replacement for it.
package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/riandyrn/otelchi"
	"github.com/rs/zerolog"

	"github.com/p-sternik/codeindex/pkg/deadcode"
	"github.com/p-sternik/codeindex/pkg/mergedindex"
	"github.com/p-sternik/codeindex/pkg/model"
	"github.com/p-sternik/codeindex/pkg/resolver"
	"github.com/p-sternik/codeindex/pkg/scheduler"
)

const (
	routeHealthz     = "/healthz"
	routeStats       = "/stats"
	routeDefinitions = "/definitions"
	routeDefByID     = "/definitions/{id}"
	routeReferences  = "/references"
	routeSearch      = "/search"
	routeReindex     = "/reindex"
	routeDeadCode    = "/dead-code"
	routeMetrics     = "/metrics"

	contentType     = "Content-Type"
	contentTypeJSON = "application/json"
)

// Server serves the code index's query surface. DeadCode is optional: when
// nil, GET /dead-code returns 404 rather than 500, since not every
// deployment configures entry-point/barrier globs.
type Server struct {
	index     *mergedindex.Index
	scheduler *scheduler.Scheduler
	resolver  *resolver.Resolver
	deadCode  *deadcode.Analyzer
	gatherer  prometheus.Gatherer
	log       zerolog.Logger
	router    *chi.Mux
}

// New builds a Server. scheduler and resolver drive POST /reindex;
// deadCode, if non-nil, serves GET /dead-code.
func New(index *mergedindex.Index, sched *scheduler.Scheduler, res *resolver.Resolver, dc *deadcode.Analyzer, log zerolog.Logger) *Server {
	s := &Server{
		index:     index,
		scheduler: sched,
		resolver:  res,
		deadCode:  dc,
		log:       log.With().Str("component", "server").Logger(),
	}

	s.router = s.createRouter()

	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.router.ServeHTTP(w, r) }

// SetPrometheusGatherer enables GET /metrics, serving gatherer's collected
// metrics in the Prometheus exposition format. Not calling this leaves
// /metrics unregistered (404), matching the `prometheus-enabled` flag
// being off by default.
func (s *Server) SetPrometheusGatherer(gatherer prometheus.Gatherer) {
	s.gatherer = gatherer
	s.router = s.createRouter()
}

func (s *Server) createRouter() *chi.Mux {
	router := chi.NewRouter()

	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(otelchi.Middleware("codeindex"))
	router.Use(s.requestLogger)
	router.Use(middleware.Recoverer)

	router.Get(routeHealthz, s.getHealthz)
	router.Get(routeStats, s.getStats)
	router.Get(routeDefinitions, s.getDefinitions)
	router.Get(routeDefByID, s.getDefinitionByID)
	router.Get(routeReferences, s.getReferences)
	router.Get(routeSearch, s.getSearch)
	router.Post(routeReindex, s.postReindex)
	router.Get(routeDeadCode, s.getDeadCode)

	if s.gatherer != nil {
		router.Handle(routeMetrics, promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}

	return router
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	fn := func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		reqID := middleware.GetReqID(r.Context())
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		defer func() {
			s.log.Info().
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", ww.Status()).
				Dur("elapsed", time.Since(start)).
				Str("request_id", reqID).
				Int("bytes", ww.BytesWritten()).
				Msg("request")
		}()

		next.ServeHTTP(ww, r)
	}

	return http.HandlerFunc(fn)
}

func (s *Server) getHealthz(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
}

func (s *Server) getStats(w http.ResponseWriter, r *http.Request) {
	files, err := s.index.Background.AllFiles(r.Context())
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)

		return
	}

	s.writeJSON(w, http.StatusOK, struct {
		IndexedFiles int `json:"indexedFiles"`
	}{IndexedFiles: len(files)})
}

func (s *Server) getDefinitions(w http.ResponseWriter, r *http.Request) {
	name := r.URL.Query().Get("name")
	if name == "" {
		s.writeError(w, http.StatusBadRequest, errMissingQueryParam("name"))

		return
	}

	syms, err := s.index.FindDefinitions(r.Context(), name)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)

		return
	}

	s.writeJSON(w, http.StatusOK, syms)
}

func (s *Server) getDefinitionByID(w http.ResponseWriter, r *http.Request) {
	id := model.SymbolID(chi.URLParam(r, "id"))

	sym, ok, err := s.index.FindDefinitionByID(r.Context(), id)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)

		return
	}

	if !ok {
		w.WriteHeader(http.StatusNotFound)

		return
	}

	s.writeJSON(w, http.StatusOK, sym)
}

func (s *Server) getReferences(w http.ResponseWriter, r *http.Request) {
	name := r.URL.Query().Get("name")
	if name == "" {
		s.writeError(w, http.StatusBadRequest, errMissingQueryParam("name"))

		return
	}

	refs, err := s.index.FindReferencesByName(r.Context(), name)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)

		return
	}

	s.writeJSON(w, http.StatusOK, refs)
}

func (s *Server) getSearch(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query().Get("q")
	if q == "" {
		s.writeError(w, http.StatusBadRequest, errMissingQueryParam("q"))

		return
	}

	syms, err := s.index.SearchSymbols(r.Context(), q)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)

		return
	}

	s.writeJSON(w, http.StatusOK, syms)
}

// postReindex bulk re-indexes every file the Background Index already
// holds, reading each from disk via scheduler.ListFiles (files not yet
// indexed are not discovered), then runs a Deferred Resolver pass when a
// resolver is set, and returns once both complete. It is meant for
// operator use, not a hot request handler.
func (s *Server) postReindex(w http.ResponseWriter, r *http.Request) {
	if s.scheduler == nil {
		w.WriteHeader(http.StatusNotImplemented)

		return
	}

	files, err := s.index.Background.AllFiles(r.Context())
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)

		return
	}

	if err := s.scheduler.BulkIndex(r.Context(), files, scheduler.ListFiles); err != nil {
		s.writeError(w, http.StatusInternalServerError, err)

		return
	}

	var result any

	if s.resolver != nil {
		result, err = s.resolver.Resolve(r.Context())
		if err != nil {
			s.writeError(w, http.StatusInternalServerError, err)

			return
		}
	}

	s.writeJSON(w, http.StatusOK, result)
}

func (s *Server) getDeadCode(w http.ResponseWriter, r *http.Request) {
	if s.deadCode == nil {
		w.WriteHeader(http.StatusNotFound)

		return
	}

	findings, err := s.deadCode.Analyze(r.Context())
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)

		return
	}

	s.writeJSON(w, http.StatusOK, findings)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set(contentType, contentTypeJSON)
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.log.Error().Err(err).Msg("error writing response body")
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, err error) {
	s.log.Error().Err(err).Msg("request failed")
	s.writeJSON(w, status, struct {
		Error string `json:"error"`
	}{Error: err.Error()})
}

func errMissingQueryParam(name string) error {
	return &missingQueryParamError{name: name}
}

type missingQueryParamError struct{ name string }

func (e *missingQueryParamError) Error() string {
	return "missing required query parameter: " + e.name
}
