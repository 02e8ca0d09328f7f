// Package http exposes the placement registry over HTTP.
package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"

	"github.com/zzenonn/zplace/internal/clustermap"
	"github.com/zzenonn/zplace/internal/domain"
	zerrors "github.com/zzenonn/zplace/internal/errors"
	"github.com/zzenonn/zplace/internal/faultdomain"
	"github.com/zzenonn/zplace/internal/placement"
	"github.com/zzenonn/zplace/internal/registry"
)

const (
	contentTypeJSON        = "application/json"
	defaultListenAddr      = ":8080"
	defaultShutdownTimeout = time.Second * 5
	maxTopologyBytes       = 8 << 20
)

type iRegistry interface {
	Publish(ctx context.Context, pool string, version uint64, statuses clustermap.Statuses, tree *faultdomain.Tree) error
	Retire(ctx context.Context, pool string) error
	CurrentVersion(pool string) (uint64, error)
	ComputeLayout(pool string, oid domain.ObjectID, red domain.Redundancy) (*domain.ObjectLayout, error)
	Acquire(pool string) (*registry.Handle, error)
	Params(pool string) (placement.Params, error)
	State(pool string) registry.State
	Pools() []string
}

// Server serves layouts and accepts cluster map snapshots.
type Server struct {
	registry   iRegistry
	policy     faultdomain.Policy
	gatherer   prometheus.Gatherer
	httpServer *http.Server
	addr       string
}

// NewServer creates a server. Snapshots posted to it are grouped into fault
// domains by policy; metrics are served from gatherer when it is not nil.
func NewServer(reg iRegistry, policy faultdomain.Policy, gatherer prometheus.Gatherer, addr string) *Server {
	if addr == "" {
		addr = defaultListenAddr
	}
	if policy == nil {
		policy = faultdomain.PathPolicy{}
	}
	return &Server{
		registry: reg,
		policy:   policy,
		gatherer: gatherer,
		addr:     addr,
	}
}

// Start starts listening in the background.
func (s *Server) Start() error {
	s.httpServer = &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: time.Second,
	}

	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Errorf("HTTP server error: %v", err)
		}
	}()

	log.WithField("addr", s.addr).Info("HTTP server started")
	return nil
}

// Stop shuts the server down, waiting for in-flight requests.
func (s *Server) Stop() error {
	if s.httpServer == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), defaultShutdownTimeout)
	defer cancel()

	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown HTTP server: %w", err)
	}
	return nil
}

// Handler builds the chi router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Get("/health", s.handleHealth)
	if s.gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}

	r.Route("/pools", func(r chi.Router) {
		r.Get("/", s.handlePools)
		r.Route("/{pool}", func(r chi.Router) {
			r.Delete("/", s.handleRetire)
			r.Get("/version", s.handleVersion)
			r.Post("/snapshots", s.handlePublish)
			r.Get("/objects/{oid}/layout", s.handleLayout)
			r.Get("/objects/{oid}/rebuild", s.handleRebuild)
		})
	})

	return r
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", contentTypeJSON)
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Warnf("Error encoding response: %v", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	s.writeJSON(w, statusOf(err), NewErrorResponse(err.Error()))
}

func statusOf(err error) int {
	switch {
	case errors.Is(err, zerrors.ErrPoolNotFound):
		return http.StatusNotFound
	case errors.Is(err, zerrors.ErrStaleVersion), errors.Is(err, zerrors.ErrPoolExists):
		return http.StatusConflict
	case errors.Is(err, zerrors.ErrInvalidTopology),
		errors.Is(err, zerrors.ErrInvalidObjectClass),
		errors.Is(err, zerrors.ErrInvalidObjectID):
		return http.StatusBadRequest
	case errors.Is(err, zerrors.ErrInsufficientTargets), errors.Is(err, zerrors.ErrMapReleased):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusRequestTimeout
	}
	return http.StatusInternalServerError
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, NewOKResponse())
}

func (s *Server) handlePools(w http.ResponseWriter, r *http.Request) {
	resp := PoolsResponse{Response: Response{Status: StatusSuccess}, Pools: []PoolInfo{}}
	for _, name := range s.registry.Pools() {
		info := PoolInfo{Name: name, State: s.registry.State(name).String()}
		if v, err := s.registry.CurrentVersion(name); err == nil {
			info.Version = v
		}
		if p, err := s.registry.Params(name); err == nil {
			info.Algorithm = p.Algorithm.String()
			info.Class = p.Redundancy.String()
		}
		resp.Pools = append(resp.Pools, info)
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	v, err := s.registry.CurrentVersion(chi.URLParam(r, "pool"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, NewVersionResponse(v))
}

func (s *Server) handlePublish(w http.ResponseWriter, r *http.Request) {
	pool := chi.URLParam(r, "pool")

	topo, err := clustermap.DecodeTopologyJSON(http.MaxBytesReader(w, r.Body, maxTopologyBytes))
	if err != nil {
		s.writeError(w, err)
		return
	}
	tree, statuses, err := topo.Build(s.policy)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if err := s.registry.Publish(r.Context(), pool, topo.Version, statuses, tree); err != nil {
		s.writeError(w, err)
		return
	}

	s.writeJSON(w, http.StatusCreated, NewVersionResponse(topo.Version))
}

func (s *Server) handleRetire(w http.ResponseWriter, r *http.Request) {
	if err := s.registry.Retire(r.Context(), chi.URLParam(r, "pool")); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, Response{Status: StatusSuccess})
}

func (s *Server) handleLayout(w http.ResponseWriter, r *http.Request) {
	pool := chi.URLParam(r, "pool")
	oid, red, err := objectParams(r)
	if err != nil {
		s.writeError(w, err)
		return
	}

	layout, err := s.registry.ComputeLayout(pool, oid, red)
	switch {
	case err == nil:
		s.writeJSON(w, http.StatusOK, LayoutResponse{
			Response: NewVersionResponse(layout.Version),
			Layout:   layout,
		})
	case zerrors.IsDegraded(err):
		s.writeJSON(w, http.StatusOK, LayoutResponse{
			Response: Response{Status: StatusDegraded, Version: layout.Version, Error: err.Error()},
			Layout:   layout,
		})
	default:
		s.writeError(w, err)
	}
}

func (s *Server) handleRebuild(w http.ResponseWriter, r *http.Request) {
	pool := chi.URLParam(r, "pool")
	oid, red, err := objectParams(r)
	if err != nil {
		s.writeError(w, err)
		return
	}

	var since uint64
	if v := r.URL.Query().Get("since"); v != "" {
		since, err = strconv.ParseUint(v, 10, 64)
		if err != nil {
			s.writeJSON(w, http.StatusBadRequest, NewErrorResponse("invalid since version"))
			return
		}
	}

	h, err := s.registry.Acquire(pool)
	if err != nil {
		s.writeError(w, err)
		return
	}
	defer h.Release()

	tasks, err := h.FindRebuild(oid, red, since)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if tasks == nil {
		tasks = []placement.RebuildTask{}
	}

	s.writeJSON(w, http.StatusOK, RebuildResponse{
		Response: NewVersionResponse(h.Version()),
		Tasks:    tasks,
	})
}

func objectParams(r *http.Request) (domain.ObjectID, domain.Redundancy, error) {
	oid, err := domain.ParseObjectID(chi.URLParam(r, "oid"))
	if err != nil {
		return domain.ObjectID{}, domain.Redundancy{}, err
	}

	var red domain.Redundancy
	if class := r.URL.Query().Get("class"); class != "" {
		red, err = domain.ParseObjectClass(class)
		if err != nil {
			return domain.ObjectID{}, domain.Redundancy{}, err
		}
	}
	return oid, red, nil
}
