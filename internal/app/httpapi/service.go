package httpapi

import (
	"context"
	"net/http"
	"runtime"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/Zerostate-IO/powerblockade/internal/app/metrics"
	"github.com/Zerostate-IO/powerblockade/internal/app/nodesync"
	"github.com/Zerostate-IO/powerblockade/internal/app/storage"
	"github.com/Zerostate-IO/powerblockade/internal/app/system"
	"github.com/Zerostate-IO/powerblockade/pkg/logger"
)

// Version is set at build time via -ldflags.
var Version = "dev"

// Service exposes the primary's HTTP surface: node-sync endpoints, health,
// version, and Prometheus metrics. It fits the system manager lifecycle.
type Service struct {
	addr    string
	server  *http.Server
	handler http.Handler
	log     *logger.Logger
}

// NewService builds the HTTP service, mounting nodesync's router under
// /api/node-sync and the operational endpoints alongside it.
func NewService(addr string, nodeSync *nodesync.Server, store storage.Store, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("http")
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(wrapWithCORS)
	r.Use(metrics.InstrumentHandler)

	r.Get("/healthz", handleHealth)
	r.Get("/version", handleVersion)
	r.Handle("/metrics", metrics.Handler())
	r.Mount("/api/node-sync", nodeSync.Router())
	r.Get("/api/events/stream", streamHandler(store))

	return &Service{
		addr:    addr,
		handler: r,
		log:     log,
	}
}

var _ http.Handler = (*Service)(nil)
var _ system.Service = (*Service)(nil)

func (s *Service) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.handler.ServeHTTP(w, r) }

func (s *Service) Name() string { return "http" }

func (s *Service) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:         s.addr,
		Handler:      s.handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.log.Errorf("http server error: %v", err)
		}
	}()
	return nil
}

func (s *Service) Stop(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"ok":true}`))
}

func handleVersion(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"version":"` + Version + `","go":"` + runtime.Version() + `"}`))
}

// wrapWithCORS allows cross-origin requests from the operator dashboard and
// short-circuits preflight requests.
func wrapWithCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Headers", "Authorization, Content-Type")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
