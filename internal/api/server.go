package api

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/xuecangming/drivefetch/internal/api/handlers"
	"github.com/xuecangming/drivefetch/internal/api/middleware"
	"github.com/xuecangming/drivefetch/internal/core/logger"
)

// Dependencies are the components the status API reports on
type Dependencies struct {
	// DB may be nil when results are kept in memory
	DB        handlers.Pinger
	Sessions  handlers.SessionStats
	Scheduler handlers.JobStats
	Results   handlers.ResultReader
}

// Server represents the status HTTP server
type Server struct {
	router        *mux.Router
	logger        logger.Logger
	healthHandler *handlers.HealthHandler
	jobHandler    *handlers.JobHandler
	resultHandler *handlers.ResultHandler
	httpServer    *http.Server
}

// NewServer creates a new HTTP server
func NewServer(deps Dependencies, log logger.Logger) *Server {
	server := &Server{
		router:        mux.NewRouter(),
		logger:        logger.OrGlobal(log).With(logger.String("component", "api")),
		healthHandler: handlers.NewHealthHandler(deps.DB, deps.Sessions, deps.Scheduler),
		jobHandler:    handlers.NewJobHandler(deps.Scheduler),
		resultHandler: handlers.NewResultHandler(deps.Results),
	}

	server.setupRoutes()

	return server
}

// Router returns the HTTP router
func (s *Server) Router() http.Handler {
	return s.router
}

// setupRoutes sets up the HTTP routes
func (s *Server) setupRoutes() {
	s.router.Use(middleware.CORSMiddleware)
	s.router.Use(middleware.LoggingMiddleware(s.logger))
	s.router.Use(middleware.RecoveryMiddleware(s.logger))
	s.router.Use(middleware.RateLimitMiddleware(100, time.Second))

	s.router.HandleFunc("/health", s.healthHandler.Health).Methods("GET", "OPTIONS")
	s.router.HandleFunc("/live", s.healthHandler.Live).Methods("GET", "OPTIONS")

	s.router.HandleFunc("/jobs", s.jobHandler.List).Methods("GET", "OPTIONS")
	s.router.HandleFunc("/jobs/{category}", s.jobHandler.GetCategory).Methods("GET", "OPTIONS")

	s.router.HandleFunc("/results/items", s.resultHandler.Items).Methods("GET", "OPTIONS")
	s.router.HandleFunc("/results/downloads", s.resultHandler.Downloads).Methods("GET", "OPTIONS")
	s.router.HandleFunc("/results/downloads/{id}", s.resultHandler.GetDownload).Methods("GET", "OPTIONS")
}

// Start listens on addr and serves in the background. The bound address is returned.
func (s *Server) Start(addr string) (string, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return "", err
	}
	s.httpServer = &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		s.logger.Info("Status server starting", logger.String("addr", ln.Addr().String()))
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("Status server failed", logger.Error(err))
		}
	}()
	return ln.Addr().String(), nil
}

// Shutdown stops the server gracefully
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}
