// Package api exposes the offline queue, local records and sync status
// over HTTP.
//
// Routes:
//
//	POST   /api/:kind                          enqueue a new record
//	GET    /api/:kind                          list local records (?status=&include_deleted=&limit=)
//	GET    /api/:kind/:id                      read a local record
//	PUT    /api/:kind/:id                      enqueue an update
//	DELETE /api/:kind/:id                      soft delete
//	GET    /api/patients/:id/doctors           patient/doctor links
//	GET    /api/sync                           pending counts and connectivity
//	POST   /api/sync                           run a pass now
//	POST   /api/network                        report a connectivity change
//	GET    /api/conflicts                      records flagged Conflict
//	POST   /api/conflicts/:kind/:id/retry      return a Conflict record to Pending
//	GET    /health
//	GET    /ws                                 dashboard WebSocket
//
// :kind accepts singular or plural names (patient, patients, ...).
// Sync metadata in request bodies is ignored.
package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/medsync/medsync/internal/daemon"
	"github.com/medsync/medsync/internal/schema"
	"github.com/medsync/medsync/internal/store"
	syncer "github.com/medsync/medsync/internal/sync"
)

// Queue accepts local writes. *queue.Queue implements it.
type Queue interface {
	Enqueue(ctx context.Context, e schema.Entity) (schema.Entity, error)
	Delete(ctx context.Context, kind schema.Kind, id string) (schema.Entity, error)
}

// Store reads local records. *store.Store implements it.
type Store interface {
	Get(ctx context.Context, kind schema.Kind, id string) (schema.Entity, error)
	List(ctx context.Context, kind schema.Kind, filter store.ListFilter) ([]schema.Entity, error)
	Links(ctx context.Context, patientID string) ([]schema.PatientDoctor, error)
	ResetConflict(ctx context.Context, kind schema.Kind, id string) error
}

// Monitor runs passes and tracks connectivity. *daemon.Monitor
// implements it.
type Monitor interface {
	SyncNow(ctx context.Context) syncer.Result
	Status(ctx context.Context) (daemon.Status, error)
	SetOnline(online bool)
	IsOnline() bool
	Trigger()
}

// Dashboard serves WebSocket clients. *dashboard.Hub implements it.
type Dashboard interface {
	http.Handler
	ClientCount() int
}

// Server is the HTTP API.
type Server struct {
	echo    *echo.Echo
	queue   Queue
	store   Store
	monitor Monitor
	hub     Dashboard
	logger  zerolog.Logger
}

// New builds the API. hub may be nil, in which case /ws is not served.
func New(q Queue, st Store, mon Monitor, hub Dashboard, logger zerolog.Logger) *Server {
	s := &Server{
		queue:   q,
		store:   st,
		monitor: mon,
		hub:     hub,
		logger:  logger.With().Str("component", "api").Logger(),
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(Recovery(s.logger))
	e.Use(RequestID())
	e.Use(Logger(s.logger))

	s.echo = e
	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	e := s.echo
	e.GET("/health", s.handleHealth)
	if s.hub != nil {
		e.GET("/ws", echo.WrapHandler(s.hub))
	}

	g := e.Group("/api")
	g.GET("/sync", s.handleStatus)
	g.POST("/sync", s.handleSync)
	g.POST("/network", s.handleNetwork)
	g.GET("/conflicts", s.handleListConflicts)
	g.POST("/conflicts/:kind/:id/retry", s.handleRetryConflict)
	g.GET("/patients/:id/doctors", s.handlePatientDoctors)

	g.POST("/:kind", s.handleCreate)
	g.GET("/:kind", s.handleList)
	g.GET("/:kind/:id", s.handleGet)
	g.PUT("/:kind/:id", s.handleUpdate)
	g.DELETE("/:kind/:id", s.handleDelete)
}

// ServeHTTP serves the API routes.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.echo.ServeHTTP(w, r)
}

// Start listens on addr until Shutdown. It returns nil after a clean
// shutdown.
func (s *Server) Start(addr string) error {
	s.logger.Info().Str("addr", addr).Msg("starting server")
	if err := s.echo.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops the server, waiting up to 10 seconds for requests in
// flight.
func (s *Server) Shutdown(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	s.logger.Info().Msg("shutting down server")
	return s.echo.Shutdown(ctx)
}
