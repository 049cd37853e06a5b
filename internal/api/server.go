// Package api exposes the characterization engine and stored runs over HTTP.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/bc-pathway-engine/internal/cohort"
	"github.com/bc-pathway-engine/internal/domain"
	"github.com/bc-pathway-engine/internal/middleware"
	"github.com/bc-pathway-engine/internal/publish"
	"github.com/bc-pathway-engine/internal/recordstore"
	"github.com/bc-pathway-engine/internal/report"
	"github.com/bc-pathway-engine/internal/results"
	"github.com/bc-pathway-engine/internal/service"
)

// Version is reported by the health endpoint.
const Version = "1.0.0"

// Server represents the HTTP server
type Server struct {
	cfg           domain.ServerConfig
	characterizer *service.Characterizer
	store         results.Store
	publisher     publish.Publisher
	logger        *logrus.Logger
	router        *gin.Engine
	server        *http.Server
}

// NewServer creates a new HTTP server instance. A nil publisher disables publishing.
func NewServer(cfg *domain.Config, characterizer *service.Characterizer, store results.Store, publisher publish.Publisher, logger *logrus.Logger) *Server {
	if cfg.Logging.Level == "debug" && !cfg.IsProduction() {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}
	if publisher == nil {
		publisher = publish.NoopPublisher{}
	}

	var limiter *rate.Limiter
	if cfg.Server.RateLimit > 0 {
		burst := cfg.Server.RateBurst
		if burst <= 0 {
			burst = int(cfg.Server.RateLimit) + 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.Server.RateLimit), burst)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.RequestID())
	router.Use(middleware.AuditLogger(logger))
	router.Use(middleware.SecurityHeaders())
	router.Use(middleware.CORS())
	router.Use(middleware.RateLimit(limiter))

	server := &Server{
		cfg:           cfg.Server,
		characterizer: characterizer,
		store:         store,
		publisher:     publisher,
		logger:        logger,
		router:        router,
	}
	server.setupRoutes()

	return server
}

// Handler returns the HTTP handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start serves until the context is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)

	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
		IdleTimeout:  s.cfg.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.WithField("addr", addr).Info("HTTP server listening")
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("failed to start server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	s.logger.Info("Shutting down HTTP server")
	return s.server.Shutdown(shutdownCtx)
}

// setupRoutes configures the API routes
func (s *Server) setupRoutes() {
	s.router.GET("/health", s.handleHealth)

	v1 := s.router.Group("/api/v1")
	{
		v1.POST("/characterizations", s.handleCharacterize)
		v1.GET("/runs", s.handleListRuns)
		v1.GET("/runs/:id", s.handleGetRun)
		v1.GET("/runs/:id/rows", s.handleGetRows)
		v1.GET("/runs/:id/stats", s.handleGetStats)
	}
}

// handleHealth handles health check requests
func (s *Server) handleHealth(c *gin.Context) {
	body := gin.H{
		"status":     "healthy",
		"timestamp":  time.Now().UTC(),
		"version":    Version,
		"vocabulary": s.characterizer.Engine().Vocabulary().Version(),
	}
	if h := recordstore.HealthOf(s.characterizer.Engine().Store()); h.Cache != nil || h.Breaker != "" {
		body["record_store"] = h
		if h.Degraded() {
			body["status"] = "degraded"
		}
	}
	if s.store != nil {
		if n, err := s.store.Count(c.Request.Context()); err != nil {
			body["status"] = "degraded"
			body["results_store"] = err.Error()
		} else {
			body["runs"] = n
		}
	}
	c.JSON(http.StatusOK, body)
}

// CharacterizeRequest is the body of POST /api/v1/characterizations.
type CharacterizeRequest struct {
	Patients []domain.PatientKey `json:"patients" binding:"required"`
	Start    string              `json:"start" binding:"required"`
	End      string              `json:"end" binding:"required"`
}

// CharacterizeResponse carries the run and its rows.
type CharacterizeResponse struct {
	Run  *results.Run                     `json:"run"`
	Rows []domain.PatientCharacterization `json:"rows"`
}

func (s *Server) handleCharacterize(c *gin.Context) {
	var req CharacterizeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.respondError(c, domain.NewValidationError("body", err.Error(), nil))
		return
	}

	members, err := domain.NewCohort(req.Patients...)
	if err != nil {
		s.respondError(c, err)
		return
	}
	rng, err := cohort.ParseRange(req.Start, req.End)
	if err != nil {
		s.respondError(c, err)
		return
	}

	ctx := c.Request.Context()
	res, err := s.characterizer.Build(ctx, members, rng)
	if err != nil {
		s.respondError(c, err)
		return
	}

	run := results.RunFromResult(res)
	if s.store != nil {
		if err := s.store.Save(ctx, run, res.Rows); err != nil {
			s.respondError(c, fmt.Errorf("failed to save run: %w", err))
			return
		}
	}
	if err := s.publisher.Publish(ctx, res); err != nil {
		// rows are already stored; consumers can replay from the run
		s.logger.WithError(err).WithField("run_id", res.RunID).Warn("Publishing failed")
	}

	c.JSON(http.StatusCreated, CharacterizeResponse{Run: run, Rows: res.Rows})
}

func (s *Server) handleListRuns(c *gin.Context) {
	if !s.requireStore(c) {
		return
	}
	limit := queryInt(c, "limit", 50)
	offset := queryInt(c, "offset", 0)

	runs, err := s.store.ListRuns(c.Request.Context(), limit, offset)
	if err != nil {
		s.respondError(c, err)
		return
	}
	if runs == nil {
		runs = []*results.Run{}
	}
	c.JSON(http.StatusOK, gin.H{"runs": runs, "limit": limit, "offset": offset})
}

func (s *Server) handleGetRun(c *gin.Context) {
	if !s.requireStore(c) {
		return
	}
	run, err := s.store.GetRun(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, run)
}

func (s *Server) handleGetRows(c *gin.Context) {
	if !s.requireStore(c) {
		return
	}
	rows, err := s.store.Rows(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.respondError(c, err)
		return
	}

	if c.Query("format") == "csv" {
		c.Header("Content-Type", "text/csv; charset=utf-8")
		c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", c.Param("id")+".csv"))
		c.Status(http.StatusOK)
		if err := report.WriteCSV(c.Writer, rows); err != nil {
			s.logger.WithError(err).Error("Failed to stream CSV")
		}
		return
	}
	if rows == nil {
		rows = []domain.PatientCharacterization{}
	}
	c.JSON(http.StatusOK, gin.H{"run_id": c.Param("id"), "rows": rows})
}

// StatsResponse is the body of GET /api/v1/runs/:id/stats.
type StatsResponse struct {
	RunID     string            `json:"run_id"`
	Stats     report.Stats      `json:"stats"`
	Crosstabs []report.Crosstab `json:"crosstabs,omitempty"`
}

func (s *Server) handleGetStats(c *gin.Context) {
	if !s.requireStore(c) {
		return
	}
	by := report.Stratifier(c.Query("by"))
	if by != "" && !by.Valid() {
		s.respondError(c, domain.NewValidationError("by", "must be age, pathway or pathway_age", string(by)))
		return
	}

	rows, err := s.store.Rows(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.respondError(c, err)
		return
	}

	resp := StatsResponse{RunID: c.Param("id"), Stats: report.Summarize(rows)}
	if by != "" {
		resp.Crosstabs = report.Crosstabs(rows, by)
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) requireStore(c *gin.Context) bool {
	if s.store != nil {
		return true
	}
	c.JSON(http.StatusNotImplemented, gin.H{
		"error":      "results store is disabled",
		"request_id": c.GetString(middleware.RequestIDKey),
	})
	return false
}

// respondError maps engine and storage errors to HTTP statuses.
func (s *Server) respondError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	body := gin.H{"request_id": c.GetString(middleware.RequestIDKey)}

	var engineErr *domain.EngineError
	var validationErr *domain.ValidationError
	switch {
	case errors.As(err, &validationErr):
		status = http.StatusBadRequest
		body["error"] = gin.H{"code": domain.ErrCodeInvalidInput, "message": validationErr.Error(), "field": validationErr.Field}
	case errors.Is(err, results.ErrRunNotFound):
		status = http.StatusNotFound
		body["error"] = gin.H{"code": "NOT_FOUND", "message": err.Error()}
	case errors.As(err, &engineErr):
		switch engineErr.Code {
		case domain.ErrCodeInvalidCohortSchema, domain.ErrCodeInvalidCodeSet, domain.ErrCodeInvalidDateRange:
			status = http.StatusBadRequest
		case domain.ErrCodeRecordStoreFailure:
			status = http.StatusBadGateway
		}
		body["error"] = gin.H{"code": engineErr.Code, "message": engineErr.Message, "details": engineErr.Details}
	default:
		body["error"] = gin.H{"code": domain.ErrCodeInternal, "message": err.Error()}
	}

	if status >= http.StatusInternalServerError {
		s.logger.WithError(err).WithField("request_id", body["request_id"]).Error("Request failed")
	}
	c.AbortWithStatusJSON(status, body)
}

func queryInt(c *gin.Context, name string, def int) int {
	v, err := strconv.Atoi(c.Query(name))
	if err != nil || v < 0 {
		return def
	}
	return v
}
