// Package server exposes batch runs and their reports over HTTP.
package server

import (
	"context"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/nvr-ai/parking-occupancy/controller"
	"github.com/nvr-ai/parking-occupancy/metrics"
	"github.com/nvr-ai/parking-occupancy/report"
	"github.com/nvr-ai/parking-occupancy/roi"
	"github.com/nvr-ai/parking-occupancy/service"
	"github.com/nvr-ai/parking-occupancy/store"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// Runner executes one batch run.
type Runner interface {
	Run(ctx context.Context, config controller.Config) (*service.Outcome, error)
}

// History reads persisted runs.
type History interface {
	ListSessions(ctx context.Context, projectID string) ([]store.ExperimentSession, error)
	SessionResults(ctx context.Context, id uint) (*store.ExperimentSession, error)
}

// Option configures a Server.
type Option func(*Server)

// WithHistory serves persisted runs under /api/history.
func WithHistory(h History) Option {
	return func(s *Server) { s.history = h }
}

// RunRequest is the body of POST /api/runs. Omitted fields take the server defaults.
type RunRequest struct {
	ProjectID    string   `json:"project_id"`
	LearningRate *float64 `json:"learning_rate"`
	Iterations   *int     `json:"iterations"`
	VarThreshold *float64 `json:"var_threshold"`
	TrainingRoot string   `json:"training_root"`
	TestRoot     string   `json:"test_root"`
	CatalogPath  string   `json:"catalog_path"`
}

// apply overlays the request on defaults.
func (r RunRequest) apply(defaults controller.Config) controller.Config {
	cfg := defaults
	if r.ProjectID != "" {
		cfg.ProjectID = r.ProjectID
	}
	if r.LearningRate != nil {
		cfg.LearningRate = *r.LearningRate
	}
	if r.Iterations != nil {
		cfg.Iterations = *r.Iterations
	}
	if r.VarThreshold != nil {
		cfg.VarThreshold = *r.VarThreshold
	}
	if r.TrainingRoot != "" {
		cfg.TrainingRoot = r.TrainingRoot
	}
	if r.TestRoot != "" {
		cfg.TestRoot = r.TestRoot
	}
	if r.CatalogPath != "" {
		cfg.CatalogPath = r.CatalogPath
	}
	return cfg
}

// Server is the HTTP API.
type Server struct {
	engine   *gin.Engine
	runner   Runner
	defaults controller.Config
	metrics  *metrics.Metrics
	history  History
	log      zerolog.Logger
}

// New creates the API with its routes registered.
//
// Arguments:
//   - runner: Executes runs.
//   - defaults: Run configuration that requests override; its OutputRoot is the results root.
//   - m: Metrics exposed at /metrics; nil disables the route.
//   - log: Request and error logger.
//   - opts: Optional history source; without it /api/history is not served.
func New(runner Runner, defaults controller.Config, m *metrics.Metrics, log zerolog.Logger, opts ...Option) *Server {
	gin.SetMode(gin.ReleaseMode)

	s := &Server{
		engine:   gin.New(),
		runner:   runner,
		defaults: defaults,
		metrics:  m,
		log:      log,
	}
	for _, opt := range opts {
		opt(s)
	}

	s.engine.Use(gin.Recovery(), s.requestLogger())
	s.engine.Use(cors.New(cors.Config{
		AllowAllOrigins: true,
		AllowMethods:    []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:    []string{"Origin", "Content-Type", "Accept", "Authorization"},
		MaxAge:          12 * time.Hour,
	}))
	s.Register(s.engine)
	return s
}

// Register adds the API routes to r.
func (s *Server) Register(r *gin.Engine) {
	r.GET("/health", s.health)
	if reg := s.metrics.Registry(); reg != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(reg, promhttp.HandlerOpts{})))
	}

	api := r.Group("/api")
	{
		api.POST("/runs", s.createRun)
		api.GET("/results", s.listResults)
		api.GET("/results/:name", s.getResult)
		api.GET("/results/:name/:camera/:file", s.getArtifact)
		if s.history != nil {
			api.GET("/history", s.listHistory)
			api.GET("/history/:id", s.getHistory)
		}
	}
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// ListenAndServe serves on addr until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info().Str("addr", addr).Msg("http server listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return errors.Wrap(err, "http server shutdown")
		}
		<-errCh
		return nil
	}
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.log.Debug().
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Dur("duration", time.Since(start)).
			Msg("request")
	}
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) createRun(c *gin.Context) {
	var req RunRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse(err.Error()))
		return
	}

	outcome, err := s.runner.Run(c.Request.Context(), req.apply(s.defaults))
	if err != nil {
		s.handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, successResponse("parking occupancy run completed", gin.H{
		"result_path": outcome.ResultPath,
		"run_id":      outcome.Report.RunID,
		"total_tests": outcome.Report.TotalTests,
	}))
}

func (s *Server) listResults(c *gin.Context) {
	entries, err := report.List(s.defaults.OutputRoot)
	if err != nil {
		s.handleError(c, err)
		return
	}
	if entries == nil {
		entries = []report.Entry{}
	}
	c.JSON(http.StatusOK, successResponse("", entries))
}

func (s *Server) getResult(c *gin.Context) {
	name := c.Param("name")
	if !safeSegment(name) {
		c.JSON(http.StatusBadRequest, errorResponse("invalid result name"))
		return
	}

	path, ok := report.Find(filepath.Join(s.defaults.OutputRoot, name))
	if !ok {
		c.JSON(http.StatusNotFound, errorResponse("result not found"))
		return
	}
	rep, err := report.Read(path)
	if err != nil {
		s.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, successResponse("", rep))
}

func (s *Server) getArtifact(c *gin.Context) {
	name, camera, file := c.Param("name"), c.Param("camera"), c.Param("file")
	if !safeSegment(name) || !safeSegment(camera) || !safeSegment(file) {
		c.JSON(http.StatusBadRequest, errorResponse("invalid artifact path"))
		return
	}

	path := filepath.Join(s.defaults.OutputRoot, name, camera, file)
	info, err := os.Stat(path)
	if err != nil || !info.Mode().IsRegular() {
		c.JSON(http.StatusNotFound, errorResponse("artifact not found"))
		return
	}
	c.File(path)
}

func (s *Server) listHistory(c *gin.Context) {
	sessions, err := s.history.ListSessions(c.Request.Context(), c.Query("project_id"))
	if err != nil {
		s.handleError(c, err)
		return
	}
	if sessions == nil {
		sessions = []store.ExperimentSession{}
	}
	c.JSON(http.StatusOK, successResponse("", sessions))
}

func (s *Server) getHistory(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 0)
	if err != nil || id == 0 {
		c.JSON(http.StatusBadRequest, errorResponse("invalid session id"))
		return
	}

	session, err := s.history.SessionResults(c.Request.Context(), uint(id))
	if err != nil {
		s.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, successResponse("", session))
}

func (s *Server) handleError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrInvalidInput):
		c.JSON(http.StatusBadRequest, errorResponse(err.Error()))
	case errors.Is(err, roi.ErrCatalogUnavailable), errors.Is(err, roi.ErrCatalogMalformed):
		c.JSON(http.StatusUnprocessableEntity, errorResponse(err.Error()))
	case errors.Is(err, store.ErrSessionNotFound):
		c.JSON(http.StatusNotFound, errorResponse("session not found"))
	default:
		s.log.Error().Err(err).Msg("handler error")
		c.JSON(http.StatusInternalServerError, errorResponse("internal error"))
	}
}

// safeSegment reports whether s is a single path element that cannot escape its parent.
func safeSegment(s string) bool {
	return s != "" && s != "." && s != ".." && filepath.Base(s) == s && filepath.Clean(s) == s
}

func successResponse(message string, data any) gin.H {
	return gin.H{
		"success": true,
		"message": message,
		"data":    data,
	}
}

func errorResponse(message string) gin.H {
	return gin.H{
		"success": false,
		"message": message,
	}
}
