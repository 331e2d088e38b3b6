package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/mfenderov/dossier/internal/events"
	"github.com/mfenderov/dossier/internal/jobs"
	"github.com/mfenderov/dossier/pkg/models"
)

// Jobs is the part of the job manager the API serves.
type Jobs interface {
	Submit(q models.ResearchQuery) (string, error)
	Get(jobID string) (models.Job, error)
	Report(ctx context.Context, jobID string) (*models.Report, error)
	Cancel(jobID string) error
	Subscribe(jobID string) (*events.Subscription, error)
	Watchers(jobID string) int
}

// Config holds HTTP server configuration.
type Config struct {
	Addr               string
	CancelOnDisconnect bool          // cancel a running job when its event stream client goes away
	KeepAlive          time.Duration // SSE ping interval, 0 disables
}

// Server exposes research jobs over HTTP.
type Server struct {
	jobs       Jobs
	config     Config
	engine     *gin.Engine
	httpServer *http.Server
}

// NewServer creates the HTTP server and registers its routes.
func NewServer(jobs Jobs, config Config) *Server {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())

	s := &Server{
		jobs:   jobs,
		config: config,
		engine: r,
	}

	r.GET("/health", s.handleHealth)

	api := r.Group("/api/research")
	{
		api.POST("", s.handleSubmit)
		api.GET("/:id", s.handleGet)
		api.GET("/:id/report", s.handleReport)
		api.GET("/:id/events", s.handleEvents)
		api.DELETE("/:id", s.handleCancel)
	}

	s.httpServer = &http.Server{
		Addr:              config.Addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler returns the router, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// ListenAndServe serves until Shutdown is called.
func (s *Server) ListenAndServe() error {
	slog.Info("starting HTTP server", "addr", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("failed to serve HTTP: %w", err)
	}
	return nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

type researchRequest struct {
	Company    string `json:"company" binding:"required"`
	CompanyURL string `json:"company_url"`
	Industry   string `json:"industry"`
	HQLocation string `json:"hq_location"`
}

func (s *Server) handleSubmit(c *gin.Context) {
	var req researchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	id, err := s.jobs.Submit(models.ResearchQuery{
		Company:    req.Company,
		URL:        req.CompanyURL,
		Industry:   req.Industry,
		HQLocation: req.HQLocation,
	})
	switch {
	case errors.Is(err, jobs.ErrShuttingDown):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		return
	case err != nil:
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"job_id": id,
		"status": models.JobQueued,
	})
}

func (s *Server) handleGet(c *gin.Context) {
	j, err := s.jobs.Get(c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, j)
}

func (s *Server) handleReport(c *gin.Context) {
	report, err := s.jobs.Report(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	if c.Query("format") == "json" {
		c.JSON(http.StatusOK, report)
		return
	}
	c.Data(http.StatusOK, "text/markdown; charset=utf-8", []byte(report.Content))
}

func (s *Server) handleCancel(c *gin.Context) {
	id := c.Param("id")
	if err := s.jobs.Cancel(id); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"job_id": id, "status": "cancelling"})
}

// handleEvents streams the job's progress events as Server-Sent Events. The
// stream ends after the terminal event.
func (s *Server) handleEvents(c *gin.Context) {
	id := c.Param("id")
	sub, err := s.jobs.Subscribe(id)
	if errors.Is(err, jobs.ErrFinished) {
		j, gerr := s.jobs.Get(id)
		if gerr != nil {
			respondError(c, gerr)
			return
		}
		final := jobs.FinalEvent(j)
		c.Stream(func(io.Writer) bool {
			c.SSEvent(string(final.Status), final)
			return false
		})
		return
	}
	if err != nil {
		respondError(c, err)
		return
	}
	defer sub.Close()

	c.Header("Cache-Control", "no-cache")
	c.Header("X-Accel-Buffering", "no")

	var ping <-chan time.Time
	if s.config.KeepAlive > 0 {
		t := time.NewTicker(s.config.KeepAlive)
		defer t.Stop()
		ping = t.C
	}

	var terminal bool
	c.Stream(func(io.Writer) bool {
		select {
		case ev, ok := <-sub.Events():
			if !ok {
				terminal = true
				return false
			}
			c.SSEvent(string(ev.Status), ev)
			terminal = ev.Status.Terminal()
			return !terminal
		case <-ping:
			c.SSEvent("ping", gin.H{"job_id": id})
			return true
		case <-c.Request.Context().Done():
			return false
		}
	})

	if dropped := sub.Dropped(); dropped > 0 {
		slog.Debug("event stream dropped events", "job_id", id, "dropped", dropped)
	}
	sub.Close()
	if terminal || !s.config.CancelOnDisconnect {
		return
	}
	// Other clients still follow the job.
	if n := s.jobs.Watchers(id); n > 0 {
		slog.Debug("client disconnected, job still watched", "job_id", id, "watchers", n)
		return
	}
	if err := s.jobs.Cancel(id); err == nil {
		slog.Info("client disconnected, job cancelled", "job_id", id)
	}
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func respondError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, jobs.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, jobs.ErrNotReady), errors.Is(err, jobs.ErrFinished):
		status = http.StatusConflict
	case errors.Is(err, jobs.ErrJobFailed), errors.Is(err, models.ErrJobCancelled):
		status = http.StatusGone
	}
	c.JSON(status, gin.H{"error": err.Error()})
}
