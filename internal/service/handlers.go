// Package service exposes the download scheduler over a gin REST API.
// Authentication and the web UI live elsewhere; this surface is the
// engine's control plane only.
package service

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/bozzfozz/soulspot-bridge-sub006/internal/scheduler"
)

// Message is the generic success envelope.
type Message struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

// API wires the scheduler facade into HTTP handlers.
type API struct {
	scheduler *scheduler.Scheduler
}

// NewAPI creates the handler set for s.
func NewAPI(s *scheduler.Scheduler) *API {
	return &API{scheduler: s}
}

// Register mounts all routes on the router.
func (a *API) Register(router *gin.Engine) {
	router.GET("/health", a.HealthHandler)

	// job resources live under /jobs so the :id wildcard never shares a
	// path level with a static segment, which gin's router rejects
	v1 := router.Group("/api/v1")
	v1.POST("/downloads", a.SubmitHandler)
	v1.POST("/downloads/batch", a.SubmitBatchHandler)
	v1.GET("/jobs/:id", a.StatusHandler)
	v1.POST("/jobs/:id/pause", a.PauseJobHandler)
	v1.POST("/jobs/:id/resume", a.ResumeJobHandler)
	v1.POST("/jobs/:id/cancel", a.CancelHandler)
	v1.POST("/scheduler/pause", a.PauseAllHandler)
	v1.POST("/scheduler/resume", a.ResumeAllHandler)
	v1.PUT("/settings/concurrency", a.ConcurrencyHandler)
}

// HealthHandler reports liveness plus a few scheduler vitals.
func (a *API) HealthHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":         "healthy",
		"queue_depth":    a.scheduler.QueueDepth(),
		"paused":         a.scheduler.GloballyPaused(),
		"max_concurrent": a.scheduler.MaxConcurrent(),
	})
}

// SubmitHandler accepts a single download request.
func (a *API) SubmitHandler(c *gin.Context) {
	var req scheduler.SubmitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body: " + err.Error()})
		return
	}
	if req.Query == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Missing query"})
		return
	}

	jobID, err := a.scheduler.Submit(c.Request.Context(), req)
	switch {
	case errors.Is(err, scheduler.ErrNoCandidatesFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case err != nil:
		logger.Error("Submit failed", zap.String("track_ref", req.TrackRef), zap.Error(err))
		c.JSON(http.StatusBadGateway, gin.H{"error": "Search failed: " + err.Error()})
	default:
		c.JSON(http.StatusAccepted, gin.H{"job_id": jobID})
	}
}

// SubmitBatchHandler accepts a list of requests; each is handled
// independently and reported individually.
func (a *API) SubmitBatchHandler(c *gin.Context) {
	var reqs []scheduler.SubmitRequest
	if err := c.ShouldBindJSON(&reqs); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body: " + err.Error()})
		return
	}
	if len(reqs) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Empty batch"})
		return
	}
	c.JSON(http.StatusMultiStatus, gin.H{"results": a.scheduler.SubmitBatch(c.Request.Context(), reqs)})
}

// StatusHandler returns the current job snapshot.
func (a *API) StatusHandler(c *gin.Context) {
	snapshot, err := a.scheduler.Status(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Unknown job"})
		return
	}
	c.JSON(http.StatusOK, snapshot)
}

// PauseJobHandler pauses one job.
func (a *API) PauseJobHandler(c *gin.Context) {
	if err := a.scheduler.PauseJob(c.Param("id")); err != nil {
		if errors.Is(err, scheduler.ErrUnknownJob) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Unknown job"})
			return
		}
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, Message{Status: "success", Message: "Job paused"})
}

// ResumeJobHandler resumes one job. Unknown IDs are a no-op by design:
// an external store may reference jobs this process never created.
func (a *API) ResumeJobHandler(c *gin.Context) {
	if err := a.scheduler.ResumeJob(c.Param("id")); err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, Message{Status: "success", Message: "Job resumed"})
}

// CancelHandler cancels one job, interrupting an in-flight transfer.
func (a *API) CancelHandler(c *gin.Context) {
	if err := a.scheduler.Cancel(c.Param("id")); err != nil {
		if errors.Is(err, scheduler.ErrUnknownJob) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Unknown job"})
			return
		}
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, Message{Status: "success", Message: "Job cancelled"})
}

// PauseAllHandler pauses the whole queue.
func (a *API) PauseAllHandler(c *gin.Context) {
	a.scheduler.PauseAll()
	c.JSON(http.StatusOK, Message{Status: "success", Message: "Scheduler paused"})
}

// ResumeAllHandler resumes the whole queue.
func (a *API) ResumeAllHandler(c *gin.Context) {
	a.scheduler.ResumeAll()
	c.JSON(http.StatusOK, Message{Status: "success", Message: "Scheduler resumed"})
}

type concurrencyRequest struct {
	MaxConcurrent int `json:"max_concurrent" binding:"required"`
}

// ConcurrencyHandler adjusts the download ceiling at runtime.
func (a *API) ConcurrencyHandler(c *gin.Context) {
	var req concurrencyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body: " + err.Error()})
		return
	}
	if req.MaxConcurrent < 1 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "max_concurrent must be at least 1"})
		return
	}
	a.scheduler.SetMaxConcurrent(req.MaxConcurrent)
	c.JSON(http.StatusOK, gin.H{"max_concurrent": a.scheduler.MaxConcurrent()})
}
