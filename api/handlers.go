package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	thumbq "github.com/Papyszoo/Modelibr-sub004"
	"github.com/Papyszoo/Modelibr-sub004/event"
	"github.com/Papyszoo/Modelibr-sub004/id"
	"github.com/Papyszoo/Modelibr-sub004/job"
)

// respondError maps domain sentinels onto the error envelope.
func respondError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, thumbq.ErrJobNotFound),
		errors.Is(err, thumbq.ErrEventNotFound),
		errors.Is(err, thumbq.ErrNoThumbnail):
		status = http.StatusNotFound
	case errors.Is(err, thumbq.ErrInvalidTransition),
		errors.Is(err, thumbq.ErrClaimConflict),
		errors.Is(err, thumbq.ErrJobAlreadyExists):
		status = http.StatusConflict
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

func parseJobID(c *gin.Context) (id.JobID, bool) {
	jobID, err := id.ParseJobID(c.Param("jobId"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid job id"})
		return id.JobID{}, false
	}
	return jobID, true
}

func parseAssetID(c *gin.Context) (int64, bool) {
	assetID, err := strconv.ParseInt(c.Param("assetId"), 10, 64)
	if err != nil || assetID <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid asset id"})
		return 0, false
	}
	return assetID, true
}

type enqueueRequest struct {
	AssetID            int64  `json:"assetId" binding:"required"`
	ContentFingerprint string `json:"contentFingerprint" binding:"required"`
}

func (s *Server) handleEnqueue(c *gin.Context) {
	var req enqueueRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.AssetID <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "assetId must be positive"})
		return
	}

	j, err := s.engine.Enqueue(c.Request.Context(), req.AssetID, req.ContentFingerprint)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, j)
}

type dequeueRequest struct {
	WorkerID string `json:"workerId" binding:"required"`
}

func (s *Server) handleDequeue(c *gin.Context) {
	var req dequeueRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	j, err := s.engine.Dequeue(c.Request.Context(), req.WorkerID)
	if err != nil {
		respondError(c, err)
		return
	}
	if j == nil {
		c.Status(http.StatusNoContent)
		return
	}
	c.JSON(http.StatusOK, j)
}

type completeRequest struct {
	ThumbnailPath string `json:"thumbnailPath" binding:"required"`
	SizeBytes     int64  `json:"sizeBytes"`
	Width         int    `json:"width"`
	Height        int    `json:"height"`
}

func (s *Server) handleComplete(c *gin.Context) {
	jobID, ok := parseJobID(c)
	if !ok {
		return
	}
	var req completeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	j, err := s.engine.Complete(c.Request.Context(), jobID, job.Thumbnail{
		Path:      req.ThumbnailPath,
		SizeBytes: req.SizeBytes,
		Width:     req.Width,
		Height:    req.Height,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"jobId":   j.ID,
		"assetId": j.AssetID,
		"status":  j.Status,
	})
}

type reportEventRequest struct {
	EventType    string          `json:"eventType" binding:"required"`
	Message      string          `json:"message"`
	Metadata     json.RawMessage `json:"metadata"`
	ErrorMessage string          `json:"errorMessage"`
}

func (s *Server) handleReportEvent(c *gin.Context) {
	jobID, ok := parseJobID(c)
	if !ok {
		return
	}
	var req reportEventRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	evt := event.New(jobID, req.EventType, req.Message).
		WithMetadata(req.Metadata)
	if req.ErrorMessage != "" {
		evt = evt.WithError(req.ErrorMessage)
	}

	j, err := s.engine.ReportEvent(c.Request.Context(), evt)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{
		"jobId":  j.ID,
		"status": j.Status,
	})
}

func (s *Server) handleGetJob(c *gin.Context) {
	jobID, ok := parseJobID(c)
	if !ok {
		return
	}
	j, err := s.engine.Get(c.Request.Context(), jobID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, j)
}

func (s *Server) handleListEvents(c *gin.Context) {
	jobID, ok := parseJobID(c)
	if !ok {
		return
	}
	opts := event.ListOpts{
		Limit:  intQuery(c, "limit"),
		Offset: intQuery(c, "offset"),
	}
	evts, err := s.engine.Events(c.Request.Context(), jobID, opts)
	if err != nil {
		respondError(c, err)
		return
	}
	if evts == nil {
		evts = []*event.Event{}
	}
	c.JSON(http.StatusOK, gin.H{"events": evts})
}

func (s *Server) handleListJobs(c *gin.Context) {
	status := job.Status(c.Query("status"))
	if status != "" && !status.Valid() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid status " + strconv.Quote(string(status))})
		return
	}
	opts := job.ListOpts{
		Limit:  intQuery(c, "limit"),
		Offset: intQuery(c, "offset"),
	}
	jobs, err := s.engine.List(c.Request.Context(), status, opts)
	if err != nil {
		respondError(c, err)
		return
	}
	if jobs == nil {
		jobs = []*job.Job{}
	}
	c.JSON(http.StatusOK, gin.H{"jobs": jobs})
}

func (s *Server) handleStats(c *gin.Context) {
	stats, err := s.engine.Stats(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

func (s *Server) handleAssetThumbnail(c *gin.Context) {
	assetID, ok := parseAssetID(c)
	if !ok {
		return
	}
	ts, err := s.engine.AssetThumbnail(c.Request.Context(), assetID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, ts)
}

func (s *Server) handleHealthz(c *gin.Context) {
	if err := s.engine.Ping(c.Request.Context()); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "down", "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func intQuery(c *gin.Context, name string) int {
	n, _ := strconv.Atoi(c.Query(name))
	if n < 0 {
		return 0
	}
	return n
}
