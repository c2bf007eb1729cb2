package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/choir-run/choir/pkg/eventlog"
	"github.com/choir-run/choir/pkg/signals"
)

type conductorRunStatusRequest struct {
	Status  string `json:"status" binding:"required"`
	Message string `json:"message"`
}

// conductorRunStatusHandler serves POST /conductor/runs/:run_id/status:
// appends a conductor.run.status event, synchronously (status reports
// are state changes clients may block on, unlike trace events).
func (s *Server) conductorRunStatusHandler(c *gin.Context) {
	runID := c.Param("run_id")
	var req conductorRunStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	e, err := eventlog.NewEvent("conductor.run.status", "conductor", "", map[string]any{
		"run_id": runID, "status": req.Status, "message": req.Message,
	})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	seq, err := s.events.Append(c.Request.Context(), e)
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"run_id": runID, "status": req.Status, "seq": seq})
}

// conductorRunsListHandler serves POST /conductor/runs/list: every run
// the writer runtime has ensured since process start.
func (s *Server) conductorRunsListHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"run_ids": s.writerRt.ListRuns()})
}

// conductorWorkerReportHandler serves worker signal ingestion (spec
// §4.8): validate the raw payload, decode to a WorkerTurnReport, run it
// through the ingestion policy, and emit the resulting events — all
// wrapped in the supervision lifecycle triple.
func (s *Server) conductorWorkerReportHandler(c *gin.Context) {
	raw, err := c.GetRawData()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := signals.ValidateReportPayload(raw); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	var report signals.WorkerTurnReport
	if err := json.Unmarshal(raw, &report); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	var outcomes []signals.Outcome
	err = s.supervisor.IngestWorkerTurnReport(c.Request.Context(), func() error {
		outcomes = s.signals.Ingest(report, time.Now().UTC())
		return (&signals.Emitter{Store: s.events}).EmitAll(report, outcomes)
	})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"outcomes": outcomes})
}
