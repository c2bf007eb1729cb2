package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/choir-run/choir/pkg/writer"
)

type writerOpenRequest struct {
	RunID     string `json:"run_id" binding:"required"`
	DesktopID string `json:"desktop_id"`
	Objective string `json:"objective"`
}

// writerOpenHandler serves POST /writer/open: ensure(run_id, ...) and
// return the full document snapshot.
func (s *Server) writerOpenHandler(c *gin.Context) {
	var req writerOpenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	doc, err := s.writerRt.Ensure(c.Request.Context(), req.RunID, req.DesktopID, req.Objective)
	if err != nil {
		writeWriterError(c, err)
		return
	}
	c.JSON(http.StatusOK, doc)
}

type writerSaveRequest struct {
	RunID     string            `json:"run_id" binding:"required"`
	Author    writer.OverlayAuthor `json:"author" binding:"required"`
	SectionID string            `json:"section_id"`
	Ops       []writer.PatchOp  `json:"ops"`
	Proposal  bool              `json:"proposal"`
}

// writerSaveHandler serves POST /writer/save: apply_patch, either
// mutating canonical head (proposal=false) or registering an overlay
// (proposal=true).
func (s *Server) writerSaveHandler(c *gin.Context) {
	var req writerSaveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	result, err := s.writerRt.ApplyPatch(c.Request.Context(), req.RunID, req.Author, req.SectionID, req.Ops, req.Proposal)
	if err != nil {
		writeWriterError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

type writerSaveVersionRequest struct {
	RunID           string              `json:"run_id" binding:"required"`
	ParentVersionID *uint64             `json:"parent_version_id"`
	Content         string              `json:"content"`
	Source          writer.VersionSource `json:"source" binding:"required"`
}

// writerSaveVersionHandler serves POST /writer/save_version: create_version.
func (s *Server) writerSaveVersionHandler(c *gin.Context) {
	var req writerSaveVersionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	v, err := s.writerRt.CreateVersion(c.Request.Context(), req.RunID, req.ParentVersionID, req.Content, req.Source)
	if err != nil {
		writeWriterError(c, err)
		return
	}
	c.JSON(http.StatusOK, v)
}

type writerPromptRequest struct {
	RunID     string               `json:"run_id" binding:"required"`
	Source    writer.OverlayAuthor `json:"source" binding:"required"`
	SectionID string               `json:"section_id" binding:"required"`
	Phase     string               `json:"phase"`
	Message   string               `json:"message"`
	State     *writer.SectionState `json:"state"`
}

// writerPromptHandler serves POST /writer/prompt: a worker's incremental
// progress update against a section, or (when state is present) an
// explicit section-state transition. Folding both into one endpoint
// mirrors how a worker's turn naturally reports "here's what I'm doing"
// and "I'm done/blocked" through the same channel.
func (s *Server) writerPromptHandler(c *gin.Context) {
	var req writerPromptRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.State != nil {
		if err := s.writerRt.MarkSectionState(c.Request.Context(), req.RunID, req.SectionID, *req.State); err != nil {
			writeWriterError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"section_id": req.SectionID, "state": *req.State})
		return
	}
	revision, err := s.writerRt.ReportSectionProgress(c.Request.Context(), req.RunID, req.Source, req.SectionID, req.Phase, req.Message)
	if err != nil {
		writeWriterError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"revision": revision})
}

type writerVersionRequest struct {
	RunID     string  `json:"run_id" binding:"required"`
	VersionID *uint64 `json:"version_id"`
}

// writerVersionHandler serves POST /writer/version: get_version, or
// head_version when version_id is omitted.
func (s *Server) writerVersionHandler(c *gin.Context) {
	var req writerVersionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.VersionID == nil {
		v, err := s.writerRt.HeadVersion(c.Request.Context(), req.RunID)
		if err != nil {
			writeWriterError(c, err)
			return
		}
		c.JSON(http.StatusOK, v)
		return
	}
	v, err := s.writerRt.GetVersion(c.Request.Context(), req.RunID, *req.VersionID)
	if err != nil {
		writeWriterError(c, err)
		return
	}
	c.JSON(http.StatusOK, v)
}

type writerVersionsRequest struct {
	RunID  string                `json:"run_id" binding:"required"`
	Base   *uint64               `json:"base_version_id"`
	Status *writer.OverlayStatus `json:"overlay_status"`
}

// writerVersionsHandler serves POST /writer/versions: list_versions plus
// list_overlays filtered by the same run, so a client can render the
// full document history and pending proposals in one round trip.
func (s *Server) writerVersionsHandler(c *gin.Context) {
	var req writerVersionsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	versions, err := s.writerRt.ListVersions(c.Request.Context(), req.RunID)
	if err != nil {
		writeWriterError(c, err)
		return
	}
	overlays, err := s.writerRt.ListOverlays(c.Request.Context(), req.RunID, req.Base, req.Status)
	if err != nil {
		writeWriterError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"versions": versions, "overlays": overlays})
}

type writerDismissOverlayRequest struct {
	RunID     string `json:"run_id" binding:"required"`
	OverlayID string `json:"overlay_id" binding:"required"`
}

// writerDismissOverlayHandler serves POST /writer/dismiss_overlay.
func (s *Server) writerDismissOverlayHandler(c *gin.Context) {
	var req writerDismissOverlayRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := s.writerRt.DismissOverlay(c.Request.Context(), req.RunID, req.OverlayID); err != nil {
		writeWriterError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "dismissed"})
}

func writeWriterError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, writer.ErrUnknownRun), errors.Is(err, writer.ErrUnknownOverlay), errors.Is(err, writer.ErrUnknownSection):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, writer.ErrStaleBaseVersion):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, writer.ErrDocumentIoFailed):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}
