package api

import (
	"errors"
	"os"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/TechnicallyShaun/memoscribe/internal/domain"
	"github.com/TechnicallyShaun/memoscribe/internal/transcribe"
	"github.com/TechnicallyShaun/memoscribe/internal/transcribe/capture"
	"github.com/TechnicallyShaun/memoscribe/internal/transcribe/queue"
	"github.com/TechnicallyShaun/memoscribe/internal/transcribe/store"
)

// LanguageRequest sets the language mode: "auto" or a language code.
type LanguageRequest struct {
	Mode string `json:"mode" binding:"required"`
}

// SubmitRequest submits a file by path or re-queues a known recording.
type SubmitRequest struct {
	Path        string `json:"path"`
	RecordingID string `json:"recording_id"`
}

// SubmitResponse reports the outcome of a submission.
type SubmitResponse struct {
	Result domain.SubmitResult `json:"result"`
}

func (s *Server) controlState(c *gin.Context) {
	OK(c, s.control.State(c.Request.Context()))
}

func (s *Server) startWatching(c *gin.Context) {
	s.toggle(c, "start watching", s.control.StartWatching(c.Request.Context()))
}

func (s *Server) stopWatching(c *gin.Context) {
	s.toggle(c, "stop watching", s.control.StopWatching(c.Request.Context()))
}

func (s *Server) toggle(c *gin.Context, op string, err error) {
	switch {
	case errors.Is(err, transcribe.ErrAlreadyWatching), errors.Is(err, transcribe.ErrNotWatching):
		Conflict(c, err.Error())
	case errors.Is(err, transcribe.ErrNotRunning):
		ServiceUnavailable(c, err.Error())
	case err != nil:
		s.logger.Error(op+" failed", zap.Error(err))
		Internal(c, op+" failed")
	default:
		OK(c, s.control.State(c.Request.Context()))
	}
}

func (s *Server) startCapture(c *gin.Context) {
	sess, err := s.control.StartCapture(c.Request.Context())
	s.captureResult(c, "start capture", sess, err)
}

func (s *Server) stopCapture(c *gin.Context) {
	sess, err := s.control.StopCapture(c.Request.Context())
	s.captureResult(c, "stop capture", sess, err)
}

func (s *Server) captureResult(c *gin.Context, op string, sess capture.Session, err error) {
	switch {
	case errors.Is(err, capture.ErrAlreadyRecording), errors.Is(err, capture.ErrInvalidTransition):
		Conflict(c, err.Error())
	case err != nil:
		s.logger.Error(op+" failed", zap.Error(err))
		Internal(c, op+" failed: "+err.Error())
	default:
		OK(c, sess)
	}
}

func (s *Server) setLanguage(c *gin.Context) {
	var req LanguageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, "invalid request: "+err.Error())
		return
	}
	mode, err := domain.ParseLanguageMode(req.Mode)
	if err != nil {
		BadRequest(c, err.Error())
		return
	}
	if err := s.control.SetLanguage(c.Request.Context(), mode); err != nil {
		s.logger.Error("set language failed", zap.Error(err))
		Internal(c, "failed to set language")
		return
	}
	OK(c, s.control.State(c.Request.Context()))
}

func (s *Server) submit(c *gin.Context) {
	var req SubmitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, "invalid request: "+err.Error())
		return
	}

	var (
		result domain.SubmitResult
		err    error
	)
	switch {
	case req.Path != "" && req.RecordingID != "":
		BadRequest(c, "give either path or recording_id, not both")
		return
	case req.Path != "":
		result, err = s.control.Submit(c.Request.Context(), req.Path)
	case req.RecordingID != "":
		result, err = s.control.Resubmit(c.Request.Context(), req.RecordingID)
	default:
		BadRequest(c, "path or recording_id is required")
		return
	}

	switch {
	case errors.Is(err, os.ErrNotExist), errors.Is(err, queue.ErrNotAFile):
		BadRequest(c, err.Error())
	case errors.Is(err, store.ErrNotFound):
		NotFound(c, "recording not found")
	case err != nil:
		s.logger.Error("submit failed", zap.Error(err))
		ServiceUnavailable(c, "submit failed")
	default:
		Accepted(c, SubmitResponse{Result: result})
	}
}
