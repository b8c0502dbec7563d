package api

import (
	"errors"
	"net/http"
	"os"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/TechnicallyShaun/memoscribe/internal/domain"
	"github.com/TechnicallyShaun/memoscribe/internal/transcribe"
	"github.com/TechnicallyShaun/memoscribe/internal/transcribe/metadata"
	"github.com/TechnicallyShaun/memoscribe/internal/transcribe/search"
	"github.com/TechnicallyShaun/memoscribe/internal/transcribe/store"
)

// StatusResponse is returned by GET /api/status.
type StatusResponse struct {
	Summary search.Summary          `json:"summary"`
	State   transcribe.ControlState `json:"state"`
}

// BatchRequest selects transcripts by id.
type BatchRequest struct {
	IDs []string `json:"ids"`
}

func (s *Server) status(c *gin.Context) {
	summary, err := s.queries.Summary(c.Request.Context())
	if err != nil {
		s.logger.Error("summary failed", zap.Error(err))
		ServiceUnavailable(c, "storage unavailable")
		return
	}
	OK(c, StatusResponse{Summary: summary, State: s.control.State(c.Request.Context())})
}

func (s *Server) listJobs(c *gin.Context) {
	var states []domain.JobState
	for _, raw := range splitList(c.QueryArray("state")) {
		st, err := domain.ParseJobState(raw)
		if err != nil {
			BadRequest(c, err.Error())
			return
		}
		states = append(states, st)
	}

	jobs, err := s.queries.Jobs(c.Request.Context(), states...)
	if err != nil {
		s.logger.Error("list jobs failed", zap.Error(err))
		Internal(c, "failed to list jobs")
		return
	}
	OK(c, nonNil(jobs))
}

func (s *Server) listTranscripts(c *gin.Context) {
	key, err := domain.ParseSortKey(c.Query("sort"))
	if err != nil {
		BadRequest(c, err.Error())
		return
	}
	order, err := domain.ParseOrder(c.Query("order"))
	if err != nil {
		BadRequest(c, err.Error())
		return
	}

	ts, err := s.queries.List(c.Request.Context(), key, order)
	if err != nil {
		s.logger.Error("list transcripts failed", zap.Error(err))
		Internal(c, "failed to list transcripts")
		return
	}
	OK(c, nonNil(ts))
}

func (s *Server) searchTranscripts(c *gin.Context) {
	ts, err := s.queries.Search(c.Request.Context(), c.Query("q"))
	if err != nil {
		s.logger.Error("search failed", zap.Error(err), zap.String("query", c.Query("q")))
		Internal(c, "search failed")
		return
	}
	OK(c, nonNil(ts))
}

// batchTranscripts serves multi-select: ids come from the JSON body on POST
// or the ids query parameter on GET. format=text returns the joined text.
func (s *Server) batchTranscripts(c *gin.Context) {
	var ids []string
	if c.Request.Method == http.MethodPost {
		var req BatchRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			BadRequest(c, "invalid request: "+err.Error())
			return
		}
		ids = req.IDs
	} else {
		ids = splitList(c.QueryArray("ids"))
	}
	if len(ids) == 0 {
		BadRequest(c, "ids are required")
		return
	}

	ts, err := s.queries.FetchMany(c.Request.Context(), ids)
	if err != nil {
		s.logger.Error("fetch transcripts failed", zap.Error(err))
		Internal(c, "failed to fetch transcripts")
		return
	}

	if c.Query("format") == "text" {
		c.String(http.StatusOK, search.Join(ts))
		return
	}
	OK(c, nonNil(ts))
}

func (s *Server) getTranscript(c *gin.Context) {
	t, err := s.queries.Get(c.Request.Context(), c.Param("id"))
	if errors.Is(err, store.ErrNotFound) {
		NotFound(c, "transcript not found")
		return
	}
	if err != nil {
		s.logger.Error("get transcript failed", zap.Error(err))
		Internal(c, "failed to get transcript")
		return
	}
	OK(c, t)
}

func (s *Server) deleteTranscript(c *gin.Context) {
	t, err := s.queries.Delete(c.Request.Context(), c.Param("id"))
	switch {
	case errors.Is(err, store.ErrNotFound):
		NotFound(c, "transcript not found")
		return
	case errors.Is(err, store.ErrBusy):
		Conflict(c, err.Error())
		return
	case err != nil:
		s.logger.Error("delete transcript failed", zap.Error(err))
		Internal(c, "failed to delete transcript")
		return
	}
	OK(c, t)
}

func (s *Server) transcriptAudio(c *gin.Context) {
	t, err := s.queries.Get(c.Request.Context(), c.Param("id"))
	if errors.Is(err, store.ErrNotFound) {
		NotFound(c, "transcript not found")
		return
	}
	if err != nil {
		s.logger.Error("get transcript failed", zap.Error(err))
		Internal(c, "failed to get transcript")
		return
	}

	if _, err := os.Stat(t.AudioPath); err != nil {
		NotFound(c, "audio file is no longer available")
		return
	}
	if mime, err := metadata.DetectMIME(t.AudioPath); err == nil {
		c.Header("Content-Type", mime)
	}
	c.File(t.AudioPath)
}

// splitList accepts both repeated parameters and comma-separated values.
func splitList(values []string) []string {
	var out []string
	for _, v := range values {
		for _, part := range strings.Split(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
