// Package api serves transcripts and the control surface over HTTP.
package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/TechnicallyShaun/memoscribe/internal/domain"
	"github.com/TechnicallyShaun/memoscribe/internal/transcribe"
	"github.com/TechnicallyShaun/memoscribe/internal/transcribe/capture"
	"github.com/TechnicallyShaun/memoscribe/internal/transcribe/search"
)

// ShutdownTimeout bounds graceful shutdown of in-flight requests.
const ShutdownTimeout = 10 * time.Second

// Queries is the read side served by the transcript endpoints.
type Queries interface {
	List(ctx context.Context, key domain.SortKey, order domain.Order) ([]domain.Transcript, error)
	Search(ctx context.Context, q string) ([]domain.Transcript, error)
	Get(ctx context.Context, id string) (domain.Transcript, error)
	FetchMany(ctx context.Context, ids []string) ([]domain.Transcript, error)
	Delete(ctx context.Context, id string) (domain.Transcript, error)
	Jobs(ctx context.Context, states ...domain.JobState) ([]domain.JobView, error)
	Summary(ctx context.Context) (search.Summary, error)
}

// Controller is the control surface: watching, capture, language and submission.
type Controller interface {
	State(ctx context.Context) transcribe.ControlState
	StartWatching(ctx context.Context) error
	StopWatching(ctx context.Context) error
	StartCapture(ctx context.Context) (capture.Session, error)
	StopCapture(ctx context.Context) (capture.Session, error)
	SetLanguage(ctx context.Context, mode domain.LanguageMode) error
	Submit(ctx context.Context, path string) (domain.SubmitResult, error)
	Resubmit(ctx context.Context, recordingID string) (domain.SubmitResult, error)
}

var (
	_ Queries    = (*search.Service)(nil)
	_ Controller = (*transcribe.Service)(nil)
)

// Server is the HTTP surface.
type Server struct {
	addr    string
	queries Queries
	control Controller
	logger  *zap.Logger
	router  *gin.Engine
}

// NewServer builds the router. logger may be nil.
func NewServer(addr string, queries Queries, control Controller, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{addr: addr, queries: queries, control: control, logger: logger}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(Logger(logger))

	router.GET("/health", func(c *gin.Context) { OK(c, gin.H{"status": "ok"}) })

	api := router.Group("/api")
	{
		api.GET("/status", s.status)
		api.GET("/jobs", s.listJobs)

		api.GET("/transcripts", s.listTranscripts)
		api.GET("/transcripts/search", s.searchTranscripts)
		api.GET("/transcripts/batch", s.batchTranscripts)
		api.POST("/transcripts/batch", s.batchTranscripts)
		api.GET("/transcripts/:id", s.getTranscript)
		api.DELETE("/transcripts/:id", s.deleteTranscript)
		api.GET("/transcripts/:id/audio", s.transcriptAudio)

		control := api.Group("/control")
		control.GET("/state", s.controlState)
		control.POST("/watching/start", s.startWatching)
		control.POST("/watching/stop", s.stopWatching)
		control.POST("/capture/start", s.startCapture)
		control.POST("/capture/stop", s.stopCapture)
		control.PUT("/language", s.setLanguage)
		control.POST("/submit", s.submit)
	}

	s.router = router
	return s
}

// Handler returns the router, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run listens on the configured address until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx is cancelled, then shuts down gracefully.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("server listening", zap.String("addr", ln.Addr().String()))
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}
	s.logger.Info("server stopped")
	return nil
}
