package cmd

import (
	"fmt"
	"os"
	"os/signal"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sys/unix"

	"github.com/TechnicallyShaun/memoscribe/internal/transcribe"
	"github.com/TechnicallyShaun/memoscribe/internal/transcribe/api"
	"github.com/TechnicallyShaun/memoscribe/internal/transcribe/logging"
)

// NewServeCmd creates the serve command
func NewServeCmd() *cobra.Command {
	var console bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the transcription service in the foreground",
		Long: `Run the transcription service in the foreground.

The service watches the Voice Memos and drop folders, transcribes each new
recording once, and serves transcripts and controls over HTTP on listen_addr.
Interrupted jobs from a previous run are picked up again at startup.

The service runs until interrupted with Ctrl+C or SIGTERM. Running
transcriptions are allowed to finish before it exits.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, console)
		},
	}

	cmd.Flags().BoolVar(&console, "console", false, "Also write log lines to stderr")
	return cmd
}

func runServe(cmd *cobra.Command, console bool) error {
	env, err := loadEnv()
	if err != nil {
		return err
	}
	if err := env.cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	logCfg := logging.DefaultConfig(env.cfg.LogDir)
	logCfg.MinLevel = logging.ParseLevel(env.cfg.LogLevel)
	logCfg.Console = console
	logger, err := logging.New(logCfg)
	if err != nil {
		return fmt.Errorf("create logger: %w", err)
	}
	defer logger.Close()

	pf := env.pidFile()
	if err := pf.Acquire(os.Getpid()); err != nil {
		return err
	}
	defer pf.Remove()

	svc, err := transcribe.NewService(env.cfg, env.home, logger)
	if err != nil {
		return fmt.Errorf("create service: %w", err)
	}
	defer svc.Close()

	gin.SetMode(gin.ReleaseMode)
	server := api.NewServer(env.cfg.ListenAddr, svc.Search(), svc, logger.WithComponent("http").Zap())

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, unix.SIGTERM)
	defer stop()

	out := cmd.OutOrStdout()
	fmt.Fprintln(out, "Starting memoscribe...")
	for _, dir := range []string{env.cfg.VoiceMemosDir, env.cfg.DropDir} {
		if dir != "" {
			fmt.Fprintf(out, "Watching:    %s\n", dir)
		}
	}
	fmt.Fprintf(out, "Transcripts: %s\n", env.cfg.TranscriptsDir)
	fmt.Fprintf(out, "API:         %s\n", env.cfg.BaseURL())
	fmt.Fprintf(out, "Log:         %s\n", logger.LogPath())
	fmt.Fprintln(out, "Press Ctrl+C to stop")
	fmt.Fprintln(out)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return svc.Run(gctx)
	})
	g.Go(func() error {
		return server.Run(gctx)
	})

	if err := g.Wait(); err != nil {
		logger.Error("service exited", err)
		return err
	}
	fmt.Fprintln(out, "memoscribe stopped")
	return nil
}
