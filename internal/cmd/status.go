package cmd

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/TechnicallyShaun/memoscribe/internal/domain"
	"github.com/TechnicallyShaun/memoscribe/internal/transcribe"
	"github.com/TechnicallyShaun/memoscribe/internal/transcribe/search"
	"github.com/TechnicallyShaun/memoscribe/internal/transcribe/status"
)

// jobStates is the display order for job counts.
var jobStates = []domain.JobState{
	domain.JobDiscovered,
	domain.JobQueued,
	domain.JobRunning,
	domain.JobSucceeded,
	domain.JobFailed,
}

// NewStatusCmd creates the status command
func NewStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show service state, job counts and today's activity",
		Long: `Show service state, job counts and today's activity.

When the service is running its live state is fetched over HTTP. Otherwise
the database is read directly. Today's completed and failed transcriptions
are counted from the log file.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := loadEnv()
			if err != nil {
				return err
			}
			return runStatus(cmd, env)
		},
	}
}

func runStatus(cmd *cobra.Command, env *appEnv) error {
	out := cmd.OutOrStdout()

	c, running, err := env.client()
	if err != nil {
		return err
	}

	var summary search.Summary
	if running {
		resp, err := c.Status(cmd.Context())
		if err != nil {
			return fmt.Errorf("query service: %w", err)
		}
		summary = resp.Summary
		printState(out, resp.State)
	} else {
		fmt.Fprintln(out, "memoscribe is not running")
		st, err := env.openStore()
		if err != nil {
			return err
		}
		defer st.Close()
		if summary, err = search.New(st, nil).Summary(cmd.Context()); err != nil {
			return err
		}
	}

	fmt.Fprintln(out)
	fmt.Fprintf(out, "Transcripts: %d\n", summary.Transcripts)
	fmt.Fprintf(out, "Jobs:        %s\n", formatJobCounts(summary.Jobs))

	stats, err := status.ParseToday(env.cfg.LogDir)
	if err != nil {
		return fmt.Errorf("read log: %w", err)
	}
	fmt.Fprintln(out)
	fmt.Fprintf(out, "Today: %d completed, %d failed, %d retried\n", stats.Completed, stats.Failed, stats.Retried)
	if stats.Errors > 0 {
		fmt.Fprintf(out, "       %d errors logged\n", stats.Errors)
	}
	if last := stats.LastProcessed; last != nil {
		fmt.Fprintf(out, "Last:  %s %s", status.FormatTimestamp(last.Timestamp), last.RecordingID)
		if last.Language != "" {
			fmt.Fprintf(out, " (%s)", last.Language)
		}
		if last.Output != "" {
			fmt.Fprintf(out, " -> %s", status.BaseName(last.Output))
		}
		fmt.Fprintln(out)
	}
	return nil
}

func printState(w io.Writer, s transcribe.ControlState) {
	fmt.Fprintln(w, "memoscribe is running")
	fmt.Fprintf(w, "  Watching: %s\n", yesNo(s.Watching))
	if len(s.Sources) > 0 {
		fmt.Fprintf(w, "  Sources:  %s\n", strings.Join(s.Sources, ", "))
	}
	fmt.Fprintf(w, "  Language: %s\n", s.Language)
	fmt.Fprintf(w, "  Capture:  %s", s.Capture.State)
	if s.Capture.Path != "" {
		fmt.Fprintf(w, " (%s)", s.Capture.Path)
	}
	fmt.Fprintln(w)
	fmt.Fprintf(w, "  Workers:  %d running", s.Queue.Running)
	switch {
	case s.Queue.Halted:
		fmt.Fprint(w, ", halted on storage error")
	case s.Queue.Paused:
		fmt.Fprint(w, ", paused")
	}
	fmt.Fprintln(w)
	if s.Pending > 0 {
		fmt.Fprintf(w, "  Settling: %d files\n", s.Pending)
	}
}

func formatJobCounts(counts map[domain.JobState]int) string {
	parts := make([]string, 0, len(jobStates))
	for _, st := range jobStates {
		parts = append(parts, fmt.Sprintf("%s %d", st, counts[st]))
	}
	return strings.Join(parts, ", ")
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}
