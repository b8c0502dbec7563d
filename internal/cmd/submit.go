package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/TechnicallyShaun/memoscribe/internal/domain"
	"github.com/TechnicallyShaun/memoscribe/internal/transcribe"
	"github.com/TechnicallyShaun/memoscribe/internal/transcribe/queue"
)

// NewSubmitCmd creates the submit command
func NewSubmitCmd() *cobra.Command {
	var recordingID string

	cmd := &cobra.Command{
		Use:   "submit [path]",
		Short: "Queue an audio file, or re-queue a known recording",
		Long: `Queue an audio file for transcription, or re-queue a known recording with --id.

A file that was already transcribed is not queued again; use --id to force a
new transcription. When the service is stopped the job is stored and picked
up at the next start.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if (len(args) == 1) == (recordingID != "") {
				return fmt.Errorf("give either a file path or --id")
			}
			env, err := loadEnv()
			if err != nil {
				return err
			}
			path := ""
			if len(args) == 1 {
				path = args[0]
			}
			return runSubmit(cmd, env, path, recordingID)
		},
	}

	cmd.Flags().StringVar(&recordingID, "id", "", "Re-queue the recording with this ID")
	return cmd
}

func runSubmit(cmd *cobra.Command, env *appEnv, path, recordingID string) error {
	ctx := cmd.Context()

	c, running, err := env.client()
	if err != nil {
		return err
	}

	var result domain.SubmitResult
	if running {
		if recordingID != "" {
			result, err = c.Resubmit(ctx, recordingID)
		} else {
			result, err = c.Submit(ctx, path)
		}
	} else {
		result, err = submitOffline(cmd, env, path, recordingID)
	}
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	switch result {
	case domain.SubmitEnqueued:
		fmt.Fprintln(out, "Queued for transcription")
		if !running {
			fmt.Fprintln(out, "The service is not running; the job starts with 'memoscribe serve'")
		}
	case domain.SubmitDuplicate:
		fmt.Fprintln(out, "Already queued")
	case domain.SubmitAlreadyTranscribed:
		fmt.Fprintln(out, "Already transcribed (use --id to transcribe again)")
	default:
		fmt.Fprintln(out, result)
	}
	return nil
}

// submitOffline records the job in the database for the next service start.
func submitOffline(cmd *cobra.Command, env *appEnv, path, recordingID string) (domain.SubmitResult, error) {
	settings, err := transcribe.LoadSettings(env.home)
	if err != nil {
		return "", err
	}
	st, err := env.openStore()
	if err != nil {
		return "", err
	}
	defer st.Close()

	q := queue.New(st, nil, nil, nil, func() domain.LanguageMode { return settings.Language })
	if recordingID != "" {
		return q.Resubmit(cmd.Context(), recordingID)
	}
	return q.SubmitPath(cmd.Context(), path)
}
