package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/TechnicallyShaun/memoscribe/internal/domain"
	"github.com/TechnicallyShaun/memoscribe/internal/transcribe"
)

// NewWatchCmd creates the watch command
func NewWatchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Start or stop watching the source folders",
		Long: `Start or stop watching the source folders of the running service.

Stopping also holds queued jobs; a transcription already running is allowed
to finish. Starting again rescans the folders.`,
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "start",
		Short: "Resume watching and processing",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWatch(cmd, true)
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "stop",
		Short: "Pause watching and processing",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWatch(cmd, false)
		},
	})
	return cmd
}

func runWatch(cmd *cobra.Command, start bool) error {
	env, err := loadEnv()
	if err != nil {
		return err
	}
	c, err := env.requireClient()
	if err != nil {
		return err
	}

	var state transcribe.ControlState
	if start {
		state, err = c.StartWatching(cmd.Context())
	} else {
		state, err = c.StopWatching(cmd.Context())
	}
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Watching: %s\n", yesNo(state.Watching))
	return nil
}

// NewRecordCmd creates the record command
func NewRecordCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "record",
		Short: "Record system audio",
		Long: `Record system audio through the running service.

'record start' begins a capture; 'record stop' finishes it and queues the
file for transcription.`,
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "start",
		Short: "Start a capture",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRecord(cmd, true)
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "stop",
		Short: "Stop the capture and queue it",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRecord(cmd, false)
		},
	})
	return cmd
}

func runRecord(cmd *cobra.Command, start bool) error {
	env, err := loadEnv()
	if err != nil {
		return err
	}
	c, err := env.requireClient()
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if start {
		session, err := c.StartCapture(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "Recording to %s\n", session.Path)
		return nil
	}

	session, err := c.StopCapture(cmd.Context())
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Recording stopped (%s)\n", session.State)
	return nil
}

// NewLanguageCmd creates the language command
func NewLanguageCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "language [auto|code]",
		Short: "Show or set the transcription language",
		Long: `Show or set the transcription language.

"auto" lets the engine detect the language of each recording. A two-letter
code such as "sv" forces it. The setting applies to recordings queued from
now on and survives restarts.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := loadEnv()
			if err != nil {
				return err
			}
			if len(args) == 0 {
				return showLanguage(cmd, env)
			}
			return setLanguage(cmd, env, args[0])
		},
	}
}

func showLanguage(cmd *cobra.Command, env *appEnv) error {
	c, running, err := env.client()
	if err != nil {
		return err
	}
	mode := ""
	if running {
		state, err := c.State(cmd.Context())
		if err != nil {
			return err
		}
		mode = state.Language
	} else {
		settings, err := transcribe.LoadSettings(env.home)
		if err != nil {
			return err
		}
		mode = settings.Language.String()
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Language: %s\n", mode)
	return nil
}

func setLanguage(cmd *cobra.Command, env *appEnv, arg string) error {
	mode, err := domain.ParseLanguageMode(arg)
	if err != nil {
		return err
	}

	c, running, err := env.client()
	if err != nil {
		return err
	}
	if running {
		if _, err := c.SetLanguage(cmd.Context(), mode.String()); err != nil {
			return err
		}
	} else {
		settings, err := transcribe.LoadSettings(env.home)
		if err != nil {
			return err
		}
		settings.Language = mode
		if err := transcribe.SaveSettings(env.home, settings); err != nil {
			return err
		}
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Language set to %s\n", mode)
	return nil
}
