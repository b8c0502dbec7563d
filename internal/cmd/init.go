package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/TechnicallyShaun/memoscribe/internal/apphome"
	"github.com/TechnicallyShaun/memoscribe/internal/transcribe"
)

// NewInitCmd creates the init command
func NewInitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Initialize the memoscribe home directory",
		Long: `Create the home directory with its folders (transcripts, input, recordings,
db, logs, models, work) and a default config.json. Running it again only
creates missing folders and leaves the config alone.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			home, err := apphome.Dir()
			if err != nil {
				return fmt.Errorf("locate home directory: %w", err)
			}

			result, err := apphome.Init(home, func(home string) error {
				return transcribe.DefaultConfig(home).Save(home)
			})
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if result.AlreadyExisted {
				if len(result.FoldersCreated) > 0 {
					fmt.Fprintf(out, "Already initialized. Created missing folders: %s\n", strings.Join(result.FoldersCreated, ", "))
				} else {
					fmt.Fprintln(out, "Already initialized")
				}
				return nil
			}
			fmt.Fprintf(out, "Initialized memoscribe in %s\n", home)
			fmt.Fprintln(out, "Run 'memoscribe config' to choose folders and the transcription engine.")
			return nil
		},
	}
}
