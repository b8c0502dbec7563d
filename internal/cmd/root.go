package cmd

import (
	"github.com/spf13/cobra"
)

// NewRootCmd creates the root command for the memoscribe CLI
func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "memoscribe",
		Short: "Automatic transcription of voice memos and recordings",
		Long: `memoscribe watches your Voice Memos and drop folders, transcribes every new
recording once, and keeps the transcripts searchable.

The home directory defaults to ~/Library/Application Support/Memoscribe on macOS
and can be moved with MEMOSCRIBE_HOME.`,
		SilenceUsage: true,
	}

	rootCmd.AddCommand(NewInitCmd())
	rootCmd.AddCommand(NewConfigCmd(nil))
	rootCmd.AddCommand(NewServeCmd())
	rootCmd.AddCommand(NewStopCmd())
	rootCmd.AddCommand(NewStatusCmd())
	rootCmd.AddCommand(NewListCmd())
	rootCmd.AddCommand(NewSearchCmd())
	rootCmd.AddCommand(NewShowCmd())
	rootCmd.AddCommand(NewSubmitCmd())
	rootCmd.AddCommand(NewRecordCmd())
	rootCmd.AddCommand(NewLanguageCmd())
	rootCmd.AddCommand(NewWatchCmd())
	rootCmd.AddCommand(NewVersionCmd())

	return rootCmd
}
