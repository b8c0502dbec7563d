package cmd

import (
	"fmt"
	"path/filepath"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/TechnicallyShaun/memoscribe/internal/apphome"
	"github.com/TechnicallyShaun/memoscribe/internal/transcribe"
)

// disableValue turns off an optional source folder at a prompt.
const disableValue = "-"

// NewConfigCmd creates the config command
func NewConfigCmd(prompter Prompter) *cobra.Command {
	var advanced bool

	cmd := &cobra.Command{
		Use:   "config",
		Short: "Configure folders and the transcription engine",
		Long:  "Interactive configuration. Press Enter to keep the value shown as default.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			p := prompter
			if p == nil {
				p = NewStdinPrompter()
			}
			return runConfig(cmd, p, advanced)
		},
	}

	cmd.Flags().BoolVar(&advanced, "advanced", false, "Also prompt for queue, language and server settings")
	return cmd
}

func runConfig(cmd *cobra.Command, prompter Prompter, advanced bool) error {
	home, err := apphome.Find()
	if err != nil {
		return err
	}
	cfg, err := transcribe.Load(home)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintln(out, "")
	fmt.Fprintln(out, "memoscribe configuration")
	fmt.Fprintln(out, "========================")
	fmt.Fprintln(out, "")

	if cfg.VoiceMemosDir, err = promptFolder(prompter, "Voice Memos folder", cfg.VoiceMemosDir); err != nil {
		return err
	}
	if cfg.DropDir, err = promptFolder(prompter, "Drop folder", cfg.DropDir); err != nil {
		return err
	}
	if cfg.TranscriptsDir, err = promptDefault(prompter, "Transcripts folder", cfg.TranscriptsDir); err != nil {
		return err
	}

	if cfg.Engine, err = promptDefault(prompter, "Engine (whisper-cli, whisper-asr)", cfg.Engine); err != nil {
		return err
	}
	switch cfg.Engine {
	case transcribe.EngineWhisperCLI:
		if cfg.WhisperModelPath == "" {
			cfg.WhisperModelPath = filepath.Join(home, apphome.ModelsDir, transcribe.DefaultModelFile)
		}
		if cfg.WhisperModelPath, err = promptDefault(prompter, "Model file", cfg.WhisperModelPath); err != nil {
			return err
		}
	case transcribe.EngineWhisperASR:
		if cfg.APIURL != "" {
			cfg.APIURL, err = promptDefault(prompter, "whisper-asr URL", cfg.APIURL)
		} else {
			cfg.APIURL, err = promptRequired(prompter, "whisper-asr URL [required]: ")
		}
		if err != nil {
			return err
		}
	default:
		return transcribe.ErrUnknownEngine
	}

	templatePath, err := prompter.Prompt("Template file [optional, Enter to skip]: ")
	if err != nil {
		return err
	}
	if templatePath != "" {
		cfg.TemplatePath = &templatePath
	}

	if advanced {
		if err := promptAdvanced(cmd, prompter, cfg); err != nil {
			return err
		}
	}

	cfg.ApplyDefaults(home)
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if err := cfg.Save(home); err != nil {
		return fmt.Errorf("failed to save configuration: %w", err)
	}

	fmt.Fprintln(out, "")
	fmt.Fprintf(out, "Configuration saved to %s\n", filepath.Join(home, apphome.ConfigFile))
	return nil
}

// promptFolder asks for an optional source folder; "-" disables it.
func promptFolder(prompter Prompter, label, current string) (string, error) {
	def := current
	if def == "" {
		def = disableValue
	}
	value, err := promptDefault(prompter, label+" ('-' to disable)", def)
	if err != nil {
		return "", err
	}
	if value == disableValue {
		return "", nil
	}
	return value, nil
}

func promptAdvanced(cmd *cobra.Command, prompter Prompter, cfg *transcribe.Config) error {
	fmt.Fprintln(cmd.OutOrStdout(), "")
	fmt.Fprintln(cmd.OutOrStdout(), "Advanced Settings")
	fmt.Fprintln(cmd.OutOrStdout(), "-----------------")

	concurrency, err := promptDefault(prompter, "Concurrent transcriptions", strconv.Itoa(cfg.Concurrency))
	if err != nil {
		return err
	}
	n, err := strconv.Atoi(concurrency)
	if err != nil || n <= 0 {
		return fmt.Errorf("concurrency must be a positive number: %q", concurrency)
	}
	cfg.Concurrency = n

	if cfg.DefaultLanguage, err = promptDefault(prompter, "Fallback language when detection fails", cfg.DefaultLanguage); err != nil {
		return err
	}
	if cfg.TranscriptFormat, err = promptDefault(prompter, "Transcript format (text, markdown)", cfg.TranscriptFormat); err != nil {
		return err
	}
	if cfg.ListenAddr, err = promptDefault(prompter, "Listen address", cfg.ListenAddr); err != nil {
		return err
	}
	return nil
}
