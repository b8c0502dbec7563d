// Package transcribe wires the transcription pipeline together: configuration,
// persisted settings and the service that runs the watcher, queue and capture.
package transcribe

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	cronlib "github.com/robfig/cron/v3"

	"github.com/TechnicallyShaun/memoscribe/internal/apphome"
	"github.com/TechnicallyShaun/memoscribe/internal/domain"
	"github.com/TechnicallyShaun/memoscribe/internal/transcribe/output"
)

// Engine kinds
const (
	EngineWhisperCLI = "whisper-cli"
	EngineWhisperASR = "whisper-asr"
)

// Default values for optional configuration fields
const (
	DefaultSettleIntervalMs    = 2000
	DefaultSettleChecks        = 3
	DefaultMinFileSize         = 1000
	DefaultVoiceMemoMaxAgeDays = 14
	DefaultRescanSchedule      = "@every 15m"
	DefaultEngine              = EngineWhisperCLI
	DefaultWhisperCLIPath      = "whisper-cli"
	DefaultModelFile           = "ggml-large-v3-turbo-q5_0.bin"
	DefaultModel               = "base"
	DefaultFFmpegPath          = "ffmpeg"
	DefaultConcurrency         = 2
	DefaultMaxAttempts         = 3
	DefaultRetryBaseSeconds    = 5
	DefaultJobTimeoutMinutes   = 30
	DefaultLanguage            = "en"
	DefaultListenAddr          = "127.0.0.1:5051"
	DefaultCaptureInputFormat  = "avfoundation"
	DefaultCaptureDevice       = "0"
	DefaultTranscriptFormat    = "text"
	DefaultLogLevel            = "info"
)

// DefaultExtensions are the audio file extensions picked up by the watcher.
var DefaultExtensions = []string{".m4a", ".mp3", ".wav", ".aac", ".ogg"}

// EnvPrefix prefixes every environment override.
const EnvPrefix = "MEMOSCRIBE_"

// Config is the service configuration, stored as <home>/config.json.
type Config struct {
	VoiceMemosDir  string `json:"voice_memos_dir"`
	DropDir        string `json:"drop_dir"`
	CaptureDir     string `json:"capture_dir"`
	TranscriptsDir string `json:"transcripts_dir"`
	DatabasePath   string `json:"database_path"`
	LogDir         string `json:"log_dir"`
	WorkDir        string `json:"work_dir"`

	Extensions          []string `json:"extensions"`
	SettleIntervalMs    int      `json:"settle_interval_ms"`
	SettleChecks        int      `json:"settle_checks"`
	MinFileSize         int64    `json:"min_file_size"`
	VoiceMemoMaxAgeDays int      `json:"voice_memo_max_age_days"`
	RescanSchedule      string   `json:"rescan_schedule"`

	Engine           string `json:"engine"`
	WhisperCLIPath   string `json:"whisper_cli_path"`
	WhisperModelPath string `json:"whisper_model_path"`
	WhisperThreads   int    `json:"whisper_threads"`
	APIURL           string `json:"api_url"`
	Model            string `json:"model"`
	FFmpegPath       string `json:"ffmpeg_path"`

	Concurrency       int    `json:"concurrency"`
	MaxAttempts       int    `json:"max_attempts"`
	RetryBaseSeconds  int    `json:"retry_base_seconds"`
	JobTimeoutMinutes int    `json:"job_timeout_minutes"`
	DefaultLanguage   string `json:"default_language"`

	ListenAddr         string  `json:"listen_addr"`
	CaptureInputFormat string  `json:"capture_input_format"`
	CaptureDevice      string  `json:"capture_device"`
	TranscriptFormat   string  `json:"transcript_format"`
	TemplatePath       *string `json:"template_path"`
	StartPaused        bool    `json:"start_paused"`
	Notifications      *bool   `json:"notifications,omitempty"`
	LogLevel           string  `json:"log_level"`
}

// Validation errors
var (
	ErrNoSources          = errors.New("at least one of voice_memos_dir or drop_dir is required")
	ErrTranscriptsDir     = errors.New("transcripts_dir is required")
	ErrDatabasePath       = errors.New("database_path is required")
	ErrUnknownEngine      = errors.New("engine must be whisper-cli or whisper-asr")
	ErrModelPathRequired  = errors.New("whisper_model_path is required for the whisper-cli engine")
	ErrAPIURLRequired     = errors.New("api_url is required for the whisper-asr engine")
	ErrInvalidListenAddr  = errors.New("listen_addr must be host:port")
	ErrInvalidDefaultLang = errors.New("default_language must be a language code")
	ErrInvalidSchedule    = errors.New("rescan_schedule is not a valid cron expression")
)

// DefaultVoiceMemosDir is where macOS Voice Memos keeps its recordings.
func DefaultVoiceMemosDir() string {
	if runtime.GOOS != "darwin" {
		return ""
	}
	return "~/Library/Group Containers/group.com.apple.VoiceMemos.shared/Recordings"
}

// DefaultConfig returns a config laid out under home.
func DefaultConfig(home string) *Config {
	cfg := &Config{VoiceMemosDir: DefaultVoiceMemosDir()}
	cfg.ApplyDefaults(home)
	return cfg
}

// Load reads <home>/config.json, applies .env and environment overrides,
// fills defaults and expands ~ in paths.
func Load(home string) (*Config, error) {
	data, err := os.ReadFile(filepath.Join(home, apphome.ConfigFile))
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", apphome.ConfigFile, err)
	}

	env, err := readEnv(home)
	if err != nil {
		return nil, err
	}
	if err := cfg.applyEnv(env); err != nil {
		return nil, err
	}

	cfg.ApplyDefaults(home)
	cfg.expandPaths()
	return &cfg, nil
}

// Save writes the configuration to <home>/config.json.
func (c *Config) Save(home string) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(home, apphome.ConfigFile), append(data, '\n'), 0644)
}

// readEnv merges <home>/.env with the process environment, which wins.
func readEnv(home string) (map[string]string, error) {
	env := map[string]string{}
	path := filepath.Join(home, apphome.EnvFile)
	if _, err := os.Stat(path); err == nil {
		fileEnv, err := godotenv.Read(path)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", path, err)
		}
		for k, v := range fileEnv {
			env[k] = v
		}
	}
	for _, kv := range os.Environ() {
		if k, v, ok := strings.Cut(kv, "="); ok && strings.HasPrefix(k, EnvPrefix) {
			env[k] = v
		}
	}
	return env, nil
}

// applyEnv overrides fields from MEMOSCRIBE_* variables.
func (c *Config) applyEnv(env map[string]string) error {
	strs := map[string]*string{
		"VOICE_MEMOS_DIR":      &c.VoiceMemosDir,
		"DROP_DIR":             &c.DropDir,
		"CAPTURE_DIR":          &c.CaptureDir,
		"TRANSCRIPTS_DIR":      &c.TranscriptsDir,
		"DATABASE_PATH":        &c.DatabasePath,
		"LOG_DIR":              &c.LogDir,
		"ENGINE":               &c.Engine,
		"WHISPER_CLI_PATH":     &c.WhisperCLIPath,
		"WHISPER_MODEL_PATH":   &c.WhisperModelPath,
		"API_URL":              &c.APIURL,
		"MODEL":                &c.Model,
		"FFMPEG_PATH":          &c.FFmpegPath,
		"DEFAULT_LANGUAGE":     &c.DefaultLanguage,
		"LISTEN_ADDR":          &c.ListenAddr,
		"CAPTURE_INPUT_FORMAT": &c.CaptureInputFormat,
		"CAPTURE_DEVICE":       &c.CaptureDevice,
		"LOG_LEVEL":            &c.LogLevel,
	}
	for key, field := range strs {
		if v, ok := env[EnvPrefix+key]; ok && v != "" {
			*field = v
		}
	}

	ints := map[string]*int{
		"CONCURRENCY":     &c.Concurrency,
		"MAX_ATTEMPTS":    &c.MaxAttempts,
		"WHISPER_THREADS": &c.WhisperThreads,
	}
	for key, field := range ints {
		v, ok := env[EnvPrefix+key]
		if !ok || v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s%s: %w", EnvPrefix, key, err)
		}
		*field = n
	}

	if v, ok := env[EnvPrefix+"NOTIFICATIONS"]; ok && v != "" {
		on, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%sNOTIFICATIONS: %w", EnvPrefix, err)
		}
		c.Notifications = &on
	}
	return nil
}

// Validate checks that the configuration can run.
func (c *Config) Validate() error {
	if c.VoiceMemosDir == "" && c.DropDir == "" {
		return ErrNoSources
	}
	if c.TranscriptsDir == "" {
		return ErrTranscriptsDir
	}
	if c.DatabasePath == "" {
		return ErrDatabasePath
	}
	switch c.Engine {
	case EngineWhisperCLI:
		if c.WhisperModelPath == "" {
			return ErrModelPathRequired
		}
	case EngineWhisperASR:
		if c.APIURL == "" {
			return ErrAPIURLRequired
		}
	default:
		return ErrUnknownEngine
	}
	if _, port, err := net.SplitHostPort(c.ListenAddr); err != nil || port == "" {
		return ErrInvalidListenAddr
	}
	if mode, err := domain.ParseLanguageMode(c.DefaultLanguage); err != nil || mode.IsAuto() {
		return ErrInvalidDefaultLang
	}
	if _, err := output.ParseFormat(c.TranscriptFormat); err != nil {
		return err
	}
	if _, err := cronlib.ParseStandard(c.RescanSchedule); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSchedule, err)
	}
	return nil
}

// ApplyDefaults sets default values for optional fields that are empty or zero.
// Folder defaults are laid out under home.
func (c *Config) ApplyDefaults(home string) {
	if c.DropDir == "" {
		c.DropDir = filepath.Join(home, apphome.InputDir)
	}
	if c.CaptureDir == "" {
		c.CaptureDir = filepath.Join(home, apphome.CaptureDir)
	}
	if c.TranscriptsDir == "" {
		c.TranscriptsDir = filepath.Join(home, apphome.TranscriptsDir)
	}
	if c.DatabasePath == "" {
		c.DatabasePath = filepath.Join(home, apphome.DBDir, "memoscribe.db")
	}
	if c.LogDir == "" {
		c.LogDir = filepath.Join(home, apphome.LogsDir)
	}
	if c.WorkDir == "" {
		c.WorkDir = filepath.Join(home, apphome.WorkDir)
	}
	if len(c.Extensions) == 0 {
		c.Extensions = DefaultExtensions
	}
	if c.SettleIntervalMs == 0 {
		c.SettleIntervalMs = DefaultSettleIntervalMs
	}
	if c.SettleChecks == 0 {
		c.SettleChecks = DefaultSettleChecks
	}
	if c.MinFileSize == 0 {
		c.MinFileSize = DefaultMinFileSize
	}
	if c.VoiceMemoMaxAgeDays == 0 {
		c.VoiceMemoMaxAgeDays = DefaultVoiceMemoMaxAgeDays
	}
	if c.RescanSchedule == "" {
		c.RescanSchedule = DefaultRescanSchedule
	}
	if c.Engine == "" {
		c.Engine = DefaultEngine
	}
	if c.WhisperCLIPath == "" {
		c.WhisperCLIPath = DefaultWhisperCLIPath
	}
	if c.WhisperModelPath == "" && c.Engine == EngineWhisperCLI {
		c.WhisperModelPath = filepath.Join(home, apphome.ModelsDir, DefaultModelFile)
	}
	if c.WhisperThreads == 0 {
		c.WhisperThreads = min(8, runtime.NumCPU())
	}
	if c.Model == "" {
		c.Model = DefaultModel
	}
	if c.FFmpegPath == "" {
		c.FFmpegPath = DefaultFFmpegPath
	}
	if c.Concurrency == 0 {
		c.Concurrency = DefaultConcurrency
	}
	if c.MaxAttempts == 0 {
		c.MaxAttempts = DefaultMaxAttempts
	}
	if c.RetryBaseSeconds == 0 {
		c.RetryBaseSeconds = DefaultRetryBaseSeconds
	}
	if c.JobTimeoutMinutes == 0 {
		c.JobTimeoutMinutes = DefaultJobTimeoutMinutes
	}
	if c.DefaultLanguage == "" {
		c.DefaultLanguage = DefaultLanguage
	}
	if c.ListenAddr == "" {
		c.ListenAddr = DefaultListenAddr
	}
	if c.CaptureInputFormat == "" {
		c.CaptureInputFormat = DefaultCaptureInputFormat
	}
	if c.CaptureDevice == "" {
		c.CaptureDevice = DefaultCaptureDevice
	}
	if c.TranscriptFormat == "" {
		c.TranscriptFormat = DefaultTranscriptFormat
	}
	if c.LogLevel == "" {
		c.LogLevel = DefaultLogLevel
	}
}

// SettleInterval returns the watcher settle interval.
func (c *Config) SettleInterval() time.Duration {
	return time.Duration(c.SettleIntervalMs) * time.Millisecond
}

// VoiceMemoMaxAge returns the age beyond which voice memos are skipped.
func (c *Config) VoiceMemoMaxAge() time.Duration {
	return time.Duration(c.VoiceMemoMaxAgeDays) * 24 * time.Hour
}

// RetryBase returns the first retry delay.
func (c *Config) RetryBase() time.Duration {
	return time.Duration(c.RetryBaseSeconds) * time.Second
}

// JobTimeout returns the per-attempt timeout.
func (c *Config) JobTimeout() time.Duration {
	return time.Duration(c.JobTimeoutMinutes) * time.Minute
}

// NotificationsEnabled reports whether desktop notifications are on. Unset means on.
func (c *Config) NotificationsEnabled() bool {
	return c.Notifications == nil || *c.Notifications
}

// BaseURL returns the HTTP address clients use to reach the service.
func (c *Config) BaseURL() string {
	host, port, err := net.SplitHostPort(c.ListenAddr)
	if err != nil {
		host, port = "127.0.0.1", "5051"
	}
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "127.0.0.1"
	}
	return "http://" + net.JoinHostPort(host, port)
}

// expandPaths expands ~ to the user's home directory in path fields.
func (c *Config) expandPaths() {
	for _, p := range []*string{
		&c.VoiceMemosDir, &c.DropDir, &c.CaptureDir, &c.TranscriptsDir,
		&c.DatabasePath, &c.LogDir, &c.WorkDir, &c.WhisperModelPath,
	} {
		*p = expandTilde(*p)
	}
	if c.TemplatePath != nil {
		expanded := expandTilde(*c.TemplatePath)
		c.TemplatePath = &expanded
	}
}

// expandTilde expands ~ at the beginning of a path to the user's home directory.
func expandTilde(path string) string {
	if path == "" {
		return path
	}
	if path == "~" {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return home
	}
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return path
}
