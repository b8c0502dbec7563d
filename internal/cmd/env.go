package cmd

import (
	"errors"
	"fmt"

	"github.com/TechnicallyShaun/memoscribe/internal/apphome"
	"github.com/TechnicallyShaun/memoscribe/internal/transcribe"
	"github.com/TechnicallyShaun/memoscribe/internal/transcribe/api"
	"github.com/TechnicallyShaun/memoscribe/internal/transcribe/pidfile"
	"github.com/TechnicallyShaun/memoscribe/internal/transcribe/store"
)

// ErrNotRunning indicates the service is not running
var ErrNotRunning = errors.New("memoscribe service is not running (start it with 'memoscribe serve')")

// ErrStaleProcess indicates the PID file exists but the process is not running
var ErrStaleProcess = errors.New("stale PID file (process not running)")

// appEnv is the loaded home directory and configuration shared by commands.
type appEnv struct {
	home string
	cfg  *transcribe.Config
}

func loadEnv() (*appEnv, error) {
	home, err := apphome.Find()
	if err != nil {
		return nil, err
	}
	cfg, err := transcribe.Load(home)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return &appEnv{home: home, cfg: cfg}, nil
}

func (e *appEnv) pidFile() *pidfile.File {
	return pidfile.New(apphome.PIDPath(e.home))
}

// client returns a client for the running service, or ok=false when it is not running.
func (e *appEnv) client() (c *api.Client, ok bool, err error) {
	running, _, err := e.pidFile().IsRunning()
	if err != nil {
		return nil, false, err
	}
	if !running {
		return nil, false, nil
	}
	return api.NewClient(e.cfg.BaseURL()), true, nil
}

// requireClient is client for commands that only work against a running service.
func (e *appEnv) requireClient() (*api.Client, error) {
	c, ok, err := e.client()
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNotRunning
	}
	return c, nil
}

// openStore opens the database directly, for commands run while the service is stopped.
func (e *appEnv) openStore() (*store.Store, error) {
	return store.Open(e.cfg.DatabasePath)
}
