package cmd

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sys/unix"

	"github.com/TechnicallyShaun/memoscribe/internal/transcribe/pidfile"
)

// stopTimeout is the maximum time to wait for graceful shutdown before sending SIGKILL
const stopTimeout = 10 * time.Second

// NewStopCmd creates the stop command
func NewStopCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stop",
		Short: "Stop the running service",
		Long: `Stop the running service.

Reads the PID file from the memoscribe home and sends SIGTERM for graceful shutdown.
If the process doesn't exit within 10 seconds, SIGKILL is sent to force termination.
The PID file is removed after the process exits.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := loadEnv()
			if err != nil {
				return err
			}
			return runStop(cmd, env.pidFile())
		},
	}
}

func runStop(cmd *cobra.Command, pf *pidfile.File) error {
	out := cmd.OutOrStdout()

	pid, err := pf.Read()
	if err != nil {
		if errors.Is(err, pidfile.ErrNoPIDFile) {
			return ErrNotRunning
		}
		if errors.Is(err, pidfile.ErrInvalidPID) {
			if removeErr := pf.Remove(); removeErr != nil {
				fmt.Fprintf(out, "Warning: %v\n", removeErr)
			}
			return ErrStaleProcess
		}
		return err
	}

	if !pidfile.Alive(pid) {
		if removeErr := pf.Remove(); removeErr != nil {
			fmt.Fprintf(out, "Warning: failed to remove stale PID file: %v\n", removeErr)
		}
		return ErrStaleProcess
	}

	fmt.Fprintf(out, "Stopping memoscribe (PID %d)...\n", pid)

	if err := unix.Kill(pid, unix.SIGTERM); err != nil {
		return fmt.Errorf("send SIGTERM: %w", err)
	}

	if !waitForExit(pid, stopTimeout) {
		fmt.Fprintln(out, "Process did not exit gracefully, sending SIGKILL...")
		if err := unix.Kill(pid, unix.SIGKILL); err != nil && !errors.Is(err, unix.ESRCH) {
			return fmt.Errorf("send SIGKILL: %w", err)
		}
		waitForExit(pid, 2*time.Second)
	}

	if err := pf.Remove(); err != nil {
		fmt.Fprintf(out, "Warning: %v\n", err)
	}

	fmt.Fprintln(out, "memoscribe stopped")
	return nil
}

// waitForExit polls until the process exits or timeout is reached
func waitForExit(pid int, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if !pidfile.Alive(pid) {
			return true
		}
		time.Sleep(100 * time.Millisecond)
	}
	return !pidfile.Alive(pid)
}
