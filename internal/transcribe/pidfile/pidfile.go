// Package pidfile tracks the running service process through a PID file.
package pidfile

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"golang.org/x/sys/unix"
)

// Common errors
var (
	ErrNoPIDFile      = errors.New("no PID file found")
	ErrInvalidPID     = errors.New("invalid PID in file")
	ErrAlreadyRunning = errors.New("service is already running")
)

const (
	dirPerm  = 0755
	filePerm = 0644
)

// File is a PID file at a fixed path.
type File struct {
	path string
}

// New returns the PID file at path.
func New(path string) *File {
	return &File{path: path}
}

// Path returns the file location.
func (f *File) Path() string {
	return f.path
}

// Write records pid, creating parent directories if needed.
func (f *File) Write(pid int) error {
	if err := os.MkdirAll(filepath.Dir(f.path), dirPerm); err != nil {
		return fmt.Errorf("create directory: %w", err)
	}
	if err := os.WriteFile(f.path, []byte(strconv.Itoa(pid)+"\n"), filePerm); err != nil {
		return fmt.Errorf("write PID file: %w", err)
	}
	return nil
}

// Read returns the recorded PID.
// Returns ErrNoPIDFile if the file doesn't exist and ErrInvalidPID if it holds garbage.
func (f *File) Read() (int, error) {
	data, err := os.ReadFile(f.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return 0, ErrNoPIDFile
		}
		return 0, fmt.Errorf("read PID file: %w", err)
	}

	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid <= 0 {
		return 0, ErrInvalidPID
	}
	return pid, nil
}

// Remove deletes the PID file. A missing file is not an error.
func (f *File) Remove() error {
	if err := os.Remove(f.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove PID file: %w", err)
	}
	return nil
}

// IsRunning reports whether the recorded process is alive.
// No PID file yields (false, 0, nil); a stale file yields (false, pid, nil).
func (f *File) IsRunning() (bool, int, error) {
	pid, err := f.Read()
	if err != nil {
		if errors.Is(err, ErrNoPIDFile) {
			return false, 0, nil
		}
		return false, 0, err
	}
	return Alive(pid), pid, nil
}

// CleanStale removes the PID file when its process is gone.
// Returns true if a stale file was removed.
func (f *File) CleanStale() (bool, error) {
	running, _, err := f.IsRunning()
	if errors.Is(err, ErrInvalidPID) {
		return true, f.Remove()
	}
	if err != nil || running {
		return false, err
	}
	if _, err := os.Stat(f.path); err != nil {
		return false, nil
	}
	if err := f.Remove(); err != nil {
		return false, err
	}
	return true, nil
}

// Acquire writes pid unless another live process holds the file.
func (f *File) Acquire(pid int) error {
	if _, err := f.CleanStale(); err != nil {
		return err
	}
	running, other, err := f.IsRunning()
	if err != nil {
		return err
	}
	if running && other != pid {
		return fmt.Errorf("%w (PID %d)", ErrAlreadyRunning, other)
	}
	return f.Write(pid)
}

// Alive reports whether a process with pid exists. Signal 0 checks without signalling;
// EPERM means the process exists but belongs to someone else.
func Alive(pid int) bool {
	err := unix.Kill(pid, 0)
	return err == nil || errors.Is(err, unix.EPERM)
}
