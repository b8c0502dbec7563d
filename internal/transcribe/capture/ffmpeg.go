package capture

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"sync"
	"time"

	"golang.org/x/sys/unix"

	"github.com/TechnicallyShaun/memoscribe/internal/transcribe/command"
)

// Process is a running capture.
type Process interface {
	// Stop asks the process to finish the file, escalating after grace.
	Stop(grace time.Duration) error
	// Done is closed when the process has exited.
	Done() <-chan struct{}
	// Err is the exit error, valid after Done is closed.
	Err() error
}

// Starter launches a capture writing to outputPath.
type Starter interface {
	Start(ctx context.Context, outputPath string) (Process, error)
}

// FFmpegStarter records the system audio device with ffmpeg.
type FFmpegStarter struct {
	Binary      string
	InputFormat string
	Device      string
	Bitrate     string
}

var _ Starter = (*FFmpegStarter)(nil)

// NewFFmpegStarter returns a starter with the macOS defaults filled in.
func NewFFmpegStarter(binary, inputFormat, device string) *FFmpegStarter {
	if binary == "" {
		binary = "ffmpeg"
	}
	if inputFormat == "" {
		inputFormat = "avfoundation"
	}
	if device == "" {
		device = "0"
	}
	return &FFmpegStarter{Binary: binary, InputFormat: inputFormat, Device: device, Bitrate: "128k"}
}

// Args returns the ffmpeg arguments for one capture.
func (f *FFmpegStarter) Args(outputPath string) []string {
	input := f.Device
	// avfoundation takes "<video>:<audio>"; an empty video index means audio only.
	if f.InputFormat == "avfoundation" && !strings.Contains(input, ":") {
		input = ":" + input
	}
	bitrate := f.Bitrate
	if bitrate == "" {
		bitrate = "128k"
	}
	return []string{
		"-hide_banner",
		"-loglevel", "error",
		"-f", f.InputFormat,
		"-i", input,
		"-c:a", "aac",
		"-b:a", bitrate,
		"-y",
		outputPath,
	}
}

// Start launches ffmpeg. The process is not tied to ctx; only Stop ends it.
func (f *FFmpegStarter) Start(ctx context.Context, outputPath string) (Process, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	cmd := exec.Command(f.Binary, f.Args(outputPath)...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("open ffmpeg stdin: %w", err)
	}
	p := &ffmpegProcess{cmd: cmd, stdin: stdin, done: make(chan struct{})}
	cmd.Stderr = &p.stderr

	if err := cmd.Start(); err != nil {
		if command.IsNotFound(err) {
			return nil, fmt.Errorf("ffmpeg not found at %q: %w", f.Binary, err)
		}
		return nil, fmt.Errorf("start ffmpeg: %w", err)
	}

	go func() {
		err := cmd.Wait()
		if err != nil {
			if tail := command.Tail(p.stderr.String(), 3); tail != "" {
				err = fmt.Errorf("%w: %s", err, tail)
			}
		}
		p.mu.Lock()
		p.err = err
		p.mu.Unlock()
		close(p.done)
	}()
	return p, nil
}

type ffmpegProcess struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stderr bytes.Buffer
	done   chan struct{}

	mu  sync.Mutex
	err error
}

func (p *ffmpegProcess) Done() <-chan struct{} { return p.done }

func (p *ffmpegProcess) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}

// Stop sends ffmpeg's quit key, then SIGINT, then kills it.
func (p *ffmpegProcess) Stop(grace time.Duration) error {
	select {
	case <-p.done:
		return nil
	default:
	}

	io.WriteString(p.stdin, "q\n")
	p.stdin.Close()
	if p.wait(grace) {
		return nil
	}

	if err := unix.Kill(p.cmd.Process.Pid, unix.SIGINT); err != nil && !errors.Is(err, unix.ESRCH) {
		return fmt.Errorf("interrupt ffmpeg: %w", err)
	}
	if p.wait(grace) {
		return nil
	}

	if err := p.cmd.Process.Kill(); err != nil && !errors.Is(err, unix.ESRCH) {
		return fmt.Errorf("kill ffmpeg: %w", err)
	}
	<-p.done
	return errors.New("ffmpeg did not stop gracefully and was killed")
}

func (p *ffmpegProcess) wait(d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-p.done:
		return true
	case <-timer.C:
		return false
	}
}
