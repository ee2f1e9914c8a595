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
)

// CommandDevice reads raw PCM from the stdout of an external recorder such as
// arecord or sox.
type CommandDevice struct {
	Command    string
	FrameBytes int
}

func (d CommandDevice) Name() string {
	fields := strings.Fields(d.Command)
	if len(fields) == 0 {
		return "command"
	}
	return "command:" + fields[0]
}

// Available reports whether the recorder binary is on PATH.
func (d CommandDevice) Available() bool {
	fields := strings.Fields(d.Command)
	if len(fields) == 0 {
		return false
	}
	_, err := exec.LookPath(fields[0])
	return err == nil
}

func (d CommandDevice) Open(_ context.Context) (Stream, error) {
	fields := strings.Fields(d.Command)
	if len(fields) == 0 {
		return nil, fmt.Errorf("%w: empty capture command", ErrDeviceUnavailable)
	}
	path, err := exec.LookPath(fields[0])
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDeviceUnavailable, err)
	}
	frameBytes := d.FrameBytes
	if frameBytes <= 0 {
		frameBytes = 1280
	}

	// The process outlives the request that started it; Close kills it.
	cmd := exec.Command(path, fields[1:]...)
	stderr := &bytes.Buffer{}
	cmd.Stderr = stderr
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("%w: start %s: %w", ErrDeviceUnavailable, fields[0], err)
	}
	return &commandStream{cmd: cmd, stdout: stdout, stderr: stderr, frameBytes: frameBytes}, nil
}

type commandStream struct {
	cmd        *exec.Cmd
	stdout     io.ReadCloser
	stderr     *bytes.Buffer
	frameBytes int

	reapOnce sync.Once
	waitErr  error
}

func (s *commandStream) ReadFrame(ctx context.Context) ([]byte, error) {
	stop := context.AfterFunc(ctx, func() { _ = s.kill() })
	defer stop()

	buf := make([]byte, s.frameBytes)
	n, err := io.ReadFull(s.stdout, buf)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if errors.Is(err, io.ErrUnexpectedEOF) && n > 0 {
			return buf[:n], nil
		}
		if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
			if detail := s.exitDetail(ctx); detail != "" {
				return nil, fmt.Errorf("%w: %s", io.EOF, detail)
			}
			return nil, io.EOF
		}
		return nil, err
	}
	return buf, nil
}

func (s *commandStream) kill() error {
	if s.cmd.Process == nil {
		return nil
	}
	return s.cmd.Process.Kill()
}

// reap waits for the process and its stderr copy. Stdout must be drained or
// abandoned first.
func (s *commandStream) reap() {
	s.reapOnce.Do(func() {
		s.waitErr = s.cmd.Wait()
	})
}

// exitDetail reaps a recorder whose stdout hit EOF and returns its stderr, or
// the exit status when stderr was empty. A process that keeps running after
// closing stdout yields no detail.
func (s *commandStream) exitDetail(ctx context.Context) string {
	reaped := make(chan struct{})
	go func() {
		s.reap()
		close(reaped)
	}()
	timer := time.NewTimer(time.Second)
	defer timer.Stop()
	select {
	case <-reaped:
	case <-ctx.Done():
		return ""
	case <-timer.C:
		return ""
	}
	if detail := strings.TrimSpace(s.stderr.String()); detail != "" {
		return detail
	}
	if s.waitErr != nil {
		return s.waitErr.Error()
	}
	return ""
}

func (s *commandStream) Close() error {
	_ = s.kill()
	s.reap()
	return nil
}
