// Package sidecar launches the conversion engine executable next to the
// desktop shell and stops it when the window closes.
package sidecar

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"svs-converter/internal/logging"
)

// ErrAlreadyRunning is returned by Start while a launched engine is alive.
var ErrAlreadyRunning = errors.New("engine sidecar is already running")

const stopTimeout = 5 * time.Second

// StartError reports a failed launch with the command that was attempted.
type StartError struct {
	Command string
	Args    []string
	Err     error
}

func (e *StartError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("start engine sidecar %s: %v", e.Command, e.Err)
}

// Unwrap exposes underlying error for errors.Is / errors.As.
func (e *StartError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// process abstracts a launched child for testability.
type process interface {
	Pid() int
	Wait() error
	Kill() error
}

// starter launches a child and forwards each output line to onLine.
type starter func(ctx context.Context, name string, args []string, onLine func(stream, line string)) (process, error)

// Supervisor owns at most one engine child process.
type Supervisor struct {
	command string
	args    []string
	start   starter
	logger  *slog.Logger

	mu      sync.Mutex
	proc    process
	done    chan struct{}
	exitErr error
}

// New creates a supervisor for command. An empty command disables launching.
func New(command string, args []string, logger *slog.Logger) *Supervisor {
	return &Supervisor{
		command: strings.TrimSpace(command),
		args:    append([]string(nil), args...),
		start:   startExec,
		logger:  logging.NewComponentLogger(logger, "sidecar"),
	}
}

// Enabled reports whether a command is configured.
func (s *Supervisor) Enabled() bool {
	return s.command != ""
}

// Command returns the configured executable.
func (s *Supervisor) Command() string {
	return s.command
}

// Start launches the engine. It is a no-op when disabled and fails with
// ErrAlreadyRunning while a previous launch is still alive.
func (s *Supervisor) Start(ctx context.Context) error {
	if !s.Enabled() {
		s.logger.Info("engine sidecar disabled")
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.proc != nil {
		return fmt.Errorf("%w (pid %d)", ErrAlreadyRunning, s.proc.Pid())
	}

	proc, err := s.start(ctx, s.command, s.args, s.logLine)
	if err != nil {
		return &StartError{Command: s.command, Args: s.args, Err: err}
	}

	done := make(chan struct{})
	s.proc = proc
	s.done = done
	s.exitErr = nil
	s.logger.Info("engine sidecar started",
		logging.String("command", s.command),
		logging.Int("pid", proc.Pid()),
	)

	go s.wait(proc, done)
	return nil
}

func (s *Supervisor) wait(proc process, done chan struct{}) {
	err := proc.Wait()

	s.mu.Lock()
	if s.proc == proc {
		s.proc = nil
	}
	s.exitErr = err
	s.mu.Unlock()
	close(done)

	if err != nil {
		s.logger.Warn("engine sidecar exited", logging.Int("pid", proc.Pid()), logging.Error(err))
		return
	}
	s.logger.Info("engine sidecar exited", logging.Int("pid", proc.Pid()))
}

// Running reports whether a launched engine is alive.
func (s *Supervisor) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.proc != nil
}

// Stop kills the engine and waits briefly for it to exit.
func (s *Supervisor) Stop() error {
	s.mu.Lock()
	proc, done := s.proc, s.done
	s.mu.Unlock()
	if proc == nil {
		return nil
	}

	s.logger.Info("stopping engine sidecar", logging.Int("pid", proc.Pid()))
	if err := proc.Kill(); err != nil {
		return fmt.Errorf("kill engine sidecar: %w", err)
	}

	select {
	case <-done:
		return nil
	case <-time.After(stopTimeout):
		return fmt.Errorf("engine sidecar pid %d did not exit within %s", proc.Pid(), stopTimeout)
	}
}

func (s *Supervisor) logLine(stream, line string) {
	s.logger.Debug("engine output", logging.String("stream", stream), logging.String("line", line))
}

// execProcess runs the child via os/exec and drains its output pipes.
type execProcess struct {
	cmd   *exec.Cmd
	pipes sync.WaitGroup
}

func startExec(ctx context.Context, name string, args []string, onLine func(stream, line string)) (process, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, err
	}
	if err := cmd.Start(); err != nil {
		return nil, err
	}

	p := &execProcess{cmd: cmd}
	p.pipes.Add(2)
	go p.drain("stdout", stdout, onLine)
	go p.drain("stderr", stderr, onLine)
	return p, nil
}

func (p *execProcess) drain(stream string, r io.Reader, onLine func(stream, line string)) {
	defer p.pipes.Done()
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		if line := strings.TrimSpace(scanner.Text()); line != "" {
			onLine(stream, line)
		}
	}
}

func (p *execProcess) Pid() int {
	if p.cmd.Process == nil {
		return 0
	}
	return p.cmd.Process.Pid
}

// Wait drains output before reaping the child, as exec.Cmd requires.
func (p *execProcess) Wait() error {
	p.pipes.Wait()
	return p.cmd.Wait()
}

func (p *execProcess) Kill() error {
	if p.cmd.Process == nil {
		return nil
	}
	err := p.cmd.Process.Kill()
	if errors.Is(err, os.ErrProcessDone) {
		return nil
	}
	return err
}
