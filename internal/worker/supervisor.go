// Package worker owns the lifetime of the single narrative-mirror backend
// process and guards its standard streams. The worker speaks a strictly
// line-for-line protocol with no multiplexing identifiers, so every exchange
// must hold the supervisor's exclusive lock from first write to last read.
package worker

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"slices"
	"sync"

	"github.com/mattjoyce/mirrorhost/internal/log"
)

// ErrNotStarted is returned when an exchange is attempted before Start, or
// after a failed Start.
var ErrNotStarted = errors.New("worker not started")

// Config describes how to launch the backend worker.
type Config struct {
	// Command is the worker executable (e.g. "uv" or a bundled sidecar binary).
	Command string

	// Args are the base arguments before the protocol arguments, e.g.
	// ["run", "python", "-m", "narrative_mirror.cli_json"].
	Args []string

	// Dir is the working directory for the worker process.
	Dir string

	// DBPath is passed as --db. Required.
	DBPath string

	// ConfigPath is passed as --config to the stdio subcommand; the worker
	// falls back to its own default when empty.
	ConfigPath string

	// Stderr receives the worker's stderr. Defaults to the host's stderr;
	// worker diagnostics are never part of the protocol.
	Stderr io.Writer
}

// Supervisor manages at most one live worker process. Its stdin and stdout
// are reachable only through WithExclusiveAccess; the process handle itself
// is tracked separately so Terminate can proceed while an exchange is blocked
// on a read.
type Supervisor struct {
	cfg    Config
	logger *slog.Logger

	// mu is the single serialization point for protocol exchanges.
	mu sync.Mutex

	// lifeMu guards process lifecycle state, never held across I/O.
	lifeMu     sync.Mutex
	cmd        *exec.Cmd
	stdin      io.WriteCloser
	stdout     *bufio.Reader
	started    bool
	terminated bool
	exited     bool
}

// New creates a Supervisor. The worker is not launched until Start.
func New(cfg Config) *Supervisor {
	if cfg.Stderr == nil {
		cfg.Stderr = os.Stderr
	}
	return &Supervisor{
		cfg:    cfg,
		logger: log.WithComponent("worker"),
	}
}

// Start launches the worker in stdio mode and captures its streams. It fails
// if the executable cannot be located or spawned. Start is not restartable:
// a supervisor whose worker has died stays dead until the host is restarted.
func (s *Supervisor) Start() error {
	s.lifeMu.Lock()
	defer s.lifeMu.Unlock()

	if s.started {
		return fmt.Errorf("worker already started")
	}
	if s.cfg.Command == "" {
		return fmt.Errorf("start worker: command is empty")
	}
	if s.cfg.DBPath == "" {
		return fmt.Errorf("start worker: db path is empty")
	}

	cmd := exec.Command(s.cfg.Command, s.buildArgs()...)
	cmd.Dir = s.cfg.Dir
	cmd.Stderr = s.cfg.Stderr
	cmd.Env = append(os.Environ(), "PYTHONUNBUFFERED=1")

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("start worker: stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("start worker: stdout pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start worker: %w", err)
	}

	s.cmd = cmd
	s.stdin = stdin
	s.stdout = bufio.NewReader(stdout)
	s.started = true

	s.logger.Info("worker started", "command", s.cfg.Command, "pid", cmd.Process.Pid, "db", s.cfg.DBPath)

	go s.wait()
	return nil
}

func (s *Supervisor) buildArgs() []string {
	args := slices.Clone(s.cfg.Args)
	args = append(args, "--db", s.cfg.DBPath, "stdio")
	if s.cfg.ConfigPath != "" {
		args = append(args, "--config", s.cfg.ConfigPath)
	}
	return args
}

// wait reaps the process so a dead worker is observable via Alive.
func (s *Supervisor) wait() {
	err := s.cmd.Wait()

	s.lifeMu.Lock()
	s.exited = true
	wasTerminated := s.terminated
	s.lifeMu.Unlock()

	if err != nil && !wasTerminated {
		s.logger.Error("worker exited unexpectedly", "error", err)
		return
	}
	s.logger.Info("worker exited")
}

// WithExclusiveAccess runs fn with the worker's streams under the exchange
// lock. fn must complete its full request/response exchange before returning,
// including draining any trailing lines, or the next caller will read stale
// output. The lock is released whether or not fn returns an error.
func (s *Supervisor) WithExclusiveAccess(fn func(in io.Writer, out *bufio.Reader) error) error {
	s.lifeMu.Lock()
	started := s.started
	in, out := s.stdin, s.stdout
	s.lifeMu.Unlock()

	if !started {
		return ErrNotStarted
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(in, out)
}

// Terminate forcibly kills the worker. Idempotent, and deliberately does not
// take the exchange lock: a call blocked on a read observes the closed stream
// and fails instead of hanging through shutdown.
func (s *Supervisor) Terminate() {
	s.lifeMu.Lock()
	defer s.lifeMu.Unlock()

	if !s.started || s.terminated {
		return
	}
	s.terminated = true

	if s.stdin != nil {
		_ = s.stdin.Close()
	}
	if s.cmd != nil && s.cmd.Process != nil {
		if err := s.cmd.Process.Kill(); err != nil && !s.exited {
			s.logger.Warn("failed to kill worker", "error", err)
		}
	}
	s.logger.Info("worker terminated")
}

// Alive reports whether the worker process is still running.
func (s *Supervisor) Alive() bool {
	s.lifeMu.Lock()
	defer s.lifeMu.Unlock()
	return s.started && !s.exited && !s.terminated
}
