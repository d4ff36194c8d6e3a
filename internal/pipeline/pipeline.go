// Package pipeline runs ordered shell command lists in a working directory.
package pipeline

import (
	"bytes"
	"context"
	"errors"
	"os"
	"os/exec"
	"slices"
	"strings"
	"sync"
	"time"

	logx "datastash/pkg/logx"
)

type Stream string

const (
	Stdout Stream = "stdout"
	Stderr Stream = "stderr"
)

// ExitStartFailure is recorded when a command could not be started at all.
const ExitStartFailure = -1

// LogEntry is one chunk of output, in arrival order within its stream.
// Data holds the raw bytes; chunk boundaries do not respect UTF-8.
type LogEntry struct {
	Stream Stream `json:"stream"`
	Data   []byte `json:"data"`
}

// CommandResult is the captured outcome of one command.
type CommandResult struct {
	Command  string        `json:"command"`
	ExitCode int           `json:"exitCode"`
	Log      []LogEntry    `json:"log"`
	Duration time.Duration `json:"duration"`
}

func (r CommandResult) Failed() bool { return r.ExitCode != 0 }

// Result is the ordered list of executed commands. Commands after the first failure are absent.
type Result []CommandResult

// Failed reports whether any included command exited non-zero.
func (r Result) Failed() bool {
	for _, c := range r {
		if c.Failed() {
			return true
		}
	}
	return false
}

// DefaultOutputWait bounds how long output is still read after a command exits.
const DefaultOutputWait = time.Second

type Config struct {
	Shell string   // default /bin/sh
	Env   []string // extra KEY=VALUE entries appended to the process environment

	// OutputWait is how long output keeps being collected after the shell
	// exits, for background children that inherited its stdout/stderr.
	OutputWait time.Duration
}

type Runner struct {
	mu  sync.RWMutex
	cfg Config
	log logx.Logger
}

func New(cfg Config, log logx.Logger) *Runner {
	r := &Runner{log: log}
	r.Apply(cfg)
	return r
}

// Apply replaces shell and environment for commands started afterwards.
func (r *Runner) Apply(cfg Config) {
	if strings.TrimSpace(cfg.Shell) == "" {
		cfg.Shell = "/bin/sh"
	}
	if cfg.OutputWait <= 0 {
		cfg.OutputWait = DefaultOutputWait
	}
	r.mu.Lock()
	r.cfg = cfg
	r.mu.Unlock()
}

func (r *Runner) config() Config {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.cfg
}

// Execute runs commands sequentially in dir and stops at the first non-zero exit.
// An empty command list yields an empty, non-failed result.
func (r *Runner) Execute(ctx context.Context, dir string, commands []string) Result {
	out := make(Result, 0, len(commands))
	for i, command := range commands {
		res := r.run(ctx, dir, command)
		out = append(out, res)
		if !r.log.IsZero() {
			r.log.Debug("command finished",
				logx.Int("index", i),
				logx.String("command", command),
				logx.Int("exit_code", res.ExitCode),
				logx.Duration("took", res.Duration),
			)
		}
		if res.Failed() {
			break
		}
	}
	return out
}

// capture collects both streams of one command in arrival order.
type capture struct {
	mu  sync.Mutex
	log []LogEntry
}

func (c *capture) add(s Stream, p []byte) {
	c.mu.Lock()
	c.log = append(c.log, LogEntry{Stream: s, Data: bytes.Clone(p)})
	c.mu.Unlock()
}

func (c *capture) entries() []LogEntry {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.log)
}

type streamWriter struct {
	c *capture
	s Stream
}

func (w streamWriter) Write(p []byte) (int, error) {
	if len(p) > 0 {
		w.c.add(w.s, p)
	}
	return len(p), nil
}

func (r *Runner) run(ctx context.Context, dir, command string) CommandResult {
	started := time.Now()
	res := CommandResult{Command: command}
	out := &capture{}

	cfg := r.config()
	cmd := exec.CommandContext(ctx, cfg.Shell, "-c", command)
	cmd.Dir = dir
	if len(cfg.Env) > 0 {
		cmd.Env = append(os.Environ(), cfg.Env...)
	}
	cmd.Stdout = streamWriter{c: out, s: Stdout}
	cmd.Stderr = streamWriter{c: out, s: Stderr}
	// Wait returns at most OutputWait after the shell exits even if a
	// background child still holds the pipes.
	cmd.WaitDelay = cfg.OutputWait

	err := cmd.Run()
	if errors.Is(err, exec.ErrWaitDelay) {
		if !r.log.IsZero() {
			r.log.Debug("output still open after exit", logx.String("command", command))
		}
		err = nil
	}
	res.Duration = time.Since(started)
	if err != nil {
		var exitErr *exec.ExitError
		switch {
		case errors.As(err, &exitErr):
			res.ExitCode = exitErr.ExitCode()
			if res.ExitCode == -1 {
				// killed by a signal
				res.ExitCode = 1
				out.add(Stderr, []byte(exitErr.Error()))
			}
		default:
			res.ExitCode = ExitStartFailure
			out.add(Stderr, []byte(err.Error()))
		}
	}
	res.Log = out.entries()
	return res
}
