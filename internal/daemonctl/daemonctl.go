// Package daemonctl starts and stops a background billingest daemon.
//
// Liveness is judged by the daemon's single-instance lock rather than the
// status API, so control works even when api_bind is empty.
package daemonctl

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/gofrs/flock"

	"billingest/internal/config"
)

// ErrDaemonNotRunning indicates no process holds the daemon lock.
var ErrDaemonNotRunning = errors.New("daemon not running")

// LaunchOptions controls daemon process launch behavior.
type LaunchOptions struct {
	ConfigPath string
	LogLevel   string
}

// StartState describes what EnsureStarted did.
type StartState string

const (
	StartStateStarted        StartState = "started"
	StartStateAlreadyRunning StartState = "already_running"
)

// StartResult captures daemon start orchestration state.
type StartResult struct {
	State StartState
	PID   int
}

// StopResult captures daemon stop/termination outcome.
type StopResult struct {
	PID        int
	ForcedKill bool
}

const pollInterval = 100 * time.Millisecond

// Running reports whether another process holds the daemon lock.
func Running(cfg *config.Config) (bool, error) {
	lock := flock.New(cfg.LockPath())
	locked, err := lock.TryLock()
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("probe daemon lock: %w", err)
	}
	if locked {
		_ = lock.Unlock()
		return false, nil
	}
	return true, nil
}

// ReadPID returns the pid recorded by the running daemon.
func ReadPID(cfg *config.Config) (int, error) {
	data, err := os.ReadFile(cfg.PIDPath())
	if err != nil {
		return 0, fmt.Errorf("read daemon pid file: %w", err)
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid <= 0 {
		return 0, fmt.Errorf("invalid pid file %s", cfg.PIDPath())
	}
	return pid, nil
}

// Launch starts a detached `billingest run` using executablePath.
func Launch(executablePath string, opts LaunchOptions) error {
	if strings.TrimSpace(executablePath) == "" {
		return errors.New("resolve executable: executable path is empty")
	}
	args := []string{"run"}
	if path := strings.TrimSpace(opts.ConfigPath); path != "" {
		args = append(args, "--config", path)
	}
	if level := strings.TrimSpace(opts.LogLevel); level != "" {
		args = append(args, "--log-level", level)
	}
	proc := exec.Command(executablePath, args...)
	proc.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
	if err := proc.Start(); err != nil {
		return fmt.Errorf("launch daemon: %w", err)
	}
	return proc.Process.Release()
}

// EnsureStarted launches the daemon unless one already holds the lock, then
// waits up to timeout for the new process to take it.
func EnsureStarted(cfg *config.Config, executablePath string, opts LaunchOptions, timeout time.Duration) (StartResult, error) {
	running, err := Running(cfg)
	if err != nil {
		return StartResult{}, err
	}
	if running {
		pid, _ := ReadPID(cfg)
		return StartResult{State: StartStateAlreadyRunning, PID: pid}, nil
	}
	if err := Launch(executablePath, opts); err != nil {
		return StartResult{}, err
	}
	if err := waitFor(timeout, func() (bool, error) { return Running(cfg) }); err != nil {
		return StartResult{}, fmt.Errorf("daemon failed to start: %w", err)
	}
	pid, _ := ReadPID(cfg)
	return StartResult{State: StartStateStarted, PID: pid}, nil
}

// Stop sends SIGTERM to the daemon and waits for it to release its lock,
// escalating to SIGKILL after grace.
func Stop(cfg *config.Config, grace time.Duration) (StopResult, error) {
	running, err := Running(cfg)
	if err != nil {
		return StopResult{}, err
	}
	if !running {
		return StopResult{}, ErrDaemonNotRunning
	}
	pid, err := ReadPID(cfg)
	if err != nil {
		return StopResult{}, err
	}
	if pid == os.Getpid() {
		return StopResult{}, fmt.Errorf("refusing to signal current process (pid %d)", pid)
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return StopResult{}, fmt.Errorf("locate daemon process %d: %w", pid, err)
	}
	result := StopResult{PID: pid}
	if err := proc.Signal(syscall.SIGTERM); err != nil {
		return result, fmt.Errorf("signal daemon process %d: %w", pid, err)
	}
	stopped := func() (bool, error) {
		running, err := Running(cfg)
		return !running, err
	}
	if err := waitFor(grace, stopped); err == nil {
		return result, nil
	}
	if err := proc.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return result, fmt.Errorf("kill daemon process %d: %w", pid, err)
	}
	result.ForcedKill = true
	if err := os.Remove(cfg.PIDPath()); err != nil && !errors.Is(err, os.ErrNotExist) {
		return result, fmt.Errorf("remove pid file: %w", err)
	}
	if err := waitFor(grace, stopped); err != nil {
		return result, fmt.Errorf("daemon did not release lock: %w", err)
	}
	return result, nil
}

func waitFor(timeout time.Duration, done func() (bool, error)) error {
	deadline := time.Now().Add(timeout)
	for {
		ok, err := done()
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
		if time.Now().After(deadline) {
			return errors.New("timed out")
		}
		time.Sleep(pollInterval)
	}
}
