package daemonctl_test

import (
	"errors"
	"os"
	"testing"
	"time"

	"github.com/gofrs/flock"

	"billingest/internal/daemonctl"
	"billingest/internal/testsupport"
)

func TestRunningFollowsLock(t *testing.T) {
	cfg := testsupport.NewConfig(t)

	running, err := daemonctl.Running(cfg)
	if err != nil || running {
		t.Fatalf("expected not running, got %v %v", running, err)
	}

	lock := flock.New(cfg.LockPath())
	if ok, err := lock.TryLock(); err != nil || !ok {
		t.Fatalf("TryLock: %v %v", ok, err)
	}
	defer lock.Unlock()

	running, err = daemonctl.Running(cfg)
	if err != nil || !running {
		t.Fatalf("expected running while lock held, got %v %v", running, err)
	}
}

func TestStopWithoutDaemon(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	if _, err := daemonctl.Stop(cfg, time.Second); !errors.Is(err, daemonctl.ErrDaemonNotRunning) {
		t.Fatalf("expected ErrDaemonNotRunning, got %v", err)
	}
}

func TestReadPID(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	if _, err := daemonctl.ReadPID(cfg); err == nil {
		t.Fatal("expected error for missing pid file")
	}
	if err := os.WriteFile(cfg.PIDPath(), []byte("4242\n"), 0o644); err != nil {
		t.Fatalf("write pid: %v", err)
	}
	pid, err := daemonctl.ReadPID(cfg)
	if err != nil || pid != 4242 {
		t.Fatalf("expected 4242, got %d %v", pid, err)
	}
	if err := os.WriteFile(cfg.PIDPath(), []byte("garbage"), 0o644); err != nil {
		t.Fatalf("write pid: %v", err)
	}
	if _, err := daemonctl.ReadPID(cfg); err == nil {
		t.Fatal("expected error for garbage pid file")
	}
}
