package capture

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/gofrs/flock"
	"github.com/rs/zerolog/log"
)

var ErrAlreadyRunning = errors.New("another capture helper is running")

// InstanceLock keeps one capture helper per machine. The holder's pid is
// written next to the lock so a later start can stop a stale capture.
type InstanceLock struct {
	path    string
	pidPath string
	lock    *flock.Flock
	wait    time.Duration
	signal  func(pid int) error
}

func NewInstanceLock(path string) *InstanceLock {
	return &InstanceLock{
		path:    path,
		pidPath: path + ".pid",
		lock:    flock.New(path),
		wait:    2 * time.Second,
		signal:  terminate,
	}
}

// Acquire takes the lock. If another helper holds it, that helper is asked to
// stop and acquisition is retried once.
func (l *InstanceLock) Acquire() error {
	ok, err := l.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		if err := l.stopHolder(); err != nil {
			return err
		}
		ok, err = l.lock.TryLock()
		if err != nil {
			return fmt.Errorf("acquire lock: %w", err)
		}
		if !ok {
			return ErrAlreadyRunning
		}
	}

	if err := os.WriteFile(l.pidPath, []byte(strconv.Itoa(os.Getpid())), 0o644); err != nil {
		log.Warn().Err(err).Str("path", l.pidPath).Msg("failed to record pid")
	}
	log.Debug().Str("lock", l.path).Msg("instance lock acquired")
	return nil
}

func (l *InstanceLock) stopHolder() error {
	raw, err := os.ReadFile(l.pidPath)
	if err != nil {
		return ErrAlreadyRunning
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(raw)))
	if err != nil || pid <= 0 || pid == os.Getpid() {
		return ErrAlreadyRunning
	}

	log.Warn().Int("pid", pid).Msg("stopping stale capture helper")
	if err := l.signal(pid); err != nil {
		log.Debug().Err(err).Int("pid", pid).Msg("signal stale helper")
	}

	deadline := time.Now().Add(l.wait)
	for time.Now().Before(deadline) {
		if !l.held() {
			return nil
		}
		time.Sleep(50 * time.Millisecond)
	}
	return nil
}

// held probes the lock with a second handle.
func (l *InstanceLock) held() bool {
	probe := flock.New(l.path)
	ok, err := probe.TryLock()
	if err != nil {
		return true
	}
	if ok {
		_ = probe.Unlock()
		return false
	}
	return true
}

func (l *InstanceLock) Release() error {
	_ = os.Remove(l.pidPath)
	return l.lock.Unlock()
}

func terminate(pid int) error {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return err
	}
	return proc.Signal(syscall.SIGTERM)
}
