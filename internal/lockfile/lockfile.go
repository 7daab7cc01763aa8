// Package lockfile keeps two TriagePipe processes from sharing one state
// directory. The SQLite outcome store and the whatsmeow device database both
// live there and neither tolerates a second writer.
//
// The lock is an flock(2) on a file inside the directory, so the kernel drops
// it when the process dies, however it dies.
package lockfile

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
)

// FileName is the lock file created in the state directory.
const FileName = "triagepipe.lock"

// ErrLocked reports that another process holds the state directory.
var ErrLocked = errors.New("state directory is locked by another TriagePipe process")

// Lock is a held state directory lock.
type Lock struct {
	file *os.File
	path string
}

// HeldError describes the process that owns a contended lock.
type HeldError struct {
	Path string
	PID  int  // 0 when the lock file names no process
	Live bool // whether PID still answers signal 0
}

func (e *HeldError) Error() string {
	msg := fmt.Sprintf("%v (lock file %s", ErrLocked, e.Path)
	switch {
	case e.PID == 0:
		msg += ")"
	case e.Live:
		msg += fmt.Sprintf(", pid %d running)", e.PID)
	default:
		msg += fmt.Sprintf(", pid %d not running; remove the file if no other instance uses this directory)", e.PID)
	}
	return msg
}

func (e *HeldError) Unwrap() error { return ErrLocked }

// Acquire takes an exclusive, non-blocking lock on stateDir, creating the
// directory when missing.
func Acquire(stateDir string) (*Lock, error) {
	if err := os.MkdirAll(stateDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create state directory %s: %w", stateDir, err)
	}
	path := filepath.Join(stateDir, FileName)

	// O_TRUNC would wipe the holder's pid before we know whether we own the lock.
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open lock file %s: %w", path, err)
	}
	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		f.Close()
		held := holder(path)
		slog.Error("lockfile.Acquire: state directory already locked", "path", path, "pid", held.PID, "live", held.Live)
		return nil, held
	}

	if err := writePID(f); err != nil {
		syscall.Flock(int(f.Fd()), syscall.LOCK_UN)
		f.Close()
		return nil, fmt.Errorf("failed to write lock file %s: %w", path, err)
	}

	slog.Info("lockfile.Acquire: state directory locked", "path", path, "pid", os.Getpid())
	return &Lock{file: f, path: path}, nil
}

// Release drops the lock and removes the lock file. It is safe to call more
// than once.
func (l *Lock) Release() error {
	if l == nil || l.file == nil {
		return nil
	}
	var errs []error
	if err := syscall.Flock(int(l.file.Fd()), syscall.LOCK_UN); err != nil {
		errs = append(errs, fmt.Errorf("unlock: %w", err))
	}
	if err := l.file.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close: %w", err))
	}
	if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
		errs = append(errs, fmt.Errorf("remove: %w", err))
	}
	l.file = nil
	slog.Debug("lockfile.Release: state directory unlocked", "path", l.path)
	return errors.Join(errs...)
}

// Path returns the lock file path.
func (l *Lock) Path() string { return l.path }

func writePID(f *os.File) error {
	if err := f.Truncate(0); err != nil {
		return err
	}
	if _, err := f.WriteAt([]byte("pid="+strconv.Itoa(os.Getpid())+"\n"), 0); err != nil {
		return err
	}
	if err := f.Sync(); err != nil {
		slog.Warn("lockfile.writePID: sync failed", "error", err)
	}
	return nil
}

func holder(path string) *HeldError {
	held := &HeldError{Path: path}
	data, err := os.ReadFile(path)
	if err != nil {
		return held
	}
	held.PID = parsePID(string(data))
	if held.PID > 0 {
		held.Live = processRunning(held.PID)
	}
	return held
}

// parsePID reads the "pid=N" line written by Acquire.
func parsePID(content string) int {
	for _, line := range strings.Split(content, "\n") {
		if v, ok := strings.CutPrefix(strings.TrimSpace(line), "pid="); ok {
			if pid, err := strconv.Atoi(v); err == nil && pid > 0 {
				return pid
			}
		}
	}
	return 0
}

func processRunning(pid int) bool {
	p, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return p.Signal(syscall.Signal(0)) == nil
}
