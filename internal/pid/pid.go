// Package pid guards an output directory against two concurrent captures
// appending to the same history files.
package pid

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"codeberg.org/mutker/modemstat/internal/errors"
)

const (
	pidFile = ".modemstat.pid"
)

// Path returns the lock file location for dir.
func Path(dir string) string {
	return filepath.Join(dir, pidFile)
}

// Write records the current process ID in dir. The lock appears
// atomically with its content, so of two concurrent runs only one
// succeeds. A lock held by a live process fails with ErrAlreadyRunning; a
// stale one is removed and the takeover retried once.
func Write(dir string) error {
	errFactory := errors.New()
	pid := os.Getpid()
	path := Path(dir)

	tmp, err := os.CreateTemp(dir, pidFile+".*")
	if err != nil {
		return errFactory.Wrap(errors.ErrInternal, err)
	}
	defer os.Remove(tmp.Name())

	_, err = tmp.WriteString(strconv.Itoa(pid))
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return errFactory.Wrap(errors.ErrInternal, err)
	}

	for attempt := 0; attempt < 2; attempt++ {
		err := os.Link(tmp.Name(), path)
		if err == nil {
			return nil
		}
		if !os.IsExist(err) {
			return errFactory.Wrap(errors.ErrInternal, err)
		}

		bytes, err := os.ReadFile(path)
		if os.IsNotExist(err) {
			continue
		}
		if err != nil {
			return errFactory.Wrap(errors.ErrInternal, err)
		}

		owner, err := strconv.Atoi(strings.TrimSpace(string(bytes)))
		if err == nil && owner == pid {
			return nil
		}
		if err == nil && alive(owner) {
			return errFactory.WithData(errors.ErrAlreadyRunning, owner)
		}

		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return errFactory.Wrap(errors.ErrInternal, err)
		}
	}

	return errFactory.New(errors.ErrAlreadyRunning)
}

// Remove deletes the lock in dir if this process owns it.
func Remove(dir string) error {
	errFactory := errors.New()
	path := Path(dir)

	bytes, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return errFactory.Wrap(errors.ErrInternal, err)
	}

	if owner, err := strconv.Atoi(strings.TrimSpace(string(bytes))); err == nil && owner != os.Getpid() {
		return nil
	}

	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return errFactory.Wrap(errors.ErrInternal, err)
	}

	return nil
}

func alive(pid int) bool {
	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}

	return process.Signal(syscall.Signal(0)) == nil
}
