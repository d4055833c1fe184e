// © 2026 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

//go:build unix

// Package filelock provides non-blocking advisory file locks.
package filelock

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"syscall"
)

// ErrAlreadyLocked indicates the lock is currently held by another process.
var ErrAlreadyLocked = errors.New("already locked")

// Lock represents a held file lock.
type Lock interface{ Release() error }

type handle struct{ file *os.File }

// Acquire obtains a non-blocking exclusive lock for path and, if payload is
// not empty, replaces the file contents with it.
//
// If the lock is held elsewhere, the returned error wraps [ErrAlreadyLocked]
// and mentions the payload written by the holder.
func Acquire(path, payload string) (Lock, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, err
	}
	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		closeErr := f.Close()
		if errors.Is(err, syscall.EWOULDBLOCK) || errors.Is(err, syscall.EAGAIN) {
			if holder := Holder(path); holder != "" {
				return nil, fmt.Errorf("%w (held by %s)", ErrAlreadyLocked, holder)
			}
			return nil, ErrAlreadyLocked
		}
		return nil, errors.Join(err, closeErr)
	}

	h := &handle{file: f}
	if payload != "" {
		if err := h.write(payload); err != nil {
			return nil, errors.Join(err, h.Release())
		}
	}
	return h, nil
}

func (h *handle) write(payload string) error {
	if err := h.file.Truncate(0); err != nil {
		return err
	}
	if _, err := h.file.WriteAt([]byte(payload), 0); err != nil {
		return err
	}
	return nil
}

// Holder returns the trimmed payload of the lock file at path, if any.
func Holder(path string) string {
	b, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(b))
}

// IsLocked reports whether path is currently locked by someone.
func IsLocked(path string) bool {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return false
	}
	defer f.Close()

	err = syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB)
	if err == nil {
		syscall.Flock(int(f.Fd()), syscall.LOCK_UN)
		return false
	}
	return errors.Is(err, syscall.EWOULDBLOCK) || errors.Is(err, syscall.EAGAIN)
}

// Release unlocks and closes the lock file. It is safe to call on a nil
// handle.
func (h *handle) Release() error {
	if h == nil || h.file == nil {
		return nil
	}
	f := h.file
	h.file = nil
	return errors.Join(syscall.Flock(int(f.Fd()), syscall.LOCK_UN), f.Close())
}
