// Copyright 2026 The Distcc Authors
// SPDX-License-Identifier: Apache-2.0

// Package lock implements the local-CPU admission lock: a set of slot
// files bounding how many preprocessors or local compiles run
// concurrently on one machine.
//
// Each slot is a file in the lock directory held with an exclusive
// flock. Acquisition scans all slots non-blocking and retries on a
// clock-paced interval, so a caller-supplied context deadline remains
// the only cancellation mechanism. A held Slot transfers into the
// dispatch core, which guarantees release at the earliest safe moment;
// Release is idempotent, so the owner's deferred safety release and
// the dispatcher's early release never double-fire.
package lock

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sys/unix"

	"github.com/xionghul/distcc/lib/clock"
)

// retryInterval paces the non-blocking scan over slot files.
const retryInterval = 50 * time.Millisecond

// Slot is one held admission slot. The zero value is not usable;
// obtain slots from Acquire.
type Slot struct {
	file     *os.File
	index    int
	release  sync.Once
	released atomic.Bool
}

// Index identifies which slot was acquired, for observability.
func (s *Slot) Index() int { return s.index }

// Released reports whether Release has run.
func (s *Slot) Released() bool { return s.released.Load() }

// Release drops the flock and closes the slot file. Safe to call more
// than once; only the first call has any effect.
func (s *Slot) Release() {
	s.release.Do(func() {
		s.released.Store(true)
		// Closing the descriptor drops the flock; the explicit unlock
		// makes the release visible before the close syscall.
		unix.Flock(int(s.file.Fd()), unix.LOCK_UN)
		s.file.Close()
	})
}

// Acquire obtains one of slotCount admission slots in directory,
// creating slot files as needed. It scans all slots without blocking
// and, when every slot is held, sleeps one retry interval on the
// provided clock before scanning again. Returns when a slot is
// acquired or ctx is done.
func Acquire(ctx context.Context, clk clock.Clock, directory string, slotCount int) (*Slot, error) {
	if slotCount < 1 {
		return nil, fmt.Errorf("admission lock: slot count %d must be positive", slotCount)
	}
	if err := os.MkdirAll(directory, 0o755); err != nil {
		return nil, fmt.Errorf("creating lock directory: %w", err)
	}

	for {
		for index := 0; index < slotCount; index++ {
			slot, err := tryAcquire(directory, index)
			if err != nil {
				return nil, err
			}
			if slot != nil {
				return slot, nil
			}
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("admission lock: %w", ctx.Err())
		case <-clk.After(retryInterval):
		}
	}
}

// tryAcquire attempts one slot. Returns (nil, nil) when the slot is
// held by someone else.
func tryAcquire(directory string, index int) (*Slot, error) {
	path := filepath.Join(directory, fmt.Sprintf("cpu_%02d.lock", index))
	file, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("opening slot file %s: %w", path, err)
	}
	if err := unix.Flock(int(file.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		file.Close()
		if err == unix.EWOULDBLOCK {
			return nil, nil
		}
		return nil, fmt.Errorf("locking slot file %s: %w", path, err)
	}
	return &Slot{file: file, index: index}, nil
}
