// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package procgroup starts helper processes (ffmpeg, tesseract) in their own
// process group so that a stop reaps the whole tree.
package procgroup

import (
	"errors"
	"os/exec"
	"sync"
	"syscall"
	"time"
)

// Observer receives one call per signal sent and per reaped process.
// signal is "SIGTERM" or "SIGKILL"; result is "sent", "gone" or "error".
type Observer interface {
	Signal(signal, result string)
	Exited(forced bool, err error)
}

var (
	observerMu sync.RWMutex
	observer   Observer
)

// SetObserver installs the process-lifecycle observer (metrics).
func SetObserver(o Observer) {
	observerMu.Lock()
	observer = o
	observerMu.Unlock()
}

func observeSignal(sig, result string) {
	observerMu.RLock()
	o := observer
	observerMu.RUnlock()
	if o != nil {
		o.Signal(sig, result)
	}
}

func observeExit(forced bool, err error) {
	observerMu.RLock()
	o := observer
	observerMu.RUnlock()
	if o != nil {
		o.Exited(forced, err)
	}
}

func signalResult(err error) string {
	switch {
	case err == nil:
		return "sent"
	case errors.Is(err, errProcessGone):
		return "gone"
	default:
		return "error"
	}
}

// Terminate stops cmd's process group: SIGTERM, then SIGKILL once grace has
// elapsed without the process exiting. It always drains waitCh, which must
// deliver the result of cmd.Wait, and returns that result. Nil commands are a no-op.
func Terminate(cmd *exec.Cmd, waitCh <-chan error, grace time.Duration) error {
	if cmd == nil || cmd.Process == nil {
		return nil
	}

	observeSignal("SIGTERM", signalResult(Kill(cmd, syscall.SIGTERM)))

	timer := time.NewTimer(grace)
	defer timer.Stop()
	select {
	case err := <-waitCh:
		observeExit(false, err)
		return err
	case <-timer.C:
	}

	observeSignal("SIGKILL", signalResult(Kill(cmd, syscall.SIGKILL)))
	err := <-waitCh
	observeExit(true, err)
	return err
}
