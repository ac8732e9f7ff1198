// SPDX-License-Identifier: MPL-2.0

//go:build windows

package script

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sys/windows"
	"golang.org/x/sys/windows/svc"
	"golang.org/x/sys/windows/svc/mgr"
)

// windowsServiceController drives the Windows service control manager.
type windowsServiceController struct{}

func defaultServiceController() ServiceController {
	return windowsServiceController{}
}

func (windowsServiceController) Start(ctx context.Context, name string, wait time.Duration) error {
	m, err := mgr.Connect()
	if err != nil {
		return fmt.Errorf("failed to connect to service manager: %w", err)
	}
	defer m.Disconnect()

	s, err := m.OpenService(name)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrServiceNotFound, name)
	}
	defer s.Close()

	if err := s.Start(); err != nil {
		if err == windows.ERROR_SERVICE_ALREADY_RUNNING {
			return fmt.Errorf("%w: %s is already running", ErrServiceState, name)
		}
		return fmt.Errorf("failed to start %s: %w", name, err)
	}
	if wait <= 0 {
		return nil
	}
	return waitForState(ctx, s, svc.Running, wait)
}

func (windowsServiceController) Stop(ctx context.Context, name string) error {
	m, err := mgr.Connect()
	if err != nil {
		return fmt.Errorf("failed to connect to service manager: %w", err)
	}
	defer m.Disconnect()

	s, err := m.OpenService(name)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrServiceNotFound, name)
	}
	defer s.Close()

	status, err := s.Control(svc.Stop)
	if err != nil {
		if err == windows.ERROR_SERVICE_NOT_ACTIVE {
			return fmt.Errorf("%w: %s is not running", ErrServiceState, name)
		}
		return fmt.Errorf("failed to stop %s: %w", name, err)
	}
	if status.State == svc.Stopped {
		return nil
	}
	// Wait indefinitely for the stopped state, bounded only by ctx.
	return waitForState(ctx, s, svc.Stopped, 0)
}

// waitForState polls the service until it reaches want. A zero timeout waits
// until ctx is done.
func waitForState(ctx context.Context, s *mgr.Service, want svc.State, timeout time.Duration) error {
	var deadline time.Time
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
	}
	for {
		status, err := s.Query()
		if err != nil {
			return fmt.Errorf("failed to query service state: %w", err)
		}
		if status.State == want {
			return nil
		}
		if !deadline.IsZero() && time.Now().After(deadline) {
			return fmt.Errorf("service did not reach state %d within %s", want, timeout)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(100 * time.Millisecond):
		}
	}
}
