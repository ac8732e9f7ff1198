// SPDX-License-Identifier: MPL-2.0

package script

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ServiceController starts and stops host services by name. The engine only
// depends on this boundary; the Windows implementation lives behind a build
// tag and every other platform gets a stub whose errors are swallowed.
type ServiceController interface {
	// Start starts the named service, waiting up to wait for it to reach
	// the running state. wait <= 0 means no waiting.
	Start(ctx context.Context, name string, wait time.Duration) error
	// Stop stops the named service and waits indefinitely (bounded only by
	// ctx) for it to reach the stopped state.
	Stop(ctx context.Context, name string) error
}

var (
	// ErrServiceUnsupported marks a platform without service control.
	ErrServiceUnsupported = errors.New("service control not supported on this platform")
	// ErrServiceNotFound marks an absent service.
	ErrServiceNotFound = errors.New("service not found")
	// ErrServiceState marks a service already in (or unable to leave) the
	// requested state.
	ErrServiceState = errors.New("service already in requested state")
)

// serviceStartWait bounds how long ServiceStart waits for the running state.
const serviceStartWait = 3 * time.Second

// swallowedServiceErr reports whether a service error is an invalid-operation
// condition the script engine ignores by contract.
func swallowedServiceErr(err error) bool {
	return errors.Is(err, ErrServiceUnsupported) ||
		errors.Is(err, ErrServiceNotFound) ||
		errors.Is(err, ErrServiceState)
}

// biServiceStart starts each named service, waiting up to three seconds for
// the running state. Absent services and invalid transitions are swallowed.
func biServiceStart(in *Interpreter, ctx context.Context, args []string) error {
	for _, a := range args {
		name := Unquote(a)
		if err := in.services.Start(ctx, name, serviceStartWait); err != nil {
			if swallowedServiceErr(err) {
				in.log.Debug("service start skipped", "service", name, "reason", err)
				continue
			}
			if rerr := in.recoverable(StatusOK, fmt.Errorf("failed to start service %s: %w", name, err)); rerr != nil {
				return rerr
			}
		}
	}
	return nil
}

// biServiceStop stops each named service, waiting for the stopped state.
func biServiceStop(in *Interpreter, ctx context.Context, args []string) error {
	for _, a := range args {
		name := Unquote(a)
		if err := in.services.Stop(ctx, name); err != nil {
			if swallowedServiceErr(err) {
				in.log.Debug("service stop skipped", "service", name, "reason", err)
				continue
			}
			if rerr := in.recoverable(StatusOK, fmt.Errorf("failed to stop service %s: %w", name, err)); rerr != nil {
				return rerr
			}
		}
	}
	return nil
}
