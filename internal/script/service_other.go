// SPDX-License-Identifier: MPL-2.0

//go:build !windows

package script

import (
	"context"
	"fmt"
	"time"
)

// stubServiceController is used on platforms without a service manager.
// Its errors carry ErrServiceUnsupported, which the builtins swallow.
type stubServiceController struct{}

func defaultServiceController() ServiceController {
	return stubServiceController{}
}

func (stubServiceController) Start(_ context.Context, name string, _ time.Duration) error {
	return fmt.Errorf("%w: cannot start %s", ErrServiceUnsupported, name)
}

func (stubServiceController) Stop(_ context.Context, name string) error {
	return fmt.Errorf("%w: cannot stop %s", ErrServiceUnsupported, name)
}
