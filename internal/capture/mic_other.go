//go:build !linux

package capture

import (
	"context"
	"fmt"
)

// MicDevice is only wired on Linux, where pion/mediadevices has a malgo
// microphone driver we build against.
type MicDevice struct{}

func (MicDevice) Name() string { return "mic" }

func MicAvailable() bool { return false }

func (MicDevice) Open(_ context.Context) (Stream, error) {
	return nil, fmt.Errorf("%w: microphone capture not supported on this platform", ErrDeviceUnavailable)
}
