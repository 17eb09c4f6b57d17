package audio

import (
	"errors"
	"fmt"
)

// ErrClosed is returned by devices after Close.
var ErrClosed = errors.New("audio device closed")

// ErrNoPortAudio is returned when the binary was built without the
// portaudio tag.
var ErrNoPortAudio = errors.New("built without portaudio support (rebuild with -tags portaudio or use audio.mode mock)")

// DeviceError reports an unavailable capture or playback device.
type DeviceError struct {
	Op  string
	Err error
}

func (e *DeviceError) Error() string {
	return fmt.Sprintf("audio device %s: %v", e.Op, e.Err)
}

func (e *DeviceError) Unwrap() error { return e.Err }

// IsDeviceError reports whether err wraps a DeviceError.
func IsDeviceError(err error) bool {
	var de *DeviceError
	return errors.As(err, &de)
}
