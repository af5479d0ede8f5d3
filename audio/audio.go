// Package audio owns the microphone stream lifecycle. A Context enumerates
// capture devices and opens CaptureDevices; exactly one capture device is
// alive per app session and every consumer (voice monitor, transcriber)
// reads it through the registered callback.
package audio

import "strings"

var btKeywords = []string{
	"airpods", "beats", "bose", "wh-1000", "wf-1000",
	"sony wh-", "sony wf-",
	"jabra", "galaxy buds", "pixel buds", "powerbeats",
	"jbl ", "sennheiser momentum", "plantronics",
	"tozo", "anker soundcore", "skullcandy",
	"bluetooth", " bt ", " bt)", " bt]",
}

// IsBluetooth guesses from the device name whether a capture device is a
// Bluetooth headset, which typically records at degraded quality.
func IsBluetooth(name string) bool {
	lower := strings.ToLower(name)
	for _, kw := range btKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

// DataCallback receives 16-bit little-endian mono PCM from the live stream.
type DataCallback func(data []byte, frameCount uint32)

// CaptureConfig carries the stream constraints. The processing toggles are
// applied on a best-effort basis; backends without the corresponding
// processing stage ignore them.
type CaptureConfig struct {
	SampleRate       uint32
	Channels         uint32
	EchoCancellation bool
	NoiseSuppression bool
	AutoGain         bool
}

type DeviceInfo struct {
	ID   string // opaque platform-specific identifier
	Name string
}

type Context interface {
	Devices() ([]DeviceInfo, error)
	NewCapture(device *DeviceInfo, config CaptureConfig) (CaptureDevice, error)
	Close()
}

type CaptureDevice interface {
	Start() error
	Stop()
	Close()
	SetCallback(cb DataCallback)
	ClearCallback()
	DeviceName() string
}
