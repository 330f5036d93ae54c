// ABOUTME: Audio output interface definition
// ABOUTME: Common interface for audio playback backends
package output

// Output represents an audio output device.
type Output interface {
	// Open initializes the output device for the given format. bitDepth
	// is advisory: backends that only support one output width (oto is
	// always 16-bit) log and continue rather than fail.
	Open(sampleRate, channels, bitDepth int) error

	// Write outputs audio samples (blocks until accepted by the backend).
	Write(samples []int32) error

	// Close releases output resources.
	Close() error

	SetVolume(volume int)
	SetMuted(muted bool)
	GetVolume() int
	IsMuted() bool
}

// New returns the default Output backend (oto, available on every
// platform oto itself supports without an extra cgo audio driver).
func New() Output {
	return NewOto()
}
