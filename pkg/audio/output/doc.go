// ABOUTME: Audio output package for playing audio
// ABOUTME: Provides Output interface and oto/malgo/PortAudio implementations
// Package output provides audio playback interfaces.
//
// The default backend is oto (github.com/ebitengine/oto/v3), available on
// every platform oto itself supports. Malgo (miniaudio) is available for
// 24-bit playback. PortAudio is opt-in behind the "portaudio" build tag.
//
// Example:
//
//	out := output.New()
//	err := out.Open(48000, 2, 16)
//	err = out.Write(samples)
package output
