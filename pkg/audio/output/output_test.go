// ABOUTME: Audio output interface tests
// ABOUTME: Verifies Output interface implementation
package output

import (
	"testing"
)

func TestPortAudioImplementsOutput(t *testing.T) {
	var _ Output = (*PortAudio)(nil)
}

func TestNewPortAudio(t *testing.T) {
	out := NewPortAudio()
	if out == nil {
		t.Fatal("NewPortAudio returned nil")
	}
}

func TestVolumeMultiplier(t *testing.T) {
	tests := []struct {
		volume   int
		muted    bool
		expected float64
	}{
		{100, false, 1.0},
		{50, false, 0.5},
		{0, false, 0.0},
		{80, true, 0.0}, // muted overrides volume
	}

	for _, tt := range tests {
		result := getVolumeMultiplier(tt.volume, tt.muted)
		if result != tt.expected {
			t.Errorf("volume=%d, muted=%v: expected %f, got %f",
				tt.volume, tt.muted, tt.expected, result)
		}
	}
}

func TestApplyVolumeHalvesSamples(t *testing.T) {
	samples := []int32{1000, -1000, 500, -500}

	result := applyVolume(samples, 50, false)

	if result[0] != 500 {
		t.Errorf("expected 500, got %d", result[0])
	}
	if result[1] != -500 {
		t.Errorf("expected -500, got %d", result[1])
	}
}

func TestApplyVolumeClampsToInt24Range(t *testing.T) {
	samples := []int32{audioMax24BitForTest}
	result := applyVolume(samples, 100, false)
	if result[0] != audioMax24BitForTest {
		t.Errorf("expected no-op at volume 100, got %d", result[0])
	}
}

const audioMax24BitForTest = 8388607
