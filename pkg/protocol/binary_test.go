// ABOUTME: Tests for the binary frame envelope
package protocol

import (
	"bytes"
	"testing"
)

func TestBinaryFrameRoundTrip(t *testing.T) {
	payload := []byte{0xAA, 0xBB, 0xCC}
	encoded := EncodeBinaryFrame(BinaryAudioChunk, 1_234_567_890, payload)

	decoded, err := DecodeBinaryFrame(encoded)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded.Type != BinaryAudioChunk {
		t.Errorf("expected type %d, got %d", BinaryAudioChunk, decoded.Type)
	}
	if decoded.Timestamp != 1_234_567_890 {
		t.Errorf("expected timestamp 1234567890, got %d", decoded.Timestamp)
	}
	if !bytes.Equal(decoded.Payload, payload) {
		t.Errorf("expected payload %v, got %v", payload, decoded.Payload)
	}
}

func TestBinaryFrameS3Scenario(t *testing.T) {
	// spec.md §8 S3: type=0, ts=1_234_567_890, payload=[0xAA,0xBB] encodes
	// to 00 00 00 00 00 49 96 02 D2 AA BB.
	encoded := EncodeBinaryFrame(0, 1_234_567_890, []byte{0xAA, 0xBB})
	want := []byte{0x00, 0x00, 0x00, 0x00, 0x00, 0x49, 0x96, 0x02, 0xD2, 0xAA, 0xBB}
	if !bytes.Equal(encoded, want) {
		t.Errorf("expected %x, got %x", want, encoded)
	}
}

func TestDecodeBinaryFrameMalformedTooShort(t *testing.T) {
	_, err := DecodeBinaryFrame([]byte{0x00, 0x01, 0x02})
	if err == nil {
		t.Fatal("expected error for short frame")
	}
	perr, ok := err.(*ProtocolError)
	if !ok || perr.Kind != ErrMalformedFrame {
		t.Errorf("expected ErrMalformedFrame, got %v", err)
	}
}

func TestBinaryMessageTypeRoleAndSlot(t *testing.T) {
	cases := []struct {
		typ     BinaryMessageType
		role    Role
		channel int
	}{
		{BinaryAudioChunk, RolePlayer, 0},
		{BinaryArtworkChannel0, RoleArtwork, 0},
		{BinaryArtworkChannel3, RoleArtwork, 3},
		{BinaryVisualizerFrame, RoleVisualizer, 0},
	}
	for _, c := range cases {
		if got := c.typ.Role(); got != c.role {
			t.Errorf("type %d: expected role %s, got %s", c.typ, c.role, got)
		}
		if c.role == RoleArtwork {
			if got := c.typ.ArtworkChannelIndex(); got != c.channel {
				t.Errorf("type %d: expected channel %d, got %d", c.typ, c.channel, got)
			}
		}
	}
}
