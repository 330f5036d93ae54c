// ABOUTME: Resonate wire protocol package
// ABOUTME: Message envelopes, binary frame layout, and delta-merge fields
// Package protocol implements the Resonate wire protocol: the JSON text
// envelope, the binary frame layout, and the tri-state fields that carry
// delta-update semantics.
//
// Example:
//
//	msg, err := protocol.Encode("client/hello", hello)
//	frame := protocol.EncodeBinaryFrame(protocol.BinaryAudioChunk, ts, pcm)
package protocol
