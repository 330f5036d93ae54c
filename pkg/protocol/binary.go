// ABOUTME: Binary frame envelope encode/decode
// ABOUTME: byte0 = role/slot type, bytes1..8 = big-endian server-clock microseconds, rest = payload
package protocol

import "encoding/binary"

// BinaryHeaderSize is the fixed header length: 1 type byte + 8 timestamp bytes.
const BinaryHeaderSize = 1 + 8

// BinaryFrame is a decoded binary message.
type BinaryFrame struct {
	Type      BinaryMessageType
	Timestamp int64 // server-clock microseconds, signed per spec §9 Open Question
	Payload   []byte
}

// EncodeBinaryFrame produces the wire bytes for a binary frame. Timestamp
// must be non-negative; spec §4.1 requires encoders not emit negative values
// even though the field is decoded as signed.
func EncodeBinaryFrame(msgType BinaryMessageType, timestamp int64, payload []byte) []byte {
	out := make([]byte, BinaryHeaderSize+len(payload))
	out[0] = byte(msgType)
	binary.BigEndian.PutUint64(out[1:BinaryHeaderSize], uint64(timestamp))
	copy(out[BinaryHeaderSize:], payload)
	return out
}

// DecodeBinaryFrame parses wire bytes into a BinaryFrame. Returns
// ErrMalformedFrame if data is shorter than the fixed header.
func DecodeBinaryFrame(data []byte) (BinaryFrame, error) {
	if len(data) < BinaryHeaderSize {
		return BinaryFrame{}, &ProtocolError{Kind: ErrMalformedFrame, Detail: "binary frame shorter than header"}
	}
	ts := int64(binary.BigEndian.Uint64(data[1:BinaryHeaderSize]))
	payload := data[BinaryHeaderSize:]
	// Payload is reused across sends until the next decode; copy so the
	// caller can retain it past the lifetime of the underlying read buffer.
	owned := make([]byte, len(payload))
	copy(owned, payload)
	return BinaryFrame{
		Type:      BinaryMessageType(data[0]),
		Timestamp: ts,
		Payload:   owned,
	}, nil
}
