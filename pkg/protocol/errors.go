// ABOUTME: Protocol-level error taxonomy
// ABOUTME: Maps spec §7's error kinds onto typed, wrappable errors
package protocol

import "fmt"

// ErrorKind is one of the error categories from spec §7.
type ErrorKind string

const (
	ErrMalformedFrame    ErrorKind = "malformed_frame"
	ErrUnknownMessage    ErrorKind = "unknown_message_type"
	ErrWrongPhase        ErrorKind = "wrong_phase"
	ErrWrongRole         ErrorKind = "wrong_role"
	ErrPayloadRange      ErrorKind = "payload_range_error"
	ErrBufferOverrun     ErrorKind = "buffer_overrun"
	ErrTransport         ErrorKind = "transport_error"
	ErrClockDivergence   ErrorKind = "clock_divergence"
	ErrEncoder           ErrorKind = "encoder_error"
)

// ProtocolError carries an ErrorKind plus a human-readable detail.
type ProtocolError struct {
	Kind   ErrorKind
	Detail string
}

func (e *ProtocolError) Error() string {
	if e.Detail == "" {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Detail)
}

// Is enables errors.Is(err, &protocol.ProtocolError{Kind: ...}) comparisons
// against just the Kind, ignoring Detail.
func (e *ProtocolError) Is(target error) bool {
	t, ok := target.(*ProtocolError)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// NewError constructs a ProtocolError for the given kind.
func NewError(kind ErrorKind, detail string) *ProtocolError {
	return &ProtocolError{Kind: kind, Detail: detail}
}
