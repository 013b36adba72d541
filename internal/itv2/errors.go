package itv2

import (
	"errors"
	"fmt"
)

// Error kinds surfaced through transaction results and session teardown.
// Framing, encoding and crypto-check failures are fatal to their session;
// the rest leave the session running. There is no CRC error: ITv2 carries
// no checksum inside the stuffed frame.
var (
	ErrCancelled    = errors.New("cancelled")
	ErrAborted      = errors.New("aborted")
	ErrTimeout      = errors.New("timeout")
	ErrLockTimeout  = errors.New("transaction lock timeout")
	ErrDisconnected = errors.New("disconnected")
	ErrClosed       = errors.New("session closed")
)

// FramingError reports a packet whose delimiters cannot be reconciled.
// There is no way to resynchronise the stream afterwards.
type FramingError struct {
	Reason string
}

func (e *FramingError) Error() string {
	return fmt.Sprintf("framing error: %s", e.Reason)
}

// EncodingError reports an invalid escape sequence or malformed field
// content (for example a non-decimal BCD nibble).
type EncodingError struct {
	Reason string
}

func (e *EncodingError) Error() string {
	return fmt.Sprintf("encoding error: %s", e.Reason)
}

// CryptoError reports a failed key agreement, such as a Type 1 check-byte
// mismatch or a second activation attempt.
type CryptoError struct {
	Reason string
}

func (e *CryptoError) Error() string {
	return fmt.Sprintf("crypto error: %s", e.Reason)
}

// NackError carries the panel-signalled error classifier from a
// CommandError. A non-success CommandResponse surfaces as ResponseError.
type NackError struct {
	Code NackCode
}

func (e *NackError) Error() string {
	return fmt.Sprintf("panel nack: %s", e.Code)
}

// ResponseError carries a non-success CommandResponse code.
type ResponseError struct {
	Code ResponseCode
}

func (e *ResponseError) Error() string {
	return fmt.Sprintf("command rejected: response code %d", uint8(e.Code))
}

// UnexpectedResponseError reports an ack or response arriving in a
// transaction state that does not expect one.
type UnexpectedResponseError struct {
	Command Command
}

func (e *UnexpectedResponseError) Error() string {
	return fmt.Sprintf("unexpected response %v", e.Command)
}

// NotRegisteredError reports an outbound record whose type is missing from
// the message catalogue.
type NotRegisteredError struct {
	Command Command
}

func (e *NotRegisteredError) Error() string {
	return fmt.Sprintf("message not registered: %v", e.Command)
}
