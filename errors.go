package blockengine

import (
	"fmt"
)

// ConnectionError is returned by Connect when the endpoint is malformed or
// the block engine cannot be reached.
type ConnectionError struct {
	Endpoint string
	Err      error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("connect to block engine %q: %v", e.Endpoint, e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

// MetadataEncodingError reports a credential that cannot be carried in
// request metadata. It fails only the call that tried to send it.
type MetadataEncodingError struct {
	Key string
	// Pos is the byte offset of the first invalid character in the value.
	Pos int
}

func (e *MetadataEncodingError) Error() string {
	return fmt.Sprintf("metadata value for %q has invalid character at offset %d", e.Key, e.Pos)
}

// StreamError is returned when a streaming call cannot be issued, or when
// the outbound stream fails. Op names the step that failed: "auth", "open",
// "send", "close", "source" or "recv".
type StreamError struct {
	Method string
	Op     string
	Err    error
}

func (e *StreamError) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Method, e.Op, e.Err)
}

func (e *StreamError) Unwrap() error {
	return e.Err
}

func streamErr(method, op string, err error) error {
	if err == nil {
		return nil
	}
	return &StreamError{Method: method, Op: op, Err: err}
}
