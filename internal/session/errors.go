package session

import "fmt"

// TransportError wraps any wire read/write failure. Session-fatal, cleaned
// up silently (spec.md §7).
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string { return fmt.Sprintf("session: transport: %s: %v", e.Op, e.Err) }
func (e *TransportError) Unwrap() error { return e.Err }

// ProtocolError wraps an unexpected tag at a point in the state machine
// where only a fixed set of tags is valid. Session-fatal, logged as a
// warning.
type ProtocolError struct {
	Context string
	Tag     uint32
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("session: protocol violation in %s: unexpected tag %d", e.Context, e.Tag)
}

// WebError wraps a failure from the web-frontend adaptor. Session-fatal:
// the driver attempts to write ERROR to the judge, logs a warning, and
// proceeds to cleanup.
type WebError struct {
	Op  string
	Err error
}

func (e *WebError) Error() string { return fmt.Sprintf("session: web: %s: %v", e.Op, e.Err) }
func (e *WebError) Unwrap() error { return e.Err }

// TransferError wraps an OFTP failure. Session-fatal, logged with the
// judge id.
type TransferError struct {
	Path string
	Err  error
}

func (e *TransferError) Error() string { return fmt.Sprintf("session: transfer: %s: %v", e.Path, e.Err) }
func (e *TransferError) Unwrap() error { return e.Err }
