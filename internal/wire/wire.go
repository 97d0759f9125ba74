// Package wire implements the framed primitive encoding used by the judge
// protocol: unsigned 32-bit integers and length-prefixed strings over a
// net.Conn, with optional per-call read deadlines.
//
// Encoding of the primitives themselves (byte order, length-prefixing) is
// deliberately unremarkable — the interesting protocol logic lives in
// internal/session and internal/oftp, which build on top of Conn.
package wire

import (
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"time"
)

// TransportError wraps any read/write failure on the underlying connection.
// It is the single error kind that crosses the wire boundary; callers treat
// it as session-fatal.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("wire: %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

func transportErr(op string, err error) error {
	if err == nil {
		return nil
	}
	return &TransportError{Op: op, Err: err}
}

// Conn wraps a net.Conn with the primitive read/write operations the judge
// protocol is built from.
type Conn struct {
	nc net.Conn
}

// New wraps an already-established connection.
func New(nc net.Conn) *Conn {
	return &Conn{nc: nc}
}

// Raw returns the underlying net.Conn.
func (c *Conn) Raw() net.Conn { return c.nc }

// Close closes the underlying connection.
func (c *Conn) Close() error { return c.nc.Close() }

// deadline sets (or clears, if d == 0) the read deadline for the next read.
func (c *Conn) deadline(d time.Duration) error {
	if d == 0 {
		return c.nc.SetReadDeadline(time.Time{})
	}
	return c.nc.SetReadDeadline(time.Now().Add(d))
}

// ReadU32 reads a big-endian uint32. A deadline of 0 means no deadline.
func (c *Conn) ReadU32(deadline time.Duration) (uint32, error) {
	if err := c.deadline(deadline); err != nil {
		return 0, transportErr("set read deadline", err)
	}
	var buf [4]byte
	if _, err := io.ReadFull(c.nc, buf[:]); err != nil {
		return 0, transportErr("read u32", err)
	}
	return binary.BigEndian.Uint32(buf[:]), nil
}

// WriteU32 writes a big-endian uint32.
func (c *Conn) WriteU32(v uint32) error {
	var buf [4]byte
	binary.BigEndian.PutUint32(buf[:], v)
	if _, err := c.nc.Write(buf[:]); err != nil {
		return transportErr("write u32", err)
	}
	return nil
}

// ReadStr reads a uint32 byte-length prefix followed by that many raw bytes.
func (c *Conn) ReadStr(deadline time.Duration) (string, error) {
	n, err := c.ReadU32(deadline)
	if err != nil {
		return "", err
	}
	if n == 0 {
		return "", nil
	}
	buf := make([]byte, n)
	if err := c.deadline(deadline); err != nil {
		return "", transportErr("set read deadline", err)
	}
	if _, err := io.ReadFull(c.nc, buf); err != nil {
		return "", transportErr("read str", err)
	}
	return string(buf), nil
}

// WriteStr writes a uint32 byte-length prefix followed by the raw bytes.
func (c *Conn) WriteStr(s string) error {
	if err := c.WriteU32(uint32(len(s))); err != nil {
		return err
	}
	if len(s) == 0 {
		return nil
	}
	if _, err := c.nc.Write([]byte(s)); err != nil {
		return transportErr("write str", err)
	}
	return nil
}

// ReadMsg reads a single message tag (a uint32).
func (c *Conn) ReadMsg(deadline time.Duration) (uint32, error) {
	return c.ReadU32(deadline)
}

// WriteMsg writes a single message tag.
func (c *Conn) WriteMsg(tag uint32) error {
	return c.WriteU32(tag)
}
