// Package oftp implements the chunked file-transfer sub-protocol used to
// send problem data from the server to a judge when the judge reports a
// file missing or stale (spec.md §4.2).
//
// Tags used: OFTP_BEGIN, OFTP_TRANS_BEGIN, OFTP_FILE_DATA,
// OFTP_FDATA_RECVED, OFTP_CHECK_OK, OFTP_CHECK_FAIL, OFTP_END,
// OFTP_SYSTEM_ERROR. The sender frames the file as a sequence of
// (FILE_DATA, chunk) pairs, each acknowledged by the receiver, followed by
// a whole-file SHA-1 check.
package oftp

import (
	"crypto/sha1"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/orzoj-cluster/judged/internal/proto"
	"github.com/orzoj-cluster/judged/internal/wire"
)

// DefaultChunkSize is used when a caller passes Send a chunkSize <= 0. The receiver tolerates any chunk size, so this is purely a sender
// choice (spec.md §4.2).
const DefaultChunkSize = 32 * 1024

// TransferError distinguishes OFTP failures from plain transport errors so
// the session driver can log the judge id alongside the failure (spec.md
// §7).
type TransferError struct {
	Path string
	Err  error
}

func (e *TransferError) Error() string {
	return fmt.Sprintf("oftp: transfer %s: %v", e.Path, e.Err)
}

func (e *TransferError) Unwrap() error { return e.Err }

func transferErr(path string, err error) error {
	if err == nil {
		return nil
	}
	return &TransferError{Path: path, Err: err}
}

// Send streams the file at path to the judge over conn and returns the
// observed throughput in KB/s. chunkSize <= 0 uses DefaultChunkSize.
func Send(conn *wire.Conn, path string, chunkSize int) (kbPerSec float64, err error) {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}

	f, err := os.Open(path)
	if err != nil {
		return 0, transferErr(path, err)
	}
	defer f.Close()

	if err := conn.WriteMsg(proto.OFTPBegin); err != nil {
		return 0, transferErr(path, err)
	}
	if err := conn.WriteMsg(proto.OFTPTransBegin); err != nil {
		return 0, transferErr(path, err)
	}

	h := sha1.New()
	buf := make([]byte, chunkSize)
	start := time.Now()
	var total int64

	for {
		n, readErr := f.Read(buf)
		if n > 0 {
			chunk := buf[:n]
			if err := conn.WriteMsg(proto.OFTPFileData); err != nil {
				return 0, transferErr(path, err)
			}
			if err := conn.WriteStr(string(chunk)); err != nil {
				return 0, transferErr(path, err)
			}
			if _, err := h.Write(chunk); err != nil {
				return 0, transferErr(path, err)
			}
			total += int64(n)

			ack, err := conn.ReadMsg(0)
			if err != nil {
				return 0, transferErr(path, err)
			}
			if ack != proto.OFTPFDataRecved {
				return 0, transferErr(path, fmt.Errorf("unexpected ack tag %d", ack))
			}
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			return 0, transferErr(path, readErr)
		}
	}

	if err := conn.WriteMsg(proto.OFTPEnd); err != nil {
		return 0, transferErr(path, err)
	}
	if err := conn.WriteStr(fmt.Sprintf("%x", h.Sum(nil))); err != nil {
		return 0, transferErr(path, err)
	}

	result, err := conn.ReadMsg(0)
	if err != nil {
		return 0, transferErr(path, err)
	}
	switch result {
	case proto.OFTPCheckOK:
		elapsed := time.Since(start).Seconds()
		if elapsed <= 0 {
			elapsed = 0.001
		}
		return float64(total) / 1024.0 / elapsed, nil
	case proto.OFTPCheckFail:
		return 0, transferErr(path, fmt.Errorf("judge reported checksum mismatch"))
	default:
		return 0, transferErr(path, fmt.Errorf("unexpected result tag %d", result))
	}
}

// Receive is the judge-side counterpart to Send. The real judge process is
// out of scope for this core, but a faithful round-trip test needs a
// receiver, and it doubles as a reference implementation for anyone writing
// a judge client against this protocol.
func Receive(conn *wire.Conn, dst io.Writer) error {
	begin, err := conn.ReadMsg(0)
	if err != nil {
		return transferErr("<receive>", err)
	}
	if begin != proto.OFTPBegin {
		return transferErr("<receive>", fmt.Errorf("expected OFTP_BEGIN, got %d", begin))
	}
	transBegin, err := conn.ReadMsg(0)
	if err != nil {
		return transferErr("<receive>", err)
	}
	if transBegin != proto.OFTPTransBegin {
		return transferErr("<receive>", fmt.Errorf("expected OFTP_TRANS_BEGIN, got %d", transBegin))
	}

	h := sha1.New()
	mw := io.MultiWriter(dst, h)

	for {
		tag, err := conn.ReadMsg(0)
		if err != nil {
			return transferErr("<receive>", err)
		}
		if tag == proto.OFTPEnd {
			gotSum, err := conn.ReadStr(0)
			if err != nil {
				return transferErr("<receive>", err)
			}
			wantSum := fmt.Sprintf("%x", h.Sum(nil))
			if gotSum != wantSum {
				_ = conn.WriteMsg(proto.OFTPCheckFail)
				return transferErr("<receive>", fmt.Errorf("checksum mismatch"))
			}
			return conn.WriteMsg(proto.OFTPCheckOK)
		}
		if tag != proto.OFTPFileData {
			_ = conn.WriteMsg(proto.OFTPSystemError)
			return transferErr("<receive>", fmt.Errorf("unexpected tag %d", tag))
		}
		chunk, err := conn.ReadStr(0)
		if err != nil {
			return transferErr("<receive>", err)
		}
		if _, err := mw.Write([]byte(chunk)); err != nil {
			return transferErr("<receive>", err)
		}
		if err := conn.WriteMsg(proto.OFTPFDataRecved); err != nil {
			return transferErr("<receive>", err)
		}
	}
}
