// Package frame implements EDNA's wire framing: a 16-bit big-endian
// length header followed by exactly that many payload octets, on top of
// any io.Reader/io.Writer. Reads and writes retry short transfers until
// the full frame has moved or the peer is gone — the original daemon
// never did this (see edna_comm.cpp's recv/send helpers), which left it
// exposed to interrupted syscalls losing bytes off a frame.
package frame

import (
	"encoding/binary"
	"errors"
	"io"
)

// MaxPayload is the largest payload a 16-bit length header can describe.
const MaxPayload = 0xFFFF

// ErrPayloadTooLarge is returned by WriteMessage when the payload does
// not fit in a 16-bit length header.
var ErrPayloadTooLarge = errors.New("frame: payload exceeds 65535 bytes")

// ReadMessage reads one framed message from r: a 2-byte big-endian
// length followed by that many payload bytes. A zero-length message
// yields a non-nil, zero-length slice.
func ReadMessage(r io.Reader) ([]byte, error) {
	var header [2]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, err
	}
	length := binary.BigEndian.Uint16(header[:])
	payload := make([]byte, length)
	if length > 0 {
		if _, err := io.ReadFull(r, payload); err != nil {
			return nil, err
		}
	}
	return payload, nil
}

// WriteMessage writes payload to w as a framed message: a 2-byte
// big-endian length header followed by payload in full.
func WriteMessage(w io.Writer, payload []byte) error {
	if len(payload) > MaxPayload {
		return ErrPayloadTooLarge
	}
	var header [2]byte
	binary.BigEndian.PutUint16(header[:], uint16(len(payload)))
	if _, err := writeFull(w, header[:]); err != nil {
		return err
	}
	if len(payload) == 0 {
		return nil
	}
	_, err := writeFull(w, payload)
	return err
}

// writeFull writes all of buf to w, retrying partial writes, mirroring
// io.ReadFull's contract for the write direction (the standard library
// has no symmetric helper).
func writeFull(w io.Writer, buf []byte) (int, error) {
	written := 0
	for written < len(buf) {
		n, err := w.Write(buf[written:])
		written += n
		if err != nil {
			return written, err
		}
		if n == 0 {
			return written, io.ErrShortWrite
		}
	}
	return written, nil
}
