// Package frame implements the 4-byte big-endian length-prefixed framing
// that both the blocking client and the reactor use to delimit procedure and
// return packets on the wire.
package frame

import (
	"encoding/binary"
	"errors"
	"io"

	"reactorpc/rpcerr"
)

// HeaderSize is the length, in bytes, of a frame's length prefix.
const HeaderSize = 4

// Send writes one length-prefixed frame, looping over partial writes until
// the header and payload both fully leave or an I/O error occurs.
func Send(w io.Writer, payload []byte) error {
	var hdr [HeaderSize]byte
	binary.BigEndian.PutUint32(hdr[:], uint32(len(payload)))
	if err := writeFull(w, hdr[:]); err != nil {
		return err
	}
	return writeFull(w, payload)
}

func writeFull(w io.Writer, buf []byte) error {
	for len(buf) > 0 {
		n, err := w.Write(buf)
		if err != nil {
			return err
		}
		buf = buf[n:]
	}
	return nil
}

// Receive reads one length-prefixed frame, looping over partial reads of
// both the header and the body. A clean close while reading the header is
// reported as rpcerr.ErrPeerClosed; a close partway through the body is a
// rpcerr.ProtocolError, since a peer is never allowed to stop mid-frame.
func Receive(r io.Reader) ([]byte, error) {
	var hdr [HeaderSize]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, rpcerr.ErrPeerClosed
		}
		return nil, err
	}
	n := binary.BigEndian.Uint32(hdr[:])
	body := make([]byte, n)
	if _, err := io.ReadFull(r, body); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, &rpcerr.ProtocolError{Err: err}
		}
		return nil, err
	}
	return body, nil
}
