package server

import (
	"context"
	"encoding/binary"
	"errors"
	"net"
	"time"
)

// maxFrameBytes is the largest JSON payload accepted on the wire. A
// length prefix beyond this closes the session with no reply.
const maxFrameBytes = 1 << 20 // 1 MiB

var (
	// ErrZeroLengthFrame is a protocol error: a length prefix of zero.
	ErrZeroLengthFrame = errors.New("zero-length frame")
	// ErrFrameTooLarge is a protocol error: length prefix exceeds maxFrameBytes.
	ErrFrameTooLarge = errors.New("frame exceeds maximum size")
)

// readFrame reads one complete length-prefixed frame from conn. The read
// deadline is reset every pollInterval purely so the caller's ctx can be
// checked while idle; a deadline expiry with ctx still live is not an
// error, it just loops. Any other I/O error, or ctx cancellation, is
// returned to the caller, which treats it as session-closing.
func readFrame(ctx context.Context, conn net.Conn, pollInterval time.Duration) ([]byte, error) {
	lenBuf := make([]byte, 4)
	if err := readFullPolling(ctx, conn, lenBuf, pollInterval); err != nil {
		return nil, err
	}

	n := binary.BigEndian.Uint32(lenBuf)
	if n == 0 {
		return nil, ErrZeroLengthFrame
	}
	if n > maxFrameBytes {
		return nil, ErrFrameTooLarge
	}

	payload := make([]byte, n)
	if err := readFullPolling(ctx, conn, payload, pollInterval); err != nil {
		return nil, err
	}
	return payload, nil
}

// writeFrame writes one length-prefixed frame. Writes are blocking by
// design: a slow client stalls only its own session.
func writeFrame(conn net.Conn, payload []byte) error {
	header := make([]byte, 4)
	binary.BigEndian.PutUint32(header, uint32(len(payload)))
	if _, err := conn.Write(header); err != nil {
		return err
	}
	_, err := conn.Write(payload)
	return err
}

func readFullPolling(ctx context.Context, conn net.Conn, buf []byte, pollInterval time.Duration) error {
	read := 0
	for read < len(buf) {
		if err := conn.SetReadDeadline(time.Now().Add(pollInterval)); err != nil {
			return err
		}
		n, err := conn.Read(buf[read:])
		read += n
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				select {
				case <-ctx.Done():
					return ctx.Err()
				default:
					continue
				}
			}
			return err
		}
	}
	return nil
}
