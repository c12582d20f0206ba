package server

import (
	"context"
	"net"
	"testing"
	"time"

	"gotest.tools/v3/assert"
)

func TestWriteReadFrameRoundTrip(t *testing.T) {
	client, srv := net.Pipe()
	defer client.Close()
	defer srv.Close()

	go func() {
		_ = writeFrame(client, []byte(`{"command":"GetProcesses"}`))
	}()

	payload, err := readFrame(context.Background(), srv, time.Second)
	assert.NilError(t, err)
	assert.Equal(t, string(payload), `{"command":"GetProcesses"}`)
}

func TestReadFrameZeroLength(t *testing.T) {
	client, srv := net.Pipe()
	defer client.Close()
	defer srv.Close()

	go func() { _ = writeFrame(client, []byte{}) }()

	_, err := readFrame(context.Background(), srv, time.Second)
	assert.ErrorIs(t, err, ErrZeroLengthFrame)
}

func TestReadFrameTooLarge(t *testing.T) {
	client, srv := net.Pipe()
	defer client.Close()
	defer srv.Close()

	go func() {
		header := []byte{0x00, 0x20, 0x00, 0x00} // ~2MiB, over the 1MiB cap
		_, _ = client.Write(header)
	}()

	_, err := readFrame(context.Background(), srv, time.Second)
	assert.ErrorIs(t, err, ErrFrameTooLarge)
}

func TestReadFrameHonorsContextCancellationWhileIdle(t *testing.T) {
	_, srv := net.Pipe()
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := readFrame(ctx, srv, 10*time.Millisecond)
	assert.ErrorIs(t, err, context.Canceled)
}
