package stompcore

import (
	"time"

	"github.com/go-stomp/stomp/v3/frame"
)

// BufferPool is the memory-pool attachment point a FrameCodec exposes so a
// host with a direct-buffer pool can back large MESSAGE bodies with pooled
// memory instead of per-frame allocations.
type BufferPool interface {
	Get(size int) []byte
	Put(buf []byte)
}

// RawConnection is the transport-level contract a FrameCodec is built on:
// framing from a byte stream (§4.2), plus the read/write byte counters
// HeartBeatMonitor samples (§4.1).
type RawConnection interface {
	// ReadFrame blocks for the next frame. A nil frame with a nil error is
	// a heart-beat (a bare newline).
	ReadFrame() (*frame.Frame, error)
	WriteFrame(f *frame.Frame) error
	SetReadDeadline(t time.Time)
	Close() error

	// BytesRead and BytesWritten are monotonically increasing counters
	// HeartBeatMonitor samples to detect stalled peers (§4.1).
	BytesRead() uint64
	BytesWritten() uint64

	// AttachPool installs a memory pool for large bodies. A codec that
	// doesn't support pooling may ignore this.
	AttachPool(pool BufferPool)
}

// RawConnectionListener accepts new transport-level connections. TCP and
// WebSocket variants live in transporttcp and transportws respectively.
type RawConnectionListener interface {
	Accept() (RawConnection, error)
	Close() error
}

// LooksLikeStompFrame implements the identification predicate from §4.2:
// a STOMP stream is recognized by its first bytes spelling CONNECT or
// STOMP.
func LooksLikeStompFrame(prefix []byte) bool {
	const connectPrefix = "CONNECT"
	const stompPrefix = "STOMP"
	if len(prefix) >= len(connectPrefix) && string(prefix[:len(connectPrefix)]) == connectPrefix {
		return true
	}
	if len(prefix) >= len(stompPrefix) && string(prefix[:len(stompPrefix)]) == stompPrefix {
		return true
	}
	return false
}
