package stompcore

import (
	"sync"
	"sync/atomic"
	"time"
)

// heartBeatCounters is the subset of RawConnection the monitor samples.
// FrameCodec (and therefore any RawConnection) satisfies it.
type heartBeatCounters interface {
	BytesRead() uint64
	BytesWritten() uint64
}

// HeartBeatMonitor is C1: a liveness detector driven by a transport's
// read/write byte counters rather than its own traffic, so it works
// whether the last bytes moved were a MESSAGE frame or a bare newline.
//
// Read checks declare the peer dead when the read counter hasn't advanced
// across a full read interval. Write checks send a keep-alive newline when
// nothing else has been written across half a write interval, keeping the
// connection comfortably inside whatever window the peer is watching.
type HeartBeatMonitor struct {
	counters      heartBeatCounters
	readInterval  time.Duration
	writeInterval time.Duration
	onDead        func()
	onKeepAlive   func() error

	session   int64
	lastRead  uint64
	lastWrite uint64
	mu        sync.Mutex
}

// NegotiateHeartBeat computes the read/write check intervals per §4.1's
// numeric semantics, given the host's configured minimums and the values
// the client sent in its CONNECT heart-beat header (clientCanSendMs,
// clientWantsMs). A zero interval disables that side entirely.
func NegotiateHeartBeat(configuredOutboundMs, configuredInboundMs, clientCanSendMs, clientWantsMs int64) (writeInterval, readInterval time.Duration) {
	readMs := max64(configuredInboundMs, clientCanSendMs)
	if readMs > 0 {
		readMs += min64(readMs, 5000)
	}
	writeMs := max64(configuredOutboundMs, clientWantsMs)

	return time.Duration(writeMs) * time.Millisecond, time.Duration(readMs) * time.Millisecond
}

func max64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}

func min64(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}

// NewHeartBeatMonitor builds a monitor. onDead is invoked (repeatedly, once
// per stalled interval) when no bytes have arrived on the read side; it is
// expected to die() the connection. onKeepAlive is invoked to emit a
// heart-beat newline on the write side.
func NewHeartBeatMonitor(counters heartBeatCounters, writeInterval, readInterval time.Duration, onDead func(), onKeepAlive func() error) *HeartBeatMonitor {
	return &HeartBeatMonitor{
		counters:      counters,
		readInterval:  readInterval,
		writeInterval: writeInterval,
		onDead:        onDead,
		onKeepAlive:   onKeepAlive,
	}
}

// Start arms both check loops when their interval is non-zero. Calling
// Start while already running rearms cleanly: the session counter
// invalidates any callback scheduled by the previous run.
func (m *HeartBeatMonitor) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()

	session := atomic.AddInt64(&m.session, 1)
	m.lastRead = m.counters.BytesRead()
	m.lastWrite = m.counters.BytesWritten()

	if m.readInterval > 0 {
		time.AfterFunc(m.readInterval, func() { m.checkRead(session) })
	}
	if m.writeInterval > 0 {
		time.AfterFunc(m.writeInterval/2, func() { m.checkWrite(session) })
	}
}

// Stop increments the session counter, causing any in-flight timer
// callback to no-op the next time it fires.
func (m *HeartBeatMonitor) Stop() {
	atomic.AddInt64(&m.session, 1)
}

func (m *HeartBeatMonitor) currentSession() int64 {
	return atomic.LoadInt64(&m.session)
}

func (m *HeartBeatMonitor) checkRead(session int64) {
	if m.currentSession() != session {
		return
	}

	m.mu.Lock()
	cur := m.counters.BytesRead()
	stalled := cur == m.lastRead
	m.lastRead = cur
	m.mu.Unlock()

	if stalled {
		m.onDead()
	}

	// re-check session: onDead may have called Stop().
	if m.currentSession() == session {
		time.AfterFunc(m.readInterval, func() { m.checkRead(session) })
	}
}

func (m *HeartBeatMonitor) checkWrite(session int64) {
	if m.currentSession() != session {
		return
	}

	m.mu.Lock()
	cur := m.counters.BytesWritten()
	stalled := cur == m.lastWrite
	m.mu.Unlock()

	if stalled {
		m.onKeepAlive()
	}

	m.mu.Lock()
	m.lastWrite = m.counters.BytesWritten()
	m.mu.Unlock()

	if m.currentSession() == session {
		time.AfterFunc(m.writeInterval/2, func() { m.checkWrite(session) })
	}
}
