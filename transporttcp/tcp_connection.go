// Package transporttcp implements stompcore.RawConnection over a plain TCP
// socket, grounded on the teacher's tcpStompConnection: a frame.Reader and
// frame.Writer wrapped directly around net.Conn, plus the byte counters
// HeartBeatMonitor needs that the teacher's version didn't track.
package transporttcp

import (
	"net"
	"sync/atomic"
	"time"

	"github.com/go-stomp/stomp/v3/frame"

	"github.com/brokermq/stomp-core/stompcore"
)

type tcpStompConnection struct {
	conn      net.Conn
	bytesRead uint64
	bytesSent uint64
	pool      stompcore.BufferPool
}

func (c *tcpStompConnection) ReadFrame() (*frame.Frame, error) {
	r := frame.NewReader(&countingReader{r: c.conn, n: &c.bytesRead})
	return r.Read()
}

func (c *tcpStompConnection) WriteFrame(f *frame.Frame) error {
	w := frame.NewWriter(&countingWriter{w: c.conn, n: &c.bytesSent})
	return w.Write(f)
}

func (c *tcpStompConnection) SetReadDeadline(t time.Time) {
	c.conn.SetReadDeadline(t)
}

func (c *tcpStompConnection) Close() error {
	return c.conn.Close()
}

func (c *tcpStompConnection) BytesRead() uint64    { return atomic.LoadUint64(&c.bytesRead) }
func (c *tcpStompConnection) BytesWritten() uint64 { return atomic.LoadUint64(&c.bytesSent) }

func (c *tcpStompConnection) AttachPool(pool stompcore.BufferPool) { c.pool = pool }

type countingReader struct {
	r net.Conn
	n *uint64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	atomic.AddUint64(c.n, uint64(n))
	return n, err
}

type countingWriter struct {
	w net.Conn
	n *uint64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	atomic.AddUint64(c.n, uint64(n))
	return n, err
}

type tcpConnectionListener struct {
	listener net.Listener
}

// NewTCPConnectionListener binds addr and accepts plain-TCP STOMP
// connections.
func NewTCPConnectionListener(addr string) (stompcore.RawConnectionListener, error) {
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	return &tcpConnectionListener{listener: l}, nil
}

func (l *tcpConnectionListener) Accept() (stompcore.RawConnection, error) {
	conn, err := l.listener.Accept()
	if err != nil {
		return nil, err
	}
	return &tcpStompConnection{conn: conn}, nil
}

func (l *tcpConnectionListener) Close() error {
	return l.listener.Close()
}
