// Package transportws implements stompcore.RawConnection over a
// gorilla/websocket text-message stream, grounded on the teacher's
// webSocketStompConnection/webSocketConnectionListener pair, generalized
// with byte counters and origin-checked upgrade the same way the teacher
// did.
package transportws

import (
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	"github.com/go-stomp/stomp/v3/frame"
	"github.com/gorilla/websocket"

	"github.com/brokermq/stomp-core/stompcore"
)

type webSocketStompConnection struct {
	conn      *websocket.Conn
	bytesRead uint64
	bytesSent uint64
	pool      stompcore.BufferPool
}

func (c *webSocketStompConnection) ReadFrame() (*frame.Frame, error) {
	_, r, err := c.conn.NextReader()
	if err != nil {
		return nil, err
	}
	fr := frame.NewReader(&countingReader{r: r, n: &c.bytesRead})
	return fr.Read()
}

func (c *webSocketStompConnection) WriteFrame(f *frame.Frame) error {
	w, err := c.conn.NextWriter(websocket.TextMessage)
	if err != nil {
		return err
	}
	fw := frame.NewWriter(&countingWriter{w: w, n: &c.bytesSent})
	if err := fw.Write(f); err != nil {
		return err
	}
	return w.Close()
}

func (c *webSocketStompConnection) SetReadDeadline(t time.Time) {
	c.conn.SetReadDeadline(t)
}

func (c *webSocketStompConnection) Close() error {
	return c.conn.Close()
}

func (c *webSocketStompConnection) BytesRead() uint64    { return atomic.LoadUint64(&c.bytesRead) }
func (c *webSocketStompConnection) BytesWritten() uint64 { return atomic.LoadUint64(&c.bytesSent) }

func (c *webSocketStompConnection) AttachPool(pool stompcore.BufferPool) { c.pool = pool }

type countingReader struct {
	r interface{ Read([]byte) (int, error) }
	n *uint64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	atomic.AddUint64(c.n, uint64(n))
	return n, err
}

type countingWriter struct {
	w interface{ Write([]byte) (int, error) }
	n *uint64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	atomic.AddUint64(c.n, uint64(n))
	return n, err
}

type rawConnResult struct {
	conn stompcore.RawConnection
	err  error
}

type webSocketConnectionListener struct {
	httpServer         *http.Server
	tcpListener        net.Listener
	connectionsChannel chan rawConnResult
	allowedOrigins     []string
}

// NewWebSocketConnectionListener upgrades HTTP requests to endpoint on addr
// into STOMP-over-WebSocket connections. An empty allowedOrigins list skips
// origin checking.
func NewWebSocketConnectionListener(addr, endpoint string, allowedOrigins []string) (stompcore.RawConnectionListener, error) {
	mux := http.NewServeMux()
	l := &webSocketConnectionListener{
		httpServer:         &http.Server{Addr: addr, Handler: mux},
		connectionsChannel: make(chan rawConnResult),
		allowedOrigins:     allowedOrigins,
	}

	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     l.checkOrigin,
	}

	mux.HandleFunc(endpoint, func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			l.connectionsChannel <- rawConnResult{err: err}
			return
		}
		l.connectionsChannel <- rawConnResult{conn: &webSocketStompConnection{conn: conn}}
	})

	tcpListener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	l.tcpListener = tcpListener

	go l.httpServer.Serve(l.tcpListener)
	return l, nil
}

func (l *webSocketConnectionListener) checkOrigin(r *http.Request) bool {
	if len(l.allowedOrigins) == 0 {
		return true
	}
	origin := r.Header["Origin"]
	if len(origin) == 0 {
		return true
	}
	u, err := url.Parse(origin[0])
	if err != nil {
		return false
	}
	if strings.EqualFold(u.Host, r.Host) {
		return true
	}
	for _, allowed := range l.allowedOrigins {
		if strings.EqualFold(u.Host, allowed) {
			return true
		}
	}
	return false
}

func (l *webSocketConnectionListener) Accept() (stompcore.RawConnection, error) {
	cr := <-l.connectionsChannel
	return cr.conn, cr.err
}

func (l *webSocketConnectionListener) Close() error {
	return l.httpServer.Close()
}
