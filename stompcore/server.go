package stompcore

import (
	"github.com/brokermq/stomp-core/internal/corelog"
)

// Server accepts raw transport connections and spins up one
// ConnectionHandler per connection, grounded on the teacher's
// stompServer.waitForConnections accept loop. Unlike the teacher's server,
// there is no central event bus here: each ConnectionHandler is a
// self-driving actor, so the accept loop's only job is to hand off
// ownership of newly-accepted connections.
type Server struct {
	listener RawConnectionListener
	config   Config
	vhosts   VirtualHostRegistry
	log      *corelog.Logger
}

func NewServer(listener RawConnectionListener, config Config, vhosts VirtualHostRegistry) *Server {
	return &Server{listener: listener, config: config, vhosts: vhosts, log: corelog.New("")}
}

// Serve blocks accepting connections until the listener is closed, at
// which point it returns the listener's error.
func (s *Server) Serve() error {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			return err
		}
		s.log.Debug("accepted connection")
		NewConnectionHandler(conn, s.config, s.vhosts)
	}
}

func (s *Server) Close() error {
	return s.listener.Close()
}
