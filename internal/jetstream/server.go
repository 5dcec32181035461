package jetstream

import (
	"fmt"
	"time"

	server "github.com/nats-io/nats-server/v2/server"
	nats "github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"
)

const readyTimeout = 5 * time.Second

// Server is an in-process NATS server with JetStream enabled. It never
// listens on the network; clients connect through the process.
type Server struct{ ns *server.Server }

func NewServer(storeDir string) (*Server, error) {
	ns, err := server.NewServer(&server.Options{
		ServerName: "crewchat-archive",
		DontListen: true,
		JetStream:  true,
		StoreDir:   storeDir,
		NoSigs:     true,
	})
	if err != nil {
		return nil, fmt.Errorf("create nats server: %w", err)
	}
	go ns.Start()
	if !ns.ReadyForConnections(readyTimeout) {
		ns.Shutdown()
		return nil, fmt.Errorf("NATS server not ready after %s", readyTimeout)
	}
	log.Debug().Str("store_dir", storeDir).Msg("embedded NATS started")
	return &Server{ns: ns}, nil
}

func (s *Server) Connect() (*nats.Conn, error) {
	return nats.Connect(s.ns.ClientURL(), nats.InProcessServer(s.ns), nats.Name("crewchat"))
}

// Open connects and ensures the archive stream exists.
func (s *Server) Open() (*nats.Conn, nats.JetStreamContext, error) {
	nc, err := s.Connect()
	if err != nil {
		return nil, nil, fmt.Errorf("connect to NATS: %w", err)
	}
	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, nil, fmt.Errorf("jetstream context: %w", err)
	}
	if err := EnsureStream(js); err != nil {
		nc.Close()
		return nil, nil, fmt.Errorf("ensure stream: %w", err)
	}
	return nc, js, nil
}

func (s *Server) Shutdown() {
	s.ns.Shutdown()
	s.ns.WaitForShutdown()
}
