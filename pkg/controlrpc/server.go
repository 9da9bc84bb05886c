package controlrpc

import (
	"net"
	"sync"

	"github.com/cuemby/nimbus/pkg/log"
	"github.com/cuemby/nimbus/pkg/metrics"
	"github.com/cuemby/nimbus/pkg/model"
)

// ConfigSource is the subset of persistence.Service the control RPC
// server needs to answer a newly-connected agent with the current
// desired configuration.
type ConfigSource interface {
	Get() model.Deployment
}

// StateAggregator is the subset of clusterstate.Service the server
// needs to record agent reports and answer with the aggregated state.
type StateAggregator interface {
	UpdateNodeState(model.NodeState)
	AsDeployment() model.Deployment
}

type serverConn struct {
	id      uint64
	conn    net.Conn
	writeMu sync.Mutex
}

// Server is the control-service side of the control RPC protocol. Every
// accepted connection is pushed the current ClusterStatusCommand
// immediately, and again whenever the desired configuration or the
// aggregated cluster state changes (spec.md §4.5, §5).
type Server struct {
	config ConfigSource
	state  StateAggregator

	connsMu sync.Mutex
	conns   map[uint64]*serverConn
	nextID  uint64
}

// NewServer builds a Server. Callers must also register
// server.OnConfigurationChanged with persistence.Service.RegisterListener
// for configuration pushes to reach connected agents.
func NewServer(config ConfigSource, state StateAggregator) *Server {
	return &Server{
		config: config,
		state:  state,
		conns:  make(map[uint64]*serverConn),
	}
}

// Serve accepts connections on ln until it returns an error (typically
// because ln was closed by the caller during shutdown).
func (s *Server) Serve(ln net.Listener) error {
	for {
		conn, err := ln.Accept()
		if err != nil {
			return err
		}
		go s.handleConn(conn)
	}
}

// OnConfigurationChanged is a persistence.Listener: register it with
// persistence.Service.RegisterListener so every Save broadcasts the new
// configuration to every connected agent.
func (s *Server) OnConfigurationChanged(_ model.Deployment) {
	s.broadcastStatus()
}

func (s *Server) handleConn(conn net.Conn) {
	s.connsMu.Lock()
	s.nextID++
	sc := &serverConn{id: s.nextID, conn: conn}
	s.conns[sc.id] = sc
	s.connsMu.Unlock()
	metrics.ControlRPCConnectedAgents.Inc()

	logger := log.WithComponent("controlrpc").With().Str("remote_addr", conn.RemoteAddr().String()).Logger()
	logger.Info().Msg("agent connected")

	defer func() {
		s.connsMu.Lock()
		delete(s.conns, sc.id)
		s.connsMu.Unlock()
		metrics.ControlRPCConnectedAgents.Dec()
		_ = conn.Close()
		logger.Info().Msg("agent disconnected")
	}()

	if err := s.pushStatus(sc); err != nil {
		logger.Error().Err(err).Msg("failed to push initial cluster status")
		return
	}

	for {
		f, err := readFrame(conn)
		if err != nil {
			return
		}
		cmd, err := decodeCommand(f)
		if err != nil {
			logger.Error().Err(err).Msg("failed to decode command frame")
			continue
		}
		switch c := cmd.(type) {
		case NodeStateCommand:
			s.state.UpdateNodeState(c.State)
			if err := s.ack(sc); err != nil {
				logger.Error().Err(err).Msg("failed to ack node state command")
				return
			}
			s.broadcastStatus()
		default:
			logger.Warn().Msg("unexpected command from agent")
		}
	}
}

func (s *Server) ack(sc *serverConn) error {
	f, err := encodeCommand(ackCommand{})
	if err != nil {
		return err
	}
	return writeFrame(sc.conn, &sc.writeMu, f)
}

func (s *Server) pushStatus(sc *serverConn) error {
	cmd := ClusterStatusCommand{Configuration: s.config.Get(), State: s.state.AsDeployment()}
	f, err := encodeCommand(cmd)
	if err != nil {
		return err
	}
	if err := writeFrame(sc.conn, &sc.writeMu, f); err != nil {
		return err
	}
	metrics.ControlRPCPushesTotal.Inc()
	return nil
}

func (s *Server) broadcastStatus() {
	cmd := ClusterStatusCommand{Configuration: s.config.Get(), State: s.state.AsDeployment()}
	f, err := encodeCommand(cmd)
	if err != nil {
		log.WithComponent("controlrpc").Error().Err(err).Msg("failed to encode cluster status broadcast")
		return
	}

	s.connsMu.Lock()
	targets := make([]*serverConn, 0, len(s.conns))
	for _, sc := range s.conns {
		targets = append(targets, sc)
	}
	s.connsMu.Unlock()

	for _, sc := range targets {
		if err := writeFrame(sc.conn, &sc.writeMu, f); err != nil {
			log.WithComponent("controlrpc").Error().Err(err).Uint64("conn_id", sc.id).Msg("failed to push cluster status")
			continue
		}
		metrics.ControlRPCPushesTotal.Inc()
	}
}
