package agent

import (
	"context"
	"sync"

	"github.com/cuemby/nimbus/pkg/controlrpc"
	"github.com/cuemby/nimbus/pkg/deployer"
	"github.com/cuemby/nimbus/pkg/log"
	"github.com/cuemby/nimbus/pkg/model"
)

// Service composes a reconnecting control RPC client, the cluster-status
// FSM, the convergence-loop FSM, and a Deployer into a runnable agent
// (spec.md §4.8).
type Service struct {
	hostname string
	client   *controlrpc.ReconnectingClient
	status   *ClusterStatusFSM
	loop     *ConvergenceLoop

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewService wires a Service for hostname against the control service
// at addr, driving dep to converge local state.
func NewService(hostname, addr string, dep deployer.Deployer) *Service {
	loop := NewConvergenceLoop(hostname, dep)
	status := NewClusterStatusFSM(loop)
	client := controlrpc.NewReconnectingClient(addr)

	return &Service{
		hostname: hostname,
		client:   client,
		status:   status,
		loop:     loop,
	}
}

// Start begins reconnecting to the control service and servicing both
// FSMs. It returns immediately; the work runs on background goroutines
// until Stop is called.
func (s *Service) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel

	s.wg.Add(3)
	go func() { defer s.wg.Done(); s.status.Run() }()
	go func() { defer s.wg.Done(); s.loop.Run(ctx) }()
	go func() { defer s.wg.Done(); s.runClient(ctx) }()
}

// runClient drives the reconnecting client and forwards its connection
// lifecycle into the cluster-status FSM, and pushed ClusterStatusCommand
// messages into the FSM as StatusUpdate inputs.
func (s *Service) runClient(ctx context.Context) {
	var innerWG sync.WaitGroup
	innerWG.Add(1)
	go func() {
		defer innerWG.Done()
		s.watchConnection(ctx)
	}()

	_ = s.client.Run(ctx)
	innerWG.Wait()
}

func (s *Service) watchConnection(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.client.Connected():
			s.Connected(s.client)
			go s.pumpIncoming(ctx)
		case <-s.client.Disconnected():
			s.Disconnected()
		}
	}
}

func (s *Service) pumpIncoming(ctx context.Context) {
	for {
		cmd, err := s.client.Recv(ctx)
		if err != nil {
			return
		}
		status, ok := cmd.(controlrpc.ClusterStatusCommand)
		if !ok {
			continue
		}
		s.ClusterUpdated(status.Configuration, status.State)
	}
}

// Connected maps to the ConnectedToControlService cluster-status input.
// Exposed for the incoming side of the bidirectional RPC.
func (s *Service) Connected(client *controlrpc.ReconnectingClient) {
	s.status.Receive(ConnectedToControlService{Client: client})
}

// Disconnected maps to the DisconnectedFromControlService input.
func (s *Service) Disconnected() {
	s.status.Receive(DisconnectedFromControlService{})
}

// ClusterUpdated maps to the StatusUpdate input.
func (s *Service) ClusterUpdated(configuration, state model.Deployment) {
	s.status.Receive(StatusUpdate{Configuration: configuration, State: state})
}

// Stop halts reconnection attempts, shuts down the cluster-status FSM,
// and blocks until the convergence loop reaches STOPPED.
func (s *Service) Stop(ctx context.Context) error {
	if s.cancel == nil {
		return nil
	}

	s.status.Receive(ShutdownInput{})
	err := s.loop.WaitUntilStopped(ctx)

	s.cancel()
	_ = s.client.Close()
	s.status.Close()
	s.wg.Wait()

	log.WithComponent("agent").Info().Str("hostname", s.hostname).Msg("agent service stopped")
	return err
}
