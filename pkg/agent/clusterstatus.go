package agent

import (
	"sync"

	"github.com/cuemby/nimbus/pkg/controlrpc"
	"github.com/cuemby/nimbus/pkg/log"
	"github.com/cuemby/nimbus/pkg/model"
)

// ClusterStatusState is a state of the cluster-status FSM (spec.md §4.6).
type ClusterStatusState int

const (
	Disconnected ClusterStatusState = iota // initial
	ConnectedNoStatus
	ConnectedWithStatus
	ShutdownState // terminal
)

func (s ClusterStatusState) String() string {
	switch s {
	case Disconnected:
		return "DISCONNECTED"
	case ConnectedNoStatus:
		return "CONNECTED_NO_STATUS"
	case ConnectedWithStatus:
		return "CONNECTED_WITH_STATUS"
	case ShutdownState:
		return "SHUTDOWN"
	default:
		return "UNKNOWN"
	}
}

type inputKind int

const (
	inputConnected inputKind = iota
	inputStatusUpdate
	inputDisconnected
	inputShutdown
)

// ClusterStatusInput is any input the cluster-status FSM accepts.
type ClusterStatusInput interface {
	kind() inputKind
}

// ConnectedToControlService reports that client successfully connected.
type ConnectedToControlService struct {
	Client *controlrpc.ReconnectingClient
}

func (ConnectedToControlService) kind() inputKind { return inputConnected }

// StatusUpdate carries a freshly pushed ClusterStatusCommand payload.
type StatusUpdate struct {
	Configuration model.Deployment
	State         model.Deployment
}

func (StatusUpdate) kind() inputKind { return inputStatusUpdate }

// DisconnectedFromControlService reports connection loss.
type DisconnectedFromControlService struct{}

func (DisconnectedFromControlService) kind() inputKind { return inputDisconnected }

// ShutdownInput requests the FSM (and the agent) shut down permanently.
type ShutdownInput struct{}

func (ShutdownInput) kind() inputKind { return inputShutdown }

// ConvergenceReceiver is the subset of *ConvergenceLoop the
// cluster-status FSM drives.
type ConvergenceReceiver interface {
	Receive(input ConvergenceInput)
}

type transition func(f *ClusterStatusFSM, input ClusterStatusInput) ClusterStatusState

// ClusterStatusFSM tracks this node's connectivity to the control
// service and forwards status pushes to the convergence loop. All
// inputs are processed by a single goroutine draining inputCh, so
// receive never races with itself (spec.md §4.6, §9).
type ClusterStatusFSM struct {
	convergence ConvergenceReceiver

	mu     sync.Mutex
	state  ClusterStatusState
	client *controlrpc.ReconnectingClient

	inputCh chan ClusterStatusInput
	doneCh  chan struct{}

	table map[ClusterStatusState]map[inputKind]transition
}

// NewClusterStatusFSM builds a ClusterStatusFSM starting at DISCONNECTED.
func NewClusterStatusFSM(convergence ConvergenceReceiver) *ClusterStatusFSM {
	f := &ClusterStatusFSM{
		convergence: convergence,
		state:       Disconnected,
		inputCh:     make(chan ClusterStatusInput, 16),
		doneCh:      make(chan struct{}),
	}
	f.table = map[ClusterStatusState]map[inputKind]transition{
		Disconnected: {
			inputConnected: (*ClusterStatusFSM).onConnected,
		},
		ConnectedNoStatus: {
			inputStatusUpdate:  (*ClusterStatusFSM).onFirstStatusUpdate,
			inputDisconnected:  (*ClusterStatusFSM).onDisconnectedNoStatus,
			inputShutdown:      (*ClusterStatusFSM).onShutdownNoStatus,
		},
		ConnectedWithStatus: {
			inputStatusUpdate: (*ClusterStatusFSM).onSubsequentStatusUpdate,
			inputDisconnected: (*ClusterStatusFSM).onDisconnectedWithStatus,
			inputShutdown:     (*ClusterStatusFSM).onShutdownWithStatus,
		},
		ShutdownState: {},
	}
	return f
}

// Run drains inputCh until it is closed by Close. Intended to run on
// its own goroutine for the lifetime of the agent.
func (f *ClusterStatusFSM) Run() {
	defer close(f.doneCh)
	for input := range f.inputCh {
		f.process(input)
	}
}

// Receive enqueues an input for processing by Run's goroutine.
func (f *ClusterStatusFSM) Receive(input ClusterStatusInput) {
	f.inputCh <- input
}

// Close stops Run once its input queue drains.
func (f *ClusterStatusFSM) Close() {
	close(f.inputCh)
}

// Done returns a channel closed once Run has exited.
func (f *ClusterStatusFSM) Done() <-chan struct{} {
	return f.doneCh
}

// State returns the FSM's current state. Safe for concurrent use.
func (f *ClusterStatusFSM) State() ClusterStatusState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

func (f *ClusterStatusFSM) process(input ClusterStatusInput) {
	f.mu.Lock()
	current := f.state
	f.mu.Unlock()

	stateTable, ok := f.table[current]
	if !ok {
		return
	}
	fn, ok := stateTable[input.kind()]
	if !ok {
		return // unlisted input for this state: ignore
	}

	next := fn(f, input)

	f.mu.Lock()
	f.state = next
	f.mu.Unlock()
}

func (f *ClusterStatusFSM) onConnected(input ClusterStatusInput) ClusterStatusState {
	in := input.(ConnectedToControlService)
	f.client = in.Client
	log.WithComponent("agent").Info().Msg("connected to control service")
	return ConnectedNoStatus
}

func (f *ClusterStatusFSM) onFirstStatusUpdate(input ClusterStatusInput) ClusterStatusState {
	in := input.(StatusUpdate)
	f.convergence.Receive(ClientStatusUpdate{Client: f.client, Configuration: in.Configuration, State: in.State})
	return ConnectedWithStatus
}

func (f *ClusterStatusFSM) onSubsequentStatusUpdate(input ClusterStatusInput) ClusterStatusState {
	in := input.(StatusUpdate)
	f.convergence.Receive(ClientStatusUpdate{Client: f.client, Configuration: in.Configuration, State: in.State})
	return ConnectedWithStatus
}

func (f *ClusterStatusFSM) onDisconnectedNoStatus(ClusterStatusInput) ClusterStatusState {
	f.client = nil
	return Disconnected
}

func (f *ClusterStatusFSM) onDisconnectedWithStatus(ClusterStatusInput) ClusterStatusState {
	f.client = nil
	f.convergence.Receive(StopInput{})
	return Disconnected
}

func (f *ClusterStatusFSM) onShutdownNoStatus(ClusterStatusInput) ClusterStatusState {
	if f.client != nil {
		_ = f.client.Close()
	}
	return ShutdownState
}

func (f *ClusterStatusFSM) onShutdownWithStatus(ClusterStatusInput) ClusterStatusState {
	if f.client != nil {
		_ = f.client.Close()
	}
	f.convergence.Receive(StopInput{})
	return ShutdownState
}
