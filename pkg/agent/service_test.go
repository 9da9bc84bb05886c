package agent

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/cuemby/nimbus/pkg/controlrpc"
	"github.com/cuemby/nimbus/pkg/deployer"
	"github.com/cuemby/nimbus/pkg/model"
	"github.com/stretchr/testify/require"
)

type singleStateSource struct {
	state model.Deployment
}

func (s *singleStateSource) Get() model.Deployment { return s.state }

type recordingAggregator struct {
	updates chan model.NodeState
}

func newRecordingAggregator() *recordingAggregator {
	return &recordingAggregator{updates: make(chan model.NodeState, 16)}
}

func (a *recordingAggregator) UpdateNodeState(s model.NodeState) {
	a.updates <- s
}

func (a *recordingAggregator) AsDeployment() model.Deployment { return model.Empty }

func startControlServer(t *testing.T, config controlrpc.ConfigSource, state controlrpc.StateAggregator) (addr string, srv *controlrpc.Server, ln net.Listener) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	srv = controlrpc.NewServer(config, state)
	go func() { _ = srv.Serve(ln) }()
	return ln.Addr().String(), srv, ln
}

// TestServiceStatusPushTriggersDiscovery is scenario S4: a ClusterStatusCommand
// pushed from the control service drives the agent through a convergence
// iteration that reports node state back.
func TestServiceStatusPushTriggersDiscovery(t *testing.T) {
	config := &singleStateSource{state: model.Empty}
	agg := newRecordingAggregator()
	addr, _, ln := startControlServer(t, config, agg)
	t.Cleanup(func() { _ = ln.Close() })

	dep := deployer.NewMemoryDeployer("node1.example.com")
	svc := NewService("node1.example.com", addr, dep)
	svc.Start()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = svc.Stop(ctx)
	})

	select {
	case s := <-agg.updates:
		require.Equal(t, "node1.example.com", s.Hostname)
	case <-time.After(3 * time.Second):
		t.Fatal("control service never received a node state report")
	}
}

// TestServiceReconnectCycle is scenario S6: after the control connection
// drops and a fresh one is established, a new status push drives another
// convergence iteration.
func TestServiceReconnectCycle(t *testing.T) {
	config := &singleStateSource{state: model.Empty}
	agg := newRecordingAggregator()
	addr, srv, ln := startControlServer(t, config, agg)

	dep := deployer.NewMemoryDeployer("node1.example.com")
	svc := NewService("node1.example.com", addr, dep)
	svc.Start()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = svc.Stop(ctx)
	})

	select {
	case <-agg.updates:
	case <-time.After(3 * time.Second):
		t.Fatal("first report never arrived")
	}

	// Drop the listener to sever the connection, then restart a server on
	// a fresh listener bound to the same address so the reconnecting
	// client's retry loop picks it back up.
	_ = ln.Close()
	_ = srv

	ln2, err := net.Listen("tcp", addr)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ln2.Close() })
	srv2 := controlrpc.NewServer(config, agg)
	go func() { _ = srv2.Serve(ln2) }()

	select {
	case s := <-agg.updates:
		require.Equal(t, "node1.example.com", s.Hostname)
	case <-time.After(5 * time.Second):
		t.Fatal("no report after reconnect")
	}
}
