package agent

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cuemby/nimbus/pkg/deployer"
	"github.com/cuemby/nimbus/pkg/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// controllableDeployer lets tests pause an iteration mid-discovery so
// they can inject further FSM inputs deterministically.
type controllableDeployer struct {
	hostname       string
	resumeDiscover chan struct{}
	discoverCount  int32
	convergeCount  int32
}

func (d *controllableDeployer) DiscoverLocalState(ctx context.Context) (model.NodeState, error) {
	atomic.AddInt32(&d.discoverCount, 1)
	<-d.resumeDiscover
	return model.NewNodeState(d.hostname, nil, nil, nil), nil
}

func (d *controllableDeployer) CalculateNecessaryStateChanges(local model.NodeState, desired, cluster model.Deployment) (deployer.StateChange, error) {
	atomic.AddInt32(&d.convergeCount, 1)
	return deployer.NoOp, nil
}

func (d *controllableDeployer) StartApplication(ctx context.Context, app model.Application) error { return nil }
func (d *controllableDeployer) StopApplication(ctx context.Context, app model.Application) error  { return nil }
func (d *controllableDeployer) EnsureVolume(ctx context.Context, m model.Manifestation) error      { return nil }
func (d *controllableDeployer) DestroyVolume(ctx context.Context, m model.Manifestation) error     { return nil }

func waitForCount(t *testing.T, counter *int32, want int32) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if atomic.LoadInt32(counter) >= want {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("counter never reached %d, stuck at %d", want, atomic.LoadInt32(counter))
}

func waitForLoopState(t *testing.T, loop *ConvergenceLoop, want ConvergenceLoopState) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if loop.State() == want {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("loop never reached state %s, stuck at %s", want, loop.State())
}

func TestConvergenceLoopStatusUpdateStartsDiscovery(t *testing.T) {
	dep := &controllableDeployer{hostname: "h", resumeDiscover: make(chan struct{}, 1)}
	loop := NewConvergenceLoop("h", dep)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go loop.Run(ctx)

	assert.Equal(t, Stopped, loop.State())
	loop.Receive(ClientStatusUpdate{Configuration: model.Empty, State: model.Empty})
	waitForLoopState(t, loop, Discovering)

	dep.resumeDiscover <- struct{}{}
	loop.Receive(StopInput{})
	require.NoError(t, loop.WaitUntilStopped(context.Background()))
	assert.Equal(t, int32(1), atomic.LoadInt32(&dep.convergeCount))
}

// TestConvergenceLoopStopThenStatusUpdateResumes is scenario S5: STOP
// injected mid-iteration is discarded by a subsequent ClientStatusUpdate,
// and a second iteration runs using the new latched values.
func TestConvergenceLoopStopThenStatusUpdateResumes(t *testing.T) {
	dep := &controllableDeployer{hostname: "h", resumeDiscover: make(chan struct{})}
	loop := NewConvergenceLoop("h", dep)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go loop.Run(ctx)

	loop.Receive(ClientStatusUpdate{Configuration: model.Empty, State: model.Empty})
	waitForLoopState(t, loop, Discovering)
	waitForCount(t, &dep.discoverCount, 1)

	loop.Receive(StopInput{})
	loop.Receive(ClientStatusUpdate{Configuration: model.Empty, State: model.Empty}) // clears the pending stop

	dep.resumeDiscover <- struct{}{} // let iteration 1 finish
	waitForCount(t, &dep.convergeCount, 1)

	// A second iteration must start: the STOP was discarded.
	waitForCount(t, &dep.discoverCount, 2)
	assert.NotEqual(t, Stopped, loop.State())

	loop.Receive(StopInput{})
	dep.resumeDiscover <- struct{}{} // let iteration 2 finish
	waitForCount(t, &dep.convergeCount, 2)

	require.NoError(t, loop.WaitUntilStopped(context.Background()))
	assert.Equal(t, int32(2), atomic.LoadInt32(&dep.discoverCount))
	assert.Equal(t, int32(2), atomic.LoadInt32(&dep.convergeCount))
}

// TestConvergenceLoopStopAfterBufferedWakeDoesNotRerun guards against a
// stale wake token surviving a legitimate stop: a second status update
// lands mid-iteration (buffering a wake send the loop hasn't drained
// yet), its values get folded into the very next iteration, and then a
// clean STOP arrives with no further update. The loop must settle in
// STOPPED without running a third, spurious iteration off the leftover
// token.
func TestConvergenceLoopStopAfterBufferedWakeDoesNotRerun(t *testing.T) {
	dep := &controllableDeployer{hostname: "h", resumeDiscover: make(chan struct{})}
	loop := NewConvergenceLoop("h", dep)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go loop.Run(ctx)

	loop.Receive(ClientStatusUpdate{Configuration: model.Empty, State: model.Empty})
	waitForCount(t, &dep.discoverCount, 1)

	// Lands mid-iteration: latched for the next pass, and its wake send
	// buffers in the channel since Run is inside runUntilStopped.
	loop.Receive(ClientStatusUpdate{Configuration: model.Empty, State: model.Empty})

	dep.resumeDiscover <- struct{}{} // let iteration 1 finish
	waitForCount(t, &dep.convergeCount, 1)
	waitForCount(t, &dep.discoverCount, 2) // iteration 2 starts off the latched update

	loop.Receive(StopInput{}) // clean stop, no further update

	dep.resumeDiscover <- struct{}{} // let iteration 2 finish
	waitForCount(t, &dep.convergeCount, 2)

	require.NoError(t, loop.WaitUntilStopped(context.Background()))

	// Give the stale buffered wake a chance to misfire before asserting.
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, Stopped, loop.State())
	assert.Equal(t, int32(2), atomic.LoadInt32(&dep.discoverCount))
	assert.Equal(t, int32(2), atomic.LoadInt32(&dep.convergeCount))
}

func TestConvergenceLoopNeverConvergesBeforeDiscovering(t *testing.T) {
	dep := &controllableDeployer{hostname: "h", resumeDiscover: make(chan struct{})}
	loop := NewConvergenceLoop("h", dep)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go loop.Run(ctx)

	loop.Receive(ClientStatusUpdate{Configuration: model.Empty, State: model.Empty})
	loop.Receive(StopInput{})
	waitForCount(t, &dep.discoverCount, 1)

	// Discovery is still blocked, so no calculation may have run yet.
	assert.Equal(t, int32(0), atomic.LoadInt32(&dep.convergeCount))

	dep.resumeDiscover <- struct{}{}
	require.NoError(t, loop.WaitUntilStopped(context.Background()))
	assert.Equal(t, int32(1), atomic.LoadInt32(&dep.convergeCount))
}
