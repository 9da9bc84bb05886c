package agent

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/cuemby/nimbus/pkg/controlrpc"
	"github.com/cuemby/nimbus/pkg/deployer"
	"github.com/cuemby/nimbus/pkg/log"
	"github.com/cuemby/nimbus/pkg/metrics"
	"github.com/cuemby/nimbus/pkg/model"
)

// ConvergenceLoopState is a state of the convergence-loop FSM
// (spec.md §4.7).
type ConvergenceLoopState int

const (
	Stopped ConvergenceLoopState = iota // initial
	Discovering
	Reporting
	Converging
)

func (s ConvergenceLoopState) String() string {
	switch s {
	case Stopped:
		return "STOPPED"
	case Discovering:
		return "DISCOVERING"
	case Reporting:
		return "REPORTING"
	case Converging:
		return "CONVERGING"
	default:
		return "UNKNOWN"
	}
}

// ConvergenceInput is any input the convergence-loop FSM accepts.
type ConvergenceInput interface {
	isConvergenceInput()
}

// ClientStatusUpdate latches the client and status to converge against.
// A newer ClientStatusUpdate always overwrites an older one, even
// mid-iteration (spec.md §4.7).
type ClientStatusUpdate struct {
	Client        *controlrpc.ReconnectingClient
	Configuration model.Deployment
	State         model.Deployment
}

func (ClientStatusUpdate) isConvergenceInput() {}

// StopInput requests the loop halt once its current iteration (if any)
// completes, unless a ClientStatusUpdate arrives first (spec.md §4.7's
// "stop-then-status-update resumes" rule).
type StopInput struct{}

func (StopInput) isConvergenceInput() {}

// ConvergenceLoop discovers, reports, and converges a single node's
// state in a loop driven by the latest latched ClientStatusUpdate. At
// most one iteration runs at a time, structurally: everything after the
// initial dispatch happens on one goroutine (spec.md §4.7, §9).
type ConvergenceLoop struct {
	hostname string
	deployer deployer.Deployer

	latch       atomic.Pointer[ClientStatusUpdate]
	pendingStop atomic.Bool
	wake        chan struct{}

	stateMu sync.Mutex
	state   ConvergenceLoopState

	stoppedSigMu sync.Mutex
	stoppedSig   chan struct{}
}

// NewConvergenceLoop builds a ConvergenceLoop for hostname, starting in
// STOPPED. Call Run on its own goroutine to start servicing inputs.
func NewConvergenceLoop(hostname string, dep deployer.Deployer) *ConvergenceLoop {
	return &ConvergenceLoop{
		hostname:   hostname,
		deployer:   dep,
		wake:       make(chan struct{}, 1),
		state:      Stopped,
		stoppedSig: make(chan struct{}),
	}
}

// Receive applies input to the loop. Safe for concurrent use; typically
// called from the cluster-status FSM's goroutine.
func (c *ConvergenceLoop) Receive(input ConvergenceInput) {
	switch in := input.(type) {
	case ClientStatusUpdate:
		update := in
		c.latch.Store(&update)
		c.pendingStop.Store(false)
		select {
		case c.wake <- struct{}{}:
		default:
		}
	case StopInput:
		c.pendingStop.Store(true)
	}
}

// State returns the loop's current state. Safe for concurrent use.
func (c *ConvergenceLoop) State() ConvergenceLoopState {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	return c.state
}

func (c *ConvergenceLoop) setState(s ConvergenceLoopState) {
	c.stateMu.Lock()
	c.state = s
	c.stateMu.Unlock()
	if s == Stopped {
		c.stoppedSigMu.Lock()
		old := c.stoppedSig
		c.stoppedSig = make(chan struct{})
		c.stoppedSigMu.Unlock()
		close(old)
	}
}

// WaitUntilStopped blocks until the loop is STOPPED or ctx is done.
func (c *ConvergenceLoop) WaitUntilStopped(ctx context.Context) error {
	for {
		c.stoppedSigMu.Lock()
		sig := c.stoppedSig
		c.stoppedSigMu.Unlock()

		if c.State() == Stopped {
			return nil
		}
		select {
		case <-sig:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Run services latched status updates until ctx is done. Each time the
// loop is STOPPED it blocks for a wake signal (sent by Receive on a
// fresh ClientStatusUpdate) before beginning a new run of iterations.
func (c *ConvergenceLoop) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.wake:
		}

		if c.latch.Load() == nil {
			continue
		}
		c.runUntilStopped(ctx)
	}
}

func (c *ConvergenceLoop) runUntilStopped(ctx context.Context) {
	for {
		update := c.latch.Load()
		if update == nil {
			c.stop()
			return
		}

		c.runIteration(ctx, *update)

		if c.pendingStop.Load() {
			c.stop()
			return
		}
	}
}

// stop transitions to STOPPED. It clears the latch so a wake token left
// buffered by a ClientStatusUpdate already folded into the iteration
// just completed (or one superseded by a later STOP) can't trigger a
// spurious extra iteration once Run loops back around; it also drains
// that stale token outright so Run doesn't wake immediately only to
// find nothing to do.
func (c *ConvergenceLoop) stop() {
	c.latch.Store(nil)
	select {
	case <-c.wake:
	default:
	}
	c.setState(Stopped)
}

func (c *ConvergenceLoop) runIteration(ctx context.Context, update ClientStatusUpdate) {
	logger := log.WithComponent("convergence").With().Str("hostname", c.hostname).Logger()
	timer := metrics.NewTimer()
	outcome := "success"
	defer func() {
		metrics.ConvergenceIterationsTotal.WithLabelValues(outcome).Inc()
		timer.ObserveDuration(metrics.ConvergenceIterationDuration)
	}()

	c.setState(Discovering)
	local, err := c.deployer.DiscoverLocalState(ctx)
	if err != nil {
		logger.Error().Err(err).Msg("discovery failed")
		outcome = "discover_error"
		return
	}

	c.setState(Reporting)
	if update.Client != nil {
		if err := update.Client.Send(controlrpc.NodeStateCommand{State: local}); err != nil {
			reportErr := &model.TransportError{Op: "report_node_state", Cause: err}
			logger.Error().Err(reportErr).Msg("failed to report node state")
			outcome = "report_error"
		}
	}

	c.setState(Converging)
	change, err := c.deployer.CalculateNecessaryStateChanges(local, update.Configuration, update.State)
	if err != nil {
		logger.Error().Err(err).Msg("failed to calculate state changes")
		outcome = "converge_error"
		return
	}
	if err := change.Run(ctx, c.deployer); err != nil {
		logger.Error().Err(err).Msg("failed to apply state changes")
		outcome = "converge_error"
	}
}
