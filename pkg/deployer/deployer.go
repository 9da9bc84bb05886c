package deployer

import (
	"context"

	"github.com/cuemby/nimbus/pkg/model"
)

// Deployer is the capability set required of any backend the
// convergence loop drives (spec.md §4.3). DiscoverLocalState may
// perform I/O; callers must not call it again until the previous call
// completes. CalculateNecessaryStateChanges is a pure function over
// values. The remaining methods are the primitives a StateChange calls
// through Run.
type Deployer interface {
	// DiscoverLocalState produces this node's current observed state.
	DiscoverLocalState(ctx context.Context) (model.NodeState, error)

	// CalculateNecessaryStateChanges diffs local (this node's observed
	// state), desired (the cluster's configuration), and cluster (the
	// cluster's aggregated observed state) and returns the StateChange
	// that converges this node toward desired.
	CalculateNecessaryStateChanges(local model.NodeState, desired, cluster model.Deployment) (StateChange, error)

	StartApplication(ctx context.Context, app model.Application) error
	StopApplication(ctx context.Context, app model.Application) error
	EnsureVolume(ctx context.Context, manifestation model.Manifestation) error
	DestroyVolume(ctx context.Context, manifestation model.Manifestation) error
}

// StateChange applies one convergence action. Run must be idempotent
// with respect to its own goal state: running it twice in succession
// with no external changes is a no-op on the second invocation.
type StateChange interface {
	Run(ctx context.Context, deployer Deployer) error
}

// noOp is the StateChange returned when local state already matches
// desired state.
type noOp struct{}

func (noOp) Run(ctx context.Context, deployer Deployer) error { return nil }

// NoOp is the StateChange that does nothing.
var NoOp StateChange = noOp{}

// sequence runs a list of StateChanges in order, stopping at the first
// error (mirrors the original Flocker Sequentially combinator).
type sequence struct {
	changes []StateChange
}

// Sequence combines multiple StateChanges into one that runs them in
// order. An empty sequence behaves like NoOp.
func Sequence(changes ...StateChange) StateChange {
	return sequence{changes: changes}
}

func (s sequence) Run(ctx context.Context, deployer Deployer) error {
	for _, c := range s.changes {
		if err := c.Run(ctx, deployer); err != nil {
			return err
		}
	}
	return nil
}
