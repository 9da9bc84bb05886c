package deployer

import (
	"context"

	"github.com/cuemby/nimbus/pkg/model"
)

// startApplication brings up an Application that is desired but not
// currently running.
type startApplication struct {
	Application model.Application
}

func (c startApplication) Run(ctx context.Context, deployer Deployer) error {
	return deployer.StartApplication(ctx, c.Application)
}

// stopApplication tears down an Application that is running but no
// longer desired.
type stopApplication struct {
	Application model.Application
}

func (c stopApplication) Run(ctx context.Context, deployer Deployer) error {
	return deployer.StopApplication(ctx, c.Application)
}

// ensureVolume creates or attaches the local backing storage for a
// dataset manifestation that is desired but not yet present locally.
type ensureVolume struct {
	Manifestation model.Manifestation
}

func (c ensureVolume) Run(ctx context.Context, deployer Deployer) error {
	return deployer.EnsureVolume(ctx, c.Manifestation)
}

// destroyVolume removes local backing storage for a manifestation that
// is no longer desired on this node.
type destroyVolume struct {
	Manifestation model.Manifestation
}

func (c destroyVolume) Run(ctx context.Context, deployer Deployer) error {
	return deployer.DestroyVolume(ctx, c.Manifestation)
}

// CalculateChanges implements the diffing half of
// Deployer.CalculateNecessaryStateChanges: given what is actually
// running on hostname (local), the desired Deployment, and the
// cluster's aggregated observed state, it returns the StateChange that
// converges this node. Shared so both ContainerdDeployer and
// MemoryDeployer apply identical diff semantics (spec.md §4.3's
// "pure function over values").
func CalculateChanges(hostname string, local model.NodeState, desired, cluster model.Deployment) StateChange {
	var changes []StateChange

	desiredNode, hasDesiredNode := desired.Node(hostname)

	runningByName := make(map[string]model.Application, len(local.Running))
	for _, app := range local.Running {
		runningByName[app.Name] = app
	}

	desiredByName := make(map[string]model.Application)
	if hasDesiredNode {
		for _, app := range desiredNode.Applications {
			desiredByName[app.Name] = app
		}
	}

	// Stop anything running that is no longer desired, or whose spec
	// changed (stop then the matching start below brings it back up
	// with the new spec).
	for name, app := range runningByName {
		desiredApp, stillDesired := desiredByName[name]
		if !stillDesired || desiredApp.Image != app.Image {
			changes = append(changes, stopApplication{Application: app})
		}
	}

	// Ensure volumes for desired applications before starting them.
	for name, desiredApp := range desiredByName {
		if m, ok := desiredApp.Manifestation(); ok {
			if !hasLocalManifestation(local, m.Dataset.DatasetID) {
				changes = append(changes, ensureVolume{Manifestation: m})
			}
		}

		running, isRunning := runningByName[name]
		if isRunning && running.Image == desiredApp.Image {
			continue
		}
		changes = append(changes, startApplication{Application: desiredApp})
	}

	// Destroy local manifestations no longer desired anywhere on this
	// node (neither as an other-manifestation nor application volume).
	for _, m := range local.OtherManifestations {
		if !hasDesiredNode || !desiredNodeWantsManifestation(desiredNode, m.Dataset.DatasetID) {
			changes = append(changes, destroyVolume{Manifestation: m})
		}
	}

	if len(changes) == 0 {
		return NoOp
	}
	return Sequence(changes...)
}

func hasLocalManifestation(local model.NodeState, datasetID string) bool {
	for _, m := range local.OtherManifestations {
		if m.Dataset.DatasetID == datasetID {
			return true
		}
	}
	for _, app := range local.Running {
		if m, ok := app.Manifestation(); ok && m.Dataset.DatasetID == datasetID {
			return true
		}
	}
	return false
}

func desiredNodeWantsManifestation(node model.Node, datasetID string) bool {
	for _, m := range node.Manifestations() {
		if m.Dataset.DatasetID == datasetID {
			return true
		}
	}
	return false
}
