package deployer

import (
	"context"
	"sync"

	"github.com/cuemby/nimbus/pkg/model"
)

// MemoryDeployer is an in-memory Deployer used by tests and by
// nimbus-agent's --memory-deployer mode: "running" is whatever was last
// started and not yet stopped, "local manifestations" are whatever was
// last ensured and not yet destroyed.
type MemoryDeployer struct {
	Hostname string

	mu            sync.Mutex
	running       map[string]model.Application
	manifestations map[string]model.Manifestation
}

// NewMemoryDeployer builds an empty MemoryDeployer for hostname.
func NewMemoryDeployer(hostname string) *MemoryDeployer {
	return &MemoryDeployer{
		Hostname:       hostname,
		running:        make(map[string]model.Application),
		manifestations: make(map[string]model.Manifestation),
	}
}

func (d *MemoryDeployer) DiscoverLocalState(ctx context.Context) (model.NodeState, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	running := make([]model.Application, 0, len(d.running))
	for _, app := range d.running {
		running = append(running, app)
	}
	others := make([]model.Manifestation, 0, len(d.manifestations))
	for _, m := range d.manifestations {
		others = append(others, m)
	}
	return model.NewNodeState(d.Hostname, running, nil, others), nil
}

func (d *MemoryDeployer) CalculateNecessaryStateChanges(local model.NodeState, desired, cluster model.Deployment) (StateChange, error) {
	return CalculateChanges(d.Hostname, local, desired, cluster), nil
}

func (d *MemoryDeployer) StartApplication(ctx context.Context, app model.Application) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.running[app.Name] = app
	if m, ok := app.Manifestation(); ok {
		d.manifestations[m.Dataset.DatasetID] = m
	}
	return nil
}

func (d *MemoryDeployer) StopApplication(ctx context.Context, app model.Application) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.running, app.Name)
	return nil
}

func (d *MemoryDeployer) EnsureVolume(ctx context.Context, manifestation model.Manifestation) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.manifestations[manifestation.Dataset.DatasetID] = manifestation
	return nil
}

func (d *MemoryDeployer) DestroyVolume(ctx context.Context, manifestation model.Manifestation) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.manifestations, manifestation.Dataset.DatasetID)
	return nil
}
