package deployer

import (
	"context"
	"testing"

	"github.com/cuemby/nimbus/pkg/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryDeployerConvergesToDesiredApplications(t *testing.T) {
	ctx := context.Background()
	d := NewMemoryDeployer("node1.example.com")

	local, err := d.DiscoverLocalState(ctx)
	require.NoError(t, err)
	assert.Empty(t, local.Running)

	app := model.NewApplication("web", "nginx:latest", nil, nil)
	node := model.NewNode("node1.example.com", []model.Application{app}, nil)
	desired := model.NewDeployment([]model.Node{node})

	change, err := d.CalculateNecessaryStateChanges(local, desired, model.Empty)
	require.NoError(t, err)
	require.NoError(t, change.Run(ctx, d))

	local, err = d.DiscoverLocalState(ctx)
	require.NoError(t, err)
	require.Len(t, local.Running, 1)
	assert.Equal(t, "web", local.Running[0].Name)
}

func TestMemoryDeployerCalculateChangesIsIdempotentOnceConverged(t *testing.T) {
	ctx := context.Background()
	d := NewMemoryDeployer("node1.example.com")

	app := model.NewApplication("web", "nginx:latest", nil, nil)
	node := model.NewNode("node1.example.com", []model.Application{app}, nil)
	desired := model.NewDeployment([]model.Node{node})

	local, err := d.DiscoverLocalState(ctx)
	require.NoError(t, err)
	change, err := d.CalculateNecessaryStateChanges(local, desired, model.Empty)
	require.NoError(t, err)
	require.NoError(t, change.Run(ctx, d))

	local, err = d.DiscoverLocalState(ctx)
	require.NoError(t, err)
	change, err = d.CalculateNecessaryStateChanges(local, desired, model.Empty)
	require.NoError(t, err)
	assert.Equal(t, NoOp, change)
}

func TestMemoryDeployerStopsApplicationNoLongerDesired(t *testing.T) {
	ctx := context.Background()
	d := NewMemoryDeployer("node1.example.com")
	require.NoError(t, d.StartApplication(ctx, model.NewApplication("web", "nginx:latest", nil, nil)))

	local, err := d.DiscoverLocalState(ctx)
	require.NoError(t, err)
	require.Len(t, local.Running, 1)

	change, err := d.CalculateNecessaryStateChanges(local, model.Empty, model.Empty)
	require.NoError(t, err)
	require.NoError(t, change.Run(ctx, d))

	local, err = d.DiscoverLocalState(ctx)
	require.NoError(t, err)
	assert.Empty(t, local.Running)
}

func TestMemoryDeployerEnsuresAndDestroysVolumes(t *testing.T) {
	ctx := context.Background()
	d := NewMemoryDeployer("node1.example.com")
	dataset := model.NewDataset("abc-123", nil, nil)
	manifestation := model.NewManifestation(dataset, true)

	require.NoError(t, d.EnsureVolume(ctx, manifestation))
	local, err := d.DiscoverLocalState(ctx)
	require.NoError(t, err)
	require.Len(t, local.OtherManifestations, 1)

	require.NoError(t, d.DestroyVolume(ctx, manifestation))
	local, err = d.DiscoverLocalState(ctx)
	require.NoError(t, err)
	assert.Empty(t, local.OtherManifestations)
}
