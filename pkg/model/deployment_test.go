package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeploymentUpdateNodeAppendsNewHostname(t *testing.T) {
	d := Empty
	n := NewNode("192.0.2.1", nil, nil)

	got := d.UpdateNode(n)

	require.Len(t, got.Nodes, 1)
	assert.Equal(t, "192.0.2.1", got.Nodes[0].Hostname)
	assert.Empty(t, d.Nodes, "original deployment must not be mutated")
}

func TestDeploymentUpdateNodeReplacesExistingHostname(t *testing.T) {
	dataset := NewDataset("dataset-1", nil, nil)
	d := NewDeployment([]Node{NewNode("192.0.2.1", nil, nil)})

	updated := NewNode("192.0.2.1", nil, []Manifestation{NewManifestation(dataset, true)})
	got := d.UpdateNode(updated)

	require.Len(t, got.Nodes, 1)
	assert.Len(t, got.Nodes[0].OtherManifestations, 1)
}

func TestHasDatasetIDCaseInsensitive(t *testing.T) {
	dataset := NewDataset("MyDataset", nil, nil)
	d := NewDeployment([]Node{
		NewNode("192.0.2.1", nil, []Manifestation{NewManifestation(dataset, true)}),
	})

	assert.True(t, d.HasDatasetIDCaseInsensitive("mydataset"))
	assert.True(t, d.HasDatasetIDCaseInsensitive("MYDATASET"))
	assert.False(t, d.HasDatasetIDCaseInsensitive("other"))
}

func TestPrimaryManifestationsExcludesReplicas(t *testing.T) {
	primary := NewManifestation(NewDataset("d1", nil, nil), true)
	replica := NewManifestation(NewDataset("d2", nil, nil), false)
	d := NewDeployment([]Node{
		NewNode("node-a", nil, []Manifestation{primary, replica}),
	})

	got := d.PrimaryManifestations()

	require.Len(t, got, 1)
	assert.Equal(t, "d1", got[0].Dataset.DatasetID)
}

func TestValidateRejectsDuplicatePrimaries(t *testing.T) {
	dataset := NewDataset("shared", nil, nil)
	d := NewDeployment([]Node{
		NewNode("node-a", nil, []Manifestation{NewManifestation(dataset, true)}),
		NewNode("node-b", nil, []Manifestation{NewManifestation(dataset, true)}),
	})

	err := d.Validate()

	require.Error(t, err)
	var verr *ValidationError
	assert.ErrorAs(t, err, &verr)
}

func TestValidateAcceptsSinglePrimaryWithReplicas(t *testing.T) {
	dataset := NewDataset("shared", nil, nil)
	d := NewDeployment([]Node{
		NewNode("node-a", nil, []Manifestation{NewManifestation(dataset, true)}),
		NewNode("node-b", nil, []Manifestation{NewManifestation(dataset, false)}),
	})

	assert.NoError(t, d.Validate())
}

func TestCanonicalRoundTrip(t *testing.T) {
	maxSize := uint64(1024)
	dataset := NewDataset("round-trip", &maxSize, map[string]string{"owner": "ops"})
	node := NewNode("192.0.2.9", nil, []Manifestation{NewManifestation(dataset, true)})
	d := NewDeployment([]Node{node})

	data, err := MarshalCanonical(d)
	require.NoError(t, err)

	var decoded Deployment
	require.NoError(t, UnmarshalCanonical(data, &decoded))

	assert.Equal(t, d, decoded)
}

func TestNodeManifestationsUnionsOtherAndAttached(t *testing.T) {
	attachedDataset := NewDataset("attached", nil, nil)
	otherDataset := NewDataset("other", nil, nil)
	volume := &AttachedVolume{
		Manifestation: NewManifestation(attachedDataset, true),
		MountPoint:    "/data",
	}
	app := NewApplication("web", "nginx:latest", volume, nil)
	node := NewNode("192.0.2.5", []Application{app}, []Manifestation{NewManifestation(otherDataset, true)})

	got := node.Manifestations()

	require.Len(t, got, 2)
	assert.Equal(t, "attached", got[0].Dataset.DatasetID)
	assert.Equal(t, "other", got[1].Dataset.DatasetID)
}
