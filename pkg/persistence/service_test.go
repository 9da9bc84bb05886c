package persistence

import (
	"context"
	"testing"

	"github.com/cuemby/nimbus/pkg/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestService(t *testing.T) *Service {
	t.Helper()
	dir := t.TempDir()
	svc, err := Open(dir)
	require.NoError(t, err)
	t.Cleanup(func() { _ = svc.Close() })
	return svc
}

func TestOpenStartsEmpty(t *testing.T) {
	svc := openTestService(t)
	assert.Equal(t, model.Empty, svc.Get())
}

func TestSaveThenGetReturnsLatest(t *testing.T) {
	svc := openTestService(t)
	d := model.NewDeployment([]model.Node{model.NewNode("192.0.2.1", nil, nil)})

	require.NoError(t, svc.Save(context.Background(), d))

	assert.Equal(t, d, svc.Get())
}

func TestSaveSurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	svc, err := Open(dir)
	require.NoError(t, err)

	d := model.NewDeployment([]model.Node{model.NewNode("192.0.2.2", nil, nil)})
	require.NoError(t, svc.Save(context.Background(), d))
	require.NoError(t, svc.Close())

	reopened, err := Open(dir)
	require.NoError(t, err)
	defer reopened.Close()

	assert.Equal(t, d, reopened.Get())
}

func TestSaveNotifiesListenersInRegistrationOrder(t *testing.T) {
	svc := openTestService(t)

	var order []int
	svc.RegisterListener(func(model.Deployment) { order = append(order, 1) })
	svc.RegisterListener(func(model.Deployment) { order = append(order, 2) })
	svc.RegisterListener(func(model.Deployment) { order = append(order, 3) })

	require.NoError(t, svc.Save(context.Background(), model.Empty))

	assert.Equal(t, []int{1, 2, 3}, order)
}

func TestCancelledListenerIsNotCalled(t *testing.T) {
	svc := openTestService(t)

	called := false
	handle := svc.RegisterListener(func(model.Deployment) { called = true })
	handle.Cancel()

	require.NoError(t, svc.Save(context.Background(), model.Empty))

	assert.False(t, called)
}

func TestSaveRejectsInvalidDeployment(t *testing.T) {
	svc := openTestService(t)
	dataset := model.NewDataset("dup", nil, nil)
	invalid := model.NewDeployment([]model.Node{
		model.NewNode("node-a", nil, []model.Manifestation{model.NewManifestation(dataset, true)}),
		model.NewNode("node-b", nil, []model.Manifestation{model.NewManifestation(dataset, true)}),
	})

	err := svc.Save(context.Background(), invalid)

	require.Error(t, err)
	var verr *model.ValidationError
	assert.ErrorAs(t, err, &verr)
	assert.Equal(t, model.Empty, svc.Get(), "rejected save must not change the cached value")
}

func TestSequentialSavesApplyInSubmissionOrder(t *testing.T) {
	svc := openTestService(t)

	for i := 0; i < 10; i++ {
		hostname := "node"
		if i%2 == 0 {
			hostname = "192.0.2.1"
		} else {
			hostname = "192.0.2.2"
		}
		d := model.NewDeployment([]model.Node{model.NewNode(hostname, nil, nil)})
		require.NoError(t, svc.Save(context.Background(), d))
	}

	got := svc.Get()
	require.Len(t, got.Nodes, 1)
	assert.Equal(t, "192.0.2.2", got.Nodes[0].Hostname)
}
