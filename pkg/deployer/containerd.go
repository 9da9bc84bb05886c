package deployer

import (
	"context"
	"fmt"
	"syscall"
	"time"

	"github.com/containerd/containerd"
	"github.com/containerd/containerd/cio"
	"github.com/containerd/containerd/namespaces"
	"github.com/containerd/containerd/oci"
	specs "github.com/opencontainers/runtime-spec/specs-go"

	"github.com/cuemby/nimbus/pkg/log"
	"github.com/cuemby/nimbus/pkg/model"
)

const (
	// DefaultNamespace is the containerd namespace nimbus-agent uses for
	// everything it manages, isolating it from other containerd clients
	// on the same host.
	DefaultNamespace = "nimbus"

	// DefaultSocketPath is the default containerd socket location.
	DefaultSocketPath = "/run/containerd/containerd.sock"

	stopGracePeriod = 10 * time.Second
)

// ContainerdDeployer is the production Deployer: it discovers and
// converges local state against a real containerd daemon, adapted from
// cuemby-warren's ContainerdRuntime (pkg/runtime/containerd.go) and its
// container lifecycle calls in pkg/worker/worker.go.
type ContainerdDeployer struct {
	Hostname string

	client    *containerd.Client
	namespace string
	volumes   VolumeBackend
}

// NewContainerdDeployer connects to containerd at socketPath (empty
// uses DefaultSocketPath) and stores dataset manifestations under
// volumesPath (empty uses DefaultVolumesPath).
func NewContainerdDeployer(hostname, socketPath, volumesPath string) (*ContainerdDeployer, error) {
	if socketPath == "" {
		socketPath = DefaultSocketPath
	}
	client, err := containerd.New(socketPath)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to containerd at %s: %w", socketPath, err)
	}

	volumes, err := NewLocalVolumeBackend(volumesPath)
	if err != nil {
		_ = client.Close()
		return nil, err
	}

	return &ContainerdDeployer{
		Hostname:  hostname,
		client:    client,
		namespace: DefaultNamespace,
		volumes:   volumes,
	}, nil
}

// Close releases the containerd client connection.
func (d *ContainerdDeployer) Close() error {
	return d.client.Close()
}

func (d *ContainerdDeployer) ctx(ctx context.Context) context.Context {
	return namespaces.WithNamespace(ctx, d.namespace)
}

// DiscoverLocalState lists every container in the nimbus namespace and
// reports it as running iff it has an active task.
func (d *ContainerdDeployer) DiscoverLocalState(ctx context.Context) (model.NodeState, error) {
	ctx = d.ctx(ctx)

	containers, err := d.client.Containers(ctx)
	if err != nil {
		return model.NodeState{}, &model.DeployerError{Op: "discover_local_state", Cause: err}
	}

	var running, notRunning []model.Application
	for _, c := range containers {
		info, err := c.Info(ctx)
		if err != nil {
			log.WithComponent("deployer").Warn().Err(err).Str("container", c.ID()).Msg("failed to load container info")
			continue
		}
		app := model.NewApplication(c.ID(), info.Image, nil, nil)

		task, err := c.Task(ctx, nil)
		if err != nil {
			notRunning = append(notRunning, app)
			continue
		}
		status, err := task.Status(ctx)
		if err != nil || status.Status != containerd.Running {
			notRunning = append(notRunning, app)
			continue
		}
		running = append(running, app)
	}

	return model.NewNodeState(d.Hostname, running, notRunning, nil), nil
}

// CalculateNecessaryStateChanges delegates to the shared diff logic so
// ContainerdDeployer and MemoryDeployer agree on what "converged" means.
func (d *ContainerdDeployer) CalculateNecessaryStateChanges(local model.NodeState, desired, cluster model.Deployment) (StateChange, error) {
	return CalculateChanges(d.Hostname, local, desired, cluster), nil
}

// StartApplication pulls the application's image, creates a container
// with its volume (if any) bind-mounted in, and starts its task.
func (d *ContainerdDeployer) StartApplication(ctx context.Context, app model.Application) error {
	ctx = d.ctx(ctx)

	image, err := d.client.Pull(ctx, app.Image, containerd.WithPullUnpack)
	if err != nil {
		return &model.DeployerError{Op: "pull_image", Cause: fmt.Errorf("%s: %w", app.Image, err)}
	}

	opts := []oci.SpecOpts{oci.WithImageConfig(image)}
	if m, ok := app.Manifestation(); ok {
		hostPath, err := d.volumes.Ensure(m)
		if err != nil {
			return &model.DeployerError{Op: "ensure_volume", Cause: err}
		}
		opts = append(opts, oci.WithMounts([]specs.Mount{{
			Source:      hostPath,
			Destination: app.Volume.MountPoint,
			Type:        "bind",
			Options:     []string{"rbind", "rw"},
		}}))
	}

	container, err := d.client.NewContainer(
		ctx,
		app.Name,
		containerd.WithImage(image),
		containerd.WithNewSnapshot(app.Name+"-snapshot", image),
		containerd.WithNewSpec(opts...),
	)
	if err != nil {
		return &model.DeployerError{Op: "create_container", Cause: err}
	}

	task, err := container.NewTask(ctx, cio.NullIO)
	if err != nil {
		return &model.DeployerError{Op: "create_task", Cause: err}
	}
	if err := task.Start(ctx); err != nil {
		return &model.DeployerError{Op: "start_task", Cause: err}
	}
	return nil
}

// StopApplication gracefully stops and deletes the application's
// container. A missing container is treated as already-stopped, making
// this idempotent.
func (d *ContainerdDeployer) StopApplication(ctx context.Context, app model.Application) error {
	ctx = d.ctx(ctx)

	container, err := d.client.LoadContainer(ctx, app.Name)
	if err != nil {
		return nil
	}

	if task, err := container.Task(ctx, nil); err == nil {
		stopCtx, cancel := context.WithTimeout(ctx, stopGracePeriod)
		defer cancel()

		statusC, waitErr := task.Wait(stopCtx)
		if killErr := task.Kill(stopCtx, syscall.SIGTERM); killErr != nil && waitErr == nil {
			return &model.DeployerError{Op: "stop_application", Cause: killErr}
		}
		if waitErr == nil {
			select {
			case <-statusC:
			case <-stopCtx.Done():
				_ = task.Kill(ctx, syscall.SIGKILL)
			}
		}
		_, _ = task.Delete(ctx)
	}

	if err := container.Delete(ctx, containerd.WithSnapshotCleanup); err != nil {
		return &model.DeployerError{Op: "delete_container", Cause: err}
	}
	return nil
}

// EnsureVolume creates the manifestation's backing directory if absent.
func (d *ContainerdDeployer) EnsureVolume(ctx context.Context, manifestation model.Manifestation) error {
	_, err := d.volumes.Ensure(manifestation)
	if err != nil {
		return &model.DeployerError{Op: "ensure_volume", Cause: err}
	}
	return nil
}

// DestroyVolume removes the manifestation's backing directory.
func (d *ContainerdDeployer) DestroyVolume(ctx context.Context, manifestation model.Manifestation) error {
	if err := d.volumes.Destroy(manifestation); err != nil {
		return &model.DeployerError{Op: "destroy_volume", Cause: err}
	}
	return nil
}
