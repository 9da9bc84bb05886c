package deployer

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/cuemby/nimbus/pkg/model"
)

// DefaultVolumesPath is the base directory ContainerdDeployer stores
// local dataset manifestations under.
const DefaultVolumesPath = "/var/lib/nimbus/volumes"

// VolumeBackend manages the local backing storage for a dataset
// manifestation. The only implementation in this package is a local
// bind-mount directory, mirroring cuemby-warren's LocalDriver
// (pkg/volume/local.go); a networked block/snapshot backend would
// satisfy the same interface.
type VolumeBackend interface {
	Ensure(manifestation model.Manifestation) (hostPath string, err error)
	Destroy(manifestation model.Manifestation) error
	HostPath(manifestation model.Manifestation) string
}

// LocalVolumeBackend stores every manifestation as a directory under
// basePath, named by dataset id.
type LocalVolumeBackend struct {
	basePath string
}

// NewLocalVolumeBackend builds a LocalVolumeBackend rooted at basePath,
// creating it if necessary. An empty basePath uses DefaultVolumesPath.
func NewLocalVolumeBackend(basePath string) (*LocalVolumeBackend, error) {
	if basePath == "" {
		basePath = DefaultVolumesPath
	}
	if err := os.MkdirAll(basePath, 0755); err != nil {
		return nil, fmt.Errorf("failed to create volumes directory: %w", err)
	}
	return &LocalVolumeBackend{basePath: basePath}, nil
}

func (b *LocalVolumeBackend) HostPath(manifestation model.Manifestation) string {
	return filepath.Join(b.basePath, manifestation.Dataset.DatasetID)
}

// Ensure creates the manifestation's directory if absent. Idempotent:
// MkdirAll is a no-op when the directory already exists.
func (b *LocalVolumeBackend) Ensure(manifestation model.Manifestation) (string, error) {
	path := b.HostPath(manifestation)
	if err := os.MkdirAll(path, 0755); err != nil {
		return "", fmt.Errorf("failed to create volume directory for dataset %q: %w", manifestation.Dataset.DatasetID, err)
	}
	return path, nil
}

// Destroy removes the manifestation's directory. Idempotent: removing
// an already-absent directory is not an error.
func (b *LocalVolumeBackend) Destroy(manifestation model.Manifestation) error {
	path := b.HostPath(manifestation)
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}
	if err := os.RemoveAll(path); err != nil {
		return fmt.Errorf("failed to remove volume directory for dataset %q: %w", manifestation.Dataset.DatasetID, err)
	}
	return nil
}
