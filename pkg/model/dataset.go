package model

import "sort"

// Dataset is a logical data volume, identified cluster-wide by DatasetID.
// Equality between datasets is always case-sensitive; uniqueness across a
// Deployment is enforced case-insensitively by the callers that mutate
// configuration (see pkg/httpapi), never by Dataset itself.
type Dataset struct {
	DatasetID   string            `json:"dataset_id"`
	MaximumSize *uint64           `json:"maximum_size,omitempty"`
	Metadata    map[string]string `json:"metadata"`
}

// NewDataset returns a Dataset with a defensive copy of metadata so the
// caller's map can't later mutate the value.
func NewDataset(datasetID string, maximumSize *uint64, metadata map[string]string) Dataset {
	return Dataset{
		DatasetID:   datasetID,
		MaximumSize: maximumSize,
		Metadata:    copyMetadata(metadata),
	}
}

func copyMetadata(m map[string]string) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// Manifestation is a copy of a Dataset stored on a specific node. Primary
// is true iff the node holding this Manifestation is the authoritative
// holder of the dataset.
type Manifestation struct {
	Dataset Dataset `json:"dataset"`
	Primary bool    `json:"primary"`
}

// NewManifestation builds a primary or replica Manifestation of dataset.
func NewManifestation(dataset Dataset, primary bool) Manifestation {
	return Manifestation{Dataset: dataset, Primary: primary}
}

// AttachedVolume pairs a Manifestation with the path an Application mounts
// it at inside its container.
type AttachedVolume struct {
	Manifestation Manifestation `json:"manifestation"`
	MountPoint    string        `json:"mountpoint"`
}

func sortManifestations(ms []Manifestation) []Manifestation {
	out := append([]Manifestation(nil), ms...)
	sort.Slice(out, func(i, j int) bool {
		return out[i].Dataset.DatasetID < out[j].Dataset.DatasetID
	})
	return out
}
