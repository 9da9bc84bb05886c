package httpapi

import "github.com/cuemby/nimbus/pkg/model"

// createDatasetRequest is the decoded body of POST /configuration/datasets.
type createDatasetRequest struct {
	Primary     string            `json:"primary"`
	DatasetID   *string           `json:"dataset_id,omitempty"`
	MaximumSize *uint64           `json:"maximum_size,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// datasetView is the canonicalized dataset object returned by both
// POST /configuration/datasets and GET /configuration/datasets, and the
// per-item shape of GET /state/datasets.
type datasetView struct {
	Primary     string            `json:"primary"`
	DatasetID   string            `json:"dataset_id"`
	Metadata    map[string]string `json:"metadata"`
	MaximumSize *uint64           `json:"maximum_size,omitempty"`
}

func newDatasetView(hostname string, m model.Manifestation) datasetView {
	metadata := m.Dataset.Metadata
	if metadata == nil {
		metadata = map[string]string{}
	}
	return datasetView{
		Primary:     hostname,
		DatasetID:   m.Dataset.DatasetID,
		Metadata:    metadata,
		MaximumSize: m.Dataset.MaximumSize,
	}
}

type versionResponse struct {
	Flocker string `json:"flocker"`
}
