package model

import "sort"

// Node is a host in the cluster, identified within a Deployment by
// Hostname. Applications and OtherManifestations are sets: Applications
// is keyed by application name, OtherManifestations by dataset ID.
type Node struct {
	Hostname             string          `json:"hostname"`
	Applications         []Application   `json:"applications"`
	OtherManifestations  []Manifestation `json:"other_manifestations"`
}

// NewNode builds a Node with its collections sorted into canonical order.
func NewNode(hostname string, applications []Application, otherManifestations []Manifestation) Node {
	return Node{
		Hostname:            hostname,
		Applications:        sortApplications(applications),
		OtherManifestations: sortManifestations(otherManifestations),
	}
}

// Manifestations returns the union of OtherManifestations and the
// manifestations reachable through each Application's attached volume.
// It is always computed, never stored.
func (n Node) Manifestations() []Manifestation {
	seen := make(map[string]struct{}, len(n.OtherManifestations)+len(n.Applications))
	var out []Manifestation
	for _, m := range n.OtherManifestations {
		if _, ok := seen[m.Dataset.DatasetID]; ok {
			continue
		}
		seen[m.Dataset.DatasetID] = struct{}{}
		out = append(out, m)
	}
	for _, app := range n.Applications {
		m, ok := app.Manifestation()
		if !ok {
			continue
		}
		if _, ok := seen[m.Dataset.DatasetID]; ok {
			continue
		}
		seen[m.Dataset.DatasetID] = struct{}{}
		out = append(out, m)
	}
	return sortManifestations(out)
}

// WithOtherManifestation returns a copy of n with manifestation added to
// (or replacing an existing entry in) OtherManifestations.
func (n Node) WithOtherManifestation(manifestation Manifestation) Node {
	replaced := false
	next := make([]Manifestation, 0, len(n.OtherManifestations)+1)
	for _, m := range n.OtherManifestations {
		if m.Dataset.DatasetID == manifestation.Dataset.DatasetID {
			next = append(next, manifestation)
			replaced = true
			continue
		}
		next = append(next, m)
	}
	if !replaced {
		next = append(next, manifestation)
	}
	return NewNode(n.Hostname, n.Applications, next)
}

// WithoutManifestation returns a copy of n with any manifestation for
// datasetID removed from OtherManifestations (applications keep whatever
// volumes they already had; removing a dataset out from under a running
// application is a configuration error the caller must avoid).
func (n Node) WithoutManifestation(datasetID string) Node {
	next := make([]Manifestation, 0, len(n.OtherManifestations))
	for _, m := range n.OtherManifestations {
		if m.Dataset.DatasetID == datasetID {
			continue
		}
		next = append(next, m)
	}
	return NewNode(n.Hostname, n.Applications, next)
}

func sortNodes(nodes []Node) []Node {
	out := append([]Node(nil), nodes...)
	sort.Slice(out, func(i, j int) bool { return out[i].Hostname < out[j].Hostname })
	return out
}
