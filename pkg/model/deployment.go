package model

import (
	"fmt"
	"strings"
)

// Deployment is the whole cluster: a set of Nodes keyed by Hostname.
type Deployment struct {
	Nodes []Node `json:"nodes"`
}

// Empty is the Deployment a fresh control service or cluster-state
// service starts with.
var Empty = Deployment{}

// NewDeployment builds a Deployment with its Nodes sorted into
// canonical order.
func NewDeployment(nodes []Node) Deployment {
	return Deployment{Nodes: sortNodes(nodes)}
}

// Node returns the node with the given hostname, if present.
func (d Deployment) Node(hostname string) (Node, bool) {
	for _, n := range d.Nodes {
		if n.Hostname == hostname {
			return n, true
		}
	}
	return Node{}, false
}

// UpdateNode returns a copy of d with node replacing any existing node of
// the same hostname, or appended if the hostname is new. It never
// mutates d or node.
func (d Deployment) UpdateNode(node Node) Deployment {
	replaced := false
	next := make([]Node, 0, len(d.Nodes)+1)
	for _, n := range d.Nodes {
		if n.Hostname == node.Hostname {
			next = append(next, node)
			replaced = true
			continue
		}
		next = append(next, n)
	}
	if !replaced {
		next = append(next, node)
	}
	return NewDeployment(next)
}

// Manifestations returns every Manifestation across every node, in
// canonical order.
func (d Deployment) Manifestations() []Manifestation {
	var out []Manifestation
	for _, n := range d.Nodes {
		out = append(out, n.Manifestations()...)
	}
	return sortManifestations(out)
}

// PrimaryManifestations returns every Manifestation across every node
// whose Primary flag is set.
func (d Deployment) PrimaryManifestations() []Manifestation {
	var out []Manifestation
	for _, m := range d.Manifestations() {
		if m.Primary {
			out = append(out, m)
		}
	}
	return out
}

// HasDatasetIDCaseInsensitive reports whether any Manifestation in d has
// a DatasetID equal to datasetID under ASCII case-insensitive comparison
// (spec.md §4.4 validation rule 2, §8 invariant 4).
func (d Deployment) HasDatasetIDCaseInsensitive(datasetID string) bool {
	want := strings.ToLower(datasetID)
	for _, m := range d.Manifestations() {
		if strings.ToLower(m.Dataset.DatasetID) == want {
			return true
		}
	}
	return false
}

// Validate checks the invariants spec.md §3 assigns to Deployment: at
// most one Manifestation per dataset per node, and at most one primary
// Manifestation per dataset across the whole deployment. (Exactly one
// primary per *configured* dataset is enforced by the mutation that adds
// a dataset, not by Validate, since a Deployment mid-reconfiguration may
// legitimately describe a dataset with zero manifestations nowhere yet.)
func (d Deployment) Validate() error {
	primaryOwner := make(map[string]string) // dataset id (lowercased) -> hostname
	for _, n := range d.Nodes {
		seen := make(map[string]struct{})
		// Walk the raw collections rather than n.Manifestations(), which
		// merges exact duplicates and would hide them from this check.
		all := append([]Manifestation(nil), n.OtherManifestations...)
		for _, app := range n.Applications {
			if m, ok := app.Manifestation(); ok {
				all = append(all, m)
			}
		}
		for _, m := range all {
			key := strings.ToLower(m.Dataset.DatasetID)
			if _, dup := seen[key]; dup {
				return &ValidationError{Message: fmt.Sprintf(
					"node %q has more than one manifestation of dataset %q", n.Hostname, m.Dataset.DatasetID)}
			}
			seen[key] = struct{}{}
			if !m.Primary {
				continue
			}
			if owner, ok := primaryOwner[key]; ok && owner != n.Hostname {
				return &ValidationError{Message: fmt.Sprintf(
					"dataset %q has primary manifestations on both %q and %q", m.Dataset.DatasetID, owner, n.Hostname)}
			}
			primaryOwner[key] = n.Hostname
		}
	}
	return nil
}
