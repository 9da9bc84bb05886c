package model

// NodeState is a point-in-time observation reported by a single node's
// convergence agent: which applications it found running and not
// running, plus any dataset manifestations not attached to an
// application.
type NodeState struct {
	Hostname            string          `json:"hostname"`
	Running             []Application   `json:"running"`
	NotRunning          []Application   `json:"not_running"`
	OtherManifestations []Manifestation `json:"other_manifestations"`
}

// NewNodeState builds a NodeState with its collections sorted into
// canonical order.
func NewNodeState(hostname string, running, notRunning []Application, otherManifestations []Manifestation) NodeState {
	return NodeState{
		Hostname:            hostname,
		Running:             sortApplications(running),
		NotRunning:          sortApplications(notRunning),
		OtherManifestations: sortManifestations(otherManifestations),
	}
}

// AsNode synthesizes the Node view of this report: Applications is the
// union of Running and NotRunning.
func (s NodeState) AsNode() Node {
	apps := make([]Application, 0, len(s.Running)+len(s.NotRunning))
	apps = append(apps, s.Running...)
	apps = append(apps, s.NotRunning...)
	return NewNode(s.Hostname, apps, s.OtherManifestations)
}
