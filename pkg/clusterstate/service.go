package clusterstate

import (
	"sync"

	"github.com/cuemby/nimbus/pkg/metrics"
	"github.com/cuemby/nimbus/pkg/model"
)

// Service holds the latest reported NodeState per hostname.
type Service struct {
	mu    sync.RWMutex
	nodes map[string]model.NodeState
}

// New returns an empty Service.
func New() *Service {
	return &Service{nodes: make(map[string]model.NodeState)}
}

// UpdateNodeState stores state keyed by its hostname. If a report for
// that hostname already exists, it is replaced — the later arrival
// always wins, regardless of any timestamp embedded in the report.
func (s *Service) UpdateNodeState(state model.NodeState) {
	s.mu.Lock()
	s.nodes[state.Hostname] = state
	count := len(s.nodes)
	s.mu.Unlock()

	metrics.ClusterStateUpdatesTotal.Inc()
	metrics.ClusterStateKnownNodes.Set(float64(count))
}

// AsDeployment synthesizes a Deployment whose nodes combine each held
// NodeState's OtherManifestations with the union of Running and
// NotRunning applications. It returns an empty Deployment when no
// reports are held.
func (s *Service) AsDeployment() model.Deployment {
	s.mu.RLock()
	defer s.mu.RUnlock()

	nodes := make([]model.Node, 0, len(s.nodes))
	for _, state := range s.nodes {
		nodes = append(nodes, state.AsNode())
	}
	return model.NewDeployment(nodes)
}
