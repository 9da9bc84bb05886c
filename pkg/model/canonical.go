package model

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
)

// MarshalCanonical encodes v (a Dataset, Manifestation, Node, NodeState,
// or Deployment built through this package's constructors) as the
// canonical JSON spec.md §6 describes: sets are arrays sorted by a
// stable key. Because every constructor in this package already stores
// its collections pre-sorted, canonical encoding is exactly the value's
// ordinary JSON encoding — no separate normalization pass is needed, and
// two values built from the same logical data always encode identically.
func MarshalCanonical(v any) ([]byte, error) {
	return json.Marshal(v)
}

// UnmarshalCanonical decodes a canonical encoding produced by
// MarshalCanonical. For Deployment and Node it re-sorts collections
// after decoding, since JSON does not preserve the ordering guarantee
// for encoders that did not use MarshalCanonical.
func UnmarshalCanonical(data []byte, v any) error {
	if err := json.Unmarshal(data, v); err != nil {
		return err
	}
	switch val := v.(type) {
	case *Deployment:
		*val = NewDeployment(val.Nodes)
	case *Node:
		*val = NewNode(val.Hostname, val.Applications, val.OtherManifestations)
	case *NodeState:
		*val = NewNodeState(val.Hostname, val.Running, val.NotRunning, val.OtherManifestations)
	}
	return nil
}

// Hash returns a stable content hash of v's canonical encoding, so two
// values can be compared structurally without relying on Go's map/slice
// identity.
func Hash(v any) (string, error) {
	data, err := MarshalCanonical(v)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}
