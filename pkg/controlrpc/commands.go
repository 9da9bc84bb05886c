package controlrpc

import (
	"encoding/json"
	"fmt"

	"github.com/cuemby/nimbus/pkg/model"
)

// commandTag identifies the wire shape of a frame's body (spec.md §4.5).
type commandTag byte

const (
	tagNodeState     commandTag = 1
	tagClusterStatus commandTag = 2
	tagAck           commandTag = 3
)

// Command is anything that can travel over a controlrpc connection.
type Command interface {
	tag() commandTag
}

// NodeStateCommand is sent agent -> control service: "here is what is
// actually running on my node right now."
type NodeStateCommand struct {
	State model.NodeState
}

func (NodeStateCommand) tag() commandTag { return tagNodeState }

// ClusterStatusCommand is pushed control service -> agent whenever the
// desired Configuration or the aggregated cluster State changes.
// Configuration is the desired Deployment (pkg/persistence); State is the
// control service's best knowledge of the actual cluster (pkg/clusterstate).
type ClusterStatusCommand struct {
	Configuration model.Deployment
	State         model.Deployment
}

func (ClusterStatusCommand) tag() commandTag { return tagClusterStatus }

// ackCommand acknowledges receipt of a NodeStateCommand; the server
// sends it after applying each report. ClusterStatusCommand pushes are
// not acknowledged. It carries no payload.
type ackCommand struct{}

func (ackCommand) tag() commandTag { return tagAck }

func encodeCommand(cmd Command) (frame, error) {
	var body []byte
	var err error
	switch c := cmd.(type) {
	case NodeStateCommand:
		body, err = json.Marshal(c)
	case ClusterStatusCommand:
		body, err = json.Marshal(c)
	case ackCommand:
		body = []byte("{}")
	default:
		return frame{}, fmt.Errorf("controlrpc: unknown command type %T", cmd)
	}
	if err != nil {
		return frame{}, fmt.Errorf("encode %T: %w", cmd, err)
	}
	return frame{tag: cmd.tag(), body: body}, nil
}

func decodeCommand(f frame) (Command, error) {
	switch f.tag {
	case tagNodeState:
		var c NodeStateCommand
		if err := json.Unmarshal(f.body, &c); err != nil {
			return nil, fmt.Errorf("decode NodeStateCommand: %w", err)
		}
		return c, nil
	case tagClusterStatus:
		var c ClusterStatusCommand
		if err := json.Unmarshal(f.body, &c); err != nil {
			return nil, fmt.Errorf("decode ClusterStatusCommand: %w", err)
		}
		return c, nil
	case tagAck:
		return ackCommand{}, nil
	default:
		return nil, fmt.Errorf("controlrpc: unknown command tag %d", f.tag)
	}
}
