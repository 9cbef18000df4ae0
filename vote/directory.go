package vote

import "github.com/mpcwallet/orchestrator/types"

// StaticDirectory is the simplest Directory: a fixed NodeId -> base-URL table built once at
// startup from config's NODE_ENDPOINTS (§6).
type StaticDirectory struct {
	endpoints map[types.NodeId]string
}

func NewStaticDirectory(endpoints map[types.NodeId]string) *StaticDirectory {
	cp := make(map[types.NodeId]string, len(endpoints))
	for k, v := range endpoints {
		cp[k] = v
	}
	return &StaticDirectory{endpoints: cp}
}

func (d *StaticDirectory) BaseURL(node types.NodeId) (string, bool) {
	url, ok := d.endpoints[node]
	return url, ok
}

func (d *StaticDirectory) Peers() []types.NodeId {
	out := make([]types.NodeId, 0, len(d.endpoints))
	for id := range d.endpoints {
		out = append(out, id)
	}
	return out
}
