package universe

// NodeID identifies a node for the lifetime of the process. Ids of destroyed
// nodes are handed out again by Graph.NewNode.
type NodeID int64

const (
	// None is the parent of a destroyed (or never attached) node.
	None NodeID = -1
	// RootID is the first id minted by a graph.
	RootID NodeID = 0
)

// Position is a 2D offset in meters from the center of the parent node.
// World tiles are 2x2 meters.
type Position struct {
	North float64 `msgpack:"north" json:"north"`
	East  float64 `msgpack:"east" json:"east"`
}
