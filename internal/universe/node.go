package universe

import (
	"iter"
	"maps"
	"slices"
)

// Node is one entity in the graph. A node without a parent is destroyed;
// its record stays in the graph for id reuse.
type Node struct {
	g        *Graph
	id       NodeID
	parent   NodeID
	position Position
	children map[NodeID]struct{}
	free     bool
}

func (n *Node) ID() NodeID {
	return n.id
}

// ParentID returns None for a destroyed node.
func (n *Node) ParentID() NodeID {
	return n.parent
}

// Parent returns nil for a destroyed node.
func (n *Node) Parent() *Node {
	if n.parent == None {
		return nil
	}
	return n.g.Node(n.parent)
}

func (n *Node) Position() Position {
	return n.position
}

// Live reports whether the node is attached to a parent.
func (n *Node) Live() bool {
	return n.parent != None
}

func (n *Node) HasChild(id NodeID) bool {
	_, ok := n.children[id]
	return ok
}

// Children yields the current children in ascending id order. The id set is
// captured when iteration starts; mutating this subtree from inside the loop
// yields nodes whose links may already have changed.
func (n *Node) Children() iter.Seq[*Node] {
	ids := n.childIDs()
	return func(yield func(*Node) bool) {
		for _, id := range ids {
			child, ok := n.g.nodes[id]
			if !ok {
				continue
			}
			if !yield(child) {
				return
			}
		}
	}
}

// SetParent attaches the node under parent, or destroys it and its whole
// subtree when parent is None.
func (n *Node) SetParent(parent NodeID) error {
	return n.g.setParent(n, parent, nil)
}

// SetParentAt attaches the node under parent at pos.
func (n *Node) SetParentAt(parent NodeID, pos Position) error {
	return n.g.setParent(n, parent, &pos)
}

func (n *Node) Destroy() error {
	return n.g.setParent(n, None, nil)
}

// SetPosition moves an attached node. It is a no-op for destroyed nodes.
func (n *Node) SetPosition(pos Position) error {
	return n.g.setPosition(n, pos)
}

func (n *Node) childIDs() []NodeID {
	return slices.Sorted(maps.Keys(n.children))
}
