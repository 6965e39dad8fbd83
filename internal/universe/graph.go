package universe

import (
	"errors"
	"fmt"
	"maps"
	"slices"

	logs "github.com/danmuck/universe/internal/logging"
)

var (
	ErrUnauthorized  = errors.New("universe: mutation not allowed")
	ErrCycle         = errors.New("universe: node cannot become its own ancestor")
	ErrInvalidNodeID = errors.New("universe: invalid node id")
	ErrNotApplicable = errors.New("universe: fact does not mutate the graph")
)

// Emitter receives the facts a graph produces.
type Emitter interface {
	Emit(Fact) error
}

// EmitterFunc adapts a function to Emitter.
type EmitterFunc func(Fact) error

func (f EmitterFunc) Emit(fact Fact) error { return f(fact) }

type GraphOption func(*Graph)

// Strict makes unauthorized mutations return ErrUnauthorized instead of
// being ignored.
func Strict(strict bool) GraphOption {
	return func(g *Graph) { g.strict = strict }
}

type freeEntry struct {
	id   NodeID
	next *freeEntry
}

// Graph is a forest of nodes with parent/child links and positions.
type Graph struct {
	emit   Emitter
	auth   Authority
	strict bool

	nodes map[NodeID]*Node
	free  *freeEntry
	next  NodeID
}

func NewGraph(emit Emitter, auth Authority, opts ...GraphOption) *Graph {
	if emit == nil {
		emit = EmitterFunc(func(Fact) error { return nil })
	}
	if auth == nil {
		auth = NewScoped()
	}
	g := &Graph{
		emit:  emit,
		auth:  auth,
		nodes: make(map[NodeID]*Node),
		next:  RootID,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Node returns the node bound to id, creating it when unknown. Passing None
// is the same as NewNode.
func (g *Graph) Node(id NodeID) *Node {
	if id == None {
		return g.NewNode()
	}
	if n, ok := g.nodes[id]; ok {
		return n
	}
	return g.create(id)
}

// NewNode returns a previously destroyed node when one is available, or a
// node with a freshly minted id. Without authority neither the free list nor
// the id counter moves: the candidate is returned but stays unclaimed.
func (g *Graph) NewNode() *Node {
	if !g.auth.Held() {
		return g.peekNode()
	}
	for g.free != nil {
		entry := g.free
		g.free = entry.next
		n, ok := g.nodes[entry.id]
		// Entries go stale when a destroyed node is attached again.
		if !ok || !n.free {
			continue
		}
		n.free = false
		return n
	}
	for {
		id := g.next
		g.next++
		if _, exists := g.nodes[id]; !exists {
			return g.create(id)
		}
	}
}

func (g *Graph) peekNode() *Node {
	for e := g.free; e != nil; e = e.next {
		if n, ok := g.nodes[e.id]; ok && n.free {
			logs.Debugf("universe.Graph.NewNode unclaimed node=%d", n.id)
			return n
		}
	}
	id := g.next
	for {
		if _, exists := g.nodes[id]; !exists {
			break
		}
		id++
	}
	logs.Debugf("universe.Graph.NewNode unclaimed node=%d", id)
	return &Node{g: g, id: id, parent: None, children: make(map[NodeID]struct{})}
}

func (g *Graph) Lookup(id NodeID) (*Node, bool) {
	n, ok := g.nodes[id]
	return n, ok
}

func (g *Graph) Len() int {
	return len(g.nodes)
}

// Live returns the ids of nodes that currently have a parent, ascending.
func (g *Graph) Live() []NodeID {
	out := make([]NodeID, 0, len(g.nodes))
	for id, n := range g.nodes {
		if n.parent != None {
			out = append(out, id)
		}
	}
	slices.Sort(out)
	return out
}

// Apply mutates the graph from a replicated fact, holding scoped authority
// for the duration of the call. It is the only way into a mirror's mutators.
func (g *Graph) Apply(f Fact) error {
	if scoped, ok := g.auth.(*Scoped); ok {
		release := scoped.acquire()
		defer release()
	}
	switch v := f.(type) {
	case NodeParent:
		if v.NodeID < 0 {
			return fmt.Errorf("%w: %d", ErrInvalidNodeID, v.NodeID)
		}
		n := g.Node(v.NodeID)
		if v.Position != nil {
			return n.SetParentAt(v.ParentID, *v.Position)
		}
		return n.SetParent(v.ParentID)
	case NodePosition:
		if v.NodeID < 0 {
			return fmt.Errorf("%w: %d", ErrInvalidNodeID, v.NodeID)
		}
		return g.Node(v.NodeID).SetPosition(v.Position)
	default:
		return fmt.Errorf("%w: %s", ErrNotApplicable, f.EventName())
	}
}

func (g *Graph) create(id NodeID) *Node {
	n := &Node{
		g:        g,
		id:       id,
		parent:   None,
		children: make(map[NodeID]struct{}),
	}
	g.nodes[id] = n
	return n
}

func (g *Graph) authorize(op string, id NodeID) (bool, error) {
	if g.auth.Held() {
		return true, nil
	}
	if g.strict {
		return false, fmt.Errorf("%w: %s node=%d", ErrUnauthorized, op, id)
	}
	logs.Debugf("universe.Graph.authorize ignored op=%s node=%d", op, id)
	return false, nil
}

func (g *Graph) setParent(n *Node, parent NodeID, pos *Position) error {
	if ok, err := g.authorize("setParent", n.id); !ok {
		return err
	}
	if parent == n.parent {
		return nil
	}
	if parent < None {
		return fmt.Errorf("%w: parent=%d", ErrInvalidNodeID, parent)
	}
	if parent != None && g.wouldCycle(n.id, parent) {
		return fmt.Errorf("%w: node=%d parent=%d", ErrCycle, n.id, parent)
	}

	var errs []error
	if parent == None {
		// Destroy the subtree bottom-up before this node lets go of its parent.
		for _, childID := range n.childIDs() {
			if child, ok := g.nodes[childID]; ok {
				errs = append(errs, g.setParent(child, None, nil))
			}
		}
	}

	if n.parent != None {
		old := g.Node(n.parent)
		delete(old.children, n.id)
		errs = append(errs, g.emit.Emit(NodeChildRemoved{NodeID: old.id, ChildID: n.id}))
	}

	n.parent = parent
	fact := NodeParent{NodeID: n.id, ParentID: parent}
	if parent == None {
		n.position = Position{}
		g.release(n)
	} else {
		n.free = false
		if pos != nil {
			n.position = *pos
			p := *pos
			fact.Position = &p
		}
		g.Node(parent).children[n.id] = struct{}{}
		errs = append(errs, g.emit.Emit(NodeChildAdded{NodeID: parent, ChildID: n.id}))
	}
	errs = append(errs, g.emit.Emit(fact))
	return errors.Join(errs...)
}

func (g *Graph) setPosition(n *Node, pos Position) error {
	if ok, err := g.authorize("setPosition", n.id); !ok {
		return err
	}
	if n.parent == None {
		return nil
	}
	n.position = pos
	return g.emit.Emit(NodePosition{NodeID: n.id, Position: pos})
}

// wouldCycle reports whether attaching id under parent makes id its own ancestor.
func (g *Graph) wouldCycle(id, parent NodeID) bool {
	seen := make(map[NodeID]struct{})
	for cur := parent; cur != None; {
		if cur == id {
			return true
		}
		if _, dup := seen[cur]; dup {
			return true
		}
		seen[cur] = struct{}{}
		n, ok := g.nodes[cur]
		if !ok {
			return false
		}
		cur = n.parent
	}
	return false
}

func (g *Graph) release(n *Node) {
	if n.free {
		return
	}
	n.free = true
	g.free = &freeEntry{id: n.id, next: g.free}
}

// NodeState is a point-in-time copy of one node.
type NodeState struct {
	ID       NodeID   `json:"id"`
	ParentID NodeID   `json:"parent_id"`
	Position Position `json:"position"`
	Children []NodeID `json:"children"`
}

// Snapshot copies every known node, ascending by id.
func (g *Graph) Snapshot() []NodeState {
	ids := slices.Sorted(maps.Keys(g.nodes))
	out := make([]NodeState, 0, len(ids))
	for _, id := range ids {
		n := g.nodes[id]
		out = append(out, NodeState{
			ID:       id,
			ParentID: n.parent,
			Position: n.position,
			Children: n.childIDs(),
		})
	}
	return out
}

// FreeIDs lists the free list from head to tail, including stale entries.
func (g *Graph) FreeIDs() []NodeID {
	var out []NodeID
	for e := g.free; e != nil; e = e.next {
		out = append(out, e.id)
	}
	return out
}
