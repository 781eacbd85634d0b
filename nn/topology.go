package nn

import "fmt"

// Role fixes what structural surgery may do to a layer.
type Role int

const (
	// RoleHidden layers may gain or lose neurons.
	RoleHidden Role = iota
	// RoleInput layers read the fixed model input; their columns never change.
	RoleInput
	// RoleBranch layers form the bottleneck split (mean / log-variance heads).
	RoleBranch
	// RoleOutput layers produce the fixed model output.
	RoleOutput
)

func (r Role) String() string {
	switch r {
	case RoleHidden:
		return "hidden"
	case RoleInput:
		return "input"
	case RoleBranch:
		return "branch"
	case RoleOutput:
		return "output"
	}
	return fmt.Sprintf("Role(%d)", int(r))
}

// Protected reports whether the layer's neuron count is fixed.
func (r Role) Protected() bool {
	return r == RoleBranch || r == RoleOutput
}

// Node is one fully-connected layer in a Topology.
type Node struct {
	Name     string
	Role     Role
	Children []string
}

// Topology is an immutable DAG of fully-connected layers. Nodes are kept in
// declaration order, which is also a topological order.
type Topology struct {
	nodes   []Node
	index   map[string]int
	parents map[string][]string
}

// NewTopology validates nodes and builds a Topology. Every child must be
// declared after all of its parents.
func NewTopology(nodes ...Node) (*Topology, error) {
	t := &Topology{
		nodes:   make([]Node, len(nodes)),
		index:   make(map[string]int, len(nodes)),
		parents: make(map[string][]string),
	}
	for i, n := range nodes {
		if n.Name == "" {
			return nil, fmt.Errorf("node %d has no name", i)
		}
		if _, dup := t.index[n.Name]; dup {
			return nil, fmt.Errorf("duplicate layer %q", n.Name)
		}
		t.index[n.Name] = i
		t.nodes[i] = Node{Name: n.Name, Role: n.Role, Children: append([]string(nil), n.Children...)}
	}
	for i, n := range t.nodes {
		for _, c := range n.Children {
			j, ok := t.index[c]
			if !ok {
				return nil, fmt.Errorf("layer %q lists unknown child %q", n.Name, c)
			}
			if j <= i {
				return nil, fmt.Errorf("layer %q must be declared after its parent %q", c, n.Name)
			}
			t.parents[c] = append(t.parents[c], n.Name)
		}
	}
	for _, n := range t.nodes {
		if n.Role == RoleInput && len(t.parents[n.Name]) > 0 {
			return nil, fmt.Errorf("input layer %q has parents %v", n.Name, t.parents[n.Name])
		}
		if n.Role == RoleOutput && len(n.Children) > 0 {
			return nil, fmt.Errorf("output layer %q has children %v", n.Name, n.Children)
		}
	}
	return t, nil
}

// CVAETopology is the OneHotCVAE layout:
//
//	fc1 -> fc2 -> {fc31, fc32} -> fc4 -> fc5 -> fc6
func CVAETopology() *Topology {
	t, err := NewTopology(
		Node{Name: "fc1", Role: RoleInput, Children: []string{"fc2"}},
		Node{Name: "fc2", Role: RoleHidden, Children: []string{"fc31", "fc32"}},
		Node{Name: "fc31", Role: RoleBranch, Children: []string{"fc4"}},
		Node{Name: "fc32", Role: RoleBranch, Children: []string{"fc4"}},
		Node{Name: "fc4", Role: RoleHidden, Children: []string{"fc5"}},
		Node{Name: "fc5", Role: RoleHidden, Children: []string{"fc6"}},
		Node{Name: "fc6", Role: RoleOutput},
	)
	if err != nil {
		panic(err)
	}
	return t
}

// Layers returns the layer names in visitation order.
func (t *Topology) Layers() []string {
	out := make([]string, len(t.nodes))
	for i, n := range t.nodes {
		out[i] = n.Name
	}
	return out
}

// Role returns the role of layer, RoleHidden for unknown names.
func (t *Topology) Role(layer string) Role {
	i, ok := t.index[layer]
	if !ok {
		return RoleHidden
	}
	return t.nodes[i].Role
}

// Children returns the layers consuming layer's output.
func (t *Topology) Children(layer string) []string {
	i, ok := t.index[layer]
	if !ok {
		return nil
	}
	return append([]string(nil), t.nodes[i].Children...)
}

// Parents returns every layer listing layer as a child, in declaration order.
func (t *Topology) Parents(layer string) []string {
	return append([]string(nil), t.parents[layer]...)
}

// Parent returns the first declared parent of layer. Surgery propagates
// column edits from this parent only; further parents of a merge layer are
// alternatives over the same columns (e.g. fc31/fc32 both size z).
func (t *Topology) Parent(layer string) (string, bool) {
	p := t.parents[layer]
	if len(p) == 0 {
		return "", false
	}
	return p[0], true
}
