package query

// Preload is a node in an eager-loading tree. The root node names no relationship;
// every child names a relationship of the model reached through its parent.
type Preload struct {
	Relationship string

	children []*Preload
	index    map[string]*Preload
}

// NewPreload creates an empty root node
func NewPreload() *Preload {
	return &Preload{index: make(map[string]*Preload)}
}

// Child returns the child node for a relationship, creating it on first use.
// Paths sharing a prefix therefore share the same chain of nodes.
func (p *Preload) Child(relationship string) *Preload {
	if child, ok := p.index[relationship]; ok {
		return child
	}
	child := &Preload{Relationship: relationship, index: make(map[string]*Preload)}
	p.children = append(p.children, child)
	p.index[relationship] = child
	return child
}

// Children returns the child nodes in insertion order
func (p *Preload) Children() []*Preload {
	return p.children
}

// Empty reports whether the node has no children
func (p *Preload) Empty() bool {
	return p == nil || len(p.children) == 0
}

// Paths returns the dotted relationship paths of every leaf, in insertion order
func (p *Preload) Paths() []string {
	var out []string
	var walk func(n *Preload, prefix string)
	walk = func(n *Preload, prefix string) {
		for _, c := range n.children {
			path := c.Relationship
			if prefix != "" {
				path = prefix + "." + c.Relationship
			}
			if len(c.children) == 0 {
				out = append(out, path)
				continue
			}
			walk(c, path)
		}
	}
	if p != nil {
		walk(p, "")
	}
	return out
}
