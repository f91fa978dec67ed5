package modelcache

import "github.com/go-gl/mathgl/mgl64"

// Category partitions the model id space.
type Category string

const (
	CategoryPlayer      Category = "player"
	CategoryNPC         Category = "npc"
	CategoryEnvironment Category = "environment"
)

// Valid reports whether c is a known category.
func (c Category) Valid() bool {
	switch c {
	case CategoryPlayer, CategoryNPC, CategoryEnvironment:
		return true
	}
	return false
}

// Node is one element of a model's scene graph.
type Node struct {
	Name     string
	Category Category

	Position    mgl64.Vec3
	Orientation mgl64.Quat
	Scale       mgl64.Vec3

	Children []*Node
}

// Clone returns a deep copy of n. The copy shares nothing with n.
func (n *Node) Clone() *Node {
	if n == nil {
		return nil
	}
	c := *n
	if n.Children != nil {
		c.Children = make([]*Node, len(n.Children))
		for i, child := range n.Children {
			c.Children[i] = child.Clone()
		}
	}
	return &c
}

// SetUniformScale sets all three scale components to s.
func (n *Node) SetUniformScale(s float64) {
	n.Scale = mgl64.Vec3{s, s, s}
}

// Walk visits n and its descendants depth first. Returning false from fn
// skips the node's children.
func (n *Node) Walk(fn func(*Node) bool) {
	if n == nil || !fn(n) {
		return
	}
	for _, c := range n.Children {
		c.Walk(fn)
	}
}

// Find returns the first node named name, or nil.
func (n *Node) Find(name string) *Node {
	var found *Node
	n.Walk(func(x *Node) bool {
		if found != nil {
			return false
		}
		if x.Name == name {
			found = x
			return false
		}
		return true
	})
	return found
}

// Count returns the number of nodes in the tree rooted at n.
func (n *Node) Count() int {
	total := 0
	n.Walk(func(*Node) bool {
		total++
		return true
	})
	return total
}
