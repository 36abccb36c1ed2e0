// Package tree answers ancestry questions over any node type that knows its
// parent. The zero value of the node type means "no parent".
package tree

// Node is a tree node that can report its parent.
type Node[T any] interface {
	comparable
	Parent() T
}

// Ancestors returns the path from the root down to node, node included.
func Ancestors[T Node[T]](node T) []T {
	var zero T
	depth := 0
	for n := node; n != zero; n = n.Parent() {
		depth++
	}
	path := make([]T, depth)
	for n := node; n != zero; n = n.Parent() {
		depth--
		path[depth] = n
	}
	return path
}

// LowestCommonAncestorIndex returns the index of the deepest element shared by
// two ancestries produced by Ancestors, or -1 when they have different roots.
// Identical ancestries yield their last index.
func LowestCommonAncestorIndex[T comparable](a, b []T) int {
	n := min(len(a), len(b))
	i := 0
	for i < n && a[i] == b[i] {
		i++
	}
	return i - 1
}

// LowestCommonAncestor returns the deepest node that is an ancestor of (or
// equal to) both a and b. The boolean is false when no such node exists.
func LowestCommonAncestor[T Node[T]](a, b T) (T, bool) {
	ancestry := Ancestors(a)
	if i := LowestCommonAncestorIndex(ancestry, Ancestors(b)); i >= 0 {
		return ancestry[i], true
	}
	var zero T
	return zero, false
}

// IsChild reports whether parent is a proper ancestor of child.
func IsChild[T Node[T]](child, parent T) bool {
	var zero T
	if child == zero || parent == zero {
		return false
	}
	for n := child.Parent(); n != zero; n = n.Parent() {
		if n == parent {
			return true
		}
	}
	return false
}
