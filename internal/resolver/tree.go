package resolver

import (
	"sort"
	"strings"
)

// EmptyTreeMarker is rendered when a project has no indexed paths, so the
// generation prompt is never ambiguous about whether indexing ran.
const EmptyTreeMarker = "(no files indexed)"

// treeNode is one directory level of the rendered file tree.
type treeNode struct {
	children map[string]*treeNode
}

func newTreeNode() *treeNode {
	return &treeNode{children: make(map[string]*treeNode)}
}

func (n *treeNode) insert(segments []string) {
	if len(segments) == 0 {
		return
	}
	child, ok := n.children[segments[0]]
	if !ok {
		child = newTreeNode()
		n.children[segments[0]] = child
	}
	child.insert(segments[1:])
}

// RenderTree renders a path set as a hierarchical tree with branch
// connectors. Siblings sort lexicographically and the output is
// byte-deterministic for a given path set.
func RenderTree(paths []string) string {
	if len(paths) == 0 {
		return EmptyTreeMarker
	}

	root := newTreeNode()
	for _, p := range paths {
		root.insert(strings.Split(strings.Trim(p, "/"), "/"))
	}

	var b strings.Builder
	renderChildren(&b, root, "")
	return strings.TrimRight(b.String(), "\n")
}

func renderChildren(b *strings.Builder, n *treeNode, prefix string) {
	names := make([]string, 0, len(n.children))
	for name := range n.children {
		names = append(names, name)
	}
	sort.Strings(names)

	for i, name := range names {
		connector, childPrefix := "├── ", prefix+"│   "
		if i == len(names)-1 {
			connector, childPrefix = "└── ", prefix+"    "
		}
		b.WriteString(prefix)
		b.WriteString(connector)
		b.WriteString(name)
		b.WriteByte('\n')
		renderChildren(b, n.children[name], childPrefix)
	}
}
