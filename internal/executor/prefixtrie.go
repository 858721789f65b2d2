package executor

import "strings"

type trieNode struct {
	children map[string]*trieNode
	terminal bool
}

func newTrieNode() *trieNode {
	return &trieNode{children: map[string]*trieNode{}}
}

// ComputeVolumePrefixes reduces a set of filesystem paths to the minimal set
// of ancestor directories that, mounted as host-path volumes, cover every
// given path: each returned prefix is the deepest directory shared by every
// path beneath it before the paths diverge.
func ComputeVolumePrefixes(paths []string) []string {
	root := newTrieNode()
	for _, p := range paths {
		clean := strings.Trim(p, "/")
		if clean == "" {
			continue
		}
		node := root
		for _, part := range strings.Split(clean, "/") {
			child, ok := node.children[part]
			if !ok {
				child = newTrieNode()
				node.children[part] = child
			}
			node = child
		}
		node.terminal = true
	}

	var out []string
	var walk func(node *trieNode, prefix []string)
	walk = func(node *trieNode, prefix []string) {
		// Follow single-child chains as far as possible: that's the
		// "longest" part of the longest common prefix.
		for len(node.children) == 1 && !node.terminal {
			for part, child := range node.children {
				prefix = append(prefix, part)
				node = child
			}
		}
		if node.terminal {
			out = append(out, "/"+strings.Join(prefix, "/"))
		}
		// Branching point: each divergent child starts its own prefix walk.
		for part, child := range node.children {
			walk(child, append(append([]string{}, prefix...), part))
		}
	}

	for part, child := range root.children {
		walk(child, []string{part})
	}
	return dedupe(out)
}

func dedupe(ss []string) []string {
	seen := map[string]bool{}
	out := make([]string, 0, len(ss))
	for _, s := range ss {
		if seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}
