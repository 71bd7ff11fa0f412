package graphapi

// TraceLink follows a link reference back to the node that produces it,
// crossing passthrough nodes (reroutes) on the way.
//
// The id of the first node whose class type is in wanted is returned. When the
// trace stops at a node that is neither wanted nor passthrough, that node's id
// is returned anyway, so callers must check its class type before trusting it.
// A passthrough node with no upstream link is returned the same way.
//
// The result is "", false when ref is not a link, refers to a missing node, or
// more than maxDepth passthrough nodes would have to be crossed.
func TraceLink(ref interface{}, g *Graph, wanted, passthrough TypeSet, maxDepth int) (string, bool) {
	if maxDepth <= 0 {
		return "", false
	}

	hops := maxDepth
	cur := ref
	for {
		link, ok := ParseLinkRef(cur)
		if !ok {
			return "", false
		}
		src := g.GetNodeById(link.OriginID)
		if src == nil {
			return "", false
		}
		if wanted.Has(src.ClassType) {
			return link.OriginID, true
		}
		if !passthrough.Has(src.ClassType) {
			return link.OriginID, true
		}

		next, found := firstLinkInput(src)
		if !found {
			return link.OriginID, true
		}
		if hops == 0 {
			return "", false
		}
		hops--
		cur = next
	}
}

// firstLinkInput returns the first input of n, in field order, that holds a
// link reference.
func firstLinkInput(n *Node) (interface{}, bool) {
	for _, name := range n.InputNames() {
		v := n.Inputs[name]
		if _, ok := ParseLinkRef(v); ok {
			return v, true
		}
	}
	return nil, false
}

// TraceLink follows ref using the taxonomy's passthrough set and depth bound.
func (x *Taxonomy) TraceLink(ref interface{}, g *Graph, wanted TypeSet) (string, bool) {
	depth := x.MaxTraceDepth
	if depth == 0 {
		depth = DefaultMaxTraceDepth
	}
	return TraceLink(ref, g, wanted, x.Passthrough, depth)
}
