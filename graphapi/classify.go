package graphapi

import "strings"

// RoleMapping is the classifier's view of which nodes of a graph play which
// role. An empty id means the role was not found; callers test the role they
// need (for example SupportsImageInput) before using it.
type RoleMapping struct {
	PositivePrompt string
	NegativePrompt string
	LatentImage    string
	LoadImage      string
	Output         string
	// Samplers lists every sampler node in encounter order. The first one is
	// the primary sampler.
	Samplers []string
	// Unclassified lists prompt-encode nodes that were left without a
	// polarity, e.g. the extra encoders of regional prompting setups.
	Unclassified         []string
	HasAcceleratedLoader bool

	PositivePromptField string
	NegativePromptField string
}

// PrimarySampler returns the first sampler id, or "".
func (m *RoleMapping) PrimarySampler() string {
	if len(m.Samplers) == 0 {
		return ""
	}
	return m.Samplers[0]
}

func (m *RoleMapping) HasPositivePrompt() bool { return m.PositivePrompt != "" }
func (m *RoleMapping) HasNegativePrompt() bool { return m.NegativePrompt != "" }
func (m *RoleMapping) SupportsImageInput() bool { return m.LoadImage != "" }
func (m *RoleMapping) HasSampler() bool { return len(m.Samplers) != 0 }
func (m *RoleMapping) assigned(id string) bool {
	return id != "" && (id == m.PositivePrompt || id == m.NegativePrompt)
}
func (m *RoleMapping) polaritiesComplete() bool { return m.PositivePrompt != "" && m.NegativePrompt != "" }

// Classify infers the role mapping of g with the default taxonomy.
func Classify(g *Graph) *RoleMapping {
	return DefaultTaxonomy().Classify(g)
}

// Classify infers the role mapping of g. It never fails: roles it cannot find
// are left empty. The result depends only on the graph's structure and node
// order, so classifying an unchanged graph always yields the same mapping.
func (x *Taxonomy) Classify(g *Graph) *RoleMapping {
	m := &RoleMapping{
		Samplers:            make([]string, 0),
		PositivePromptField: x.PromptFieldName(),
		NegativePromptField: x.PromptFieldName(),
	}
	candidates := make([]string, 0)

	g.Each(func(id string, n *Node) {
		if x.AcceleratedLoader.Has(n.ClassType) {
			m.HasAcceleratedLoader = true
		}

		// single-valued roles keep the last matching node
		switch {
		case x.PromptEncode.Has(n.ClassType):
			candidates = append(candidates, id)
		case x.Latent.Has(n.ClassType):
			m.LatentImage = id
		case x.Sampler.Has(n.ClassType):
			m.Samplers = append(m.Samplers, id)
		case x.LoadImage.Has(n.ClassType):
			m.LoadImage = id
		case x.Output.Has(n.ClassType):
			m.Output = id
		}
	})

	x.classifyPrompts(g, m, candidates)
	return m
}

// classifyPrompts assigns polarity to prompt-encode candidates. Evidence is
// consulted strongest first: what feeds the primary sampler, then node titles,
// then prompt text, then encounter order.
func (x *Taxonomy) classifyPrompts(g *Graph, m *RoleMapping, candidates []string) {
	switch len(candidates) {
	case 0:
		return
	case 1:
		m.PositivePrompt = candidates[0]
		return
	}

	isCandidate := make(map[string]bool, len(candidates))
	for _, id := range candidates {
		isCandidate[id] = true
	}

	if sampler := g.GetNodeById(m.PrimarySampler()); sampler != nil {
		if id := x.traceCandidate(g, sampler, "positive", isCandidate); id != "" {
			m.PositivePrompt = id
		}
		if id := x.traceCandidate(g, sampler, "negative", isCandidate); id != "" {
			m.NegativePrompt = id
		}
	}
	if m.polaritiesComplete() {
		m.Unclassified = remaining(m, candidates)
		return
	}

	x.matchPrompts(g, m, candidates, func(n *Node) string {
		return strings.ToLower(n.Title())
	}, x.NegativeTitleMarkers, x.PositiveTitleMarkers)

	x.matchPrompts(g, m, candidates, func(n *Node) string {
		text, _ := n.InputString(x.PromptFieldName())
		return strings.ToLower(text)
	}, x.NegativeKeywords, x.PositiveKeywords)

	for _, id := range candidates {
		if m.assigned(id) {
			continue
		}
		if m.PositivePrompt == "" {
			m.PositivePrompt = id
		} else if m.NegativePrompt == "" {
			m.NegativePrompt = id
		}
	}
	m.Unclassified = remaining(m, candidates)
}

// traceCandidate resolves the sampler input to a prompt-encode candidate. When
// tracing does not land on a candidate, the link's direct source is used if it
// is one.
func (x *Taxonomy) traceCandidate(g *Graph, sampler *Node, input string, isCandidate map[string]bool) string {
	ref, ok := sampler.Input(input)
	if !ok {
		return ""
	}
	link, ok := ParseLinkRef(ref)
	if !ok {
		return ""
	}
	if traced, ok := x.TraceLink(ref, g, x.PromptEncode); ok && isCandidate[traced] {
		return traced
	}
	if isCandidate[link.OriginID] {
		return link.OriginID
	}
	return ""
}

// matchPrompts fills unassigned polarities from candidates whose text contains
// one of the markers. Negative is checked first; the first match wins and an
// assigned polarity is never overwritten.
func (x *Taxonomy) matchPrompts(g *Graph, m *RoleMapping, candidates []string, text func(*Node) string, negative, positive []string) {
	for _, id := range candidates {
		if m.polaritiesComplete() {
			return
		}
		if m.assigned(id) {
			continue
		}
		s := text(g.GetNodeById(id))
		if s == "" {
			continue
		}
		if m.NegativePrompt == "" && containsAny(s, negative) {
			m.NegativePrompt = id
		} else if m.PositivePrompt == "" && containsAny(s, positive) {
			m.PositivePrompt = id
		}
	}
}

func containsAny(s string, markers []string) bool {
	for _, k := range markers {
		if k != "" && strings.Contains(s, strings.ToLower(k)) {
			return true
		}
	}
	return false
}

func remaining(m *RoleMapping, candidates []string) []string {
	var retv []string
	for _, id := range candidates {
		if !m.assigned(id) {
			retv = append(retv, id)
		}
	}
	return retv
}
