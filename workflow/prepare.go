package workflow

import (
	"github.com/richinsley/comfydrive/graphapi"
)

// Params are the run-time values injected into a template.
type Params struct {
	Positive string
	Negative string
	// Seed is used for every sampler when set; otherwise a random seed is
	// generated.
	Seed *uint64
	// InputImage is the server-side name of an uploaded image. It is only
	// applied when the template has a load-image node.
	InputImage string
}

// Prepare returns a copy of the template with p applied, and the seed written
// to the samplers. The template itself is never modified, so any number of
// goroutines may prepare runs from the same Info.
//
// Roles the template lacks are skipped silently. Inputs that are wired to
// another node are left wired.
func (info *Info) Prepare(p Params) (*graphapi.Graph, uint64) {
	g := info.Graph.Clone()
	m := info.Mapping
	tax := info.Taxonomy()

	if n := g.GetNodeById(m.PositivePrompt); n != nil {
		setLeaf(n, m.PositivePromptField, p.Positive)
	}
	if n := g.GetNodeById(m.NegativePrompt); n != nil {
		setLeaf(n, m.NegativePromptField, p.Negative)
	}

	var seed uint64
	if p.Seed != nil {
		seed = *p.Seed
	} else {
		seed = graphapi.RandomSeed()
	}
	for _, id := range m.Samplers {
		if n := g.GetNodeById(id); n != nil {
			setLeaf(n, tax.SeedField(n), seed)
		}
	}

	if p.InputImage != "" {
		if n := g.GetNodeById(m.LoadImage); n != nil {
			setLeaf(n, tax.ImageFieldName(), p.InputImage)
		}
	}

	return g, seed
}

// Prepare is a convenience for info.Prepare.
func Prepare(info *Info, p Params) (*graphapi.Graph, uint64) {
	return info.Prepare(p)
}

func setLeaf(n *graphapi.Node, field string, value interface{}) {
	if cur, ok := n.Input(field); ok {
		if _, linked := graphapi.ParseLinkRef(cur); linked {
			return
		}
	}
	n.SetInput(field, value)
}

// ComposePrompt joins a configured global prompt with the user's prompt,
// placing the global text first when inHead is set.
func ComposePrompt(global, user string, inHead bool) string {
	if inHead {
		return global + user
	}
	return user + global
}
