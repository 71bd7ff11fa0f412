// Package workflow loads workflow templates from disk, classifies them once,
// and prepares per-run copies for submission.
package workflow

import (
	"strings"

	"github.com/richinsley/comfydrive/graphapi"
)

// Info is a loaded template. It is shared by every run that uses the
// template and must be treated as read-only; Prepare works on a copy.
type Info struct {
	// Index is the 1-based position of the template file in the sorted
	// directory listing.
	Index       int
	Name        string
	Path        string
	Graph       *graphapi.Graph
	Mapping     *graphapi.RoleMapping
	Description string

	taxonomy *graphapi.Taxonomy
}

// NewInfo classifies g and wraps it as a template.
func NewInfo(name, path string, g *graphapi.Graph, tax *graphapi.Taxonomy) *Info {
	if tax == nil {
		tax = graphapi.DefaultTaxonomy()
	}
	return &Info{
		Name:        name,
		Path:        path,
		Graph:       g,
		Mapping:     tax.Classify(g),
		Description: Describe(g, name),
		taxonomy:    tax,
	}
}

// Taxonomy returns the taxonomy the template was classified with.
func (info *Info) Taxonomy() *graphapi.Taxonomy {
	if info.taxonomy == nil {
		return graphapi.DefaultTaxonomy()
	}
	return info.taxonomy
}

// Describe names the checkpoint a template loads, falling back to name.
func Describe(g *graphapi.Graph, name string) string {
	desc := ""
	g.Each(func(id string, n *graphapi.Node) {
		if desc != "" || !strings.Contains(n.ClassType, "Checkpoint") {
			return
		}
		if ckpt, ok := n.InputString("ckpt_name"); ok && ckpt != "" {
			desc = "model: " + ckpt
		}
	})
	if desc == "" {
		return name
	}
	return desc
}
