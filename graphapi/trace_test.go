package graphapi

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

// rerouteChain builds an encoder followed by n reroutes and returns a link to
// the last one.
func rerouteChain(n int) (*Graph, interface{}) {
	g := NewGraph()
	enc := NewNode("CLIPTextEncode")
	enc.SetInput("text", "cat")
	g.SetNode("enc", enc)

	prev := "enc"
	for i := 1; i <= n; i++ {
		id := fmt.Sprintf("r%d", i)
		r := NewNode("Reroute")
		r.SetInput("input", []interface{}{prev, 0})
		g.SetNode(id, r)
		prev = id
	}
	return g, []interface{}{prev, 0}
}

func TestTraceLinkDirect(t *testing.T) {
	g, ref := rerouteChain(0)
	id, ok := DefaultTaxonomy().TraceLink(ref, g, NewTypeSet("CLIPTextEncode"))
	assert.True(t, ok)
	assert.Equal(t, "enc", id)
}

func TestTraceLinkDepthBound(t *testing.T) {
	x := DefaultTaxonomy()
	wanted := NewTypeSet("CLIPTextEncode")

	g, ref := rerouteChain(DefaultMaxTraceDepth)
	id, ok := x.TraceLink(ref, g, wanted)
	assert.True(t, ok)
	assert.Equal(t, "enc", id)

	g, ref = rerouteChain(DefaultMaxTraceDepth + 1)
	_, ok = x.TraceLink(ref, g, wanted)
	assert.False(t, ok)
}

func TestTraceLinkCycleTerminates(t *testing.T) {
	g := NewGraph()
	a := NewNode("Reroute")
	a.SetInput("input", []interface{}{"b", 0})
	b := NewNode("Reroute")
	b.SetInput("input", []interface{}{"a", 0})
	g.SetNode("a", a)
	g.SetNode("b", b)

	_, ok := DefaultTaxonomy().TraceLink([]interface{}{"a", 0}, g, NewTypeSet("CLIPTextEncode"))
	assert.False(t, ok)
}

func TestTraceLinkStopsAtOtherNodes(t *testing.T) {
	g := loadTestGraph(t, "txt2img.json")
	x := DefaultTaxonomy()

	// VAEDecode is neither wanted nor a passthrough
	id, ok := x.TraceLink([]interface{}{"8", 0}, g, NewTypeSet("CLIPTextEncode"))
	assert.True(t, ok)
	assert.Equal(t, "8", id)
}

func TestTraceLinkDanglingReroute(t *testing.T) {
	g := NewGraph()
	g.SetNode("r", NewNode("Reroute"))

	id, ok := DefaultTaxonomy().TraceLink([]interface{}{"r", 0}, g, NewTypeSet("CLIPTextEncode"))
	assert.True(t, ok)
	assert.Equal(t, "r", id)
}

func TestTraceLinkNotALink(t *testing.T) {
	g := loadTestGraph(t, "txt2img.json")
	x := DefaultTaxonomy()

	for _, ref := range []interface{}{"6", nil, []interface{}{"6"}, []interface{}{"missing", 0}} {
		_, ok := x.TraceLink(ref, g, NewTypeSet("CLIPTextEncode"))
		assert.False(t, ok, "%v", ref)
	}
}
