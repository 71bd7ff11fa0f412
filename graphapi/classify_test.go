package graphapi

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassifyTxt2Img(t *testing.T) {
	m := Classify(loadTestGraph(t, "txt2img.json"))

	assert.Equal(t, "6", m.PositivePrompt)
	assert.Equal(t, "7", m.NegativePrompt)
	assert.Equal(t, "5", m.LatentImage)
	assert.Equal(t, "9", m.Output)
	assert.Equal(t, []string{"3"}, m.Samplers)
	assert.Equal(t, "3", m.PrimarySampler())
	assert.Empty(t, m.LoadImage)
	assert.False(t, m.SupportsImageInput())
	assert.False(t, m.HasAcceleratedLoader)
	assert.Empty(t, m.Unclassified)
	assert.Equal(t, "text", m.PositivePromptField)
}

func TestClassifyFollowsSamplerWiring(t *testing.T) {
	g := loadTestGraph(t, "txt2img.json")
	s := g.GetNodeById("3")
	s.Inputs["positive"] = []interface{}{"7", 0}
	s.Inputs["negative"] = []interface{}{"6", 0}

	m := Classify(g)
	assert.Equal(t, "7", m.PositivePrompt)
	assert.Equal(t, "6", m.NegativePrompt)
}

func TestClassifyThroughReroute(t *testing.T) {
	g := loadTestGraph(t, "txt2img.json")
	r := NewNode("Reroute")
	r.SetInput("input", []interface{}{"7", 0})
	g.SetNode("20", r)
	s := g.GetNodeById("3")
	s.Inputs["positive"] = []interface{}{"20", 0}
	s.Inputs["negative"] = []interface{}{"6", 0}

	m := Classify(g)
	assert.Equal(t, "7", m.PositivePrompt)
	assert.Equal(t, "6", m.NegativePrompt)
}

func encoder(text, title string) *Node {
	n := NewNode("CLIPTextEncode")
	n.SetInput("text", text)
	if title != "" {
		n.SetTitle(title)
	}
	return n
}

func TestClassifyByTitle(t *testing.T) {
	g := NewGraph()
	g.SetNode("1", encoder("a", "Negative Prompt"))
	g.SetNode("2", encoder("b", "Positive Prompt"))

	m := Classify(g)
	assert.Equal(t, "2", m.PositivePrompt)
	assert.Equal(t, "1", m.NegativePrompt)
}

func TestClassifyByLocalisedTitle(t *testing.T) {
	g := NewGraph()
	g.SetNode("1", encoder("a", "正向提示词"))
	g.SetNode("2", encoder("b", "负向提示词"))

	m := Classify(g)
	assert.Equal(t, "1", m.PositivePrompt)
	assert.Equal(t, "2", m.NegativePrompt)
}

func TestClassifyByContent(t *testing.T) {
	g := NewGraph()
	g.SetNode("1", encoder("Worst Quality, blurry", ""))
	g.SetNode("2", encoder("masterpiece, a cat", ""))

	m := Classify(g)
	assert.Equal(t, "2", m.PositivePrompt)
	assert.Equal(t, "1", m.NegativePrompt)
}

func TestClassifyFallsBackToOrder(t *testing.T) {
	g := NewGraph()
	g.SetNode("5", encoder("a dog", ""))
	g.SetNode("1", encoder("a cat", ""))

	m := Classify(g)
	assert.Equal(t, "5", m.PositivePrompt)
	assert.Equal(t, "1", m.NegativePrompt)
}

func TestClassifySingleEncoderIsPositive(t *testing.T) {
	g := NewGraph()
	g.SetNode("1", encoder("worst quality", "negative"))

	m := Classify(g)
	assert.Equal(t, "1", m.PositivePrompt)
	assert.False(t, m.HasNegativePrompt())
}

func TestClassifyNoEncoders(t *testing.T) {
	g := NewGraph()
	g.SetNode("1", NewNode("SaveImage"))

	m := Classify(g)
	assert.False(t, m.HasPositivePrompt())
	assert.False(t, m.HasNegativePrompt())
	assert.False(t, m.HasSampler())
	assert.Equal(t, "", m.PrimarySampler())
	assert.Equal(t, "1", m.Output)
}

func TestClassifyExtraEncodersAreUnclassified(t *testing.T) {
	g := loadTestGraph(t, "txt2img.json")
	g.SetNode("30", encoder("regional detail", ""))

	m := Classify(g)
	assert.Equal(t, "6", m.PositivePrompt)
	assert.Equal(t, "7", m.NegativePrompt)
	assert.Equal(t, []string{"30"}, m.Unclassified)
}

func TestClassifyRolesDiffer(t *testing.T) {
	g := NewGraph()
	g.SetNode("1", encoder("masterpiece", "positive"))
	g.SetNode("2", encoder("masterpiece", "positive"))

	m := Classify(g)
	require.NotEmpty(t, m.PositivePrompt)
	require.NotEmpty(t, m.NegativePrompt)
	assert.NotEqual(t, m.PositivePrompt, m.NegativePrompt)
}

func TestClassifyImageInputAndAcceleratedLoader(t *testing.T) {
	g := loadTestGraph(t, "txt2img.json")
	img := NewNode("LoadImage")
	img.SetInput("image", "example.png")
	g.SetNode("10", img)
	g.SetNode("11", NewNode("TensorRTLoader"))

	m := Classify(g)
	assert.Equal(t, "10", m.LoadImage)
	assert.True(t, m.SupportsImageInput())
	assert.True(t, m.HasAcceleratedLoader)
}

func TestClassifyIsDeterministic(t *testing.T) {
	g := loadTestGraph(t, "txt2img.json")
	first := Classify(g)
	for i := 0; i < 20; i++ {
		assert.Equal(t, first, Classify(g))
	}
}

func TestClassifyWithExtendedTaxonomy(t *testing.T) {
	g := NewGraph()
	n := NewNode("MyPromptNode")
	n.SetInput("text", "a cat")
	g.SetNode("1", n)

	assert.False(t, Classify(g).HasPositivePrompt())

	x := DefaultTaxonomy().Clone()
	x.PromptEncode.Add("MyPromptNode")
	assert.Equal(t, "1", x.Classify(g).PositivePrompt)
	assert.False(t, DefaultTaxonomy().PromptEncode.Has("MyPromptNode"))
}
