package graphapi

import (
	"encoding/json"
	"math"
	"math/rand/v2"
	"strconv"
	"strings"
)

// RandomizeSeed is the seed value ComfyUI nodes use to ask for a random seed.
const RandomizeSeed = -1

// ControlAfterGenerate is the widget that makes the frontend or some custom
// nodes change a seed after each run.
const ControlAfterGenerate = "control_after_generate"

var movingSeedModes = map[string]bool{
	"randomize": true,
	"increment": true,
	"decrement": true,
}

// RandomSeed returns a pseudo-random seed in [1, 2^63-1].
func RandomSeed() uint64 {
	return rand.Uint64N(math.MaxInt64) + 1
}

// seedSource is swapped in tests that need predictable seeds.
var seedSource = RandomSeed

// EnforceSeeds returns a copy of g in which every seed-like input holds a
// concrete integer, using the default taxonomy to recognise samplers.
func EnforceSeeds(g *Graph) (*Graph, uint64) {
	return DefaultTaxonomy().EnforceSeeds(g)
}

// EnforceSeeds returns a copy of g in which every input whose name contains
// "seed" holds a concrete integer, and every control_after_generate input that
// would move the seed is pinned to "fixed". g itself is not modified.
//
// Concrete seeds are left exactly as they are, so enforcing an already
// enforced graph changes nothing. ComfyUI seeds are unsigned 64-bit values;
// RandomizeSeed and any other negative value is replaced. Seed inputs wired to
// another node are left wired.
//
// The reported seed is the last seed seen on a sampler node; without samplers
// it is the first seed seen at all, and 0 when the graph has no seed inputs.
func (x *Taxonomy) EnforceSeeds(g *Graph) (*Graph, uint64) {
	fixed := g.Clone()

	var (
		samplerSeed, firstSeed uint64
		haveSampler, haveFirst bool
	)

	fixed.Each(func(id string, n *Node) {
		isSampler := x.isSamplerType(n.ClassType)

		for _, name := range n.InputNames() {
			if !strings.Contains(strings.ToLower(name), "seed") {
				continue
			}
			v := n.Inputs[name]
			if _, linked := ParseLinkRef(v); linked {
				continue
			}

			seed, ok := concreteSeed(v)
			if !ok {
				seed = seedSource()
				n.Inputs[name] = seed
			}

			if isSampler {
				samplerSeed, haveSampler = seed, true
			} else if !haveFirst {
				firstSeed, haveFirst = seed, true
			}
		}

		if mode, ok := n.InputString(ControlAfterGenerate); ok && movingSeedModes[mode] {
			n.Inputs[ControlAfterGenerate] = "fixed"
		}
	})

	switch {
	case haveSampler:
		return fixed, samplerSeed
	case haveFirst:
		return fixed, firstSeed
	}
	return fixed, 0
}

func (x *Taxonomy) isSamplerType(classType string) bool {
	return x.Sampler.Has(classType) || strings.Contains(classType, "Sampler")
}

// concreteSeed reports the value of a literal non-negative number. Fractions
// are truncated.
func concreteSeed(v interface{}) (uint64, bool) {
	switch n := v.(type) {
	case json.Number:
		if u, err := strconv.ParseUint(n.String(), 10, 64); err == nil {
			return u, true
		}
		f, err := n.Float64()
		if err != nil {
			return 0, false
		}
		return floatSeed(f)
	case float64:
		return floatSeed(n)
	case float32:
		return floatSeed(float64(n))
	case int:
		return intSeed(int64(n))
	case int64:
		return intSeed(n)
	case int32:
		return intSeed(int64(n))
	case uint64:
		return n, true
	case uint:
		return uint64(n), true
	}
	return 0, false
}

func intSeed(n int64) (uint64, bool) {
	if n < 0 {
		return 0, false
	}
	return uint64(n), true
}

func floatSeed(f float64) (uint64, bool) {
	if math.IsNaN(f) || f < 0 || f >= math.MaxUint64 {
		return 0, false
	}
	return uint64(f), true
}
