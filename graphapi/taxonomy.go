package graphapi

import "sort"

// TypeSet is a set of node class types.
type TypeSet map[string]struct{}

func NewTypeSet(types ...string) TypeSet {
	s := make(TypeSet, len(types))
	s.Add(types...)
	return s
}

func (s TypeSet) Add(types ...string) {
	for _, t := range types {
		if t != "" {
			s[t] = struct{}{}
		}
	}
}

func (s TypeSet) Has(classType string) bool {
	_, ok := s[classType]
	return ok
}

// Sorted returns the members in lexical order.
func (s TypeSet) Sorted() []string {
	retv := make([]string, 0, len(s))
	for t := range s {
		retv = append(retv, t)
	}
	sort.Strings(retv)
	return retv
}

func (s TypeSet) clone() TypeSet {
	c := make(TypeSet, len(s))
	for t := range s {
		c[t] = struct{}{}
	}
	return c
}

// Taxonomy holds the class-type sets and text markers used to infer node
// roles. New node packs are supported by extending the sets; the
// classification algorithm itself never names a class type.
type Taxonomy struct {
	PromptEncode      TypeSet
	Latent            TypeSet
	Sampler           TypeSet
	LoadImage         TypeSet
	Output            TypeSet
	AcceleratedLoader TypeSet
	Passthrough       TypeSet

	// Title markers are matched case-insensitively against _meta.title.
	PositiveTitleMarkers []string
	NegativeTitleMarkers []string

	// Content keywords are matched case-insensitively against prompt text.
	PositiveKeywords []string
	NegativeKeywords []string

	// PromptField is the input carrying prompt text on prompt-encode nodes.
	PromptField string
	// SeedFields are the sampler inputs that receive the run seed, in order
	// of preference. The first one present on a sampler is written; when
	// none is present the first entry is created.
	SeedFields []string
	// ImageField is the input of load-image nodes holding the file name.
	ImageField string
	// MaxTraceDepth bounds the number of passthrough nodes a link trace may
	// cross.
	MaxTraceDepth int
}

// DefaultMaxTraceDepth is the default passthrough hop limit for TraceLink.
const DefaultMaxTraceDepth = 10

// DefaultTaxonomy returns a fresh copy of the built in taxonomy.
func DefaultTaxonomy() *Taxonomy {
	return &Taxonomy{
		PromptEncode: NewTypeSet(
			"CLIPTextEncode",
			"CLIPTextEncodeSDXL",
			"AdvancedCLIPTextEncode",
			"CLIPTextEncodeSD3",
			"BNK_CLIPTextEncodeAdvanced",
		),
		Latent: NewTypeSet("EmptyLatentImage", "EmptySD3LatentImage", "EmptyLatentImagePresets"),
		Sampler: NewTypeSet(
			"KSampler",
			"KSamplerAdvanced",
			"SamplerCustom",
			"SamplerCustomAdvanced",
			"KSampler (Efficient)",
			"KSamplerSelect",
		),
		LoadImage:         NewTypeSet("LoadImage", "LoadImageMask", "LoadImageFromUrl"),
		Output:            NewTypeSet("PreviewImage", "SaveImage", "SaveImageWebsocket"),
		AcceleratedLoader: NewTypeSet("TensorRT Loader", "TensorRTLoader", "TensorRTLoaderSD3", "TensorRTLoaderFlux"),
		Passthrough:       NewTypeSet("Reroute", "RerouteTextForCLIPTextEncodeForSDXL"),

		PositiveTitleMarkers: []string{"positive", "正"},
		NegativeTitleMarkers: []string{"negative", "负"},
		PositiveKeywords:     []string{"masterpiece", "best quality", "beautiful", "detailed"},
		NegativeKeywords:     []string{"worst quality", "low quality", "bad anatomy", "ugly"},

		PromptField:   "text",
		SeedFields:    []string{"seed", "noise_seed"},
		ImageField:    "image",
		MaxTraceDepth: DefaultMaxTraceDepth,
	}
}

// Clone returns a deep copy so callers can extend a taxonomy without
// affecting graphs already classified with the original.
func (x *Taxonomy) Clone() *Taxonomy {
	c := *x
	c.PromptEncode = x.PromptEncode.clone()
	c.Latent = x.Latent.clone()
	c.Sampler = x.Sampler.clone()
	c.LoadImage = x.LoadImage.clone()
	c.Output = x.Output.clone()
	c.AcceleratedLoader = x.AcceleratedLoader.clone()
	c.Passthrough = x.Passthrough.clone()
	c.PositiveTitleMarkers = append([]string(nil), x.PositiveTitleMarkers...)
	c.NegativeTitleMarkers = append([]string(nil), x.NegativeTitleMarkers...)
	c.PositiveKeywords = append([]string(nil), x.PositiveKeywords...)
	c.NegativeKeywords = append([]string(nil), x.NegativeKeywords...)
	c.SeedFields = append([]string(nil), x.SeedFields...)
	return &c
}

// PromptFieldName returns the input carrying prompt text.
func (x *Taxonomy) PromptFieldName() string {
	if x.PromptField == "" {
		return "text"
	}
	return x.PromptField
}

// SeedField picks the input of n that receives the run seed.
func (x *Taxonomy) SeedField(n *Node) string {
	fields := x.SeedFields
	if len(fields) == 0 {
		fields = []string{"seed"}
	}
	for _, f := range fields {
		if _, ok := n.Inputs[f]; ok {
			return f
		}
	}
	return fields[0]
}

// ImageFieldName returns the input holding a load-image node's file name.
func (x *Taxonomy) ImageFieldName() string {
	if x.ImageField == "" {
		return "image"
	}
	return x.ImageField
}
