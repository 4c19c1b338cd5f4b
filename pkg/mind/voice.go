package mind

// Voice is a named parameterization of recall: a relevance weight
// profile, a tag filter, and an optional query rewrite. Higher-level
// "personalities" are exactly this, not separate types.
type Voice struct {
	Name        string
	Weights     RelevanceWeights
	RequireTags []string
	ExcludeTags []string
	QueryPrefix string
}

// builtinVoices are the lenses shipped with the engine.
var builtinVoices = map[string]Voice{
	"precision": {
		Name: "precision",
		Weights: RelevanceWeights{
			Similarity: 0.75,
			Confidence: 0.20,
			Recency:    0.05,
			Epsilon:    0.0,
		},
	},
	"memory": {
		Name: "memory",
		Weights: RelevanceWeights{
			Similarity: 0.40,
			Confidence: 0.25,
			Recency:    0.30,
			Epsilon:    0.05,
		},
	},
	"dream": {
		Name: "dream",
		Weights: RelevanceWeights{
			Similarity: 0.35,
			Confidence: 0.05,
			Recency:    0.10,
			Epsilon:    0.50,
		},
		ExcludeTags: []string{"mundane"},
	},
}

// LookupVoice resolves a voice by name.
func LookupVoice(name string) (Voice, bool) {
	v, ok := builtinVoices[name]
	return v, ok
}

// Voices lists the available voice names.
func Voices() []string {
	out := make([]string, 0, len(builtinVoices))
	for name := range builtinVoices {
		out = append(out, name)
	}
	return out
}
