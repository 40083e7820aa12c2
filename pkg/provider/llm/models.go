package llm

import "strings"

// family is one row of the model table. The first row whose prefix matches
// the lower-cased model name wins, so longer prefixes come first.
type family struct {
	prefix string
	caps   ModelCapabilities
}

var families = []family{
	{"gpt-4o", ModelCapabilities{ContextWindow: 128_000, MaxOutputTokens: 16_384, SupportsJSONMode: true}},
	{"gpt-4.1", ModelCapabilities{ContextWindow: 1_047_576, MaxOutputTokens: 32_768, SupportsJSONMode: true}},
	{"gpt-4-turbo", ModelCapabilities{ContextWindow: 128_000, MaxOutputTokens: 4_096, SupportsJSONMode: true}},
	{"gpt-4", ModelCapabilities{ContextWindow: 8_192, MaxOutputTokens: 4_096}},
	{"gpt-3.5-turbo", ModelCapabilities{ContextWindow: 16_385, MaxOutputTokens: 4_096, SupportsJSONMode: true}},
	{"gpt-5", ModelCapabilities{ContextWindow: 400_000, MaxOutputTokens: 128_000, SupportsJSONMode: true, FixedSampling: true}},
	{"o1", ModelCapabilities{ContextWindow: 200_000, MaxOutputTokens: 100_000, SupportsJSONMode: true, FixedSampling: true}},
	{"o3", ModelCapabilities{ContextWindow: 200_000, MaxOutputTokens: 100_000, SupportsJSONMode: true, FixedSampling: true}},
	{"o4", ModelCapabilities{ContextWindow: 200_000, MaxOutputTokens: 100_000, SupportsJSONMode: true, FixedSampling: true}},
	{"claude", ModelCapabilities{ContextWindow: 200_000, MaxOutputTokens: 8_192}},
	{"gemini-1.5-pro", ModelCapabilities{ContextWindow: 2_097_152, MaxOutputTokens: 8_192, SupportsJSONMode: true}},
	{"gemini", ModelCapabilities{ContextWindow: 1_048_576, MaxOutputTokens: 8_192, SupportsJSONMode: true}},
	{"deepseek", ModelCapabilities{ContextWindow: 64_000, MaxOutputTokens: 8_192}},
	{"mistral", ModelCapabilities{ContextWindow: 32_000, MaxOutputTokens: 8_192}},
	{"llama", ModelCapabilities{ContextWindow: 8_192, MaxOutputTokens: 2_048}},
	{"qwen", ModelCapabilities{ContextWindow: 32_768, MaxOutputTokens: 8_192}},
}

// fallback applies to models the table does not know.
var fallback = ModelCapabilities{ContextWindow: 32_000, MaxOutputTokens: 4_096}

// Lookup returns the capabilities of a model by name family. A vendor prefix
// such as "openai/" or "models/" is ignored.
func Lookup(model string) ModelCapabilities {
	name := strings.ToLower(model)
	if i := strings.LastIndexByte(name, '/'); i >= 0 {
		name = name[i+1:]
	}
	for _, f := range families {
		if strings.HasPrefix(name, f.prefix) {
			return f.caps
		}
	}
	return fallback
}

// ClampTokens bounds a requested completion length by the model limit. Zero
// stays zero so the provider default applies.
func (c ModelCapabilities) ClampTokens(n int) int {
	if n <= 0 || c.MaxOutputTokens <= 0 {
		return n
	}
	return min(n, c.MaxOutputTokens)
}
