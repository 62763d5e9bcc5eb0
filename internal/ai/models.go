package ai

import "strings"

// ModelInfo carries the context window used to budget prompts.
type ModelInfo struct {
	Name          string
	ContextTokens int // approximate context window
}

// DefaultContextTokens is assumed for models missing from the catalog.
const DefaultContextTokens = 8192

var models = map[string]ModelInfo{
	"gemini-2.0-flash":            {Name: "gemini-2.0-flash", ContextTokens: 1048576},
	"gemini-2.0-flash-lite":       {Name: "gemini-2.0-flash-lite", ContextTokens: 1048576},
	"gemini-1.5-flash":            {Name: "gemini-1.5-flash", ContextTokens: 1000000},
	"gemini-1.5-pro":              {Name: "gemini-1.5-pro", ContextTokens: 2000000},
	"google/gemini-2.0-flash-001": {Name: "google/gemini-2.0-flash-001", ContextTokens: 1048576},
	"openai/gpt-4o-mini":          {Name: "openai/gpt-4o-mini", ContextTokens: 128000},
	"deepseek/deepseek-r1:free":   {Name: "deepseek/deepseek-r1:free", ContextTokens: 128000},
	"llama3.1:8b":                 {Name: "llama3.1:8b", ContextTokens: 131072},
	"llama3:latest":               {Name: "llama3:latest", ContextTokens: 8192},
	"mistral:7b-instruct":         {Name: "mistral:7b-instruct", ContextTokens: 8192},
	"phi3:mini-4k-instruct":       {Name: "phi3:mini-4k-instruct", ContextTokens: 4096},
}

// LookupModel returns ModelInfo and ok flag. A "models/" prefix is ignored.
func LookupModel(name string) (ModelInfo, bool) {
	mi, ok := models[strings.TrimPrefix(name, "models/")]
	return mi, ok
}

// ContextTokens returns the model's context window or DefaultContextTokens.
func ContextTokens(name string) int {
	if mi, ok := LookupModel(name); ok && mi.ContextTokens > 0 {
		return mi.ContextTokens
	}
	return DefaultContextTokens
}
