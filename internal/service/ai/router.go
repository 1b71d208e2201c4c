package ai

import (
	"strings"

	"llmchat/internal/config"
)

// Provider names an upstream LLM vendor.
type Provider string

const (
	ProviderAnthropic Provider = config.ProviderAnthropic
	ProviderOpenAI    Provider = config.ProviderOpenAI
	ProviderGemini    Provider = config.ProviderGemini
)

// LocalProjectPrefix marks a model that runs the local agent CLI inside a
// project directory instead of calling a hosted provider.
const LocalProjectPrefix = "claude-code:"

var openAIPrefixes = []string{"gpt-", "o1-", "o3-"}

// Route maps a model identifier to its provider. Unknown and empty names fall
// through to Anthropic.
func Route(model string) Provider {
	for _, p := range openAIPrefixes {
		if strings.HasPrefix(model, p) {
			return ProviderOpenAI
		}
	}
	if strings.HasPrefix(model, "gemini-") {
		return ProviderGemini
	}
	return ProviderAnthropic
}

// IsLocalProject reports whether model targets a local project and returns
// the project name.
func IsLocalProject(model string) (string, bool) {
	if !strings.HasPrefix(model, LocalProjectPrefix) {
		return "", false
	}
	return strings.TrimPrefix(model, LocalProjectPrefix), true
}

// ParseProvider accepts a provider name in any case.
func ParseProvider(name string) (Provider, bool) {
	switch p := Provider(strings.ToLower(strings.TrimSpace(name))); p {
	case ProviderAnthropic, ProviderOpenAI, ProviderGemini:
		return p, true
	}
	return "", false
}
