package generate

import "github.com/sitelift/sitelift/internal/domain"

// Provider identifiers accepted for session LLM credentials.
const (
	ProviderPerplexity = "perplexity"
	ProviderOpenAI     = "openai"
	ProviderAnthropic  = "anthropic"
	ProviderGemini     = "gemini"
	ProviderAIPipe     = "aipipe"
)

var providerModels = map[string][]string{
	ProviderAIPipe: {
		"openai/gpt-5",
		"openai/gpt-5-mini",
		"openai/gpt-5-nano",
		"anthropic/claude-3.5-sonnet",
		"google/gemini-2.5-flash",
	},
	ProviderGemini: {
		"gemini-2.5-pro",
		"gemini-2.5-flash",
		"gemini-2.5-flash-lite",
		"gemini-2.0-flash",
		"gemini-2.0-flash-lite",
	},
	ProviderPerplexity: {
		"sonar-pro",
		"sonar-reasoning-pro",
		"sonar",
	},
	ProviderOpenAI: {
		"gpt-5",
		"gpt-5-mini",
		"gpt-5-nano",
	},
	ProviderAnthropic: {
		"claude-sonnet-4-20250514",
		"claude-opus-4-1-20250805",
		"claude-opus-4-20250514",
		"claude-3-7-sonnet-20250219",
		"claude-3-5-haiku-20241022",
	},
}

// SupportedProvider reports whether the provider id is known.
func SupportedProvider(provider string) bool {
	_, ok := providerModels[provider]
	return ok
}

// ResolveModel picks the model for a provider, defaulting to the first
// entry of its catalog when none was requested.
func ResolveModel(provider, requested string) (string, error) {
	models, ok := providerModels[provider]
	if !ok {
		return "", domain.Validationf("unsupported LLM provider: %s", provider)
	}
	if requested != "" {
		return requested, nil
	}
	return models[0], nil
}
