package llm

import "time"

// Provider constants
const (
	// DefaultProvider is the default LLM provider
	DefaultProvider = ProviderOpenAI

	ProviderOpenAI    Provider = "openai"
	ProviderOllama    Provider = "ollama"
	ProviderAnthropic Provider = "anthropic"
	ProviderGemini    Provider = "gemini"
)

// DefaultOllamaURL is the default URL for Ollama server
const DefaultOllamaURL = "http://localhost:11434"

// defaultModels maps each provider to the model used when none is configured.
var defaultModels = map[Provider]string{
	ProviderOpenAI:    "gpt-5-mini",
	ProviderAnthropic: "claude-3-5-sonnet-latest",
	ProviderGemini:    "gemini-2.0-flash",
	ProviderOllama:    "llama3.2",
}

// DefaultModelForProvider returns the default model ID for a given provider.
func DefaultModelForProvider(p Provider) string {
	return defaultModels[p]
}

// Request defaults for classification calls: low temperature, bounded output.
const (
	DefaultTemperature       float32 = 0.3
	DefaultMaxTokens                 = 2000
	DefaultRequestsPerSecond         = 5.0
	DefaultMaxAttempts               = 3
	DefaultRetryBaseDelay            = time.Second
)

// JSONSystemPrompt is used for JSON-mode calls that do not bring their own system prompt.
const JSONSystemPrompt = "You are a security analysis expert. Always respond with valid JSON only, no additional text."
