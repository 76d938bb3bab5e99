// Package provider defines the factory for selecting and constructing LLM
// backend implementations at runtime, plus the Generator adapter that exposes
// a ChatModel through the rag.Generator interface.
// Supported backends: Cerebras, OpenAI, Azure OpenAI, Ollama, Google Gemini, Ark.
package provider

import "fmt"

// Backend enumerates the supported LLM inference providers.
type Backend string

const (
	// BackendCerebras selects the Cerebras inference API (OpenAI-compatible).
	BackendCerebras Backend = "cerebras"
	// BackendOpenAI selects the OpenAI API.
	BackendOpenAI Backend = "openai"
	// BackendAzure selects Azure OpenAI Service.
	BackendAzure Backend = "azure"
	// BackendOllama selects a locally running Ollama instance.
	BackendOllama Backend = "ollama"
	// BackendGemini selects Google Gemini via AI Studio.
	BackendGemini Backend = "gemini"
	// BackendArk selects the Volcano Engine Ark model runtime.
	BackendArk Backend = "ark"
)

// Config holds all provider-level configuration resolved from environment
// variables or explicit caller-supplied values.
type Config struct {
	// Backend identifies which inference provider to use.
	Backend Backend

	// Model is the model name or deployment ID to use
	// (e.g. "llama-3.3-70b", "gpt-4o").
	Model string

	// BaseURL overrides the default API endpoint (required for Ollama and Azure).
	BaseURL string

	// APIKey is the authentication credential for the selected provider.
	// Unused for Ollama.
	APIKey string

	// AzureDeployment is the Azure OpenAI deployment name (Azure only).
	AzureDeployment string

	// AzureAPIVersion is the Azure OpenAI REST API version (Azure only).
	// Populated from AZURE_OPENAI_API_VERSION (e.g. "2024-02-01").
	AzureAPIVersion string

	// MaxTokens caps the number of tokens the model may generate per response.
	MaxTokens int

	// Temperature controls response randomness (0.0–1.0).
	Temperature float32
}

// Validate reports the first configuration error that would prevent the
// selected backend from being constructed. Called by New so callers get a
// clear error at startup rather than on the first request.
func (c *Config) Validate() error {
	switch c.Backend {
	case BackendCerebras:
		if c.APIKey == "" {
			return fmt.Errorf("provider: CEREBRAS_API_KEY is required for cerebras backend")
		}
	case BackendOpenAI:
		if c.APIKey == "" {
			return fmt.Errorf("provider: OPENAI_API_KEY is required for openai backend")
		}
	case BackendAzure:
		if c.APIKey == "" {
			return fmt.Errorf("provider: AZURE_OPENAI_API_KEY is required for azure backend")
		}
		if c.BaseURL == "" {
			return fmt.Errorf("provider: AZURE_OPENAI_ENDPOINT is required for azure backend")
		}
		if c.AzureDeployment == "" {
			return fmt.Errorf("provider: AZURE_OPENAI_DEPLOYMENT is required for azure backend")
		}
	case BackendOllama:
		// Host and model both have defaults.
	case BackendGemini:
		if c.APIKey == "" {
			return fmt.Errorf("provider: GOOGLE_API_KEY is required for gemini backend")
		}
	case BackendArk:
		if c.APIKey == "" {
			return fmt.Errorf("provider: ARK_API_KEY is required for ark backend")
		}
	default:
		return fmt.Errorf("provider: unknown backend %q — valid values: cerebras, openai, azure, ollama, gemini, ark", c.Backend)
	}
	if c.Model == "" {
		return fmt.Errorf("provider: model name must not be empty")
	}
	return nil
}
