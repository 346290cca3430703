// ABOUTME: LLM provider detection from environment variables and mux client construction.
// ABOUTME: Checks Anthropic, OpenAI and Gemini API keys without exposing secrets.
package server

import (
	"context"
	"fmt"
	"os"
	"strings"

	muxllm "github.com/2389-research/mux/llm"
)

// ProviderInfo describes the status of a single LLM provider.
type ProviderInfo struct {
	Name      string  `json:"name"`
	HasAPIKey bool    `json:"has_api_key"`
	Model     string  `json:"model"`
	BaseURL   *string `json:"base_url,omitempty"`
}

// ProviderStatus is the aggregated provider availability.
type ProviderStatus struct {
	DefaultProvider string         `json:"default_provider"`
	DefaultModel    *string        `json:"default_model,omitempty"`
	Providers       []ProviderInfo `json:"providers"`
	AnyAvailable    bool           `json:"any_available"`
}

// DetectProviders checks environment variables to determine which LLM
// providers are configured.
func DetectProviders(defaultProvider, defaultModel string) ProviderStatus {
	if defaultProvider == "" {
		defaultProvider = "anthropic"
	}
	providers := []ProviderInfo{
		checkProvider("anthropic", "ANTHROPIC_API_KEY", "ANTHROPIC_MODEL", "ANTHROPIC_BASE_URL", "claude-sonnet-4-5-20250929"),
		checkProvider("openai", "OPENAI_API_KEY", "OPENAI_MODEL", "OPENAI_BASE_URL", "gpt-4o"),
		checkProvider("gemini", "GEMINI_API_KEY", "GEMINI_MODEL", "GEMINI_BASE_URL", "gemini-2.0-flash"),
	}

	anyAvailable := false
	for _, p := range providers {
		if p.HasAPIKey {
			anyAvailable = true
			break
		}
	}

	var modelPtr *string
	if defaultModel != "" {
		modelPtr = &defaultModel
	}

	return ProviderStatus{
		DefaultProvider: defaultProvider,
		DefaultModel:    modelPtr,
		Providers:       providers,
		AnyAvailable:    anyAvailable,
	}
}

func checkProvider(name, keyVar, modelVar, baseURLVar, defaultModel string) ProviderInfo {
	model := os.Getenv(modelVar)
	if model == "" {
		model = defaultModel
	}
	var baseURLPtr *string
	if baseURL := os.Getenv(baseURLVar); baseURL != "" {
		baseURLPtr = &baseURL
	}
	return ProviderInfo{
		Name:      name,
		HasAPIKey: os.Getenv(keyVar) != "",
		Model:     model,
		BaseURL:   baseURLPtr,
	}
}

// NewLLMClient picks the default provider when it has a key, else the first
// provider that does. It returns a nil client when none is configured.
func NewLLMClient(ctx context.Context, ps ProviderStatus) (muxllm.Client, string, error) {
	if !ps.AnyAvailable {
		return nil, "", nil
	}
	pick := func(p ProviderInfo) (muxllm.Client, string, error) {
		model := p.Model
		if ps.DefaultModel != nil && p.Name == ps.DefaultProvider {
			model = *ps.DefaultModel
		}
		client, err := newMuxClient(ctx, p.Name, os.Getenv(strings.ToUpper(p.Name)+"_API_KEY"), model)
		return client, model, err
	}
	for _, p := range ps.Providers {
		if p.Name == ps.DefaultProvider && p.HasAPIKey {
			return pick(p)
		}
	}
	for _, p := range ps.Providers {
		if p.HasAPIKey {
			return pick(p)
		}
	}
	return nil, "", nil
}

func newMuxClient(ctx context.Context, name, apiKey, model string) (muxllm.Client, error) {
	switch name {
	case "anthropic":
		return muxllm.NewAnthropicClient(apiKey, model), nil
	case "openai":
		return muxllm.NewOpenAIClient(apiKey, model), nil
	case "gemini":
		client, err := muxllm.NewGeminiClient(ctx, apiKey, model)
		if err != nil {
			return nil, fmt.Errorf("create gemini client: %w", err)
		}
		return client, nil
	default:
		return nil, fmt.Errorf("unknown provider %q", name)
	}
}
