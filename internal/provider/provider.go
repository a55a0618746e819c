// Package provider maps requested model names to upstream inference providers.
package provider

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"modelgate/internal/config"
)

// Provider identifies an upstream inference backend.
type Provider string

const (
	Ollama Provider = "ollama"
	OpenAI Provider = "openai"
)

// ollamaPrefix routes a model to Ollama when it leads the model name.
const ollamaPrefix = "ollama/"

var (
	// ErrMissingAPIKey is returned when openai is selected but no key is configured.
	ErrMissingAPIKey = errors.New("OPENAI_API_KEY not set but provider=openai")
	// ErrUnknownProvider is returned for providers without a target definition.
	ErrUnknownProvider = errors.New("unknown provider")
)

// Target is where a request for one provider is sent.
type Target struct {
	BaseURL string
	Header  http.Header
}

// URL joins the base URL and an operation path.
func (t Target) URL(operation string) string {
	return strings.TrimRight(t.BaseURL, "/") + operation
}

// Resolver picks providers and their targets from immutable configuration.
type Resolver struct {
	defaultProvider Provider
	openAIKey       string
	openAIBaseURL   string
	ollamaBaseURL   string
}

// NewResolver creates a Resolver from configuration.
func NewResolver(cfg *config.Config) *Resolver {
	return &Resolver{
		defaultProvider: Provider(strings.ToLower(cfg.Gateway.DefaultProvider)),
		openAIKey:       cfg.OpenAI.APIKey,
		openAIBaseURL:   cfg.OpenAI.BaseURL,
		ollamaBaseURL:   cfg.Ollama.BaseURL,
	}
}

// Default returns the provider used for models without a routing prefix.
func (r *Resolver) Default() Provider {
	return r.defaultProvider
}

// Resolve returns the provider for a model name. An empty model means the
// field was absent.
func (r *Resolver) Resolve(model string) Provider {
	if hasOllamaPrefix(model) {
		return Ollama
	}
	return r.defaultProvider
}

// Target returns the upstream target for p. It fails rather than produce an
// unauthenticated request when a required credential is missing.
func (r *Resolver) Target(p Provider) (Target, error) {
	switch p {
	case Ollama:
		return Target{BaseURL: r.ollamaBaseURL, Header: http.Header{}}, nil
	case OpenAI:
		if r.openAIKey == "" {
			return Target{}, ErrMissingAPIKey
		}
		h := http.Header{}
		h.Set("Authorization", "Bearer "+r.openAIKey)
		return Target{BaseURL: r.openAIBaseURL, Header: h}, nil
	default:
		return Target{}, fmt.Errorf("%w: %q", ErrUnknownProvider, string(p))
	}
}

// Normalize rewrites a model name into the identifier p expects. Only Ollama
// needs rewriting: the routing prefix is removed once, so "ollama/a/b"
// becomes "a/b". Apply at most once per request.
func Normalize(model string, p Provider) string {
	if p != Ollama || !hasOllamaPrefix(model) {
		return model
	}
	_, rest, _ := strings.Cut(model, "/")
	return rest
}

func hasOllamaPrefix(model string) bool {
	return len(model) >= len(ollamaPrefix) && strings.EqualFold(model[:len(ollamaPrefix)], ollamaPrefix)
}
