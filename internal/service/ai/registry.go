package ai

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/cloudwego/eino-ext/components/model/claude"
	"github.com/cloudwego/eino-ext/components/model/gemini"
	"github.com/cloudwego/eino-ext/components/model/openai"
	"github.com/cloudwego/eino/components/model"
	"google.golang.org/genai"

	"llmchat/internal/config"
)

const defaultMaxTokens = 4096

// ErrNoAPIKey means neither the user nor the server has a key for the provider.
var ErrNoAPIKey = errors.New("no API key configured for provider")

// ModelFactory builds a chat model for one provider.
type ModelFactory func(ctx context.Context, cfg config.ProviderConfig, modelName, apiKey string) (model.BaseChatModel, error)

// Registry resolves a model identifier to a ready Backend.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]config.ProviderConfig
	factories map[Provider]ModelFactory
	local     *LocalBackend
}

// NewRegistry wires the default eino factories for every provider.
func NewRegistry(providers map[string]config.ProviderConfig, local *LocalBackend) *Registry {
	return &Registry{
		providers: providers,
		factories: map[Provider]ModelFactory{
			ProviderAnthropic: newClaudeModel,
			ProviderOpenAI:    newOpenAIModel,
			ProviderGemini:    newGeminiModel,
		},
		local: local,
	}
}

// Register replaces the factory for a provider.
func (r *Registry) Register(p Provider, f ModelFactory) {
	r.mu.Lock()
	r.factories[p] = f
	r.mu.Unlock()
}

// ServerKey returns the configured key for a provider.
func (r *Registry) ServerKey(p Provider) string {
	return r.providers[string(p)].APIKey
}

// Backend returns the backend for modelName. apiKey overrides the server key
// when non-empty.
func (r *Registry) Backend(ctx context.Context, modelName, apiKey string) (Backend, error) {
	if project, ok := IsLocalProject(modelName); ok {
		if r.local == nil {
			return nil, errors.New("local projects are not configured")
		}
		return r.local.Project(project)
	}

	provider := Route(modelName)
	r.mu.RLock()
	factory, ok := r.factories[provider]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("no factory for provider %s", provider)
	}
	if apiKey == "" {
		apiKey = r.ServerKey(provider)
	}
	if apiKey == "" {
		return nil, fmt.Errorf("%s: %w", provider, ErrNoAPIKey)
	}
	m, err := factory(ctx, r.providers[string(provider)], modelName, apiKey)
	if err != nil {
		return nil, fmt.Errorf("init %s model: %w", provider, err)
	}
	return NewChatModelBackend(m), nil
}

func newOpenAIModel(ctx context.Context, cfg config.ProviderConfig, modelName, apiKey string) (model.BaseChatModel, error) {
	return openai.NewChatModel(ctx, &openai.ChatModelConfig{
		BaseURL: cfg.BaseURL,
		Model:   modelName,
		APIKey:  apiKey,
	})
}

func newClaudeModel(ctx context.Context, cfg config.ProviderConfig, modelName, apiKey string) (model.BaseChatModel, error) {
	var baseURL *string
	if cfg.BaseURL != "" {
		baseURL = &cfg.BaseURL
	}
	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}
	return claude.NewChatModel(ctx, &claude.Config{
		APIKey:    apiKey,
		Model:     modelName,
		BaseURL:   baseURL,
		MaxTokens: maxTokens,
	})
}

func newGeminiModel(ctx context.Context, cfg config.ProviderConfig, modelName, apiKey string) (model.BaseChatModel, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:      apiKey,
		Backend:     genai.BackendGeminiAPI,
		HTTPOptions: genai.HTTPOptions{BaseURL: cfg.BaseURL},
	})
	if err != nil {
		return nil, fmt.Errorf("gemini client: %w", err)
	}
	return gemini.NewChatModel(ctx, &gemini.Config{
		Client: client,
		Model:  modelName,
	})
}
