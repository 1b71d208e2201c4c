package search

import (
	"context"
	"strings"

	"llmchat/internal/config"
	"llmchat/internal/logging"
)

// FromConfig builds a chain from the configured backend order. Backends that
// cannot be initialised are logged and left out.
func FromConfig(ctx context.Context, cfg *config.Config) *Chain {
	logger := logging.Component("search")
	ws := cfg.Chat.WebSearch
	var searchers []Searcher
	for _, name := range ws.Backends {
		var (
			s   Searcher
			err error
		)
		switch strings.ToLower(strings.TrimSpace(name)) {
		case "gemini":
			s, err = NewGeminiSearcher(ctx, cfg.Provider(config.ProviderGemini).APIKey, ws.Model)
		case "google":
			s, err = NewGoogleSearcher(ctx, ws.GoogleAPIKey, ws.GoogleEngineID)
		case "duckduckgo", "ddg":
			s, err = NewDuckDuckGoSearcher(ctx)
		default:
			logger.Warn().Str("backend", name).Msg("unknown web search backend")
			continue
		}
		if err != nil {
			logger.Info().Err(err).Str("backend", name).Msg("web search backend disabled")
			continue
		}
		searchers = append(searchers, s)
	}
	return NewChain(searchers...)
}
