package search

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/cloudwego/eino-ext/components/tool/duckduckgo/v2"
	"github.com/cloudwego/eino-ext/components/tool/googlesearch"
	"github.com/cloudwego/eino/components/tool"
)

// ToolSearcher runs an eino search tool and returns its raw result.
type ToolSearcher struct {
	name string
	tool tool.InvokableTool
}

func NewToolSearcher(name string, t tool.InvokableTool) *ToolSearcher {
	return &ToolSearcher{name: name, tool: t}
}

func (s *ToolSearcher) Name() string { return s.name }

func (s *ToolSearcher) Search(ctx context.Context, query string) (string, error) {
	payload, err := json.Marshal(map[string]string{"query": query})
	if err != nil {
		return "", fmt.Errorf("marshal search params: %w", err)
	}
	return s.tool.InvokableRun(ctx, string(payload))
}

// NewGoogleSearcher uses the Programmable Search API.
func NewGoogleSearcher(ctx context.Context, apiKey, engineID string) (*ToolSearcher, error) {
	if apiKey == "" || engineID == "" {
		return nil, errors.New("google search requires GOOGLE_API_KEY and GOOGLE_SEARCH_ENGINE_ID")
	}
	t, err := googlesearch.NewTool(ctx, &googlesearch.Config{
		ToolName:       "web_search_google",
		ToolDesc:       "Google Search Tool",
		APIKey:         apiKey,
		SearchEngineID: engineID,
		Lang:           "en",
		Num:            5,
	})
	if err != nil {
		return nil, fmt.Errorf("google search tool: %w", err)
	}
	return NewToolSearcher("google", t), nil
}

// NewDuckDuckGoSearcher needs no credentials.
func NewDuckDuckGoSearcher(ctx context.Context) (*ToolSearcher, error) {
	t, err := duckduckgo.NewTextSearchTool(ctx, &duckduckgo.Config{
		ToolName:   "web_search_ddg",
		ToolDesc:   "DuckDuckGo Search Tool (no token required)",
		MaxResults: 3,
		Region:     duckduckgo.RegionWT,
		Timeout:    10 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("duckduckgo search tool: %w", err)
	}
	return NewToolSearcher("duckduckgo", t), nil
}
