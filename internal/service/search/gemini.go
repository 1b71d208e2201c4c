package search

import (
	"context"
	"errors"
	"fmt"

	"google.golang.org/genai"
)

const searchPrompt = "Search the web and provide a comprehensive summary of current information about: "

type contentGenerator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// GeminiSearcher asks a Gemini model with the Google Search tool enabled.
type GeminiSearcher struct {
	models contentGenerator
	model  string
}

func NewGeminiSearcher(ctx context.Context, apiKey, model string) (*GeminiSearcher, error) {
	if apiKey == "" {
		return nil, errors.New("gemini search requires an API key")
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("gemini client: %w", err)
	}
	return &GeminiSearcher{models: client.Models, model: model}, nil
}

func (g *GeminiSearcher) Name() string { return "gemini" }

func (g *GeminiSearcher) Search(ctx context.Context, query string) (string, error) {
	resp, err := g.models.GenerateContent(ctx, g.model, genai.Text(searchPrompt+query), &genai.GenerateContentConfig{
		Tools: []*genai.Tool{{GoogleSearch: &genai.GoogleSearch{}}},
	})
	if err != nil {
		return "", fmt.Errorf("generate: %w", err)
	}
	return resp.Text(), nil
}
