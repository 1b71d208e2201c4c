package search

import (
	"context"
	"errors"
	"testing"

	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/genai"
)

type stubSearcher struct {
	name    string
	summary string
	err     error
	calls   int
}

func (s *stubSearcher) Name() string { return s.name }

func (s *stubSearcher) Search(context.Context, string) (string, error) {
	s.calls++
	return s.summary, s.err
}

func TestChainFirstSuccessWins(t *testing.T) {
	failing := &stubSearcher{name: "a", err: errors.New("quota")}
	empty := &stubSearcher{name: "b"}
	ok := &stubSearcher{name: "c", summary: "news"}
	never := &stubSearcher{name: "d", summary: "unused"}

	got, err := NewChain(failing, empty, ok, never).Search(context.Background(), "what happened")
	require.NoError(t, err)
	assert.Equal(t, "news", got)
	assert.Equal(t, 1, failing.calls)
	assert.Equal(t, 1, empty.calls)
	assert.Zero(t, never.calls)
}

func TestChainAllFail(t *testing.T) {
	_, err := NewChain(&stubSearcher{name: "a", err: errors.New("down")}).Search(context.Background(), "q")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "a: down")

	_, err = NewChain().Search(context.Background(), "q")
	assert.ErrorIs(t, err, ErrNoSearcher)
}

func TestAugment(t *testing.T) {
	assert.Equal(t,
		"Web search results:\n\nS\n\n---\n\nUsing the above search results as context, please answer: Q",
		Augment("S", "Q"))
}

type fakeGenerator struct {
	model  string
	prompt string
	tools  []*genai.Tool
}

func (f *fakeGenerator) GenerateContent(_ context.Context, model string, contents []*genai.Content, cfg *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
	f.model = model
	f.prompt = contents[0].Parts[0].Text
	f.tools = cfg.Tools
	return &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{Content: genai.NewContentFromText("summary text", genai.RoleModel)}},
	}, nil
}

func TestGeminiSearcher(t *testing.T) {
	gen := &fakeGenerator{}
	s := &GeminiSearcher{models: gen, model: "gemini-2.0-flash"}

	got, err := s.Search(context.Background(), "go 1.24")
	require.NoError(t, err)
	assert.Equal(t, "summary text", got)
	assert.Equal(t, "gemini-2.0-flash", gen.model)
	assert.Equal(t, "Search the web and provide a comprehensive summary of current information about: go 1.24", gen.prompt)
	require.Len(t, gen.tools, 1)
	assert.NotNil(t, gen.tools[0].GoogleSearch)
}

type fakeTool struct {
	args string
}

func (f *fakeTool) Info(context.Context) (*schema.ToolInfo, error) {
	return &schema.ToolInfo{Name: "fake"}, nil
}

func (f *fakeTool) InvokableRun(_ context.Context, args string, _ ...tool.Option) (string, error) {
	f.args = args
	return "result", nil
}

func TestToolSearcher(t *testing.T) {
	ft := &fakeTool{}
	got, err := NewToolSearcher("fake", ft).Search(context.Background(), `say "hi"`)
	require.NoError(t, err)
	assert.Equal(t, "result", got)
	assert.JSONEq(t, `{"query":"say \"hi\""}`, ft.args)
}

func TestNewGoogleSearcherRequiresCredentials(t *testing.T) {
	_, err := NewGoogleSearcher(context.Background(), "", "")
	assert.Error(t, err)
}
