package export

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"llmchat/internal/models"
)

func sampleConversation() (*models.Conversation, []*models.Message) {
	conv := &models.Conversation{
		Title:     "Trip planning",
		Model:     "gpt-4o",
		CreatedAt: time.Date(2025, 3, 4, 15, 6, 0, 0, time.UTC),
	}
	msgs := []*models.Message{
		{Role: models.RoleUser, Content: "Where should I go?"},
		{Role: models.RoleAssistant, Content: "Options:\n\n- Lisbon\n- Kyoto\n\n---\n\nEither works."},
		{Role: models.RoleUser, Content: "Kyoto it is"},
	}
	return conv, msgs
}

func TestMarkdownLayout(t *testing.T) {
	conv, msgs := sampleConversation()
	out := string(Markdown(conv, msgs[:1]))
	assert.Equal(t, "# Trip planning\n\nModel: gpt-4o\nDate: 2025-03-04 15:06\n\n---\n\n**User**\n\nWhere should I go?\n\n---\n\n", out)
}

func TestMarkdownRoundTrip(t *testing.T) {
	conv, msgs := sampleConversation()
	doc, err := ParseMarkdown(Markdown(conv, msgs))
	require.NoError(t, err)

	assert.Equal(t, "Trip planning", doc.Title)
	assert.Equal(t, "gpt-4o", doc.Model)
	assert.Equal(t, "2025-03-04 15:06", doc.Date)
	require.Len(t, doc.Messages, len(msgs))
	for i, m := range msgs {
		assert.Equal(t, m.Role, doc.Messages[i].Role)
		assert.Equal(t, m.Content, doc.Messages[i].Content)
	}
}

func TestMarkdownEmptyConversation(t *testing.T) {
	conv, _ := sampleConversation()
	doc, err := ParseMarkdown(Markdown(conv, nil))
	require.NoError(t, err)
	assert.Empty(t, doc.Messages)
}

func TestParseMarkdownRejectsGarbage(t *testing.T) {
	_, err := ParseMarkdown([]byte("hello"))
	assert.Error(t, err)
}

func TestSlugify(t *testing.T) {
	cases := map[string]string{
		"Trip planning":          "trip-planning",
		"  Café & Crème brûlée ": "cafe-creme-brulee",
		"Untitled":               "untitled",
		"日本語":                    "conversation",
		"":                       "conversation",
		"What's new in Go 1.24?": "what-s-new-in-go-1-24",
	}
	for in, want := range cases {
		assert.Equal(t, want, Slugify(in), in)
	}
	assert.Equal(t, "trip-planning.md", Filename("Trip planning"))
}
