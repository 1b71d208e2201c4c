// Package export renders conversations as Markdown documents.
package export

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"llmchat/internal/models"
)

const (
	separator      = "\n\n---\n\n"
	userLabel      = "**User**"
	assistantLabel = "**Assistant**"
	dateLayout     = "2006-01-02 15:04"
)

// Markdown renders conv and its messages. The layout is:
//
//	# {title}
//
//	Model: {model}
//	Date: {created}
//
//	---
//
//	**User**
//
//	{content}
//
//	---
func Markdown(conv *models.Conversation, messages []*models.Message) []byte {
	var b bytes.Buffer
	fmt.Fprintf(&b, "# %s\n\n", conv.Title)
	fmt.Fprintf(&b, "Model: %s\n", conv.Model)
	fmt.Fprintf(&b, "Date: %s", conv.CreatedAt.Format(dateLayout))
	b.WriteString(separator)
	for _, m := range messages {
		label := assistantLabel
		if m.Role == models.RoleUser {
			label = userLabel
		}
		b.WriteString(label)
		b.WriteString("\n\n")
		b.WriteString(m.Content)
		b.WriteString(separator)
	}
	return b.Bytes()
}

// Document is a parsed export.
type Document struct {
	Title    string
	Model    string
	Date     string
	Messages []Turn
}

type Turn struct {
	Role    models.Role
	Content string
}

var errMalformed = errors.New("malformed conversation export")

// ParseMarkdown reads a document produced by Markdown. Message bodies that
// themselves contain a line holding only "---" followed by a role label are
// ambiguous and split there.
func ParseMarkdown(data []byte) (*Document, error) {
	text := string(data)
	head, body, ok := strings.Cut(text, separator)
	if !ok {
		return nil, errMalformed
	}
	doc := &Document{}
	sc := bufio.NewScanner(strings.NewReader(head))
	for sc.Scan() {
		line := sc.Text()
		switch {
		case strings.HasPrefix(line, "# ") && doc.Title == "":
			doc.Title = strings.TrimPrefix(line, "# ")
		case strings.HasPrefix(line, "Model: "):
			doc.Model = strings.TrimPrefix(line, "Model: ")
		case strings.HasPrefix(line, "Date: "):
			doc.Date = strings.TrimPrefix(line, "Date: ")
		}
	}
	if !strings.HasPrefix(head, "# ") {
		return nil, errMalformed
	}

	for body != "" {
		var role models.Role
		switch {
		case strings.HasPrefix(body, userLabel+"\n\n"):
			role = models.RoleUser
			body = strings.TrimPrefix(body, userLabel+"\n\n")
		case strings.HasPrefix(body, assistantLabel+"\n\n"):
			role = models.RoleAssistant
			body = strings.TrimPrefix(body, assistantLabel+"\n\n")
		default:
			return nil, fmt.Errorf("%w: expected role label", errMalformed)
		}
		end := nextTurn(body)
		if end < 0 {
			return nil, fmt.Errorf("%w: unterminated message", errMalformed)
		}
		doc.Messages = append(doc.Messages, Turn{Role: role, Content: body[:end]})
		body = body[end+len(separator):]
	}
	return doc, nil
}

// nextTurn finds the separator that ends the current message: one followed
// by a role label or by the end of the document.
func nextTurn(body string) int {
	offset := 0
	for {
		i := strings.Index(body[offset:], separator)
		if i < 0 {
			return -1
		}
		at := offset + i
		rest := body[at+len(separator):]
		if rest == "" || strings.HasPrefix(rest, userLabel+"\n\n") || strings.HasPrefix(rest, assistantLabel+"\n\n") {
			return at
		}
		offset = at + 1
	}
}

// Slugify turns a title into a lowercase ASCII file name stem.
func Slugify(title string) string {
	t := transform.Chain(norm.NFKD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, title)
	if err != nil {
		folded = title
	}
	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(folded) {
		switch {
		case r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)):
			b.WriteRune(r)
			dash = false
		case b.Len() > 0 && !dash:
			b.WriteByte('-')
			dash = true
		}
	}
	slug := strings.TrimRight(b.String(), "-")
	if slug == "" {
		return "conversation"
	}
	return slug
}

// Filename is the attachment name used for a conversation export.
func Filename(title string) string {
	return Slugify(title) + ".md"
}
