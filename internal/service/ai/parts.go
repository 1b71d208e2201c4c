package ai

import (
	"context"
	"encoding/base64"
	"fmt"
	"os"
	"strings"

	"github.com/cloudwego/eino-ext/components/document/loader/file"
	"github.com/cloudwego/eino-ext/components/document/parser/pdf"
	"github.com/cloudwego/eino/components/document"
	"github.com/cloudwego/eino/components/document/parser"
	"github.com/cloudwego/eino/schema"
	"github.com/rs/zerolog"

	"llmchat/internal/logging"
	"llmchat/internal/models"
)

const mimePDF = "application/pdf"

// PartBuilder turns stored attachments into multimodal message parts.
type PartBuilder struct {
	loader *file.FileLoader
	pdf    parser.Parser
	logger zerolog.Logger
}

func NewPartBuilder(ctx context.Context) (*PartBuilder, error) {
	pdfParser, err := pdf.NewPDFParser(ctx, &pdf.Config{})
	if err != nil {
		return nil, fmt.Errorf("init pdf parser: %w", err)
	}
	extParser, err := parser.NewExtParser(ctx, &parser.ExtParserConfig{
		Parsers:        map[string]parser.Parser{".pdf": pdfParser},
		FallbackParser: parser.TextParser{},
	})
	if err != nil {
		return nil, fmt.Errorf("init parser: %w", err)
	}
	loader, err := file.NewFileLoader(ctx, &file.FileLoaderConfig{
		UseNameAsID: true,
		Parser:      extParser,
	})
	if err != nil {
		return nil, fmt.Errorf("init file loader: %w", err)
	}
	return &PartBuilder{loader: loader, pdf: pdfParser, logger: logging.Component("parts")}, nil
}

// acceptsFileParts reports whether the provider's converter takes raw
// document parts. The others get the extracted text.
func acceptsFileParts(modelName string) bool {
	if _, local := IsLocalProject(modelName); local {
		return false
	}
	return Route(modelName) == ProviderGemini
}

// Build returns one part per readable attachment, shaped for the provider
// behind modelName. Unreadable files are logged and skipped.
func (b *PartBuilder) Build(ctx context.Context, modelName string, atts []*models.Attachment) []schema.MessageInputPart {
	native := acceptsFileParts(modelName)
	parts := make([]schema.MessageInputPart, 0, len(atts))
	for _, att := range atts {
		if att == nil {
			continue
		}
		part, err := b.part(ctx, att, native)
		if err != nil {
			b.logger.Warn().Err(err).Int64("attachment_id", att.ID).Str("filename", att.Filename).Msg("skip attachment")
			continue
		}
		parts = append(parts, part)
	}
	return parts
}

func (b *PartBuilder) part(ctx context.Context, att *models.Attachment, native bool) (schema.MessageInputPart, error) {
	switch {
	case att.IsImage():
		data, err := readBase64(att.StoragePath)
		if err != nil {
			return schema.MessageInputPart{}, err
		}
		return schema.MessageInputPart{
			Type:  schema.ChatMessagePartTypeImageURL,
			Image: &schema.MessageInputImage{MessagePartCommon: inline(data, att.MimeType)},
		}, nil
	case native && !strings.HasPrefix(att.MimeType, "text/"):
		data, err := readBase64(att.StoragePath)
		if err != nil {
			return schema.MessageInputPart{}, err
		}
		return schema.MessageInputPart{
			Type: schema.ChatMessagePartTypeFileURL,
			File: &schema.MessageInputFile{MessagePartCommon: inline(data, att.MimeType)},
		}, nil
	default:
		text, err := b.extractText(ctx, att)
		if err != nil {
			return schema.MessageInputPart{}, err
		}
		if text == "" {
			text = "(no extractable text)"
		}
		return schema.MessageInputPart{
			Type: schema.ChatMessagePartTypeText,
			Text: fmt.Sprintf("File: %s\n\n%s", att.Filename, text),
		}, nil
	}
}

// extractText reads a document as plain text. PDFs go to the PDF parser by
// MIME type so a stored name without the extension still parses.
func (b *PartBuilder) extractText(ctx context.Context, att *models.Attachment) (string, error) {
	if att.MimeType != mimePDF {
		docs, err := b.loader.Load(ctx, document.Source{URI: att.StoragePath})
		if err != nil {
			return "", fmt.Errorf("load file: %w", err)
		}
		return joinDocs(docs), nil
	}
	f, err := os.Open(att.StoragePath)
	if err != nil {
		return "", fmt.Errorf("open attachment: %w", err)
	}
	defer f.Close()
	docs, err := b.pdf.Parse(ctx, f, parser.WithURI(att.StoragePath))
	if err != nil {
		return "", fmt.Errorf("parse pdf: %w", err)
	}
	return joinDocs(docs), nil
}

func joinDocs(docs []*schema.Document) string {
	var sb strings.Builder
	for _, doc := range docs {
		content := strings.TrimSpace(doc.Content)
		if content == "" {
			continue
		}
		if sb.Len() > 0 {
			sb.WriteString("\n\n")
		}
		sb.WriteString(content)
	}
	return sb.String()
}

func readBase64(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read attachment: %w", err)
	}
	return base64.StdEncoding.EncodeToString(data), nil
}

func inline(data, mimeType string) schema.MessagePartCommon {
	return schema.MessagePartCommon{Base64Data: &data, MIMEType: mimeType}
}

// UserMessage builds the user turn. With parts, the text becomes the first
// input part and Content stays empty.
func UserMessage(text string, parts []schema.MessageInputPart) *schema.Message {
	if len(parts) == 0 {
		return schema.UserMessage(text)
	}
	multi := make([]schema.MessageInputPart, 0, len(parts)+1)
	multi = append(multi, schema.MessageInputPart{Type: schema.ChatMessagePartTypeText, Text: text})
	multi = append(multi, parts...)
	return &schema.Message{Role: schema.User, UserInputMultiContent: multi}
}

// MessageText returns the leading text of a message.
func MessageText(msg *schema.Message) string {
	if msg == nil {
		return ""
	}
	if len(msg.UserInputMultiContent) > 0 && msg.UserInputMultiContent[0].Type == schema.ChatMessagePartTypeText {
		return msg.UserInputMultiContent[0].Text
	}
	return msg.Content
}

// WithText returns a copy of msg whose leading text is replaced. Attachment
// parts are kept.
func WithText(msg *schema.Message, text string) *schema.Message {
	out := *msg
	if len(msg.UserInputMultiContent) > 0 && msg.UserInputMultiContent[0].Type == schema.ChatMessagePartTypeText {
		out.UserInputMultiContent = append([]schema.MessageInputPart(nil), msg.UserInputMultiContent...)
		out.UserInputMultiContent[0].Text = text
		return &out
	}
	out.Content = text
	return &out
}
