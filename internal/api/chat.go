package api

import (
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"os"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"llmchat/internal/export"
	"llmchat/internal/models"
	"llmchat/internal/service/ai"
	"llmchat/internal/service/chat"
	"llmchat/internal/uploads"
)

const (
	// maxUploadBody caps a whole upload request: every file at its limit
	// plus room for multipart headers.
	maxUploadBody = uploads.MaxFiles*uploads.MaxFileBytes + 1<<20

	conversationIDHeader = "X-Conversation-Id"
	streamErrorTrailer   = "X-Stream-Error"
)

func (h *Handler) chatIndex(c *gin.Context) {
	userID, ok := h.authorizedUserID(c)
	if !ok {
		return
	}
	h.renderChat(c, userID, nil)
}

func (h *Handler) showConversation(c *gin.Context) {
	userID, ok := h.authorizedUserID(c)
	if !ok {
		return
	}
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	conv, err := h.store.GetConversationWithMessages(c.Request.Context(), userID, id)
	if err != nil {
		h.writeError(c, err)
		return
	}
	for _, m := range conv.Messages {
		if m.InputTokens == nil || m.OutputTokens == nil {
			continue
		}
		if cost, ok := ai.Cost(conv.Model, *m.InputTokens, *m.OutputTokens); ok {
			m.Cost = &cost
		}
	}
	h.renderChat(c, userID, conv)
}

// renderChat writes the page props of the chat screen.
func (h *Handler) renderChat(c *gin.Context, userID int64, conv *models.Conversation) {
	ctx := c.Request.Context()
	list, err := h.store.ListConversations(ctx, userID)
	if err != nil {
		h.writeError(c, err)
		return
	}
	templates, err := h.store.ListTemplates(ctx, userID)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"conversations": list,
		"conversation":  conv,
		"templates":     templates,
		"default_model": h.chat.DefaultModel(),
	})
}

type streamRequest struct {
	Messages          []chat.InputMessage `json:"messages"`
	ConversationID    *int64              `json:"conversation_id"`
	Model             string              `json:"model"`
	SystemPrompt      *string             `json:"system_prompt"`
	AttachmentTempIDs []string            `json:"attachment_temp_ids"`
	WebSearch         bool                `json:"web_search"`
}

// streamChat resolves the conversation, then streams raw text deltas. Errors
// after the headers are sent arrive in-band as "Error: ..." and in the
// X-Stream-Error trailer.
func (h *Handler) streamChat(c *gin.Context) {
	userID, ok := h.authorizedUserID(c)
	if !ok {
		return
	}
	var req streamRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "streaming not supported"})
		return
	}

	ctx := c.Request.Context()
	sess, err := h.chat.Prepare(ctx, &chat.StreamInput{
		OwnerID:           userID,
		Messages:          req.Messages,
		ConversationID:    req.ConversationID,
		Model:             req.Model,
		SystemPrompt:      req.SystemPrompt,
		AttachmentTempIDs: req.AttachmentTempIDs,
		WebSearch:         req.WebSearch,
	})
	if err != nil {
		h.writeError(c, err)
		return
	}

	header := c.Writer.Header()
	header.Set("Content-Type", "text/event-stream")
	header.Set("Cache-Control", "no-cache")
	header.Set("Connection", "keep-alive")
	header.Set("X-Accel-Buffering", "no")
	header.Set(conversationIDHeader, strconv.FormatInt(sess.Conversation.ID, 10))
	header.Set("Trailer", streamErrorTrailer)
	c.Status(http.StatusOK)
	c.Writer.WriteHeaderNow()
	flusher.Flush()

	res, err := sess.Run(ctx, func(delta string) error {
		if _, err := c.Writer.WriteString(delta); err != nil {
			return err
		}
		flusher.Flush()
		return nil
	})
	if err != nil {
		h.logger.Error().Err(err).Int64("conversation_id", sess.Conversation.ID).Msg("persist assistant reply")
	}
	if res == nil {
		return
	}
	if res.StreamErr != nil {
		header.Set(streamErrorTrailer, trailerValue(res.StreamErr.Error()))
	}
	ev := h.logger.Debug().
		Int64("conversation_id", sess.Conversation.ID).
		Int("bytes", len(res.Text)).
		Bool("cancelled", res.Cancelled)
	if res.Usage != nil {
		ev = ev.Int("input_tokens", res.Usage.InputTokens).Int("output_tokens", res.Usage.OutputTokens)
	}
	ev.Msg("stream finished")
}

// trailerValue flattens a message into a single header line.
func trailerValue(msg string) string {
	msg = strings.Map(func(r rune) rune {
		if r == '\r' || r == '\n' {
			return ' '
		}
		return r
	}, msg)
	return strings.TrimSpace(msg)
}

func (h *Handler) uploadFiles(c *gin.Context) {
	userID, ok := h.authorizedUserID(c)
	if !ok {
		return
	}
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxUploadBody)
	form, err := c.MultipartForm()
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": fmt.Sprintf("upload exceeds %d bytes", maxUploadBody)})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid multipart form"})
		return
	}
	headers := form.File["files"]
	if err := uploads.ValidateBatch(headers); err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
		return
	}

	saved := make([]*uploads.Pending, 0, len(headers))
	cleanup := func() {
		for _, p := range saved {
			h.files.Remove(p.StoragePath)
		}
	}
	for _, fh := range headers {
		p, err := h.saveUpload(userID, fh)
		if err != nil {
			cleanup()
			if errors.Is(err, uploads.ErrUnsupportedType) {
				c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
				return
			}
			h.writeError(c, err)
			return
		}
		saved = append(saved, p)
	}

	ids := make([]string, 0, len(saved))
	for _, p := range saved {
		token, err := h.pending.Put(c.Request.Context(), *p)
		if err != nil {
			cleanup()
			h.writeError(c, err)
			return
		}
		ids = append(ids, token)
	}
	c.JSON(http.StatusOK, gin.H{"temp_ids": ids})
}

func (h *Handler) saveUpload(userID int64, fh *multipart.FileHeader) (*uploads.Pending, error) {
	p, err := h.files.Save(userID, fh)
	if err != nil {
		return nil, fmt.Errorf("save %s: %w", fh.Filename, err)
	}
	return p, nil
}

func (h *Handler) getAttachment(c *gin.Context) {
	userID, ok := h.authorizedUserID(c)
	if !ok {
		return
	}
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	att, err := h.store.GetAttachment(c.Request.Context(), userID, id)
	if err != nil {
		h.writeError(c, err)
		return
	}
	f, err := os.Open(att.StoragePath)
	if err != nil {
		if os.IsNotExist(err) {
			c.JSON(http.StatusNotFound, gin.H{"error": "file not found"})
			return
		}
		h.writeError(c, err)
		return
	}
	defer f.Close()
	c.DataFromReader(http.StatusOK, att.Size, att.MimeType, f, map[string]string{
		"Content-Disposition": fmt.Sprintf("inline; filename=%q", att.Filename),
	})
}

func (h *Handler) exportConversation(c *gin.Context) {
	userID, ok := h.authorizedUserID(c)
	if !ok {
		return
	}
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	conv, err := h.store.GetConversationWithMessages(c.Request.Context(), userID, id)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, export.Filename(conv.Title)))
	c.Data(http.StatusOK, "text/markdown; charset=utf-8", export.Markdown(conv, conv.Messages))
}

func (h *Handler) deleteConversation(c *gin.Context) {
	userID, ok := h.authorizedUserID(c)
	if !ok {
		return
	}
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	ctx := c.Request.Context()
	paths, err := h.store.DeleteConversation(ctx, userID, id)
	if err != nil {
		h.writeError(c, err)
		return
	}
	h.discard(ctx, userID, id, paths)
	c.Status(http.StatusNoContent)
}
