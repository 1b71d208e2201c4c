package api

import (
	"net/http"
	"strings"
	"unicode/utf8"

	"github.com/gin-gonic/gin"

	"llmchat/internal/service/ai"
	"llmchat/internal/service/chat"
)

type projectView struct {
	Name  string `json:"name"`
	Model string `json:"model"`
}

func (h *Handler) listProjects(c *gin.Context) {
	out := make([]projectView, 0)
	if h.projects != nil {
		names, err := h.projects.ListProjects()
		if err != nil {
			h.writeError(c, err)
			return
		}
		for _, name := range names {
			out = append(out, projectView{Name: name, Model: ai.LocalProjectPrefix + name})
		}
	}
	c.JSON(http.StatusOK, gin.H{"projects": out})
}

func (h *Handler) listTemplates(c *gin.Context) {
	userID, ok := h.authorizedUserID(c)
	if !ok {
		return
	}
	templates, err := h.store.ListTemplates(c.Request.Context(), userID)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"templates": templates})
}

type templateRequest struct {
	Name   string `json:"name"`
	Prompt string `json:"prompt"`
}

func (h *Handler) createTemplate(c *gin.Context) {
	userID, ok := h.authorizedUserID(c)
	if !ok {
		return
	}
	var req templateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	switch {
	case strings.TrimSpace(req.Name) == "":
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "name is required"})
		return
	case strings.TrimSpace(req.Prompt) == "":
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "prompt is required"})
		return
	case utf8.RuneCountInString(req.Prompt) > chat.MaxSystemPromptLen:
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "prompt is too long"})
		return
	}
	tpl, err := h.store.CreateTemplate(c.Request.Context(), &userID, req.Name, req.Prompt)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, tpl)
}

func (h *Handler) deleteTemplate(c *gin.Context) {
	userID, ok := h.authorizedUserID(c)
	if !ok {
		return
	}
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	if err := h.store.DeleteTemplate(c.Request.Context(), userID, id); err != nil {
		h.writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

type settingsRequest struct {
	DefaultSystemPrompt *string `json:"default_system_prompt"`
}

// updateSettings stores the user's default system prompt; null or blank clears it.
func (h *Handler) updateSettings(c *gin.Context) {
	userID, ok := h.authorizedUserID(c)
	if !ok {
		return
	}
	var req settingsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if req.DefaultSystemPrompt != nil && utf8.RuneCountInString(*req.DefaultSystemPrompt) > chat.MaxSystemPromptLen {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "default_system_prompt is too long"})
		return
	}
	ctx := c.Request.Context()
	if err := h.store.SetDefaultSystemPrompt(ctx, userID, req.DefaultSystemPrompt); err != nil {
		h.writeError(c, err)
		return
	}
	user, err := h.store.GetUser(ctx, userID)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"default_system_prompt": user.DefaultSystemPrompt})
}
