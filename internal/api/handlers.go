package api

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"llmchat/internal/auth"
	"llmchat/internal/config"
	"llmchat/internal/events"
	"llmchat/internal/logging"
	"llmchat/internal/service/ai"
	"llmchat/internal/service/chat"
	"llmchat/internal/service/conversation"
	"llmchat/internal/uploads"
)

// Deps are the services the HTTP layer is wired to. Projects and Events are
// optional.
type Deps struct {
	Store     *conversation.Service
	Auth      *auth.Service
	Chat      *chat.Orchestrator
	Pending   uploads.Store
	Files     *uploads.Files
	Projects  *ai.LocalBackend
	Events    events.Publisher
	RateLimit config.RateLimitConfig
}

// Handler wires HTTP routes to the conversation store and the chat orchestrator.
type Handler struct {
	store    *conversation.Service
	auth     *auth.Service
	chat     *chat.Orchestrator
	pending  uploads.Store
	files    *uploads.Files
	projects *ai.LocalBackend
	events   events.Publisher
	limiter  *rateLimiter
	logger   zerolog.Logger
}

// NewHandler constructs a Handler instance.
func NewHandler(d Deps) *Handler {
	return &Handler{
		store:    d.Store,
		auth:     d.Auth,
		chat:     d.Chat,
		pending:  d.Pending,
		files:    d.Files,
		projects: d.Projects,
		events:   d.Events,
		limiter:  newRateLimiter(d.RateLimit),
		logger:   logging.Component("api"),
	}
}

// RegisterRoutes attaches all HTTP routes to the router.
func (h *Handler) RegisterRoutes(router *gin.Engine) {
	router.Use(requestLogger(h.logger))

	authMW := h.auth.Middleware()
	csrfMW := h.auth.CSRFMiddleware()

	api := router.Group("/api")
	api.POST("/users/register", h.registerUser)
	api.POST("/users/login", h.loginUser)

	account := api.Group("", authMW, csrfMW)
	account.POST("/users/logout", h.logoutUser)
	account.DELETE("/users/me", h.deleteUser)
	account.GET("/keys", h.listKeys)
	account.POST("/keys", h.setKey)
	account.DELETE("/keys/:provider", h.deleteKey)

	chatRoutes := router.Group("/chat", authMW, csrfMW)
	chatRoutes.GET("", h.chatIndex)
	chatRoutes.POST("/stream", h.rateLimit(), h.streamChat)
	chatRoutes.POST("/upload", h.rateLimit(), h.uploadFiles)
	chatRoutes.GET("/attachment/:id", h.getAttachment)
	chatRoutes.GET("/projects", h.listProjects)
	chatRoutes.GET("/templates", h.listTemplates)
	chatRoutes.POST("/templates", h.createTemplate)
	chatRoutes.DELETE("/templates/:id", h.deleteTemplate)
	chatRoutes.PUT("/settings", h.updateSettings)
	chatRoutes.GET("/:id", h.showConversation)
	chatRoutes.GET("/:id/export", h.exportConversation)
	chatRoutes.DELETE("/:id", h.deleteConversation)
}

// PruneLimiters drops rate limiters of users idle for a while.
func (h *Handler) PruneLimiters() int {
	return h.limiter.prune()
}

func (h *Handler) authorizedUserID(c *gin.Context) (int64, bool) {
	userID, ok := auth.UserID(c)
	if !ok || userID <= 0 {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "authorization required"})
		return 0, false
	}
	return userID, true
}

func pathID(c *gin.Context, name string) (int64, bool) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid " + name})
		return 0, false
	}
	return id, true
}

// writeError maps service errors onto status codes.
func (h *Handler) writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, chat.ErrValidation):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
	case errors.Is(err, conversation.ErrForbidden):
		c.JSON(http.StatusForbidden, gin.H{"error": "forbidden"})
	case errors.Is(err, sql.ErrNoRows):
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
	default:
		h.logger.Error().Err(err).Str("path", c.FullPath()).Msg("request failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

// discard removes orphaned attachment files: through the event bus when one
// is wired, directly otherwise.
func (h *Handler) discard(ctx context.Context, userID, conversationID int64, paths []string) {
	if h.events != nil {
		err := h.events.Publish(ctx, events.Event{
			Type:           events.KindDeleted,
			UserID:         userID,
			ConversationID: conversationID,
			Paths:          paths,
		})
		if err == nil {
			return
		}
		h.logger.Warn().Err(err).Int64("conversation_id", conversationID).Msg("publish delete event, removing files inline")
	}
	if h.files != nil {
		h.files.Remove(paths...)
	}
}

type credentialsRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func (h *Handler) registerUser(c *gin.Context) {
	var req credentialsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	user, err := h.store.RegisterUser(c.Request.Context(), req.Username, req.Password)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"id":         user.ID,
		"username":   user.Username,
		"created_at": user.CreatedAt,
	})
}

func (h *Handler) loginUser(c *gin.Context) {
	var req credentialsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	user, err := h.store.Login(c.Request.Context(), req.Username, req.Password)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
		return
	}
	token, err := h.auth.IssueToken(c.Request.Context(), user.ID)
	if err != nil {
		h.logger.Error().Err(err).Int64("user_id", user.ID).Msg("issue token")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "issue token failed"})
		return
	}
	csrf, err := h.auth.SetSession(c, token)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "issue token failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"id":         user.ID,
		"username":   user.Username,
		"auth_token": token,
		"csrf_token": csrf,
		"expires_at": time.Now().Add(h.auth.TokenTTL()).UTC(),
	})
}

func (h *Handler) logoutUser(c *gin.Context) {
	if token, ok := auth.Token(c); ok {
		if err := h.auth.RevokeToken(c.Request.Context(), token); err != nil {
			h.logger.Warn().Err(err).Msg("revoke token")
		}
	}
	h.auth.ClearSession(c)
	c.Status(http.StatusNoContent)
}

func (h *Handler) deleteUser(c *gin.Context) {
	userID, ok := h.authorizedUserID(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()
	if err := h.auth.RevokeUserTokens(ctx, userID); err != nil {
		h.writeError(c, err)
		return
	}
	paths, err := h.store.DeleteUser(ctx, userID)
	if err != nil {
		h.writeError(c, err)
		return
	}
	h.discard(ctx, userID, 0, paths)
	h.auth.ClearSession(c)
	c.Status(http.StatusNoContent)
}

type keyRequest struct {
	Provider string `json:"provider"`
	Key      string `json:"key"`
}

func (h *Handler) setKey(c *gin.Context) {
	userID, ok := h.authorizedUserID(c)
	if !ok {
		return
	}
	var req keyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	provider, ok := ai.ParseProvider(req.Provider)
	if !ok {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "provider must be anthropic, openai or gemini"})
		return
	}
	if req.Key == "" {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "key is required"})
		return
	}
	if err := h.store.SetProviderKey(c.Request.Context(), userID, string(provider), req.Key); err != nil {
		h.writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) listKeys(c *gin.Context) {
	userID, ok := h.authorizedUserID(c)
	if !ok {
		return
	}
	keys, err := h.store.ListProviderKeys(c.Request.Context(), userID)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"keys": keys})
}

func (h *Handler) deleteKey(c *gin.Context) {
	userID, ok := h.authorizedUserID(c)
	if !ok {
		return
	}
	if err := h.store.DeleteProviderKey(c.Request.Context(), userID, c.Param("provider")); err != nil {
		h.writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
