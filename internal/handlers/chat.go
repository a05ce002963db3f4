package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"community-chat-service/internal/models"
	"community-chat-service/internal/repositories"
	"community-chat-service/internal/telemetry"
	"community-chat-service/internal/ws"
)

// ChatHandler serves the REST half of the messaging core. Sends go through
// the same store operation as the socket path so validation and side
// effects cannot drift apart.
type ChatHandler struct {
	messageRepo repositories.MessageRepository
	userRepo    repositories.UserRepository
	hub         *ws.Hub
	audit       *telemetry.AuditEmitter
}

// NewChatHandler builds a ChatHandler.
func NewChatHandler(messageRepo repositories.MessageRepository, userRepo repositories.UserRepository, hub *ws.Hub, audit *telemetry.AuditEmitter) *ChatHandler {
	return &ChatHandler{
		messageRepo: messageRepo,
		userRepo:    userRepo,
		hub:         hub,
		audit:       audit,
	}
}

// ListConversations returns one row per counterpart with the latest
// exchanged message, newest first.
func (h *ChatHandler) ListConversations(c *gin.Context) {
	userID := c.GetString("userID")

	summaries, err := h.messageRepo.ListConversations(c.Request.Context(), userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load conversations"})
		return
	}

	counterpartIDs := make([]string, 0, len(summaries))
	for _, s := range summaries {
		counterpartIDs = append(counterpartIDs, s.UserID)
	}

	users, err := h.userRepo.BulkUsers(c.Request.Context(), counterpartIDs)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load user info"})
		return
	}
	usernameByID := make(map[string]string, len(users))
	for _, u := range users {
		usernameByID[u.ID] = u.Username
	}

	resp := make([]models.ConversationSummary, 0, len(summaries))
	for _, s := range summaries {
		s.Username = usernameByID[s.UserID]
		resp = append(resp, s)
	}

	c.JSON(http.StatusOK, resp)
}

// GetMessages returns the conversation with a counterpart, oldest-first.
func (h *ChatHandler) GetMessages(c *gin.Context) {
	userID := c.GetString("userID")
	counterpartID := c.Param("counterpart_id")

	limit := 0
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
			return
		}
		limit = parsed
	}

	counterpart, err := h.userRepo.GetUser(c.Request.Context(), counterpartID)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, repositories.ErrUserNotFound) {
			status = http.StatusNotFound
		}
		c.JSON(status, gin.H{"error": "user not found"})
		return
	}

	msgs, err := h.messageRepo.GetConversation(c.Request.Context(), userID, counterpartID, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load messages"})
		return
	}

	self, err := h.userRepo.GetUser(c.Request.Context(), userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load sender info"})
		return
	}
	refs := map[string]models.UserRef{
		self.ID:        self.Ref(),
		counterpart.ID: counterpart.Ref(),
	}

	resp := make([]models.PopulatedMessage, 0, len(msgs))
	for _, m := range msgs {
		resp = append(resp, m.Populate(refs[m.SenderID]))
	}

	c.JSON(http.StatusOK, resp)
}

// SendMessage stores a direct message and fans it out to the room, or fans
// out a transient broadcast when the receiver is the broadcast audience.
func (h *ChatHandler) SendMessage(c *gin.Context) {
	var req struct {
		ReceiverID string `json:"receiverId" binding:"required"`
		Text       string `json:"text" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	userID := c.GetString("userID")
	recipient, err := models.ParseRecipient(req.ReceiverID)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := repositories.ValidateContent(req.Text); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	sender, err := h.userRepo.GetUser(c.Request.Context(), userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load sender"})
		return
	}

	if recipient.Broadcast() {
		transient := models.PopulatedMessage{
			Sender:     sender.Ref(),
			ReceiverID: models.BroadcastReceiver,
			Content:    req.Text,
			CreatedAt:  time.Now().UTC(),
		}
		h.hub.BroadcastAll(models.ServerEvent{Event: models.EventNewMessage, Data: transient})
		c.JSON(http.StatusCreated, transient)
		return
	}

	if recipient.UserID() == userID {
		c.JSON(http.StatusBadRequest, gin.H{"error": "cannot message yourself"})
		return
	}
	if _, err := h.userRepo.GetUser(c.Request.Context(), recipient.UserID()); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, repositories.ErrUserNotFound) {
			status = http.StatusNotFound
		}
		c.JSON(status, gin.H{"error": "receiver not found"})
		return
	}

	msg, err := h.messageRepo.AppendMessage(c.Request.Context(), userID, recipient.UserID(), req.Text)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to store message"})
		return
	}

	roomID := ws.ResolveRoom(userID, recipient.UserID())
	populated := msg.Populate(sender.Ref())
	h.hub.BroadcastToRoom(roomID, models.ServerEvent{Event: models.EventNewMessage, Data: populated}, nil)

	h.audit.Emit(c.Request.Context(), "INFO", "message sent", requestIDFromContext(c), userIDFromContext(c))
	c.JSON(http.StatusCreated, populated)
}
