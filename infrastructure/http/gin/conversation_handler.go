package ginserver

import (
	"fmt"
	"io"
	"log/slog"
	"messaging-core/domain"
	"messaging-core/errors"
	"messaging-core/services"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
)

// ConversationHTTP is the request/response side of messaging.
type ConversationHTTP interface {
	List(c *gin.Context)
	Open(c *gin.Context)
	Get(c *gin.Context)
	Messages(c *gin.Context)
	Send(c *gin.Context)
	MarkRead(c *gin.Context)
	Archive(c *gin.Context)
	Search(c *gin.Context)
}

type ConversationHandler struct {
	Conversations services.IConversationService
	Dispatcher    services.IDispatcher
	Receipts      services.IReceiptTracker
	Logger        *slog.Logger
}

var _ ConversationHTTP = ConversationHandler{}

type peerDTO struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type conversationDTO struct {
	ID                 string     `json:"id"`
	Participants       []string   `json:"participants"`
	ContextID          string     `json:"contextId,omitempty"`
	CreatedAt          time.Time  `json:"createdAt"`
	LastMessageAt      *time.Time `json:"lastMessageAt,omitempty"`
	LastMessageID      string     `json:"lastMessageId,omitempty"`
	LastMessageSeq     uint64     `json:"lastMessageSeq"`
	LastSenderID       string     `json:"lastSenderId,omitempty"`
	LastMessagePreview string     `json:"lastMessagePreview,omitempty"`
	Archived           bool       `json:"archived"`
	Peer               peerDTO    `json:"peer"`
	UnreadCount        int        `json:"unreadCount"`
}

type messagePageDTO struct {
	ConversationID string                  `json:"conversationId"`
	Messages       []domain.MessagePayload `json:"messages"`
	NextSince      uint64                  `json:"nextSince"`
	HasMore        bool                    `json:"hasMore"`
}

type receiptDTO struct {
	ConversationID string    `json:"conversationId"`
	MessageID      string    `json:"messageId"`
	ReadAt         time.Time `json:"readAt"`
	Changed        int       `json:"changed"`
	UnreadCount    int       `json:"unreadCount"`
}

func toConversationDTO(s domain.ConversationSummary) conversationDTO {
	conv := s.Conversation
	dto := conversationDTO{
		ID:                 conv.ID,
		Participants:       []string{conv.Participants[0], conv.Participants[1]},
		ContextID:          conv.ContextID,
		CreatedAt:          conv.CreatedAt,
		LastMessageID:      conv.LastMessageID,
		LastMessageSeq:     conv.LastMessageSeq,
		LastSenderID:       conv.LastSenderID,
		LastMessagePreview: conv.LastMessagePreview,
		Archived:           conv.Archived,
		Peer:               peerDTO{ID: s.Peer.ID, Name: s.Peer.Name()},
		UnreadCount:        s.UnreadCount,
	}
	if !conv.LastMessageAt.IsZero() {
		at := conv.LastMessageAt
		dto.LastMessageAt = &at
	}
	return dto
}

func toMessages(messages []domain.Message) []domain.MessagePayload {
	out := make([]domain.MessagePayload, 0, len(messages))
	for _, m := range messages {
		out = append(out, domain.ToMessagePayload(m))
	}
	return out
}

// List returns the caller's conversations, most recent first.
func (h ConversationHandler) List(c *gin.Context) {
	p, ok := requireUser(c)
	if !ok {
		return
	}
	includeArchived, _ := strconv.ParseBool(c.Query("archived"))
	summaries, err := h.Conversations.List(c.Request.Context(), p.ID, includeArchived)
	if err != nil {
		h.respondError(c, err, "list conversations", "user_id", p.ID)
		return
	}
	items := make([]conversationDTO, 0, len(summaries))
	for _, s := range summaries {
		items = append(items, toConversationDTO(s))
	}
	c.JSON(http.StatusOK, gin.H{"items": items})
}

// Open creates the conversation with recipientId, or returns the existing one.
func (h ConversationHandler) Open(c *gin.Context) {
	p, ok := requireUser(c)
	if !ok {
		return
	}
	var req struct {
		RecipientID string `json:"recipientId" binding:"required"`
		ContextID   string `json:"contextId"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		h.respondError(c, fmt.Errorf("%w: %w", errors.ErrInvalidPayload, err), "open conversation", "user_id", p.ID)
		return
	}
	summary, created, err := h.Conversations.Open(c.Request.Context(), p.ID, req.RecipientID, req.ContextID)
	if err != nil {
		h.respondError(c, err, "open conversation", "user_id", p.ID, "recipient_id", req.RecipientID)
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	c.JSON(status, toConversationDTO(summary))
}

func (h ConversationHandler) Get(c *gin.Context) {
	p, ok := requireUser(c)
	if !ok {
		return
	}
	summary, err := h.Conversations.Get(c.Request.Context(), p.ID, c.Param("id"))
	if err != nil {
		h.respondError(c, err, "get conversation", "conversation_id", c.Param("id"), "user_id", p.ID)
		return
	}
	c.JSON(http.StatusOK, toConversationDTO(summary))
}

// Messages pages forward through history: ?since=<seq>&limit=<n>.
func (h ConversationHandler) Messages(c *gin.Context) {
	p, ok := requireUser(c)
	if !ok {
		return
	}
	since, err := parseUint(c.Query("since"))
	if err != nil {
		h.respondError(c, fmt.Errorf("%w: %w", errors.ErrInvalidPayload, err), "list messages", "user_id", p.ID)
		return
	}
	page, err := h.Conversations.Messages(c.Request.Context(), p.ID, c.Param("id"), since, parsePositiveInt(c.Query("limit"), 0))
	if err != nil {
		h.respondError(c, err, "list messages", "conversation_id", c.Param("id"), "user_id", p.ID)
		return
	}
	c.JSON(http.StatusOK, messagePageDTO{
		ConversationID: c.Param("id"),
		Messages:       toMessages(page.Messages),
		NextSince:      page.NextSince,
		HasMore:        page.HasMore,
	})
}

// Send posts a message without a live connection. Joined connections,
// the sender's included, receive it as message:new.
func (h ConversationHandler) Send(c *gin.Context) {
	p, ok := requireUser(c)
	if !ok {
		return
	}
	var req domain.SendMessagePayload
	if err := c.ShouldBindJSON(&req); err != nil {
		h.respondError(c, fmt.Errorf("%w: %w", errors.ErrMalformedFrame, err), "send message", "user_id", p.ID)
		return
	}
	attachment, err := domain.NewAttachment(req.AttachmentURL, req.AttachmentType, req.AttachmentName)
	if err != nil {
		h.respondError(c, err, "send message", "user_id", p.ID)
		return
	}
	m, err := h.Dispatcher.SendMessage(c.Request.Context(), domain.SendMessageCommand{
		SenderID:       p.ID,
		ConversationID: c.Param("id"),
		Content:        req.Content,
		Attachment:     attachment,
		ClientID:       req.ClientID,
	}, nil)
	if err != nil {
		h.respondError(c, err, "send message", "conversation_id", c.Param("id"), "user_id", p.ID)
		return
	}
	payload := domain.ToMessagePayload(m)
	payload.ClientID = req.ClientID
	c.JSON(http.StatusCreated, payload)
}

// MarkRead marks one message ({"messageId": ...}) or, with an empty body,
// every unread message of the conversation.
func (h ConversationHandler) MarkRead(c *gin.Context) {
	p, ok := requireUser(c)
	if !ok {
		return
	}
	conversationID := c.Param("id")
	var req struct {
		MessageID string `json:"messageId"`
	}
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		h.respondError(c, fmt.Errorf("%w: %w", errors.ErrMalformedFrame, err), "mark read", "user_id", p.ID)
		return
	}
	if _, err := h.Conversations.Authorize(c.Request.Context(), p.ID, conversationID); err != nil {
		h.respondError(c, err, "mark read", "conversation_id", conversationID, "user_id", p.ID)
		return
	}

	update, err := h.Receipts.Mark(c.Request.Context(), domain.MarkReadCommand{
		ReaderID:       p.ID,
		MessageID:      req.MessageID,
		ConversationID: conversationID,
	})
	if err != nil {
		h.respondError(c, err, "mark read", "conversation_id", conversationID, "user_id", p.ID)
		return
	}
	c.JSON(http.StatusOK, receiptDTO{
		ConversationID: update.ConversationID,
		MessageID:      update.MessageID,
		ReadAt:         update.ReadAt,
		Changed:        update.Changed,
		UnreadCount:    update.Unread,
	})
}

// Archive hides or restores a conversation: {"archived": false} restores it.
func (h ConversationHandler) Archive(c *gin.Context) {
	p, ok := requireUser(c)
	if !ok {
		return
	}
	req := struct {
		Archived *bool `json:"archived"`
	}{}
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		h.respondError(c, fmt.Errorf("%w: %w", errors.ErrMalformedFrame, err), "archive conversation", "user_id", p.ID)
		return
	}
	archived := req.Archived == nil || *req.Archived
	if err := h.Conversations.Archive(c.Request.Context(), p.ID, c.Param("id"), archived); err != nil {
		h.respondError(c, err, "archive conversation", "conversation_id", c.Param("id"), "user_id", p.ID)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h ConversationHandler) Search(c *gin.Context) {
	p, ok := requireUser(c)
	if !ok {
		return
	}
	messages, err := h.Conversations.Search(c.Request.Context(), p.ID, c.Param("id"), c.Query("q"), parsePositiveInt(c.Query("limit"), 0))
	if err != nil {
		h.respondError(c, err, "search messages", "conversation_id", c.Param("id"), "user_id", p.ID)
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": toMessages(messages)})
}

// respondError maps the error kind to a status; only server faults are logged above debug.
func (h ConversationHandler) respondError(c *gin.Context, err error, action string, attrs ...any) {
	status := errors.HTTPStatus(err)
	if h.Logger != nil {
		attrs = append(attrs, "error", err, "request_id", c.GetString("request_id"))
		if status >= http.StatusInternalServerError {
			h.Logger.Warn(action+" failed", attrs...)
		} else {
			h.Logger.Debug(action+" rejected", attrs...)
		}
	}
	body := gin.H{"error": errors.Code(err), "message": err.Error()}
	if errors.Retryable(err) {
		body["retryable"] = true
	}
	c.JSON(status, body)
}

func parsePositiveInt(raw string, fallback int) int {
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil || n <= 0 {
		return fallback
	}
	return n
}

func parseUint(raw string) (uint64, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	return strconv.ParseUint(raw, 10, 64)
}
