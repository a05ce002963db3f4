package handlers

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"community-chat-service/internal/mocks"
	"community-chat-service/internal/models"
	"community-chat-service/internal/repositories"
	"community-chat-service/internal/ws"
)

func setupChatRouter(handler *ChatHandler) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(func(c *gin.Context) {
		c.Set("userID", "alice")
		c.Next()
	})
	r.GET("/conversations", handler.ListConversations)
	r.GET("/messages/:counterpart_id", handler.GetMessages)
	r.POST("/send", handler.SendMessage)
	return r
}

func TestListConversationsSuccess(t *testing.T) {
	messageRepo := new(mocks.MessageRepositoryMock)
	userRepo := new(mocks.UserRepositoryMock)
	handler := NewChatHandler(messageRepo, userRepo, ws.NewHub(), nil)
	router := setupChatRouter(handler)

	now := time.Now()
	messageRepo.On("ListConversations", mock.Anything, "alice").Return([]models.ConversationSummary{
		{UserID: "bob", LastMessage: "see you", CreatedAt: now},
		{UserID: "carol", LastMessage: "thanks", CreatedAt: now.Add(-time.Hour)},
	}, nil).Once()
	userRepo.On("BulkUsers", mock.Anything, []string{"bob", "carol"}).Return([]models.User{
		{ID: "bob", Username: "Bob"},
		{ID: "carol", Username: "Carol"},
	}, nil).Once()

	req := httptest.NewRequest(http.MethodGet, "/conversations", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp []models.ConversationSummary
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	require.Len(t, resp, 2)
	assert.Equal(t, "Bob", resp[0].Username)
	assert.Equal(t, "see you", resp[0].LastMessage)

	messageRepo.AssertExpectations(t)
	userRepo.AssertExpectations(t)
}

func TestListConversationsRepoError(t *testing.T) {
	messageRepo := new(mocks.MessageRepositoryMock)
	handler := NewChatHandler(messageRepo, new(mocks.UserRepositoryMock), ws.NewHub(), nil)
	router := setupChatRouter(handler)

	messageRepo.On("ListConversations", mock.Anything, "alice").Return(([]models.ConversationSummary)(nil), assert.AnError).Once()

	req := httptest.NewRequest(http.MethodGet, "/conversations", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusInternalServerError, rec.Code)
	messageRepo.AssertExpectations(t)
}

func TestGetMessagesSuccess(t *testing.T) {
	messageRepo := new(mocks.MessageRepositoryMock)
	userRepo := new(mocks.UserRepositoryMock)
	handler := NewChatHandler(messageRepo, userRepo, ws.NewHub(), nil)
	router := setupChatRouter(handler)

	userRepo.On("GetUser", mock.Anything, "bob").Return(models.User{ID: "bob", Username: "Bob"}, nil).Once()
	userRepo.On("GetUser", mock.Anything, "alice").Return(models.User{ID: "alice", Username: "Alice"}, nil).Once()
	messageRepo.On("GetConversation", mock.Anything, "alice", "bob", 0).Return([]models.Message{
		{ID: 1, SenderID: "bob", ReceiverID: "alice", Content: "hi", Read: true},
		{ID: 2, SenderID: "alice", ReceiverID: "bob", Content: "hello"},
	}, nil).Once()

	req := httptest.NewRequest(http.MethodGet, "/messages/bob", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp []models.PopulatedMessage
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	require.Len(t, resp, 2)
	assert.Equal(t, "Bob", resp[0].Sender.Username)
	assert.Equal(t, "Alice", resp[1].Sender.Username)

	messageRepo.AssertExpectations(t)
	userRepo.AssertExpectations(t)
}

func TestGetMessagesUnknownCounterpart(t *testing.T) {
	userRepo := new(mocks.UserRepositoryMock)
	handler := NewChatHandler(new(mocks.MessageRepositoryMock), userRepo, ws.NewHub(), nil)
	router := setupChatRouter(handler)

	userRepo.On("GetUser", mock.Anything, "ghost").Return(models.User{}, repositories.ErrUserNotFound).Once()

	req := httptest.NewRequest(http.MethodGet, "/messages/ghost", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusNotFound, rec.Code)
	userRepo.AssertExpectations(t)
}

func TestSendMessageSuccess(t *testing.T) {
	messageRepo := new(mocks.MessageRepositoryMock)
	userRepo := new(mocks.UserRepositoryMock)
	handler := NewChatHandler(messageRepo, userRepo, ws.NewHub(), nil)
	router := setupChatRouter(handler)

	userRepo.On("GetUser", mock.Anything, "alice").Return(models.User{ID: "alice", Username: "Alice"}, nil).Once()
	userRepo.On("GetUser", mock.Anything, "bob").Return(models.User{ID: "bob", Username: "Bob"}, nil).Once()
	messageRepo.On("AppendMessage", mock.Anything, "alice", "bob", "hello").
		Return(models.Message{ID: 7, SenderID: "alice", ReceiverID: "bob", Content: "hello", CreatedAt: time.Now()}, nil).Once()

	req := httptest.NewRequest(http.MethodPost, "/send", bytes.NewBufferString(`{"receiverId":"bob","text":"hello"}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusCreated, rec.Code)
	var resp models.PopulatedMessage
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, int64(7), resp.ID)
	assert.Equal(t, "alice", resp.Sender.ID)

	messageRepo.AssertExpectations(t)
	userRepo.AssertExpectations(t)
}

func TestSendMessageContentTooLong(t *testing.T) {
	messageRepo := new(mocks.MessageRepositoryMock)
	handler := NewChatHandler(messageRepo, new(mocks.UserRepositoryMock), ws.NewHub(), nil)
	router := setupChatRouter(handler)

	body, err := json.Marshal(gin.H{"receiverId": "bob", "text": strings.Repeat("x", models.MaxContentLength+1)})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/send", bytes.NewBuffer(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	messageRepo.AssertNotCalled(t, "AppendMessage", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestSendMessageToSelf(t *testing.T) {
	userRepo := new(mocks.UserRepositoryMock)
	handler := NewChatHandler(new(mocks.MessageRepositoryMock), userRepo, ws.NewHub(), nil)
	router := setupChatRouter(handler)

	userRepo.On("GetUser", mock.Anything, "alice").Return(models.User{ID: "alice"}, nil).Once()

	req := httptest.NewRequest(http.MethodPost, "/send", bytes.NewBufferString(`{"receiverId":"alice","text":"hi"}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSendMessageBroadcastNotPersisted(t *testing.T) {
	messageRepo := new(mocks.MessageRepositoryMock)
	userRepo := new(mocks.UserRepositoryMock)
	handler := NewChatHandler(messageRepo, userRepo, ws.NewHub(), nil)
	router := setupChatRouter(handler)

	userRepo.On("GetUser", mock.Anything, "alice").Return(models.User{ID: "alice", Username: "Alice"}, nil).Once()

	req := httptest.NewRequest(http.MethodPost, "/send", bytes.NewBufferString(`{"receiverId":"all","text":"announcement"}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusCreated, rec.Code)
	var resp models.PopulatedMessage
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, models.BroadcastReceiver, resp.ReceiverID)
	assert.Zero(t, resp.ID)

	messageRepo.AssertNotCalled(t, "AppendMessage", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}
