package server

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/samber/lo"
	"go.uber.org/zap"

	"github.com/fenggwsx/chatrelay/internal/storage"
)

const (
	defaultMessageLimit = 50
	maxMessageLimit     = 200
)

func (a *App) handleListChats(c *gin.Context) {
	chats, err := a.store.ListChatsForUser(c.Request.Context(), currentUserID(c))
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "data": chats})
}

func (a *App) handleCreateChat(c *gin.Context) {
	var req createChatRequest
	if err := bindJSON(c, &req); err != nil {
		_ = c.Error(err)
		return
	}
	ctx := c.Request.Context()
	userID := currentUserID(c)

	participants := lo.Uniq(append([]string{userID}, lo.Map(req.ParticipantIDs, func(id string, _ int) string {
		return strings.TrimSpace(id)
	})...))
	participants = lo.Compact(participants)
	if len(participants) < 2 {
		_ = c.Error(newAPIError(http.StatusBadRequest, "a chat needs at least one other participant"))
		return
	}
	for _, id := range participants[1:] {
		if _, err := a.store.GetUserByID(ctx, id); err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				_ = c.Error(newAPIError(http.StatusBadRequest, "unknown participant: "+id))
				return
			}
			_ = c.Error(err)
			return
		}
	}

	isGroup := len(participants) > 2
	if req.IsGroup != nil {
		isGroup = *req.IsGroup
	}
	now := time.Now().UTC()
	chat := &storage.Chat{Name: strings.TrimSpace(req.Name), IsGroup: isGroup, CreatedAt: now, UpdatedAt: now}
	if err := a.store.CreateChat(ctx, chat, participants); err != nil {
		_ = c.Error(err)
		return
	}

	snapshot, err := a.store.GetChatSnapshot(ctx, chat.ID)
	if err != nil {
		_ = c.Error(err)
		return
	}
	a.log.Info("chat created", zap.String("chat", chat.ID), zap.String("user", userID), zap.Int("participants", len(participants)))
	c.JSON(http.StatusCreated, gin.H{"success": true, "data": snapshot})
}

func (a *App) handleGetChat(c *gin.Context) {
	chatID := c.Param("id")
	if err := a.ensureParticipant(c.Request.Context(), chatID, currentUserID(c)); err != nil {
		_ = c.Error(err)
		return
	}
	snapshot, err := a.store.GetChatSnapshot(c.Request.Context(), chatID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			_ = c.Error(errChatNotFound)
			return
		}
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "data": snapshot})
}

func (a *App) handleListMessages(c *gin.Context) {
	chatID := c.Param("id")
	if err := a.ensureParticipant(c.Request.Context(), chatID, currentUserID(c)); err != nil {
		_ = c.Error(err)
		return
	}

	limit := defaultMessageLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			_ = c.Error(newAPIError(http.StatusBadRequest, "limit must be a positive integer"))
			return
		}
		limit = min(n, maxMessageLimit)
	}

	messages, err := a.store.ListMessages(c.Request.Context(), chatID, limit)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "data": messages})
}

func (a *App) handleSendMessage(c *gin.Context) {
	chatID := c.Param("id")
	userID := currentUserID(c)
	ctx := c.Request.Context()
	if err := a.ensureParticipant(ctx, chatID, userID); err != nil {
		_ = c.Error(err)
		return
	}

	var req sendMessageRequest
	if err := bindJSON(c, &req); err != nil {
		_ = c.Error(err)
		return
	}

	msg := &storage.Message{ChatID: chatID, SenderID: userID, Content: req.Content, Type: storage.MessageTypeUser}
	if err := a.store.CreateMessage(ctx, msg); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			_ = c.Error(errChatNotFound)
			return
		}
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"success": true, "data": msg})
}

func (a *App) handleLeaveChat(c *gin.Context) {
	chatID := c.Param("id")
	userID := currentUserID(c)
	if err := a.store.RemoveParticipant(c.Request.Context(), chatID, userID); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			_ = c.Error(errChatNotFound)
			return
		}
		_ = c.Error(err)
		return
	}
	a.log.Info("participant removed", zap.String("chat", chatID), zap.String("user", userID))
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (a *App) handleDeleteMessage(c *gin.Context) {
	ctx := c.Request.Context()
	msg, err := a.store.GetMessage(ctx, c.Param("id"))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			_ = c.Error(errMessageNotFound)
			return
		}
		_ = c.Error(err)
		return
	}
	if msg.SenderID != currentUserID(c) {
		_ = c.Error(errNotMessageOwner)
		return
	}
	if err := a.store.DeleteMessage(ctx, msg.ID); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			_ = c.Error(errMessageNotFound)
			return
		}
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "data": msg})
}

// ensureParticipant hides chats the user does not belong to behind a 404.
func (a *App) ensureParticipant(ctx context.Context, chatID, userID string) error {
	ok, err := a.store.IsParticipant(ctx, chatID, userID)
	if err != nil {
		return err
	}
	if !ok {
		return errChatNotFound
	}
	return nil
}
