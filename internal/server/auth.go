package server

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/fenggwsx/chatrelay/internal/auth"
	"github.com/fenggwsx/chatrelay/internal/storage"
)

const claimsKey = "claims"

type authResponse struct {
	Token     string        `json:"token"`
	ExpiresAt int64         `json:"expiresAt"`
	User      *storage.User `json:"user"`
}

func (a *App) handleRegister(c *gin.Context) {
	var req registerRequest
	if err := bindJSON(c, &req); err != nil {
		_ = c.Error(err)
		return
	}

	hashed, err := auth.HashPassword(req.Password)
	if err != nil {
		_ = c.Error(err)
		return
	}
	now := time.Now().UTC()
	user := &storage.User{
		Username:  strings.TrimSpace(req.Username),
		Password:  hashed,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := a.store.CreateUser(c.Request.Context(), user); err != nil {
		if errors.Is(err, storage.ErrConflict) {
			_ = c.Error(errUserExists)
			return
		}
		_ = c.Error(err)
		return
	}

	a.log.Info("register success", zap.String("user", user.ID), zap.String("username", user.Username), zap.String("remote", c.ClientIP()))
	a.issueToken(c, http.StatusCreated, user)
}

func (a *App) handleLogin(c *gin.Context) {
	var req loginRequest
	if err := bindJSON(c, &req); err != nil {
		_ = c.Error(err)
		return
	}

	user, err := a.store.GetUserByUsername(c.Request.Context(), strings.TrimSpace(req.Username))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			a.log.Info("login failed", zap.String("username", req.Username), zap.String("remote", c.ClientIP()))
			_ = c.Error(errInvalidCredentials)
			return
		}
		_ = c.Error(err)
		return
	}
	if err := auth.ComparePassword(user.Password, req.Password); err != nil {
		a.log.Info("login failed", zap.String("username", req.Username), zap.String("remote", c.ClientIP()))
		_ = c.Error(errInvalidCredentials)
		return
	}

	a.log.Info("login success", zap.String("user", user.ID), zap.String("username", user.Username), zap.String("remote", c.ClientIP()))
	a.issueToken(c, http.StatusOK, user)
}

func (a *App) issueToken(c *gin.Context, status int, user *storage.User) {
	expiresAt := time.Now().Add(a.cfg.JWT.Expiration)
	token, err := auth.NewToken(a.cfg.JWT, user.ID, user.Username)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(status, gin.H{
		"success": true,
		"data":    authResponse{Token: token, ExpiresAt: expiresAt.Unix(), User: user},
	})
}

// requireAuth rejects requests without a valid bearer token.
func (a *App) requireAuth(c *gin.Context) {
	header := c.GetHeader("Authorization")
	token, ok := strings.CutPrefix(header, "Bearer ")
	if !ok || strings.TrimSpace(token) == "" {
		_ = c.Error(errUnauthorized)
		c.Abort()
		return
	}
	claims, err := auth.ParseToken(a.cfg.JWT, strings.TrimSpace(token))
	if err != nil {
		a.log.Debug("bearer token rejected", zap.String("remote", c.ClientIP()), zap.Error(err))
		_ = c.Error(errUnauthorized)
		c.Abort()
		return
	}
	c.Set(claimsKey, claims)
	c.Next()
}

func currentUserID(c *gin.Context) string {
	if v, ok := c.Get(claimsKey); ok {
		if claims, ok := v.(*auth.Claims); ok {
			return claims.UserID
		}
	}
	return ""
}
