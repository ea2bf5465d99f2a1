package main

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/filevault-gateway/internal/apperr"
	"github.com/filevault-gateway/internal/audit"
	"github.com/filevault-gateway/internal/middleware"
	"github.com/filevault-gateway/internal/models"
)

// handleRegister 处理用户注册
func (s *server) handleRegister(c *gin.Context) {
	var req models.UserCreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body")
		return
	}

	ctx := c.Request.Context()
	user, err := s.creds.Register(ctx, req.Email, req.Password)
	if err != nil {
		s.respondError(c, err)
		return
	}

	s.audit.Record(ctx, audit.Event{
		Type:       audit.UserRegistered,
		UserID:     user.ID,
		Email:      user.Email,
		RemoteAddr: c.ClientIP(),
	})

	resp, err := s.session(user)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, resp)
}

// handleLogin 处理用户登录
func (s *server) handleLogin(c *gin.Context) {
	var req models.UserLoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "email and password are required")
		return
	}

	ctx := c.Request.Context()
	user, err := s.creds.Authenticate(ctx, req.Email, req.Password)
	if errors.Is(err, apperr.ErrAuth) {
		event := audit.Event{
			Type:       audit.UserLoginFailed,
			Email:      req.Email,
			RemoteAddr: c.ClientIP(),
		}
		// attribute the attempt to the account so its owner can see it
		if known, lookupErr := s.creds.Lookup(ctx, req.Email); lookupErr == nil {
			event.UserID = known.ID
		}
		s.audit.Record(ctx, event)

		c.JSON(http.StatusUnauthorized, gin.H{"error": apperr.Message(err)})
		return
	}
	if err != nil {
		s.respondError(c, err)
		return
	}

	resp, err := s.session(user)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (s *server) session(user *models.User) (*models.UserLoginResponse, error) {
	token, claims, err := s.tokens.GenerateToken(user)
	if err != nil {
		return nil, apperr.Storage("issue session token", err)
	}
	return &models.UserLoginResponse{
		Token:     token,
		ExpiresAt: claims.ExpiresAt.Time,
		User:      user,
	}, nil
}

// handleLogout revokes the presented token for the rest of its lifetime.
func (s *server) handleLogout(c *gin.Context) {
	claims, ok := middleware.GetClaims(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
		return
	}

	ctx := c.Request.Context()
	ttl := time.Until(claims.ExpiresAt.Time)
	if err := s.sessions.Revoke(ctx, claims.ID, ttl); err != nil {
		s.respondError(c, apperr.Storage("revoke session", err))
		return
	}

	identity, _ := middleware.GetIdentity(c)
	s.audit.Record(ctx, audit.Event{
		Type:       audit.UserLoggedOut,
		UserID:     identity.UserID,
		Email:      identity.Email,
		RemoteAddr: c.ClientIP(),
	})

	c.JSON(http.StatusOK, gin.H{"message": "logged out"})
}

// handleGetMe 获取当前用户信息
func (s *server) handleGetMe(c *gin.Context) {
	identity, ok := middleware.GetIdentity(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
		return
	}

	user, err := s.creds.GetUserByID(c.Request.Context(), identity.UserID)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, user)
}

// resetAck is returned whether or not the email is registered.
const resetAck = "if the email is registered, a reset link has been sent"

func (s *server) handleForgotPassword(c *gin.Context) {
	var req models.ForgotPasswordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "email is required")
		return
	}

	ctx := c.Request.Context()
	tok, err := s.resets.Issue(ctx, req.Email)
	switch {
	case err == nil:
		s.attributeToUser(c, audit.ResetIssued, tok.Email)
	case errors.Is(err, apperr.ErrNotFound), errors.Is(err, apperr.ErrValidation):
		// same answer as success
	default:
		s.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": resetAck})
}

func (s *server) handleValidateReset(c *gin.Context) {
	email, err := s.resets.Validate(c.Request.Context(), c.Param("token"))
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"email": email})
}

func (s *server) handleConsumeReset(c *gin.Context) {
	var req models.ResetPasswordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body")
		return
	}

	ctx := c.Request.Context()
	email, err := s.resets.Consume(ctx, c.Param("token"), req.Password)
	if err != nil {
		s.respondError(c, err)
		return
	}

	s.attributeToUser(c, audit.ResetConsumed, email)
	c.JSON(http.StatusOK, gin.H{"message": "password has been reset"})
}

// attributeToUser records an event for the account registered under email.
func (s *server) attributeToUser(c *gin.Context, eventType, email string) {
	ctx := c.Request.Context()
	event := audit.Event{Type: eventType, Email: email, RemoteAddr: c.ClientIP()}
	if user, err := s.creds.Lookup(ctx, email); err == nil {
		event.UserID = user.ID
	}
	s.audit.Record(ctx, event)
}
