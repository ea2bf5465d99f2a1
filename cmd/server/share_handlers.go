package main

import (
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/filevault-gateway/internal/audit"
	"github.com/filevault-gateway/internal/models"
)

// handleCreateShare 处理创建分享. The body is optional; without it the
// default lifetime applies.
func (s *server) handleCreateShare(c *gin.Context) {
	identity, ok := s.identity(c)
	if !ok {
		return
	}

	var req models.CreateShareRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		badRequest(c, "invalid request body")
		return
	}

	ctx := c.Request.Context()
	rec, err := s.files.StatForOwner(ctx, c.Param("key"), identity.UserID)
	if err != nil {
		s.respondError(c, err)
		return
	}

	tok, err := s.shares.Issue(ctx, rec.StorageKey, rec.OriginalFilename, identity.UserID, req.Hours)
	if err != nil {
		s.respondError(c, err)
		return
	}

	s.audit.Record(ctx, audit.Event{
		Type:       audit.ShareIssued,
		UserID:     identity.UserID,
		Email:      identity.Email,
		Subject:    rec.StorageKey,
		RemoteAddr: c.ClientIP(),
	})

	c.JSON(http.StatusCreated, models.CreateShareResponse{
		ShareURL:   strings.TrimRight(s.cfg.Server.PublicURL, "/") + "/share/" + tok.Token.String(),
		ShareToken: tok.Token.String(),
		ExpiresAt:  tok.Expiry,
	})
}

// handleSharedDownload serves a shared file to any bearer of a live token.
func (s *server) handleSharedDownload(c *gin.Context) {
	ctx := c.Request.Context()

	tok, err := s.shares.Validate(ctx, c.Param("token"))
	if err != nil {
		s.respondError(c, err)
		return
	}

	data, rec, err := s.files.Open(ctx, tok.StorageKey)
	if err != nil {
		s.respondError(c, err)
		return
	}

	s.audit.Record(ctx, audit.Event{
		Type:       audit.ShareAccessed,
		UserID:     tok.OwnerUserID,
		Subject:    tok.StorageKey,
		RemoteAddr: c.ClientIP(),
	})

	filename := tok.Filename
	if filename == "" {
		filename = rec.OriginalFilename
	}
	sendAttachment(c, filename, data)
}
