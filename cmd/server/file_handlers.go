package main

import (
	"errors"
	"mime"
	"net/http"
	"path"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/filevault-gateway/internal/apperr"
	"github.com/filevault-gateway/internal/audit"
	"github.com/filevault-gateway/internal/middleware"
	"github.com/filevault-gateway/internal/models"
)

// multipartOverhead leaves room for boundaries and part headers on top of the
// file size limit.
const multipartOverhead = 1 << 20

func (s *server) identity(c *gin.Context) (models.Identity, bool) {
	identity, ok := middleware.GetIdentity(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
	}
	return identity, ok
}

// handleUpload 处理文件上传
func (s *server) handleUpload(c *gin.Context) {
	identity, ok := s.identity(c)
	if !ok {
		return
	}

	maxSize := s.files.MaxSizeBytes()
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxSize+multipartOverhead)

	header, err := c.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) || strings.Contains(err.Error(), "request body too large") {
			badRequest(c, "file exceeds maximum size of "+strconv.FormatInt(maxSize, 10)+" bytes")
			return
		}
		badRequest(c, "no file part in request")
		return
	}

	f, err := header.Open()
	if err != nil {
		badRequest(c, "could not read uploaded file")
		return
	}
	defer f.Close()

	ctx := c.Request.Context()
	rec, err := s.files.Upload(ctx, identity, header.Filename, f)
	if err != nil {
		s.respondError(c, err)
		return
	}

	s.audit.Record(ctx, audit.Event{
		Type:       audit.FileUploaded,
		UserID:     identity.UserID,
		Email:      identity.Email,
		Subject:    rec.StorageKey,
		RemoteAddr: c.ClientIP(),
	})

	c.JSON(http.StatusCreated, rec)
}

func (s *server) handleListFiles(c *gin.Context) {
	identity, ok := s.identity(c)
	if !ok {
		return
	}

	records, err := s.files.ListForOwner(c.Request.Context(), identity.UserID)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, records)
}

func (s *server) handleDownload(c *gin.Context) {
	identity, ok := s.identity(c)
	if !ok {
		return
	}

	data, rec, err := s.files.FetchForOwner(c.Request.Context(), c.Param("key"), identity.UserID)
	if err != nil {
		s.respondError(c, err)
		return
	}
	sendAttachment(c, rec.OriginalFilename, data)
}

func (s *server) handleDeleteFile(c *gin.Context) {
	identity, ok := s.identity(c)
	if !ok {
		return
	}

	ctx := c.Request.Context()
	rec, err := s.files.DeleteForOwner(ctx, c.Param("key"), identity.UserID)
	if err != nil {
		s.respondError(c, err)
		return
	}

	s.audit.Record(ctx, audit.Event{
		Type:       audit.FileDeleted,
		UserID:     identity.UserID,
		Email:      identity.Email,
		Subject:    rec.StorageKey,
		RemoteAddr: c.ClientIP(),
	})

	c.JSON(http.StatusOK, gin.H{"message": "file deleted"})
}

func (s *server) handleActivity(c *gin.Context) {
	identity, ok := s.identity(c)
	if !ok {
		return
	}

	limit, err := strconv.Atoi(c.DefaultQuery("limit", "50"))
	if err != nil || limit <= 0 {
		badRequest(c, "limit must be a positive integer")
		return
	}

	events, err := s.audit.Recent(c.Request.Context(), identity.UserID, limit)
	if err != nil {
		s.respondError(c, apperr.Storage("load activity", err))
		return
	}
	c.JSON(http.StatusOK, events)
}

// sendAttachment streams data as a download named filename.
func sendAttachment(c *gin.Context, filename string, data []byte) {
	contentType := mime.TypeByExtension(path.Ext(filename))
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	disposition := mime.FormatMediaType("attachment", map[string]string{"filename": filename})
	if disposition == "" {
		disposition = "attachment"
	}

	c.Header("Content-Disposition", disposition)
	c.Data(http.StatusOK, contentType, data)
}
