package main

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/filevault-gateway/internal/apperr"
)

var statusByKind = map[apperr.Error]int{
	apperr.ErrValidation: http.StatusBadRequest,
	apperr.ErrConflict:   http.StatusConflict,
	apperr.ErrAuth:       http.StatusForbidden,
	apperr.ErrNotFound:   http.StatusNotFound,
	apperr.ErrExpired:    http.StatusGone,
	apperr.ErrUsed:       http.StatusConflict,
	apperr.ErrStorage:    http.StatusInternalServerError,
}

// respondError writes err as {"error": msg}. Storage failures are logged and
// reported with a generic message.
func (s *server) respondError(c *gin.Context, err error) {
	kind := apperr.KindOf(err)
	status, ok := statusByKind[kind]
	if !ok {
		status = http.StatusInternalServerError
	}

	if status >= http.StatusInternalServerError {
		s.logger.WithError(err).WithField("route", c.FullPath()).Error("request failed")
	}

	c.JSON(status, gin.H{"error": apperr.Message(err)})
}

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, gin.H{"error": msg})
}
