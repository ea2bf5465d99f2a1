// Package share issues time-limited bearer links to single files. Each token
// is stored as its own object, so issuing never contends with other writers.
package share

import (
	"context"
	"encoding/json"
	"errors"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/filevault-gateway/internal/apperr"
	"github.com/filevault-gateway/internal/models"
	"github.com/filevault-gateway/internal/storage"
)

const (
	DefaultHours = 24
	// DefaultMaxHours caps a share lifetime at 30 days.
	DefaultMaxHours = 720
)

// Service 共享服务
type Service struct {
	store        storage.Store
	prefix       string
	defaultHours int
	maxHours     int
	now          func() time.Time
	logger       logrus.FieldLogger
}

// NewService 创建共享服务
func NewService(store storage.Store, prefix string, defaultHours, maxHours int, logger logrus.FieldLogger) *Service {
	if maxHours <= 0 {
		maxHours = DefaultMaxHours
	}
	if defaultHours <= 0 {
		defaultHours = min(DefaultHours, maxHours)
	}
	return &Service{
		store:        store,
		prefix:       strings.TrimSuffix(prefix, "/"),
		defaultHours: defaultHours,
		maxHours:     maxHours,
		now:          time.Now,
		logger:       logger.WithField("component", "share"),
	}
}

func (s *Service) objectKey(token uuid.UUID) string {
	return path.Join(s.prefix, token.String()+".json")
}

// Issue creates a share token for storageKey valid for hours (the default
// when hours <= 0, at most maxHours). Callers check ownership before issuing.
func (s *Service) Issue(ctx context.Context, storageKey, filename string, owner uuid.UUID, hours int) (*models.ShareToken, error) {
	if storageKey == "" {
		return nil, apperr.New(apperr.ErrValidation, "storage key is required")
	}
	if hours <= 0 {
		hours = s.defaultHours
	}
	if hours > s.maxHours {
		return nil, apperr.Newf(apperr.ErrValidation, "share lifetime must not exceed %d hours", s.maxHours)
	}

	tok := models.ShareToken{
		Token:       uuid.New(),
		StorageKey:  storageKey,
		Filename:    filename,
		Expiry:      s.now().Add(time.Duration(hours) * time.Hour).UTC(),
		OwnerUserID: owner,
	}

	body, err := json.Marshal(tok)
	if err != nil {
		return nil, apperr.Storage("encode share token", err)
	}

	_, err = s.store.Put(ctx, s.objectKey(tok.Token), body, nil, storage.PutOptions{
		ContentType: "application/json",
		IfNoneMatch: true,
	})
	if err != nil {
		return nil, apperr.Storage("issue share token", err)
	}

	s.logger.WithFields(logrus.Fields{
		"storage_key": storageKey,
		"owner":       owner,
		"hours":       hours,
	}).Info("share link issued")

	return &tok, nil
}

// Validate resolves a token to the file it grants. Possession of the token is
// the only check.
func (s *Service) Validate(ctx context.Context, token string) (*models.ShareToken, error) {
	id, err := uuid.Parse(token)
	if err != nil {
		return nil, ErrShareNotFound
	}

	obj, err := s.store.Get(ctx, s.objectKey(id))
	if errors.Is(err, storage.ErrNotFound) {
		return nil, ErrShareNotFound
	}
	if err != nil {
		return nil, apperr.Storage("load share token", err)
	}

	var tok models.ShareToken
	if err := json.Unmarshal(obj.Data, &tok); err != nil {
		return nil, apperr.Storage("decode share token", err)
	}

	if s.now().After(tok.Expiry) {
		return nil, ErrShareExpired
	}
	return &tok, nil
}

// 错误定义
var (
	ErrShareNotFound = apperr.New(apperr.ErrNotFound, "share not found")
	ErrShareExpired  = apperr.New(apperr.ErrExpired, "share has expired")
)
