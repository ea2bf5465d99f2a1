// Package files implements the ownership-scoped file index on top of the blob
// store. A file record is not stored separately: it is read back from the
// object's key and metadata.
package files

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/filevault-gateway/internal/apperr"
	"github.com/filevault-gateway/internal/models"
	"github.com/filevault-gateway/internal/storage"
)

// Metadata keys written on every uploaded object.
const (
	MetaOriginalFilename = "original-filename"
	MetaFileHash         = "file-hash"
	MetaUploadDate       = "upload-date"
	MetaOwnerUserID      = "owner-user-id"
	MetaOwnerEmail       = "owner-email"
)

// ReservedPrefix holds internal documents that are never file records.
const ReservedPrefix = "_system/"

var (
	DefaultAllowedExtensions = []string{"txt", "pdf", "png", "jpg", "jpeg", "gif", "doc", "docx", "zip"}
	DefaultMaxSizeBytes      = int64(16 << 20)
)

// OwnerIndex is an optional per-owner set of storage keys. It is trusted only
// while ready; otherwise listings scan the store and refill it.
type OwnerIndex interface {
	Keys(ctx context.Context, owner uuid.UUID) ([]string, bool, error)
	Add(ctx context.Context, owner uuid.UUID, key string) error
	Remove(ctx context.Context, owner uuid.UUID, keys ...string) error
	Fill(ctx context.Context, owner uuid.UUID, keys []string) error
	Invalidate(ctx context.Context, owner uuid.UUID) error
}

type Policy struct {
	AllowedExtensions []string
	MaxSizeBytes      int64
}

type Index struct {
	store   storage.Store
	owners  OwnerIndex
	allowed map[string]struct{}
	maxSize int64
	now     func() time.Time
	logger  logrus.FieldLogger
}

// NewIndex builds the file index. owners may be nil, in which case every
// listing scans the store.
func NewIndex(store storage.Store, owners OwnerIndex, policy Policy, logger logrus.FieldLogger) *Index {
	if len(policy.AllowedExtensions) == 0 {
		policy.AllowedExtensions = DefaultAllowedExtensions
	}
	if policy.MaxSizeBytes <= 0 {
		policy.MaxSizeBytes = DefaultMaxSizeBytes
	}

	allowed := make(map[string]struct{}, len(policy.AllowedExtensions))
	for _, ext := range policy.AllowedExtensions {
		allowed[strings.ToLower(strings.TrimPrefix(ext, "."))] = struct{}{}
	}

	return &Index{
		store:   store,
		owners:  owners,
		allowed: allowed,
		maxSize: policy.MaxSizeBytes,
		now:     time.Now,
		logger:  logger.WithField("component", "files"),
	}
}

func (x *Index) MaxSizeBytes() int64 {
	return x.maxSize
}

// Upload checks the upload policy, then stores the file under a fresh key.
// Nothing is written when the policy rejects the file.
func (x *Index) Upload(ctx context.Context, owner models.Identity, filename string, r io.Reader) (*models.FileRecord, error) {
	name := BaseName(filename)
	if name == "" {
		return nil, apperr.New(apperr.ErrValidation, "no file selected")
	}
	if _, ok := x.allowed[extension(name)]; !ok {
		return nil, apperr.New(apperr.ErrValidation, "file type not allowed")
	}

	data, err := io.ReadAll(io.LimitReader(r, x.maxSize+1))
	if err != nil {
		return nil, apperr.Newf(apperr.ErrValidation, "read upload: %v", err)
	}
	if int64(len(data)) > x.maxSize {
		return nil, apperr.Newf(apperr.ErrValidation, "file exceeds maximum size of %d bytes", x.maxSize)
	}

	rec := models.FileRecord{
		StorageKey:       StorageKey(name),
		OriginalFilename: name,
		ContentDigest:    Digest(data),
		OwnerUserID:      owner.UserID,
		OwnerEmail:       owner.Email,
		UploadedAt:       x.now().UTC().Truncate(time.Second),
	}
	return x.RecordUpload(ctx, rec, data)
}

// RecordUpload writes data under rec.StorageKey with rec carried in the
// object metadata. The key must not exist yet.
func (x *Index) RecordUpload(ctx context.Context, rec models.FileRecord, data []byte) (*models.FileRecord, error) {
	if rec.StorageKey == "" || strings.HasPrefix(rec.StorageKey, ReservedPrefix) {
		return nil, apperr.New(apperr.ErrValidation, "invalid storage key")
	}
	if rec.UploadedAt.IsZero() {
		rec.UploadedAt = x.now().UTC().Truncate(time.Second)
	}
	rec.SizeBytes = int64(len(data))

	metadata := map[string]string{
		MetaOriginalFilename: rec.OriginalFilename,
		MetaFileHash:         rec.ContentDigest,
		MetaUploadDate:       rec.UploadedAt.Format(time.RFC3339),
		MetaOwnerUserID:      rec.OwnerUserID.String(),
		MetaOwnerEmail:       rec.OwnerEmail,
	}

	_, err := x.store.Put(ctx, rec.StorageKey, data, metadata, storage.PutOptions{
		ContentType: "application/octet-stream",
		IfNoneMatch: true,
	})
	if err != nil {
		return nil, apperr.Storage("store upload", err)
	}

	if x.owners != nil {
		if err := x.owners.Add(ctx, rec.OwnerUserID, rec.StorageKey); err != nil {
			x.invalidate(ctx, rec.OwnerUserID, err)
		}
	}

	x.logger.WithFields(logrus.Fields{
		"storage_key": rec.StorageKey,
		"owner":       rec.OwnerUserID,
		"size":        rec.SizeBytes,
	}).Info("file uploaded")

	return &rec, nil
}

// ListForOwner returns the owner's files ordered by storage key.
func (x *Index) ListForOwner(ctx context.Context, owner uuid.UUID) ([]models.FileRecord, error) {
	if x.owners != nil {
		keys, ready, err := x.owners.Keys(ctx, owner)
		if err != nil {
			x.logger.WithError(err).Warn("owner index unavailable, scanning store")
		} else if ready {
			return x.listIndexed(ctx, owner, keys)
		}
	}

	byOwner, err := x.scan(ctx)
	if err != nil {
		return nil, err
	}
	records := byOwner[owner]

	if x.owners != nil {
		keys := make([]string, len(records))
		for i, rec := range records {
			keys[i] = rec.StorageKey
		}
		if err := x.owners.Fill(ctx, owner, keys); err != nil {
			x.logger.WithError(err).WithField("owner", owner).Warn("failed to fill owner index")
		}
	}

	if records == nil {
		records = []models.FileRecord{}
	}
	return records, nil
}

func (x *Index) listIndexed(ctx context.Context, owner uuid.UUID, keys []string) ([]models.FileRecord, error) {
	records := make([]models.FileRecord, 0, len(keys))
	var stale []string

	for _, key := range keys {
		info, err := x.store.Head(ctx, key)
		if errors.Is(err, storage.ErrNotFound) {
			stale = append(stale, key)
			continue
		}
		if err != nil {
			return nil, apperr.Storage("head "+key, err)
		}

		rec, ok := recordFromInfo(info)
		if !ok || rec.OwnerUserID != owner {
			stale = append(stale, key)
			continue
		}
		records = append(records, rec)
	}

	if len(stale) > 0 {
		if err := x.owners.Remove(ctx, owner, stale...); err != nil {
			x.logger.WithError(err).Warn("failed to prune owner index")
		}
	}

	sort.Slice(records, func(i, j int) bool { return records[i].StorageKey < records[j].StorageKey })
	return records, nil
}

// scan heads every non-reserved object and groups file records by owner.
func (x *Index) scan(ctx context.Context) (map[uuid.UUID][]models.FileRecord, error) {
	objects, err := x.store.List(ctx, "")
	if err != nil {
		return nil, apperr.Storage("list objects", err)
	}

	byOwner := make(map[uuid.UUID][]models.FileRecord)
	for _, obj := range objects {
		if strings.HasPrefix(obj.Key, ReservedPrefix) {
			continue
		}

		info, err := x.store.Head(ctx, obj.Key)
		if errors.Is(err, storage.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, apperr.Storage("head "+obj.Key, err)
		}

		rec, ok := recordFromInfo(info)
		if !ok {
			continue
		}
		byOwner[rec.OwnerUserID] = append(byOwner[rec.OwnerUserID], rec)
	}

	for _, records := range byOwner {
		sort.Slice(records, func(i, j int) bool { return records[i].StorageKey < records[j].StorageKey })
	}
	return byOwner, nil
}

// Reindex rebuilds the owner index of every owner from one scan and returns
// the number of owners and files indexed.
func (x *Index) Reindex(ctx context.Context) (int, int, error) {
	if x.owners == nil {
		return 0, 0, errors.New("no owner index configured")
	}

	byOwner, err := x.scan(ctx)
	if err != nil {
		return 0, 0, err
	}

	total := 0
	for owner, records := range byOwner {
		keys := make([]string, len(records))
		for i, rec := range records {
			keys[i] = rec.StorageKey
		}
		if err := x.owners.Fill(ctx, owner, keys); err != nil {
			return 0, 0, fmt.Errorf("fill index for %s: %w", owner, err)
		}
		total += len(keys)
	}
	return len(byOwner), total, nil
}

// StatForOwner returns the record of key if owner owns it.
func (x *Index) StatForOwner(ctx context.Context, key string, owner uuid.UUID) (*models.FileRecord, error) {
	rec, err := x.stat(ctx, key)
	if err != nil {
		return nil, err
	}
	if rec.OwnerUserID != owner {
		return nil, ErrAccessDenied
	}
	return rec, nil
}

// FetchForOwner returns the bytes and record of key if owner owns it.
func (x *Index) FetchForOwner(ctx context.Context, key string, owner uuid.UUID) ([]byte, *models.FileRecord, error) {
	data, rec, err := x.Open(ctx, key)
	if err != nil {
		return nil, nil, err
	}
	if rec.OwnerUserID != owner {
		return nil, nil, ErrAccessDenied
	}
	return data, rec, nil
}

// DeleteForOwner removes key if owner owns it. Deletion is irreversible.
func (x *Index) DeleteForOwner(ctx context.Context, key string, owner uuid.UUID) (*models.FileRecord, error) {
	rec, err := x.StatForOwner(ctx, key, owner)
	if err != nil {
		return nil, err
	}

	if err := x.store.Delete(ctx, key); err != nil {
		return nil, apperr.Storage("delete "+key, err)
	}

	if x.owners != nil {
		// a member left behind is pruned by the next indexed listing
		if err := x.owners.Remove(ctx, owner, key); err != nil {
			x.logger.WithError(err).Warn("failed to remove key from owner index")
		}
	}

	x.logger.WithFields(logrus.Fields{
		"storage_key": key,
		"owner":       owner,
	}).Info("file deleted")

	return rec, nil
}

// Open returns a file without checking ownership. It is only used once a
// share token has been validated.
func (x *Index) Open(ctx context.Context, key string) ([]byte, *models.FileRecord, error) {
	if strings.HasPrefix(key, ReservedPrefix) {
		return nil, nil, ErrFileNotFound
	}

	obj, err := x.store.Get(ctx, key)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil, ErrFileNotFound
	}
	if err != nil {
		return nil, nil, apperr.Storage("get "+key, err)
	}

	rec, ok := recordFromInfo(obj.ObjectInfo)
	if !ok {
		return nil, nil, ErrFileNotFound
	}
	return obj.Data, &rec, nil
}

func (x *Index) stat(ctx context.Context, key string) (*models.FileRecord, error) {
	if strings.HasPrefix(key, ReservedPrefix) {
		return nil, ErrFileNotFound
	}

	info, err := x.store.Head(ctx, key)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, ErrFileNotFound
	}
	if err != nil {
		return nil, apperr.Storage("head "+key, err)
	}

	rec, ok := recordFromInfo(info)
	if !ok {
		return nil, ErrFileNotFound
	}
	return &rec, nil
}

func (x *Index) invalidate(ctx context.Context, owner uuid.UUID, cause error) {
	log := x.logger.WithField("owner", owner)
	log.WithError(cause).Warn("owner index write failed, invalidating")
	if err := x.owners.Invalidate(ctx, owner); err != nil {
		log.WithError(err).Error("failed to invalidate owner index")
	}
}

// recordFromInfo rebuilds a FileRecord from object metadata. Objects without
// an owner are not file records.
func recordFromInfo(info storage.ObjectInfo) (models.FileRecord, bool) {
	owner, err := uuid.Parse(info.Metadata[MetaOwnerUserID])
	if err != nil {
		return models.FileRecord{}, false
	}

	rec := models.FileRecord{
		StorageKey:       info.Key,
		OriginalFilename: info.Metadata[MetaOriginalFilename],
		ContentDigest:    info.Metadata[MetaFileHash],
		OwnerUserID:      owner,
		OwnerEmail:       info.Metadata[MetaOwnerEmail],
		UploadedAt:       info.LastModified.UTC(),
		SizeBytes:        info.Size,
	}
	if rec.OriginalFilename == "" {
		rec.OriginalFilename = info.Key
	}
	if t, err := time.Parse(time.RFC3339, info.Metadata[MetaUploadDate]); err == nil {
		rec.UploadedAt = t.UTC()
	}
	return rec, true
}

// 错误定义
var (
	ErrFileNotFound = apperr.New(apperr.ErrNotFound, "file not found")
	ErrAccessDenied = apperr.New(apperr.ErrAuth, "access denied")
)
