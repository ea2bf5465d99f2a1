package models

import (
	"time"

	"github.com/google/uuid"
)

// FileRecord is materialised from a stored object's key and metadata.
type FileRecord struct {
	StorageKey       string    `json:"storage_key"`
	OriginalFilename string    `json:"filename"`
	ContentDigest    string    `json:"file_hash"`
	OwnerUserID      uuid.UUID `json:"owner_user_id"`
	OwnerEmail       string    `json:"owner_email"`
	UploadedAt       time.Time `json:"uploaded_at"`
	SizeBytes        int64     `json:"size"`
}
