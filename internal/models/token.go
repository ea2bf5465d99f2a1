package models

import (
	"time"

	"github.com/google/uuid"
)

type ResetToken struct {
	Token  uuid.UUID `json:"token"`
	Email  string    `json:"email"`
	Expiry time.Time `json:"expiry"`
	Used   bool      `json:"used"`
}

type ShareToken struct {
	Token       uuid.UUID `json:"token"`
	StorageKey  string    `json:"storage_key"`
	Filename    string    `json:"filename"`
	Expiry      time.Time `json:"expiry"`
	OwnerUserID uuid.UUID `json:"owner_user_id"`
}

type CreateShareRequest struct {
	Hours int `json:"hours"`
}

type CreateShareResponse struct {
	ShareURL   string    `json:"share_url"`
	ShareToken string    `json:"share_token"`
	ExpiresAt  time.Time `json:"expires_at"`
}
