// Package reset issues and redeems single-use password reset tokens. All
// tokens live in one versioned document in the blob store.
package reset

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/filevault-gateway/internal/apperr"
	"github.com/filevault-gateway/internal/auth"
	"github.com/filevault-gateway/internal/mail"
	"github.com/filevault-gateway/internal/models"
	"github.com/filevault-gateway/internal/storage"
)

const DefaultTTL = time.Hour

// Credentials is the part of the user directory the ledger needs.
type Credentials interface {
	Lookup(ctx context.Context, email string) (*models.User, error)
	SetPassword(ctx context.Context, email, password string) error
}

type book struct {
	Tokens map[string]models.ResetToken `json:"tokens"`
}

type Ledger struct {
	tokens   *storage.Document[book]
	creds    Credentials
	mailer   mail.Mailer
	linkBase string
	ttl      time.Duration
	now      func() time.Time
	logger   logrus.FieldLogger
}

type Config struct {
	DocumentKey string
	// PublicURL prefixes the link sent by mail.
	PublicURL string
	TTL       time.Duration
}

func NewLedger(store storage.Store, creds Credentials, mailer mail.Mailer, cfg Config, logger logrus.FieldLogger) *Ledger {
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	return &Ledger{
		tokens:   storage.NewDocument[book](store, cfg.DocumentKey),
		creds:    creds,
		mailer:   mailer,
		linkBase: strings.TrimRight(cfg.PublicURL, "/"),
		ttl:      cfg.TTL,
		now:      time.Now,
		logger:   logger.WithField("component", "reset"),
	}
}

// Issue creates a reset token for a registered email and asks the mailer to
// deliver the link. Older live tokens for the same email stay valid.
// Unknown emails return after the lookup alone, so latency differs from the
// known-email path even though the HTTP body does not.
func (l *Ledger) Issue(ctx context.Context, email string) (*models.ResetToken, error) {
	email = strings.TrimSpace(email)
	if email == "" {
		return nil, apperr.New(apperr.ErrValidation, "email is required")
	}

	if _, err := l.creds.Lookup(ctx, email); err != nil {
		return nil, err
	}

	token := models.ResetToken{
		Token:  uuid.New(),
		Email:  email,
		Expiry: l.now().Add(l.ttl).UTC(),
	}

	_, err := l.tokens.Update(ctx, func(b *book) error {
		if b.Tokens == nil {
			b.Tokens = make(map[string]models.ResetToken)
		}
		b.Tokens[token.Token.String()] = token
		return nil
	})
	if err != nil {
		return nil, apperr.Storage("issue reset token", err)
	}

	link := fmt.Sprintf("%s/reset-password/%s", l.linkBase, token.Token)
	if err := l.mailer.SendPasswordReset(ctx, email, link); err != nil {
		l.logger.WithError(err).WithField("email", email).Error("failed to deliver reset email")
	}

	return &token, nil
}

// Validate reports the email a token was issued for without consuming it.
func (l *Ledger) Validate(ctx context.Context, token string) (string, error) {
	b, _, err := l.tokens.Load(ctx)
	if err != nil {
		return "", apperr.Storage("load reset tokens", err)
	}

	rec, err := l.check(b, token)
	if err != nil {
		return "", err
	}
	return rec.Email, nil
}

// Consume marks the token used and then sets the new password. The two writes
// are sequential: a failure setting the password leaves the token spent.
func (l *Ledger) Consume(ctx context.Context, token, newPassword string) (string, error) {
	if err := auth.ValidatePassword(newPassword); err != nil {
		return "", err
	}

	var email string
	_, err := l.tokens.Update(ctx, func(b *book) error {
		rec, err := l.check(*b, token)
		if err != nil {
			return err
		}
		rec.Used = true
		b.Tokens[rec.Token.String()] = rec
		email = rec.Email
		return nil
	})
	if err != nil {
		return "", apperr.Wrap("consume reset token", err)
	}

	if err := l.creds.SetPassword(ctx, email, newPassword); err != nil {
		return "", err
	}

	l.logger.WithField("email", email).Info("password reset completed")
	return email, nil
}

func (l *Ledger) check(b book, token string) (models.ResetToken, error) {
	id, err := uuid.Parse(token)
	if err != nil {
		return models.ResetToken{}, ErrTokenNotFound
	}

	rec, ok := b.Tokens[id.String()]
	if !ok {
		return models.ResetToken{}, ErrTokenNotFound
	}
	// used wins over expired so a replayed consume always reports ErrTokenUsed
	if rec.Used {
		return models.ResetToken{}, ErrTokenUsed
	}
	if l.now().After(rec.Expiry) {
		return models.ResetToken{}, ErrTokenExpired
	}
	return rec, nil
}

var (
	ErrTokenNotFound = apperr.New(apperr.ErrNotFound, "reset token not found")
	ErrTokenExpired  = apperr.New(apperr.ErrExpired, "reset token has expired")
	ErrTokenUsed     = apperr.New(apperr.ErrUsed, "reset token has already been used")
)
