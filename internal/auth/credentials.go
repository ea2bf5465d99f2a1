package auth

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"

	"github.com/filevault-gateway/internal/apperr"
	"github.com/filevault-gateway/internal/models"
	"github.com/filevault-gateway/internal/storage"
)

const MinPasswordLength = 6

// userRecord is the persisted form of a user; unlike models.User it carries
// the password hash.
type userRecord struct {
	ID           uuid.UUID `json:"id"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"password_hash"`
	CreatedAt    time.Time `json:"created_at"`
}

func (r userRecord) toModel() models.User {
	return models.User{
		ID:           r.ID,
		Email:        r.Email,
		PasswordHash: r.PasswordHash,
		CreatedAt:    r.CreatedAt,
	}
}

// directory is the user directory document, keyed by email.
type directory struct {
	Users map[string]userRecord `json:"users"`
}

// CredentialStore persists the user directory as a single versioned document
// in the blob store.
type CredentialStore struct {
	users  *storage.Document[directory]
	cost   int
	dummy  []byte
	now    func() time.Time
	logger logrus.FieldLogger
}

func NewCredentialStore(store storage.Store, directoryKey string, bcryptCost int, logger logrus.FieldLogger) *CredentialStore {
	if bcryptCost < bcrypt.MinCost {
		bcryptCost = bcrypt.DefaultCost
	}
	// compared against when the email is unknown so both paths pay for bcrypt
	dummy, _ := bcrypt.GenerateFromPassword([]byte("filevault-dummy-password"), bcryptCost)

	return &CredentialStore{
		users:  storage.NewDocument[directory](store, directoryKey),
		cost:   bcryptCost,
		dummy:  dummy,
		now:    time.Now,
		logger: logger.WithField("component", "credentials"),
	}
}

func validateCredentials(email, password string) error {
	if email == "" || password == "" {
		return apperr.New(apperr.ErrValidation, "email and password are required")
	}
	return ValidatePassword(password)
}

// ValidatePassword applies the password policy shared by registration and
// password reset.
func ValidatePassword(password string) error {
	if password == "" {
		return apperr.New(apperr.ErrValidation, "password is required")
	}
	if len(password) < MinPasswordLength {
		return apperr.Newf(apperr.ErrValidation, "password must be at least %d characters", MinPasswordLength)
	}
	return nil
}

// Register creates a user. The email is stored as given (after trimming
// surrounding whitespace) and compared case-sensitively.
func (s *CredentialStore) Register(ctx context.Context, email, password string) (*models.User, error) {
	email = strings.TrimSpace(email)
	if err := validateCredentials(email, password); err != nil {
		return nil, err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.cost)
	if err != nil {
		return nil, apperr.Storage("hash password", err)
	}

	record := userRecord{
		ID:           uuid.New(),
		Email:        email,
		PasswordHash: string(hash),
		CreatedAt:    s.now().UTC(),
	}

	_, err = s.users.Update(ctx, func(d *directory) error {
		if d.Users == nil {
			d.Users = make(map[string]userRecord)
		}
		if _, exists := d.Users[email]; exists {
			return apperr.New(apperr.ErrConflict, "email already registered")
		}
		d.Users[email] = record
		return nil
	})
	if err != nil {
		return nil, apperr.Wrap("register user", err)
	}

	s.logger.WithField("user_id", record.ID).Info("user registered")

	user := record.toModel()
	return &user, nil
}

// Authenticate verifies a password. Unknown emails and wrong passwords
// produce the same error.
func (s *CredentialStore) Authenticate(ctx context.Context, email, password string) (*models.User, error) {
	email = strings.TrimSpace(email)

	d, _, err := s.users.Load(ctx)
	if err != nil {
		return nil, apperr.Storage("load users", err)
	}

	record, ok := d.Users[email]
	if !ok {
		_ = bcrypt.CompareHashAndPassword(s.dummy, []byte(password))
		return nil, ErrInvalidCredentials
	}

	if err := bcrypt.CompareHashAndPassword([]byte(record.PasswordHash), []byte(password)); err != nil {
		return nil, ErrInvalidCredentials
	}

	user := record.toModel()
	return &user, nil
}

// SetPassword replaces the password hash of an existing user.
func (s *CredentialStore) SetPassword(ctx context.Context, email, password string) error {
	if err := validateCredentials(email, password); err != nil {
		return err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.cost)
	if err != nil {
		return apperr.Storage("hash password", err)
	}

	var userID uuid.UUID
	_, err = s.users.Update(ctx, func(d *directory) error {
		record, ok := d.Users[email]
		if !ok {
			return ErrUserNotFound
		}
		record.PasswordHash = string(hash)
		d.Users[email] = record
		userID = record.ID
		return nil
	})
	if err != nil {
		return apperr.Wrap("set password", err)
	}

	s.logger.WithField("user_id", userID).Info("password updated")
	return nil
}

// Lookup returns the user registered under email.
func (s *CredentialStore) Lookup(ctx context.Context, email string) (*models.User, error) {
	d, _, err := s.users.Load(ctx)
	if err != nil {
		return nil, apperr.Storage("load users", err)
	}

	record, ok := d.Users[strings.TrimSpace(email)]
	if !ok {
		return nil, ErrUserNotFound
	}

	user := record.toModel()
	return &user, nil
}

// GetUserByID 根据ID获取用户
func (s *CredentialStore) GetUserByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	d, _, err := s.users.Load(ctx)
	if err != nil {
		return nil, apperr.Storage("load users", err)
	}

	for _, record := range d.Users {
		if record.ID == id {
			user := record.toModel()
			return &user, nil
		}
	}
	return nil, ErrUserNotFound
}

// 错误定义
var (
	ErrInvalidCredentials = apperr.New(apperr.ErrAuth, "invalid email or password")
	ErrUserNotFound       = apperr.New(apperr.ErrNotFound, "user not found")
)
