package auth

import (
	"errors"
	"fmt"
	"log/slog"
	"suipic/proofing/schema"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

var (
	ErrUserNotFoundWithEmail = errors.New("no user found for given email")
	ErrInvalidCredentials    = errors.New("invalid login credentials")
	ErrGeneratingJwt         = errors.New("error generating jwt")
	ErrEmailAlreadyInUse     = errors.New("email is already in use")
	ErrIdentityNotSynced     = errors.New("identity has not been provisioned, call /auth/sync first")
)

type LoginResult struct {
	UserId      uuid.UUID
	AccessToken string
}

type IdentityProvider interface {
	AuthMiddleware() chi.Middlewares

	AllowDirectSignup() bool

	LoginWithEmail(email, password string) (LoginResult, error)

	// SetPassword stores login credentials for a platform-provisioned account.
	// Providers that manage credentials externally may treat this as a no-op.
	SetPassword(user schema.User, password string) error
}

func addInitialAdminToDb(db *gorm.DB, userId uuid.UUID, identityKey, email string, password []byte) error {
	user := schema.User{
		Id:          userId,
		IdentityKey: identityKey,
		Email:       email,
		Role:        schema.RoleAdmin,
	}
	if password != nil {
		user.Password = password
	}

	err := db.Transaction(func(txn *gorm.DB) error {
		var existingUser schema.User
		result := txn.Limit(1).Find(&existingUser, "id = ? or identity_key = ? or email = ?", userId, identityKey, email)
		if result.Error != nil {
			slog.Error("sql error checking if admin has already been added", "error", result.Error)
			return schema.ErrDbAccessFailed
		}
		if result.RowsAffected == 0 {
			result := txn.Create(&user)
			if result.Error != nil {
				slog.Error("sql error creating initial admin user", "error", result.Error)
				return schema.ErrDbAccessFailed
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("error adding initial admin to db: %w", err)
	}

	return nil
}

type requestContextKey string

const (
	UserRequestContextKey requestContextKey = "user"
)
