package auth

import (
	"errors"
	"fmt"
	"gestion_stages/stages/schema"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

var (
	ErrUserNotFoundWithEmail = errors.New("no user found for given email")
	ErrInvalidCredentials    = errors.New("invalid login credentials")
	ErrGeneratingJwt         = errors.New("error generating jwt")
	ErrEmailAlreadyInUse     = errors.New("email is already in use")
	ErrUsernameAlreadyInUse  = errors.New("username is already in use")
	ErrInvalidRole           = errors.New("invalid role")
)

type LoginResult struct {
	UserId      uuid.UUID
	AccessToken string
}

type IdentityProvider interface {
	AuthMiddleware() chi.Middlewares

	AllowDirectSignup() bool

	LoginWithEmail(email, password string) (LoginResult, error)

	LoginWithToken(accessToken string) (LoginResult, error)

	CreateUser(username, email, password, role string) (uuid.UUID, error)

	DeleteUser(userId uuid.UUID) error

	GetTokenExpiration(r *http.Request) (time.Time, error)
}

func checkValidRole(role string) error {
	switch role {
	case schema.RoleAdmin, schema.RoleEtudiant, schema.RoleEntreprise:
		return nil
	default:
		return fmt.Errorf("%w: '%v'", ErrInvalidRole, role)
	}
}

// createUserProfile inserts the empty domain profile that goes with a new
// account. Only the email is filled in; the user completes the rest later.
// The profile email is how ownership checks tie accounts to domain rows.
func createUserProfile(txn *gorm.DB, role, email string) error {
	switch role {
	case schema.RoleEtudiant:
		profile := schema.Etudiant{Id: uuid.New(), Email: email}
		if result := txn.Create(&profile); result.Error != nil {
			slog.Error("sql error creating etudiant profile for new user", "error", result.Error)
			return schema.ErrDbAccessFailed
		}
	case schema.RoleEntreprise:
		profile := schema.Entreprise{Id: uuid.New(), EmailContact: email}
		if result := txn.Create(&profile); result.Error != nil {
			slog.Error("sql error creating entreprise profile for new user", "error", result.Error)
			return schema.ErrDbAccessFailed
		}
	}
	return nil
}

func addInitialAdminToDb(db *gorm.DB, userId uuid.UUID, username, email string, password []byte) error {
	user := schema.User{
		Id:       userId,
		Username: username,
		Email:    email,
		Role:     schema.RoleAdmin,
	}
	if password != nil {
		user.Password = password
	}

	err := db.Transaction(func(txn *gorm.DB) error {
		var existingUser schema.User
		result := txn.Limit(1).Find(&existingUser, "id = ? or username = ? or email = ?", userId, username, email)
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

const UserRequestContextKey requestContextKey = "user"
