package domain

import (
	"errors"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"
)

// UserPermission is a bitmask of the actions a non-admin user may perform.
type UserPermission int

const (
	PermissionNone          UserPermission = 0
	PermissionReadGallery   UserPermission = 1 << 0
	PermissionEditGallery   UserPermission = 1 << 1
	PermissionDeleteGallery UserPermission = 1 << 2
	PermissionManageTasks   UserPermission = 1 << 3

	PermissionAll = PermissionReadGallery | PermissionEditGallery |
		PermissionDeleteGallery | PermissionManageTasks
)

// Has reports whether every bit of want is set.
func (p UserPermission) Has(want UserPermission) bool {
	return p&want == want
}

// Password length limits. bcrypt ignores bytes past 72.
const (
	MinPasswordLength = 8
	MaxPasswordLength = 72
)

// User is an account of the HTTP surface.
// Password always holds the bcrypt hash, never plaintext.
type User struct {
	ID          int64          `json:"id"`
	Username    string         `json:"username"`
	Password    string         `json:"-"`
	IsAdmin     bool           `json:"is_admin"`
	Permissions UserPermission `json:"permissions"`
}

// NewUser validates the plaintext password and returns a user holding its hash.
func NewUser(username, password string, isAdmin bool, perms UserPermission) (*User, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return nil, ErrEmptyUsername
	}
	hash, err := HashPassword(password)
	if err != nil {
		return nil, err
	}
	return &User{
		Username:    username,
		Password:    hash,
		IsAdmin:     isAdmin,
		Permissions: perms,
	}, nil
}

// Can reports whether the user may perform an action.
func (u *User) Can(want UserPermission) bool {
	return u.IsAdmin || u.Permissions.Has(want)
}

// HashPassword returns the bcrypt hash of a plaintext password.
func HashPassword(password string) (string, error) {
	if len(password) < MinPasswordLength || len(password) > MaxPasswordLength {
		return "", NewValidationError("password", "length out of range", ErrInvalidPassword)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// CheckPassword compares a stored hash with a plaintext candidate.
// A mismatch returns ErrInvalidPassword.
func CheckPassword(hash, password string) error {
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
	if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
		return ErrInvalidPassword
	}
	return err
}

// Token is a bearer session bound to a user.
type Token struct {
	ID             int64     `json:"id"`
	UID            int64     `json:"uid"`
	Token          string    `json:"token"`
	Expired        time.Time `json:"expired"`
	HTTPOnly       bool      `json:"http_only"`
	Secure         bool      `json:"secure"`
	LastUsed       time.Time `json:"last_used"`
	Client         *string   `json:"client"`
	Device         *string   `json:"device"`
	ClientVersion  *string   `json:"client_version"`
	ClientPlatform *string   `json:"client_platform"`
}

// IsExpired reports whether the token is past its expiry at now.
func (t *Token) IsExpired(now time.Time) bool {
	return !now.Before(t.Expired)
}

// SharedTokenType names the payload a shared token grants access to.
type SharedTokenType string

// SharedTokenTypeGallery grants read access to one gallery.
const SharedTokenTypeGallery SharedTokenType = "gallery"

// SharedGalleryInfo is the payload of a gallery shared token.
type SharedGalleryInfo struct {
	GID int64 `json:"gid"`
}

// SharedToken is a capability token for a typed payload.
// Expired is nil for tokens that never expire. Info is JSON.
type SharedToken struct {
	ID      int64           `json:"id"`
	Token   string          `json:"token"`
	Expired *time.Time      `json:"expired"`
	Type    SharedTokenType `json:"type"`
	Info    string          `json:"info"`
}
