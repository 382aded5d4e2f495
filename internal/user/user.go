// Package user stores login credentials as bcrypt hashes.
package user

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

// ErrUserNotFound is returned when no user has the requested username.
var ErrUserNotFound = errors.New("user not found")

// User is a credential holder.
type User struct {
	ID           string    `gorm:"type:varchar(36);primaryKey"`
	Username     string    `gorm:"type:varchar(64);uniqueIndex;not null"`
	PasswordHash string    `gorm:"type:varchar(255);not null"`
	CreatedAt    time.Time `gorm:"autoCreateTime"`
}

// TableName specifies the table name for User.
func (User) TableName() string {
	return "users"
}

// CheckPassword reports whether password matches the stored hash.
func (u *User) CheckPassword(password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)) == nil
}

// Repository implements credential lookup using GORM.
type Repository struct {
	db   *gorm.DB
	cost int
}

// NewRepository creates a new GORM-based user repository.
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db, cost: bcrypt.DefaultCost}
}

// WithCost returns a copy hashing with the given bcrypt cost; tests use bcrypt.MinCost.
func (r *Repository) WithCost(cost int) *Repository {
	return &Repository{db: r.db, cost: cost}
}

// FindByUsername retrieves a user by username.
func (r *Repository) FindByUsername(ctx context.Context, username string) (*User, error) {
	var u User
	result := r.db.WithContext(ctx).First(&u, "username = ?", username)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, result.Error
	}
	return &u, nil
}

// Ensure creates the user if the username is free. An existing user keeps its password.
func (r *Repository) Ensure(ctx context.Context, username, password string) (*User, error) {
	username = strings.TrimSpace(username)
	if username == "" || password == "" {
		return nil, fmt.Errorf("username and password are required")
	}

	existing, err := r.FindByUsername(ctx, username)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, ErrUserNotFound) {
		return nil, err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), r.cost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	u := &User{
		ID:           uuid.New().String(),
		Username:     username,
		PasswordHash: string(hash),
	}
	if err := r.db.WithContext(ctx).Create(u).Error; err != nil {
		return nil, fmt.Errorf("create user %q: %w", username, err)
	}
	return u, nil
}
