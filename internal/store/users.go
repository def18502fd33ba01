package store

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

func (r *Repo) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	var row User
	err := r.db.WithContext(ctx).First(&row, "email = ?", strings.ToLower(strings.TrimSpace(email))).Error
	if err != nil {
		return nil, err
	}
	return &row, nil
}

// EnsureUser creates the user if it does not exist. Used to seed the admin
// account from config on startup.
func (r *Repo) EnsureUser(ctx context.Context, email, password, role string) error {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || password == "" {
		return errors.New("user.email and user.password are required")
	}
	_, err := r.GetUserByEmail(ctx, email)
	if err == nil {
		return nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	u := &User{ID: uuid.New(), Email: email, PasswordHash: string(hash), Role: role}
	return r.db.WithContext(ctx).Create(u).Error
}
