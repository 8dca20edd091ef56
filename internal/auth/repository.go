package auth

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"
)

// Predefined repository errors.
var (
	ErrUserNotFound = errors.New("user not found")
	ErrUserExists   = errors.New("user already exists")
)

// UserRepository defines the interface for user data operations.
type UserRepository interface {
	// FindByEmail finds a user by email, ignoring case.
	FindByEmail(ctx context.Context, email string) (*User, error)

	// Create creates a new user.
	Create(ctx context.Context, user *User) error
}

// InMemoryUserRepository is an in-memory implementation of UserRepository.
// This is intended for testing and local development.
type InMemoryUserRepository struct {
	mu      sync.RWMutex
	users   map[string]*User  // keyed by user ID
	byEmail map[string]string // lower-cased email -> userID
}

// NewInMemoryUserRepository creates a new in-memory user repository.
func NewInMemoryUserRepository() *InMemoryUserRepository {
	return &InMemoryUserRepository{
		users:   make(map[string]*User),
		byEmail: make(map[string]string),
	}
}

// FindByEmail finds a user by email, ignoring case.
func (r *InMemoryUserRepository) FindByEmail(_ context.Context, email string) (*User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	userID, ok := r.byEmail[normalizeEmail(email)]
	if !ok {
		return nil, ErrUserNotFound
	}

	user, ok := r.users[userID]
	if !ok {
		return nil, ErrUserNotFound
	}

	userCopy := *user
	return &userCopy, nil
}

// Create creates a new user. Emails are unique regardless of case.
func (r *InMemoryUserRepository) Create(_ context.Context, user *User) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	email := normalizeEmail(user.Email)
	if _, ok := r.users[user.ID]; ok {
		return ErrUserExists
	}
	if _, ok := r.byEmail[email]; ok {
		return ErrUserExists
	}

	userCopy := *user
	if userCopy.CreatedAt.IsZero() {
		userCopy.CreatedAt = time.Now()
	}
	if userCopy.UpdatedAt.IsZero() {
		userCopy.UpdatedAt = userCopy.CreatedAt
	}
	r.users[user.ID] = &userCopy
	r.byEmail[email] = user.ID

	return nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Ensure InMemoryUserRepository implements UserRepository interface.
var _ UserRepository = (*InMemoryUserRepository)(nil)
