package storage

import (
	"context"
	"sync"

	"lung-vision/internal/domain/entity"
	"lung-vision/internal/domain/port"
)

// MemoryUserRepository keeps chat users in memory. Get hands out copies so
// callers never share a *User across goroutines.
type MemoryUserRepository struct {
	mu    sync.RWMutex
	users map[int64]entity.User
}

func NewMemoryUserRepository() *MemoryUserRepository {
	return &MemoryUserRepository{
		users: make(map[int64]entity.User),
	}
}

func (r *MemoryUserRepository) Get(ctx context.Context, userID, chatID int64) (*entity.User, error) {
	r.mu.RLock()
	user, exists := r.users[userID]
	r.mu.RUnlock()
	if exists {
		return &user, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if user, exists := r.users[userID]; exists {
		return &user, nil
	}
	newUser := entity.NewUser(userID, chatID)
	r.users[userID] = *newUser
	return newUser, nil
}

func (r *MemoryUserRepository) Save(ctx context.Context, user *entity.User) error {
	r.mu.Lock()
	r.users[user.ID] = *user
	r.mu.Unlock()
	return nil
}

func (r *MemoryUserRepository) UpdateState(ctx context.Context, userID int64, state entity.UserState) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if user, exists := r.users[userID]; exists {
		user.SetState(state)
		r.users[userID] = user
	}
	return nil
}

var _ port.UserRepository = (*MemoryUserRepository)(nil)
