package port

import (
	"context"

	"lung-vision/internal/domain/entity"
)

// UserRepository stores chat users.
type UserRepository interface {
	// Get returns the user, creating one in the main menu if unknown.
	Get(ctx context.Context, userID, chatID int64) (*entity.User, error)
	Save(ctx context.Context, user *entity.User) error
	UpdateState(ctx context.Context, userID int64, state entity.UserState) error
}
