package app

import (
	"context"

	"lung-vision/internal/domain/entity"
	"lung-vision/internal/domain/port"
)

// UserService tracks per-chat dialog state.
type UserService struct {
	repo port.UserRepository
}

// NewUserService returns a UserService over repo.
func NewUserService(repo port.UserRepository) *UserService {
	return &UserService{repo: repo}
}

func (s *UserService) Get(ctx context.Context, userID, chatID int64) (*entity.User, error) {
	return s.repo.Get(ctx, userID, chatID)
}

func (s *UserService) SetState(ctx context.Context, userID, chatID int64, state entity.UserState) (*entity.User, error) {
	user, err := s.repo.Get(ctx, userID, chatID)
	if err != nil {
		return nil, err
	}

	if err := s.repo.UpdateState(ctx, user.ID, state); err != nil {
		return nil, err
	}
	user.SetState(state)

	return user, nil
}

func (s *UserService) BeginCheck(ctx context.Context, userID, chatID int64) (*entity.User, error) {
	return s.SetState(ctx, userID, chatID, entity.StateAwaitingPhoto)
}

func (s *UserService) Cancel(ctx context.Context, userID, chatID int64) (*entity.User, error) {
	return s.SetState(ctx, userID, chatID, entity.StateMainMenu)
}

// FinishCheck stores the diagnosis id on the user and returns to the menu.
func (s *UserService) FinishCheck(ctx context.Context, userID, chatID int64, diagnosisID string) (*entity.User, error) {
	user, err := s.repo.Get(ctx, userID, chatID)
	if err != nil {
		return nil, err
	}

	user.RecordDiagnosis(diagnosisID)
	if err := s.repo.Save(ctx, user); err != nil {
		return nil, err
	}

	return user, nil
}
