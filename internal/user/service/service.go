package service

import (
	"context"
	"errors"

	"tradepilot/internal/user"
	"tradepilot/pkg/hash"
)

var (
	ErrUserExists   = errors.New("user already exists")
	ErrInvalidCreds = errors.New("invalid credentials")
)

type UserRepository interface {
	Create(context.Context, *user.User) error
	GetByEmail(context.Context, string) (*user.User, error)
	GetByID(context.Context, int64) (*user.User, error)
}

type UserService struct {
	repo UserRepository
}

func NewUserService(repo UserRepository) *UserService {
	return &UserService{repo: repo}
}

func (s *UserService) Register(ctx context.Context, email, password string) (*user.User, error) {
	_, err := s.repo.GetByEmail(ctx, email)
	if err == nil {
		return nil, ErrUserExists
	}

	hashed, err := hash.HashPassword(password)
	if err != nil {
		return nil, err
	}

	u := &user.User{
		Email:    email,
		Password: hashed,
	}

	err = s.repo.Create(ctx, u)
	if err != nil {
		return nil, err
	}

	return u, nil
}

func (s *UserService) Login(ctx context.Context, email, password string) (*user.User, error) {
	u, err := s.repo.GetByEmail(ctx, email)
	if err != nil {
		return nil, ErrInvalidCreds
	}

	if !hash.CheckPassword(u.Password, password) {
		return nil, ErrInvalidCreds
	}

	return u, nil
}

func (s *UserService) GetByID(ctx context.Context, id int64) (*user.User, error) {
	return s.repo.GetByID(ctx, id)
}
