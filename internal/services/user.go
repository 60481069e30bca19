package services

import (
	"context"

	"github.com/ecosort/apiserver/types"
	"github.com/go-playground/validator/v10"
)

// UserRepository defines persistence operations for users.
type UserRepository interface {
	GetByID(ctx context.Context, id int) (types.User, error)
	GetByUsername(ctx context.Context, username string) (types.User, error)
	Create(ctx context.Context, user types.User) (types.User, error)
}

// Credentials are the fields submitted on registration. bcrypt additionally
// rejects passwords longer than 72 bytes.
type Credentials struct {
	Username string `json:"username" validate:"required,min=3,max=64"`
	Password string `json:"password" validate:"required,min=6,max=72"`
}

// UserService encapsulates user use-cases.
type UserService struct {
	repo     UserRepository
	validate *validator.Validate
}

func NewUserService(repo UserRepository) *UserService {
	return &UserService{repo: repo, validate: newValidator()}
}

func (s *UserService) GetByID(ctx context.Context, id int) (types.User, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *UserService) GetByUsername(ctx context.Context, username string) (types.User, error) {
	return s.repo.GetByUsername(ctx, username)
}

// Create stores a user whose password is already hashed. A taken username
// yields store.ErrConflict.
func (s *UserService) Create(ctx context.Context, user types.User) (types.User, error) {
	return s.repo.Create(ctx, user)
}

// ValidateCredentials checks registration input, returning a *ValidationError.
func (s *UserService) ValidateCredentials(creds Credentials) error {
	return validateStruct(s.validate, creds)
}
