package service

import (
	"errors"

	"parley/config"
	"parley/internal/auth"
	"parley/internal/models"
	"parley/internal/repository"

	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

var (
	ErrEmailExists    = errors.New("email already registered")
	ErrUsernameExists = errors.New("username already taken")
	ErrInvalidCreds   = errors.New("invalid email or password")
)

// AuthService mints the access tokens the socket handshake consumes. The
// wider account surface (refresh, OAuth, 2FA) lives in the messaging API,
// not here.
type AuthService struct {
	cfg      *config.Config
	userRepo *repository.UserRepository
}

func NewAuthService(cfg *config.Config, userRepo *repository.UserRepository) *AuthService {
	return &AuthService{cfg: cfg, userRepo: userRepo}
}

func (s *AuthService) Register(email, username, password string) (*models.User, string, error) {
	_, err := s.userRepo.GetByEmail(email)
	if err == nil {
		return nil, "", ErrEmailExists
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, "", err
	}
	_, err = s.userRepo.GetByUsername(username)
	if err == nil {
		return nil, "", ErrUsernameExists
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, "", err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, "", err
	}
	u := &models.User{Email: email, Username: username, PasswordHash: string(hash)}
	if err := s.userRepo.Create(u); err != nil {
		return nil, "", err
	}
	access, err := auth.GenerateAccessToken(&s.cfg.JWT, u.ID, u.Username)
	if err != nil {
		return u, "", err
	}
	return u, access, nil
}

func (s *AuthService) Login(email, password string) (*models.User, string, error) {
	u, err := s.userRepo.GetByEmail(email)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, "", ErrInvalidCreds
		}
		return nil, "", err
	}
	if bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)) != nil {
		return nil, "", ErrInvalidCreds
	}
	access, err := auth.GenerateAccessToken(&s.cfg.JWT, u.ID, u.Username)
	if err != nil {
		return nil, "", err
	}
	return u, access, nil
}
