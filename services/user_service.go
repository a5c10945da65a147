package services

import (
	"errors"
	"time"

	"gorm.io/gorm"

	"film-forge-server/models"
	"film-forge-server/pkg/auth"
	"film-forge-server/pkg/logger"
)

type UserService struct {
	db *gorm.DB
}

func NewUserService(db *gorm.DB) *UserService {
	return &UserService{db: db}
}

func (s *UserService) CreateUser(req *models.UserCreateRequest) (*models.User, error) {
	// Check if user already exists
	var existingUser models.User
	if err := s.db.Where("email = ? OR username = ?", req.Email, req.Username).First(&existingUser).Error; err == nil {
		if existingUser.Email == req.Email {
			return nil, errors.New("user with this email already exists")
		}
		return nil, errors.New("user with this username already exists")
	}

	user := &models.User{
		Username: req.Username,
		Email:    req.Email,
		Password: req.Password,
		Role:     "user",
		IsActive: true,
	}

	if err := user.HashPassword(); err != nil {
		logger.Errorf("Failed to hash password: %v", err)
		return nil, errors.New("failed to process password")
	}

	if err := s.db.Create(user).Error; err != nil {
		logger.Errorf("Failed to create user: %v", err)
		return nil, errors.New("failed to create user")
	}

	logger.Infof("User created successfully: %s", user.Email)
	return user, nil
}

// AuthenticateUser verifies credentials and returns a signed token.
func (s *UserService) AuthenticateUser(req *models.UserLoginRequest) (*models.User, string, error) {
	var user models.User
	if err := s.db.Where("email = ?", req.Email).First(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, "", errors.New("invalid credentials")
		}
		return nil, "", err
	}

	if !user.IsActive {
		return nil, "", errors.New("account is disabled")
	}

	if err := user.CheckPassword(req.Password); err != nil {
		return nil, "", errors.New("invalid credentials")
	}

	token, err := auth.GenerateToken(user.ID, user.Username, user.Email, user.Role)
	if err != nil {
		logger.Errorf("Failed to generate token for user %d: %v", user.ID, err)
		return nil, "", errors.New("failed to generate token")
	}

	now := time.Now()
	if err := s.db.Model(&user).Update("last_login", now).Error; err != nil {
		logger.Warnf("Failed to update last login for user %d: %v", user.ID, err)
	}
	user.LastLogin = &now

	return &user, token, nil
}

func (s *UserService) GetUserByID(userID uint) (*models.User, error) {
	var user models.User
	if err := s.db.First(&user, userID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errors.New("user not found")
		}
		return nil, err
	}
	return &user, nil
}
