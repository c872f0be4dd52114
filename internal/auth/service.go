package auth

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"

	"knowledgehub/internal/models"

	"golang.org/x/crypto/bcrypt"
)

var (
	// ErrInvalidCredentials 用户名或密码错误
	ErrInvalidCredentials = errors.New("用户名或密码错误")
	// ErrInactiveUser 用户已停用
	ErrInactiveUser = errors.New("用户已停用")
)

// ValidationError 注册参数不合法
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// RegisterInput 注册参数
type RegisterInput struct {
	Username string
	Email    string
	FullName string
	Password string
}

// Service 用户注册与登录
type Service struct {
	users      *models.UserService
	jwt        *JWTService
	bcryptCost int
}

// NewService 创建认证服务
func NewService(users *models.UserService, jwt *JWTService) *Service {
	return &Service{users: users, jwt: jwt, bcryptCost: bcrypt.DefaultCost}
}

// JWT 令牌服务
func (s *Service) JWT() *JWTService {
	return s.jwt
}

// Register 注册用户，密码以 bcrypt 存储
func (s *Service) Register(ctx context.Context, in RegisterInput) (*models.User, error) {
	username := strings.TrimSpace(in.Username)
	if username == "" {
		return nil, &ValidationError{Field: "username", Message: "不能为空"}
	}
	if _, err := mail.ParseAddress(in.Email); err != nil {
		return nil, &ValidationError{Field: "email", Message: "格式不正确"}
	}
	if len(in.Password) < 6 {
		return nil, &ValidationError{Field: "password", Message: "至少 6 位"}
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), s.bcryptCost)
	if err != nil {
		return nil, fmt.Errorf("密码加密失败: %w", err)
	}

	user := &models.User{
		Username:       username,
		Email:          strings.ToLower(strings.TrimSpace(in.Email)),
		FullName:       in.FullName,
		HashedPassword: string(hash),
		IsActive:       true,
	}
	if err := s.users.CreateUser(ctx, user); err != nil {
		return nil, err
	}
	return user, nil
}

// Login 校验用户名密码并签发访问令牌
func (s *Service) Login(ctx context.Context, username, password string) (*Token, *models.User, error) {
	user, err := s.users.GetByUsername(ctx, strings.TrimSpace(username))
	if err != nil {
		return nil, nil, fmt.Errorf("查询用户失败: %w", err)
	}
	if user == nil {
		return nil, nil, ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.HashedPassword), []byte(password)); err != nil {
		return nil, nil, ErrInvalidCredentials
	}
	if !user.IsActive {
		return nil, nil, ErrInactiveUser
	}

	token, err := s.jwt.GenerateAccessToken(Principal{UserID: user.ID, Username: user.Username, IsAdmin: user.IsAdmin})
	if err != nil {
		return nil, nil, err
	}
	return token, user, nil
}

// GetUser 按 ID 获取用户，不存在返回 nil
func (s *Service) GetUser(ctx context.Context, id string) (*models.User, error) {
	return s.users.GetByID(ctx, id)
}
