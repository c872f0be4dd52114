package models

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ErrUserExists 用户名或邮箱已被注册
var ErrUserExists = errors.New("用户名或邮箱已存在")

// User 用户
type User struct {
	ID             string    `gorm:"type:varchar(64);primaryKey" json:"id"`
	Username       string    `gorm:"type:varchar(100);not null;uniqueIndex" json:"username"`
	Email          string    `gorm:"type:varchar(255);not null;uniqueIndex" json:"email"`
	FullName       string    `gorm:"type:varchar(200)" json:"full_name"`
	HashedPassword string    `gorm:"type:varchar(255);not null" json:"-"`
	IsAdmin        bool      `gorm:"not null;default:false" json:"is_admin"`
	IsActive       bool      `gorm:"not null" json:"is_active"`
	CreatedAt      time.Time `gorm:"not null" json:"created_at"`
}

// BeforeCreate GORM 钩子：创建前设置 ID
func (u *User) BeforeCreate(tx *gorm.DB) error {
	if u.ID == "" {
		u.ID = uuid.New().String()
	}
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now().UTC()
	}
	return nil
}

// TableName 指定表名
func (User) TableName() string {
	return "users"
}

// UserService 用户服务
type UserService struct {
	db *gorm.DB
}

// NewUserService 创建用户服务
func NewUserService(db *gorm.DB) *UserService {
	return &UserService{db: db}
}

// CreateUser 创建用户，用户名或邮箱重复时返回 ErrUserExists
func (s *UserService) CreateUser(ctx context.Context, user *User) error {
	var count int64
	if err := s.db.WithContext(ctx).Model(&User{}).
		Where("username = ? OR email = ?", user.Username, user.Email).
		Count(&count).Error; err != nil {
		return err
	}
	if count > 0 {
		return ErrUserExists
	}
	return s.db.WithContext(ctx).Create(user).Error
}

// GetByUsername 按用户名查找，不存在时返回 nil, nil
func (s *UserService) GetByUsername(ctx context.Context, username string) (*User, error) {
	var user User
	err := s.db.WithContext(ctx).Where("username = ?", username).First(&user).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &user, nil
}

// GetByID 按 ID 查找，不存在时返回 nil, nil
func (s *UserService) GetByID(ctx context.Context, id string) (*User, error) {
	var user User
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&user).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &user, nil
}
