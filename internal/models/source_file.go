package models

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// 源文件状态
const (
	FileStatusUnsynced = "unsynced"
	FileStatusSyncing  = "syncing"
	FileStatusSynced   = "synced"
	FileStatusFailed   = "failed"
)

const fileIDPrefix = "file_"

// SourceFile 知识库源文件
type SourceFile struct {
	FileID       string    `gorm:"column:file_id;type:varchar(64);primaryKey" json:"file_id"`
	KBID         string    `gorm:"column:kb_id;type:varchar(64);not null;index:idx_source_file_kb" json:"kb_id"`
	Filename     string    `gorm:"type:varchar(500);not null" json:"filename"`
	FileSize     int64     `gorm:"not null;default:0" json:"file_size"`
	FileType     string    `gorm:"type:varchar(20)" json:"file_type"`
	FilePath     string    `gorm:"type:text" json:"file_path"`
	FileURL      string    `gorm:"type:text" json:"file_url,omitempty"`
	Status       string    `gorm:"type:varchar(20);not null;default:'unsynced'" json:"status"`
	ErrorMessage string    `gorm:"type:text" json:"error_message,omitempty"`
	UploadedBy   string    `gorm:"type:varchar(64)" json:"uploaded_by"`
	UploadDate   time.Time `gorm:"not null" json:"upload_date"`
}

// BeforeCreate GORM 钩子：创建前设置 ID
func (f *SourceFile) BeforeCreate(tx *gorm.DB) error {
	if f.FileID == "" {
		f.FileID = NewFileID()
	}
	if f.UploadDate.IsZero() {
		f.UploadDate = time.Now().UTC()
	}
	if f.Status == "" {
		f.Status = FileStatusUnsynced
	}
	if f.FileType == "" {
		f.FileType = NormalizeFileType(f.Filename)
	}
	return nil
}

// TableName 指定表名
func (SourceFile) TableName() string {
	return "source_files"
}

// NewFileID 生成源文件 ID
func NewFileID() string {
	return fileIDPrefix + uuid.New().String()
}

// NormalizeFileType 文件扩展名（小写，无点）
func NormalizeFileType(name string) string {
	return strings.TrimPrefix(strings.ToLower(filepath.Ext(name)), ".")
}

// StoredName 源文件在存储中的文件名：<file_id>_<原文件名>
func StoredName(fileID, filename string) string {
	return fileID + "_" + filename
}

// FileIDFromStoredName 从存储文件名中还原源文件 ID
func FileIDFromStoredName(name string) (string, bool) {
	// file_ + 36 位 uuid
	const idLen = len(fileIDPrefix) + 36
	if len(name) <= idLen || !strings.HasPrefix(name, fileIDPrefix) || name[idLen] != '_' {
		return "", false
	}
	if _, err := uuid.Parse(name[len(fileIDPrefix):idLen]); err != nil {
		return "", false
	}
	return name[:idLen], true
}

// SourceFileService 源文件服务
type SourceFileService struct {
	db *gorm.DB
}

// NewSourceFileService 创建源文件服务
func NewSourceFileService(db *gorm.DB) *SourceFileService {
	return &SourceFileService{db: db}
}

// CreateSourceFile 创建源文件记录
func (s *SourceFileService) CreateSourceFile(ctx context.Context, file *SourceFile) error {
	return s.db.WithContext(ctx).Create(file).Error
}

// GetSourceFile 获取知识库内的源文件，不存在时返回 nil, nil
func (s *SourceFileService) GetSourceFile(ctx context.Context, kbID, fileID string) (*SourceFile, error) {
	return s.first(ctx, "kb_id = ? AND file_id = ?", kbID, fileID)
}

// FindByFilename 按原文件名查找（兼容不带 ID 前缀的历史文件）
func (s *SourceFileService) FindByFilename(ctx context.Context, kbID, filename string) (*SourceFile, error) {
	return s.first(ctx, "kb_id = ? AND filename = ?", kbID, filename)
}

func (s *SourceFileService) first(ctx context.Context, query string, args ...any) (*SourceFile, error) {
	var file SourceFile
	err := s.db.WithContext(ctx).Where(query, args...).Order("upload_date ASC").First(&file).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &file, nil
}

// ListSourceFiles 列出知识库的源文件
func (s *SourceFileService) ListSourceFiles(ctx context.Context, kbID string) ([]*SourceFile, error) {
	var files []*SourceFile
	err := s.db.WithContext(ctx).Where("kb_id = ?", kbID).Order("upload_date ASC, file_id ASC").Find(&files).Error
	return files, err
}

// CountSourceFiles 统计知识库的源文件数量
func (s *SourceFileService) CountSourceFiles(ctx context.Context, kbID string) (int64, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&SourceFile{}).Where("kb_id = ?", kbID).Count(&count).Error
	return count, err
}

// UpdateStatus 更新单个源文件状态
func (s *SourceFileService) UpdateStatus(ctx context.Context, fileID, status, errMsg string) error {
	res := s.db.WithContext(ctx).Model(&SourceFile{}).Where("file_id = ?", fileID).Updates(map[string]any{
		"status":        status,
		"error_message": errMsg,
	})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// DeleteSourceFile 删除源文件记录并刷新知识库状态，返回删除后的知识库状态
func (s *SourceFileService) DeleteSourceFile(ctx context.Context, kbID, fileID string) (string, error) {
	var status string
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Where("kb_id = ? AND file_id = ?", kbID, fileID).Delete(&SourceFile{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return gorm.ErrRecordNotFound
		}
		var err error
		status, err = markChanged(tx, kbID)
		return err
	})
	return status, err
}
