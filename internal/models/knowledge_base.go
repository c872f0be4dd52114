package models

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"knowledgehub/pkg/types"

	"gorm.io/gorm"
)

// 知识库状态
const (
	KBStatusUnsynced = "unsynced"
	KBStatusUpdated  = "updated"
	KBStatusSyncing  = "syncing"
	KBStatusSynced   = "synced"
	KBStatusFailed   = "failed"
	KBStatusEmpty    = "empty"
)

const (
	kbIDPrefix      = "kb_"
	maxIDAllocTries = 5
)

// ErrIDAllocationExhausted 多次重试后仍无法分配知识库 ID
var ErrIDAllocationExhausted = errors.New("知识库 ID 分配冲突次数过多")

// KnowledgeBase 知识库
type KnowledgeBase struct {
	KBID           string     `gorm:"column:kb_id;type:varchar(64);primaryKey" json:"kb_id"`
	Seq            int64      `gorm:"not null;uniqueIndex:idx_kb_seq" json:"-"`
	Name           string     `gorm:"type:varchar(200);not null" json:"name"`
	Description    string     `gorm:"type:text" json:"description"`
	Category       string     `gorm:"type:varchar(100)" json:"category"`
	EmbeddingModel string     `gorm:"type:varchar(50);not null" json:"embedding_model"` // openai, gemini
	VectorStore    string     `gorm:"type:varchar(50);not null" json:"vector_store"`    // pgvector, qdrant
	Status         string     `gorm:"type:varchar(20);not null;default:'unsynced';index" json:"status"`
	WorkspaceID    string     `gorm:"type:varchar(64);index" json:"workspace_id,omitempty"`
	CreatedBy      string     `gorm:"type:varchar(64);index" json:"created_by"`
	SyncStartedAt  *time.Time `json:"sync_started_at,omitempty"`
	CreatedAt      time.Time  `gorm:"not null" json:"created_at"`
	LastUpdatedAt  time.Time  `gorm:"not null" json:"last_updated_at"`
}

// BeforeCreate GORM 钩子：创建前补齐时间与状态
func (kb *KnowledgeBase) BeforeCreate(tx *gorm.DB) error {
	now := time.Now().UTC()
	if kb.CreatedAt.IsZero() {
		kb.CreatedAt = now
	}
	if kb.LastUpdatedAt.IsZero() {
		kb.LastUpdatedAt = now
	}
	if kb.Status == "" {
		kb.Status = KBStatusUnsynced
	}
	return nil
}

// TableName 指定表名
func (KnowledgeBase) TableName() string {
	return "knowledge_bases"
}

// VectorNamespace 向量库中的命名空间（表分区或集合名）
func (kb *KnowledgeBase) VectorNamespace() string {
	return kb.KBID + "_vector"
}

// FormatKBID 根据序号生成知识库 ID
func FormatKBID(seq int64) string {
	return kbIDPrefix + strconv.FormatInt(seq, 10)
}

// ParseKBID 解析知识库 ID 中的序号
func ParseKBID(kbID string) (int64, bool) {
	if !strings.HasPrefix(kbID, kbIDPrefix) {
		return 0, false
	}
	seq, err := strconv.ParseInt(strings.TrimPrefix(kbID, kbIDPrefix), 10, 64)
	if err != nil || seq <= 0 {
		return 0, false
	}
	return seq, true
}

// KnowledgeBaseFilter 列表过滤条件
type KnowledgeBaseFilter struct {
	CreatedBy   string
	WorkspaceID string
	Status      string
}

// KnowledgeBaseService 知识库服务
type KnowledgeBaseService struct {
	db *gorm.DB
}

// NewKnowledgeBaseService 创建知识库服务
func NewKnowledgeBaseService(db *gorm.DB) *KnowledgeBaseService {
	return &KnowledgeBaseService{db: db}
}

// CreateKnowledgeBase 创建知识库并分配 kb_<序号> 形式的 ID
//
// 序号取当前最大值加一，依赖 seq 唯一索引检测并发冲突，冲突时重新读取重试。
func (s *KnowledgeBaseService) CreateKnowledgeBase(ctx context.Context, kb *KnowledgeBase) error {
	db := s.db.WithContext(ctx)
	for attempt := 0; attempt < maxIDAllocTries; attempt++ {
		var last KnowledgeBase
		res := db.Select("seq").Order("seq DESC").Limit(1).Find(&last)
		if res.Error != nil {
			return fmt.Errorf("读取知识库序号失败: %w", res.Error)
		}
		next := int64(1)
		if res.RowsAffected > 0 {
			next = last.Seq + 1
		}

		kb.Seq = next
		kb.KBID = FormatKBID(next)
		err := db.Create(kb).Error
		if err == nil {
			return nil
		}

		var taken int64
		if cerr := db.Model(&KnowledgeBase{}).Where("seq = ?", next).Count(&taken).Error; cerr != nil || taken == 0 {
			return fmt.Errorf("创建知识库失败: %w", err)
		}
	}
	return ErrIDAllocationExhausted
}

// GetKnowledgeBase 获取知识库，不存在时返回 nil, nil
func (s *KnowledgeBaseService) GetKnowledgeBase(ctx context.Context, kbID string) (*KnowledgeBase, error) {
	var kb KnowledgeBase
	err := s.db.WithContext(ctx).Where("kb_id = ?", kbID).First(&kb).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &kb, nil
}

// ListKnowledgeBases 按序号列出知识库
func (s *KnowledgeBaseService) ListKnowledgeBases(ctx context.Context, filter KnowledgeBaseFilter, pagination *types.PaginationRequest) ([]*KnowledgeBase, *types.PaginationResponse, error) {
	var kbs []*KnowledgeBase
	var total int64

	query := s.db.WithContext(ctx).Model(&KnowledgeBase{})
	if filter.CreatedBy != "" {
		query = query.Where("created_by = ?", filter.CreatedBy)
	}
	if filter.WorkspaceID != "" {
		query = query.Where("workspace_id = ?", filter.WorkspaceID)
	}
	if filter.Status != "" {
		query = query.Where("status = ?", filter.Status)
	}

	if err := query.Count(&total).Error; err != nil {
		return nil, nil, err
	}

	page := types.PaginationRequest{}
	if pagination != nil {
		page = *pagination
	}
	page.Normalize()

	if err := query.Order("seq ASC").Offset(page.Offset()).Limit(page.PageSize).Find(&kbs).Error; err != nil {
		return nil, nil, err
	}
	return kbs, types.NewPaginationResponse(page, total), nil
}

// DeleteKnowledgeBase 在一个事务中删除知识库及其全部源文件记录
func (s *KnowledgeBaseService) DeleteKnowledgeBase(ctx context.Context, kbID string) ([]*SourceFile, error) {
	var files []*SourceFile
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("kb_id = ?", kbID).Find(&files).Error; err != nil {
			return err
		}
		if err := tx.Where("kb_id = ?", kbID).Delete(&SourceFile{}).Error; err != nil {
			return err
		}
		res := tx.Where("kb_id = ?", kbID).Delete(&KnowledgeBase{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return gorm.ErrRecordNotFound
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return files, nil
}

// BeginSync 以比较并交换的方式把知识库置为 syncing
//
// 已处于 syncing 且未超过 staleAfter 时返回 false。staleAfter <= 0 表示从不接管。
func (s *KnowledgeBaseService) BeginSync(ctx context.Context, kbID string, staleAfter time.Duration) (bool, error) {
	now := time.Now().UTC()
	query := s.db.WithContext(ctx).Model(&KnowledgeBase{}).Where("kb_id = ?", kbID)
	if staleAfter > 0 {
		query = query.Where("(status <> ? OR sync_started_at IS NULL OR sync_started_at < ?)", KBStatusSyncing, now.Add(-staleAfter))
	} else {
		query = query.Where("status <> ?", KBStatusSyncing)
	}
	res := query.Updates(map[string]any{
		"status":          KBStatusSyncing,
		"sync_started_at": now,
	})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// CompleteSync 单事务提交同步成功：已处理文件置为 synced，知识库置为 synced
//
// 同步期间文件集合发生过变化时，知识库置为 updated（无文件时为 empty），新文件留待下次同步。
func (s *KnowledgeBaseService) CompleteSync(ctx context.Context, kbID string, processedFileIDs []string) error {
	now := time.Now().UTC()
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if len(processedFileIDs) > 0 {
			if err := tx.Model(&SourceFile{}).
				Where("kb_id = ? AND file_id IN ?", kbID, processedFileIDs).
				Updates(map[string]any{"status": FileStatusSynced, "error_message": ""}).Error; err != nil {
				return err
			}
		}

		var kb KnowledgeBase
		if err := tx.Select("kb_id", "sync_started_at", "last_updated_at").
			Where("kb_id = ?", kbID).First(&kb).Error; err != nil {
			return err
		}
		status := KBStatusSynced
		if kb.SyncStartedAt != nil && kb.LastUpdatedAt.After(*kb.SyncStartedAt) {
			var count int64
			if err := tx.Model(&SourceFile{}).Where("kb_id = ?", kbID).Count(&count).Error; err != nil {
				return err
			}
			status = KBStatusUpdated
			if count == 0 {
				status = KBStatusEmpty
			}
		}

		return tx.Model(&KnowledgeBase{}).Where("kb_id = ?", kbID).Updates(map[string]any{
			"status":          status,
			"last_updated_at": now,
			"sync_started_at": nil,
		}).Error
	})
}

// FailSync 把知识库置为 failed
func (s *KnowledgeBaseService) FailSync(ctx context.Context, kbID string) error {
	return s.db.WithContext(ctx).Model(&KnowledgeBase{}).Where("kb_id = ?", kbID).Updates(map[string]any{
		"status":          KBStatusFailed,
		"sync_started_at": nil,
	}).Error
}

// MarkChanged 文件集合变化后把知识库置为 updated，没有文件时置为 empty
//
// 同步进行中不改写 syncing，仅刷新 last_updated_at，由 CompleteSync 据此判定结果状态。
func (s *KnowledgeBaseService) MarkChanged(ctx context.Context, kbID string) (string, error) {
	var status string
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		status, err = markChanged(tx, kbID)
		return err
	})
	return status, err
}

func markChanged(tx *gorm.DB, kbID string) (string, error) {
	var kb KnowledgeBase
	if err := tx.Select("kb_id", "status").Where("kb_id = ?", kbID).First(&kb).Error; err != nil {
		return "", err
	}
	now := time.Now().UTC()
	if kb.Status == KBStatusSyncing {
		err := tx.Model(&KnowledgeBase{}).Where("kb_id = ?", kbID).Update("last_updated_at", now).Error
		return KBStatusSyncing, err
	}

	var count int64
	if err := tx.Model(&SourceFile{}).Where("kb_id = ?", kbID).Count(&count).Error; err != nil {
		return "", err
	}
	status := KBStatusUpdated
	if count == 0 {
		status = KBStatusEmpty
	}
	err := tx.Model(&KnowledgeBase{}).Where("kb_id = ?", kbID).Updates(map[string]any{
		"status":          status,
		"last_updated_at": now,
	}).Error
	return status, err
}
