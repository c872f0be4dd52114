package models

// All 需要自动迁移的元数据表
func All() []any {
	return []any{&User{}, &KnowledgeBase{}, &SourceFile{}}
}
