package rag

// ChunkMetadata 分块溯源信息，写入向量库时一并保存
type ChunkMetadata struct {
	KBID     string `json:"kb_id"`
	KBName   string `json:"kb_name"`
	FileID   string `json:"file_id"`
	FileName string `json:"file_name"`
	FileSize int64  `json:"file_size"`
	FileType string `json:"file_type"`
	FileURL  string `json:"file_url"`
}

// Map 向量库使用的键值形式
func (m ChunkMetadata) Map() map[string]any {
	return map[string]any{
		"kb_id":     m.KBID,
		"kb_name":   m.KBName,
		"file_id":   m.FileID,
		"file_name": m.FileName,
		"file_size": m.FileSize,
		"file_type": m.FileType,
		"file_url":  m.FileURL,
	}
}

// Chunk 带元数据的文本分块
type Chunk struct {
	Content  string
	Metadata ChunkMetadata
}
