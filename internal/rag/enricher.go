package rag

import (
	"iter"

	"knowledgehub/internal/models"
)

// Enrich 为同一文件的每个分块附加知识库与文件信息
func Enrich(kb *models.KnowledgeBase, file *models.SourceFile, contents iter.Seq[string]) []Chunk {
	meta := ChunkMetadata{
		KBID:     kb.KBID,
		KBName:   kb.Name,
		FileID:   file.FileID,
		FileName: file.Filename,
		FileSize: file.FileSize,
		FileType: file.FileType,
		FileURL:  file.FileURL,
	}

	var chunks []Chunk
	for content := range contents {
		chunks = append(chunks, Chunk{Content: content, Metadata: meta})
	}
	return chunks
}
