package rag

import (
	"slices"
	"testing"

	"knowledgehub/internal/models"

	"github.com/stretchr/testify/require"
)

func TestEnrichAttachesProvenance(t *testing.T) {
	kb := &models.KnowledgeBase{KBID: "kb_3", Name: "手册"}
	file := &models.SourceFile{FileID: "file_x", Filename: "guide.md", FileSize: 42, FileType: "md"}

	chunks := Enrich(kb, file, slices.Values([]string{"one", "two"}))
	require.Len(t, chunks, 2)
	require.Equal(t, "two", chunks[1].Content)

	meta := chunks[0].Metadata.Map()
	require.Equal(t, "kb_3", meta["kb_id"])
	require.Equal(t, "手册", meta["kb_name"])
	require.Equal(t, "guide.md", meta["file_name"])
	require.Equal(t, int64(42), meta["file_size"])
	require.Equal(t, "", meta["file_url"])
}

func TestEnrichEmptySequence(t *testing.T) {
	chunks := Enrich(&models.KnowledgeBase{}, &models.SourceFile{}, NewSplitter(10, 0).Split(""))
	require.Empty(t, chunks)
}
