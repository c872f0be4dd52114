package rag

import (
	"iter"
	"slices"
)

const (
	DefaultChunkSize    = 1000
	DefaultChunkOverlap = 200
)

// 切分点的优先级：段落、行、词，最后按长度硬切
var splitSeparators = [][]rune{[]rune("\n\n"), []rune("\n"), []rune(" ")}

// Splitter 递归字符切分器
//
// 相邻分块恰好重叠 ChunkOverlap 个字符，分隔符留在左侧分块末尾，
// 去掉重叠后依次拼接即可还原原文。
type Splitter struct {
	ChunkSize    int // 分块大小(字符数)
	ChunkOverlap int // 重叠大小(字符数)
}

// NewSplitter 创建切分器
// chunkSize <= 0 使用默认值；重叠不小于分块大小时取分块大小的 10%
func NewSplitter(chunkSize, chunkOverlap int) *Splitter {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	if chunkOverlap < 0 {
		chunkOverlap = 0
	}
	if chunkOverlap >= chunkSize {
		chunkOverlap = chunkSize / 10
	}
	return &Splitter{ChunkSize: chunkSize, ChunkOverlap: chunkOverlap}
}

// Split 惰性切分文本；每次 range 都从头开始
func (s *Splitter) Split(text string) iter.Seq[string] {
	return func(yield func(string) bool) {
		runes := []rune(text)
		n := len(runes)
		if n == 0 {
			return
		}

		start := 0
		for {
			if n-start <= s.ChunkSize {
				yield(string(runes[start:]))
				return
			}
			end := s.cutPoint(runes, start)
			if !yield(string(runes[start:end])) {
				return
			}
			start = end - s.ChunkOverlap
		}
	}
}

// SplitAll 收集全部分块
func (s *Splitter) SplitAll(text string) []string {
	return slices.Collect(s.Split(text))
}

// cutPoint 返回 [start, end) 的 end，保证 end-start 在 (overlap, ChunkSize] 之间
func (s *Splitter) cutPoint(runes []rune, start int) int {
	limit := start + s.ChunkSize
	minEnd := start + s.ChunkOverlap + 1
	for _, sep := range splitSeparators {
		for end := limit; end >= minEnd && end-len(sep) >= start; end-- {
			if hasSuffixAt(runes, end, sep) {
				return end
			}
		}
	}
	return limit
}

func hasSuffixAt(runes []rune, end int, sep []rune) bool {
	if end-len(sep) < 0 {
		return false
	}
	for i, r := range sep {
		if runes[end-len(sep)+i] != r {
			return false
		}
	}
	return true
}
