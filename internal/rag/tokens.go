package rag

import "strings"

// estimateTokenCount 估算Token数量
// 简单规则: 英文按单词数, 中文按字符数/1.5
func estimateTokenCount(text string) int {
	words := strings.Fields(text)

	chineseCount := 0
	for _, r := range text {
		if r >= 0x4E00 && r <= 0x9FA5 { // 基本汉字Unicode范围
			chineseCount++
		}
	}

	tokens := len(words) + int(float64(chineseCount)/1.5)
	if tokens == 0 && text != "" {
		tokens = 1
	}
	return tokens
}
