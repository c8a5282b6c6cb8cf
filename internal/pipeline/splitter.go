package pipeline

import (
	"github.com/tmc/langchaingo/textsplitter"

	"rag-chat-go/internal/config"
)

// Splitter 把整篇文本切分为有序的分块文本。
type Splitter interface {
	SplitText(text string) ([]string, error)
}

// NewSplitter 按 rag.splitter 选择切分策略，默认按固定字符窗口切分。
func NewSplitter(cfg config.RAGConfig) Splitter {
	if cfg.Splitter == "recursive" {
		return textsplitter.NewRecursiveCharacter(
			textsplitter.WithChunkSize(cfg.ChunkSize),
			textsplitter.WithChunkOverlap(cfg.ChunkOverlap),
		)
	}
	return FixedSplitter{ChunkSize: cfg.ChunkSize, ChunkOverlap: cfg.ChunkOverlap}
}

// FixedSplitter 按字符（rune）数切分，相邻分块重叠 ChunkOverlap 个字符。
type FixedSplitter struct {
	ChunkSize    int
	ChunkOverlap int
}

// SplitText 将长文本按指定大小和重叠进行切分。
func (s FixedSplitter) SplitText(text string) ([]string, error) {
	runes := []rune(text)
	if len(runes) == 0 {
		return nil, nil
	}
	chunkSize := s.ChunkSize
	if chunkSize <= 0 {
		chunkSize = 1000
	}
	step := chunkSize - s.ChunkOverlap
	if s.ChunkOverlap < 0 || step <= 0 {
		// 重叠非法时退化为不重叠切分
		step = chunkSize
	}

	var chunks []string
	for i := 0; i < len(runes); i += step {
		end := min(i+chunkSize, len(runes))
		chunks = append(chunks, string(runes[i:end]))
		if end == len(runes) {
			break
		}
	}
	return chunks, nil
}
