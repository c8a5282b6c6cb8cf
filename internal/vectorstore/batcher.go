package vectorstore

import (
	"unicode/utf8"

	"rag-chat-go/internal/model"
)

// BatchLimits 是单个写入批次需要同时满足的三个上限。
type BatchLimits struct {
	MaxRecords      int
	MaxBytes        int
	MaxTokens       int
	TokenMultiplier float64
}

// DefaultBatchLimits 返回 20 条 / 1 MiB / 20000 token、每字符 1.5 token 的默认上限。
func DefaultBatchLimits() BatchLimits {
	return BatchLimits{
		MaxRecords:      20,
		MaxBytes:        1 << 20,
		MaxTokens:       20000,
		TokenMultiplier: 1.5,
	}
}

func (l BatchLimits) withDefaults() BatchLimits {
	d := DefaultBatchLimits()
	if l.MaxRecords <= 0 {
		l.MaxRecords = d.MaxRecords
	}
	if l.MaxBytes <= 0 {
		l.MaxBytes = d.MaxBytes
	}
	if l.MaxTokens <= 0 {
		l.MaxTokens = d.MaxTokens
	}
	if l.TokenMultiplier <= 0 {
		l.TokenMultiplier = d.TokenMultiplier
	}
	return l
}

// EstimateTokens 按字符数乘以系数估算 token 数。
func (l BatchLimits) EstimateTokens(text string) int {
	return int(float64(utf8.RuneCountInString(text)) * l.TokenMultiplier)
}

// RecordBytes 返回记录计入字节上限的大小（ID 与正文的字节数之和）。
func RecordBytes(c model.Chunk) int {
	return len(c.ID) + len(c.Text)
}

// Batch 是一组将被一次性写入远端的记录。
type Batch struct {
	Records []model.Chunk
	Bytes   int
	Tokens  int
}

// PartitionBatches 按顺序把记录划分为批次。
// 单条记录自身超过字节或 token 上限时独占一个批次，不会被拆分或丢弃。
func PartitionBatches(records []model.Chunk, limits BatchLimits) []Batch {
	limits = limits.withDefaults()

	var batches []Batch
	var cur Batch
	for _, rec := range records {
		size := RecordBytes(rec)
		tokens := limits.EstimateTokens(rec.Text)

		exceeds := len(cur.Records) >= limits.MaxRecords ||
			cur.Bytes+size > limits.MaxBytes ||
			cur.Tokens+tokens > limits.MaxTokens
		if exceeds && len(cur.Records) > 0 {
			batches = append(batches, cur)
			cur = Batch{}
		}
		cur.Records = append(cur.Records, rec)
		cur.Bytes += size
		cur.Tokens += tokens
	}
	if len(cur.Records) > 0 {
		batches = append(batches, cur)
	}
	return batches
}
