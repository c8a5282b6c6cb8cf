package model

import (
	"fmt"
	"strings"
)

// ChunkSeparator 连接文档 ID 与分块序号，删除恢复依赖这一固定格式。
const ChunkSeparator = "_chunk_"

// Chunk 是被索引的最小文本单元。
type Chunk struct {
	ID         string `json:"chunk_id"`
	DocumentID string `json:"document_id"`
	Text       string `json:"text"`
	Filename   string `json:"filename"`
	FileType   string `json:"file_type"`
	UploadDate string `json:"upload_date"`
}

// ChunkMetadata 是本地元数据缓存中的一条记录。
type ChunkMetadata struct {
	DocumentID string `json:"document_id"`
	Filename   string `json:"filename"`
	FileType   string `json:"file_type"`
	UploadDate string `json:"upload_date"`
	Text       string `json:"text"`
}

func (c Chunk) Metadata() ChunkMetadata {
	return ChunkMetadata{
		DocumentID: c.DocumentID,
		Filename:   c.Filename,
		FileType:   c.FileType,
		UploadDate: c.UploadDate,
		Text:       c.Text,
	}
}

// ChunkID 返回 "{documentID}_chunk_{seq}"，seq 从 0 开始。
func ChunkID(documentID string, seq int) string {
	return fmt.Sprintf("%s%s%d", documentID, ChunkSeparator, seq)
}

// ChunkIDPrefix 返回某文档所有分块 ID 的公共前缀。
func ChunkIDPrefix(documentID string) string {
	return documentID + ChunkSeparator
}

// DocumentIDFromChunkID 取分块 ID 中最后一个 "_chunk_" 之前的部分。
func DocumentIDFromChunkID(chunkID string) (string, bool) {
	idx := strings.LastIndex(chunkID, ChunkSeparator)
	if idx <= 0 {
		return "", false
	}
	return chunkID[:idx], true
}

// IsChunkOf 判断 chunkID 是否形如 "{documentID}_chunk_{数字}"。
func IsChunkOf(chunkID, documentID string) bool {
	rest, ok := strings.CutPrefix(chunkID, ChunkIDPrefix(documentID))
	if !ok || rest == "" {
		return false
	}
	for _, r := range rest {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
