package model

// EsChunk 定义了存储在 Elasticsearch 中的分块文档结构。
type EsChunk struct {
	ChunkID    string    `json:"chunk_id"`
	DocumentID string    `json:"document_id"`
	Namespace  string    `json:"namespace"`
	Filename   string    `json:"filename"`
	FileType   string    `json:"file_type"`
	UploadDate string    `json:"upload_date"`
	Text       string    `json:"text"`
	Vector     []float32 `json:"vector"`
}
