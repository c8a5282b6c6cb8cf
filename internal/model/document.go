// Package model 包含了应用的数据模型定义。
package model

// Document 是一次上传的登记信息，也是登记表持久化的单元。
type Document struct {
	ID          string  `json:"id"`
	Filename    string  `json:"filename"`
	UploadDate  ISOTime `json:"upload_date"`
	ChunksCount int     `json:"chunks_count"`
	FileSize    int64   `json:"file_size"`
	FileType    string  `json:"file_type"`
	FilePath    string  `json:"file_path"`
}

// DocumentInfo 是列表接口返回给前端的结构，不暴露文件路径。
type DocumentInfo struct {
	ID          string  `json:"id"`
	Filename    string  `json:"filename"`
	UploadDate  ISOTime `json:"upload_date"`
	ChunksCount int     `json:"chunks_count"`
	FileSize    int64   `json:"file_size"`
	FileType    string  `json:"file_type"`
}

func (d Document) Info() DocumentInfo {
	return DocumentInfo{
		ID:          d.ID,
		Filename:    d.Filename,
		UploadDate:  d.UploadDate,
		ChunksCount: d.ChunksCount,
		FileSize:    d.FileSize,
		FileType:    d.FileType,
	}
}
