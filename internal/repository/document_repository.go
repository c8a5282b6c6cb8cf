// Package repository 提供了数据访问层的实现。
package repository

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"rag-chat-go/internal/model"
)

// documentRecord 是文档登记表在 MySQL 中的一行。
type documentRecord struct {
	ID          string    `gorm:"primaryKey;type:varchar(64)"`
	Filename    string    `gorm:"type:varchar(255);not null;index"`
	UploadDate  time.Time `gorm:"type:datetime(6);not null"`
	ChunksCount int       `gorm:"not null;default:0"`
	FileSize    int64     `gorm:"not null;default:0"`
	FileType    string    `gorm:"type:varchar(32)"`
	FilePath    string    `gorm:"type:varchar(1024)"`
}

func (documentRecord) TableName() string {
	return "document_registry"
}

// DocumentRepository 以 MySQL 表保存文档登记表，实现 registry.Persister。
type DocumentRepository struct {
	db *gorm.DB
}

// NewDocumentRepository 创建仓库并确保表结构存在。
func NewDocumentRepository(db *gorm.DB) (*DocumentRepository, error) {
	if err := db.AutoMigrate(&documentRecord{}); err != nil {
		return nil, fmt.Errorf("迁移 document_registry 表失败: %w", err)
	}
	return &DocumentRepository{db: db}, nil
}

func (r *DocumentRepository) Load(ctx context.Context) (map[string]model.Document, error) {
	var rows []documentRecord
	if err := r.db.WithContext(ctx).Find(&rows).Error; err != nil {
		return nil, err
	}
	docs := make(map[string]model.Document, len(rows))
	for _, row := range rows {
		docs[row.ID] = model.Document{
			ID:          row.ID,
			Filename:    row.Filename,
			UploadDate:  model.ISOTime(row.UploadDate),
			ChunksCount: row.ChunksCount,
			FileSize:    row.FileSize,
			FileType:    row.FileType,
			FilePath:    row.FilePath,
		}
	}
	return docs, nil
}

// Save 在一个事务内清空并重写整张表，与文件持久化的整体重写语义一致。
func (r *DocumentRepository) Save(ctx context.Context, docs map[string]model.Document) error {
	rows := make([]documentRecord, 0, len(docs))
	for id, d := range docs {
		rows = append(rows, documentRecord{
			ID:          id,
			Filename:    d.Filename,
			UploadDate:  d.UploadDate.Time(),
			ChunksCount: d.ChunksCount,
			FileSize:    d.FileSize,
			FileType:    d.FileType,
			FilePath:    d.FilePath,
		})
	}
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Session(&gorm.Session{AllowGlobalUpdate: true}).Delete(&documentRecord{}).Error; err != nil {
			return err
		}
		if len(rows) == 0 {
			return nil
		}
		return tx.CreateInBatches(rows, 100).Error
	})
}
