// Package pipeline 定义了文件处理的核心流程：提取文本、切分并生成带元数据的分块。
package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"

	"rag-chat-go/internal/model"
	"rag-chat-go/pkg/log"
)

// ErrEmptyText 表示提取或切分后没有任何可索引的文本。
var ErrEmptyText = errors.New("提取的文本内容为空")

// TextExtractor 从二进制文档中提取纯文本，tika.Client 满足该接口。
type TextExtractor interface {
	ExtractText(ctx context.Context, r io.Reader, fileName string) (string, error)
}

// Processor 封装了文件处理的所有依赖和逻辑。
type Processor struct {
	extractor TextExtractor
	splitter  Splitter
}

// NewProcessor 创建一个新的 Processor 实例。extractor 为空时只能处理 .txt。
func NewProcessor(extractor TextExtractor, splitter Splitter) *Processor {
	return &Processor{extractor: extractor, splitter: splitter}
}

// Process 提取文本并切分，返回按序号排列、共享同一 documentID 的分块。
func (p *Processor) Process(ctx context.Context, documentID, filename string, data []byte, uploadDate model.ISOTime) ([]model.Chunk, error) {
	fileType := FileType(filename)
	log.Infof("[Processor] 开始处理文件, DocumentID: %s, FileName: %s, Size: %d", documentID, filename, len(data))

	// 1. 提取文本
	text, err := p.extract(ctx, filename, fileType, data)
	if err != nil {
		log.Errorf("[Processor] 提取文本失败, FileName: %s, Error: %v", filename, err)
		return nil, err
	}
	if strings.TrimSpace(text) == "" {
		log.Warnf("[Processor] 提取的文本内容为空, 处理中止, FileName: %s", filename)
		return nil, ErrEmptyText
	}
	log.Infof("[Processor] 步骤1: 文本提取成功, 内容长度: %d 字符", utf8.RuneCountInString(text))

	// 2. 文本切块
	parts, err := p.splitter.SplitText(text)
	if err != nil {
		return nil, fmt.Errorf("文本分块失败: %w", err)
	}
	if len(parts) == 0 {
		return nil, ErrEmptyText
	}
	log.Infof("[Processor] 步骤2: 文本分块完成, 共生成 %d 个分块", len(parts))

	date := uploadDate.String()
	chunks := make([]model.Chunk, 0, len(parts))
	for i, part := range parts {
		chunks = append(chunks, model.Chunk{
			ID:         model.ChunkID(documentID, i),
			DocumentID: documentID,
			Text:       part,
			Filename:   filename,
			FileType:   fileType,
			UploadDate: date,
		})
	}
	return chunks, nil
}

func (p *Processor) extract(ctx context.Context, filename, fileType string, data []byte) (string, error) {
	switch fileType {
	case "txt":
		return decodeText(data)
	case "pdf", "docx", "doc":
		if p.extractor == nil {
			return "", fmt.Errorf("未配置 Tika, 无法解析 .%s 文件", fileType)
		}
		return p.extractor.ExtractText(ctx, bytes.NewReader(data), filename)
	default:
		return "", fmt.Errorf("不支持的文件类型: .%s", fileType)
	}
}

// decodeText 优先按 UTF-8 解码，失败时按 Latin-1 解码。
func decodeText(data []byte) (string, error) {
	data = bytes.TrimPrefix(data, []byte("\xef\xbb\xbf"))
	if utf8.Valid(data) {
		return string(data), nil
	}
	decoded, err := charmap.ISO8859_1.NewDecoder().Bytes(data)
	if err != nil {
		return "", fmt.Errorf("解码文本文件失败: %w", err)
	}
	return string(decoded), nil
}

// FileType 返回去掉点号的小写扩展名。
func FileType(filename string) string {
	return strings.ToLower(strings.TrimPrefix(filepath.Ext(filename), "."))
}
