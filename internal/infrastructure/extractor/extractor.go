package extractor

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"

	"github.com/Acorn2/llama-doc-sub000/internal/infrastructure/chunking"
	"github.com/Acorn2/llama-doc-sub000/pkg/zlog"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ErrInvalidFormat 结构化读取器判定“文件不是该格式”。
// 声明的扩展名来自外部存储键，并不可信；命中该错误时整体回退为
// 纯文本解析，以挽救扩展名与内容不符的文件。
var ErrInvalidFormat = errors.New("not a valid file of this format")

// FileMetadata 文件级元数据，随每个切片一同写入向量库
type FileMetadata struct {
	FileType   string `json:"file_type"`
	Encoding   string `json:"encoding,omitempty"`
	Pages      int    `json:"pages"`
	Title      string `json:"title,omitempty"`
	Author     string `json:"author,omitempty"`
	Paragraphs int    `json:"paragraphs,omitempty"`
	TextLength int    `json:"text_length"`
}

// Chunk 一段抽取文本及其派生元数据，只在抽取到向量写入之间短暂存在
type Chunk struct {
	ChunkId    string
	DocumentId string
	Index      int
	Length     int
	Content    string
	Metadata   map[string]any
}

// Result 整次抽取的结构化结果。抽取失败不抛错，错误文本由调用方
// 直接落库到文档的 error_message。
type Result struct {
	Success    bool
	Chunks     []Chunk
	Metadata   FileMetadata
	ChunkCount int
	Error      string
}

// Engine 格式感知的抽取与切片引擎。无共享状态，可并发、可重复调用，
// 相同输入产生内容相同的切片序列（切片 id 每次新生成）。
type Engine struct {
	chunker *chunking.Chunker
}

func NewEngine(chunker *chunking.Chunker) *Engine {
	if chunker == nil {
		chunker = chunking.NewRecursiveChunker(chunking.DefaultChunkSize, chunking.DefaultChunkOverlap)
	}
	return &Engine{chunker: chunker}
}

// Process 按声明的扩展名抽取文本并切片。
// 不支持的扩展名按纯文本尽力解析，而不是直接拒绝。
func (e *Engine) Process(ctx context.Context, documentID string, data []byte, ext string) *Result {
	if len(data) == 0 {
		return fail("file is empty (0 bytes)")
	}

	ext = normalizeExt(ext)

	var (
		text string
		meta FileMetadata
		err  error
	)

	switch ext {
	case ".pdf":
		text, meta, err = readPDF(documentID, data)
	case ".docx", ".doc":
		text, meta, err = readDocx(documentID, data, strings.TrimPrefix(ext, "."))
	default:
		text, meta, err = readPlainText(data, ext)
	}

	if errors.Is(err, ErrInvalidFormat) {
		zlog.Warn("declared format mismatch, falling back to plain text",
			zap.String("document_id", documentID), zap.String("ext", ext), zap.Error(err))
		declared := meta.FileType
		text, meta, err = readPlainText(data, ext)
		if err == nil && declared != "" {
			meta.FileType = declared
		}
	}
	if err != nil {
		return fail(err.Error())
	}

	text = strings.TrimSpace(text)
	if text == "" {
		return fail("no text content extracted")
	}
	meta.TextLength = len([]rune(text))

	parts, err := e.chunker.Split(ctx, text)
	if err != nil {
		return fail(fmt.Sprintf("text chunking failed: %v", err))
	}

	chunks := make([]Chunk, 0, len(parts))
	for _, p := range parts {
		if strings.TrimSpace(p) == "" {
			continue
		}
		idx := len(chunks)
		chunks = append(chunks, Chunk{
			ChunkId:    uuid.NewString(),
			DocumentId: documentID,
			Index:      idx,
			Length:     len([]rune(p)),
			Content:    p,
			Metadata:   chunkMetadata(meta, idx, len([]rune(p))),
		})
	}
	if len(chunks) == 0 {
		return fail("no text content extracted")
	}

	return &Result{
		Success:    true,
		Chunks:     chunks,
		Metadata:   meta,
		ChunkCount: len(chunks),
	}
}

func readPlainText(data []byte, ext string) (string, FileMetadata, error) {
	text, enc, err := decodeText(data)
	if err != nil {
		return "", FileMetadata{}, err
	}
	fileType := strings.TrimPrefix(ext, ".")
	if fileType == "" {
		fileType = "txt"
	}
	return text, FileMetadata{FileType: fileType, Encoding: enc, Pages: 1}, nil
}

// chunkMetadata 文件级元数据与单片元数据的合并副本
func chunkMetadata(meta FileMetadata, index, length int) map[string]any {
	m := map[string]any{
		"file_type":    meta.FileType,
		"pages":        meta.Pages,
		"chunk_index":  index,
		"chunk_length": length,
	}
	if meta.Encoding != "" {
		m["encoding"] = meta.Encoding
	}
	if meta.Title != "" {
		m["title"] = meta.Title
	}
	if meta.Author != "" {
		m["author"] = meta.Author
	}
	if meta.Paragraphs > 0 {
		m["paragraphs"] = meta.Paragraphs
	}
	return m
}

func normalizeExt(ext string) string {
	ext = strings.ToLower(strings.TrimSpace(ext))
	if ext == "" {
		return ""
	}
	// 允许传入完整存储键
	if strings.ContainsAny(ext, "/.") && !strings.HasPrefix(ext, ".") {
		ext = path.Ext(ext)
	}
	if ext != "" && !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	return ext
}

func fail(msg string) *Result {
	return &Result{
		Success:    false,
		Chunks:     []Chunk{},
		Metadata:   FileMetadata{},
		ChunkCount: 0,
		Error:      msg,
	}
}
