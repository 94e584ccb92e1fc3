package chunking

import (
	"context"
	"fmt"
	"sync"

	"github.com/cloudwego/eino-ext/components/document/transformer/splitter/recursive"
	"github.com/cloudwego/eino/components/document"
	"github.com/cloudwego/eino/schema"
)

const (
	DefaultChunkSize    = 1024
	DefaultChunkOverlap = 200
)

// Chunker 将抽取文本切分为带重叠的片段。
// 语义模式（useRecursive）按句子边界切分；否则退化为固定窗口滑动。
type Chunker struct {
	ChunkSize    int
	ChunkOverlap int
	useRecursive bool

	initOnce      sync.Once
	initErr       error
	recursiveImpl document.Transformer
}

func NewChunker(size, overlap int) *Chunker {
	if size <= 0 {
		size = DefaultChunkSize
	}
	if overlap < 0 {
		overlap = 0
	}
	if overlap >= size {
		overlap = size / 2
	}
	return &Chunker{ChunkSize: size, ChunkOverlap: overlap}
}

// NewRecursiveChunker 创建句子感知的切片器（递归分隔符切分）
func NewRecursiveChunker(size, overlap int) *Chunker {
	c := NewChunker(size, overlap)
	c.useRecursive = true
	return c
}

// Windows 基于 rune 数量的滑动窗口切分，多字节字符不会被截断
func (c *Chunker) Windows(text string) []string {
	if text == "" {
		return []string{}
	}

	runes := []rune(text)
	totalLen := len(runes)

	if totalLen <= c.ChunkSize {
		return []string{text}
	}

	step := c.ChunkSize - c.ChunkOverlap
	if step <= 0 {
		step = 1
	}

	var parts []string
	for i := 0; i < totalLen; i += step {
		end := i + c.ChunkSize
		if end > totalLen {
			end = totalLen
		}
		parts = append(parts, string(runes[i:end]))
		if end == totalLen {
			break
		}
	}
	return parts
}

// Split 按配置的模式切分文本
func (c *Chunker) Split(ctx context.Context, text string) ([]string, error) {
	if text == "" {
		return []string{}, nil
	}
	if !c.useRecursive {
		return c.Windows(text), nil
	}

	c.initOnce.Do(func() {
		impl, err := recursive.NewSplitter(ctx, &recursive.Config{
			ChunkSize:   c.ChunkSize,
			OverlapSize: c.ChunkOverlap,
			Separators:  []string{"\n\n", "\n", "。", "！", "？", "；", ". ", "! ", "? ", "; ", " "},
			LenFunc: func(s string) int {
				return len([]rune(s))
			},
			KeepType: recursive.KeepTypeEnd,
		})
		if err != nil {
			c.initErr = err
			return
		}
		c.recursiveImpl = impl
	})
	if c.initErr != nil {
		return nil, c.initErr
	}
	if c.recursiveImpl == nil {
		return nil, fmt.Errorf("recursive splitter not initialized")
	}

	frags, err := c.recursiveImpl.Transform(ctx, []*schema.Document{{Content: text}})
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(frags))
	for _, f := range frags {
		if f == nil || f.Content == "" {
			continue
		}
		out = append(out, f.Content)
	}
	return out, nil
}
