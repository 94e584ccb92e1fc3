package vectordb

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/Acorn2/llama-doc-sub000/internal/domain/repository"
	"github.com/Acorn2/llama-doc-sub000/pkg/zlog"

	"github.com/cloudwego/eino/components/embedding"
	mclient "github.com/milvus-io/milvus-sdk-go/v2/client"
	"github.com/milvus-io/milvus-sdk-go/v2/entity"
	"go.uber.org/zap"
)

const (
	vectorField  = "vector"
	embedBatch   = 16
	queryBatch   = 512
	maxContentLn = "8192"
)

// MilvusIndex 基于 Milvus 的向量索引实现,按集合隔离文档/知识库向量
type MilvusIndex struct {
	cli        mclient.Client
	embedder   embedding.Embedder
	vectorDim  int
	metricType entity.MetricType
}

var _ repository.VectorIndex = (*MilvusIndex)(nil)

func NewMilvusIndex(cli mclient.Client, embedder embedding.Embedder, vectorDim int, metricType string) (*MilvusIndex, error) {
	if cli == nil {
		return nil, errors.New("milvus client is nil")
	}
	if embedder == nil {
		return nil, errors.New("embedder is nil")
	}
	if vectorDim <= 0 {
		return nil, fmt.Errorf("invalid vectorDim: %d", vectorDim)
	}
	mt := entity.COSINE
	if strings.EqualFold(strings.TrimSpace(metricType), "IP") {
		mt = entity.IP
	} else if strings.EqualFold(strings.TrimSpace(metricType), "L2") {
		mt = entity.L2
	}
	return &MilvusIndex{cli: cli, embedder: embedder, vectorDim: vectorDim, metricType: mt}, nil
}

// CreateCollection 重建集合:存在则先删除,保证重新处理的文档从空集合写入
func (s *MilvusIndex) CreateCollection(ctx context.Context, name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return errors.New("collection name is empty")
	}

	exists, err := s.cli.HasCollection(ctx, name)
	if err != nil {
		return fmt.Errorf("check collection %s: %w", name, err)
	}
	if exists {
		if err := s.cli.DropCollection(ctx, name); err != nil {
			return fmt.Errorf("drop collection %s: %w", name, err)
		}
		zlog.Info("dropped existing collection before rebuild", zap.String("collection", name))
	}

	return s.createCollection(ctx, name)
}

// ensureCollection 保证集合存在;已存在时不清除数据(知识库聚合集合
// 跨多个文档累积,绝不能重建)
func (s *MilvusIndex) ensureCollection(ctx context.Context, name string) error {
	exists, err := s.cli.HasCollection(ctx, name)
	if err != nil {
		return fmt.Errorf("check collection %s: %w", name, err)
	}
	if exists {
		return nil
	}
	zlog.Info("creating missing collection", zap.String("collection", name))
	return s.createCollection(ctx, name)
}

func (s *MilvusIndex) createCollection(ctx context.Context, name string) error {
	schema := &entity.Schema{
		CollectionName: name,
		Description:    "document chunk vectors",
		Fields: []*entity.Field{
			{
				Name:       "id",
				DataType:   entity.FieldTypeVarChar,
				PrimaryKey: true,
				TypeParams: map[string]string{"max_length": "128"},
			},
			{
				Name:       vectorField,
				DataType:   entity.FieldTypeFloatVector,
				TypeParams: map[string]string{entity.TypeParamDim: fmt.Sprintf("%d", s.vectorDim)},
			},
			{
				Name:     "document_id",
				DataType: entity.FieldTypeVarChar,
				TypeParams: map[string]string{
					"max_length": "128",
				},
			},
			{
				Name:     "chunk_index",
				DataType: entity.FieldTypeInt64,
			},
			{
				Name:     "chunk_length",
				DataType: entity.FieldTypeInt64,
			},
			{
				Name:     "content",
				DataType: entity.FieldTypeVarChar,
				TypeParams: map[string]string{
					"max_length": maxContentLn,
				},
			},
			{
				Name:     "metadata",
				DataType: entity.FieldTypeJSON,
			},
		},
	}

	if err := s.cli.CreateCollection(ctx, schema, entity.DefaultShardNumber); err != nil {
		return fmt.Errorf("create collection %s: %w", name, err)
	}

	idx, err := entity.NewIndexAUTOINDEX(s.metricType)
	if err != nil {
		return err
	}
	if err := s.cli.CreateIndex(ctx, name, vectorField, idx, false); err != nil {
		return fmt.Errorf("create index on %s: %w", name, err)
	}

	if err := s.cli.LoadCollection(ctx, name, false); err != nil {
		return fmt.Errorf("load collection %s: %w", name, err)
	}
	return nil
}

// BulkUpsert 批量向量化并写入集合
func (s *MilvusIndex) BulkUpsert(ctx context.Context, collection string, chunks []repository.ChunkItem) error {
	if len(chunks) == 0 {
		return nil
	}

	vectors, err := s.embedChunks(ctx, chunks)
	if err != nil {
		return err
	}

	ids := make([]string, 0, len(chunks))
	docIDs := make([]string, 0, len(chunks))
	indexes := make([]int64, 0, len(chunks))
	lengths := make([]int64, 0, len(chunks))
	contents := make([]string, 0, len(chunks))
	metas := make([]string, 0, len(chunks))

	for _, it := range chunks {
		if it.ChunkId == "" {
			return errors.New("chunk missing id")
		}
		ids = append(ids, it.ChunkId)
		docIDs = append(docIDs, it.DocumentId)
		indexes = append(indexes, int64(it.Index))
		lengths = append(lengths, int64(it.Length))
		contents = append(contents, it.Content)

		m := "{}"
		if len(it.Metadata) > 0 {
			if bs, err := json.Marshal(it.Metadata); err == nil {
				m = string(bs)
			}
		}
		metas = append(metas, m)
	}

	_, err = s.cli.Upsert(
		ctx,
		collection,
		"",
		entity.NewColumnVarChar("id", ids),
		entity.NewColumnFloatVector(vectorField, s.vectorDim, vectors),
		entity.NewColumnVarChar("document_id", docIDs),
		entity.NewColumnInt64("chunk_index", indexes),
		entity.NewColumnInt64("chunk_length", lengths),
		entity.NewColumnVarChar("content", contents),
		entity.NewColumnJSONBytes("metadata", stringSliceToJSONBytes(metas)),
	)
	if err != nil {
		return fmt.Errorf("upsert into %s: %w", collection, err)
	}

	if err := s.cli.Flush(ctx, collection, false); err != nil {
		zlog.Warn("flush after upsert failed", zap.String("collection", collection), zap.Error(err))
	}
	return nil
}

// CopyByDocument 把源集合中某文档的全部向量复制到目标集合,不重新向量化。
// 目标集合不存在时按同一 schema 创建(首次向新知识库同步时发生)。
func (s *MilvusIndex) CopyByDocument(ctx context.Context, source, target, documentID string) error {
	exists, err := s.cli.HasCollection(ctx, source)
	if err != nil {
		return fmt.Errorf("check collection %s: %w", source, err)
	}
	if !exists {
		return fmt.Errorf("source collection %s does not exist", source)
	}

	if err := s.ensureCollection(ctx, target); err != nil {
		return err
	}

	expr := fmt.Sprintf(`document_id == "%s"`, documentID)
	outputFields := []string{"id", vectorField, "document_id", "chunk_index", "chunk_length", "content", "metadata"}

	// 大文档分页迁移,避免撞上 Query 的默认返回上限
	total := 0
	for offset := int64(0); ; offset += queryBatch {
		rs, err := s.cli.Query(ctx, source, nil, expr, outputFields,
			mclient.WithOffset(offset), mclient.WithLimit(queryBatch))
		if err != nil {
			return fmt.Errorf("query %s: %w", source, err)
		}

		n := resultCount(rs)
		if n == 0 {
			break
		}

		cols := make([]entity.Column, 0, len(rs))
		for _, c := range rs {
			cols = append(cols, c)
		}
		if _, err := s.cli.Upsert(ctx, target, "", cols...); err != nil {
			return fmt.Errorf("copy vectors into %s: %w", target, err)
		}

		total += n
		if n < queryBatch {
			break
		}
	}
	if total == 0 {
		return fmt.Errorf("no vectors found for document %s in %s", documentID, source)
	}

	if err := s.cli.Flush(ctx, target, false); err != nil {
		zlog.Warn("flush after copy failed", zap.String("collection", target), zap.Error(err))
	}
	zlog.Info("copied document vectors",
		zap.String("document_id", documentID),
		zap.String("source", source),
		zap.String("target", target),
		zap.Int("count", total),
	)
	return nil
}

func (s *MilvusIndex) embedChunks(ctx context.Context, chunks []repository.ChunkItem) ([][]float32, error) {
	vectors := make([][]float32, 0, len(chunks))
	for start := 0; start < len(chunks); start += embedBatch {
		end := start + embedBatch
		if end > len(chunks) {
			end = len(chunks)
		}
		texts := make([]string, 0, end-start)
		for _, it := range chunks[start:end] {
			texts = append(texts, it.Content)
		}
		vecs, err := s.embedder.EmbedStrings(ctx, texts)
		if err != nil {
			return nil, fmt.Errorf("embed chunks [%d:%d]: %w", start, end, err)
		}
		if len(vecs) != len(texts) {
			return nil, fmt.Errorf("embedder returned %d vectors for %d texts", len(vecs), len(texts))
		}
		for i, v := range vecs {
			if len(v) != s.vectorDim {
				return nil, fmt.Errorf("vector dim mismatch for chunk %s, got=%d want=%d", chunks[start+i].ChunkId, len(v), s.vectorDim)
			}
			f32 := make([]float32, len(v))
			for j := range v {
				f32[j] = float32(v[j])
			}
			vectors = append(vectors, f32)
		}
	}
	return vectors, nil
}

func resultCount(rs mclient.ResultSet) int {
	for _, c := range rs {
		if c != nil {
			return c.Len()
		}
	}
	return 0
}

func stringSliceToJSONBytes(values []string) [][]byte {
	out := make([][]byte, 0, len(values))
	for _, v := range values {
		out = append(out, []byte(v))
	}
	return out
}
