package repository

import "context"

// 集合命名约定：每个文档一个独立集合，知识库一个聚合集合
const (
	DocumentCollectionPrefix      = "doc_"
	KnowledgeBaseCollectionPrefix = "kb_"
)

func DocumentCollection(documentID string) string {
	return DocumentCollectionPrefix + documentID
}

func KnowledgeBaseCollection(kbID string) string {
	return KnowledgeBaseCollectionPrefix + kbID
}

// ChunkItem 向量库写入的最小单元：一段抽取文本及其派生元数据
type ChunkItem struct {
	ChunkId    string
	DocumentId string
	Index      int
	Length     int
	Content    string
	Metadata   map[string]any
}

// VectorIndex 是 domain 层定义的向量库能力抽象。
//
// 上层只依赖本接口，infrastructure 通过适配器实现（MilvusVectorIndex），
// 向量化（Embedding）发生在适配器内部，属于协作方自身的实现细节。
type VectorIndex interface {
	// CreateCollection 确保一个空集合存在；若同名集合已存在则先清除，
	// 保证重复处理同一文档时写入的是全新集合
	CreateCollection(ctx context.Context, name string) error

	// BulkUpsert 将切片批量写入集合
	BulkUpsert(ctx context.Context, collection string, chunks []ChunkItem) error

	// CopyByDocument 将源集合中属于 documentID 的全部向量复制到目标集合，
	// 只迁移该文档的数据。目标集合不存在时自动创建，已存在时不清除其中
	// 其他文档的向量
	CopyByDocument(ctx context.Context, sourceCollection, targetCollection, documentID string) error
}
