package document

import (
	"database/sql"
	"time"
)

// 文档处理状态机：pending → processing → completed；
// processing → failed → (重试) processing；重试额度耗尽后 failed_permanently。
const (
	StatusPending           = "pending"
	StatusProcessing        = "processing"
	StatusCompleted         = "completed"
	StatusFailed            = "failed"
	StatusFailedPermanently = "failed_permanently"
)

// 文档向量同步状态：completed 之后才会进入 available
const (
	SyncStatusUnavailable = "unavailable"
	SyncStatusAvailable   = "available"
	SyncStatusSyncing     = "syncing"
	SyncStatusSynced      = "synced"
	SyncStatusSyncFailed  = "sync_failed"
)

// 知识库关联的向量同步状态机：pending → syncing → completed；
// syncing → failed → (冷却+额度) pending。
const (
	VectorSyncPending   = "pending"
	VectorSyncSyncing   = "syncing"
	VectorSyncCompleted = "completed"
	VectorSyncFailed    = "failed"
)

const DefaultMaxRetries = 3

type Document struct {
	Id         string `gorm:"column:id;type:char(36);primaryKey"`
	Filename   string `gorm:"column:filename;type:varchar(255);not null"`
	FileSize   int64  `gorm:"column:file_size;not null"`
	FileMD5    string `gorm:"column:file_md5;type:char(32);not null;index:idx_document_md5"`
	FileType   string `gorm:"column:file_type;type:varchar(20)"`
	StorageKey string `gorm:"column:storage_key;type:varchar(512);not null"`
	// 存储类型：local / http，由存储解析器按此下载文件字节
	StorageType string `gorm:"column:storage_type;type:varchar(20);not null;default:local"`

	Pages      int `gorm:"column:pages;not null;default:0"`
	ChunkCount int `gorm:"column:chunk_count;not null;default:0"`

	Status     string `gorm:"column:status;type:varchar(20);not null;default:pending;index:idx_document_status"`
	SyncStatus string `gorm:"column:sync_status;type:varchar(20);not null;default:unavailable"`

	RetryCount    int          `gorm:"column:retry_count;not null;default:0;index:idx_document_status"`
	MaxRetries    int          `gorm:"column:max_retries;not null;default:3"`
	LastRetryTime sql.NullTime `gorm:"column:last_retry_time;type:datetime"`

	ProcessStartTime sql.NullTime `gorm:"column:process_start_time;type:datetime"`
	ProcessEndTime   sql.NullTime `gorm:"column:process_end_time;type:datetime"`
	ErrorMessage     string       `gorm:"column:error_message;type:text"`

	UploadTime time.Time `gorm:"column:upload_time;type:datetime;not null"`
	UpdatedAt  time.Time `gorm:"column:updated_at;type:datetime;not null"`
}

func (Document) TableName() string { return "documents" }

// SyncEligible 文档解析与向量化均已成功，允许向知识库集合同步
func (d *Document) SyncEligible() bool {
	return d.Status == StatusCompleted && d.SyncStatus == SyncStatusAvailable
}

// KnowledgeBaseDocument 表示“文档 X 的向量应出现在知识库 Y 的聚合集合中”
type KnowledgeBaseDocument struct {
	Id         string `gorm:"column:id;type:char(36);primaryKey"`
	KBId       string `gorm:"column:kb_id;type:char(36);not null;uniqueIndex:uniq_kb_document"`
	DocumentId string `gorm:"column:document_id;type:char(36);not null;uniqueIndex:uniq_kb_document"`

	VectorSyncStatus string       `gorm:"column:vector_sync_status;type:varchar(20);not null;default:pending;index:idx_kb_doc_sync_status"`
	VectorSyncTime   sql.NullTime `gorm:"column:vector_sync_time;type:datetime"`
	VectorSyncError  string       `gorm:"column:vector_sync_error;type:text"`
	// 同步重试计数是独立字段，不混入错误文本
	SyncRetryCount int `gorm:"column:sync_retry_count;not null;default:0"`

	AddTime time.Time `gorm:"column:add_time;type:datetime;not null"`
}

func (KnowledgeBaseDocument) TableName() string { return "kb_documents" }
