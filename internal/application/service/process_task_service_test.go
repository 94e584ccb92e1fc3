package service

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/Acorn2/llama-doc-sub000/internal/domain/document"
	"github.com/Acorn2/llama-doc-sub000/internal/domain/repository"
	"github.com/Acorn2/llama-doc-sub000/internal/infrastructure/chunking"
	"github.com/Acorn2/llama-doc-sub000/internal/infrastructure/extractor"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestEnv() (*fakeDocRepo, *fakeStorage, *fakeVectorIndex, *ProcessTaskService) {
	docRepo := newFakeDocRepo()
	store := newFakeStorage()
	index := newFakeVectorIndex()
	engine := extractor.NewEngine(chunking.NewChunker(1024, 200))
	svc := NewProcessTaskService(docRepo, store, engine, index)
	return docRepo, store, index, svc
}

func pendingDoc(id, storageKey string) *document.Document {
	return &document.Document{
		Id:          id,
		Filename:    id + ".txt",
		FileType:    "txt",
		StorageKey:  storageKey,
		StorageType: "local",
		Status:      document.StatusPending,
		SyncStatus:  document.SyncStatusUnavailable,
		MaxRetries:  document.DefaultMaxRetries,
		UploadTime:  time.Now(),
	}
}

func TestExecute_SuccessfulProcessing(t *testing.T) {
	docRepo, store, index, svc := newTestEnv()
	store.files["k1"] = []byte("some meaningful document content")
	docRepo.put(pendingDoc("doc-1", "k1"))

	require.NoError(t, svc.Execute(context.Background(), "doc-1"))

	got, _ := docRepo.GetByID(context.Background(), "doc-1")
	require.NotNil(t, got)
	assert.Equal(t, document.StatusCompleted, got.Status)
	assert.Equal(t, document.SyncStatusAvailable, got.SyncStatus)
	assert.Equal(t, 1, got.ChunkCount)
	assert.Equal(t, 1, got.Pages)
	assert.Empty(t, got.ErrorMessage)
	assert.True(t, got.ProcessStartTime.Valid)
	assert.True(t, got.ProcessEndTime.Valid)

	stored := index.stored(repository.DocumentCollection("doc-1"))
	require.Len(t, stored, 1)
	assert.Equal(t, "doc-1", stored[0].DocumentId)
	assert.Equal(t, "some meaningful document content", stored[0].Content)
}

func TestExecute_MissingFileIsRetryable(t *testing.T) {
	docRepo, _, _, svc := newTestEnv()
	docRepo.put(pendingDoc("doc-2", "nope"))

	require.NoError(t, svc.Execute(context.Background(), "doc-2"))

	got, _ := docRepo.GetByID(context.Background(), "doc-2")
	assert.Equal(t, document.StatusFailed, got.Status)
	assert.Contains(t, got.ErrorMessage, "resolve file")
	assert.Equal(t, document.SyncStatusUnavailable, got.SyncStatus)
}

func TestExecute_EmptyFileFailure(t *testing.T) {
	docRepo, store, _, svc := newTestEnv()
	store.files["k3"] = []byte{}
	docRepo.put(pendingDoc("doc-3", "k3"))

	require.NoError(t, svc.Execute(context.Background(), "doc-3"))

	got, _ := docRepo.GetByID(context.Background(), "doc-3")
	assert.Equal(t, document.StatusFailed, got.Status)
	assert.Contains(t, got.ErrorMessage, "empty")
}

func TestExecute_RetryCeilingReachesFailedPermanently(t *testing.T) {
	docRepo, _, _, svc := newTestEnv()
	doc := pendingDoc("doc-4", "missing")
	doc.Status = document.StatusFailed
	doc.RetryCount = 2
	docRepo.put(doc)

	// 第三次重试(retry_count 达到 3)仍失败 → 永久失败
	require.NoError(t, svc.Execute(context.Background(), "doc-4"))

	got, _ := docRepo.GetByID(context.Background(), "doc-4")
	assert.Equal(t, document.StatusFailedPermanently, got.Status)
	assert.Equal(t, 3, got.RetryCount)
	assert.Contains(t, got.ErrorMessage, "retry ceiling")
}

func TestExecute_ExhaustedRetryBudgetIsSkipped(t *testing.T) {
	docRepo, _, _, svc := newTestEnv()
	doc := pendingDoc("doc-5", "missing")
	doc.Status = document.StatusFailed
	doc.RetryCount = 3
	docRepo.put(doc)

	require.NoError(t, svc.Execute(context.Background(), "doc-5"))

	got, _ := docRepo.GetByID(context.Background(), "doc-5")
	// 不认领、不迁移,留给人工或永久失败判定
	assert.Equal(t, document.StatusFailed, got.Status)
	assert.Equal(t, 3, got.RetryCount)
}

func TestExecute_VectorizationFailureIsRetryableWithoutSyncEligibility(t *testing.T) {
	docRepo, store, index, svc := newTestEnv()
	store.files["k6"] = []byte("content that extracts fine")
	index.failUpsert = errors.New("milvus unavailable")
	docRepo.put(pendingDoc("doc-6", "k6"))

	require.NoError(t, svc.Execute(context.Background(), "doc-6"))

	got, _ := docRepo.GetByID(context.Background(), "doc-6")
	assert.Equal(t, document.StatusFailed, got.Status)
	assert.Equal(t, document.SyncStatusUnavailable, got.SyncStatus)
	assert.Contains(t, got.ErrorMessage, "write vectors")
}

func TestExecute_TerminalStatesAreNotReprocessed(t *testing.T) {
	docRepo, store, index, svc := newTestEnv()
	store.files["k7"] = []byte("content")

	for _, status := range []string{document.StatusCompleted, document.StatusFailedPermanently, document.StatusProcessing} {
		doc := pendingDoc("doc-7-"+status, "k7")
		doc.Status = status
		docRepo.put(doc)

		require.NoError(t, svc.Execute(context.Background(), doc.Id))

		got, _ := docRepo.GetByID(context.Background(), doc.Id)
		assert.Equal(t, status, got.Status, "status %s must not change", status)
	}
	assert.Empty(t, index.stored(repository.DocumentCollection("doc-7-completed")))
}

func TestExecute_UnknownDocumentIsNoop(t *testing.T) {
	_, _, _, svc := newTestEnv()
	assert.NoError(t, svc.Execute(context.Background(), "ghost"))
	assert.NoError(t, svc.Execute(context.Background(), "  "))
}

func TestExecute_RetryAfterTransientFailureSucceeds(t *testing.T) {
	docRepo, store, _, svc := newTestEnv()
	docRepo.put(pendingDoc("doc-8", "k8"))

	// 第一次:文件尚不可达 → failed
	require.NoError(t, svc.Execute(context.Background(), "doc-8"))
	got, _ := docRepo.GetByID(context.Background(), "doc-8")
	require.Equal(t, document.StatusFailed, got.Status)

	// 文件恢复,重试成功
	store.files["k8"] = []byte(strings.Repeat("recovered content ", 10))
	require.NoError(t, svc.Execute(context.Background(), "doc-8"))

	got, _ = docRepo.GetByID(context.Background(), "doc-8")
	assert.Equal(t, document.StatusCompleted, got.Status)
	assert.Equal(t, document.SyncStatusAvailable, got.SyncStatus)
	assert.Equal(t, 1, got.RetryCount)
	assert.Empty(t, got.ErrorMessage)
}

func TestExecute_BackfillsFileTypeFromExtraction(t *testing.T) {
	docRepo, store, _, svc := newTestEnv()
	store.files["k9"] = []byte("typed content")
	doc := pendingDoc("doc-9", "k9")
	doc.FileType = ""
	docRepo.put(doc)

	require.NoError(t, svc.Execute(context.Background(), "doc-9"))

	got, _ := docRepo.GetByID(context.Background(), "doc-9")
	assert.Equal(t, document.StatusCompleted, got.Status)
	assert.Equal(t, "txt", got.FileType)
}
