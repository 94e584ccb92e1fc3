package service

import (
	"context"
	"database/sql"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/Acorn2/llama-doc-sub000/internal/domain/document"
	"github.com/Acorn2/llama-doc-sub000/internal/domain/repository"
	"github.com/Acorn2/llama-doc-sub000/pkg/xerr"
)

// 内存版仓储,语义与 MySQL 实现一致:认领是条件更新,竞争失败返回 false

type fakeDocRepo struct {
	mu   sync.Mutex
	docs map[string]*document.Document
}

func newFakeDocRepo() *fakeDocRepo {
	return &fakeDocRepo{docs: map[string]*document.Document{}}
}

func (r *fakeDocRepo) put(doc *document.Document) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *doc
	r.docs[doc.Id] = &cp
}

func (r *fakeDocRepo) Create(ctx context.Context, doc *document.Document) error {
	r.put(doc)
	return nil
}

func (r *fakeDocRepo) GetByID(ctx context.Context, id string) (*document.Document, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	doc, ok := r.docs[id]
	if !ok {
		return nil, nil
	}
	cp := *doc
	return &cp, nil
}

func (r *fakeDocRepo) ListPending(ctx context.Context, limit int) ([]document.Document, error) {
	return r.list(limit, func(d *document.Document) bool {
		return d.Status == document.StatusPending
	})
}

func (r *fakeDocRepo) ListRetryable(ctx context.Context, before time.Time, limit int) ([]document.Document, error) {
	return r.list(limit, func(d *document.Document) bool {
		if d.Status != document.StatusFailed || d.RetryCount >= d.MaxRetries {
			return false
		}
		return !d.LastRetryTime.Valid || d.LastRetryTime.Time.Before(before)
	})
}

func (r *fakeDocRepo) list(limit int, match func(*document.Document) bool) ([]document.Document, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []document.Document
	for _, d := range r.docs {
		if match(d) {
			out = append(out, *d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UploadTime.Before(out[j].UploadTime) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *fakeDocRepo) TryClaim(ctx context.Context, id string, now time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.docs[id]
	if !ok || d.Status != document.StatusPending {
		return false, nil
	}
	d.Status = document.StatusProcessing
	d.ProcessStartTime = nullTime(now)
	return true, nil
}

func (r *fakeDocRepo) TryClaimRetry(ctx context.Context, id string, now time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.docs[id]
	if !ok || d.Status != document.StatusFailed || d.RetryCount >= d.MaxRetries {
		return false, nil
	}
	d.Status = document.StatusProcessing
	d.RetryCount++
	d.LastRetryTime = nullTime(now)
	d.ProcessStartTime = nullTime(now)
	return true, nil
}

func (r *fakeDocRepo) MarkCompleted(ctx context.Context, id string, pages, chunkCount int, fileType string, now time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.docs[id]
	if !ok {
		return errors.New("document not found")
	}
	d.Status = document.StatusCompleted
	d.SyncStatus = document.SyncStatusAvailable
	d.Pages = pages
	d.ChunkCount = chunkCount
	if strings.TrimSpace(d.FileType) == "" {
		d.FileType = fileType
	}
	d.ProcessEndTime = nullTime(now)
	d.ErrorMessage = ""
	return nil
}

func (r *fakeDocRepo) MarkFailed(ctx context.Context, id string, errMsg string, now time.Time) error {
	return r.setStatus(id, document.StatusFailed, errMsg)
}

func (r *fakeDocRepo) MarkFailedPermanently(ctx context.Context, id string, errMsg string, now time.Time) error {
	return r.setStatus(id, document.StatusFailedPermanently, errMsg)
}

func (r *fakeDocRepo) setStatus(id, status, errMsg string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.docs[id]
	if !ok {
		return errors.New("document not found")
	}
	d.Status = status
	d.ErrorMessage = errMsg
	return nil
}

func (r *fakeDocRepo) UpdateSyncStatus(ctx context.Context, id string, syncStatus string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.docs[id]
	if !ok {
		return errors.New("document not found")
	}
	d.SyncStatus = syncStatus
	return nil
}

func (r *fakeDocRepo) CountByStatus(ctx context.Context) (map[string]int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	counts := map[string]int64{}
	for _, d := range r.docs {
		counts[d.Status]++
	}
	return counts, nil
}

func (r *fakeDocRepo) ReleaseStaleProcessing(ctx context.Context, before time.Time, now time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for _, d := range r.docs {
		if d.Status == document.StatusProcessing && d.ProcessStartTime.Valid && d.ProcessStartTime.Time.Before(before) {
			d.Status = document.StatusFailed
			d.ErrorMessage = "processing abandoned: exceeded stale ceiling, returned for retry"
			n++
		}
	}
	return n, nil
}

func (r *fakeDocRepo) ReleaseStaleSyncing(ctx context.Context, before time.Time, now time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for _, d := range r.docs {
		if d.Status == document.StatusCompleted && d.SyncStatus == document.SyncStatusSyncing && d.UpdatedAt.Before(before) {
			d.SyncStatus = document.SyncStatusAvailable
			n++
		}
	}
	return n, nil
}

var _ repository.DocumentRepository = (*fakeDocRepo)(nil)

type fakeKBDocRepo struct {
	mu    sync.Mutex
	links map[string]*document.KnowledgeBaseDocument
	docs  *fakeDocRepo
}

func newFakeKBDocRepo(docs *fakeDocRepo) *fakeKBDocRepo {
	return &fakeKBDocRepo{links: map[string]*document.KnowledgeBaseDocument{}, docs: docs}
}

func (r *fakeKBDocRepo) put(link *document.KnowledgeBaseDocument) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *link
	r.links[link.Id] = &cp
}

func (r *fakeKBDocRepo) Create(ctx context.Context, link *document.KnowledgeBaseDocument) error {
	r.put(link)
	return nil
}

func (r *fakeKBDocRepo) GetByID(ctx context.Context, id string) (*document.KnowledgeBaseDocument, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	link, ok := r.links[id]
	if !ok {
		return nil, nil
	}
	cp := *link
	return &cp, nil
}

func (r *fakeKBDocRepo) ListPendingEligible(ctx context.Context, limit int) ([]document.KnowledgeBaseDocument, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []document.KnowledgeBaseDocument
	for _, l := range r.links {
		if l.VectorSyncStatus != document.VectorSyncPending {
			continue
		}
		doc, _ := r.docs.GetByID(ctx, l.DocumentId)
		if doc == nil || !doc.SyncEligible() {
			continue
		}
		out = append(out, *l)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AddTime.Before(out[j].AddTime) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *fakeKBDocRepo) TryMarkSyncing(ctx context.Context, id string, now time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.links[id]
	if !ok || l.VectorSyncStatus != document.VectorSyncPending {
		return false, nil
	}
	l.VectorSyncStatus = document.VectorSyncSyncing
	l.VectorSyncTime = nullTime(now)
	return true, nil
}

func (r *fakeKBDocRepo) MarkCompleted(ctx context.Context, id string, now time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.links[id]
	if !ok {
		return errors.New("link not found")
	}
	l.VectorSyncStatus = document.VectorSyncCompleted
	l.VectorSyncTime = nullTime(now)
	l.VectorSyncError = ""
	return nil
}

func (r *fakeKBDocRepo) MarkFailed(ctx context.Context, id string, errMsg string, now time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.links[id]
	if !ok {
		return errors.New("link not found")
	}
	l.VectorSyncStatus = document.VectorSyncFailed
	l.VectorSyncTime = nullTime(now)
	l.VectorSyncError = errMsg
	return nil
}

func (r *fakeKBDocRepo) ListRetryable(ctx context.Context, before time.Time, maxRetries, limit int) ([]document.KnowledgeBaseDocument, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []document.KnowledgeBaseDocument
	for _, l := range r.links {
		if l.VectorSyncStatus != document.VectorSyncFailed || l.SyncRetryCount >= maxRetries {
			continue
		}
		if l.VectorSyncTime.Valid && !l.VectorSyncTime.Time.Before(before) {
			continue
		}
		out = append(out, *l)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AddTime.Before(out[j].AddTime) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *fakeKBDocRepo) TryResetForRetry(ctx context.Context, id string, now time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.links[id]
	if !ok || l.VectorSyncStatus != document.VectorSyncFailed {
		return false, nil
	}
	l.VectorSyncStatus = document.VectorSyncPending
	l.VectorSyncTime = nullTime(now)
	l.SyncRetryCount++
	return true, nil
}

func (r *fakeKBDocRepo) CountByStatus(ctx context.Context) (map[string]int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	counts := map[string]int64{}
	for _, l := range r.links {
		counts[l.VectorSyncStatus]++
	}
	return counts, nil
}

func (r *fakeKBDocRepo) ReleaseStaleSyncing(ctx context.Context, before time.Time, now time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for _, l := range r.links {
		if l.VectorSyncStatus == document.VectorSyncSyncing && l.VectorSyncTime.Valid && l.VectorSyncTime.Time.Before(before) {
			l.VectorSyncStatus = document.VectorSyncFailed
			l.VectorSyncError = "sync abandoned: exceeded stale ceiling, returned for retry"
			n++
		}
	}
	return n, nil
}

var _ repository.KBDocumentRepository = (*fakeKBDocRepo)(nil)

// fakeVectorIndex 记录调用并可注入失败
type fakeVectorIndex struct {
	mu             sync.Mutex
	collections    map[string][]repository.ChunkItem
	failCreate     error
	failUpsert     error
	failCopy       error
	copyCalls      int
	ensuredTargets []string
}

func newFakeVectorIndex() *fakeVectorIndex {
	return &fakeVectorIndex{collections: map[string][]repository.ChunkItem{}}
}

func (f *fakeVectorIndex) CreateCollection(ctx context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failCreate != nil {
		return f.failCreate
	}
	f.collections[name] = nil
	return nil
}

func (f *fakeVectorIndex) BulkUpsert(ctx context.Context, collection string, chunks []repository.ChunkItem) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failUpsert != nil {
		return f.failUpsert
	}
	f.collections[collection] = append(f.collections[collection], chunks...)
	return nil
}

func (f *fakeVectorIndex) CopyByDocument(ctx context.Context, source, target, documentID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.copyCalls++
	if f.failCopy != nil {
		return f.failCopy
	}
	src, ok := f.collections[source]
	if !ok {
		return errors.New("source collection does not exist")
	}
	// 与真实实现一致:目标集合缺失时创建,已存在时不清除其中的数据
	if _, ok := f.collections[target]; !ok {
		f.collections[target] = nil
		f.ensuredTargets = append(f.ensuredTargets, target)
	}
	for _, c := range src {
		if c.DocumentId == documentID {
			f.collections[target] = append(f.collections[target], c)
		}
	}
	return nil
}

func (f *fakeVectorIndex) stored(collection string) []repository.ChunkItem {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]repository.ChunkItem(nil), f.collections[collection]...)
}

var _ repository.VectorIndex = (*fakeVectorIndex)(nil)

// fakeStorage 按 storageKey 返回预置字节
type fakeStorage struct {
	files map[string][]byte
}

func newFakeStorage() *fakeStorage {
	return &fakeStorage{files: map[string][]byte{}}
}

func (f *fakeStorage) Resolve(ctx context.Context, documentID, storageType, storageKey string) ([]byte, error) {
	data, ok := f.files[storageKey]
	if !ok {
		return nil, xerr.ErrFileNotFound
	}
	return data, nil
}

var _ repository.FileStorage = (*fakeStorage)(nil)

func nullTime(t time.Time) sql.NullTime {
	return sql.NullTime{Time: t, Valid: true}
}
