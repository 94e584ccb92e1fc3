package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/Acorn2/llama-doc-sub000/internal/domain/repository"

	"github.com/stretchr/testify/assert"
)

type staleDocRepo struct {
	repository.DocumentRepository
	before       time.Time
	released     int64
	err          error
	calls        int
	syncingCalls int
}

func (f *staleDocRepo) ReleaseStaleProcessing(ctx context.Context, before, now time.Time) (int64, error) {
	f.calls++
	f.before = before
	return f.released, f.err
}

func (f *staleDocRepo) ReleaseStaleSyncing(ctx context.Context, before, now time.Time) (int64, error) {
	f.syncingCalls++
	return 0, nil
}

type staleKBDocRepo struct {
	repository.KBDocumentRepository
	before   time.Time
	released int64
	err      error
	calls    int
}

func (f *staleKBDocRepo) ReleaseStaleSyncing(ctx context.Context, before, now time.Time) (int64, error) {
	f.calls++
	f.before = before
	return f.released, f.err
}

func TestReconcile_ReleasesBothStaleSets(t *testing.T) {
	docRepo := &staleDocRepo{released: 2}
	kbRepo := &staleKBDocRepo{released: 1}
	r := NewReconciler(docRepo, kbRepo, 30*time.Minute)

	start := time.Now()
	r.Reconcile(context.Background())

	assert.Equal(t, 1, docRepo.calls)
	assert.Equal(t, 1, kbRepo.calls)
	assert.Equal(t, 1, docRepo.syncingCalls)

	// 两个仓储收到的截止时间都应是 now - staleCeiling
	wantBefore := start.Add(-30 * time.Minute)
	assert.WithinDuration(t, wantBefore, docRepo.before, 2*time.Second)
	assert.WithinDuration(t, wantBefore, kbRepo.before, 2*time.Second)
}

func TestReconcile_DocumentSweepFailureDoesNotSkipLinkSweep(t *testing.T) {
	docRepo := &staleDocRepo{err: errors.New("mysql gone")}
	kbRepo := &staleKBDocRepo{}
	r := NewReconciler(docRepo, kbRepo, 30*time.Minute)

	r.Reconcile(context.Background())

	assert.Equal(t, 1, docRepo.calls)
	assert.Equal(t, 1, kbRepo.calls)
}

func TestNewReconciler_DefaultStaleCeiling(t *testing.T) {
	r := NewReconciler(&staleDocRepo{}, &staleKBDocRepo{}, 0)
	assert.Equal(t, 30*time.Minute, r.staleCeiling)
}
