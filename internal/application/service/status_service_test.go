package service

import (
	"context"
	"testing"

	"github.com/Acorn2/llama-doc-sub000/internal/domain/document"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSnapshot_CountsBothPipelines(t *testing.T) {
	docRepo := newFakeDocRepo()
	kbRepo := newFakeKBDocRepo(docRepo)
	svc := NewStatusService(docRepo, kbRepo)

	docRepo.put(pendingDoc("doc-a", "a.txt"))
	docRepo.put(pendingDoc("doc-b", "b.txt"))
	docRepo.put(completedDoc("doc-c"))

	kbRepo.put(pendingLink("link-a", "kb-1", "doc-c"))
	failed := pendingLink("link-b", "kb-1", "doc-c")
	failed.VectorSyncStatus = document.VectorSyncFailed
	kbRepo.put(failed)

	snap, err := svc.Snapshot(context.Background())
	require.NoError(t, err)

	assert.EqualValues(t, 2, snap.Documents[document.StatusPending])
	assert.EqualValues(t, 1, snap.Documents[document.StatusCompleted])
	assert.EqualValues(t, 1, snap.SyncLinks[document.VectorSyncPending])
	assert.EqualValues(t, 1, snap.SyncLinks[document.VectorSyncFailed])
}
