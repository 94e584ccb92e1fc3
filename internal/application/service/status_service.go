package service

import (
	"context"

	"github.com/Acorn2/llama-doc-sub000/internal/domain/repository"
)

// StatusSnapshot 处理与同步两条流水线的状态计数,供运维观测
type StatusSnapshot struct {
	Documents map[string]int64 `json:"documents"`
	SyncLinks map[string]int64 `json:"sync_links"`
}

type StatusService struct {
	docRepo   repository.DocumentRepository
	kbDocRepo repository.KBDocumentRepository
}

func NewStatusService(docRepo repository.DocumentRepository, kbDocRepo repository.KBDocumentRepository) *StatusService {
	return &StatusService{docRepo: docRepo, kbDocRepo: kbDocRepo}
}

func (s *StatusService) Snapshot(ctx context.Context) (*StatusSnapshot, error) {
	docCounts, err := s.docRepo.CountByStatus(ctx)
	if err != nil {
		return nil, err
	}
	linkCounts, err := s.kbDocRepo.CountByStatus(ctx)
	if err != nil {
		return nil, err
	}
	return &StatusSnapshot{
		Documents: docCounts,
		SyncLinks: linkCounts,
	}, nil
}
