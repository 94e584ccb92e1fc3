package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/Acorn2/llama-doc-sub000/internal/config"
	"github.com/Acorn2/llama-doc-sub000/internal/domain/repository"
	"github.com/Acorn2/llama-doc-sub000/pkg/xerr"
	"github.com/Acorn2/llama-doc-sub000/pkg/zlog"

	"go.uber.org/zap"
)

const maxRemoteFileSize = 256 << 20

// Resolver 按存储类型取回文档原始字节
type Resolver struct {
	localDir string
	baseURL  string
	client   *http.Client
}

var _ repository.FileStorage = (*Resolver)(nil)

func NewResolver(conf *config.StorageConfig) *Resolver {
	localDir := "data/uploads"
	baseURL := ""
	if conf != nil {
		if strings.TrimSpace(conf.LocalDir) != "" {
			localDir = strings.TrimSpace(conf.LocalDir)
		}
		baseURL = strings.TrimSpace(conf.BaseURL)
	}
	return &Resolver{
		localDir: localDir,
		baseURL:  baseURL,
		client:   &http.Client{Timeout: 60 * time.Second},
	}
}

func (r *Resolver) Resolve(ctx context.Context, documentID, storageType, storageKey string) ([]byte, error) {
	storageKey = strings.TrimSpace(storageKey)
	if storageKey == "" {
		return nil, xerr.ErrFileNotFound
	}

	switch strings.ToLower(strings.TrimSpace(storageType)) {
	case "", "local":
		return r.resolveLocal(documentID, storageKey)
	case "http", "url":
		return r.resolveHTTP(ctx, documentID, storageKey)
	default:
		return nil, fmt.Errorf("unsupported storage type: %s", storageType)
	}
}

func (r *Resolver) resolveLocal(documentID, storageKey string) ([]byte, error) {
	p := storageKey
	if !filepath.IsAbs(p) {
		p = filepath.Join(r.localDir, filepath.Clean("/"+storageKey))
	}
	data, err := os.ReadFile(p)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			zlog.Warn("document file missing on disk",
				zap.String("document_id", documentID),
				zap.String("path", p),
			)
			return nil, xerr.ErrFileNotFound
		}
		return nil, fmt.Errorf("read file %s: %w", p, err)
	}
	return data, nil
}

func (r *Resolver) resolveHTTP(ctx context.Context, documentID, storageKey string) ([]byte, error) {
	target := storageKey
	if !strings.HasPrefix(target, "http://") && !strings.HasPrefix(target, "https://") {
		if r.baseURL == "" {
			return nil, fmt.Errorf("relative storage key %s without base url", storageKey)
		}
		u, err := url.JoinPath(r.baseURL, storageKey)
		if err != nil {
			return nil, err
		}
		target = u
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, err
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", target, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		zlog.Warn("document file missing on remote",
			zap.String("document_id", documentID),
			zap.String("url", target),
		)
		return nil, xerr.ErrFileNotFound
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch %s: unexpected status %d", target, resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxRemoteFileSize+1))
	if err != nil {
		return nil, fmt.Errorf("read body of %s: %w", target, err)
	}
	if len(data) > maxRemoteFileSize {
		return nil, fmt.Errorf("file %s exceeds size limit", target)
	}
	return data, nil
}
