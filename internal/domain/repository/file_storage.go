package repository

import "context"

// FileStorage 存储解析器：按存储类型与定位符取回文件字节。
// 文件不存在时返回 xerr.ErrFileNotFound。
type FileStorage interface {
	Resolve(ctx context.Context, documentID, storageType, storageKey string) ([]byte, error)
}
