package extractor

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/ledongthuc/pdf"
	"github.com/pdfcpu/pdfcpu/pkg/api"

	"github.com/Acorn2/llama-doc-sub000/pkg/zlog"

	"go.uber.org/zap"
)

// readPDF 抽取 PDF 的全部文本与元数据。
// 文件不是合法 PDF 时返回 ErrInvalidFormat，由调用方回退为纯文本解析。
func readPDF(documentID string, data []byte) (string, FileMetadata, error) {
	meta := FileMetadata{FileType: "pdf", Pages: 1}

	if err := api.Validate(bytes.NewReader(data), nil); err != nil {
		return "", meta, fmt.Errorf("%w: %v", ErrInvalidFormat, err)
	}

	// 元数据尽力而为：失败只记日志，绝不影响整体抽取
	if info, err := api.PDFInfo(bytes.NewReader(data), "", nil, false, nil); err == nil && info != nil {
		if info.PageCount > 0 {
			meta.Pages = info.PageCount
		}
		meta.Title = strings.TrimSpace(info.Title)
		meta.Author = strings.TrimSpace(info.Author)
	} else if err != nil {
		zlog.Warn("pdf metadata extraction failed", zap.String("document_id", documentID), zap.Error(err))
	}

	text, pages, err := pdfPlainText(data)
	if err != nil {
		return "", meta, fmt.Errorf("pdf text extraction failed: %w", err)
	}
	if meta.Pages <= 1 && pages > 0 {
		meta.Pages = pages
	}
	return text, meta, nil
}

// pdfPlainText 按页抽取文本。部分损坏的 PDF 会使底层库 panic，
// 这里统一转换为 error。
func pdfPlainText(data []byte) (text string, pages int, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("pdf reader panic: %v", r)
		}
	}()

	r, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", 0, err
	}

	pages = r.NumPage()
	var sb strings.Builder
	for i := 1; i <= pages; i++ {
		p := r.Page(i)
		if p.V.IsNull() {
			continue
		}
		content, perr := p.GetPlainText(nil)
		if perr != nil {
			// 单页失败不终止整体抽取
			continue
		}
		content = strings.TrimSpace(content)
		if content == "" {
			continue
		}
		if sb.Len() > 0 {
			sb.WriteString("\n")
		}
		sb.WriteString(content)
	}
	return sb.String(), pages, nil
}
