package extractor

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
	"strings"

	"github.com/Acorn2/llama-doc-sub000/pkg/zlog"

	"go.uber.org/zap"
)

// readDocx 抽取 Word 文档（OOXML）：非空段落以换行拼接。
// 文件不是合法 zip/OOXML 时返回 ErrInvalidFormat，由调用方回退为纯文本。
func readDocx(documentID string, data []byte, fileType string) (string, FileMetadata, error) {
	meta := FileMetadata{FileType: fileType, Pages: 1}

	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", meta, fmt.Errorf("%w: %v", ErrInvalidFormat, err)
	}

	doc := zipEntry(zr, "word/document.xml")
	if doc == nil {
		return "", meta, fmt.Errorf("%w: missing word/document.xml", ErrInvalidFormat)
	}

	paragraphs, err := docxParagraphs(doc)
	if err != nil {
		return "", meta, fmt.Errorf("docx parse failed: %w", err)
	}
	meta.Paragraphs = len(paragraphs)

	// 核心属性（标题/作者）尽力而为
	if core := zipEntry(zr, "docProps/core.xml"); core != nil {
		title, author, err := docxCoreProps(core)
		if err != nil {
			zlog.Warn("docx metadata extraction failed", zap.String("document_id", documentID), zap.Error(err))
		} else {
			meta.Title = title
			meta.Author = author
		}
	}

	return strings.Join(paragraphs, "\n"), meta, nil
}

func zipEntry(zr *zip.Reader, name string) []byte {
	for _, f := range zr.File {
		if f.Name != name {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return nil
		}
		defer rc.Close()
		b, err := io.ReadAll(rc)
		if err != nil {
			return nil
		}
		return b
	}
	return nil
}

// docxParagraphs 遍历 WordprocessingML：w:t 收集文本，w:p 结束为一个段落，
// 空段落丢弃
func docxParagraphs(doc []byte) ([]string, error) {
	dec := xml.NewDecoder(bytes.NewReader(doc))
	var paragraphs []string
	var cur strings.Builder
	inText := false

	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			if t.Name.Local == "t" {
				inText = true
			}
		case xml.EndElement:
			switch t.Name.Local {
			case "t":
				inText = false
			case "p":
				if s := strings.TrimSpace(cur.String()); s != "" {
					paragraphs = append(paragraphs, s)
				}
				cur.Reset()
			}
		case xml.CharData:
			if inText {
				cur.Write(t)
			}
		}
	}
	if s := strings.TrimSpace(cur.String()); s != "" {
		paragraphs = append(paragraphs, s)
	}
	return paragraphs, nil
}

func docxCoreProps(core []byte) (title, author string, err error) {
	dec := xml.NewDecoder(bytes.NewReader(core))
	field := ""
	for {
		tok, terr := dec.Token()
		if terr == io.EOF {
			break
		}
		if terr != nil {
			return "", "", terr
		}
		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "title", "creator":
				field = t.Name.Local
			}
		case xml.EndElement:
			field = ""
		case xml.CharData:
			switch field {
			case "title":
				title += string(t)
			case "creator":
				author += string(t)
			}
		}
	}
	return strings.TrimSpace(title), strings.TrimSpace(author), nil
}
