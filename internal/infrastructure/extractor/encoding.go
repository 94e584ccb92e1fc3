package extractor

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/simplifiedchinese"
)

// 编码回退链。上传文件名与内容均不可信，按序尝试，取第一个能无损
// 解码的编码。链末不放 latin-1 之类“永不失败”的编码，否则解码失败
// 这一错误分支永远不可达。
var encodingChain = []struct {
	name string
	enc  encoding.Encoding
}{
	{"utf-8", nil},
	{"gbk", simplifiedchinese.GBK},
	{"gb18030", simplifiedchinese.GB18030},
}

// decodeText 返回解码结果与实际使用的编码名
func decodeText(data []byte) (string, string, error) {
	for _, cand := range encodingChain {
		if cand.enc == nil {
			if utf8.Valid(data) {
				return string(data), cand.name, nil
			}
			continue
		}
		out, err := cand.enc.NewDecoder().Bytes(data)
		if err != nil {
			continue
		}
		// x/text 解码器对非法字节序列会替换为 U+FFFD 而不报错，
		// 出现替换符视为该编码不匹配
		if strings.ContainsRune(string(out), utf8.RuneError) {
			continue
		}
		return string(out), cand.name, nil
	}

	names := make([]string, 0, len(encodingChain))
	for _, cand := range encodingChain {
		names = append(names, cand.name)
	}
	return "", "", fmt.Errorf("unable to decode text content, tried encodings: %s", strings.Join(names, ", "))
}
