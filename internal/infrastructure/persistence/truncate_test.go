package persistence

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
)

func TestTruncateErr(t *testing.T) {
	assert.Equal(t, "short", truncateErr("  short  "))

	long := truncateErr(strings.Repeat("a", 300))
	assert.Len(t, long, maxErrMsgBytes)
}

func TestTruncateErr_KeepsRuneBoundary(t *testing.T) {
	// "错" 3 字节;加一个前导字节让 255 落在字符中间
	msg := "x" + strings.Repeat("错", 100)
	got := truncateErr(msg)

	assert.True(t, utf8.ValidString(got))
	assert.Len(t, got, 253)
	assert.True(t, strings.HasSuffix(got, "错"))
}
