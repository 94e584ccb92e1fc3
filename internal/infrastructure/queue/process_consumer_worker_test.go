package queue

import (
	"testing"
	"time"

	"github.com/Acorn2/llama-doc-sub000/internal/application/service"

	"github.com/stretchr/testify/assert"
)

func TestComputeBackoff_DoublesPerAttemptUpToCap(t *testing.T) {
	assert.Equal(t, 60*time.Second, computeBackoff(0))
	assert.Equal(t, 120*time.Second, computeBackoff(1))
	assert.Equal(t, 240*time.Second, computeBackoff(2))
	assert.Equal(t, 480*time.Second, computeBackoff(3))
	assert.Equal(t, 10*time.Minute, computeBackoff(4))
	assert.Equal(t, 10*time.Minute, computeBackoff(100))
}

func TestComputeBackoff_NegativeAttemptUsesBaseDelay(t *testing.T) {
	assert.Equal(t, 60*time.Second, computeBackoff(-3))
}

func TestParseAttempt(t *testing.T) {
	assert.Equal(t, 0, parseAttempt(nil))
	assert.Equal(t, 0, parseAttempt(map[string]string{}))
	assert.Equal(t, 0, parseAttempt(map[string]string{service.HeaderAttempt: "garbage"}))
	assert.Equal(t, 0, parseAttempt(map[string]string{service.HeaderAttempt: "-2"}))
	assert.Equal(t, 3, parseAttempt(map[string]string{service.HeaderAttempt: " 3 "}))
}

func TestParseInt64(t *testing.T) {
	assert.EqualValues(t, 0, parseInt64(""))
	assert.EqualValues(t, 0, parseInt64("abc"))
	assert.EqualValues(t, 1735689600, parseInt64(" 1735689600 "))
}
