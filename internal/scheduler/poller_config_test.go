package scheduler

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNewDocumentPoller_ConfigDefaults(t *testing.T) {
	p := NewDocumentPoller(nil, nil, DocumentPollerConfig{})

	assert.Equal(t, 2*time.Second, p.interval)
	assert.Equal(t, 5, p.pendingBatch)
	assert.Equal(t, 3, p.retryBatch)
	assert.Equal(t, 5*time.Minute, p.cooldown)
}

func TestNewVectorSyncPoller_ConfigDefaults(t *testing.T) {
	p := NewVectorSyncPoller(nil, nil, VectorSyncPollerConfig{})

	assert.Equal(t, 2*time.Second, p.interval)
	assert.Equal(t, 10, p.pendingBatch)
	assert.Equal(t, 5, p.retryBatch)
	assert.Equal(t, 5*time.Minute, p.cooldown)
}

func TestDocumentPoller_StopIsIdempotent(t *testing.T) {
	p := NewDocumentPoller(nil, nil, DocumentPollerConfig{Interval: time.Hour})
	assert.False(t, p.Running())
	assert.EqualValues(t, 0, p.InFlight())

	p.Start()
	assert.True(t, p.Running())

	p.Stop(time.Second)
	p.Stop(time.Second) // 第二次不应 panic
	assert.False(t, p.Running())
}
