package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRequestStatusTerminal(t *testing.T) {
	assert.False(t, RequestPending.Terminal())
	assert.False(t, RequestProcessing.Terminal())
	assert.True(t, RequestCompleted.Terminal())
	assert.True(t, RequestPartiallyCompleted.Terminal())
	assert.True(t, RequestFailed.Terminal())
}

func TestProductInputURLs(t *testing.T) {
	p := Product{InputImageURLs: " https://x/a.jpg, https://x/b.jpg ,,https://x/c.jpg"}
	assert.Equal(t,
		[]string{"https://x/a.jpg", "https://x/b.jpg", "", "https://x/c.jpg"},
		p.InputURLs())
}

func TestProgress(t *testing.T) {
	assert.Zero(t, ProductCounts{}.Progress())
	assert.InDelta(t, 50.0, ProductCounts{Total: 4, Completed: 2}.Progress(), 0.001)
	assert.InDelta(t, 100.0, ProductCounts{Total: 3, Completed: 3}.Progress(), 0.001)
}
