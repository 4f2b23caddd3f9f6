package fetch

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNewRetryClient(t *testing.T) {
	c := NewRetryClient(4)
	assert.Equal(t, 4, c.RetryMax)
	assert.Equal(t, 500*time.Millisecond, c.RetryWaitMin)
	assert.Equal(t, 3*time.Second, c.RetryWaitMax)
	assert.Nil(t, c.Logger)

	std := StandardClient(c)
	assert.NotNil(t, std.Transport)
}
