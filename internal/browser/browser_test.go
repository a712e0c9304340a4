package browser

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDefaultOptions(t *testing.T) {
	opts := DefaultOptions()

	assert.True(t, opts.Headless, "headless by default")
	assert.Equal(t, 60*time.Second, opts.NavigationTimeout)
	assert.Equal(t, 30*time.Second, opts.Timeout)
	assert.Equal(t, 1920, opts.ViewportWidth)
	assert.Equal(t, 1080, opts.ViewportHeight)
}

func TestWrapPassesThroughPlainErrors(t *testing.T) {
	assert.NoError(t, wrap(nil))

	plain := fmt.Errorf("net::ERR_NAME_NOT_RESOLVED")
	assert.Equal(t, plain, wrap(plain))
	assert.False(t, errors.Is(wrap(plain), ErrTimeout))
}

func TestMillis(t *testing.T) {
	assert.Equal(t, float64(60000), millis(time.Minute))
	assert.Equal(t, float64(0), millis(0))
}
