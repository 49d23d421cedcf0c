package logger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetBeforeInitIsNop(t *testing.T) {
	if globalLogger != nil {
		t.Skip("logger already initialised")
	}
	assert.NotNil(t, Get())
	assert.NoError(t, Sync())
}

func TestInit(t *testing.T) {
	require.NoError(t, Init("debug", true))
	assert.NotNil(t, Get())
	assert.True(t, Get().Core().Enabled(-1))
	// later calls keep the first logger
	first := Get()
	require.NoError(t, Init("error", false))
	assert.Same(t, first, Get())
}
