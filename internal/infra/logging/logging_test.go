package logging

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_Formats(t *testing.T) {
	for _, format := range []string{"json", "console", ""} {
		log, err := New("debug", format)
		require.NoError(t, err, format)
		assert.NotNil(t, log)
	}
}

func TestNew_InvalidLevel(t *testing.T) {
	_, err := New("loud", "json")
	assert.Error(t, err)
}
