package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseParams(t *testing.T) {
	params, err := parseParams([]string{"level=3", "mode=hard"})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"level": "3", "mode": "hard"}, params)
}

func TestParseParams_Empty(t *testing.T) {
	params, err := parseParams(nil)
	require.NoError(t, err)
	assert.Nil(t, params)
}

func TestParseParams_RejectsMissingEquals(t *testing.T) {
	_, err := parseParams([]string{"bad"})
	assert.Error(t, err)
}
