package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultsAndEnvPrecedence(t *testing.T) {
	t.Setenv("MBMOVE_LOG_LEVEL", "debug")
	require.NoError(t, Initialize())

	assert.Equal(t, "debug", GetString("log-level"))
	assert.Equal(t, "./metabase_export", GetString("export-dir"))
	assert.Equal(t, "skip", GetString("conflict-strategy"))
	assert.False(t, GetBool("include-archived"))
	assert.Empty(t, GetIntSlice("root-collection-ids"))
}

func TestSetOverrides(t *testing.T) {
	require.NoError(t, Initialize())

	Set("include-archived", true)
	Set("root-collection-ids", []int{3, 9})

	assert.True(t, GetBool("include-archived"))
	assert.Equal(t, []int{3, 9}, GetIntSlice("root-collection-ids"))
}
