package fileutil

import (
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSanitizeFilename(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain", "Orders", "Orders"},
		{"spaces", "Monthly Revenue Report", "Monthly_Revenue_Report"},
		{"punctuation", "Q1/Q2: Sales & Ops?", "Q1_Q2_Sales_Ops"},
		{"unicode", "Ümsätze 2024", "ms_tze_2024"},
		{"leading trailing", "..hidden..", "hidden"},
		{"empty", "", "untitled"},
		{"only punctuation", "///", "untitled"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, SanitizeFilename(tt.in))
		})
	}
}

func TestSanitizeFilenameLengthBound(t *testing.T) {
	long := strings.Repeat("a", 500)
	got := SanitizeFilename(long)
	assert.LessOrEqual(t, len(got), 100)
	assert.NotEmpty(t, got)
}

func TestWriteJSONFileChecksumRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "card_1_test.json")

	payload := map[string]interface{}{"id": 1, "name": "Test Card"}
	require.NoError(t, WriteJSONFile(path, payload))

	sum, err := ChecksumFile(path)
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	raw := sha256.Sum256(data)
	assert.Equal(t, hex.EncodeToString(raw[:]), sum)

	got, err := ReadJSONMap(path)
	require.NoError(t, err)
	assert.Equal(t, "Test Card", got["name"])
}

func TestReadJSONFileMissing(t *testing.T) {
	var v map[string]interface{}
	err := ReadJSONFile(filepath.Join(t.TempDir(), "absent.json"), &v)
	assert.True(t, os.IsNotExist(err))
}
