package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseByteSize(t *testing.T) {
	tests := []struct {
		input    string
		expected int64
	}{
		{"1024", 1024},
		{"1KB", 1024},
		{"1kib", 1024},
		{"10MB", 10 * 1024 * 1024},
		{"1.5 GB", int64(1.5 * 1024 * 1024 * 1024)},
		{"2T", 2 * 1024 * 1024 * 1024 * 1024},
		{"0", 0},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseByteSize(tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, got.Bytes())
		})
	}
}

func TestParseByteSize_Invalid(t *testing.T) {
	for _, input := range []string{"", "abc", "10XB", "-5MB"} {
		t.Run(input, func(t *testing.T) {
			_, err := ParseByteSize(input)
			assert.Error(t, err)
		})
	}
}

func TestByteSizeString(t *testing.T) {
	tests := []struct {
		size     ByteSize
		expected string
	}{
		{0, "0B"},
		{512, "512B"},
		{1024, "1KB"},
		{10 * Mebibyte, "10MB"},
		{1536 * Mebibyte, "1.5GB"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.expected, tt.size.String())
	}
}

func TestByteSizeUnmarshalJSON(t *testing.T) {
	var b ByteSize

	require.NoError(t, b.UnmarshalJSON([]byte(`"10MB"`)))
	assert.Equal(t, int64(10*1024*1024), b.Bytes())

	require.NoError(t, b.UnmarshalJSON([]byte(`5242880`)))
	assert.Equal(t, int64(5242880), b.Bytes())

	assert.Error(t, b.UnmarshalJSON([]byte(`true`)))
}
