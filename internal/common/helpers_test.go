package common

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsStringInSortedSlice(t *testing.T) {
	assert.True(t, IsStringInSortedSlice([]string{"bart", "homer", "lisa", "marge"}, "homer"))
	assert.False(t, IsStringInSortedSlice([]string{"bart", "lisa", "marge"}, "homer"))
	assert.False(t, IsStringInSortedSlice([]string{"bart", "lisa", "marge"}, ""))
	assert.False(t, IsStringInSortedSlice([]string{}, "homer"))
}

func TestParseByteSize(t *testing.T) {
	cases := []struct {
		input   string
		success bool
		output  uint64
	}{
		{"123", true, 123},
		{"123k", true, 123 * 1024},
		{"123K", true, 123 * 1024},
		{"123kb", true, 123 * 1024},
		{"123M", true, 123 * 1 << 20},
		{"123G", true, 123 * 1 << 30},
		{"123T", true, 123 * 1 << 40},
		{" 123  ", true, 123},
		{"  123M  ", true, 123 * 1 << 20},
		{"123P", false, 0},
		{"auto", false, 0},
		{"", false, 0},
	}

	for _, c := range cases {
		result, err := ParseByteSize(c.input)
		if c.success {
			require.NoError(t, err)
			assert.EqualValues(t, c.output, result)
		} else {
			assert.Error(t, err)
		}
	}
}

func TestUniqueStrings(t *testing.T) {
	assert.Equal(t, []string{"a", "b", "c"}, UniqueStrings([]string{"a", "b", "a", "c", "b"}))
	assert.Equal(t, []string{}, UniqueStrings([]string{}))
}
