package idgen

import (
	"regexp"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateMovementNo_Unique(t *testing.T) {
	seen := make(map[string]struct{}, 5000)
	for i := 0; i < 5000; i++ {
		no := GenerateMovementNo()
		require.True(t, strings.HasPrefix(no, "MOV"))
		_, dup := seen[no]
		require.False(t, dup, "duplicate movement number %s", no)
		seen[no] = struct{}{}
	}
}

func TestNextID_Increasing(t *testing.T) {
	prev := NextID()
	for i := 0; i < 1000; i++ {
		id := NextID()
		assert.Greater(t, id.Int64(), prev.Int64())
		prev = id
	}
}

func TestGenerateCardKey_Format(t *testing.T) {
	pattern := regexp.MustCompile(`^\d{4}-\d{4}-\d{4}-\d{4}$`)
	for i := 0; i < 200; i++ {
		key, err := GenerateCardKey()
		require.NoError(t, err)
		assert.Regexp(t, pattern, key)
	}
}
