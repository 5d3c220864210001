package util

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewULID(t *testing.T) {
	first := NewULID()
	second := NewULID()
	assert.Len(t, first, 26)
	assert.Equal(t, strings.ToLower(first), first)
	assert.Less(t, first, second)
}

func TestTabbedStringBuilder(t *testing.T) {
	tsb := NewTabbedStringBuilder(1, 1, 1, ' ', 0)
	tsb.Writef("id:\t%s\n", "a")
	tsb.Writef("runtime:\t%s\n", "2m0s")
	assert.Equal(t, "id:      a\nruntime: 2m0s\n", tsb.String())
}
