package kv

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPrefixRangeEnd(t *testing.T) {
	assert.Equal(t, []byte("b"), PrefixRangeEnd([]byte("a")))
	assert.Equal(t, []byte{0x00}, PrefixRangeEnd(nil))
	assert.Equal(t, []byte{0x00}, PrefixRangeEnd([]byte{0xff, 0xff}))
	assert.Equal(t, []byte{'a', 0x01}, PrefixRangeEnd([]byte{'a', 0x00}))
}
