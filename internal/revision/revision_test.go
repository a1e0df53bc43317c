package revision

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCompare(t *testing.T) {
	assert.Equal(t, 0, Compare("5", "5"))
	assert.Equal(t, -1, Compare("4", "5"))
	assert.Equal(t, 1, Compare("5", "4"))
	assert.Equal(t, 0, Compare("", "0"))
}

func TestCompareBeyondInt64(t *testing.T) {
	big1 := "99999999999999999999999999999999"
	big2 := "99999999999999999999999999999998"
	assert.Equal(t, 1, Compare(big1, big2))
}

func TestAdd(t *testing.T) {
	assert.Equal(t, "6", Add("5", 1))
	assert.Equal(t, "4", Add("5", -1))
	assert.Equal(t, "1", Add("", 1))
}

func TestIsZero(t *testing.T) {
	assert.True(t, IsZero(""))
	assert.True(t, IsZero("0"))
	assert.False(t, IsZero("1"))
}

func TestMax(t *testing.T) {
	assert.Equal(t, "9", Max("9", "3"))
	assert.Equal(t, "9", Max("3", "9"))
	assert.Equal(t, "5", Max("5", "5"))
}
