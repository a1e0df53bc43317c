package election

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEmitChangeDedupsIdenticalValue(t *testing.T) {
	o := &Observer{}
	var changes [][]byte
	o.handler = ObserverHandler{OnChange: func(value []byte, present bool) {
		changes = append(changes, value)
	}}

	o.emitChange([]byte("leader-1"), true)
	o.emitChange([]byte("leader-1"), true)
	o.emitChange([]byte("leader-2"), true)
	o.emitChange(nil, false)

	assert.Len(t, changes, 3)
	assert.Equal(t, []byte("leader-1"), changes[0])
	assert.Equal(t, []byte("leader-2"), changes[1])
	assert.Nil(t, changes[2])
}

func TestLeaderReflectsLastEmittedValue(t *testing.T) {
	o := &Observer{}
	o.emitChange([]byte("leader-1"), true)
	value, ok := o.Leader()
	assert.True(t, ok)
	assert.Equal(t, []byte("leader-1"), value)
}
