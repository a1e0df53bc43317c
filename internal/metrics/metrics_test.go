package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAllRegistersCleanlyOnAFreshRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	for _, c := range All() {
		require.NoError(t, reg.Register(c))
	}
	mfs, err := reg.Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, mfs)
}

func TestAllReturnsEverySevenCollectors(t *testing.T) {
	assert.Len(t, All(), 7)
}
