package socketcan

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/taoyao-code/rovercan/internal/canbus"
	"github.com/taoyao-code/rovercan/internal/protocol/address"
)

func TestNodeFilter(t *testing.T) {
	filters := NodeFilter(5)
	accepts := func(id uint32) bool {
		f := canbus.Frame{ID: id}
		for _, flt := range filters {
			if f.Matches(flt.ID, flt.Mask) {
				return true
			}
		}
		return false
	}

	assert.True(t, accepts(address.Pack(5, 0)), "addressed to node")
	assert.True(t, accepts(address.Pack(address.Broadcast, 9)), "broadcast")
	assert.False(t, accepts(address.Pack(6, 0)), "other node")
	assert.False(t, accepts(address.Pack(0, 5)), "own reply direction")
}
