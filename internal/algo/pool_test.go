package algo

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/alanyoungcy/execengine/internal/domain"
)

func TestSlicePoolResetsReusedSlices(t *testing.T) {
	sl := getSlice()
	sl.ClientID = "dirty"
	sl.TargetQty = 42
	sl.Status = domain.SliceExecuting
	sl.Fills = append(sl.Fills, domain.Fill{Quantity: 42})
	putSlice(sl)

	got := getSlice()
	assert.Empty(t, got.ClientID)
	assert.Zero(t, got.TargetQty)
	assert.Empty(t, got.Status)
	assert.Empty(t, got.Fills)
	putSlice(got)

	putSlice(nil) // tolerated
}
