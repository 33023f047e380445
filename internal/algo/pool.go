package algo

import (
	"sync"

	"github.com/alanyoungcy/execengine/internal/domain"
)

// Slices churn constantly under sustained order volume, so they are pooled.
// Pool exhaustion falls back to fresh allocation; nothing ever blocks on the
// pool.

var slicePool = sync.Pool{
	New: func() any { return &domain.Slice{} },
}

// getSlice returns a zeroed slice from the pool.
func getSlice() *domain.Slice {
	sl := slicePool.Get().(*domain.Slice)
	sl.Reset()
	return sl
}

// putSlice returns a slice to the pool once nothing references it anymore.
func putSlice(sl *domain.Slice) {
	if sl == nil {
		return
	}
	slicePool.Put(sl)
}
