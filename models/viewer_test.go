package models

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestViewerRegions(t *testing.T) {
	viewer := &Viewer{ID: 1}
	require.Empty(t, viewer.RegionIDs())

	a := &Region{ID: 11}
	b := &Region{ID: 12}
	viewer.AddRegion(a)
	viewer.AddRegion(b)

	ids := viewer.RegionIDs()
	require.Len(t, ids, 2)
	require.Contains(t, ids, uint32(11))
	require.Contains(t, ids, uint32(12))

	viewer.RemoveRegion(a)
	require.Len(t, viewer.RegionIDs(), 1)
	require.NotContains(t, viewer.RegionIDs(), uint32(11))
}
