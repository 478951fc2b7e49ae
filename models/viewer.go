package models

import (
	"github.com/tilemesh/tilemesh/messages"
)

// A scene viewer.
type Viewer struct {
	ID        uint32
	Responder messages.ResponseSender

	regionIDs map[uint32]struct{}
}

func (v *Viewer) AddRegion(r *Region) {
	if v.regionIDs == nil {
		v.regionIDs = make(map[uint32]struct{})
	}
	v.regionIDs[r.ID] = struct{}{}
}

func (v *Viewer) RemoveRegion(r *Region) {
	delete(v.regionIDs, r.ID)
}

func (v *Viewer) RegionIDs() map[uint32]struct{} {
	return v.regionIDs
}
