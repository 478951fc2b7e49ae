package featureflag

type Flag string

const (
	// FlagNoPrune locks rebuilt trees without compacting redundant
	// subtrees.
	FlagNoPrune Flag = "NO_PRUNE"

	// FlagPaddedRegions inserts every region with the quarter tile inset,
	// whether or not the request asked for it.
	FlagPaddedRegions Flag = "PADDED_REGIONS"

	// FlagStrictMessages disconnects clients that send a message type no
	// handler or module serves.
	FlagStrictMessages Flag = "STRICT_MESSAGES"

	FlagDisableSceneReplay           Flag = "DISABLE_SCENE_REPLAY"
	FlagDisableViewerJoinBroadcast   Flag = "DISABLE_VIEWER_JOIN_BROADCAST"
	FlagDisableViewerLeaveBroadcast  Flag = "DISABLE_VIEWER_LEAVE_BROADCAST"
	FlagDisableRegionAddBroadcast    Flag = "DISABLE_REGION_ADD_BROADCAST"
	FlagDisableRegionUpdateBroadcast Flag = "DISABLE_REGION_UPDATE_BROADCAST"
	FlagDisableRegionRemoveBroadcast Flag = "DISABLE_REGION_REMOVE_BROADCAST"
	FlagDisableRegionMoveBroadcast   Flag = "DISABLE_REGION_MOVE_BROADCAST"
	FlagDisableRebuildBroadcast      Flag = "DISABLE_REBUILD_BROADCAST"
)
