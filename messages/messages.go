// Package messages defines the tilemesh wire protocol: the message type
// registry, the typed JSON messages exchanged over a realtime connection and
// the framing primitives used to move them across a websocket.
//
// Every message is a single JSON object carrying at least a type and a
// timestamp. Requests and responses also carry a request id chosen by the
// client so responses can be correlated.
package messages

import (
	"time"
)

// MsgType identifies a wire message.
type MsgType int32

const (
	MsgTypeNone MsgType = iota
	MsgTypeError
	MsgTypePingRequest
	MsgTypePingResponse
	MsgTypeSceneJoinRequest
	MsgTypeSceneJoinResponse
	MsgTypeViewerJoinBroadcast
	MsgTypeViewerLeaveBroadcast
	MsgTypeRegionAddRequest
	MsgTypeRegionAddResponse
	MsgTypeRegionAddBroadcast
	MsgTypeRegionUpdateRequest
	MsgTypeRegionUpdateResponse
	MsgTypeRegionUpdateBroadcast
	MsgTypeRegionRemoveRequest
	MsgTypeRegionRemoveResponse
	MsgTypeRegionRemoveBroadcast
	MsgTypeRegionMove
	MsgTypeRegionMoveBroadcast
	MsgTypeSceneRebuiltBroadcast
	MsgTypeLODSelectRequest
	MsgTypeLODSelectResponse
	MsgTypeHeightQueryRequest
	MsgTypeHeightQueryResponse
	MsgTypeBoundsQueryRequest
	MsgTypeBoundsQueryResponse
	MsgTypeSyncClock
)

func (t MsgType) String() string {
	switch t {
	case MsgTypeError:
		return "error"
	case MsgTypePingRequest:
		return "ping_request"
	case MsgTypePingResponse:
		return "ping_response"
	case MsgTypeSceneJoinRequest:
		return "scene_join_request"
	case MsgTypeSceneJoinResponse:
		return "scene_join_response"
	case MsgTypeViewerJoinBroadcast:
		return "viewer_join_broadcast"
	case MsgTypeViewerLeaveBroadcast:
		return "viewer_leave_broadcast"
	case MsgTypeRegionAddRequest:
		return "region_add_request"
	case MsgTypeRegionAddResponse:
		return "region_add_response"
	case MsgTypeRegionAddBroadcast:
		return "region_add_broadcast"
	case MsgTypeRegionUpdateRequest:
		return "region_update_request"
	case MsgTypeRegionUpdateResponse:
		return "region_update_response"
	case MsgTypeRegionUpdateBroadcast:
		return "region_update_broadcast"
	case MsgTypeRegionRemoveRequest:
		return "region_remove_request"
	case MsgTypeRegionRemoveResponse:
		return "region_remove_response"
	case MsgTypeRegionRemoveBroadcast:
		return "region_remove_broadcast"
	case MsgTypeRegionMove:
		return "region_move"
	case MsgTypeRegionMoveBroadcast:
		return "region_move_broadcast"
	case MsgTypeSceneRebuiltBroadcast:
		return "scene_rebuilt_broadcast"
	case MsgTypeLODSelectRequest:
		return "lod_select_request"
	case MsgTypeLODSelectResponse:
		return "lod_select_response"
	case MsgTypeHeightQueryRequest:
		return "height_query_request"
	case MsgTypeHeightQueryResponse:
		return "height_query_response"
	case MsgTypeBoundsQueryRequest:
		return "bounds_query_request"
	case MsgTypeBoundsQueryResponse:
		return "bounds_query_response"
	case MsgTypeSyncClock:
		return "sync_clock"
	default:
		return "unknown"
	}
}

// ErrorCode qualifies an Error response.
type ErrorCode int32

const (
	ErrorCodeUnknown ErrorCode = iota
	ErrorCodeBadRequest
	ErrorCodeUnauthorized
	ErrorCodeNotFound
	ErrorCodeSceneAlreadyJoined
	ErrorCodeSceneNotJoined
	ErrorCodeSceneNotReady
	ErrorCodeTooManyRegions
	ErrorCodeInternalServerError
	ErrorCodeServerTooBusy
)

// Payload is implemented by every typed wire message.
type Payload interface {
	MsgType() MsgType
}

// Header is the common prefix of every wire message.
type Header struct {
	Type      MsgType   `json:"type"`
	Timestamp time.Time `json:"timestamp"`
}

// MsgType returns the message type so typed messages embedding a header
// satisfy Payload.
func (h Header) MsgType() MsgType {
	return h.Type
}

// NewHeader returns a header of the given type stamped with the current time.
func NewHeader(t MsgType) Header {
	return Header{Type: t, Timestamp: time.Now().UTC()}
}

// RequestHeader is the common prefix of request and response messages.
type RequestHeader struct {
	Header
	RequestID uint32 `json:"request_id"`
}

// NewRequestHeader returns a request header of the given type, stamped with
// the current time and tagged with the given request id.
func NewRequestHeader(t MsgType, requestID uint32) RequestHeader {
	return RequestHeader{Header: NewHeader(t), RequestID: requestID}
}

// Request is a bare request that carries no payload besides its header, such
// as a ping.
type Request struct {
	RequestHeader
}

// Response is a bare response that carries no payload besides its header,
// such as a pong.
type Response struct {
	RequestHeader
}

// ErrorResponse reports a request that could not be served.
type ErrorResponse struct {
	RequestHeader
	Code ErrorCode `json:"code"`
}

// Vec2 is a 2D vector on the wire.
type Vec2 struct {
	X float32 `json:"x"`
	Y float32 `json:"y"`
}

// Vec3 is a 3D vector on the wire.
type Vec3 struct {
	X float32 `json:"x"`
	Y float32 `json:"y"`
	Z float32 `json:"z"`
}

// Box is an axis-aligned box on the wire.
type Box struct {
	Min Vec3 `json:"min"`
	Max Vec3 `json:"max"`
}

// Plane is a frustum plane on the wire. Normal points toward the inside of
// the frustum, Distance is the plane constant.
type Plane struct {
	Normal   Vec3    `json:"normal"`
	Distance float32 `json:"distance"`
}

// Region describes a mesh build input.
type Region struct {
	ID         uint32  `json:"id"`
	ViewerID   uint32  `json:"viewer_id"`
	Bounds     Box     `json:"bounds"`
	Material   string  `json:"material,omitempty"`
	BaseHeight float32 `json:"base_height,omitempty"`
	Priority   int32   `json:"priority,omitempty"`
	Padded     bool    `json:"padded,omitempty"`
	Selected   bool    `json:"selected,omitempty"`
	Persist    bool    `json:"persist,omitempty"`
}

// SceneJoinRequest asks to join the scene identified by SceneID. An empty
// SceneID creates a new scene shaped by the tile size, extent and origin
// fields, falling back to the server defaults when they are zero.
type SceneJoinRequest struct {
	RequestHeader
	SceneID  string  `json:"scene_id,omitempty"`
	TileSize float32 `json:"tile_size,omitempty"`
	ExtentX  int32   `json:"extent_x,omitempty"`
	ExtentY  int32   `json:"extent_y,omitempty"`
	OriginX  float32 `json:"origin_x,omitempty"`
	OriginY  float32 `json:"origin_y,omitempty"`
}

// SceneJoinResponse confirms a join and reports the joined scene shape.
type SceneJoinResponse struct {
	RequestHeader
	SceneID      string  `json:"scene_id"`
	SceneUUID    string  `json:"scene_uuid"`
	ViewerID     uint32  `json:"viewer_id"`
	TileSize     float32 `json:"tile_size"`
	ExtentX      int32   `json:"extent_x"`
	ExtentY      int32   `json:"extent_y"`
	TreeRevision uint64  `json:"tree_revision"`
}

// ViewerJoinBroadcast tells other scene members that a viewer joined.
type ViewerJoinBroadcast struct {
	Header
	OriginTimestamp time.Time `json:"origin_timestamp"`
	ViewerID        uint32    `json:"viewer_id"`
}

// ViewerLeaveBroadcast tells other scene members that a viewer left.
type ViewerLeaveBroadcast struct {
	Header
	OriginTimestamp time.Time `json:"origin_timestamp"`
	ViewerID        uint32    `json:"viewer_id"`
}

// RegionAddRequest adds a region to the joined scene.
type RegionAddRequest struct {
	RequestHeader
	Bounds     Box     `json:"bounds"`
	Material   string  `json:"material,omitempty"`
	BaseHeight float32 `json:"base_height,omitempty"`
	Priority   int32   `json:"priority,omitempty"`
	Padded     bool    `json:"padded,omitempty"`
	Persist    bool    `json:"persist,omitempty"`
}

// RegionAddResponse reports the id assigned to an added region.
type RegionAddResponse struct {
	RequestHeader
	RegionID uint32 `json:"region_id"`
}

// RegionAddBroadcast tells other scene members that a region was added. It is
// also replayed to a joining viewer for every region already in the scene.
type RegionAddBroadcast struct {
	Header
	OriginTimestamp time.Time `json:"origin_timestamp"`
	Region          Region    `json:"region"`
}

// RegionUpdateRequest rewrites the styling of a region owned by the
// requesting viewer. The material is fixed at add time.
type RegionUpdateRequest struct {
	RequestHeader
	RegionID   uint32  `json:"region_id"`
	BaseHeight float32 `json:"base_height,omitempty"`
	Priority   int32   `json:"priority,omitempty"`
	Selected   bool    `json:"selected,omitempty"`
}

// RegionUpdateResponse confirms a region update.
type RegionUpdateResponse struct {
	RequestHeader
}

// RegionUpdateBroadcast tells other scene members that a region changed.
type RegionUpdateBroadcast struct {
	Header
	OriginTimestamp time.Time `json:"origin_timestamp"`
	Region          Region    `json:"region"`
}

// RegionRemoveRequest removes a region owned by the requesting viewer.
type RegionRemoveRequest struct {
	RequestHeader
	RegionID uint32 `json:"region_id"`
}

// RegionRemoveResponse confirms a region removal.
type RegionRemoveResponse struct {
	RequestHeader
}

// RegionRemoveBroadcast tells other scene members that a region was removed.
type RegionRemoveBroadcast struct {
	Header
	OriginTimestamp time.Time `json:"origin_timestamp"`
	RegionID        uint32    `json:"region_id"`
}

// RegionMove repositions a region. It is fire and forget: moves are queued by
// the connection scheduler and applied at the next frame, keeping only the
// last move per region.
type RegionMove struct {
	Header
	RegionID uint32 `json:"region_id"`
	Bounds   Box    `json:"bounds"`
}

// RegionMoveBroadcast tells other scene members that a region moved.
type RegionMoveBroadcast struct {
	Header
	RegionID uint32 `json:"region_id"`
	Bounds   Box    `json:"bounds"`
}

// SceneRebuiltBroadcast announces that the scene quadtree was rebuilt and
// carries the shape of the new snapshot.
type SceneRebuiltBroadcast struct {
	Header
	TreeRevision  uint64        `json:"tree_revision"`
	NodeCount     int32         `json:"node_count"`
	TreeDepth     int32         `json:"tree_depth"`
	MaterialCount int32         `json:"material_count"`
	RegionCount   int32         `json:"region_count"`
	BuildDuration time.Duration `json:"build_duration"`
}

// LODSelectRequest runs a LOD selection against the latest scene snapshot.
type LODSelectRequest struct {
	RequestHeader
	Observer                  Vec3    `json:"observer"`
	LODScale                  float32 `json:"lod_scale"`
	DensityCount              int32   `json:"density_count"`
	LowestLOD                 int32   `json:"lowest_lod"`
	ForceCollapseDensityLevel int32   `json:"force_collapse_density_level,omitempty"`
	MorphingEnabled           bool    `json:"morphing_enabled,omitempty"`
	HeightMorph               float32 `json:"height_morph,omitempty"`
	PreViewTranslation        Vec3    `json:"pre_view_translation"`
	FrustumPlanes             []Plane `json:"frustum_planes,omitempty"`
	ClipBounds                *Box    `json:"clip_bounds,omitempty"`
}

// Instance is one renderable tile emitted by a LOD selection. PackedLOD keeps
// the level in the low byte and the morph bits at 8 and 9, matching what tile
// renderers feed to their vertex shaders.
type Instance struct {
	RegionID    uint32  `json:"region_id"`
	Center      Vec3    `json:"center"`
	Scale       Vec2    `json:"scale"`
	BucketIndex int32   `json:"bucket_index"`
	PackedLOD   uint32  `json:"packed_lod"`
	HeightMorph float32 `json:"height_morph,omitempty"`
	HitColor    Vec3    `json:"hit_color"`
	Selected    bool    `json:"selected,omitempty"`
}

// LODSelectResponse carries the selection result. BucketCounts has one entry
// per material and density pair, Materials maps material indices back to
// material keys.
type LODSelectResponse struct {
	RequestHeader
	TreeRevision uint64     `json:"tree_revision"`
	Instances    []Instance `json:"instances"`
	BucketCounts []int32    `json:"bucket_counts"`
	Materials    []string   `json:"materials,omitempty"`
}

// HeightQueryRequest asks for the mesh height under a world position.
type HeightQueryRequest struct {
	RequestHeader
	X            float32 `json:"x"`
	Y            float32 `json:"y"`
	Interpolated bool    `json:"interpolated,omitempty"`
}

// HeightQueryResponse reports a height probe result.
type HeightQueryResponse struct {
	RequestHeader
	Height       float32 `json:"height"`
	Found        bool    `json:"found"`
	TreeRevision uint64  `json:"tree_revision"`
}

// BoundsQueryRequest asks for the tightest tree node bounds under a world
// position.
type BoundsQueryRequest struct {
	RequestHeader
	X float32 `json:"x"`
	Y float32 `json:"y"`
}

// BoundsQueryResponse reports a bounds probe result.
type BoundsQueryResponse struct {
	RequestHeader
	Bounds       Box    `json:"bounds"`
	Found        bool   `json:"found"`
	TreeRevision uint64 `json:"tree_revision"`
}

// SyncClock carries the server clock so clients can correct drift.
type SyncClock struct {
	Header
}
