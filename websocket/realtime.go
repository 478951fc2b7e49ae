package websocket

import (
	"context"
	"time"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/aukilabs/go-tooling/pkg/logs"
	"github.com/tilemesh/tilemesh/featureflag"
	httpcmn "github.com/tilemesh/tilemesh/http"
	"github.com/tilemesh/tilemesh/messages"
	"github.com/tilemesh/tilemesh/models"
	"github.com/tilemesh/tilemesh/modules"
	"github.com/tilemesh/tilemesh/quadtree"
	"github.com/tilemesh/tilemesh/telemetry"
	"golang.org/x/net/websocket"
)

const (
	maxRegionsPerScene = 4096
	maxSceneExtent     = 1024
)

// RealtimeHandler represents a service that manages multiple client
// connections and relays their scene edits in realtime.
type RealtimeHandler struct {
	// The interval between each sync clock message sent to the connected
	// client.
	ClientSyncClockInterval time.Duration

	// The time a client is idle before being disconnected.
	ClientIdleTimeout time.Duration

	// The duration of a frame.
	FrameDuration time.Duration

	// The store that contains all the server scenes.
	Scenes *models.SceneStore

	// The modules that expand tilemesh features.
	Modules []modules.Module

	FeatureFlags featureflag.FeatureFlag

	// DefaultTileSize sizes the mesh tiles when a join request does not.
	DefaultTileSize float32

	// DefaultExtent sizes the mesh when a join request does not.
	DefaultExtent quadtree.Extent

	// channel for sending selection stats to the telemetry forwarder
	StatsChan chan telemetry.SelectionStats

	conn          *websocket.Conn
	currentScene  *models.Scene
	currentViewer *models.Viewer

	stopFrameHandling func()

	clientID string
	appKey   string
}

func (h *RealtimeHandler) HandleConnect(conn *websocket.Conn) {
	req := conn.Request()
	h.clientID = httpcmn.GetClientIDFromHTTPRequest(req)
	h.appKey = httpcmn.GetAppKeyFromHTTPRequest(req)

	h.conn = conn
}

func (h *RealtimeHandler) HandlePing(ctx context.Context, respond messages.ResponseSender, msg messages.Msg) error {
	var req messages.Request
	if err := msg.DataTo(&req); err != nil {
		return err
	}

	respond.Send(&messages.Response{
		RequestHeader: messages.NewRequestHeader(messages.MsgTypePingResponse, req.RequestID),
	})
	return nil
}

func (h *RealtimeHandler) HandleSceneJoin(ctx context.Context, handleFrame func(), respond messages.ResponseSender, msg messages.Msg) error {
	var req messages.SceneJoinRequest
	if err := msg.DataTo(&req); err != nil {
		return err
	}

	if h.currentScene != nil && h.Scenes.GlobalSceneID(h.currentScene.ID) == req.SceneID {
		respond.Send(&messages.ErrorResponse{
			RequestHeader: messages.NewRequestHeader(messages.MsgTypeError, req.RequestID),
			Code:          messages.ErrorCodeSceneAlreadyJoined,
		})
		return nil
	}

	if h.currentViewer != nil {
		h.leaveScene()
	}

	scene, ok := h.Scenes.GetByGlobalID(req.SceneID)
	if !ok && req.SceneID != "" {
		respond.Send(&messages.ErrorResponse{
			RequestHeader: messages.NewRequestHeader(messages.MsgTypeError, req.RequestID),
			Code:          messages.ErrorCodeNotFound,
		})
		return nil
	}

	if !ok {
		opts, err := h.newSceneOptions(req)
		if err != nil {
			respond.Send(&messages.ErrorResponse{
				RequestHeader: messages.NewRequestHeader(messages.MsgTypeError, req.RequestID),
				Code:          messages.ErrorCodeBadRequest,
			})
			return nil
		}

		scene = models.NewScene(h.Scenes.NewID(), h.FrameDuration, opts)
		scene.AppKey = h.appKey
		if err := h.Scenes.Add(ctx, scene); err != nil {
			respond.Send(&messages.ErrorResponse{
				RequestHeader: messages.NewRequestHeader(messages.MsgTypeError, req.RequestID),
				Code:          messages.ErrorCodeInternalServerError,
			})
			return nil
		}
		go scene.StartDispatchFrames()
	}

	viewer := &models.Viewer{
		ID:        scene.NewViewerID(),
		Responder: respond,
	}

	scene.AddViewer(viewer)
	h.stopFrameHandling = scene.HandleFrame(handleFrame)

	var treeRevision uint64
	if snapshot, ok := scene.TreeSnapshot(); ok {
		treeRevision = snapshot.Revision
	}

	respond.Send(&messages.SceneJoinResponse{
		RequestHeader: messages.NewRequestHeader(messages.MsgTypeSceneJoinResponse, req.RequestID),
		SceneID:       h.Scenes.GlobalSceneID(scene.ID),
		SceneUUID:     scene.SceneUUID,
		ViewerID:      viewer.ID,
		TileSize:      scene.TileSize,
		ExtentX:       scene.Extent.X,
		ExtentY:       scene.Extent.Y,
		TreeRevision:  treeRevision,
	})

	h.currentScene = scene
	h.currentViewer = viewer

	h.FeatureFlags.IfNotSet(featureflag.FlagDisableSceneReplay, func() {
		for _, region := range scene.Regions() {
			respond.Send(&messages.RegionAddBroadcast{
				Header:          messages.NewHeader(messages.MsgTypeRegionAddBroadcast),
				OriginTimestamp: req.Timestamp,
				Region:          region.ToPayload(),
			})
		}

		if snapshot, ok := scene.TreeSnapshot(); ok {
			respond.Send(&messages.SceneRebuiltBroadcast{
				Header:        messages.NewHeader(messages.MsgTypeSceneRebuiltBroadcast),
				TreeRevision:  snapshot.Revision,
				NodeCount:     int32(snapshot.Tree.NodeCount()),
				TreeDepth:     snapshot.Tree.TreeDepth(),
				MaterialCount: snapshot.Tree.MaterialCount(),
				RegionCount:   int32(scene.RegionCount()),
			})
		}
	})

	h.FeatureFlags.IfNotSet(featureflag.FlagDisableViewerJoinBroadcast, func() {
		scene.Broadcast(viewer, &messages.ViewerJoinBroadcast{
			Header:          messages.NewHeader(messages.MsgTypeViewerJoinBroadcast),
			OriginTimestamp: req.Timestamp,
			ViewerID:        viewer.ID,
		})
	})

	for _, m := range h.Modules {
		m.Init(scene, viewer)
	}

	return nil
}

func (h *RealtimeHandler) newSceneOptions(req messages.SceneJoinRequest) (models.SceneOptions, error) {
	tileSize := req.TileSize
	if tileSize == 0 {
		tileSize = h.DefaultTileSize
	}

	extent := quadtree.Extent{X: req.ExtentX, Y: req.ExtentY}
	if extent.X == 0 {
		extent.X = h.DefaultExtent.X
	}
	if extent.Y == 0 {
		extent.Y = h.DefaultExtent.Y
	}

	if tileSize <= 0 ||
		extent.X <= 0 || extent.X > maxSceneExtent ||
		extent.Y <= 0 || extent.Y > maxSceneExtent {
		return models.SceneOptions{}, errors.New("invalid mesh dimensions").
			WithTag("tile_size", tileSize).
			WithTag("extent_x", extent.X).
			WithTag("extent_y", extent.Y)
	}

	opts := models.SceneOptions{
		TileSize:          tileSize,
		Extent:            extent,
		OriginX:           req.OriginX,
		OriginY:           req.OriginY,
		PruneOnLock:       true,
		BroadcastRebuilds: true,
	}
	h.FeatureFlags.IfSet(featureflag.FlagNoPrune, func() {
		opts.PruneOnLock = false
	})
	h.FeatureFlags.IfSet(featureflag.FlagDisableRebuildBroadcast, func() {
		opts.BroadcastRebuilds = false
	})
	return opts, nil
}

func (h *RealtimeHandler) HandleDisconnect(_ error) {
	if h.currentViewer != nil {
		h.leaveScene()
	}
}

func (h *RealtimeHandler) HandleRegionAdd(ctx context.Context, respond messages.ResponseSender, msg messages.Msg) error {
	var req messages.RegionAddRequest
	if err := msg.DataTo(&req); err != nil {
		return err
	}

	viewer := h.currentViewer
	scene := h.currentScene
	if viewer == nil || scene == nil {
		return errors.New("scene not joined").
			WithType(messages.ErrTypeSceneNotJoined).
			WithTag("msg_type", msg.Type)
	}

	bounds := boxFromWire(req.Bounds)
	if bounds.Min.X >= bounds.Max.X || bounds.Min.Y >= bounds.Max.Y {
		respond.Send(&messages.ErrorResponse{
			RequestHeader: messages.NewRequestHeader(messages.MsgTypeError, req.RequestID),
			Code:          messages.ErrorCodeBadRequest,
		})
		return nil
	}

	if scene.RegionCount() >= maxRegionsPerScene {
		respond.Send(&messages.ErrorResponse{
			RequestHeader: messages.NewRequestHeader(messages.MsgTypeError, req.RequestID),
			Code:          messages.ErrorCodeTooManyRegions,
		})
		return nil
	}

	padded := req.Padded
	h.FeatureFlags.IfSet(featureflag.FlagPaddedRegions, func() {
		padded = true
	})

	region := &models.Region{
		ID:       scene.NewRegionID(),
		ViewerID: viewer.ID,
		Material: req.Material,
		Padded:   padded,
		Persist:  req.Persist,
	}
	region.SetBounds(bounds)
	region.SetStyle(req.BaseHeight, req.Priority, false)

	scene.AddRegion(region)
	viewer.AddRegion(region)
	scene.MarkTreeDirty()

	respond.Send(&messages.RegionAddResponse{
		RequestHeader: messages.NewRequestHeader(messages.MsgTypeRegionAddResponse, req.RequestID),
		RegionID:      region.ID,
	})

	h.FeatureFlags.IfNotSet(featureflag.FlagDisableRegionAddBroadcast, func() {
		scene.Broadcast(viewer, &messages.RegionAddBroadcast{
			Header:          messages.NewHeader(messages.MsgTypeRegionAddBroadcast),
			OriginTimestamp: req.Timestamp,
			Region:          region.ToPayload(),
		})
	})

	return nil
}

func (h *RealtimeHandler) HandleRegionUpdate(ctx context.Context, respond messages.ResponseSender, msg messages.Msg) error {
	var req messages.RegionUpdateRequest
	if err := msg.DataTo(&req); err != nil {
		return err
	}

	viewer := h.currentViewer
	scene := h.currentScene
	if viewer == nil || scene == nil {
		return errors.New("scene not joined").
			WithType(messages.ErrTypeSceneNotJoined).
			WithTag("msg_type", msg.Type)
	}

	region, ok := scene.RegionByID(req.RegionID)
	if !ok {
		respond.Send(&messages.ErrorResponse{
			RequestHeader: messages.NewRequestHeader(messages.MsgTypeError, req.RequestID),
			Code:          messages.ErrorCodeNotFound,
		})
		return nil
	}

	if region.ViewerID != viewer.ID {
		respond.Send(&messages.ErrorResponse{
			RequestHeader: messages.NewRequestHeader(messages.MsgTypeError, req.RequestID),
			Code:          messages.ErrorCodeUnauthorized,
		})
		return nil
	}

	region.SetStyle(req.BaseHeight, req.Priority, req.Selected)
	scene.MarkTreeDirty()

	respond.Send(&messages.RegionUpdateResponse{
		RequestHeader: messages.NewRequestHeader(messages.MsgTypeRegionUpdateResponse, req.RequestID),
	})

	h.FeatureFlags.IfNotSet(featureflag.FlagDisableRegionUpdateBroadcast, func() {
		scene.Broadcast(viewer, &messages.RegionUpdateBroadcast{
			Header:          messages.NewHeader(messages.MsgTypeRegionUpdateBroadcast),
			OriginTimestamp: req.Timestamp,
			Region:          region.ToPayload(),
		})
	})

	return nil
}

func (h *RealtimeHandler) HandleRegionRemove(ctx context.Context, respond messages.ResponseSender, msg messages.Msg) error {
	var req messages.RegionRemoveRequest
	if err := msg.DataTo(&req); err != nil {
		return err
	}

	viewer := h.currentViewer
	scene := h.currentScene
	if viewer == nil || scene == nil {
		return errors.New("scene not joined").
			WithType(messages.ErrTypeSceneNotJoined).
			WithTag("msg_type", msg.Type)
	}

	region, ok := scene.RegionByID(req.RegionID)
	if !ok {
		respond.Send(&messages.ErrorResponse{
			RequestHeader: messages.NewRequestHeader(messages.MsgTypeError, req.RequestID),
			Code:          messages.ErrorCodeNotFound,
		})
		return nil
	}

	if region.ViewerID != viewer.ID {
		respond.Send(&messages.ErrorResponse{
			RequestHeader: messages.NewRequestHeader(messages.MsgTypeError, req.RequestID),
			Code:          messages.ErrorCodeUnauthorized,
		})
		return nil
	}

	scene.RemoveRegion(region.ID)
	viewer.RemoveRegion(region)
	scene.MarkTreeDirty()

	respond.Send(&messages.RegionRemoveResponse{
		RequestHeader: messages.NewRequestHeader(messages.MsgTypeRegionRemoveResponse, req.RequestID),
	})

	h.FeatureFlags.IfNotSet(featureflag.FlagDisableRegionRemoveBroadcast, func() {
		scene.Broadcast(viewer, &messages.RegionRemoveBroadcast{
			Header:          messages.NewHeader(messages.MsgTypeRegionRemoveBroadcast),
			OriginTimestamp: req.Timestamp,
			RegionID:        region.ID,
		})
	})

	return nil
}

func (h *RealtimeHandler) HandleRegionMove(ctx context.Context, msg messages.Msg) error {
	var update messages.RegionMove
	if err := msg.DataTo(&update); err != nil {
		return err
	}

	viewer := h.currentViewer
	scene := h.currentScene
	if viewer == nil || scene == nil {
		return errors.New("scene not joined").
			WithType(messages.ErrTypeSceneNotJoined).
			WithTag("msg_type", msg.Type)
	}

	region, ok := scene.RegionByID(update.RegionID)
	if !ok {
		return nil
	}

	if region.ViewerID != viewer.ID {
		return nil
	}

	bounds := boxFromWire(update.Bounds)
	if bounds.Min.X >= bounds.Max.X || bounds.Min.Y >= bounds.Max.Y {
		return nil
	}

	region.SetBounds(bounds)
	scene.MarkTreeDirty()

	h.FeatureFlags.IfNotSet(featureflag.FlagDisableRegionMoveBroadcast, func() {
		scene.Broadcast(viewer, &messages.RegionMoveBroadcast{
			Header:   messages.NewHeader(messages.MsgTypeRegionMoveBroadcast),
			RegionID: region.ID,
			Bounds:   update.Bounds,
		})
	})

	return nil
}

func (h *RealtimeHandler) HandleLODSelect(ctx context.Context, respond messages.ResponseSender, msg messages.Msg) error {
	var req messages.LODSelectRequest
	if err := msg.DataTo(&req); err != nil {
		return err
	}

	viewer := h.currentViewer
	scene := h.currentScene
	if viewer == nil || scene == nil {
		return errors.New("scene not joined").
			WithType(messages.ErrTypeSceneNotJoined).
			WithTag("msg_type", msg.Type)
	}

	snapshot, ok := scene.TreeSnapshot()
	if !ok {
		respond.Send(&messages.ErrorResponse{
			RequestHeader: messages.NewRequestHeader(messages.MsgTypeError, req.RequestID),
			Code:          messages.ErrorCodeSceneNotReady,
		})
		return nil
	}

	if req.DensityCount <= 0 || req.LODScale <= 0 {
		respond.Send(&messages.ErrorResponse{
			RequestHeader: messages.NewRequestHeader(messages.MsgTypeError, req.RequestID),
			Code:          messages.ErrorCodeBadRequest,
		})
		return nil
	}

	params := quadtree.SelectionParams{
		Frustum:                   frustumFromWire(req.FrustumPlanes),
		ObserverPosition:          vec3FromWire(req.Observer),
		LODScale:                  req.LODScale,
		DensityCount:              req.DensityCount,
		ForceCollapseDensityLevel: req.ForceCollapseDensityLevel,
		LowestLOD:                 req.LowestLOD,
		LODMorphingEnabled:        req.MorphingEnabled,
		HeightMorph:               req.HeightMorph,
		PreViewTranslation:        vec3FromWire(req.PreViewTranslation),
	}

	start := time.Now()

	var selection *quadtree.Selection
	if req.ClipBounds != nil {
		clip := quadtree.NewBox2f(
			quadtree.NewVector2f(req.ClipBounds.Min.X, req.ClipBounds.Min.Y),
			quadtree.NewVector2f(req.ClipBounds.Max.X, req.ClipBounds.Max.Y),
		)
		if clip.Min.X >= clip.Max.X || clip.Min.Y >= clip.Max.Y {
			respond.Send(&messages.ErrorResponse{
				RequestHeader: messages.NewRequestHeader(messages.MsgTypeError, req.RequestID),
				Code:          messages.ErrorCodeBadRequest,
			})
			return nil
		}

		params.ClipBounds = clip
		selection = snapshot.Tree.SelectWithinBounds(params)
	} else {
		selection = snapshot.Tree.Select(params)
	}

	instances := make([]messages.Instance, len(selection.Instances))
	for i, instance := range selection.Instances {
		var regionID uint32
		if int(instance.RenderDataIndex) < len(snapshot.RegionIDs) {
			regionID = snapshot.RegionIDs[instance.RenderDataIndex]
		}

		instances[i] = messages.Instance{
			RegionID:    regionID,
			Center:      vec3ToWire(instance.Center),
			Scale:       messages.Vec2{X: instance.Scale.X, Y: instance.Scale.Y},
			BucketIndex: instance.BucketIndex,
			PackedLOD:   instance.PackedLOD,
			HeightMorph: instance.HeightMorph,
			HitColor: messages.Vec3{
				X: instance.HitColor[0],
				Y: instance.HitColor[1],
				Z: instance.HitColor[2],
			},
			Selected: instance.Selected,
		}
	}

	respond.Send(&messages.LODSelectResponse{
		RequestHeader: messages.NewRequestHeader(messages.MsgTypeLODSelectResponse, req.RequestID),
		TreeRevision:  snapshot.Revision,
		Instances:     instances,
		BucketCounts:  selection.BucketInstanceCounts,
		Materials:     snapshot.Tree.Materials(),
	})

	h.sendSelectionStats(scene, snapshot, selection, time.Since(start))
	return nil
}

func (h *RealtimeHandler) sendSelectionStats(scene *models.Scene, snapshot models.TreeSnapshot, selection *quadtree.Selection, duration time.Duration) {
	if h.StatsChan == nil {
		return
	}

	stats := telemetry.SelectionStats{
		SceneID:       h.Scenes.GlobalSceneID(scene.ID),
		AppKey:        scene.AppKey,
		TreeRevision:  snapshot.Revision,
		InstanceCount: int32(selection.Count()),
		BucketCounts:  selection.BucketInstanceCounts,
		Duration:      duration,
		Timestamp:     time.Now().UTC(),
	}

	select {
	case h.StatsChan <- stats:
	default:
		// discard, a selection never waits on a slow collector
	}
}

func (h *RealtimeHandler) HandleUnsupported(ctx context.Context, respond messages.ResponseSender, msg messages.Msg) error {
	var strict bool
	h.FeatureFlags.IfSet(featureflag.FlagStrictMessages, func() {
		strict = true
	})

	if strict {
		return errors.New("unsupported message").
			WithType(messages.ErrTypeUnsupportedMsg).
			WithTag("msg_type", msg.Type)
	}

	logs.WithTag("msg_type", msg.TypeString()).
		WithClientID(h.clientID).
		Debug("ignoring unsupported message")
	return nil
}

func (h *RealtimeHandler) HandleWithModule(ctx context.Context, m modules.Module, respond messages.ResponseSender, msg messages.Msg) error {
	if h.CurrentViewer() == nil || h.CurrentScene() == nil {
		return messages.ErrModuleMsgSkip
	}

	err := m.HandleMsg(ctx, respond, msg)
	if errors.IsType(err, messages.ErrTypeMsgSkip) {
		return err
	}
	if err != nil {
		return errors.New("handling message with module failed").
			WithTag("module", m.Name()).
			Wrap(err)
	}
	return nil
}

func (h *RealtimeHandler) SendSyncClock(ctx context.Context, respond messages.ResponseSender) error {
	respond.Send(&messages.SyncClock{
		Header: messages.NewHeader(messages.MsgTypeSyncClock),
	})
	return nil
}

func (h *RealtimeHandler) Receiver() messages.Receiver {
	return func() (messages.Msg, int, error) {
		return messages.Receive(h.conn)
	}
}

func (h *RealtimeHandler) Sender() messages.Sender {
	return func(msg messages.Msg) (int, error) {
		return messages.Send(h.conn, msg)
	}
}

func (h *RealtimeHandler) Close() {
}

func (h *RealtimeHandler) SyncClockInterval() time.Duration {
	return h.ClientSyncClockInterval
}

func (h *RealtimeHandler) IdleTimeout() time.Duration {
	return h.ClientIdleTimeout
}

func (h *RealtimeHandler) GetScenes() *models.SceneStore {
	return h.Scenes
}

func (h *RealtimeHandler) GetModules() []modules.Module {
	return h.Modules
}

func (h *RealtimeHandler) CurrentScene() *models.Scene {
	return h.currentScene
}

func (h *RealtimeHandler) CurrentViewer() *models.Viewer {
	return h.currentViewer
}

func (h *RealtimeHandler) leaveScene() {
	scene := h.currentScene
	viewer := h.currentViewer

	if viewer == nil || scene == nil {
		return
	}

	for _, m := range h.Modules {
		m.HandleDisconnect()
	}

	now := time.Now().UTC()

	var removed bool
	for id := range viewer.RegionIDs() {
		region, ok := scene.RegionByID(id)
		if !ok || region.Persist {
			continue
		}

		scene.RemoveRegion(region.ID)
		removed = true

		h.FeatureFlags.IfNotSet(featureflag.FlagDisableRegionRemoveBroadcast, func() {
			scene.Broadcast(viewer, &messages.RegionRemoveBroadcast{
				Header:          messages.NewHeader(messages.MsgTypeRegionRemoveBroadcast),
				OriginTimestamp: now,
				RegionID:        region.ID,
			})
		})
	}
	if removed {
		scene.MarkTreeDirty()
	}

	if h.stopFrameHandling != nil {
		h.stopFrameHandling()
	}
	scene.RemoveViewer(viewer)

	h.FeatureFlags.IfNotSet(featureflag.FlagDisableViewerLeaveBroadcast, func() {
		scene.Broadcast(viewer, &messages.ViewerLeaveBroadcast{
			Header:          messages.NewHeader(messages.MsgTypeViewerLeaveBroadcast),
			OriginTimestamp: now,
			ViewerID:        viewer.ID,
		})
	})

	if scene.ViewerCount() == 0 {
		h.Scenes.Remove(context.Background(), scene)
	}

	h.currentViewer = nil
	h.currentScene = nil
}

func (h *RealtimeHandler) GetClientID() string {
	return h.clientID
}

func vec3FromWire(v messages.Vec3) quadtree.Vector3f {
	return quadtree.NewVector3f(v.X, v.Y, v.Z)
}

func vec3ToWire(v quadtree.Vector3f) messages.Vec3 {
	return messages.Vec3{X: v.X, Y: v.Y, Z: v.Z}
}

func boxFromWire(b messages.Box) quadtree.Box3f {
	return quadtree.NewBox3f(
		vec3FromWire(b.Min),
		vec3FromWire(b.Max),
	)
}

func frustumFromWire(planes []messages.Plane) quadtree.Frustum {
	if len(planes) == 0 {
		return quadtree.Frustum{}
	}

	out := make([]quadtree.Plane, len(planes))
	for i, p := range planes {
		out[i] = quadtree.Plane{
			Normal:   vec3FromWire(p.Normal),
			Distance: p.Distance,
		}
	}
	return quadtree.Frustum{Planes: out}
}
