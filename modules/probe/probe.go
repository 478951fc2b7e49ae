package probe

import (
	"context"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/tilemesh/tilemesh/messages"
	"github.com/tilemesh/tilemesh/models"
	"github.com/tilemesh/tilemesh/quadtree"
)

// Module answers point probes against the latest scene tree snapshot: the
// mesh height under a world position, optionally interpolated across tile
// centers, and the tightest node bounds containing a position.
type Module struct {
	currentScene  *models.Scene
	currentViewer *models.Viewer
	state         *State
}

func (m *Module) Name() string {
	return "probe"
}

func (m *Module) Init(s *models.Scene, v *models.Viewer) {
	m.currentScene = s
	m.currentViewer = v

	state, ok := s.ModuleState(m.Name())
	if !ok {
		state = &State{}
		s.SetModuleState(m.Name(), state)
	}
	m.state = state.(*State)
}

func (m *Module) HandleMsg(ctx context.Context, respond messages.ResponseSender, msg messages.Msg) error {
	switch msg.Type {
	case messages.MsgTypeHeightQueryRequest:
		return m.handleHeightQuery(ctx, respond, msg)

	case messages.MsgTypeBoundsQueryRequest:
		return m.handleBoundsQuery(ctx, respond, msg)

	default:
		return messages.ErrModuleMsgSkip
	}
}

func (m *Module) HandleDisconnect() {
}

func (m *Module) handleHeightQuery(ctx context.Context, respond messages.ResponseSender, msg messages.Msg) error {
	var req messages.HeightQueryRequest
	if err := msg.DataTo(&req); err != nil {
		return err
	}

	scene := m.currentScene
	if scene == nil {
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

	p := quadtree.NewVector2f(req.X, req.Y)
	var height float32
	var found bool
	if req.Interpolated {
		height, found = snapshot.Tree.QueryInterpolatedHeight(p)
	} else {
		height, found = snapshot.Tree.QueryHeight(p)
	}

	m.state.CountProbe()

	respond.Send(&messages.HeightQueryResponse{
		RequestHeader: messages.NewRequestHeader(messages.MsgTypeHeightQueryResponse, req.RequestID),
		Height:        height,
		Found:         found,
		TreeRevision:  snapshot.Revision,
	})
	return nil
}

func (m *Module) handleBoundsQuery(ctx context.Context, respond messages.ResponseSender, msg messages.Msg) error {
	var req messages.BoundsQueryRequest
	if err := msg.DataTo(&req); err != nil {
		return err
	}

	scene := m.currentScene
	if scene == nil {
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

	bounds, found := snapshot.Tree.QueryBounds(quadtree.NewVector2f(req.X, req.Y))

	m.state.CountProbe()

	respond.Send(&messages.BoundsQueryResponse{
		RequestHeader: messages.NewRequestHeader(messages.MsgTypeBoundsQueryResponse, req.RequestID),
		Bounds: messages.Box{
			Min: messages.Vec3{X: bounds.Min.X, Y: bounds.Min.Y, Z: bounds.Min.Z},
			Max: messages.Vec3{X: bounds.Max.X, Y: bounds.Max.Y, Z: bounds.Max.Z},
		},
		Found:        found,
		TreeRevision: snapshot.Revision,
	})
	return nil
}
