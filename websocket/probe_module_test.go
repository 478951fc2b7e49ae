package websocket

import (
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/tilemesh/tilemesh/messages"
	"github.com/tilemesh/tilemesh/modules"
	"github.com/tilemesh/tilemesh/modules/probe"
	"golang.org/x/net/websocket"
)

func TestProbeModule(t *testing.T) {
	newEnv := func(t *testing.T) (*websocket.Conn, func()) {
		clientA, _, close := NewTestingEnv(t, newTestHandler(func() modules.Module {
			return &probe.Module{}
		}))
		return clientA, close
	}

	t.Run("height query before the first rebuild is not ready", func(t *testing.T) {
		client, close := newEnv(t)
		defer close()

		joinNewScene(t, client, 1)

		sendTestMsg(t, client, &messages.HeightQueryRequest{
			RequestHeader: messages.NewRequestHeader(messages.MsgTypeHeightQueryRequest, 2),
			X:             10,
			Y:             10,
		})
		msg := receiveTestMsg(t, client,
			filterByType(messages.MsgTypeError),
			filterByRequestID(2),
		)

		var res messages.ErrorResponse
		require.NoError(t, msg.DataTo(&res))
		require.Equal(t, messages.ErrorCodeSceneNotReady, res.Code)
	})

	t.Run("height query inside a region finds its base height", func(t *testing.T) {
		client, close := newEnv(t)
		defer close()

		joinNewScene(t, client, 1)
		addTestRegion(t, client, 2, "grass")
		receiveTestMsg(t, client, filterByType(messages.MsgTypeSceneRebuiltBroadcast))

		sendTestMsg(t, client, &messages.HeightQueryRequest{
			RequestHeader: messages.NewRequestHeader(messages.MsgTypeHeightQueryRequest, 3),
			X:             10,
			Y:             10,
		})
		msg := receiveTestMsg(t, client,
			filterByType(messages.MsgTypeHeightQueryResponse),
			filterByRequestID(3),
		)

		var res messages.HeightQueryResponse
		require.NoError(t, msg.DataTo(&res))
		require.True(t, res.Found)
		require.Equal(t, float32(7), res.Height)
		require.Equal(t, uint64(1), res.TreeRevision)
	})

	t.Run("interpolated height query inside a uniform region is exact", func(t *testing.T) {
		client, close := newEnv(t)
		defer close()

		joinNewScene(t, client, 1)
		addTestRegion(t, client, 2, "grass")
		receiveTestMsg(t, client, filterByType(messages.MsgTypeSceneRebuiltBroadcast))

		sendTestMsg(t, client, &messages.HeightQueryRequest{
			RequestHeader: messages.NewRequestHeader(messages.MsgTypeHeightQueryRequest, 3),
			X:             0,
			Y:             0,
			Interpolated:  true,
		})
		msg := receiveTestMsg(t, client,
			filterByType(messages.MsgTypeHeightQueryResponse),
			filterByRequestID(3),
		)

		var res messages.HeightQueryResponse
		require.NoError(t, msg.DataTo(&res))
		require.True(t, res.Found)
		require.Equal(t, float32(7), res.Height)
	})

	t.Run("bounds query returns the covering node box", func(t *testing.T) {
		client, close := newEnv(t)
		defer close()

		joinNewScene(t, client, 1)
		addTestRegion(t, client, 2, "grass")
		receiveTestMsg(t, client, filterByType(messages.MsgTypeSceneRebuiltBroadcast))

		sendTestMsg(t, client, &messages.BoundsQueryRequest{
			RequestHeader: messages.NewRequestHeader(messages.MsgTypeBoundsQueryRequest, 3),
			X:             10,
			Y:             10,
		})
		msg := receiveTestMsg(t, client,
			filterByType(messages.MsgTypeBoundsQueryResponse),
			filterByRequestID(3),
		)

		var res messages.BoundsQueryResponse
		require.NoError(t, msg.DataTo(&res))
		require.True(t, res.Found)
		// The uniform scene pruned to its root, the covering box is the
		// whole mesh footprint.
		require.Equal(t, float32(-128), res.Bounds.Min.X)
		require.Equal(t, float32(128), res.Bounds.Max.X)
	})
}
