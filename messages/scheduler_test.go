package messages

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSchedulerDispatch(t *testing.T) {
	t.Run("regular messages are delivered immediately", func(t *testing.T) {
		s := NewScheduler()
		defer s.Close()

		msg, err := FromPayload(&Request{
			RequestHeader: NewRequestHeader(MsgTypePingRequest, 1),
		})
		require.NoError(t, err)
		require.NoError(t, s.Dispatch(context.Background(), msg))

		out := <-s.Messages()
		require.Equal(t, MsgTypePingRequest, out.Type)
	})

	t.Run("region moves wait for the next frame", func(t *testing.T) {
		s := NewScheduler()
		defer s.Close()

		msg, err := FromPayload(&RegionMove{
			Header:   NewHeader(MsgTypeRegionMove),
			RegionID: 1,
		})
		require.NoError(t, err)
		require.NoError(t, s.Dispatch(context.Background(), msg))
		require.Zero(t, len(s.Messages()))

		s.HandleFrame()
		out := <-s.Messages()
		require.Equal(t, MsgTypeRegionMove, out.Type)
	})

	t.Run("moves are coalesced per region keeping the last", func(t *testing.T) {
		s := NewScheduler()
		defer s.Close()

		ctx := context.Background()
		for _, move := range []*RegionMove{
			{
				Header:   NewHeader(MsgTypeRegionMove),
				RegionID: 1,
				Bounds:   Box{Max: Vec3{X: 10}},
			},
			{
				Header:   NewHeader(MsgTypeRegionMove),
				RegionID: 2,
				Bounds:   Box{Max: Vec3{X: 20}},
			},
			{
				Header:   NewHeader(MsgTypeRegionMove),
				RegionID: 1,
				Bounds:   Box{Max: Vec3{X: 30}},
			},
		} {
			msg, err := FromPayload(move)
			require.NoError(t, err)
			require.NoError(t, s.Dispatch(ctx, msg))
		}

		s.HandleFrame()
		require.Equal(t, 2, len(s.Messages()))

		var first RegionMove
		require.NoError(t, (<-s.Messages()).DataTo(&first))
		require.Equal(t, uint32(1), first.RegionID)
		require.Equal(t, float32(30), first.Bounds.Max.X)

		var second RegionMove
		require.NoError(t, (<-s.Messages()).DataTo(&second))
		require.Equal(t, uint32(2), second.RegionID)
	})

	t.Run("dispatch fails when the queue is full and the context ends", func(t *testing.T) {
		s := NewScheduler()
		defer s.Close()

		msg, err := FromPayload(&Request{
			RequestHeader: NewRequestHeader(MsgTypePingRequest, 1),
		})
		require.NoError(t, err)

		ctx := context.Background()
		for i := 0; i < msgChanSize; i++ {
			require.NoError(t, s.Dispatch(ctx, msg))
		}

		canceled, cancel := context.WithCancel(ctx)
		cancel()
		require.Error(t, s.Dispatch(canceled, msg))
	})

	t.Run("malformed region moves are rejected", func(t *testing.T) {
		s := NewScheduler()
		defer s.Close()

		err := s.Dispatch(context.Background(), Msg{
			Type: MsgTypeRegionMove,
			Data: []byte("{broken"),
		})
		require.Error(t, err)
	})
}

func TestSchedulerClose(t *testing.T) {
	s := NewScheduler()

	msg, err := FromPayload(&Request{
		RequestHeader: NewRequestHeader(MsgTypePingRequest, 1),
	})
	require.NoError(t, err)
	require.NoError(t, s.Dispatch(context.Background(), msg))

	move, err := FromPayload(&RegionMove{
		Header:   NewHeader(MsgTypeRegionMove),
		RegionID: 1,
	})
	require.NoError(t, err)
	require.NoError(t, s.Dispatch(context.Background(), move))

	s.Close()
	require.Zero(t, len(s.Messages()))

	s.HandleFrame()
	require.Zero(t, len(s.Messages()))
}
