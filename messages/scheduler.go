package messages

import (
	"context"
	"sync"

	"github.com/segmentio/encoding/json"
)

const msgChanSize = 512

// Dispatcher routes received messages toward a connection event loop.
type Dispatcher interface {
	// Dispatch routes a received message. It blocks when the message queue
	// is full.
	Dispatch(ctx context.Context, msg Msg) error

	// HandleFrame releases the messages deferred until the next frame.
	HandleFrame()
}

// Consumer yields dispatched messages.
type Consumer interface {
	Messages() <-chan Msg
}

// Scheduler dispatches most messages immediately and defers region moves to
// the next frame boundary, keeping only the last move per region. Moves that
// do not fit the queue at frame time are dropped, the next move supersedes
// them anyway.
type Scheduler struct {
	msgs chan Msg

	mutex         sync.Mutex
	deferred      []Msg
	deferredIndex map[uint32]int
}

// NewScheduler creates a message scheduler.
func NewScheduler() *Scheduler {
	return &Scheduler{
		msgs:          make(chan Msg, msgChanSize),
		deferredIndex: make(map[uint32]int),
	}
}

// Messages returns the channel where dispatched messages are delivered.
func (s *Scheduler) Messages() <-chan Msg {
	return s.msgs
}

// Dispatch routes the given message. Region moves are coalesced per region
// and held until the next HandleFrame call.
func (s *Scheduler) Dispatch(ctx context.Context, msg Msg) error {
	if msg.Type == MsgTypeRegionMove {
		var move struct {
			RegionID uint32 `json:"region_id"`
		}
		if err := json.Unmarshal(msg.Data, &move); err != nil {
			return err
		}

		s.mutex.Lock()
		defer s.mutex.Unlock()

		if i, ok := s.deferredIndex[move.RegionID]; ok {
			s.deferred[i] = msg
			return nil
		}
		s.deferredIndex[move.RegionID] = len(s.deferred)
		s.deferred = append(s.deferred, msg)
		return nil
	}

	select {
	case s.msgs <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// HandleFrame flushes the deferred region moves into the message queue.
func (s *Scheduler) HandleFrame() {
	s.mutex.Lock()
	deferred := s.deferred
	s.deferred = nil
	clear(s.deferredIndex)
	s.mutex.Unlock()

	for _, msg := range deferred {
		select {
		case s.msgs <- msg:
		default:
			return
		}
	}
}

// Close drops the deferred and queued messages.
func (s *Scheduler) Close() {
	s.mutex.Lock()
	s.deferred = nil
	clear(s.deferredIndex)
	s.mutex.Unlock()

	for {
		select {
		case <-s.msgs:
		default:
			return
		}
	}
}
