package websocket

import (
	"context"
	"sync"
	"time"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/aukilabs/go-tooling/pkg/logs"
	"github.com/tilemesh/tilemesh/messages"
	"github.com/tilemesh/tilemesh/models"
	"github.com/tilemesh/tilemesh/modules"
	"golang.org/x/net/websocket"
)

const (
	sendChanSize = 512
)

// Handler represents a tilemesh handler.
type Handler interface {
	// Handles a ping request.
	HandlePing(ctx context.Context, respond messages.ResponseSender, msg messages.Msg) error

	// Handles a client connection.
	HandleConnect(conn *websocket.Conn)

	// Handles a request to join a scene.
	HandleSceneJoin(ctx context.Context, handleFrame func(), respond messages.ResponseSender, msg messages.Msg) error

	// Handles a client's disconnection.
	HandleDisconnect(error)

	// Handles a request to add a region to the scene mesh.
	HandleRegionAdd(ctx context.Context, respond messages.ResponseSender, msg messages.Msg) error

	// Handles a request to restyle a region.
	HandleRegionUpdate(ctx context.Context, respond messages.ResponseSender, msg messages.Msg) error

	// Handles a request to remove a region and its associated tiles.
	HandleRegionRemove(ctx context.Context, respond messages.ResponseSender, msg messages.Msg) error

	// Handles a region bounds move.
	HandleRegionMove(ctx context.Context, msg messages.Msg) error

	// Handles a level of detail selection request.
	HandleLODSelect(ctx context.Context, respond messages.ResponseSender, msg messages.Msg) error

	// Handles a message that neither the handler nor any module served.
	HandleUnsupported(ctx context.Context, respond messages.ResponseSender, msg messages.Msg) error

	// Handles a message with a module.
	HandleWithModule(ctx context.Context, module modules.Module, respond messages.ResponseSender, msg messages.Msg) error

	// Sends a sync clock message to the client.
	SendSyncClock(ctx context.Context, send messages.ResponseSender) error

	// Creates a message receiver used to receive incoming messages.
	Receiver() messages.Receiver

	// Creates a message sender passed in service methods in order to send
	// messages.
	Sender() messages.Sender

	// Closes the service and releases its allocated resources.
	Close()

	// The interval between each sync clock message sent to the connected
	// client.
	SyncClockInterval() time.Duration

	// The time a client is idle before being disconnected.
	IdleTimeout() time.Duration

	// Returns the scene store.
	GetScenes() *models.SceneStore

	// Returns the modules.
	GetModules() []modules.Module

	// The currently joined scene.
	CurrentScene() *models.Scene

	// The current viewer.
	CurrentViewer() *models.Viewer

	// Get ClientID
	GetClientID() string
}

// Handle handles the given service.
func Handle(ctx context.Context, conn *websocket.Conn, h Handler) {
	handler := handler{
		Conn:    conn,
		Handler: h,
	}

	handler.Handle(ctx)
}

type handler struct {
	// The WebSocket connection.
	Conn *websocket.Conn

	// The tilemesh handler.
	Handler Handler

	sendChan       chan messages.Msg
	sender         messages.Sender
	dispatcher     messages.Dispatcher
	consumer       messages.Consumer
	receiver       messages.Receiver
	disconnectChan chan error
}

func (h *handler) Handle(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	h.Handler.HandleConnect(h.Conn)

	h.disconnectChan = make(chan error, 8)
	defer func() {
		for len(h.disconnectChan) != 0 {
			<-h.disconnectChan
		}
	}()

	var wg sync.WaitGroup

	h.sendChan = make(chan messages.Msg, sendChanSize)
	h.sender = h.Handler.Sender()

	wg.Add(1)
	go func() {
		defer wg.Done()
		h.startSending(ctx)
	}()

	scheduler := messages.NewScheduler()
	h.dispatcher = scheduler
	h.consumer = scheduler
	defer scheduler.Close()

	h.receiver = h.Handler.Receiver()
	wg.Add(1)
	go func() {
		defer wg.Done()
		h.startReceiving(ctx)
	}()

	idleTimeout := h.Handler.IdleTimeout()
	idleTimer := time.NewTimer(idleTimeout)
	defer idleTimer.Stop()

	syncClockTicker := time.NewTicker(h.Handler.SyncClockInterval())
	defer syncClockTicker.Stop()

	var responder = responseSender{
		send:    h.send,
		sendMsg: h.sendMsg,
	}

	for ctx.Err() == nil {
		select {
		case <-ctx.Done():
			h.disconnect(ctx.Err())

		case <-idleTimer.C:
			h.disconnect(errors.New("idle connection").WithTag("duration", h.Handler.IdleTimeout()))

		case <-syncClockTicker.C:
			if err := h.Handler.SendSyncClock(ctx, responder); err != nil {
				h.disconnect(errors.New("sending sync clock failed").Wrap(err))
			}

		case msg := <-h.consumer.Messages():
			idleTimer.Stop()
			idleTimer.Reset(idleTimeout)

			if err := h.handleMessage(ctx, msg, responder); err != nil {
				h.disconnect(errors.New("handling message failed").Wrap(err))
			}

		case err := <-h.disconnectChan:
			h.handleDisconnect(err)
			if ctx.Err() == nil {
				// cancel context so go routines can cleanly exit
				cancel()
			}
		}
	}

	wg.Wait()
}

func (h *handler) send(p messages.Payload) {
	msg, err := messages.FromPayload(p)
	if err != nil {
		logs.WithTag("message", p).
			WithClientID(h.Handler.GetClientID()).
			Debug(err)
		return
	}
	h.sendChan <- msg
}

func (h *handler) sendMsg(msg messages.Msg) {
	h.sendChan <- msg
}

func (h *handler) startSending(ctx context.Context) {
	defer func() {
		for len(h.sendChan) != 0 {
			<-h.sendChan
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return

		case msg := <-h.sendChan:
			if _, err := h.sender(msg); err != nil {
				h.disconnect(errors.New("sending message failed").Wrap(err))
				return
			}
		}
	}
}

func (h *handler) startReceiving(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return

		default:
			msg, _, err := h.receiver()
			if err != nil {
				h.disconnect(errors.New("receiving message failed").Wrap(err))
				return
			}

			if err = h.dispatcher.Dispatch(ctx, msg); err != nil {
				h.disconnect(errors.New("dispatching message failed").Wrap(err))
				return
			}
		}
	}
}

func (h *handler) handleMessage(ctx context.Context, msg messages.Msg, responder messages.ResponseSender) error {
	var err error

	served := true

	switch msg.Type {
	case messages.MsgTypePingRequest:
		err = h.Handler.HandlePing(ctx, responder, msg)

	case messages.MsgTypeSceneJoinRequest:
		err = h.Handler.HandleSceneJoin(ctx,
			h.dispatcher.HandleFrame,
			responder,
			msg,
		)

	case messages.MsgTypeRegionAddRequest:
		err = h.Handler.HandleRegionAdd(ctx, responder, msg)

	case messages.MsgTypeRegionUpdateRequest:
		err = h.Handler.HandleRegionUpdate(ctx, responder, msg)

	case messages.MsgTypeRegionRemoveRequest:
		err = h.Handler.HandleRegionRemove(ctx, responder, msg)

	case messages.MsgTypeRegionMove:
		err = h.Handler.HandleRegionMove(ctx, msg)

	case messages.MsgTypeLODSelectRequest:
		err = h.Handler.HandleLODSelect(ctx, responder, msg)

	default:
		served = false
	}

	if err != nil {
		return err
	}

	if h.Handler.CurrentViewer() == nil || h.Handler.CurrentScene() == nil {
		if served {
			return nil
		}
		return h.Handler.HandleUnsupported(ctx, responder, msg)
	}

	for _, m := range h.Handler.GetModules() {
		err = h.Handler.HandleWithModule(ctx, m, responder, msg)
		if errors.IsType(err, messages.ErrTypeMsgSkip) {
			continue
		}
		if err != nil {
			return err
		}
		served = true
	}

	if !served {
		return h.Handler.HandleUnsupported(ctx, responder, msg)
	}
	return nil
}

func (h *handler) disconnect(err error) {
	h.disconnectChan <- err
}

func (h *handler) handleDisconnect(err error) {
	h.Conn.Close()
	h.Handler.HandleDisconnect(err)
}

type responseSender struct {
	send    func(messages.Payload)
	sendMsg func(messages.Msg)
}

func (r responseSender) Send(p messages.Payload) {
	r.send(p)
}

func (r responseSender) SendMsg(msg messages.Msg) {
	r.sendMsg(msg)
}
