package websocket

import (
	"context"
	stderrors "errors"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/aukilabs/go-tooling/pkg/logs"
	httpcmn "github.com/tilemesh/tilemesh/http"
	"github.com/tilemesh/tilemesh/messages"
	"golang.org/x/net/websocket"
)

const (
	appKeyLogTag   = "app_key"
	sceneIDLogTag  = "scene_id"
	viewerIDLogTag = "viewer_id"
)

func HandlerWithLogs(h Handler, summaryInterval time.Duration) Handler {
	ctx, cancel := context.WithCancel(context.Background())

	handler := &handlerWithLogs{
		Handler:            h,
		summaryInterval:    summaryInterval,
		closeSummaryWorker: cancel,
		counter:            make(map[string]int),
	}

	go handler.startSummaryWorker(ctx)
	return handler
}

type handlerWithLogs struct {
	Handler

	originalRequest *http.Request
	appKey          string

	summaryInterval    time.Duration
	closeSummaryWorker func()
	counterMutex       sync.Mutex
	counter            map[string]int

	sceneID   string
	sceneUUID string
	viewerID  uint32
}

func (h *handlerWithLogs) HandleConnect(conn *websocket.Conn) {
	h.Handler.HandleConnect(conn)

	req := conn.Request()
	h.originalRequest = req
	h.appKey = httpcmn.GetAppKeyFromHTTPRequest(req)

	logs.WithClientID(h.GetClientID()).
		WithTag(appKeyLogTag, h.appKey).
		Info("new client is connected")
}

func (h *handlerWithLogs) HandleSceneJoin(ctx context.Context, handleFrame func(), sender messages.ResponseSender, msg messages.Msg) error {
	if err := h.Handler.HandleSceneJoin(ctx, handleFrame, sender, msg); err != nil {
		return err
	}

	if h.CurrentViewer() == nil {
		var req messages.SceneJoinRequest
		// Check for error here is unecessary since it would never go here
		// if the request parsing failed in h.Handler.HandleSceneJoin.
		msg.DataTo(&req)

		logs.WithClientID(h.GetClientID()).
			WithTag(appKeyLogTag, h.appKey).
			WithTag(sceneIDLogTag, req.SceneID).
			WithTag("request_id", req.RequestID).
			WithTag("http_headers", struct {
				UserAgent     string `json:"user_agent,omitempty"`
				XForwardedFor string `json:"x_forwarded_for,omitempty"`
			}{
				UserAgent:     h.originalRequest.UserAgent(),
				XForwardedFor: h.originalRequest.Header.Get(httpcmn.HeaderXForwardedFor),
			}).
			Info("viewer failed to join a scene")
		return nil
	}

	h.sceneID = h.GetScenes().GlobalSceneID(h.CurrentScene().ID)
	h.sceneUUID = h.CurrentScene().SceneUUID
	h.viewerID = h.CurrentViewer().ID

	logs.WithClientID(h.GetClientID()).
		WithTag(appKeyLogTag, h.appKey).
		WithTag(sceneIDLogTag, h.sceneID).
		WithTag("scene_uuid", h.sceneUUID).
		WithTag(viewerIDLogTag, h.viewerID).
		WithTag("http_headers", struct {
			UserAgent     string `json:"user_agent,omitempty"`
			XForwardedFor string `json:"x_forwarded_for,omitempty"`
		}{
			UserAgent:     h.originalRequest.UserAgent(),
			XForwardedFor: h.originalRequest.Header.Get(httpcmn.HeaderXForwardedFor),
		}).
		Info("viewer joined a scene")
	return nil
}

func (h *handlerWithLogs) HandleDisconnect(err error) {
	h.Handler.HandleDisconnect(err)
	logs.WithClientID(h.GetClientID()).
		WithTag(appKeyLogTag, h.appKey).
		WithTag(sceneIDLogTag, h.sceneID).
		WithTag(viewerIDLogTag, h.viewerID).
		Info("client disconnected")
}

func (h *handlerWithLogs) Receiver() messages.Receiver {
	receive := h.Handler.Receiver()

	return func() (messages.Msg, int, error) {
		msg, n, err := receive()
		if err != nil && !stderrors.Is(err, io.EOF) && !stderrors.Is(err, net.ErrClosed) {
			logs.WithClientID(h.GetClientID()).
				WithTag(appKeyLogTag, h.appKey).
				WithTag(sceneIDLogTag, h.sceneID).
				WithTag("scene_uuid", h.sceneUUID).
				WithTag(viewerIDLogTag, h.viewerID).
				Error(errors.New("receiving message failed").Wrap(err))
		} else if err == nil {
			logs.WithClientID(h.GetClientID()).
				WithTag(appKeyLogTag, h.appKey).
				WithTag(sceneIDLogTag, h.sceneID).
				WithTag("scene_uuid", h.sceneUUID).
				WithTag(viewerIDLogTag, h.viewerID).
				WithTag("msg_type", msg.TypeString()).
				Debug("message received")
			h.incCounter(msg.TypeString())
		}
		return msg, n, err
	}

}

func (h *handlerWithLogs) Sender() messages.Sender {
	sender := h.Handler.Sender()

	return func(msg messages.Msg) (int, error) {
		msgType := msg.TypeString()

		n, err := sender(msg)
		if err != nil && !stderrors.Is(err, net.ErrClosed) {
			logs.WithClientID(h.GetClientID()).
				WithTag(appKeyLogTag, h.appKey).
				WithTag(sceneIDLogTag, h.sceneID).
				WithTag("scene_uuid", h.sceneUUID).
				WithTag(viewerIDLogTag, h.viewerID).
				WithTag("msg_type", msgType).
				Error(errors.New("sending message failed").Wrap(err))
		} else if err == nil {
			logs.WithClientID(h.GetClientID()).
				WithTag(appKeyLogTag, h.appKey).
				WithTag(sceneIDLogTag, h.sceneID).
				WithTag("scene_uuid", h.sceneUUID).
				WithTag(viewerIDLogTag, h.viewerID).
				WithTag("msg_type", msgType).
				Debug("message sent")
		}
		return n, err
	}
}

func (h *handlerWithLogs) Close() {
	h.Handler.Close()
	h.closeSummaryWorker()
	h.logSummary()
}

func (h *handlerWithLogs) startSummaryWorker(ctx context.Context) {
	ticker := time.NewTicker(h.summaryInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case <-ticker.C:
			h.logSummary()
		}
	}
}

func (h *handlerWithLogs) incCounter(msgType string) {
	h.counterMutex.Lock()
	defer h.counterMutex.Unlock()

	h.counter[msgType]++
}

func (h *handlerWithLogs) logSummary() {
	h.counterMutex.Lock()
	defer h.counterMutex.Unlock()

	if len(h.counter) == 0 {
		return
	}

	entry := logs.
		WithClientID(h.GetClientID()).
		WithTag(appKeyLogTag, h.appKey).
		WithTag(viewerIDLogTag, h.viewerID).
		WithTag(sceneIDLogTag, h.sceneID).
		WithTag("scene_uuid", h.sceneUUID).
		WithTag("time_interval", h.summaryInterval)

	for k, v := range h.counter {
		entry = entry.WithTag(k, v)
		delete(h.counter, k)
	}

	entry.Info("inbound message summary")
}
