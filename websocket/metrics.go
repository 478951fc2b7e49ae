package websocket

import (
	"context"
	"time"

	"github.com/aukilabs/go-tooling/pkg/errors"
	httpcmn "github.com/tilemesh/tilemesh/http"
	"github.com/tilemesh/tilemesh/messages"
	"github.com/tilemesh/tilemesh/modules"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"golang.org/x/net/websocket"
)

const (
	errTypeLabel        = "error_type"
	msgTypeLabel        = "msg_type"
	moduleLabel         = "module"
	publicEndpointLabel = "public_endpoint"
	appKeyLabel         = "app_key"

	defaultModule = "tilemesh"
)

var (
	wsConnectedClients = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "ws_connected_clients",
		Help: "The number of connected clients.",
	}, []string{
		publicEndpointLabel,
		appKeyLabel,
	})

	wsReceivedMsgs = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ws_received_msgs",
		Help: "The number of messages received from WebSocket connections.",
	}, []string{
		publicEndpointLabel,
		msgTypeLabel,
		appKeyLabel,
	})

	wsReceivedBytes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ws_received_bytes",
		Help: "The number of bytes received from WebSocket connections.",
	}, []string{
		publicEndpointLabel,
		msgTypeLabel,
		appKeyLabel,
	})

	wsReceiveError = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ws_receive_errors",
		Help: "The errors that occured while receiving a websocket message.",
	}, []string{
		publicEndpointLabel,
		errTypeLabel,
		appKeyLabel,
	})

	wsSentMsgs = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ws_sent_msgs",
		Help: "The number of messages sent to WebSocket connections.",
	}, []string{
		publicEndpointLabel,
		msgTypeLabel,
		appKeyLabel,
	})

	wsSentBytes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ws_sent_bytes",
		Help: "The number of bytes sent to WebSocket connections.",
	}, []string{
		publicEndpointLabel,
		msgTypeLabel,
		appKeyLabel,
	})

	wsSendError = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ws_send_errors",
		Help: "The errors that occured while sending a websocket message.",
	}, []string{
		publicEndpointLabel,
		errTypeLabel,
		msgTypeLabel,
		appKeyLabel,
	})

	wsMsgLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name: "ws_msg_latency",
		Help: "The time to process a WebSocket msg.",
	}, []string{
		publicEndpointLabel,
		msgTypeLabel,
		moduleLabel,
	})
)

func HandlerWithMetrics(h Handler, publicEndpoint string) Handler {
	return &handlerWithMetrics{
		Handler:        h,
		publicEndpoint: publicEndpoint,
	}
}

type handlerWithMetrics struct {
	Handler

	appKey         string
	publicEndpoint string
}

func (h *handlerWithMetrics) HandleConnect(conn *websocket.Conn) {
	req := conn.Request()
	h.appKey = httpcmn.GetAppKeyFromHTTPRequest(req)

	wsConnectedClients.
		With(prometheus.Labels{
			publicEndpointLabel: h.publicEndpoint,
			appKeyLabel:         h.appKey,
		}).
		Inc()

	h.Handler.HandleConnect(conn)
}

func (h *handlerWithMetrics) HandlePing(ctx context.Context, sender messages.ResponseSender, msg messages.Msg) error {
	return h.measureLatency(msg, defaultModule, func() error {
		return h.Handler.HandlePing(ctx, sender, msg)
	})
}

func (h *handlerWithMetrics) HandleSceneJoin(ctx context.Context, handleFrame func(), sender messages.ResponseSender, msg messages.Msg) error {
	return h.measureLatency(msg, defaultModule, func() error {
		return h.Handler.HandleSceneJoin(ctx, handleFrame, sender, msg)
	})
}

func (h *handlerWithMetrics) HandleDisconnect(err error) {
	wsConnectedClients.
		With(prometheus.Labels{
			publicEndpointLabel: h.publicEndpoint,
			appKeyLabel:         h.appKey,
		}).
		Dec()

	h.Handler.HandleDisconnect(err)
}

func (h *handlerWithMetrics) HandleRegionAdd(ctx context.Context, sender messages.ResponseSender, msg messages.Msg) error {
	return h.measureLatency(msg, defaultModule, func() error {
		return h.Handler.HandleRegionAdd(ctx, sender, msg)
	})
}

func (h *handlerWithMetrics) HandleRegionUpdate(ctx context.Context, sender messages.ResponseSender, msg messages.Msg) error {
	return h.measureLatency(msg, defaultModule, func() error {
		return h.Handler.HandleRegionUpdate(ctx, sender, msg)
	})
}

func (h *handlerWithMetrics) HandleRegionRemove(ctx context.Context, sender messages.ResponseSender, msg messages.Msg) error {
	return h.measureLatency(msg, defaultModule, func() error {
		return h.Handler.HandleRegionRemove(ctx, sender, msg)
	})
}

func (h *handlerWithMetrics) HandleRegionMove(ctx context.Context, msg messages.Msg) error {
	return h.measureLatency(msg, defaultModule, func() error {
		return h.Handler.HandleRegionMove(ctx, msg)
	})
}

func (h *handlerWithMetrics) HandleLODSelect(ctx context.Context, sender messages.ResponseSender, msg messages.Msg) error {
	return h.measureLatency(msg, defaultModule, func() error {
		return h.Handler.HandleLODSelect(ctx, sender, msg)
	})
}

func (h *handlerWithMetrics) HandleUnsupported(ctx context.Context, sender messages.ResponseSender, msg messages.Msg) error {
	return h.measureLatency(msg, defaultModule, func() error {
		return h.Handler.HandleUnsupported(ctx, sender, msg)
	})
}

func (h *handlerWithMetrics) HandleWithModule(ctx context.Context, module modules.Module, sender messages.ResponseSender, msg messages.Msg) error {
	return h.measureLatency(msg, module.Name(), func() error {
		return h.Handler.HandleWithModule(ctx, module, sender, msg)
	})
}

func (h *handlerWithMetrics) SendSyncClock(ctx context.Context, sender messages.ResponseSender) error {
	return h.measureLatency(messages.Msg{Type: messages.MsgTypeSyncClock}, defaultModule, func() error {
		return h.Handler.SendSyncClock(ctx, sender)
	})
}

func (h *handlerWithMetrics) Receiver() messages.Receiver {
	receive := h.Handler.Receiver()

	return func() (messages.Msg, int, error) {
		msg, n, err := receive()
		if err != nil {
			wsReceiveError.
				With(prometheus.Labels{
					publicEndpointLabel: h.publicEndpoint,
					errTypeLabel:        errors.Type(err),
					appKeyLabel:         h.appKey,
				}).
				Inc()
		} else {
			wsReceivedMsgs.
				With(prometheus.Labels{
					publicEndpointLabel: h.publicEndpoint,
					msgTypeLabel:        msg.TypeString(),
					appKeyLabel:         h.appKey,
				}).
				Inc()
		}

		if n != 0 {
			wsReceivedBytes.
				With(prometheus.Labels{
					publicEndpointLabel: h.publicEndpoint,
					msgTypeLabel:        msg.TypeString(),
					appKeyLabel:         h.appKey,
				}).
				Add(float64(n))
		}

		return msg, n, err
	}
}

func (h *handlerWithMetrics) Sender() messages.Sender {
	sender := h.Handler.Sender()

	return func(msg messages.Msg) (int, error) {
		msgType := msg.TypeString()

		n, err := sender(msg)
		if err != nil {
			wsSendError.
				With(prometheus.Labels{
					publicEndpointLabel: h.publicEndpoint,
					msgTypeLabel:        msgType,
					errTypeLabel:        errors.Type(err),
					appKeyLabel:         h.appKey,
				}).
				Inc()
		}

		if n != 0 {
			wsSentMsgs.
				With(prometheus.Labels{
					publicEndpointLabel: h.publicEndpoint,
					msgTypeLabel:        msgType,
					appKeyLabel:         h.appKey,
				}).
				Inc()
			wsSentBytes.
				With(prometheus.Labels{
					publicEndpointLabel: h.publicEndpoint,
					msgTypeLabel:        msgType,
					appKeyLabel:         h.appKey,
				}).
				Add(float64(n))
		}

		return n, err
	}
}

func (h *handlerWithMetrics) measureLatency(msg messages.Msg, module string, f func() error) error {
	start := time.Now()

	err := f()
	if errors.IsType(err, messages.ErrTypeMsgSkip) {
		return err
	}

	wsMsgLatency.With(prometheus.Labels{
		publicEndpointLabel: h.publicEndpoint,
		msgTypeLabel:        msg.TypeString(),
		moduleLabel:         module,
	}).Observe(time.Since(start).Seconds())

	return err
}
