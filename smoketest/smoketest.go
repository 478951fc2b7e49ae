// Package smoketest exercises a running tilemesh server end to end: it
// joins a scene over the realtime endpoint, edits regions, waits for the
// rebuild and runs a LOD selection plus a height probe, reporting whether
// the full pipeline answered. It is used as a release gate and exposed to
// operators through an HTTP trigger.
package smoketest

import (
	"context"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/aukilabs/go-tooling/pkg/logs"
	"github.com/google/uuid"
	"github.com/segmentio/encoding/json"
	httpcmn "github.com/tilemesh/tilemesh/http"
	"github.com/tilemesh/tilemesh/messages"
	"golang.org/x/net/websocket"
)

const defaultTimeout = time.Second * 10

// Status reports how a smoke test run ended.
type Status string

const (
	StatusSuccess Status = "success"
	StatusFailed  Status = "failed"
)

// Results is the outcome of one smoke test run.
type Results struct {
	FromEndpoint    string    `json:"from_endpoint"`
	ToEndpoint      string    `json:"to_endpoint"`
	LatencyMilliSec float64   `json:"latency_ms"`
	InstanceCount   int       `json:"instance_count"`
	Status          Status    `json:"status"`
	Error           string    `json:"error,omitempty"`
	Timestamp       time.Time `json:"timestamp"`
}

// Request asks a server to smoke test the given endpoint.
type Request struct {
	Endpoint string        `json:"endpoint"`
	Token    string        `json:"token,omitempty"`
	Timeout  time.Duration `json:"timeout,omitempty"`
}

// Options configures the smoke test HTTP trigger.
type Options struct {
	// Endpoint is the public endpoint of this server, reported as the
	// test origin.
	Endpoint string

	// UserAgent identifies the smoke test client.
	UserAgent string

	// SendResult delivers the results once a run completed.
	SendResult func(context.Context, Results) error
}

type testCtxKey string

var testCtxKeyValue testCtxKey = "test-context"

type testContext struct {
	context.Context
	Cancel func()
}

// HandleSmokeTest returns an HTTP handler that launches a smoke test run
// in the background and reports the results through opts.SendResult.
func HandleSmokeTest(ctx context.Context, opts Options) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		b, err := io.ReadAll(r.Body)
		if err != nil {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}

		var req Request
		if err := json.Unmarshal(b, &req); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}

		go func() {
			defer func() {
				// if context is of testContext
				// cancel context on exit to signal function exited
				// this is used for testing
				if tctx := ctx.Value(testCtxKeyValue); tctx != nil {
					testCtx := tctx.(testContext)
					if testCtx.Cancel != nil {
						testCtx.Cancel()
					}
				}
			}()

			res, err := RunSmokeTest(ctx, RunOptions{
				FromEndpoint: opts.Endpoint,
				ToEndpoint:   req.Endpoint,
				Token:        req.Token,
				UserAgent:    opts.UserAgent,
				Timeout:      req.Timeout,
			})
			if err != nil {
				logs.Warn(err)
			}

			if err := opts.SendResult(ctx, res); err != nil {
				logs.WithTag("from_endpoint", opts.Endpoint).
					WithTag("to_endpoint", req.Endpoint).
					Warn(errors.New("sending smoke test result failed").Wrap(err))
			}
		}()

		w.WriteHeader(http.StatusOK)
	}
}

// RunOptions configures one smoke test run.
type RunOptions struct {
	FromEndpoint string
	ToEndpoint   string
	Token        string
	UserAgent    string
	Timeout      time.Duration
}

// RunSmokeTest runs the scenario against the target endpoint: ping, scene
// join, region add, rebuild broadcast, LOD selection, height probe.
func RunSmokeTest(ctx context.Context, opts RunOptions) (Results, error) {
	res := Results{
		FromEndpoint: opts.FromEndpoint,
		ToEndpoint:   opts.ToEndpoint,
		Status:       StatusFailed,
		Timestamp:    time.Now().UTC(),
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	conn, err := dial(opts)
	if err != nil {
		res.Error = err.Error()
		return res, err
	}
	defer conn.Close()

	if err := conn.SetDeadline(time.Now().Add(timeout)); err != nil {
		res.Error = err.Error()
		return res, errors.New("setting connection deadline failed").Wrap(err)
	}

	fail := func(err error) (Results, error) {
		res.Error = err.Error()
		return res, err
	}

	// Round trip latency over a ping.
	pingStart := time.Now()
	if err := send(conn, &messages.Request{
		RequestHeader: messages.NewRequestHeader(messages.MsgTypePingRequest, 1),
	}); err != nil {
		return fail(err)
	}
	if _, err := receive(conn, messages.MsgTypePingResponse, 1); err != nil {
		return fail(err)
	}
	res.LatencyMilliSec = float64(time.Since(pingStart)) / float64(time.Millisecond)

	if err := send(conn, &messages.SceneJoinRequest{
		RequestHeader: messages.NewRequestHeader(messages.MsgTypeSceneJoinRequest, 2),
	}); err != nil {
		return fail(err)
	}
	joinMsg, err := receive(conn, messages.MsgTypeSceneJoinResponse, 2)
	if err != nil {
		return fail(err)
	}
	var join messages.SceneJoinResponse
	if err := joinMsg.DataTo(&join); err != nil {
		return fail(err)
	}

	// A region spanning the whole mesh keeps the selection deterministic:
	// one uniform material, at least one instance whatever the LOD bands.
	halfX := join.TileSize * float32(join.ExtentX)
	halfY := join.TileSize * float32(join.ExtentY)
	if err := send(conn, &messages.RegionAddRequest{
		RequestHeader: messages.NewRequestHeader(messages.MsgTypeRegionAddRequest, 3),
		Bounds: messages.Box{
			Min: messages.Vec3{X: -halfX, Y: -halfY, Z: 0},
			Max: messages.Vec3{X: halfX, Y: halfY, Z: 1},
		},
		Material:   "smoke-test",
		BaseHeight: 1,
	}); err != nil {
		return fail(err)
	}
	if _, err := receive(conn, messages.MsgTypeRegionAddResponse, 3); err != nil {
		return fail(err)
	}

	if _, err := receive(conn, messages.MsgTypeSceneRebuiltBroadcast, 0); err != nil {
		return fail(err)
	}

	if err := send(conn, &messages.LODSelectRequest{
		RequestHeader: messages.NewRequestHeader(messages.MsgTypeLODSelectRequest, 4),
		LODScale:      join.TileSize,
		DensityCount:  4,
		LowestLOD:     8,
	}); err != nil {
		return fail(err)
	}
	selectMsg, err := receive(conn, messages.MsgTypeLODSelectResponse, 4)
	if err != nil {
		return fail(err)
	}
	var selection messages.LODSelectResponse
	if err := selectMsg.DataTo(&selection); err != nil {
		return fail(err)
	}
	if len(selection.Instances) == 0 {
		return fail(errors.New("smoke test selection emitted no instance").
			WithTag("to_endpoint", opts.ToEndpoint))
	}
	res.InstanceCount = len(selection.Instances)

	if err := send(conn, &messages.HeightQueryRequest{
		RequestHeader: messages.NewRequestHeader(messages.MsgTypeHeightQueryRequest, 5),
	}); err != nil {
		return fail(err)
	}
	probeMsg, err := receive(conn, messages.MsgTypeHeightQueryResponse, 5)
	if err != nil {
		return fail(err)
	}
	var probe messages.HeightQueryResponse
	if err := probeMsg.DataTo(&probe); err != nil {
		return fail(err)
	}
	if !probe.Found {
		return fail(errors.New("smoke test height probe missed").
			WithTag("to_endpoint", opts.ToEndpoint))
	}

	res.Status = StatusSuccess
	return res, nil
}

func dial(opts RunOptions) (*websocket.Conn, error) {
	wsEndpoint := strings.ReplaceAll(opts.ToEndpoint, "http://", "ws://")
	wsEndpoint = strings.ReplaceAll(wsEndpoint, "https://", "wss://")

	config, err := websocket.NewConfig(wsEndpoint, "http://localhost")
	if err != nil {
		return nil, errors.New("initializing smoke test connection failed").
			WithTag("to_endpoint", opts.ToEndpoint).
			Wrap(err)
	}

	if opts.UserAgent != "" {
		config.Header.Set("User-Agent", opts.UserAgent)
	}
	config.Header.Set(httpcmn.HeaderTilemeshClientID, uuid.NewString())
	config.Header.Set(httpcmn.HeaderTilemeshAppKey, "smoke-test")
	if opts.Token != "" {
		config.Header.Set(httpcmn.HeaderTilemeshAccessToken, opts.Token)
	}

	conn, err := websocket.DialConfig(config)
	if err != nil {
		return nil, errors.New("dialing smoke test connection failed").
			WithTag("to_endpoint", opts.ToEndpoint).
			Wrap(err)
	}
	return conn, nil
}

func send(conn *websocket.Conn, p messages.Payload) error {
	msg, err := messages.FromPayload(p)
	if err != nil {
		return err
	}
	_, err = messages.Send(conn, msg)
	return err
}

// receive reads messages until one matches the wanted type and, when non
// zero, the wanted request id. An error response for the same request id
// fails the run.
func receive(conn *websocket.Conn, want messages.MsgType, requestID uint32) (messages.Msg, error) {
	for {
		msg, _, err := messages.Receive(conn)
		if err != nil {
			return messages.Msg{}, errors.New("receiving smoke test message failed").Wrap(err)
		}

		var header messages.RequestHeader
		if err := msg.DataTo(&header); err != nil {
			continue
		}

		if msg.Type == messages.MsgTypeError && requestID != 0 && header.RequestID == requestID {
			var errRes messages.ErrorResponse
			msg.DataTo(&errRes)
			return messages.Msg{}, errors.New("smoke test request failed").
				WithTag("msg_type", want.String()).
				WithTag("code", errRes.Code)
		}

		if msg.Type != want {
			continue
		}
		if requestID != 0 && header.RequestID != requestID {
			continue
		}
		return msg, nil
	}
}
