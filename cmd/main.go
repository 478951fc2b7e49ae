package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/pprof"
	"net/url"
	"os"
	"reflect"
	"syscall"
	"time"

	"github.com/aukilabs/go-tooling/pkg/cli"
	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/aukilabs/go-tooling/pkg/logs"
	"github.com/aukilabs/go-tooling/pkg/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/segmentio/encoding/json"
	"github.com/tilemesh/tilemesh/featureflag"
	tilemeshhttp "github.com/tilemesh/tilemesh/http"
	"github.com/tilemesh/tilemesh/models"
	"github.com/tilemesh/tilemesh/modules"
	"github.com/tilemesh/tilemesh/modules/probe"
	"github.com/tilemesh/tilemesh/quadtree"
	"github.com/tilemesh/tilemesh/smoketest"
	"github.com/tilemesh/tilemesh/telemetry"
	twebsocket "github.com/tilemesh/tilemesh/websocket"
	"golang.org/x/net/websocket"
)

var (
	// The Tilemesh version number. Set at build.
	version = "v0.1.0"

	infoGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name:        "tilemesh_info",
		Help:        "Tilemesh information.",
		ConstLabels: prometheus.Labels{"version": version},
	})
)

// This will effectively disable obfuscation of the config struct. Without it, the keys would get obfuscated causing the cli package to generate garbled command-line options.
// https://github.com/burrowers/garble/issues/403
var _ = reflect.TypeOf(config{})

type config struct {
	Addr               string          `cli:""        env:"TILEMESH_ADDR"                 help:"Listening address for client connections."`
	AdminAddr          string          `cli:""        env:"TILEMESH_ADMIN_ADDR"           help:"Admin listening address."`
	PublicEndpoint     string          `cli:""        env:"TILEMESH_PUBLIC_ENDPOINT"      help:"The public endpoint where this Tilemesh server is reachable."`
	AccessToken        string          `cli:""        env:"TILEMESH_ACCESS_TOKEN"         help:"The access token clients must present. Empty disables authentication."`
	LogLevel           string          `cli:""        env:"TILEMESH_LOG_LEVEL"            help:"Log level (debug|info|warning|error)."`
	LogIndent          bool            `cli:""        env:"TILEMESH_LOG_INDENT"           help:"Indent logs."`
	SyncClockInterval  time.Duration   `cli:",hidden" env:"TILEMESH_SYNC_CLOCK_INTERVAL"  help:"Client sync clock (heartbeat) message interval."`
	ClientIdleTimeout  time.Duration   `cli:",hidden" env:"TILEMESH_CLIENT_IDLE_TIMEOUT"  help:"Time until an idle client will be disconnected."`
	FrameDuration      time.Duration   `cli:",hidden" env:"TILEMESH_FRAME_DURATION"       help:"The duration of a scene frame."`
	LogSummaryInterval time.Duration   `cli:",hidden" env:"TILEMESH_LOG_SUMMARY_INTERVAL" help:"The duration between each log summary by connection."`
	DefaultTileSize    float64         `cli:",hidden" env:"TILEMESH_DEFAULT_TILE_SIZE"    help:"Leaf tile size for scenes created without explicit dimensions."`
	DefaultExtentX     int             `cli:",hidden" env:"TILEMESH_DEFAULT_EXTENT_X"     help:"Horizontal root node count for scenes created without explicit dimensions."`
	DefaultExtentY     int             `cli:",hidden" env:"TILEMESH_DEFAULT_EXTENT_Y"     help:"Vertical root node count for scenes created without explicit dimensions."`
	Telemetry          telemetryConfig `cli:",hidden" env:"-"                             help:"Telemetry forwarder configuration."`
	FeatureFlags       []string        `cli:",hidden" env:"TILEMESH_FEATURE_FLAGS"        help:"Comma separated feature flags."`
	Version            bool            `cli:""        env:"-"                             help:"Show version."`
	Help               bool            `cli:""        env:"-"                             help:"Show help."`
}

type telemetryConfig struct {
	Endpoint      string        `cli:",hidden" env:"TILEMESH_TELEMETRY_ENDPOINT"       help:"Endpoint to where selection stats are forwarded. Empty disables forwarding."`
	FlushInterval time.Duration `cli:",hidden" env:"TILEMESH_TELEMETRY_FLUSH_INTERVAL" help:"The duration between each stats flush."`
	BatchSize     int           `cli:",hidden" env:"TILEMESH_TELEMETRY_BATCH_SIZE"     help:"The maximum number of stats sent at once."`
	QueueSize     int           `cli:",hidden" env:"TILEMESH_TELEMETRY_QUEUE_SIZE"     help:"The size of the queue where stats are buffered."`
}

// endpointIdentity names this server in global scene ids after the host
// part of its public endpoint.
type endpointIdentity struct {
	serverID string
}

func newEndpointIdentity(publicEndpoint string) endpointIdentity {
	id := "local"
	if u, err := url.Parse(publicEndpoint); err == nil && u.Host != "" {
		id = u.Host
	}
	return endpointIdentity{serverID: id}
}

func (i endpointIdentity) ServerID() string {
	return i.serverID
}

func main() {
	conf := config{
		Addr:               ":4000",
		AdminAddr:          ":18190",
		PublicEndpoint:     "http://localhost:4000",
		LogLevel:           logs.InfoLevel.String(),
		SyncClockInterval:  time.Second * 5,
		ClientIdleTimeout:  time.Minute * 5,
		FrameDuration:      time.Millisecond * 15,
		LogSummaryInterval: time.Minute,
		DefaultTileSize:    32,
		DefaultExtentX:     8,
		DefaultExtentY:     8,
		Telemetry: telemetryConfig{
			FlushInterval: time.Second * 5,
			BatchSize:     64,
			QueueSize:     512,
		},
	}

	// set the information gauge to 1, useful for SUM query
	infoGauge.Set(1)

	ctx, cancel := cli.ContextWithSignals(context.Background(),
		os.Interrupt,
		syscall.SIGTERM,
	)
	defer cancel()

	cli.Register().
		Help("Starts Tilemesh server.").
		Options(&conf)
	cli.Load()

	if conf.Version {
		fmt.Println(version)
		os.Exit(0)
	}

	if err := validateConfig(conf); err != nil {
		logs.Fatal(err)
	}

	logs.SetLevel(logs.ParseLevel(conf.LogLevel))
	logs.Encoder = json.Marshal
	if conf.LogIndent {
		logs.Encoder = func(v any) ([]byte, error) {
			return json.MarshalIndent(v, "", "  ")
		}
	}

	errors.Encoder = json.Marshal

	var statsChan chan telemetry.SelectionStats
	if conf.Telemetry.Endpoint != "" {
		statsChan = make(chan telemetry.SelectionStats, conf.Telemetry.QueueSize)
		forwarder := telemetry.Forwarder{
			Endpoint:      conf.Telemetry.Endpoint,
			StatsChan:     statsChan,
			BatchSize:     conf.Telemetry.BatchSize,
			FlushInterval: conf.Telemetry.FlushInterval,
			Client: &http.Client{
				Transport: metrics.HTTPTransport(http.DefaultTransport),
			},
		}
		go forwarder.HandleStats(ctx)
	}

	scenes := models.SceneStore{
		Identity: newEndpointIdentity(conf.PublicEndpoint),
	}

	var service http.ServeMux

	service.HandleFunc("/health", tilemeshhttp.HandleWithCORS(tilemeshhttp.HandleHealthCheck))
	service.HandleFunc("/version", tilemeshhttp.HandleWithCORS(tilemeshhttp.HandleVersion(version)))

	readinessCheck := func() bool {
		// scenes are created on demand, ready as soon as the store serves
		// lookups
		_, _ = scenes.GetByGlobalID("")
		return true
	}
	service.HandleFunc("/ready", tilemeshhttp.HandleWithCORS(tilemeshhttp.HandleReadyCheck(readinessCheck)))

	service.HandleFunc("/smoke-test", tilemeshhttp.VerifyAccessTokenHandler(conf.AccessToken,
		smoketest.HandleSmokeTest(ctx, smoketest.Options{
			Endpoint:  conf.PublicEndpoint,
			UserAgent: fmt.Sprintf("Tilemesh %s", version),
			SendResult: func(_ context.Context, res smoketest.Results) error {
				logs.WithTag("from_endpoint", res.FromEndpoint).
					WithTag("to_endpoint", res.ToEndpoint).
					WithTag("status", res.Status).
					WithTag("latency_ms", res.LatencyMilliSec).
					WithTag("instance_count", res.InstanceCount).
					WithTag("error", res.Error).
					Info("smoke test completed")
				return nil
			},
		})))

	wsServer := websocket.Server{
		Handshake: tilemeshhttp.VerifyAccessToken(conf.AccessToken),
		Handler: func(conn *websocket.Conn) {
			defer conn.Close()

			var rh twebsocket.Handler = &twebsocket.RealtimeHandler{
				ClientSyncClockInterval: conf.SyncClockInterval,
				ClientIdleTimeout:       conf.ClientIdleTimeout,
				FrameDuration:           conf.FrameDuration,
				Scenes:                  &scenes,
				Modules: []modules.Module{
					&probe.Module{},
				},
				FeatureFlags:    featureflag.New(conf.FeatureFlags),
				DefaultTileSize: float32(conf.DefaultTileSize),
				DefaultExtent: quadtree.Extent{
					X: int32(conf.DefaultExtentX),
					Y: int32(conf.DefaultExtentY),
				},
				StatsChan: statsChan,
			}
			h := twebsocket.HandlerWithLogs(rh, conf.LogSummaryInterval)
			h = twebsocket.HandlerWithMetrics(h, conf.PublicEndpoint)
			defer h.Close()

			twebsocket.Handle(ctx, conn, h)
		},
	}
	service.HandleFunc("/", tilemeshhttp.HandleWithCORS(wsServer.ServeHTTP))

	service.Handle("/ping", websocket.Server{
		Handler: func(ws *websocket.Conn) {
			defer ws.Close()
			io.Copy(ws, ws)
		},
	})

	var admin http.ServeMux
	admin.Handle("/metrics", promhttp.Handler())
	admin.HandleFunc("/health", tilemeshhttp.HandleHealthCheck)
	admin.HandleFunc("/debug/pprof/", pprof.Index)
	admin.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	admin.HandleFunc("/debug/pprof/profile", pprof.Profile)
	admin.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	admin.HandleFunc("/debug/pprof/trace", pprof.Trace)
	admin.Handle("/debug/pprof/goroutine", pprof.Handler("goroutine"))
	admin.Handle("/debug/pprof/heap", pprof.Handler("heap"))
	admin.Handle("/debug/pprof/threadcreate", pprof.Handler("threadcreate"))
	admin.Handle("/debug/pprof/block", pprof.Handler("block"))
	admin.HandleFunc("/ready", tilemeshhttp.HandleReadyCheck(readinessCheck))

	logs.WithTag("version", version).
		WithTag("log_level", conf.LogLevel).
		WithTag("endpoint", conf.PublicEndpoint).
		WithTag("server_id", scenes.Identity.ServerID()).
		Info("starting tilemesh server")

	tilemeshhttp.ListenAndServe(ctx,
		&http.Server{Addr: conf.Addr, Handler: metrics.HTTPHandler(&service,
			tilemeshhttp.MetricsPathFormatter)},
		&http.Server{Addr: conf.AdminAddr, Handler: &admin},
	)
}

func validateConfig(conf config) error {
	if _, err := url.ParseRequestURI(conf.PublicEndpoint); err != nil {
		return errors.New("invalid public endpoint").Wrap(err)
	}

	if conf.DefaultTileSize <= 0 {
		return errors.New("default tile size must be positive")
	}

	if conf.DefaultExtentX <= 0 || conf.DefaultExtentY <= 0 {
		return errors.New("default extent must be positive")
	}

	if conf.FrameDuration <= 0 {
		return errors.New("frame duration must be positive")
	}

	return nil
}
