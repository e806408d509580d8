// fabrikd is the Fabrik cache daemon: it serves the HTTP build-tool
// adapters, the inter-layer gRPC protocol, and the observability API over
// whatever local/regional cascade internal/config describes, until told to
// shut down.
//
// Usage:
//
//	fabrikd --config fabrik.toml
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"time"

	"google.golang.org/grpc"

	"github.com/tuist/fabrik/internal/activation"
	"github.com/tuist/fabrik/internal/adapters/bazel"
	"github.com/tuist/fabrik/internal/adapters/httpcas"
	"github.com/tuist/fabrik/internal/adapters/sccache"
	"github.com/tuist/fabrik/internal/adapters/xcode"
	"github.com/tuist/fabrik/internal/auth"
	"github.com/tuist/fabrik/internal/composer"
	"github.com/tuist/fabrik/internal/config"
	"github.com/tuist/fabrik/internal/daemon"
	"github.com/tuist/fabrik/internal/diskstore"
	"github.com/tuist/fabrik/internal/grpccodec"
	"github.com/tuist/fabrik/internal/layerrpc"
	"github.com/tuist/fabrik/internal/observability"
	"github.com/tuist/fabrik/internal/origin"
	"github.com/tuist/fabrik/internal/peer"
)

var configFlag = flag.String("config", "", "path to fabrik.toml (required)")

func main() {
	flag.Parse()
	logger := log.New(os.Stderr, "fabrikd: ", log.LstdFlags)

	if *configFlag == "" {
		logger.Fatal("--config is required")
	}
	if err := run(*configFlag, logger); err != nil {
		logger.Fatal(err)
	}
}

func run(configPath string, logger *log.Logger) error {
	cfg, err := config.Load(configPath, os.LookupEnv)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	local, err := diskstore.Open(diskstore.Options{
		Path:           cfg.Cache.Dir,
		MaxSize:        cfg.Cache.MaxSize,
		EvictionPolicy: diskstore.Policy(cfg.Cache.EvictionPolicy),
		DefaultTTL:     cfg.Cache.DefaultTTL,
		Logger:         logger,
	})
	if err != nil {
		return fmt.Errorf("opening local cache: %w", err)
	}
	defer local.Close()

	facade, err := observability.New(Version)
	if err != nil {
		return fmt.Errorf("building observability facade: %w", err)
	}
	defer facade.Shutdown(context.Background())

	entries, closeUpstreams, err := buildUpstreams(context.Background(), cfg, logger)
	if err != nil {
		return fmt.Errorf("building upstreams: %w", err)
	}
	defer closeUpstreams()

	if cfg.P2P.Enabled {
		racingEntry, err := buildPeerUpstream(cfg, logger)
		if err != nil {
			return fmt.Errorf("building peer layer: %w", err)
		}
		// LAN peers are consulted before regional/origin upstreams.
		entries = append([]composer.Entry{racingEntry}, entries...)
	}

	cascade := composer.New(local, entries, facade, logger)

	validator := buildValidator(cfg)

	identity, err := activation.IdentityForFile(configPath)
	if err != nil {
		return fmt.Errorf("computing daemon identity: %w", err)
	}
	dataHome := os.Getenv("XDG_DATA_HOME")
	if dataHome == "" {
		home, _ := os.UserHomeDir()
		dataHome = home + "/.local/share"
	}
	stateDir := activation.StateDir(dataHome, identity)

	httpMux := buildHTTPMux(cascade, local, facade, validator)
	grpcServer := buildGRPCServer(cascade, cfg, validator)

	daemonCfg := daemon.Config{
		StateDir:                stateDir,
		ConfigPath:              configPath,
		HTTPAddr:                cfg.Server.Bind,
		MetricsAddr:             cfg.Observability.MetricsBind,
		GracefulShutdownTimeout: cfg.Runtime.GracefulShutdownTimeout,
		HTTPHandler:             httpMux,
		MetricsHandler:          facade.MetricsHandler(),
		GRPCServer:              grpcServer,
		Logger:                  logger,
	}

	// With a unix-socket path configured, the Xcode adapter gets its own
	// listener and gRPC server instead of sharing the TCP one, per §4.6:
	// Xcode's plugin API dials a local socket path, not a host:port.
	if cfg.Daemon.Socket != "" {
		xcodeLis, xcodeAddr, err := xcode.Listen("", cfg.Daemon.Socket)
		if err != nil {
			return fmt.Errorf("listening on xcode socket: %w", err)
		}
		xcodeServer := grpc.NewServer(grpcServerOptions(validator)...)
		xcode.RegisterServices(xcodeServer, xcode.NewServer(cascade))
		daemonCfg.XcodeListener = xcodeLis
		daemonCfg.XcodeServer = xcodeServer
		daemonCfg.XcodeAddr = xcodeAddr
	}

	d, err := daemon.New(daemonCfg)
	if err != nil {
		return fmt.Errorf("constructing daemon: %w", err)
	}

	return d.Run(context.Background())
}

// buildUpstreams turns cfg.Upstream into composer.Entry values: a
// bucket-backed entry becomes an internal/origin.Adapter, everything else
// dials a peer layer over gRPC via internal/layerrpc.Client.
func buildUpstreams(ctx context.Context, cfg config.Config, logger *log.Logger) ([]composer.Entry, func(), error) {
	var entries []composer.Entry
	var clients []*layerrpc.Client

	closeAll := func() {
		for _, c := range clients {
			c.Close()
		}
	}

	for _, u := range cfg.Upstream {
		logger.Printf("connecting upstream %s", u.URL)
		if u.Endpoint != "" || u.AccessKey != "" {
			adapter, err := origin.New(ctx, origin.Config{
				Bucket:          u.URL,
				Endpoint:        u.Endpoint,
				Region:          u.Region,
				AccessKeyID:     u.AccessKey,
				SecretAccessKey: u.SecretKey,
			})
			if err != nil {
				closeAll()
				return nil, nil, fmt.Errorf("origin adapter for %s: %w", u.URL, err)
			}
			entries = append(entries, composer.Entry{
				Upstream:     originUpstream{adapter},
				Timeout:      u.Timeout,
				ReadOnly:     u.ReadOnly,
				Permanent:    true,
				WriteThrough: u.WriteThrough,
			})
			continue
		}

		client, err := layerrpc.Dial(ctx, u.URL, u.URL, "")
		if err != nil {
			closeAll()
			return nil, nil, fmt.Errorf("dialing upstream %s: %w", u.URL, err)
		}
		clients = append(clients, client)
		entries = append(entries, composer.Entry{
			Upstream:     client,
			Timeout:      u.Timeout,
			ReadOnly:     u.ReadOnly,
			Permanent:    u.Permanent,
			WriteThrough: u.WriteThrough,
		})
	}

	return entries, closeAll, nil
}

// originUpstream adapts internal/origin.Adapter to composer.Upstream by
// naming it for logs and metrics tags.
type originUpstream struct {
	*origin.Adapter
}

func (originUpstream) Name() string { return "origin" }

func buildValidator(cfg config.Config) auth.Validator {
	if !cfg.Auth.Required {
		return nil
	}
	return auth.StaticValidator{Claims: auth.Claims{CanWrite: true}}
}

// buildHTTPMux mounts the build-tool adapter handlers alongside the
// observability API. Admin/listing endpoints read the local tier's index
// directly (localBackend) rather than through the cascade, since artifact
// administration is a property of this daemon's own disk cache, not of the
// read-through chain in front of it.
func buildHTTPMux(cascade *composer.Composer, localBackend observability.Backend, facade *observability.Facade, validator auth.Validator) http.Handler {
	mux := observability.Mux(facade, localBackend, validator, observability.AdminConfig{Enabled: false})

	casMux := http.NewServeMux()
	httpcas.NewHandler(cascade, true).Mount(casMux, "/cache/{hash}")
	mux.Handle("/build-cache/", http.StripPrefix("/build-cache", casMux))
	mux.Handle("/sccache/", http.StripPrefix("/sccache", sccache.NewMux(cascade)))

	return observability.WithRequestID(mux)
}

// grpcServerOptions builds the interceptor chain shared by every gRPC
// server this daemon runs (the main shared listener and, when configured,
// the Xcode socket's own listener), so both enforce the same bearer-token
// policy.
func grpcServerOptions(validator auth.Validator) []grpc.ServerOption {
	if validator == nil {
		return nil
	}
	return []grpc.ServerOption{
		grpc.UnaryInterceptor(layerrpc.AuthUnaryInterceptor(validator)),
		grpc.StreamInterceptor(layerrpc.AuthStreamInterceptor(validator)),
	}
}

func buildGRPCServer(cascade *composer.Composer, cfg config.Config, validator auth.Validator) *grpc.Server {
	grpccodec.Register()
	server := grpc.NewServer(grpcServerOptions(validator)...)

	layerrpc.RegisterLayerServer(server, layerrpc.NewServer(cascade))
	bazel.RegisterServices(server, bazel.NewServer(cascade, 4<<20))
	if cfg.Daemon.Socket == "" {
		// Otherwise Xcode is served on its own socket listener (see run).
		xcode.RegisterServices(server, xcode.NewServer(cascade))
	}

	if cfg.P2P.Enabled {
		machineID, err := peer.LocalMachineID(cfg.P2P.Secret)
		if err == nil {
			gate := peer.NewGate(peer.ConsentMode(cfg.P2P.ConsentMode), peer.LoggingNotifier{})
			peerSrv := peer.NewServer(cascade, []byte(cfg.P2P.Secret), gate, machineID, Version, func() bool { return cfg.P2P.Advertise })
			peer.RegisterPeerServer(server, peerSrv)
		}
	}

	return server
}

// buildPeerUpstream wires the LAN peer pool in as a cascade upstream: peers
// discovered via mDNS are raced against each other for every miss that
// reaches this tier, behind the same per-peer circuit breaker used for
// repeatedly unreachable peers.
func buildPeerUpstream(cfg config.Config, logger *log.Logger) (composer.Entry, error) {
	machineID, err := peer.LocalMachineID(cfg.P2P.Secret)
	if err != nil {
		return composer.Entry{}, fmt.Errorf("resolving local machine id: %w", err)
	}
	table := peer.NewTable(5 * time.Minute)
	breakers := peer.NewBreakers()
	racing := peer.NewRacingClient(table, breakers, []byte(cfg.P2P.Secret), machineID)

	if cfg.P2P.Discovery {
		browser := peer.NewBrowser(table, logger)
		go browser.Run(context.Background())
	}

	return composer.Entry{
		Upstream:  racing,
		ReadOnly:  true,
		Permanent: false,
	}, nil
}

// Version is overridden at build time via -ldflags.
var Version = "dev"
