// Package daemon runs the fabrik server process: it binds the HTTP, gRPC,
// and metrics listeners, publishes their ports, and carries out the
// graceful-shutdown and crash-recovery sequence described for activation.
// It knows nothing about caches or adapters — callers hand it already-built
// http.Handler and grpc.Server values to serve.
package daemon

import (
	"context"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"google.golang.org/grpc"

	"github.com/tuist/fabrik/internal/activation"
	"github.com/tuist/fabrik/internal/lock"
)

// Config bundles everything Run needs beyond wiring the handlers.
type Config struct {
	StateDir   string
	ConfigPath string

	HTTPAddr    string // e.g. "127.0.0.1:0"
	GRPCAddr    string
	MetricsAddr string

	GracefulShutdownTimeout time.Duration

	HTTPHandler    http.Handler
	MetricsHandler http.Handler
	GRPCServer     *grpc.Server

	// XcodeListener/XcodeServer, when both set, serve the Xcode adapter over
	// a transport of its own (typically a unix socket) instead of the
	// shared gRPC listener. XcodeAddr is published in ports.json verbatim
	// for activation to forward as XCODE_CACHE_SERVER.
	XcodeListener net.Listener
	XcodeServer   *grpc.Server
	XcodeAddr     string

	Logger *log.Logger
}

// Daemon owns the three listeners and the state-directory lifecycle for one
// activation identity.
type Daemon struct {
	cfg       Config
	log       *log.Logger
	sentinel  *lock.Sentinel
	httpLis   net.Listener
	grpcLis   net.Listener
	metricLis net.Listener
}

// New acquires the state directory's run lock (refusing to start a second
// daemon against the same identity) but does not yet bind any sockets.
func New(cfg Config) (*Daemon, error) {
	if cfg.Logger == nil {
		cfg.Logger = log.New(os.Stderr, "fabrikd: ", log.LstdFlags)
	}
	if cfg.GracefulShutdownTimeout == 0 {
		cfg.GracefulShutdownTimeout = 30 * time.Second
	}

	// A distinct path from activation.Activate's spawn-coordination lock
	// (".spawn.lock"): that lock is held across this daemon's own startup,
	// so sharing one file here would deadlock every spawn.
	sentinel, acquired, err := lock.TryAcquire(fmt.Sprintf("%s.daemon.lock", cfg.StateDir))
	if err != nil {
		return nil, fmt.Errorf("daemon: acquiring run lock: %w", err)
	}
	if !acquired {
		return nil, fmt.Errorf("daemon: another daemon already holds the run lock for %s", cfg.StateDir)
	}

	return &Daemon{cfg: cfg, log: cfg.Logger, sentinel: sentinel}, nil
}

// Run binds all configured listeners, publishes ports.json and pid
// atomically once every socket is live, then serves until ctx is canceled
// or a SIGTERM/SIGINT arrives, at which point it performs the graceful
// shutdown sequence from the activation spec and returns.
func (d *Daemon) Run(ctx context.Context) (err error) {
	defer func() {
		if relErr := d.sentinel.Release(); relErr != nil && err == nil {
			err = relErr
		}
	}()

	if err := d.bindListeners(); err != nil {
		return err
	}

	if err := activation.WritePID(d.cfg.StateDir, os.Getpid()); err != nil {
		return fmt.Errorf("daemon: writing pid: %w", err)
	}
	if err := activation.WriteConfigPath(d.cfg.StateDir, d.cfg.ConfigPath); err != nil {
		return err
	}
	ports := activation.Ports{
		HTTP:    portOf(d.httpLis),
		GRPC:    portOf(d.grpcLis),
		Metrics: portOf(d.metricLis),
		Xcode:   d.cfg.XcodeAddr,
	}
	if err := activation.WritePorts(d.cfg.StateDir, ports); err != nil {
		return fmt.Errorf("daemon: publishing ports: %w", err)
	}
	d.log.Printf("listening: http=%d grpc=%d metrics=%d pid=%d", ports.HTTP, ports.GRPC, ports.Metrics, os.Getpid())

	sigCtx, stop := signal.NotifyContext(ctx, syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	errs := make(chan error, 3)
	httpSrv := &http.Server{Handler: d.cfg.HTTPHandler}
	metricsSrv := &http.Server{Handler: d.cfg.MetricsHandler}

	go func() { errs <- serveOrNil(httpSrv.Serve(d.httpLis)) }()
	go func() {
		if d.cfg.GRPCServer != nil {
			errs <- d.cfg.GRPCServer.Serve(d.grpcLis)
		}
	}()
	if d.cfg.MetricsHandler != nil {
		go func() { errs <- serveOrNil(metricsSrv.Serve(d.metricLis)) }()
	}
	if d.cfg.XcodeServer != nil && d.cfg.XcodeListener != nil {
		go func() { errs <- d.cfg.XcodeServer.Serve(d.cfg.XcodeListener) }()
	}

	select {
	case <-sigCtx.Done():
		d.log.Printf("shutdown signal received")
	case serveErr := <-errs:
		if serveErr != nil {
			d.log.Printf("listener exited unexpectedly: %v", serveErr)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), d.cfg.GracefulShutdownTimeout)
	defer cancel()
	httpSrv.Shutdown(shutdownCtx)
	metricsSrv.Shutdown(shutdownCtx)
	if d.cfg.GRPCServer != nil {
		done := make(chan struct{})
		go func() { d.cfg.GRPCServer.GracefulStop(); close(done) }()
		select {
		case <-done:
		case <-shutdownCtx.Done():
			d.cfg.GRPCServer.Stop()
		}
	}
	if d.cfg.XcodeServer != nil {
		done := make(chan struct{})
		go func() { d.cfg.XcodeServer.GracefulStop(); close(done) }()
		select {
		case <-done:
		case <-shutdownCtx.Done():
			d.cfg.XcodeServer.Stop()
		}
	}

	if err := activation.RemoveState(d.cfg.StateDir); err != nil {
		d.log.Printf("removing state directory contents: %v", err)
	}
	return nil
}

func (d *Daemon) bindListeners() error {
	var err error
	if d.httpLis, err = net.Listen("tcp", withDefault(d.cfg.HTTPAddr, "127.0.0.1:0")); err != nil {
		return fmt.Errorf("daemon: binding http listener: %w", err)
	}
	if d.grpcLis, err = net.Listen("tcp", withDefault(d.cfg.GRPCAddr, "127.0.0.1:0")); err != nil {
		return fmt.Errorf("daemon: binding grpc listener: %w", err)
	}
	if d.cfg.MetricsHandler != nil {
		if d.metricLis, err = net.Listen("tcp", withDefault(d.cfg.MetricsAddr, "127.0.0.1:0")); err != nil {
			return fmt.Errorf("daemon: binding metrics listener: %w", err)
		}
	}
	return nil
}

func withDefault(addr, def string) string {
	if addr == "" {
		return def
	}
	return addr
}

func portOf(lis net.Listener) int {
	if lis == nil {
		return 0
	}
	return lis.Addr().(*net.TCPAddr).Port
}

func serveOrNil(err error) error {
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}
