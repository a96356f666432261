// Package core wires the three subsystems — Upload, Streams, and the
// LAN Peer Fabric — onto one configuration and one host-facing event
// bus, the Go analogue of the original source's single AppState setup
// (§6 "External interfaces").
package core

import (
	"context"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/neohum/edulinker-messenger-tauri/internal/config"
	"github.com/neohum/edulinker-messenger-tauri/internal/discovery"
	_ "github.com/neohum/edulinker-messenger-tauri/internal/hostevents"
	"github.com/neohum/edulinker-messenger-tauri/internal/httphost"
	"github.com/neohum/edulinker-messenger-tauri/internal/peerfabric"
	"github.com/neohum/edulinker-messenger-tauri/internal/peermessaging"
	"github.com/neohum/edulinker-messenger-tauri/internal/streamhttp"
	"github.com/neohum/edulinker-messenger-tauri/internal/streamstore"
	"github.com/neohum/edulinker-messenger-tauri/internal/uploadhttp"
	"github.com/neohum/edulinker-messenger-tauri/internal/uploadstore"
	"github.com/neohum/edulinker-messenger-tauri/pkg/appctx"
	"github.com/neohum/edulinker-messenger-tauri/pkg/events/stream"
)

// Core owns every subsystem's lifetime.
type Core struct {
	cfg config.Config

	Uploads *uploadstore.Store
	Streams *streamstore.Store
	Hub     *discovery.Hub
	Fabric  *peerfabric.Fabric
	Peers   *peermessaging.Messaging
	Devices *discovery.Manager

	httpServer *http.Server
}

// New constructs every subsystem but does not start any background
// task — that happens in Run, under one cancellation context (§5).
func New(cfg config.Config) (*Core, error) {
	hostBus := stream.New()

	uploads, err := uploadstore.New(cfg.Upload, hostBus)
	if err != nil {
		return nil, err
	}

	streams, err := streamstore.Open(cfg.Stream.DatabasePath, cfg.Stream.BroadcastCap, time.Duration(cfg.Stream.RetentionSecs)*time.Second)
	if err != nil {
		return nil, err
	}

	hub, err := discovery.NewHub(cfg.Discovery.Port, cfg.Discovery.FallbackAttempts)
	if err != nil {
		return nil, err
	}

	fabric := peerfabric.New(peerfabric.Config{
		UDPPort:        cfg.Messaging.UDPPort,
		TCPPort:        cfg.Messaging.TCPPort,
		SchoolID:       cfg.Messaging.SchoolID,
		BroadcastEvery: time.Duration(cfg.Messaging.BroadcastEvery) * time.Second,
		CleanupEvery:   time.Duration(cfg.Messaging.CleanupEvery) * time.Second,
		HeartbeatEvery: time.Duration(cfg.Messaging.HeartbeatEvery) * time.Second,
		OfflineAfter:   time.Duration(cfg.Messaging.OfflineAfter) * time.Second,
	}, hub, hostBus)

	messaging := peermessaging.New(peermessaging.Config{
		TCPPort: cfg.Messaging.TCPPort,
		UDPPort: cfg.Messaging.UDPPort,
	}, fabric, streams, hostBus)
	fabric.SetMessaging(messaging)

	devices := discovery.NewManager(hub, fabric.LocalPeerID())

	uploadHandler := uploadhttp.New(uploads, cfg.HTTP.TusPrefix, cfg.Upload.MaxSizeBytes)
	streamHandler := streamhttp.New(streams, cfg.Stream.SSECatchupCap)
	mux := httphost.New(uploadHandler, streamHandler, cfg.HTTP.TusPrefix, cfg.HTTP.StreamPrefix)

	return &Core{
		cfg:     cfg,
		Uploads: uploads,
		Streams: streams,
		Hub:     hub,
		Fabric:  fabric,
		Peers:   messaging,
		Devices: devices,
		httpServer: &http.Server{
			Addr:    cfg.HTTP.Address,
			Handler: mux,
		},
	}, nil
}

// Run starts every long-lived task (§5 "every long-lived responsibility
// ... is its own task") under one errgroup so a fatal failure in any
// one of them cancels the rest, and blocks until ctx is cancelled or a
// task fails.
func (c *Core) Run(ctx context.Context, logger *zerolog.Logger) error {
	ctx = appctx.WithLogger(ctx, logger)
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error { c.Hub.Run(gctx); return nil })
	g.Go(func() error { return c.Fabric.Start(gctx) })
	g.Go(func() error { c.Devices.Run(gctx); return nil })
	g.Go(func() error { c.Uploads.RunCleanupSweep(gctx); return nil })
	g.Go(func() error { c.runStreamRetentionSweep(gctx); return nil })
	g.Go(func() error { return c.runHTTPServer(gctx) })

	return g.Wait()
}

func (c *Core) runHTTPServer(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() { errCh <- c.httpServer.ListenAndServe() }()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return c.httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}

// runStreamRetentionSweep periodically purges messages past the
// configured retention window from every stream (§4.C retention,
// mirroring uploadstore's own RunCleanupSweep pattern).
func (c *Core) runStreamRetentionSweep(ctx context.Context) {
	if c.cfg.Stream.RetentionSecs <= 0 {
		return
	}
	t := time.NewTicker(time.Hour)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			for _, st := range c.Streams.ListStreams() {
				_, _ = c.Streams.CleanupOldMessages(st.Path)
			}
		}
	}
}
