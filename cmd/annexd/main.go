package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/hollowsky/annex/internal/auth"
	"github.com/hollowsky/annex/internal/cache"
	"github.com/hollowsky/annex/internal/config"
	"github.com/hollowsky/annex/internal/discovery"
	"github.com/hollowsky/annex/internal/fswatch"
	"github.com/hollowsky/annex/internal/httpapi"
	"github.com/hollowsky/annex/internal/metadata"
	"github.com/hollowsky/annex/internal/provider"
	"github.com/hollowsky/annex/internal/provider/cacheprovider"
	"github.com/hollowsky/annex/internal/provider/driveprovider"
	"github.com/hollowsky/annex/internal/provider/fsprovider"
	"github.com/hollowsky/annex/internal/provider/priority"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		slog.Error("fatal", "err", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	configPath := envOrDefault("ANNEX_CONFIG", "./annex.toml")
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	level := slog.LevelInfo
	_ = level.UnmarshalText([]byte(cfg.Log.Level))
	var handler slog.Handler
	if cfg.Log.Format == "text" {
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	} else {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	}
	log := slog.New(handler)
	slog.SetDefault(log)

	resolver, closeResolver, err := buildResolver(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer closeResolver()

	providers, watchRoots, err := buildProviders(ctx, cfg, resolver, log)
	if err != nil {
		return err
	}

	verifier := &auth.Verifier{
		SignKey:    []byte(cfg.Server.SignKey),
		ShareKey:   []byte(cfg.Server.ShareKey),
		ShareKeyID: cfg.Server.ShareKeyID,
		AdminToken: cfg.Server.AdminToken,
	}

	srv := httpapi.New(cfg.Server.Name, providers, verifier, log)
	if err := srv.Reload(ctx); err != nil {
		return fmt.Errorf("initial reload: %w", err)
	}

	for _, root := range watchRoots {
		go func(root string) {
			if err := fswatch.Watch(ctx, root, srv.Reload, log); err != nil && ctx.Err() == nil {
				log.Error("fswatch stopped", "root", root, "err", err)
			}
		}(root)
	}

	if cfg.Discovery.Enabled {
		_, port, err := net.SplitHostPort(cfg.Server.Listen)
		if err != nil {
			return fmt.Errorf("parse listen address for discovery: %w", err)
		}
		portNum, err := strconv.Atoi(port)
		if err != nil {
			return fmt.Errorf("parse listen port for discovery: %w", err)
		}
		disco, err := discovery.Start(portNum, cfg.Discovery.Name)
		if err != nil {
			log.Warn("discovery failed to start", "err", err)
		} else {
			defer disco.Shutdown()
			go logFederationPeers(ctx, log)
		}
	}

	httpSrv := &http.Server{
		Addr:         cfg.Server.Listen,
		Handler:      srv.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 0, // streaming responses have no write deadline
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		_ = httpSrv.Shutdown(shutCtx)
	}()

	log.Info("listening", "addr", cfg.Server.Listen)
	if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("listen: %w", err)
	}
	return nil
}

// logFederationPeers browses for other annexd instances shortly after
// startup and logs whatever it finds, so an operator enabling
// discovery gets visible confirmation their instance can see its
// federation peers without standing up a separate discovery client.
func logFederationPeers(ctx context.Context, log *slog.Logger) {
	select {
	case <-time.After(2 * time.Second):
	case <-ctx.Done():
		return
	}
	peers, err := discovery.Discover(ctx, 3*time.Second)
	if err != nil {
		log.Warn("federation peer discovery failed", "err", err)
		return
	}
	if len(peers) == 0 {
		log.Info("no federation peers found")
		return
	}
	for _, p := range peers {
		log.Info("federation peer found", "peer", p.String(), "protocol_version", p.ProtocolVersion)
	}
}

func buildResolver(ctx context.Context, cfg *config.Config, log *slog.Logger) (metadata.Resolver, func(), error) {
	if cfg.Metadata.DSN == "" {
		log.Info("no metadata dsn configured, using the deterministic catalog-based resolver")
		return metadata.NewDeterministicResolver(), func() {}, nil
	}
	res, err := metadata.NewPostgresResolver(ctx, cfg.Metadata.DSN, log)
	if err != nil {
		return nil, nil, fmt.Errorf("connect metadata resolver: %w", err)
	}
	if err := res.EnsureSchema(ctx); err != nil {
		res.Close()
		return nil, nil, fmt.Errorf("ensure metadata schema: %w", err)
	}
	return res, res.Close, nil
}

// buildProviders constructs one provider per [providers.<name>] table,
// wrapping each in a cache decorator when a cache table is present,
// and combines them into a single priority-ordered Provider. It also
// returns the set of filesystem roots worth watching for changes.
func buildProviders(ctx context.Context, cfg *config.Config, resolver metadata.Resolver, log *slog.Logger) (provider.Provider, []string, error) {
	if len(cfg.Providers) == 0 {
		return nil, nil, fmt.Errorf("config: no [providers.*] tables configured")
	}

	var pairs []priority.Pair
	var watchRoots []string

	for name, pcfg := range cfg.Providers {
		var p provider.Provider
		switch pcfg.Type {
		case "file":
			p = fsprovider.New(pcfg.Root, resolver, log,
				fsprovider.WithStrict(pcfg.Strict),
				fsprovider.WithMaxLayer(int(pcfg.Layer)),
			)
			watchRoots = append(watchRoots, pcfg.Root)
		case "drive":
			svc, err := driveprovider.NewService(ctx, pcfg.TokenPath)
			if err != nil {
				return nil, nil, fmt.Errorf("config: provider %q: %w", name, err)
			}
			p = driveprovider.New(svc, resolver, driveprovider.Settings{
				Corpora: pcfg.Corpora,
				DriveID: pcfg.DriveID,
				Strict:  pcfg.Strict,
			}, log)
		default:
			return nil, nil, fmt.Errorf("config: provider %q: unknown type %q", name, pcfg.Type)
		}

		if pcfg.Cache != nil {
			pool := cache.NewPool(pcfg.Cache.Root, pcfg.Cache.MaxSize, log)
			p = cacheprovider.New(p, pool)
		}

		pairs = append(pairs, priority.Pair{Priority: pcfg.Priority, Provider: p})
	}

	return priority.New(pairs), watchRoots, nil
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
