// Command rdnsloopd is an example long-running host process wiring a
// Resolver up to configuration, persistence, diagnostics, and signal
// handling. It demonstrates how an application embeds the resolver
// engine; it is not itself the library's primary deliverable.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/jroosing/rdnsloop"
	"github.com/jroosing/rdnsloop/internal/config"
	"github.com/jroosing/rdnsloop/internal/diag"
	"github.com/jroosing/rdnsloop/internal/ioloop"
	"github.com/jroosing/rdnsloop/internal/logging"
	"github.com/jroosing/rdnsloop/internal/stats"
	"github.com/jroosing/rdnsloop/internal/store"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
}

type cliFlags struct {
	configPath string
	debug      bool
}

func parseFlags() cliFlags {
	var f cliFlags
	flag.StringVar(&f.configPath, "config", "", "Path to YAML config file")
	flag.BoolVar(&f.debug, "debug", false, "Enable debug logging")
	flag.Parse()
	return f
}

func run() error {
	flags := parseFlags()
	instanceID := uuid.New().String()[:8]

	cfg, err := config.Load(config.ResolveConfigPath(flags.configPath))
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if flags.debug {
		cfg.Logging.Level = "DEBUG"
	}

	logger := logging.Configure(logging.Config{
		Level:            cfg.Logging.Level,
		Structured:       cfg.Logging.Structured,
		StructuredFormat: cfg.Logging.StructuredFormat,
		IncludePID:       cfg.Logging.IncludePID,
		ExtraFields:      cfg.Logging.ExtraFields,
	})
	logger.Info("rdnsloopd starting", "instance", instanceID, "store", cfg.Store.DSN)

	st, err := store.Open(cfg.Store.DSN)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	ctx := context.Background()
	if err := st.SetUpstreamServers(ctx, cfg.Upstream.Servers); err != nil {
		return fmt.Errorf("seed upstream servers: %w", err)
	}
	persisted, err := st.UpstreamServers(ctx)
	if err != nil {
		return fmt.Errorf("load upstream servers: %w", err)
	}

	rescan, err := time.ParseDuration(cfg.Resolver.RescanInterval)
	if err != nil {
		return fmt.Errorf("parse resolver.rescan_interval: %w", err)
	}

	var resolver *rdnsloop.Resolver
	loop := ioloop.New(func(ev rdnsloop.Event) { resolver.Dispatch(ev) })
	defer loop.Shutdown()

	resolver = rdnsloop.NewResolver(loop)
	resolver.SetLogger(logger)
	resolver.SetDNSSEC(cfg.Resolver.DNSSEC)
	resolver.SetMaxIOUses(cfg.Resolver.MaxIOCUses, rescan)

	for _, srv := range persisted {
		ip := net.ParseIP(srv.Address)
		if ip == nil {
			logger.Warn("skipping unparseable upstream address", "address", srv.Address)
			continue
		}
		resolver.AddServer(srv.Address, &net.UDPAddr{IP: ip, Port: 53}, srv.Priority, cfg.Upstream.IOCount)
	}

	if err := resolver.Init(); err != nil {
		return fmt.Errorf("init resolver: %w", err)
	}

	fixtures, err := st.FakeReplies(ctx)
	if err != nil {
		return fmt.Errorf("load fake replies: %w", err)
	}
	for _, f := range fixtures {
		resolver.SetFakeReply(f.Name, f.Type, f.RCode, nil)
	}

	runCtx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	logger.Info("resolver ready", "default_query_timeout", cfg.Upstream.Timeout, "max_retries", cfg.Upstream.MaxRetries)

	var diagSrv *http.Server
	if cfg.Diag.Enabled {
		src := &diagSource{resolver: resolver}
		h := diag.NewHandler(src, logger, cfg.Diag.APIKey)
		r := diag.NewRouter(h)
		addr := fmt.Sprintf("%s:%d", cfg.Diag.Host, cfg.Diag.Port)
		diagSrv = &http.Server{Addr: addr, Handler: r}
		logger.Info("diagnostics surface starting", "addr", addr)
		go func() {
			serveErr := diagSrv.ListenAndServe()
			if serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
				logger.Error("diagnostics server error", "err", serveErr)
				cancel()
			}
		}()
	}

	<-runCtx.Done()
	logger.Info("rdnsloopd stopping")

	if diagSrv != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		_ = diagSrv.Shutdown(shutdownCtx)
		shutdownCancel()
	}
	return nil
}

// diagSource adapts *rdnsloop.Resolver to diag.Source so the core
// engine package never needs to import the diagnostics package.
type diagSource struct {
	resolver *rdnsloop.Resolver
}

func (d *diagSource) Servers() []diag.ServerInfo {
	servers := d.resolver.Servers()
	out := make([]diag.ServerInfo, 0, len(servers))
	for _, s := range servers {
		out = append(out, diag.ServerInfo{
			Name:     s.Name,
			Address:  s.Addr.String(),
			Priority: s.Priority,
		})
	}
	return out
}

func (d *diagSource) Counters() *stats.Counters {
	return d.resolver.Counters()
}
