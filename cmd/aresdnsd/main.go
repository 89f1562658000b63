// Command aresdnsd is the background resolver daemon. It loads its
// configuration, starts the task engine and DNS driver, and serves lookups
// over a Unix domain socket until it receives SIGINT or SIGTERM.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aresdns/aresdns/internal/config"
	"github.com/aresdns/aresdns/internal/dnsdriver"
	"github.com/aresdns/aresdns/internal/engine"
	"github.com/aresdns/aresdns/internal/log"
	"github.com/aresdns/aresdns/pkg/api"
)

func main() {
	cfg, err := config.New().Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	eng := engine.New()
	eng.Run(ctx)

	resolver, err := dnsdriver.New(eng, dnsdriver.NewOptions(dnsdriver.Options{
		Servers:            cfg.Resolver.Servers,
		QueryTimeout:       cfg.Resolver.QueryTimeout,
		BackupPollInterval: cfg.Resolver.BackupPollInterval,
		Retries:            uint(cfg.Resolver.Retries),
		AttemptTimeout:     cfg.Resolver.AttemptTimeout,
		TraceDriver:        cfg.Trace.Driver,
	}))
	if err != nil {
		log.Fatalf("resolver init: %v", err)
	}

	apiSrv := api.New(resolver)
	sockPath := cfg.Socket.Path

	go func() {
		if err := apiSrv.ListenAndServe(sockPath); err != nil {
			log.Fatalf("api listen: %v", err)
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)

	<-sig
	log.Info("shutting down…")

	shutdownCtx, done := context.WithTimeout(ctx, 5*time.Second)
	defer done()

	if err := apiSrv.Shutdown(shutdownCtx); err != nil {
		log.Errorf("api shutdown error: %v", err)
	}
	resolver.Shutdown()
	cancel()
	eng.Close()
}
