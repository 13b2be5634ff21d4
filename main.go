package main

import (
	"context"
	"errors"
	"log"
	oshttp "net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"parley/internal/config"
	"parley/internal/content"
	"parley/internal/gateway"
	"parley/internal/http"
	"parley/internal/ratelimit"
	"parley/internal/registry"
	"parley/internal/storage"
	"parley/internal/ws"
)

func run(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	content.SetReservedWords(cfg.ReservedWords)

	store, err := storage.NewBboltStore(cfg.DBFile)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	reg := registry.New(cfg.Rooms, cfg.RoomCapacity)
	limiter := ratelimit.New(ratelimit.Config{
		MessageInterval: cfg.MessageInterval,
		MaxConnsPerIP:   cfg.MaxConnsPerIP,
		NameCheckLimit:  cfg.NameCheckLimit,
	})
	gw := gateway.New(reg, limiter, store)

	hub := ws.NewHub()
	apiServer := http.NewAPIServer(gw, hub, cfg.ListenAddr)

	g, gCtx := errgroup.WithContext(ctx)

	// Start API Server
	g.Go(func() error {
		err := apiServer.Start()
		if err != nil && err != oshttp.ErrServerClosed {
			return err
		}
		return nil
	})

	// Periodically drop rate-limiter state nobody touched in a while.
	g.Go(func() error {
		ticker := time.NewTicker(cfg.SweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-gCtx.Done():
				return nil
			case <-ticker.C:
				if n := limiter.Sweep(cfg.SweepMaxAge); n > 0 {
					log.Printf("Swept %d stale rate limiter entries", n)
				}
			}
		}
	})

	// Wait for context cancellation (signal)
	g.Go(func() error {
		<-gCtx.Done()
		log.Println("Shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := apiServer.Shutdown(shutdownCtx); err != nil {
			log.Printf("API server shutdown error: %v", err)
		}
		return nil
	})

	return g.Wait()
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatalf("Application error: %v", err)
	}
}
