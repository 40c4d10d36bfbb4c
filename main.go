package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	stdnet "net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"RoomBoard/internal/config"
	"RoomBoard/internal/metrics"
	"RoomBoard/internal/net"
	"RoomBoard/internal/state"
)

func main() {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		log.Fatal(err)
	}
	logger := config.NewLogger(cfg.Env, os.Stdout)

	// Cancel on SIGINT/SIGTERM
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	rooms := state.NewManager(state.SystemClock{}, cfg.HistoryLimit, logger)
	m := metrics.New()

	hub := net.NewHub(net.HubConfig{
		Rooms:         rooms,
		Metrics:       m,
		Logger:        logger,
		IdleThreshold: cfg.IdleThreshold,
		SweepInterval: cfg.SweepInterval,
	})
	go hub.Run(ctx)

	srv := &http.Server{
		Addr: cfg.Addr(),
		Handler: net.NewServer(net.ServerConfig{
			Hub:        hub,
			Rooms:      rooms,
			Metrics:    m,
			Logger:     logger,
			StaticDir:  cfg.StaticDir,
			CORSAllow:  cfg.CORSAllow,
			SendBuffer: cfg.SendBuffer,
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ip := net.OutgoingIP()
	if cfg.Advertise {
		mdnsServer, err := net.Advertise(cfg.Port, []stdnet.IP{ip})
		if err != nil {
			logger.Warn("mdns.advertise", "err", err)
		} else {
			defer func() { _ = mdnsServer.Shutdown() }()
			logger.Info("mdns.advertising", "service", net.ServiceType, "port", cfg.Port)
		}
	}

	go func() {
		logger.Info("server.listening", "addr", cfg.Addr(), "lan", fmt.Sprintf("http://%s:%d", ip, cfg.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server.crash", "err", err)
			cancel()
		}
	}()

	<-ctx.Done()
	logger.Info("server.shutdown.start")

	shutdownCtx, stop := context.WithTimeout(context.Background(), 10*time.Second)
	defer stop()
	_ = srv.Shutdown(shutdownCtx)

	logger.Info("server.shutdown.complete", "rooms", rooms.Len())
	_ = os.Stdout.Sync()
}
