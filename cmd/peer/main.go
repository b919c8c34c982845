// Command peer runs one participant of a collaborative session: it joins
// the broadcast fabric, synchronizes presence, chat, and counter state with
// every other peer, and exposes the combined view to a local UI over the
// WebSocket gateway plus Prometheus metrics over HTTP.
package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/caarlos0/env/v11"

	"github.com/collabsync/session/internal/gateway"
	"github.com/collabsync/session/internal/metrics"
	"github.com/collabsync/session/internal/session"
	"github.com/collabsync/session/internal/transport"
)

type config struct {
	NATSURL     string `env:"NATS_URL" envDefault:"nats://localhost:4222"`
	Namespace   string `env:"SESSION_NAMESPACE" envDefault:"collaborative-session"`
	GatewayAddr string `env:"GATEWAY_ADDR" envDefault:"127.0.0.1:8080"`
	MetricsAddr string `env:"METRICS_ADDR" envDefault:"127.0.0.1:9100"`

	HeartbeatInterval   time.Duration `env:"HEARTBEAT_INTERVAL" envDefault:"1s"`
	InactivityTimeout   time.Duration `env:"INACTIVITY_TIMEOUT" envDefault:"3s"`
	ChatCleanupInterval time.Duration `env:"CHAT_CLEANUP_INTERVAL" envDefault:"5s"`
}

func main() {
	var cfg config
	if err := env.Parse(&cfg); err != nil {
		log.Fatalf("parse env: %v", err)
	}

	natsConfig := transport.DefaultNATSConfig()
	natsConfig.URL = cfg.NATSURL
	natsConfig.Namespace = cfg.Namespace

	bus, err := transport.NewNATSBus(natsConfig)
	if err != nil {
		log.Fatalf("failed to connect to NATS: %v", err)
	}

	sessionConfig := session.DefaultConfig()
	sessionConfig.HeartbeatInterval = cfg.HeartbeatInterval
	sessionConfig.ChatCleanupInterval = cfg.ChatCleanupInterval
	sessionConfig.Presence.InactivityTimeout = cfg.InactivityTimeout

	subjects := session.Subjects{
		Users:   bus.Subject(transport.ChannelUsers),
		Chat:    bus.Subject(transport.ChannelChat),
		Counter: bus.Subject(transport.ChannelCounter),
	}

	log.Printf("collab session peer starting")
	log.Printf("  nats_url:       %s", cfg.NATSURL)
	log.Printf("  namespace:      %s", cfg.Namespace)
	log.Printf("  gateway_addr:   %s", cfg.GatewayAddr)
	log.Printf("  metrics_addr:   %s", cfg.MetricsAddr)
	log.Printf("  heartbeat:      %s", cfg.HeartbeatInterval)
	log.Printf("  inactivity:     %s", cfg.InactivityTimeout)

	sess := session.New(bus, subjects, sessionConfig)
	if err := sess.Start(context.Background()); err != nil {
		log.Fatalf("failed to start session: %v", err)
	}

	gatewayConfig := gateway.DefaultServerConfig()
	gatewayConfig.ListenAddr = cfg.GatewayAddr
	gw := gateway.NewServer(gatewayConfig, sess)

	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler())
		if err := http.ListenAndServe(cfg.MetricsAddr, mux); err != nil {
			log.Printf("metrics server error: %v", err)
		}
	}()

	// Graceful shutdown.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		log.Printf("received signal %v, initiating graceful shutdown...", sig)
		sess.Close()
		bus.Close()
		if err := gw.Shutdown(); err != nil {
			log.Printf("gateway shutdown error: %v", err)
		}
		os.Exit(0)
	}()

	if err := gw.Start(); err != nil {
		log.Fatalf("gateway error: %v", err)
	}
}
