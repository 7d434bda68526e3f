package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/indutny/naughtd/internal/config"
	"github.com/indutny/naughtd/internal/events"
	"github.com/indutny/naughtd/internal/node"
	"github.com/indutny/naughtd/internal/peerclient"
	"github.com/indutny/naughtd/internal/scheduler"
	"github.com/indutny/naughtd/internal/transport"
)

func main() {
	port := flag.Int("p", 0, "Listen port (default 0 = OS-assigned)")
	host := flag.String("h", "127.0.0.1", "Listen host")
	configPath := flag.String("c", "", "Path to config.json (required)")
	flag.Parse()

	if *configPath == "" {
		log.Fatalf("naughtd: -c <config.json> is required")
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("naughtd: loading config: %v", err)
	}

	// instanceID has no protocol meaning — it never appears on the
	// wire — it only disambiguates this process's log lines from other
	// naughtd instances sharing a log aggregator on the same host.
	instanceID := uuid.New().String()
	log.SetPrefix(fmt.Sprintf("[%s] ", instanceID[:8]))

	client := peerclient.New("", cfg.BearerToken())
	hub := events.NewHub()
	go hub.Run()

	n := node.New(cfg, client, hub)

	listener, err := net.Listen("tcp", fmt.Sprintf("%s:%d", *host, *port))
	if err != nil {
		log.Fatalf("naughtd: listen: %v", err)
	}
	selfURI := "http://" + listener.Addr().String()
	n.SetLocalAddr(selfURI)

	srv := &http.Server{
		Handler:      transport.New(n, hub, cfg),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		log.Printf("naughtd: listening on %s (uri %s)", listener.Addr(), selfURI)
		if err := srv.Serve(listener); err != nil && err != http.ErrServerClosed {
			log.Fatalf("naughtd: server failed: %v", err)
		}
	}()

	sched := scheduler.New(n, cfg)
	sched.Start(context.Background())

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	log.Println("naughtd: shutting down gracefully...")
	sched.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Printf("naughtd: server shutdown error: %v", err)
	}

	log.Println("naughtd: stopped")
}
