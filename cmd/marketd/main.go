package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/vorpalengineering/usdc-market/node"
)

func main() {
	// Parse command line flags
	configPath := flag.String("config", "cmd/marketd/config.yaml", "Path to config file")
	flag.Parse()

	// Load config
	cfg, err := node.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Create context that listens for shutdown signals
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Setup signal handling for graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		sig := <-sigChan
		log.Printf("Received signal: %v", sig)
		cancel()
	}()

	// Deploy contracts and start serving
	n, err := node.NewNode(cfg)
	if err != nil {
		log.Fatalf("Failed to create node: %v", err)
	}
	defer n.Close()

	if err := n.Run(ctx); err != nil {
		log.Fatalf("Failed to run node: %v", err)
	}
}
