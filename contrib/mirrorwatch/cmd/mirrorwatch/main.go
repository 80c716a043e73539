package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/hamptonsmith/local-mongodb-collection-mirror/contrib/mirrorwatch"
)

func main() {
	// Create config with defaults
	config := mirrorwatch.NewConfig()

	// Parse command-line flags into config
	flag.StringVar(&config.URI, "uri", config.URI, "MongoDB connection string")
	flag.StringVar(&config.Database, "database", "", "Database holding the collection (required)")
	flag.StringVar(&config.Collection, "collection", "", "Collection to mirror (required)")
	flag.StringVar(&config.Listen, "listen", config.Listen, "Address to serve websocket clients on")
	flag.StringVar(&config.Path, "path", config.Path, "HTTP path clients connect to")
	flag.BoolVar(&config.Verbose, "verbose", false, "Enable verbose logging")

	flag.Parse()

	// Validate configuration
	if err := config.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		flag.Usage()
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := mirrorwatch.Do(ctx, config); err != nil && err != context.Canceled {
		log.Fatal(err)
	}
}
